// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/kraklabs/demindex/pkg/dem"
)

var s2sSuffix = regexp.MustCompile(`_s2s\d{3}$`)

// Groups holds records by group id in insertion order.
type Groups struct {
	order []string
	items map[string][]dem.Record
}

// GroupRecords groups records by their GroupID.
func GroupRecords(records []dem.Record) *Groups {
	g := &Groups{items: make(map[string][]dem.Record)}
	for _, r := range records {
		g.Add(r)
	}
	return g
}

// Add appends r to its group.
func (g *Groups) Add(r dem.Record) {
	if g.items == nil {
		g.items = make(map[string][]dem.Record)
	}
	id := r.GroupID()
	if _, ok := g.items[id]; !ok {
		g.order = append(g.order, id)
	}
	g.items[id] = append(g.items[id], r)
}

// IDs returns the group ids in the order they were first seen.
func (g *Groups) IDs() []string { return g.order }

// Records returns the records of group id.
func (g *Groups) Records(id string) []dem.Record { return g.items[id] }

// Len is the number of records across all groups.
func (g *Groups) Len() int {
	n := 0
	for _, rs := range g.items {
		n += len(rs)
	}
	return n
}

// All returns every record, group by group.
func (g *Groups) All() []dem.Record {
	out := make([]dem.Record, 0, g.Len())
	for _, id := range g.order {
		out = append(out, g.items[id]...)
	}
	return out
}

// JSONOptions configures WriteJSON.
type JSONOptions struct {
	Mode Mode
	// Project prefixes tile group files, as in arcticdem_<group>.json.
	Project   string
	Overwrite bool
	DryRun    bool
	Logger    *slog.Logger
}

// JSONResult counts the group files of a WriteJSON call.
type JSONResult struct {
	Files   int
	Records int
	// Existing counts files kept because overwrite was not set.
	Existing int
}

// GroupFileName is the name of the JSON file holding group id. A trailing
// _s2sNNN is dropped from strip and scene groups so the file is named
// after the strip directory.
func GroupFileName(m Mode, project, id string) string {
	if m == ModeTile {
		return project + "_" + id + ".json"
	}
	return s2sSuffix.ReplaceAllString(id, "") + ".json"
}

// WriteJSON writes each group to dir as an object mapping record ids to
// serialized records. Existing files are kept unless opts.Overwrite is set.
func WriteJSON(dir string, groups *Groups, opts JSONOptions) (JSONResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var res JSONResult
	for _, id := range groups.IDs() {
		path := filepath.Join(dir, GroupFileName(opts.Mode, opts.Project, id))
		if _, err := os.Stat(path); err == nil && !opts.Overwrite {
			res.Existing++
			logger.Info("index.json.exists", "path", path, "hint", "use overwrite to replace it")
			continue
		}

		records := groups.Records(id)
		md := make(map[string]dem.Record, len(records))
		for _, r := range records {
			md[r.Key()] = r
		}
		data, err := json.Marshal(md)
		if err != nil {
			return res, fmt.Errorf("encode group %s: %w", id, err)
		}
		if opts.DryRun {
			res.Files++
			res.Records += len(records)
			continue
		}
		if err := writeFileAtomic(path, data); err != nil {
			return res, fmt.Errorf("write group %s: %w", id, err)
		}
		res.Files++
		res.Records += len(records)
		logger.Debug("index.json.written", "path", path, "records", len(records))
	}
	return res, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".demindex-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// RecordError reports a serialized record that could not be rebuilt.
type RecordError struct {
	Path string
	Key  string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: record %s: %v", e.Path, e.Key, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ReadJSON rebuilds the records of a group file. Records that fail to
// rebuild are returned as *RecordError and do not stop the others.
func ReadJSON(env dem.Env, m Mode, path string) ([]dem.Record, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{err}
	}
	var md map[string]json.RawMessage
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, []error{fmt.Errorf("cannot decode json in %s: %w", path, err)}
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		records []dem.Record
		errs    []error
	)
	for _, k := range keys {
		rec, err := dem.Rebuild(env, string(m), md[k])
		if err != nil {
			errs = append(errs, &RecordError{Path: path, Key: k, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}
