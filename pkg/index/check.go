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
	"context"
	"fmt"
	"strconv"
	"strings"
)

// recordIDFields are the fields joined into the id of a record, per mode.
var recordIDFields = map[Mode][]string{
	ModeScene: {"SCENEDEMID", "STRIPDEMID", "IS_DSP", "LOCATION", "INDEX_DATE"},
	ModeStrip: {"DEM_ID", "STRIPDEMID", "LOCATION", "INDEX_DATE"},
	ModeTile:  {"DEM_ID", "TILE", "LOCATION", "INDEX_DATE"},
}

// releaseRecordIDFields identify the records of release indexes, which
// hold no LOCATION or INDEX_DATE.
var releaseRecordIDFields = map[Mode][]string{
	ModeStrip: {"DEM_ID", "STRIPDEMID", "CR_DATE"},
	ModeTile:  {"DEM_ID", "TILE", "CR_DATE"},
}

// recordID joins the id fields of the layer attributes attrs with "|".
// Field names follow opts and are matched case-insensitively.
func recordID(m Mode, opts SchemaOptions, attrs map[string]any) string {
	names := recordIDFields[m]
	if r, ok := releaseRecordIDFields[m]; ok && opts.Release {
		names = r
	}
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = idValue(name, lookup(attrs, opts.FieldName(name)))
	}
	return strings.Join(parts, "|")
}

func lookup(attrs map[string]any, name string) any {
	if v, ok := attrs[name]; ok {
		return v
	}
	for k, v := range attrs {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// idValue renders v the same way whether it was just built or read back
// from a layer. Some formats return dates as YYYY/MM/DD and booleans as
// integers.
func idValue(name string, v any) string {
	if v == nil {
		return ""
	}
	switch strings.ToUpper(name) {
	case "INDEX_DATE":
		if s, ok := v.(string); ok {
			return strings.ReplaceAll(s, "/", "-")
		}
	case "IS_DSP":
		switch x := v.(type) {
		case bool:
			return strconv.FormatBool(x)
		case int64:
			return strconv.FormatBool(x != 0)
		case int:
			return strconv.FormatBool(x != 0)
		case float64:
			return strconv.FormatBool(x != 0)
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return strconv.FormatBool(b)
			}
		}
	}
	return fmt.Sprint(v)
}

// Check re-reads the layer and returns the ids of written records it does
// not hold. Each missing record is logged.
func (b *Builder) Check(ctx context.Context) ([]string, error) {
	if b.layer == nil {
		return nil, fmt.Errorf("check layer %s: layer is not open", b.layerName)
	}
	b.logger.Info("index.check.start", "layer", b.layerName, "records", len(b.result.RecordIDs))
	features, err := b.layer.Features(ctx)
	if err != nil {
		return nil, fmt.Errorf("check layer %s: %w", b.layerName, err)
	}
	existing := make(map[string]struct{}, len(features))
	var example string
	for _, f := range features {
		id := recordID(b.opts.Mode, b.opts.Schema, f.Attrs)
		if example == "" {
			example = id
		}
		existing[id] = struct{}{}
	}

	var missing []string
	for _, id := range b.result.RecordIDs {
		if _, ok := existing[id]; ok {
			continue
		}
		if len(missing) == 0 && example != "" {
			b.logger.Error("index.check.example", "existing", example)
		}
		missing = append(missing, id)
		b.logger.Error("index.check.missing", "record", id)
	}
	if len(missing) > 1 && example != "" {
		b.logger.Error("index.check.example", "existing", example)
	}
	if len(missing) == 0 {
		b.logger.Info("index.check.ok", "records", len(b.result.RecordIDs))
	}
	return missing, nil
}
