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

// Package metadata parses the sidecar text files written next to SETSM
// rasters.
//
// Four grammars are supported:
//
//   - scene meta files (key=value)
//   - strip meta files (key: value header followed by per-scene key=value
//     blocks and an alignment stats table)
//   - grouped property lists (BEGIN_GROUP / END_GROUP, the MDF and readme
//     format), which can also be written with [FormatIMD]
//   - registration files and tile meta/reg files
//
// Parsers never stop at a malformed line. They return everything they could
// read together with a joined error of *ParseError values; the caller decides
// whether a partial result is usable.
package metadata

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseError reports a sidecar line that could not be split on its
// expected delimiter. It is the metadata parse error of the record error
// taxonomy; match it with errors.As and a *ParseError target.
type ParseError struct {
	File   string
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %q", e.File, e.Line, e.Reason, e.Text)
}

// lineFunc handles one trimmed, non-empty line.
type lineFunc func(n int, l string) error

// scanLines feeds every non-empty trimmed line of r to fn and joins the
// returned errors.
func scanLines(r io.Reader, fn lineFunc) error {
	var errs []error
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		l := strings.TrimSpace(sc.Text())
		if l == "" {
			continue
		}
		if err := fn(n, l); err != nil {
			errs = append(errs, err)
		}
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withFile opens path and passes it to parse.
func withFile[T any](path string, parse func(io.Reader, string) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer func() { _ = f.Close() }()
	return parse(f, path)
}

// splitOnce splits l on sep and reports whether sep occurs exactly once.
func splitOnce(l, sep string) (string, string, bool) {
	if strings.Count(l, sep) != 1 {
		return "", "", false
	}
	k, v, _ := strings.Cut(l, sep)
	return k, v, true
}
