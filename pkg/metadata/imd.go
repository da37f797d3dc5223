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

package metadata

import (
	"fmt"
	"io"
	"strings"
)

const (
	BeginGroup = "BEGIN_GROUP"
	EndGroup   = "END_GROUP"
)

// Entry is one line of a grouped property document.
type Entry struct {
	Key   string
	Value any
}

// Begin and End build group delimiters.
func Begin(name string) Entry { return Entry{Key: BeginGroup, Value: name} }
func End(name string) Entry   { return Entry{Key: EndGroup, Value: name} }

// Quoted wraps s in double quotes, the way string values are written.
func Quoted(s string) string { return `"` + s + `"` }

// ParseGrouped reads a grouped property list into a flat map. Keys inside
// groups are prefixed with the enclosing group names joined by "_", so
// STRIP_DEM { REGISTRATION { registrationDX } } becomes
// STRIP_DEM_REGISTRATION_registrationDX.
func ParseGrouped(r io.Reader, file string) (map[string]string, error) {
	out := make(map[string]string)
	var prefix []string
	err := scanLines(r, func(n int, l string) error {
		if !strings.Contains(l, " = ") {
			return nil
		}
		l = strings.Trim(l, ";")
		k, v, ok := splitOnce(l, " = ")
		if !ok {
			return &ParseError{File: file, Line: n, Text: l, Reason: `cannot split line on " = "`}
		}
		v = strings.Trim(v, `"`)
		switch k {
		case BeginGroup:
			prefix = append(prefix, v)
		case EndGroup:
			if len(prefix) == 0 {
				return &ParseError{File: file, Line: n, Text: l, Reason: "unbalanced END_GROUP"}
			}
			prefix = prefix[:len(prefix)-1]
		default:
			out[strings.Join(append(append([]string{}, prefix...), k), "_")] = v
		}
		return nil
	})
	return out, err
}

// ReadGrouped opens path and parses it with ParseGrouped.
func ReadGrouped(path string) (map[string]string, error) {
	return withFile(path, ParseGrouped)
}

// FormatIMD renders entries as a grouped property document. Group
// delimiters are indented at the enclosing level, scalar lines end in ";"
// and the document ends with "END;".
func FormatIMD(entries []Entry) string {
	var b strings.Builder
	depth := 0
	for _, e := range entries {
		indent, eol := depth, ";\n"
		switch e.Key {
		case BeginGroup:
			indent, eol = depth, "\n"
			depth++
		case EndGroup:
			depth--
			indent, eol = depth, "\n"
		}
		if indent < 0 {
			indent = 0
		}
		fmt.Fprintf(&b, "%s%s = %s%s", strings.Repeat("\t", indent), e.Key, formatValue(e.Value), eol)
	}
	b.WriteString("END;")
	return b.String()
}

// WriteIMD writes FormatIMD(entries) to w.
func WriteIMD(w io.Writer, entries []Entry) error {
	_, err := io.WriteString(w, FormatIMD(entries))
	return err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case *float64:
		if x == nil {
			return "None"
		}
		return formatFloat(*x)
	case *int:
		if x == nil {
			return "None"
		}
		return fmt.Sprint(*x)
	default:
		return fmt.Sprint(x)
	}
}
