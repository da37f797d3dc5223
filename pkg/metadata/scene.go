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
	"io"
	"strings"
)

// ParseSceneMeta reads a scene meta file. Keys are lowercased with spaces
// replaced by underscores; the Output Projection line is split at its first
// "=" because the proj4 string itself contains "=".
func ParseSceneMeta(r io.Reader, file string) (map[string]string, error) {
	metad := make(map[string]string)
	err := scanLines(r, func(n int, l string) error {
		if !strings.Contains(l, "=") {
			return nil
		}
		if strings.HasPrefix(l, "Output Projection") {
			_, v, _ := strings.Cut(l, "=")
			metad["output_projection"] = strings.TrimSpace(v)
			return nil
		}
		k, v, ok := splitOnce(l, "=")
		if !ok {
			return &ParseError{File: file, Line: n, Text: l, Reason: `cannot split line on "="`}
		}
		k = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(k), " ", "_"))
		metad[k] = strings.TrimSpace(v)
		return nil
	})
	return metad, err
}

// ReadSceneMeta opens path and parses it with ParseSceneMeta.
func ReadSceneMeta(path string) (map[string]string, error) {
	return withFile(path, ParseSceneMeta)
}
