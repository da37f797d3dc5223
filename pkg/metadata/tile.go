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
	"strconv"
	"strings"
)

// Tile meta and registration keys.
const (
	KeyTileCreation = "Creation Date"
	KeyTileRegName  = "Registration Dataset 1 Name"
)

// TileMeta is a parsed tile meta file, optionally merged with its _reg.txt.
type TileMeta struct {
	Header map[string]string
	// Alignment maps a component strip id to its alignment values.
	Alignment map[string][]string
	// MeanResidZ and NumGCPs collect every "Mean Vertical Residual" and
	// "# GCPs" line of the registration file.
	MeanResidZ []float64
	NumGCPs    []float64
}

// ParseTileMeta reads a tile meta file.
func ParseTileMeta(r io.Reader, file string) (*TileMeta, error) {
	m := &TileMeta{
		Header:    make(map[string]string),
		Alignment: make(map[string][]string),
	}
	err := scanLines(r, func(n int, l string) error {
		switch {
		case strings.Contains(l, ": "):
			k, v, ok := splitOnce(l, ": ")
			if !ok {
				return &ParseError{File: file, Line: n, Text: l, Reason: `cannot split line on ": "`}
			}
			m.Header[strings.TrimSpace(k)] = strings.TrimSpace(v)
		case strings.Contains(l, "seg"):
			fields := strings.Fields(l)
			m.Alignment[trimExt(fields[0])] = fields[1:]
		}
		return nil
	})
	return m, err
}

// ReadTileMeta opens path and parses it with ParseTileMeta.
func ReadTileMeta(path string) (*TileMeta, error) {
	return withFile(path, ParseTileMeta)
}

// MergeReg adds the lines of a tile registration file to m. Empty values
// are ignored.
func (m *TileMeta) MergeReg(r io.Reader, file string) error {
	return scanLines(r, func(n int, l string) error {
		switch {
		case strings.Contains(l, ": "):
			k, v, ok := splitOnce(l, ": ")
			if !ok {
				return &ParseError{File: file, Line: n, Text: l, Reason: `cannot split line on ": "`}
			}
			if v = strings.TrimSpace(v); v != "" {
				m.Header[strings.TrimSpace(k)] = v
			}
		case strings.HasPrefix(l, labelMeanResid), strings.HasPrefix(l, labelNumGCPs):
			k, v, ok := splitOnce(l, "=")
			if !ok {
				return &ParseError{File: file, Line: n, Text: l, Reason: `cannot split line on "="`}
			}
			v = strings.TrimSpace(v)
			if v == "" {
				return nil
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return &ParseError{File: file, Line: n, Text: l, Reason: "invalid number"}
			}
			if strings.HasPrefix(k, labelMeanResid) {
				m.MeanResidZ = append(m.MeanResidZ, f)
			} else {
				m.NumGCPs = append(m.NumGCPs, f)
			}
		}
		return nil
	})
}

// MergeRegFile opens path and merges it with MergeReg.
func (m *TileMeta) MergeRegFile(path string) error {
	_, err := withFile(path, func(r io.Reader, file string) (struct{}, error) {
		return struct{}{}, m.MergeReg(r, file)
	})
	return err
}
