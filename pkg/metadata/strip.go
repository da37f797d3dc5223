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
	"path/filepath"
	"regexp"
	"strings"
)

// Well-known keys of the strip meta header and scene blocks.
const (
	KeyStripX           = "X"
	KeyStripY           = "Y"
	KeyStripProj4       = "Strip projection (proj4)"
	KeyStripCreation    = "Strip creation date"
	KeyDensity          = "Output Data Density"
	KeyMinElev          = "Minimum elevation value"
	KeyMaxElev          = "Maximum elevation value"
	KeySceneName        = "scene_name"
	KeySceneSETSM       = "SETSM Version"
	KeySceneCreation    = "Creation Date"
	KeySceneOutputProj  = "Output Projection"
	sceneMetadataMarker = "Scene Metadata"
)

var stripVersionPattern = regexp.MustCompile(`^Strip Metadata \(v([\d.]+)\)`)

// StripMeta is a parsed strip meta file.
type StripMeta struct {
	// Header holds the key: value lines before the Scene Metadata marker.
	Header map[string]string
	// Scenes holds one map per "scene N" block, in file order.
	Scenes []map[string]string
	// Alignment maps a scene id (file name without extension) to the
	// whitespace separated values that followed it:
	// rmse dz dx dy [dz_err dx_err dy_err].
	Alignment map[string][]string
	// S2SVersion is the scenes2strips version from the title line, or "".
	S2SVersion string
}

// ParseStripMeta reads a strip meta file.
func ParseStripMeta(r io.Reader, file string) (*StripMeta, error) {
	m := &StripMeta{
		Header:    make(map[string]string),
		Alignment: make(map[string][]string),
	}
	inHeader := true
	var scene map[string]string

	err := scanLines(r, func(n int, l string) error {
		if l == sceneMetadataMarker {
			inHeader = false
			return nil
		}
		if inHeader {
			if sm := stripVersionPattern.FindStringSubmatch(l); sm != nil {
				m.S2SVersion = sm[1]
				return nil
			}
			switch {
			case strings.Contains(l, ": "):
				k, v, ok := splitOnce(l, ": ")
				if !ok {
					return &ParseError{File: file, Line: n, Text: l, Reason: `cannot split line on ": "`}
				}
				m.Header[strings.TrimSpace(k)] = strings.TrimSpace(v)
			case strings.Contains(l, ".tif "):
				fields := strings.Fields(l)
				m.Alignment[trimExt(fields[0])] = fields[1:]
			}
			return nil
		}

		if strings.HasPrefix(l, "scene ") {
			scene = make(map[string]string)
			m.Scenes = append(m.Scenes, scene)
		}
		if scene == nil || !strings.Contains(l, "=") {
			return nil
		}
		if strings.HasPrefix(l, KeySceneOutputProj+"=") {
			_, v, _ := strings.Cut(l, "=")
			scene[KeySceneOutputProj] = strings.TrimSpace(v)
			return nil
		}
		k, v, ok := splitOnce(l, "=")
		if !ok {
			return &ParseError{File: file, Line: n, Text: l, Reason: `cannot split line on "="`}
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if strings.HasPrefix(k, "scene ") {
			scene[KeySceneName] = trimExt(v)
		} else {
			scene[k] = v
		}
		return nil
	})
	return m, err
}

// ReadStripMeta opens path and parses it with ParseStripMeta.
func ReadStripMeta(path string) (*StripMeta, error) {
	return withFile(path, ParseStripMeta)
}

// SceneValue returns the first value of any of keys found in the scene maps,
// in scene order.
func (m *StripMeta) SceneValue(keys ...string) (string, bool) {
	for _, s := range m.Scenes {
		for _, k := range keys {
			if v, ok := s[k]; ok {
				return v, true
			}
		}
	}
	return "", false
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
