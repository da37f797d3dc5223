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

package dem

import "fmt"

// Record is a scene, strip or tile.
type Record interface {
	// Kind is KindScene, KindStrip or KindTile.
	Kind() string
	// Location is the path the record was built from.
	Location() string
	// GroupID is the id records are grouped by when written as JSON.
	GroupID() string
	// Key is the id a record is serialized under.
	Key() string
	ReadDEMInfo() error
}

var (
	_ Record = (*Scene)(nil)
	_ Record = (*Strip)(nil)
	_ Record = (*Tile)(nil)
)

func (s *Scene) Kind() string     { return KindScene }
func (s *Scene) Location() string { return s.SrcFP }
func (s *Scene) GroupID() string  { return s.StripDEMID }
func (s *Scene) Key() string      { return s.ID }

func (s *Strip) Kind() string     { return KindStrip }
func (s *Strip) Location() string { return s.SrcFP }
func (s *Strip) GroupID() string  { return s.StripDirName }
func (s *Strip) Key() string      { return s.ID }

func (t *Tile) Kind() string     { return KindTile }
func (t *Tile) Location() string { return t.SrcFP }
func (t *Tile) GroupID() string  { return t.SupertileID }
func (t *Tile) Key() string      { return t.ID }

// New builds a record of the given kind from the path of its primary
// file.
func New(env Env, kind, path string) (Record, error) {
	var (
		rec Record
		err error
	)
	switch kind {
	case KindScene:
		rec, err = NewScene(env, path)
	case KindStrip:
		rec, err = NewStrip(env, path)
	case KindTile:
		rec, err = NewTile(env, path)
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Rebuild decodes a serialized record of the given kind.
func Rebuild(env Env, kind string, data []byte) (Record, error) {
	var (
		rec Record
		err error
	)
	switch kind {
	case KindScene:
		rec, err = RebuildScene(env, data)
	case KindStrip:
		rec, err = RebuildStrip(env, data)
	case KindTile:
		rec, err = RebuildTile(env, data)
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
