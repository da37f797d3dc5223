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

import (
	"fmt"
	"strings"
)

// Record kinds.
const (
	KindScene = "scene"
	KindStrip = "strip"
	KindTile  = "tile"
)

// MissingCompanionFileError reports a product whose required companion
// files are not all present.
type MissingCompanionFileError struct {
	Kind    string
	ID      string
	Missing []string
}

func (e *MissingCompanionFileError) Error() string {
	return fmt.Sprintf("%s %s is part of an incomplete set, missing %s", e.Kind, e.ID, strings.Join(e.Missing, ", "))
}

// MissingFieldsError reports the required keys absent from a serialized
// record.
type MissingFieldsError struct {
	Kind   string
	ID     string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	id := e.ID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("%s object %s is missing key attributes: %s", e.Kind, id, strings.Join(e.Fields, ", "))
}

// MissingMetadataKeyError reports a sidecar lacking a key the record
// cannot do without.
type MissingMetadataKeyError struct {
	Path string
	Key  string
}

func (e *MissingMetadataKeyError) Error() string {
	return fmt.Sprintf("key %q not found in %s", e.Key, e.Path)
}
