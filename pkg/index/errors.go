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

import "fmt"

// SinkStateError reports a destination that cannot be written in the
// requested mode. Nothing has been written when it is returned.
type SinkStateError struct {
	Layer  string
	Reason string
}

func (e *SinkStateError) Error() string {
	return fmt.Sprintf("layer %s: %s", e.Layer, e.Reason)
}

// SchemaViolationError reports a feature whose attributes do not fit the
// target layer. Only that feature is skipped.
type SchemaViolationError struct {
	Record string
	Field  string
	Value  any
	// Width is the field width, 0 when the field is missing.
	Width int
}

func (e *SchemaViolationError) Error() string {
	if e.Width == 0 {
		return fmt.Sprintf("record %s: field %s is not in target layer", e.Record, e.Field)
	}
	return fmt.Sprintf("record %s: value %v is too long for field %s (width=%d)", e.Record, e.Value, e.Field, e.Width)
}

// IncompleteError reports a run that wrote no valid record or whose
// records were not all found by the check pass.
type IncompleteError struct {
	Written int
	Missing int
}

func (e *IncompleteError) Error() string {
	if e.Written == 0 {
		return "no valid records found"
	}
	return fmt.Sprintf("%d of %d new records not found in target layer", e.Missing, e.Written)
}
