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
	"math"
	"strconv"
	"strings"
	"time"
)

// Time layouts used across the sidecar formats.
const (
	// ISOTime is the microsecond UTC layout written to MDF files.
	ISOTime = "2006-01-02T15:04:05.000000Z"
	// isoTimeParse accepts ISOTime with any number of fractional digits.
	isoTimeParse = "2006-01-02T15:04:05Z"
	// MatlabTime is the datestr layout of strip and tile meta headers.
	MatlabTime = "02-Jan-2006 15:04:05"
	DateOnly   = "2006-01-02"
	DateTime   = "2006-01-02 15:04:05"
)

// ParseISOTime parses an ISOTime value; the fractional part is optional.
func ParseISOTime(s string) (time.Time, error) {
	return time.Parse(isoTimeParse, strings.TrimSpace(s))
}

// FormatFloat renders f the way the sidecar files have always carried
// floats: shortest round-trip digits, a trailing ".0" for integral values and
// exponent notation for very small or large magnitudes.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	var s string
	if abs >= 1e16 || (abs != 0 && abs < 1e-4) {
		s = strconv.FormatFloat(f, 'e', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func formatFloat(f float64) string { return FormatFloat(f) }

// ParseOptionalFloat parses s as a float. "None", "nan" and "" yield nil.
func ParseOptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "nan":
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FormatOptionalFloat is the inverse of ParseOptionalFloat.
func FormatOptionalFloat(f *float64) string {
	if f == nil {
		return "None"
	}
	return FormatFloat(*f)
}
