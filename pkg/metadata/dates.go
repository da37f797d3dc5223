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
	"time"
)

// creationDateRule is one historical creation-date grammar, selected by the
// length of the raw string.
type creationDateRule struct {
	maxLen int
	parse  func(s string) (time.Time, error)
}

// creationDateRules is ordered by maxLen; the last rule has no limit.
var creationDateRules = []creationDateRule{
	// Thu Jan 28 11:09:10 2016
	{maxLen: 24, parse: func(s string) (time.Time, error) {
		return time.Parse(time.ANSIC, s)
	}},
	// 2016-01-11 11:49:50.0 -0500
	{maxLen: 32, parse: func(s string) (time.Time, error) {
		return time.Parse(DateTime, s[:len(s)-6])
	}},
	// 2016-01-11 11:49:50.835182735 -0500
	{maxLen: -1, parse: func(s string) (time.Time, error) {
		return time.Parse(DateTime, s[:26])
	}},
}

// ParseCreationDate parses a scene creation date. Strings of two characters
// or fewer carry no date and yield ok == false with a nil error. Timezone
// offsets present in the longer forms are dropped.
func ParseCreationDate(s string) (t time.Time, ok bool, err error) {
	if len(s) <= 2 {
		return time.Time{}, false, nil
	}
	for _, r := range creationDateRules {
		if r.maxLen < 0 || len(s) <= r.maxLen {
			t, err = r.parse(s)
			if err != nil {
				return time.Time{}, false, fmt.Errorf("parse creation date %q: %w", s, err)
			}
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("parse creation date %q: no matching layout", s)
}

// FormatCreationDate parses s with ParseCreationDate and renders it as
// ISOTime. Empty creation dates render as "".
func FormatCreationDate(s string) (string, error) {
	t, ok, err := ParseCreationDate(s)
	if err != nil || !ok {
		return "", err
	}
	return t.Format(ISOTime), nil
}
