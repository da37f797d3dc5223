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

import (
	"encoding/json"
	"fmt"
	"os"
)

// Region is the region a stereo pair belongs to.
type Region struct {
	Region string
	// BPRegion is the archive region, empty when the lookup holds only
	// the region.
	BPRegion string
}

// UnmarshalJSON accepts "region" or ["region", "bp_region"].
func (r *Region) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = Region{Region: s}
		return nil
	}
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("region must be a string or a [region, bp_region] pair, got %s", data)
	}
	*r = Region{Region: pair[0], BPRegion: pair[1]}
	return nil
}

// Regions maps pairnames to regions.
type Regions map[string]Region

// Lookup returns the region of pairname. A nil Regions finds nothing.
func (r Regions) Lookup(pairname string) (Region, bool) {
	reg, ok := r[pairname]
	return reg, ok
}

// LoadRegions reads a pairname to region lookup from a JSON object.
func LoadRegions(path string) (Regions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region lookup: %w", err)
	}
	var r Regions
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse region lookup %s: %w", path, err)
	}
	return r, nil
}
