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
	"strings"

	"github.com/kraklabs/demindex/pkg/metadata"
)

// Registration sources.
const (
	RegICESat    = "ICESat"
	RegNGA       = "NGA"
	RegIceBridge = "IceBridge"
	RegUnknown   = "Unknown"
)

// RegInfo is one registration of a strip against control data.
type RegInfo struct {
	DX         float64 `json:"dx"`
	DY         float64 `json:"dy"`
	DZ         float64 `json:"dz"`
	NumGCPs    int     `json:"num_gcps"`
	MeanResidZ float64 `json:"mean_resid_z"`
	// Src is the registration file, empty when read from an MDF.
	Src  string `json:"src"`
	Name string `json:"name"`
}

// NewRegInfo builds a RegInfo from a parsed registration file. An empty
// name is derived from the file suffix.
func NewRegInfo(reg *metadata.Registration, src, name string) RegInfo {
	if name == "" {
		name = regSourceName(src)
	}
	return RegInfo{
		DX:         reg.DX,
		DY:         reg.DY,
		DZ:         reg.DZ,
		NumGCPs:    reg.NumGCPs,
		MeanResidZ: reg.MeanResidZ,
		Src:        src,
		Name:       name,
	}
}

func regSourceName(src string) string {
	switch {
	case strings.HasSuffix(src, "oibreg.txt"):
		return RegIceBridge
	case strings.HasSuffix(src, "ngareg.txt"):
		return RegNGA
	case strings.HasSuffix(src, "reg.txt"):
		return RegICESat
	}
	return RegUnknown
}
