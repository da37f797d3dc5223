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

// Package proj describes the spatial reference systems SETSM products are
// delivered in and converts coordinates between them.
//
// Only WGS84 based systems are supported: geographic coordinates (EPSG:4326),
// the 120 UTM zones (EPSG:32601-32660, 32701-32760) and the two polar
// stereographic grids (EPSG:3413, EPSG:3031). Each SRS maps onto a
// github.com/wroge/wgs84 reference system; the projections plugged into it
// use the ellipsoidal formulas from Snyder, "Map Projections: A Working
// Manual" (USGS PP 1395).
package proj

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the projection family of an SRS.
type Kind int

const (
	Geographic Kind = iota
	UTM
	PolarStereographic
)

func (k Kind) String() string {
	switch k {
	case Geographic:
		return "geographic"
	case UTM:
		return "utm"
	case PolarStereographic:
		return "polar-stereographic"
	}
	return "unknown"
}

// EPSG codes with a fixed meaning.
const (
	EPSGWGS84      = 4326
	EPSGNSIDCNorth = 3413
	EPSGAntarctic  = 3031
)

// SRS is a WGS84 based spatial reference system.
type SRS struct {
	Kind Kind
	// Zone and South describe UTM systems.
	Zone  int
	South bool
	// LatTS and Lon0 describe polar stereographic systems. The pole is taken
	// from the sign of LatTS.
	LatTS float64
	Lon0  float64

	epsg int
}

// Whitelist returns the EPSG codes a product raster may be delivered in, in
// match order.
func Whitelist() []int {
	codes := []int{EPSGNSIDCNorth, EPSGAntarctic}
	for z := 1; z <= 60; z++ {
		codes = append(codes, 32600+z)
	}
	for z := 1; z <= 60; z++ {
		codes = append(codes, 32700+z)
	}
	return codes
}

// FromEPSG builds the SRS for a supported EPSG code.
func FromEPSG(code int) (*SRS, error) {
	switch {
	case code == EPSGWGS84:
		return &SRS{Kind: Geographic, epsg: code}, nil
	case code == EPSGNSIDCNorth:
		return &SRS{Kind: PolarStereographic, LatTS: 70, Lon0: -45, epsg: code}, nil
	case code == EPSGAntarctic:
		return &SRS{Kind: PolarStereographic, LatTS: -71, Lon0: 0, epsg: code}, nil
	case code > 32600 && code <= 32660:
		return &SRS{Kind: UTM, Zone: code - 32600, epsg: code}, nil
	case code > 32700 && code <= 32760:
		return &SRS{Kind: UTM, Zone: code - 32700, South: true, epsg: code}, nil
	}
	return nil, fmt.Errorf("unsupported EPSG code %d", code)
}

// MustEPSG is FromEPSG for codes known to be supported.
func MustEPSG(code int) *SRS {
	s, err := FromEPSG(code)
	if err != nil {
		panic(err)
	}
	return s
}

// NewPolarStereographic builds a polar stereographic SRS from its standard
// parallel and central meridian. The EPSG code is resolved when the
// parameters match a known grid.
func NewPolarStereographic(latTS, lon0 float64) *SRS {
	s := &SRS{Kind: PolarStereographic, LatTS: latTS, Lon0: lon0}
	s.epsg = s.lookupEPSG()
	return s
}

// NewUTM builds a UTM SRS.
func NewUTM(zone int, south bool) (*SRS, error) {
	if zone < 1 || zone > 60 {
		return nil, fmt.Errorf("invalid UTM zone %d", zone)
	}
	s := &SRS{Kind: UTM, Zone: zone, South: south}
	s.epsg = s.lookupEPSG()
	return s, nil
}

func (s *SRS) lookupEPSG() int {
	switch s.Kind {
	case Geographic:
		return EPSGWGS84
	case UTM:
		if s.South {
			return 32700 + s.Zone
		}
		return 32600 + s.Zone
	case PolarStereographic:
		for _, code := range []int{EPSGNSIDCNorth, EPSGAntarctic} {
			if MustEPSG(code).Equal(s) {
				return code
			}
		}
	}
	return 0
}

// EPSG returns the EPSG code of s, or 0 for a custom polar stereographic
// system.
func (s *SRS) EPSG() int { return s.epsg }

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (s *SRS) IsGeographic() bool { return s.Kind == Geographic }

// Equal compares projection parameters.
func (s *SRS) Equal(o *SRS) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case UTM:
		return s.Zone == o.Zone && s.South == o.South
	case PolarStereographic:
		return math.Abs(s.LatTS-o.LatTS) < 1e-9 && math.Abs(s.Lon0-o.Lon0) < 1e-9
	}
	return true
}

// MatchWhitelist compares s against every whitelisted code and returns the
// first that is equal.
func MatchWhitelist(s *SRS) (int, bool) {
	for _, code := range Whitelist() {
		if MustEPSG(code).Equal(s) {
			return code, true
		}
	}
	return 0, false
}

// Proj4 renders s as a proj4 definition.
func (s *SRS) Proj4() string {
	switch s.Kind {
	case UTM:
		south := ""
		if s.South {
			south = " +south"
		}
		return fmt.Sprintf("+proj=utm +zone=%d%s +datum=WGS84 +units=m +no_defs", s.Zone, south)
	case PolarStereographic:
		return fmt.Sprintf("+proj=stere +lat_0=%s +lat_ts=%s +lon_0=%s +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
			num(s.poleLat()), num(s.LatTS), num(s.Lon0))
	}
	return "+proj=longlat +datum=WGS84 +no_defs"
}

func (s *SRS) String() string {
	if s.epsg != 0 {
		return "EPSG:" + strconv.Itoa(s.epsg)
	}
	return s.Proj4()
}

func (s *SRS) poleLat() float64 {
	if s.LatTS < 0 {
		return -90
	}
	return 90
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

var proj4Token = regexp.MustCompile(`\+([a-z_0-9]+)(?:=(\S+))?`)

// FromProj4 parses a proj4 definition. Surrounding quotes are ignored.
func FromProj4(def string) (*SRS, error) {
	def = strings.Trim(strings.TrimSpace(def), `'"`)
	params := make(map[string]string)
	for _, m := range proj4Token.FindAllStringSubmatch(def, -1) {
		params[m[1]] = m[2]
	}
	for _, k := range []string{"datum", "ellps"} {
		if v, ok := params[k]; ok && v != "WGS84" {
			return nil, fmt.Errorf("proj4 %q: unsupported %s %s", def, k, v)
		}
	}
	getf := func(k string, dflt float64) (float64, error) {
		v, ok := params[k]
		if !ok {
			return dflt, nil
		}
		return strconv.ParseFloat(v, 64)
	}

	switch params["proj"] {
	case "longlat", "latlong":
		return MustEPSG(EPSGWGS84), nil
	case "utm":
		zone, err := strconv.Atoi(params["zone"])
		if err != nil {
			return nil, fmt.Errorf("proj4 %q: invalid zone: %w", def, err)
		}
		_, south := params["south"]
		return NewUTM(zone, south)
	case "stere":
		lat0, err := getf("lat_0", 0)
		if err != nil || math.Abs(lat0) != 90 {
			return nil, fmt.Errorf("proj4 %q: only polar stereographic is supported", def)
		}
		latTS, err := getf("lat_ts", lat0)
		if err != nil {
			return nil, fmt.Errorf("proj4 %q: invalid lat_ts: %w", def, err)
		}
		lon0, err := getf("lon_0", 0)
		if err != nil {
			return nil, fmt.Errorf("proj4 %q: invalid lon_0: %w", def, err)
		}
		for _, k := range []string{"x_0", "y_0"} {
			if v, _ := getf(k, 0); v != 0 {
				return nil, fmt.Errorf("proj4 %q: false easting/northing not supported", def)
			}
		}
		if k, _ := getf("k", 1); k != 1 {
			return nil, fmt.Errorf("proj4 %q: scale factor not supported", def)
		}
		return NewPolarStereographic(latTS, lon0), nil
	}
	return nil, fmt.Errorf("proj4 %q: unsupported projection %q", def, params["proj"])
}

var authorityPattern = regexp.MustCompile(`AUTHORITY\["EPSG",\s*"?(\d+)"?\]\]\s*$`)

// FromWKT resolves an OGC or ESRI WKT string. A trailing EPSG authority is
// used when present; otherwise the string is compared with the WKT forms of
// EPSG:4326 and every whitelisted code.
func FromWKT(wkt string) (*SRS, error) {
	wkt = strings.TrimSpace(wkt)
	if m := authorityPattern.FindStringSubmatch(wkt); m != nil {
		code, _ := strconv.Atoi(m[1])
		return FromEPSG(code)
	}
	norm := normalizeWKT(wkt)
	for _, code := range append([]int{EPSGWGS84}, Whitelist()...) {
		s := MustEPSG(code)
		if norm == normalizeWKT(s.ESRIWKT()) || norm == normalizeWKT(s.WKT()) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unrecognized spatial reference: %.60s", wkt)
}

func normalizeWKT(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	s = strings.ReplaceAll(s, ".0,", ",")
	return strings.ReplaceAll(s, ".0]", "]")
}
