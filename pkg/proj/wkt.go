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

package proj

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ogcGeogCS  = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`
	esriGeogCS = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	ogcMetre   = `UNIT["metre",1,AUTHORITY["EPSG","9001"]]`
)

// WKT renders s as OGC WKT1 with EPSG authorities.
func (s *SRS) WKT() string {
	switch s.Kind {
	case UTM:
		hemi, fn := "N", 0
		if s.South {
			hemi, fn = "S", 10000000
		}
		return fmt.Sprintf(`PROJCS["WGS 84 / UTM zone %d%s",%s,PROJECTION["Transverse_Mercator"],`+
			`PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",%s],PARAMETER["scale_factor",0.9996],`+
			`PARAMETER["false_easting",500000],PARAMETER["false_northing",%d],%s,`+
			`AXIS["Easting",EAST],AXIS["Northing",NORTH]%s]`,
			s.Zone, hemi, ogcGeogCS, num(transverseMercator{zone: s.Zone}.centralMeridian()), fn, ogcMetre, s.authority())
	case PolarStereographic:
		return fmt.Sprintf(`PROJCS["%s",%s,PROJECTION["Polar_Stereographic"],`+
			`PARAMETER["latitude_of_origin",%s],PARAMETER["central_meridian",%s],`+
			`PARAMETER["false_easting",0],PARAMETER["false_northing",0],%s,`+
			`AXIS["X",EAST],AXIS["Y",NORTH]%s]`,
			s.polarName(), ogcGeogCS, num(s.LatTS), num(s.Lon0), ogcMetre, s.authority())
	}
	return ogcGeogCS
}

// ESRIWKT renders s the way ESRI .prj files describe it.
func (s *SRS) ESRIWKT() string {
	switch s.Kind {
	case UTM:
		hemi, fn := "N", 0.0
		if s.South {
			hemi, fn = "S", 10000000.0
		}
		return fmt.Sprintf(`PROJCS["WGS_1984_UTM_Zone_%d%s",%s,PROJECTION["Transverse_Mercator"],`+
			`PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",%s],`+
			`PARAMETER["Central_Meridian",%s],PARAMETER["Scale_Factor",0.9996],`+
			`PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`,
			s.Zone, hemi, esriGeogCS, esriNum(fn), esriNum(transverseMercator{zone: s.Zone}.centralMeridian()))
	case PolarStereographic:
		projection := "Stereographic_North_Pole"
		if s.LatTS < 0 {
			projection = "Stereographic_South_Pole"
		}
		return fmt.Sprintf(`PROJCS["%s",%s,PROJECTION["%s"],`+
			`PARAMETER["False_Easting",0.0],PARAMETER["False_Northing",0.0],`+
			`PARAMETER["Central_Meridian",%s],PARAMETER["Standard_Parallel_1",%s],UNIT["Meter",1.0]]`,
			s.esriPolarName(), esriGeogCS, projection, esriNum(s.Lon0), esriNum(s.LatTS))
	}
	return esriGeogCS
}

func (s *SRS) authority() string {
	if s.epsg == 0 {
		return ""
	}
	return `,AUTHORITY["EPSG","` + strconv.Itoa(s.epsg) + `"]`
}

func (s *SRS) polarName() string {
	switch s.epsg {
	case EPSGNSIDCNorth:
		return "WGS 84 / NSIDC Sea Ice Polar Stereographic North"
	case EPSGAntarctic:
		return "WGS 84 / Antarctic Polar Stereographic"
	}
	return "WGS 84 / Polar Stereographic"
}

func (s *SRS) esriPolarName() string {
	switch s.epsg {
	case EPSGNSIDCNorth:
		return "WGS_1984_NSIDC_Sea_Ice_Polar_Stereographic_North"
	case EPSGAntarctic:
		return "WGS_1984_Antarctic_Polar_Stereographic"
	}
	return "WGS_1984_Polar_Stereographic"
}

func esriNum(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}
