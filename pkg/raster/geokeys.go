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

package raster

import (
	"fmt"
	"math"
	"strings"

	"github.com/kraklabs/demindex/pkg/proj"
)

// GeoKey ids.
const (
	keyModelType            = 1024
	keyRasterType           = 1025
	keyGeographicType       = 2048
	keyProjectedCSType      = 3072
	keyProjection           = 3074
	keyProjCoordTrans       = 3075
	keyProjStdParallel1     = 3078
	keyProjNatOriginLong    = 3080
	keyProjNatOriginLat     = 3081
	keyProjFalseEasting     = 3082
	keyProjFalseNorthing    = 3083
	keyProjScaleAtNatOrigin = 3092
	keyProjStraightVertPole = 3095

	modelProjected  = 1
	modelGeographic = 2
	rasterIsPoint   = 2
	userDefined     = 32767

	ctTransverseMercator = 1
	ctPolarStereographic = 15
)

// geoKeys is a decoded GeoKey directory.
type geoKeys struct {
	shorts  map[int]int
	doubles map[int]float64
	ascii   map[int]string
}

func (k geoKeys) empty() bool {
	return len(k.shorts) == 0 && len(k.doubles) == 0 && len(k.ascii) == 0
}

func (k geoKeys) double(keys ...int) (float64, bool) {
	for _, key := range keys {
		if v, ok := k.doubles[key]; ok {
			return v, true
		}
	}
	return 0, false
}

// parseGeoKeys decodes the directory header and its (id, location, count,
// value) entries. Values live inline, in the double params or in the ASCII
// params depending on the location tag.
func parseGeoKeys(dir []int, doubles []float64, ascii string) (geoKeys, error) {
	k := geoKeys{shorts: map[int]int{}, doubles: map[int]float64{}, ascii: map[int]string{}}
	if len(dir) == 0 {
		return k, nil
	}
	if len(dir) < 4 {
		return k, fmt.Errorf("GeoKey directory too short")
	}
	n := dir[3]
	if len(dir) < 4+4*n {
		return k, fmt.Errorf("GeoKey directory declares %d keys, holds %d", n, (len(dir)-4)/4)
	}
	for i := 0; i < n; i++ {
		e := dir[4+4*i : 8+4*i]
		id, loc, count, val := e[0], e[1], e[2], e[3]
		switch loc {
		case 0:
			k.shorts[id] = val
		case tagGeoDoubleParams:
			if val >= len(doubles) {
				return k, fmt.Errorf("GeoKey %d points past the double params", id)
			}
			k.doubles[id] = doubles[val]
		case tagGeoASCIIParams:
			if val+count > len(ascii) {
				return k, fmt.Errorf("GeoKey %d points past the ASCII params", id)
			}
			k.ascii[id] = strings.TrimRight(ascii[val:val+count], "|\x00")
		}
	}
	return k, nil
}

// srs resolves the coordinate system. A file without GeoKeys has none.
func (k geoKeys) srs() (*proj.SRS, error) {
	if k.empty() {
		return nil, nil
	}
	switch k.shorts[keyModelType] {
	case modelGeographic:
		switch code := k.shorts[keyGeographicType]; code {
		case 0, userDefined, proj.EPSGWGS84:
			return proj.FromEPSG(proj.EPSGWGS84)
		default:
			return nil, fmt.Errorf("unsupported geographic CRS %d", code)
		}
	case modelProjected:
		if code, ok := k.shorts[keyProjectedCSType]; ok && code != userDefined {
			return proj.FromEPSG(code)
		}
		return k.userDefinedProjection()
	}
	return nil, fmt.Errorf("unsupported model type %d", k.shorts[keyModelType])
}

// userDefinedProjection interprets the projection parameters written for
// CRSs without an EPSG code.
func (k geoKeys) userDefinedProjection() (*proj.SRS, error) {
	// Projection codes 16001-16060 and 16101-16160 are the WGS84 UTM zones.
	if code, ok := k.shorts[keyProjection]; ok && code != userDefined {
		switch {
		case code > 16000 && code <= 16060:
			return proj.NewUTM(code-16000, false)
		case code > 16100 && code <= 16160:
			return proj.NewUTM(code-16100, true)
		}
		return nil, fmt.Errorf("unsupported projection code %d", code)
	}

	switch ct := k.shorts[keyProjCoordTrans]; ct {
	case ctPolarStereographic:
		latTS, ok := k.double(keyProjNatOriginLat, keyProjStdParallel1)
		if !ok {
			return nil, fmt.Errorf("polar stereographic without standard parallel")
		}
		lon0, _ := k.double(keyProjStraightVertPole, keyProjNatOriginLong)
		return proj.NewPolarStereographic(latTS, lon0), nil
	case ctTransverseMercator:
		cm, _ := k.double(keyProjNatOriginLong)
		scale, _ := k.double(keyProjScaleAtNatOrigin)
		fe, _ := k.double(keyProjFalseEasting)
		fn, _ := k.double(keyProjFalseNorthing)
		zone := (cm + 183) / 6
		if math.Abs(scale-0.9996) > 1e-9 || fe != 500000 || zone != math.Trunc(zone) {
			return nil, fmt.Errorf("transverse mercator parameters do not describe a UTM zone")
		}
		switch fn {
		case 0:
			return proj.NewUTM(int(zone), false)
		case 10000000:
			return proj.NewUTM(int(zone), true)
		}
		return nil, fmt.Errorf("unsupported UTM false northing %v", fn)
	default:
		return nil, fmt.Errorf("unsupported coordinate transformation %d", ct)
	}
}

// georeference derives the geotransform or GCPs from the model tags.
func georeference(d ifd, pixelIsPoint bool) (GeoTransform, []GCP) {
	scale := d.floats(tagModelPixelScale)
	ties := d.floats(tagModelTiepoint)

	if m := d.floats(tagModelTransform); len(m) == 16 {
		return shiftPoint(GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}, pixelIsPoint), nil
	}
	if len(ties) >= 6 && len(scale) >= 2 {
		gt := GeoTransform{
			ties[3] - ties[0]*scale[0], scale[0], 0,
			ties[4] + ties[1]*scale[1], 0, -scale[1],
		}
		return shiftPoint(gt, pixelIsPoint), nil
	}
	if len(ties) >= 12 {
		var gcps []GCP
		for i := 0; i+6 <= len(ties); i += 6 {
			gcps = append(gcps, GCP{
				ID:    fmt.Sprint(i/6 + 1),
				Pixel: ties[i], Line: ties[i+1],
				X: ties[i+3], Y: ties[i+4], Z: ties[i+5],
			})
		}
		return Identity, gcps
	}
	return Identity, nil
}

// shiftPoint moves a PixelIsPoint origin to the corner of the first pixel.
func shiftPoint(gt GeoTransform, pixelIsPoint bool) GeoTransform {
	if !pixelIsPoint {
		return gt
	}
	gt[0] -= 0.5*gt[1] + 0.5*gt[2]
	gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	return gt
}
