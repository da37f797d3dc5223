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

package geom

import (
	"github.com/paulmach/orb"
)

// sign is -1, 0 or 1.
func sign(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	}
	return 0
}

// crosses is the antimeridian test applied to every ring edge: the
// longitude sign differs between its end points. A vertex on 0° has sign 0,
// so an edge touching the prime meridian also counts as crossing.
func crosses(a, b orb.Point) bool {
	return sign(a[0]) != sign(b[0])
}

// to360 maps a longitude into [0, 360).
func to360(lon float64) float64 {
	if lon < 0 {
		return lon + 360
	}
	return lon
}

// crossingLat interpolates the latitude at which edge a-b reaches 180°, with
// both longitudes taken in [0, 360).
func crossingLat(a, b orb.Point) float64 {
	x1, x2 := to360(a[0]), to360(b[0])
	if x1 == x2 {
		return a[1]
	}
	return a[1] + (b[1]-a[1])*(180-x1)/(x2-x1)
}

// Wrap180 splits the outer ring of a geographic polygon at the antimeridian.
//
// Vertices are binned by longitude sign, negative to the west part and
// non-negative to the east part. Every crossing edge contributes a vertex at
// -180 to the west part and at 180 to the east part. Each non-empty part is
// closed and returned; a polygon that never changes sign comes back as a
// single part equal to its input ring.
func Wrap180(p orb.Polygon) orb.MultiPolygon {
	if len(p) == 0 || len(p[0]) == 0 {
		return nil
	}
	ring := p[0]
	var west, east orb.Ring
	for i := 0; i < len(ring)-1; i++ {
		a, b := ring[i], ring[i+1]
		if a[0] < 0 {
			west = append(west, a)
		} else {
			east = append(east, a)
		}
		if crosses(a, b) {
			y := crossingLat(a, b)
			west = append(west, orb.Point{-180, y})
			east = append(east, orb.Point{180, y})
		}
	}

	var mp orb.MultiPolygon
	for _, part := range []orb.Ring{west, east} {
		if len(part) == 0 {
			continue
		}
		mp = append(mp, orb.Polygon{append(part, part[0])})
	}
	return mp
}

// Bound180 returns the bounding box of the outer ring of p as
// [minLon, minLat, maxLon, maxLat]. When any edge crosses, the longitudes
// are swapped to [maxLon, minLat, minLon, maxLat], the GeoJSON convention for
// boxes spanning the antimeridian.
func Bound180(p orb.Polygon) [4]float64 {
	if len(p) == 0 || len(p[0]) == 0 {
		return [4]float64{}
	}
	ring := p[0]
	b := ring.Bound()
	crossed := false
	for i := 0; i < len(ring)-1; i++ {
		if crosses(ring[i], ring[i+1]) {
			crossed = true
			break
		}
	}
	if crossed {
		return [4]float64{b.Max[0], b.Min[1], b.Min[0], b.Max[1]}
	}
	return [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}
