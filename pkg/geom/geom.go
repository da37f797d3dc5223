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

// Package geom builds and transforms DEM footprints.
//
// Footprints are orb polygons with a single closed ring. Geographic
// footprints that cross the antimeridian are split by [Wrap180] into a
// two-part multipolygon clamped to ±180°.
package geom

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/kraklabs/demindex/pkg/proj"
)

// FromCorners builds the closed footprint ul, ur, lr, ll, ul.
func FromCorners(ul, ur, lr, ll orb.Point) orb.Polygon {
	return orb.Polygon{orb.Ring{ul, ur, lr, ll, ul}}
}

// ClosedPolygon builds a single ring polygon from pts, repeating the first
// vertex at the end when the input is open.
func ClosedPolygon(pts []orb.Point) (orb.Polygon, error) {
	if len(pts) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(pts))
	}
	ring := make(orb.Ring, len(pts), len(pts)+1)
	copy(ring, pts)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}, nil
}

// Area is the planar area of g in the units of its coordinates.
func Area(g orb.Geometry) float64 {
	return math.Abs(planar.Area(g))
}

// Centroid is the planar area-weighted centroid of g.
func Centroid(g orb.Geometry) orb.Point {
	c, _ := planar.CentroidArea(g)
	return c
}

// SpansAntimeridian reports whether the longitudes of g span more than 180°,
// the test used to decide whether a geographic footprint must be wrapped.
func SpansAntimeridian(g orb.Geometry) bool {
	b := g.Bound()
	return b.Max[0]-b.Min[0] > 180
}

// ForceMultiPolygon returns g as a multipolygon.
func ForceMultiPolygon(g orb.Geometry) (orb.MultiPolygon, error) {
	switch v := g.(type) {
	case orb.MultiPolygon:
		return v, nil
	case orb.Polygon:
		return orb.MultiPolygon{v}, nil
	}
	return nil, fmt.Errorf("cannot convert %s to multipolygon", g.GeoJSONType())
}

// Reproject returns a copy of g with every vertex transformed from src to
// dst. The first failing vertex aborts the transformation.
func Reproject(g orb.Geometry, src, dst *proj.SRS) (orb.Geometry, error) {
	if src.Equal(dst) {
		return orb.Clone(g), nil
	}
	var firstErr error
	out := project.Geometry(orb.Clone(g), func(p orb.Point) orb.Point {
		x, y, err := proj.Transform(src, dst, p[0], p[1])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return p
		}
		return orb.Point{x, y}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Geocell labels the 1°x1° cell containing lon/lat as {n|s}LL{e|w}LLL.
// Hemisphere letters follow the sign of the coordinate while the digits are
// the absolute value of its floor, so lat -0.5 yields s01.
func Geocell(lon, lat float64) string {
	latLetter, lonLetter := "n", "e"
	if lat < 0 {
		latLetter = "s"
	}
	if lon < 0 {
		lonLetter = "w"
	}
	return fmt.Sprintf("%s%02d%s%03d", latLetter,
		int(math.Abs(math.Floor(lat))), lonLetter, int(math.Abs(math.Floor(lon))))
}

// CentroidGeocell transforms the centroid of g from src to WGS84 and returns
// its geocell.
func CentroidGeocell(g orb.Geometry, src *proj.SRS) (string, error) {
	c := Centroid(g)
	lon, lat, err := proj.Transform(src, proj.MustEPSG(proj.EPSGWGS84), c[0], c[1])
	if err != nil {
		return "", fmt.Errorf("geocell: %w", err)
	}
	return Geocell(lon, lat), nil
}
