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
	"math"

	"github.com/wroge/wgs84"
)

const (
	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// ellipsoid holds the derived constants of a wgs84.Spheroid.
type ellipsoid struct {
	a, e2, e float64
}

func ellipsoidOf(s wgs84.Spheroid) ellipsoid {
	f := 1 / s.Fi()
	e2 := f * (2 - f)
	return ellipsoid{a: s.A(), e2: e2, e: math.Sqrt(e2)}
}

var wgsEllipsoid = ellipsoidOf(wgs84.WGS84())

// System returns s as a wgs84 coordinate reference system. Projected
// systems carry their own projection so they can be combined with any other
// system of that package through wgs84.Transform.
func (s *SRS) System() wgs84.CoordinateReferenceSystem {
	switch s.Kind {
	case UTM:
		return wgs84.ProjectedReferenceSystem{
			Datum:      wgs84.WGS84(),
			Projection: transverseMercator{zone: s.Zone, south: s.South},
		}
	case PolarStereographic:
		return wgs84.ProjectedReferenceSystem{
			Datum:      wgs84.WGS84(),
			Projection: polarStereographic{latTS: s.LatTS, lon0: s.Lon0},
		}
	}
	return wgs84.LonLat()
}

// Forward projects lon/lat degrees into s. For a geographic SRS the input is
// returned unchanged.
func (s *SRS) Forward(lon, lat float64) (x, y float64) {
	p, ok := s.System().(wgs84.ProjectedReferenceSystem)
	if !ok {
		return lon, lat
	}
	return p.Projection.FromLonLat(lon, lat, p.Datum)
}

// Inverse converts coordinates of s to lon/lat degrees.
func (s *SRS) Inverse(x, y float64) (lon, lat float64) {
	p, ok := s.System().(wgs84.ProjectedReferenceSystem)
	if !ok {
		return x, y
	}
	return p.Projection.ToLonLat(x, y, p.Datum)
}

// Transform converts one coordinate pair from src to dst. Every supported
// system shares the WGS84 datum, so the pair goes through geographic
// coordinates without a geocentric shift.
func Transform(src, dst *SRS, x, y float64) (float64, float64, error) {
	if src == nil || dst == nil {
		return 0, 0, fmt.Errorf("transform: missing spatial reference")
	}
	if src.Equal(dst) {
		return x, y, nil
	}
	lon, lat := src.Inverse(x, y)
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return 0, 0, fmt.Errorf("transform: (%v, %v) has no geographic position in %s", x, y, src)
	}
	ox, oy := dst.Forward(lon, lat)
	if math.IsNaN(ox) || math.IsNaN(oy) || math.IsInf(ox, 0) || math.IsInf(oy, 0) {
		return 0, 0, fmt.Errorf("transform: (%v, %v) cannot be projected to %s", lon, lat, dst)
	}
	return ox, oy, nil
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// normLon wraps a longitude in degrees into [-180, 180).
func normLon(l float64) float64 {
	l = math.Mod(l+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

// meridianArc is the distance along the meridian from the equator to phi
// (Snyder 3-21).
func (el ellipsoid) meridianArc(phi float64) float64 {
	e2, e4, e6 := el.e2, el.e2*el.e2, el.e2*el.e2*el.e2
	return el.a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// transverseMercator is the UTM projection of one zone. It implements
// wgs84.Projection.
type transverseMercator struct {
	zone  int
	south bool
}

func (p transverseMercator) centralMeridian() float64 {
	return float64(6*p.zone - 183)
}

// FromLonLat implements Snyder 8-9 .. 8-10.
func (p transverseMercator) FromLonLat(lon, lat float64, s wgs84.Spheroid) (east, north float64) {
	el := ellipsoidOf(s)
	phi := rad(lat)
	ep2 := el.e2 / (1 - el.e2)
	sin, cos := math.Sincos(phi)
	n := el.a / math.Sqrt(1-el.e2*sin*sin)
	t := math.Tan(phi) * math.Tan(phi)
	c := ep2 * cos * cos
	a := rad(normLon(lon-p.centralMeridian())) * cos
	m := el.meridianArc(phi)

	x := utmScale * n * (a + (1-t+c)*math.Pow(a, 3)/6 +
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120)
	y := utmScale * (m + n*math.Tan(phi)*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))

	x += utmFalseEasting
	if p.south {
		y += utmFalseNorthing
	}
	return x, y
}

// ToLonLat implements Snyder 8-12 .. 8-25.
func (p transverseMercator) ToLonLat(east, north float64, s wgs84.Spheroid) (lon, lat float64) {
	el := ellipsoidOf(s)
	x := east - utmFalseEasting
	y := north
	if p.south {
		y -= utmFalseNorthing
	}
	ep2 := el.e2 / (1 - el.e2)
	e4, e6 := el.e2*el.e2, el.e2*el.e2*el.e2
	m := y / utmScale
	mu := m / (el.a * (1 - el.e2/4 - 3*e4/64 - 5*e6/256))
	e1 := (1 - math.Sqrt(1-el.e2)) / (1 + math.Sqrt(1-el.e2))

	phi1 := mu + (3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin1, cos1 := math.Sincos(phi1)
	tan1 := math.Tan(phi1)
	c1 := ep2 * cos1 * cos1
	t1 := tan1 * tan1
	n1 := el.a / math.Sqrt(1-el.e2*sin1*sin1)
	r1 := el.a * (1 - el.e2) / math.Pow(1-el.e2*sin1*sin1, 1.5)
	d := x / (n1 * utmScale)

	phi := phi1 - (n1*tan1/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lam := (d - (1+2*t1+c1)*math.Pow(d, 3)/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cos1

	return normLon(p.centralMeridian() + deg(lam)), deg(phi)
}

// stereT is Snyder 15-9.
func (el ellipsoid) stereT(phi float64) float64 {
	es := el.e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-es)/(1+es), el.e/2)
}

// stereM is Snyder 14-15.
func (el ellipsoid) stereM(phi float64) float64 {
	sin := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-el.e2*sin*sin)
}

// polarStereographic is a polar stereographic projection with a standard
// parallel. It implements wgs84.Projection.
type polarStereographic struct {
	latTS, lon0 float64
}

// sign is 1 for north polar systems and -1 for south polar systems.
// South polar formulas reuse the north ones with every sign flipped
// (Snyder p. 161).
func (p polarStereographic) sign() float64 {
	if p.latTS < 0 {
		return -1
	}
	return 1
}

// FromLonLat implements Snyder 21-33, 21-34 and 21-35.
func (p polarStereographic) FromLonLat(lon, lat float64, s wgs84.Spheroid) (east, north float64) {
	el := ellipsoidOf(s)
	sg := p.sign()
	phi, phiC := sg*rad(lat), sg*rad(p.latTS)
	dl := sg * rad(lon-p.lon0)
	rho := el.a * el.stereM(phiC) * el.stereT(phi) / el.stereT(phiC)
	x := rho * math.Sin(dl)
	y := -rho * math.Cos(dl)
	return sg * x, sg * y
}

// ToLonLat implements Snyder 21-38, 21-40 and 20-21 with the series of 3-5
// for the conformal latitude.
func (p polarStereographic) ToLonLat(east, north float64, s wgs84.Spheroid) (lon, lat float64) {
	el := ellipsoidOf(s)
	sg := p.sign()
	x, y := sg*east, sg*north
	phiC := sg * rad(p.latTS)
	rho := math.Hypot(x, y)
	if rho == 0 {
		return p.lon0, sg * 90
	}
	t := rho * el.stereT(phiC) / (el.a * el.stereM(phiC))
	chi := math.Pi/2 - 2*math.Atan(t)
	e2 := el.e2
	e4, e6, e8 := e2*e2, e2*e2*e2, e2*e2*e2*e2
	phi := chi +
		(e2/2+5*e4/24+e6/12+13*e8/360)*math.Sin(2*chi) +
		(7*e4/48+29*e6/240+811*e8/11520)*math.Sin(4*chi) +
		(7*e6/120+81*e8/1120)*math.Sin(6*chi) +
		(4279*e8/161280)*math.Sin(8*chi)
	lam := math.Atan2(x, -y)
	return normLon(p.lon0 + sg*deg(lam)), sg * deg(phi)
}
