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
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/kraklabs/demindex/pkg/geom"
	"github.com/kraklabs/demindex/pkg/proj"
	"github.com/kraklabs/demindex/pkg/raster"
)

// RasterInfo is what a record learns from opening its DEM.
type RasterInfo struct {
	XSize            int         `json:"xsize"`
	YSize            int         `json:"ysize"`
	Proj             string      `json:"proj"`
	SRS              *SpatialRef `json:"srs"`
	Proj4            string      `json:"proj4"`
	EPSG             int         `json:"epsg"`
	WKTESRI          string      `json:"wkt_esri"`
	Bands            int         `json:"bands"`
	DataType         int         `json:"datatype"`
	DataTypeReadable string      `json:"datatype_readable"`
	NDV              *float64    `json:"ndv"`
	GTF              [6]float64  `json:"gtf"`
	XRes             float64     `json:"xres"`
	YRes             float64     `json:"yres"`
}

// Resolution is the mean of the x and y pixel sizes.
func (ri *RasterInfo) Resolution() float64 {
	return (ri.XRes + ri.YRes) / 2
}

// gcpRoles maps GCP ids to footprint corners: 1 upper left, 2 upper right,
// 3 lower right, 4 lower left.
var gcpRoles = map[string]int{
	"UpperLeft": 1, "1": 1,
	"UpperRight": 2, "2": 2,
	"LowerRight": 3, "3": 3,
	"LowerLeft": 4, "4": 4,
}

func gcpCorners(gcps []raster.GCP) (map[int]orb.Point, error) {
	corners := make(map[int]orb.Point, 4)
	for _, g := range gcps {
		role, ok := gcpRoles[g.ID]
		if !ok {
			return nil, fmt.Errorf("unknown GCP id %q", g.ID)
		}
		corners[role] = orb.Point{g.X, g.Y}
	}
	if len(corners) != 4 {
		return nil, fmt.Errorf("GCPs do not cover all four corners")
	}
	return corners, nil
}

// readRasterInfo opens path and returns its raster information and the
// footprint traced by its corners.
func readRasterInfo(opener raster.Opener, path string) (*RasterInfo, orb.Polygon, error) {
	readErr := func(err error) error {
		var re *raster.ReadError
		if errors.As(err, &re) {
			return err
		}
		return &raster.ReadError{Path: path, Err: err}
	}

	ds, err := opener.Open(path)
	if err != nil {
		return nil, nil, readErr(err)
	}
	defer func() { _ = ds.Close() }()

	srs, err := ds.SRS()
	if err != nil {
		return nil, nil, readErr(err)
	}
	if srs == nil {
		return nil, nil, readErr(errors.New("no spatial reference"))
	}
	epsg, ok := proj.MatchWhitelist(srs)
	if !ok {
		return nil, nil, readErr(fmt.Errorf("no EPSG match for DEM proj4 '%s'", srs.Proj4()))
	}
	matched := proj.MustEPSG(epsg)

	xsize, ysize := ds.Size()
	info := &RasterInfo{
		XSize:            xsize,
		YSize:            ysize,
		Proj:             matched.WKT(),
		SRS:              &SpatialRef{SRS: matched},
		Proj4:            matched.Proj4(),
		EPSG:             epsg,
		WKTESRI:          matched.ESRIWKT(),
		Bands:            ds.BandCount(),
		DataType:         ds.DataType().Code(),
		DataTypeReadable: string(ds.DataType()),
		GTF:              ds.GeoTransform(),
	}
	if nd, ok := ds.NoData(); ok {
		info.NDV = &nd
	}

	var ul, ur, lr, ll orb.Point
	switch gcps := ds.GCPs(); len(gcps) {
	case 0:
		gt := ds.GeoTransform()
		w, h := float64(xsize), float64(ysize)
		ul = pointAt(gt, 0, 0)
		ur = pointAt(gt, w, 0)
		lr = pointAt(gt, w, h)
		ll = pointAt(gt, 0, h)
		info.XRes = math.Abs(gt[1])
		info.YRes = math.Abs(gt[5])
	case 4:
		c, err := gcpCorners(gcps)
		if err != nil {
			return nil, nil, readErr(err)
		}
		ul, ur, lr, ll = c[1], c[2], c[3], c[4]
		info.XRes = math.Abs(planar.Distance(ul, ur) / float64(xsize))
		info.YRes = math.Abs(planar.Distance(ul, ll) / float64(ysize))
	default:
		return nil, nil, readErr(fmt.Errorf("unsupported GCP count %d", len(gcps)))
	}
	return info, geom.FromCorners(ul, ur, lr, ll), nil
}

func pointAt(gt raster.GeoTransform, pixel, line float64) orb.Point {
	x, y := gt.Apply(pixel, line)
	return orb.Point{x, y}
}

const bytesPerGB = 1024 * 1024 * 1024

// fileSizeGB returns the size of path in GB, or 0 when it cannot be
// read.
func fileSizeGB(path string) *float64 {
	sz := 0.0
	if fi, err := os.Stat(path); err == nil {
		sz = float64(fi.Size()) / bytesPerGB
	}
	return &sz
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
