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
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kraklabs/demindex/pkg/proj"
)

// DataType names a sample type the way GDAL does.
type DataType string

const (
	Byte    DataType = "Byte"
	Int8    DataType = "Int8"
	UInt16  DataType = "UInt16"
	Int16   DataType = "Int16"
	UInt32  DataType = "UInt32"
	Int32   DataType = "Int32"
	UInt64  DataType = "UInt64"
	Int64   DataType = "Int64"
	Float32 DataType = "Float32"
	Float64 DataType = "Float64"
)

// GeoTransform maps pixel/line coordinates to georeferenced coordinates:
//
//	x = gt[0] + pixel*gt[1] + line*gt[2]
//	y = gt[3] + pixel*gt[4] + line*gt[5]
type GeoTransform [6]float64

// Identity is the geotransform of a raster without georeferencing.
var Identity = GeoTransform{0, 1, 0, 0, 0, 1}

// Apply returns the georeferenced position of pixel/line.
func (gt GeoTransform) Apply(pixel, line float64) (x, y float64) {
	return gt[0] + pixel*gt[1] + line*gt[2], gt[3] + pixel*gt[4] + line*gt[5]
}

// GCP is a ground control point tying a raster position to a map position.
type GCP struct {
	ID    string
	Pixel float64
	Line  float64
	X     float64
	Y     float64
	Z     float64
}

// Stats summarizes the valid pixels of a band.
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Dataset is an open raster. Bands are numbered from 1.
type Dataset interface {
	// Path is the file the dataset was opened from.
	Path() string

	// Size returns the raster width and height in pixels.
	Size() (xsize, ysize int)

	BandCount() int
	DataType() DataType

	// GeoTransform returns Identity when the raster is georeferenced by
	// GCPs or not at all.
	GeoTransform() GeoTransform

	// SRS returns the coordinate system, or nil when none is declared.
	SRS() (*proj.SRS, error)

	GCPs() []GCP

	// NoData returns the nodata value shared by all bands.
	NoData() (float64, bool)

	// ReadBand returns the band as row-major float64 samples.
	ReadBand(band int) ([]float64, error)

	// Statistics computes band statistics. With approx set only a sample
	// of the rows is visited.
	Statistics(band int, approx bool) (Stats, error)

	Close() error
}

// Opener opens datasets by path.
type Opener interface {
	Open(path string) (Dataset, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Dataset, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Dataset, error) { return f(path) }

// ReadError reports a raster that cannot be opened or interpreted. It is
// the raster read error of the record error taxonomy and covers unsupported
// GCP counts and spatial references outside the whitelist.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("raster %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ErrNoValidPixels is returned by Statistics when every visited pixel is
// nodata.
var ErrNoValidPixels = errors.New("no valid pixels")

// approxRows bounds the number of rows visited by approximate statistics.
const approxRows = 512

// ComputeStats computes statistics over data, a row-major band of the given
// width. Pixels equal to nodata (when hasNoData is set) and NaN are ignored.
// With approx set, every k-th row is visited so that at most approxRows rows
// contribute.
func ComputeStats(data []float64, width int, nodata float64, hasNoData, approx bool) (Stats, error) {
	if width <= 0 {
		return Stats{}, ErrNoValidPixels
	}
	height := len(data) / width
	step := 1
	if approx && height > approxRows {
		step = (height + approxRows - 1) / approxRows
	}

	valid := make([]float64, 0, len(data)/step)
	for row := 0; row < height; row += step {
		for _, v := range data[row*width : (row+1)*width] {
			if math.IsNaN(v) || (hasNoData && v == nodata) {
				continue
			}
			valid = append(valid, v)
		}
	}
	if len(valid) == 0 {
		return Stats{}, ErrNoValidPixels
	}
	mean, std := stat.PopMeanStdDev(valid, nil)
	return Stats{
		Min:    floats.Min(valid),
		Max:    floats.Max(valid),
		Mean:   mean,
		StdDev: std,
	}, nil
}

var gdalTypeCodes = map[DataType]int{
	Byte:    1,
	UInt16:  2,
	Int16:   3,
	UInt32:  4,
	Int32:   5,
	Float32: 6,
	Float64: 7,
	UInt64:  12,
	Int64:   13,
	Int8:    14,
}

// Code returns the GDAL numeric code of t, or 0 for an unknown type.
func (t DataType) Code() int {
	return gdalTypeCodes[t]
}
