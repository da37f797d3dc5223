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

package density

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/kraklabs/demindex/pkg/raster"
)

// Engine computes density and statistics by reading rasters.
type Engine struct {
	Opener raster.Opener
	Logger *slog.Logger
}

// NewEngine returns an Engine reading GeoTIFFs when opener is nil.
func NewEngine(opener raster.Opener, logger *slog.Logger) *Engine {
	if opener == nil {
		opener = raster.GeoTIFF{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{Opener: opener, Logger: logger}
}

// band is the first band of a raster with the metadata density needs.
type band struct {
	data   []float64
	width  int
	height int
	gt     raster.GeoTransform
	nodata float64
	hasND  bool
}

func (e *Engine) readBand(path string) (*band, error) {
	ds, err := e.Opener.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ds.Close() }()

	data, err := ds.ReadBand(1)
	if err != nil {
		return nil, &raster.ReadError{Path: path, Err: err}
	}
	w, h := ds.Size()
	nd, hasND := ds.NoData()
	return &band{data: data, width: w, height: h, gt: ds.GeoTransform(), nodata: nd, hasND: hasND}, nil
}

// valid reports whether a matchtag pixel holds data: it differs from the
// nodata value, or from 0 when the raster declares none.
func (b *band) valid(i int) bool {
	if b.hasND {
		return b.data[i] != b.nodata
	}
	return b.data[i] != 0
}

// fraction turns a valid pixel count into a density. With a footprint area
// the count is converted to ground area and divided by it; otherwise the
// total pixel count is the denominator.
func (b *band) fraction(count int, area float64) float64 {
	if area > 0 {
		return math.Abs(float64(count)*b.gt[1]*b.gt[5]) / area
	}
	total := b.width * b.height
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// MatchtagDensity returns the density of the matchtag at path within a
// footprint of the given area. Pass 0 when the area is unknown.
func (e *Engine) MatchtagDensity(path string, area float64) (float64, error) {
	b, err := e.readBand(path)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range b.data {
		if b.valid(i) {
			count++
		}
	}
	d := b.fraction(count, area)
	e.Logger.Debug("density.matchtag", "path", path, "valid_pixels", count, "density", d)
	return d, nil
}

// MaskedDensity is MatchtagDensity restricted to pixels whose bitmask value
// is 0. Both rasters must have the same size.
func (e *Engine) MaskedDensity(matchtag, bitmask string, area float64) (float64, error) {
	mt, err := e.readBand(matchtag)
	if err != nil {
		return 0, err
	}
	bm, err := e.readBand(bitmask)
	if err != nil {
		return 0, err
	}
	if mt.width != bm.width || mt.height != bm.height {
		return 0, fmt.Errorf("bitmask %s is %dx%d, matchtag is %dx%d",
			bitmask, bm.width, bm.height, mt.width, mt.height)
	}
	count := 0
	for i := range mt.data {
		if mt.valid(i) && bm.data[i] == 0 {
			count++
		}
	}
	return mt.fraction(count, area), nil
}

// ElevationStats returns statistics of the first band of path. Approximate
// statistics are tried first and exact ones on failure.
func (e *Engine) ElevationStats(path string) (raster.Stats, error) {
	ds, err := e.Opener.Open(path)
	if err != nil {
		return raster.Stats{}, err
	}
	defer func() { _ = ds.Close() }()

	s, approxErr := ds.Statistics(1, true)
	if approxErr == nil {
		return s, nil
	}
	e.Logger.Debug("density.stats.approx_failed", "path", path, "err", approxErr)
	s, err = ds.Statistics(1, false)
	if err != nil {
		return raster.Stats{}, errors.Join(approxErr, err)
	}
	return s, nil
}
