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

package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kraklabs/demindex/pkg/proj"
)

// Identity of the default fixtures.
const (
	Pairname = "WV01_20200630_10200100991E2C00_102001009A862700"
	SceneID  = Pairname + "_504471479080_01_P001_504471481090_01_P001_2"
	StripID  = Pairname + "_2m_seg1"
	TileName = "34_12_2m_v4.1_dem.tif"
)

// Raster is the grid shared by the rasters of a fixture product.
type Raster struct {
	Width, Height int
	GeoTransform  [6]float64
	EPSG          int
	NoData        float64
}

// DefaultRaster is a 4x3 UTM 10N grid of 2 m pixels.
var DefaultRaster = Raster{
	Width:        4,
	Height:       3,
	GeoTransform: [6]float64{500000, 2, 0, 5000000, 0, -2},
	EPSG:         32610,
	NoData:       -9999,
}

func (r Raster) orDefault() Raster {
	if r.Width == 0 {
		return DefaultRaster
	}
	return r
}

func (r Raster) write(t testing.TB, path string, band []float64) {
	t.Helper()
	if band == nil {
		band = Fill(r.Width*r.Height, 1)
	}
	gt := r.GeoTransform
	WriteGeoTIFF(t, path, GeoTIFF{
		Width:        r.Width,
		Height:       r.Height,
		Bands:        [][]float64{band},
		GeoTransform: &gt,
		EPSG:         r.EPSG,
		NoData:       Float(r.NoData),
	})
}

// Corners returns the footprint vertices ul, ur, lr, ll, ul as X and Y
// lists, the way strip meta files carry them.
func (r Raster) Corners() (xs, ys []float64) {
	gt := r.GeoTransform
	at := func(p, l float64) (float64, float64) {
		return gt[0] + p*gt[1] + l*gt[2], gt[3] + p*gt[4] + l*gt[5]
	}
	w, h := float64(r.Width), float64(r.Height)
	for _, pl := range [][2]float64{{0, 0}, {w, 0}, {w, h}, {0, h}, {0, 0}} {
		x, y := at(pl[0], pl[1])
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return xs, ys
}

// Proj4 returns the quoted proj4 definition of the grid CRS.
func (r Raster) Proj4() string {
	return "'" + proj.MustEPSG(r.EPSG).Proj4() + "'"
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// Strip describes a strip product written by WriteStrip.
type Strip struct {
	// ID defaults to StripID.
	ID string
	// Suffix is the DEM suffix, "_dem.tif" by default.
	Suffix string
	Raster Raster

	DEM      []float64
	Matchtag []float64
	// Bitmask writes a _bitmask.tif when set.
	Bitmask []float64

	// Meta replaces the generated meta file.
	Meta string
	// MDF writes a _mdf.txt with this content.
	MDF string
	// Density writes a _density.txt with this content.
	Density string
	// Reg writes a _reg.txt with this content.
	Reg string

	SkipMatchtag bool
	SkipOrtho    bool
	SkipMeta     bool
}

// WriteStrip writes the strip product to dir and returns the DEM path.
func WriteStrip(t testing.TB, dir string, s Strip) string {
	t.Helper()
	if s.ID == "" {
		s.ID = StripID
	}
	if s.Suffix == "" {
		s.Suffix = "_dem.tif"
	}
	r := s.Raster.orDefault()
	n := r.Width * r.Height

	demPath := filepath.Join(dir, s.ID+s.Suffix)
	dem := s.DEM
	if dem == nil {
		dem = Fill(n, 100)
	}
	r.write(t, demPath, dem)
	if !s.SkipMatchtag {
		r.write(t, filepath.Join(dir, s.ID+"_matchtag.tif"), s.Matchtag)
	}
	if !s.SkipOrtho {
		r.write(t, filepath.Join(dir, s.ID+"_ortho.tif"), Fill(n, 50))
	}
	if s.Bitmask != nil {
		r.write(t, filepath.Join(dir, s.ID+"_bitmask.tif"), s.Bitmask)
	}
	if !s.SkipMeta {
		meta := s.Meta
		if meta == "" {
			meta = StripMetaText(r)
		}
		WriteFile(t, dir, s.ID+"_meta.txt", meta)
	}
	if s.MDF != "" {
		WriteFile(t, dir, s.ID+"_mdf.txt", s.MDF)
	}
	if s.Density != "" {
		WriteFile(t, dir, s.ID+"_density.txt", s.Density)
	}
	if s.Reg != "" {
		WriteFile(t, dir, s.ID+"_reg.txt", s.Reg)
	}
	return demPath
}

func joinFloats(fs []float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = fmt.Sprint(f)
	}
	return strings.Join(parts, " ")
}

// StripMetaText renders a strip meta file for r with two component
// scenes. The scenes carry alignment rmse 0.25 and 0.75, SETSM 4.3.6 and
// acquisition times one and two minutes apart.
func StripMetaText(r Raster) string {
	xs, ys := r.Corners()
	scene1 := Pairname + "_504471479080_01_P001_504471481090_01_P001_2"
	scene2 := Pairname + "_504471479080_01_P002_504471481090_01_P002_2"
	return "Strip Metadata (v4.3)\n" +
		"Strip projection (proj4): " + r.Proj4() + "\n" +
		"Strip creation date: 15-Jan-2021 10:11:12\n" +
		"Strip Footprint Vertices\n" +
		"X: " + joinFloats(xs) + "\n" +
		"Y: " + joinFloats(ys) + "\n" +
		"Mosaicking Alignment Statistics (meters, rmse, dz, dx, dy)\n" +
		scene1 + "_dem.tif 0.25 0.1 0.2 0.3\n" +
		scene2 + "_dem.tif 0.75 0.1 0.2 0.3 0.01 0.02 0.03\n" +
		"\n" +
		"Scene Metadata\n" +
		"\n" +
		"scene 1 name=" + scene1 + "_dem.tif\n" +
		"Creation Date=Thu Jan 28 11:09:10 2016\n" +
		"SETSM Version=4.3.6\n" +
		"Image 1=/data/WV01_20200630211711_10200100991E2C00_P001.tif\n" +
		"Image 2=/data/WV01_20200630211811_102001009A862700_P001.tif\n" +
		"Image_1_satID=WV01\n" +
		"Image_2_satID=WV01\n" +
		"Output Resolution=2\n" +
		"Seed DEM=/data/seed_dem.tif\n" +
		"scene 2 name=" + scene2 + "_dem.tif\n" +
		"Creation Date=Thu Jan 28 11:19:10 2016\n" +
		"SETSM Version=4.3.6\n" +
		"Image_1_Acquisition_time=2020-06-30T21:19:11.000000Z\n" +
		"Image_2_Acquisition_time=2020-06-30T21:20:11.000000Z\n" +
		"Image_1_satID=WV01\n" +
		"Image_2_satID=WV01\n" +
		"Output Resolution=2\n" +
		"Seed DEM=/data/seed_dem.tif\n"
}

// Scene describes a scene product written by WriteScene.
type Scene struct {
	// ID defaults to SceneID.
	ID     string
	Raster Raster

	// Meta replaces the generated meta file.
	Meta string
	// DSPInfo writes an _info50cm.txt with this content.
	DSPInfo string
	// LSF writes a _dem_smooth.tif next to the DEM.
	LSF bool

	SkipDEM      bool
	SkipMatchtag bool
	SkipOrtho    bool
}

// WriteScene writes the scene product to dir and returns the meta path.
func WriteScene(t testing.TB, dir string, s Scene) string {
	t.Helper()
	if s.ID == "" {
		s.ID = SceneID
	}
	r := s.Raster.orDefault()
	n := r.Width * r.Height

	if !s.SkipDEM {
		r.write(t, filepath.Join(dir, s.ID+"_dem.tif"), Fill(n, 100))
	}
	if s.LSF {
		r.write(t, filepath.Join(dir, s.ID+"_dem_smooth.tif"), Fill(n, 100))
	}
	if !s.SkipMatchtag {
		r.write(t, filepath.Join(dir, s.ID+"_matchtag.tif"), nil)
	}
	if !s.SkipOrtho {
		r.write(t, filepath.Join(dir, s.ID+"_ortho.tif"), Fill(n, 50))
	}
	if s.DSPInfo != "" {
		WriteFile(t, dir, s.ID+"_info50cm.txt", s.DSPInfo)
	}
	meta := s.Meta
	if meta == "" {
		meta = SceneMetaText(r)
	}
	return WriteFile(t, dir, s.ID+"_meta.txt", meta)
}

// SceneMetaText renders a scene meta file for r.
func SceneMetaText(r Raster) string {
	return "Creation Date=Thu Jan 28 11:09:10 2016\n" +
		"SETSM Version=4.3.6\n" +
		"Output Projection=" + r.Proj4() + "\n" +
		"Image 1 satID=WV01\n" +
		"Image 2 satID=WV01\n" +
		"Image_1_Acquisition_time=2020-06-30T21:17:11.000000Z\n" +
		"Image_2_Acquisition_time=2020-06-30T21:18:11.000000Z\n"
}

// Tile describes a mosaic tile written by WriteTile.
type Tile struct {
	// Name is the DEM file name, TileName by default.
	Name   string
	Raster Raster

	// Meta replaces the generated meta file.
	Meta string
	// Reg writes the tile _reg.txt with this content.
	Reg string
	// Density writes a _density.txt with this content.
	Density string

	SkipMatchtag bool
	SkipMeta     bool
}

// WriteTile writes the tile product to dir and returns the DEM path.
func WriteTile(t testing.TB, dir string, tl Tile) string {
	t.Helper()
	if tl.Name == "" {
		tl.Name = TileName
	}
	r := tl.Raster.orDefault()
	n := r.Width * r.Height
	base := strings.TrimSuffix(tl.Name, "_dem.tif")
	tileID := strings.TrimSuffix(base, "_reg")

	demPath := filepath.Join(dir, tl.Name)
	r.write(t, demPath, Fill(n, 100))
	if !tl.SkipMatchtag {
		r.write(t, filepath.Join(dir, base+"_matchtag.tif"), nil)
	}
	if !tl.SkipMeta {
		meta := tl.Meta
		if meta == "" {
			meta = TileMetaText
		}
		WriteFile(t, dir, tileID+"_dem_meta.txt", meta)
	}
	if tl.Reg != "" {
		WriteFile(t, dir, tileID+"_reg.txt", tl.Reg)
	}
	if tl.Density != "" {
		WriteFile(t, dir, base+"_density.txt", tl.Density)
	}
	return demPath
}

// TileMetaText is a tile meta file listing two component strips.
const TileMetaText = "Creation Date: 07-Aug-2020 10:11:12\n" +
	"Version: 4.1\n" +
	"WV01_20200630_10200100991E2C00_102001009A862700_2m_lsf_seg1 0.5 0.1 0.2 0.3\n" +
	"WV02_20200701_10300100991E2C00_103001009A862700_2m_lsf_seg2 0.6 0.1 0.2 0.3\n"
