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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	demtest "github.com/kraklabs/demindex/internal/testing"
	"github.com/kraklabs/demindex/pkg/proj"
)

func ramp(n int, scale, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)*scale + offset
	}
	return out
}

func open(t *testing.T, g demtest.GeoTIFF) Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tif")
	demtest.WriteGeoTIFF(t, path, g)
	ds, err := GeoTIFF{}.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func TestGeoTIFF_Georeferenced(t *testing.T) {
	data := ramp(12, 0.5, -1)
	ds := open(t, demtest.GeoTIFF{
		Width: 4, Height: 3,
		Bands:        [][]float64{data},
		GeoTransform: &[6]float64{500000, 2, 0, 5000000, 0, -2},
		EPSG:         32610,
		NoData:       demtest.Float(-9999),
	})

	w, h := ds.Size()
	assert.Equal(t, 4, w)
	assert.Equal(t, 3, h)
	assert.Equal(t, 1, ds.BandCount())
	assert.Equal(t, Float32, ds.DataType())
	assert.Equal(t, GeoTransform{500000, 2, 0, 5000000, 0, -2}, ds.GeoTransform())
	assert.Empty(t, ds.GCPs())

	srs, err := ds.SRS()
	require.NoError(t, err)
	assert.Equal(t, 32610, srs.EPSG())

	nd, ok := ds.NoData()
	assert.True(t, ok)
	assert.Equal(t, -9999.0, nd)

	got, err := ds.ReadBand(1)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	x, y := ds.GeoTransform().Apply(4, 3)
	assert.Equal(t, 500008.0, x)
	assert.Equal(t, 4999994.0, y)
}

func TestGeoTIFF_Layouts(t *testing.T) {
	const w, h = 20, 18
	tests := []struct {
		name string
		g    demtest.GeoTIFF
	}{
		{"big endian", demtest.GeoTIFF{DataType: "Float64", BigEndian: true}},
		{"deflate", demtest.GeoTIFF{DataType: "Float32", Deflate: true}},
		{"strips", demtest.GeoTIFF{DataType: "UInt16", RowsPerStrip: 4}},
		{"predictor", demtest.GeoTIFF{DataType: "Int16", Predictor: true, Deflate: true, RowsPerStrip: 5}},
		{"predictor big endian", demtest.GeoTIFF{DataType: "Int32", Predictor: true, BigEndian: true}},
		{"tiles", demtest.GeoTIFF{DataType: "Float32", TileSize: 16}},
		{"tiles deflate", demtest.GeoTIFF{DataType: "Byte", TileSize: 16, Deflate: true}},
		{"two bands", demtest.GeoTIFF{DataType: "Int16", RowsPerStrip: 7}},
		{"planar", demtest.GeoTIFF{DataType: "Int16", Planar: true, TileSize: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.g
			g.Width, g.Height = w, h
			offset := -100.0
			if g.DataType == "Byte" || g.DataType == "UInt16" {
				offset = 0
			}
			g.Bands = [][]float64{ramp(w*h, 0.5, offset)}
			if g.DataType != "Float32" && g.DataType != "Float64" {
				g.Bands[0] = ramp(w*h, 1, offset)
				if g.DataType == "Byte" {
					for i := range g.Bands[0] {
						g.Bands[0][i] = float64(i % 256)
					}
				}
			}
			if tt.name == "two bands" || tt.name == "planar" {
				g.Bands = append(g.Bands, ramp(w*h, -3, 7))
			}

			ds := open(t, g)
			require.Equal(t, len(g.Bands), ds.BandCount())
			for i, want := range g.Bands {
				got, err := ds.ReadBand(i + 1)
				require.NoError(t, err)
				assert.Equal(t, want, got, "band %d", i+1)
			}
		})
	}
}

func TestGeoTIFF_GCPs(t *testing.T) {
	ds := open(t, demtest.GeoTIFF{
		Width: 10, Height: 10,
		EPSG: 3413,
		GCPs: [][4]float64{
			{0, 0, 100, 200},
			{10, 0, 120, 200},
			{10, 10, 120, 180},
			{0, 10, 100, 180},
		},
	})
	gcps := ds.GCPs()
	require.Len(t, gcps, 4)
	for i, g := range gcps {
		assert.Equal(t, string(rune('1'+i)), g.ID)
	}
	assert.Equal(t, GCP{ID: "3", Pixel: 10, Line: 10, X: 120, Y: 180}, gcps[2])
	assert.Equal(t, Identity, ds.GeoTransform())
}

func TestGeoTIFF_SRS(t *testing.T) {
	tests := []struct {
		name string
		g    demtest.GeoTIFF
		want int
	}{
		{"projected code", demtest.GeoTIFF{EPSG: 3031}, 3031},
		{"geographic", demtest.GeoTIFF{EPSG: 4326}, 4326},
		{"user-defined polar", demtest.GeoTIFF{PolarStereographic: &[2]float64{70, -45}}, 3413},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.g
			g.Width, g.Height = 2, 2
			srs, err := open(t, g).SRS()
			require.NoError(t, err)
			require.NotNil(t, srs)
			assert.Equal(t, tt.want, srs.EPSG())
		})
	}

	t.Run("custom polar", func(t *testing.T) {
		srs, err := open(t, demtest.GeoTIFF{Width: 2, Height: 2,
			PolarStereographic: &[2]float64{71, 10}}).SRS()
		require.NoError(t, err)
		assert.Equal(t, proj.PolarStereographic, srs.Kind)
		assert.Equal(t, 0, srs.EPSG())
	})

	t.Run("none", func(t *testing.T) {
		srs, err := open(t, demtest.GeoTIFF{Width: 2, Height: 2}).SRS()
		require.NoError(t, err)
		assert.Nil(t, srs)
	})

	t.Run("unsupported code", func(t *testing.T) {
		_, err := open(t, demtest.GeoTIFF{Width: 2, Height: 2, EPSG: 2193}).SRS()
		var re *ReadError
		assert.ErrorAs(t, err, &re)
	})
}

func TestGeoTIFF_Statistics(t *testing.T) {
	data := []float64{-9999, 1, 2, 3, -9999, 5, 6, 7, 8}
	ds := open(t, demtest.GeoTIFF{
		Width: 3, Height: 3,
		Bands:  [][]float64{data},
		NoData: demtest.Float(-9999),
	})

	for _, approx := range []bool{true, false} {
		st, err := ds.Statistics(1, approx)
		require.NoError(t, err)
		assert.Equal(t, 1.0, st.Min)
		assert.Equal(t, 8.0, st.Max)
		assert.InDelta(t, 32.0/7, st.Mean, 1e-12)
	}

	empty := open(t, demtest.GeoTIFF{
		Width: 2, Height: 2,
		Bands:  [][]float64{demtest.Fill(4, 0)},
		NoData: demtest.Float(0),
	})
	_, err := empty.Statistics(1, false)
	assert.ErrorIs(t, err, ErrNoValidPixels)
}

func TestComputeStats(t *testing.T) {
	// One column, 1024 rows: approximate stats visit every other row.
	data := ramp(1024, 1, 0)
	exact, err := ComputeStats(data, 1, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0, exact.Min)
	assert.Equal(t, 1023.0, exact.Max)
	assert.InDelta(t, 511.5, exact.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt((1024*1024-1)/12.0), exact.StdDev, 1e-9)

	approx, err := ComputeStats(data, 1, 0, false, true)
	require.NoError(t, err)
	assert.Equal(t, 1022.0, approx.Max)
	assert.InDelta(t, 511.0, approx.Mean, 1e-9)

	data[3] = math.NaN()
	st, err := ComputeStats(data[:4], 2, 0, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 2.0, st.Max)
}

func TestGeoTIFF_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := GeoTIFF{}.Open(filepath.Join(dir, "missing.tif"))
	var re *ReadError
	require.ErrorAs(t, err, &re)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bogus := filepath.Join(dir, "bogus.tif")
	require.NoError(t, os.WriteFile(bogus, []byte("not a tiff at all"), 0o644))
	_, err = GeoTIFF{}.Open(bogus)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, bogus, re.Path)

	ds := open(t, demtest.GeoTIFF{Width: 2, Height: 2})
	_, err = ds.ReadBand(2)
	assert.ErrorAs(t, err, &re)
}

func TestOpenerFunc(t *testing.T) {
	called := ""
	var o Opener = OpenerFunc(func(path string) (Dataset, error) {
		called = path
		return nil, errors.New("boom")
	})
	_, err := o.Open("x.tif")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "x.tif", called)
}
