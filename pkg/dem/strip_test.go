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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	demtest "github.com/kraklabs/demindex/internal/testing"
	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/naming"
	"github.com/kraklabs/demindex/pkg/raster"
)

// readStrip writes a strip fixture and reads it the way the indexer does.
func readStrip(t *testing.T, dir string, fx demtest.Strip, env Env) *Strip {
	t.Helper()
	s, err := NewStrip(env, demtest.WriteStrip(t, dir, fx))
	require.NoError(t, err)
	require.NoError(t, s.ReadDEMInfo())
	return s
}

func utc(y int, mo time.Month, d, h, mi, s int) time.Time {
	return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
}

func TestNewStrip_FromMetaFile(t *testing.T) {
	s := readStrip(t, t.TempDir(), demtest.Strip{}, Env{})

	assert.Equal(t, demtest.StripID, s.StripID)
	assert.Equal(t, s.StripID, s.ID)
	assert.Equal(t, demtest.Pairname, s.Pairname)
	assert.Equal(t, "10200100991E2C00", s.CatID1)
	assert.Equal(t, "102001009A862700", s.CatID2)
	assert.Equal(t, "2m", s.Res)
	assert.Equal(t, "seg1", s.Partnum)
	assert.False(t, s.IsLSF)
	assert.False(t, s.IsXtrack)
	assert.True(t, s.EdgeMask)
	assert.False(t, s.WaterMask || s.CloudMask)

	assert.Equal(t, "SETSM 4.3.6", s.AlgmVersion)
	assert.Equal(t, "4.3", s.S2SVersion)
	assert.Equal(t, demtest.Pairname+"_2m_v040306", s.StripDEMID)
	assert.Equal(t, demtest.Pairname+"_2m_v040306", s.StripDirName)
	assert.InDelta(t, 0.5, s.RMSE, 1e-9)

	require.NotNil(t, s.CreationDate)
	assert.True(t, s.CreationDate.Equal(utc(2021, time.January, 15, 10, 11, 12)))
	assert.True(t, s.AcqDate1.Equal(utc(2020, time.June, 30, 21, 17, 11)), "acqdate1 %v", s.AcqDate1)
	assert.True(t, s.AcqDate2.Equal(utc(2020, time.June, 30, 21, 18, 11)), "acqdate2 %v", s.AcqDate2)
	require.NotNil(t, s.AvgAcqTime1)
	require.NotNil(t, s.AvgAcqTime2)
	assert.True(t, s.AvgAcqTime1.Equal(utc(2020, time.June, 30, 21, 18, 11)), "avg1 %v", s.AvgAcqTime1)
	assert.True(t, s.AvgAcqTime2.Equal(utc(2020, time.June, 30, 21, 19, 11)), "avg2 %v", s.AvgAcqTime2)
	assert.Equal(t, "WV01", s.Sensor1)
	assert.Equal(t, "WV01", s.Sensor2)

	require.Len(t, s.Scenes, 2)
	assert.Len(t, s.Alignment, 2)
	assert.Empty(t, s.RegInfoList)
	assert.NotContains(t, s.Proj4Meta, "'")

	require.NotNil(t, s.RasterInfo)
	assert.Equal(t, 32610, s.EPSG)
	assert.Equal(t, 4, s.XSize)
	assert.Equal(t, 3, s.YSize)
	assert.InDelta(t, 2.0, s.Resolution(), 1e-9)
	require.NotNil(t, s.NDV)
	assert.Equal(t, -9999.0, *s.NDV)

	require.NotNil(t, s.Geom)
	require.Len(t, s.Geom.Polygon, 1)
	assert.Len(t, s.Geom.Polygon[0], 5)
	assert.Equal(t, "n45w123", s.Geocell)

	assert.Nil(t, s.Density)
	assert.False(t, s.Stats.Known())
	require.NotNil(t, s.FileszDEM)
	assert.Greater(t, *s.FileszDEM, 0.0)
	require.NotNil(t, s.FileszOr2)
	assert.Equal(t, 0.0, *s.FileszOr2)
}

func TestNewStrip_MissingCompanions(t *testing.T) {
	tests := []struct {
		name    string
		fx      demtest.Strip
		missing []string
	}{
		{
			name:    "no matchtag",
			fx:      demtest.Strip{SkipMatchtag: true},
			missing: []string{demtest.StripID + "_matchtag.tif"},
		},
		{
			name:    "no ortho",
			fx:      demtest.Strip{SkipOrtho: true},
			missing: []string{demtest.StripID + "_ortho.tif"},
		},
		{
			name:    "no meta or mdf",
			fx:      demtest.Strip{SkipMeta: true},
			missing: []string{demtest.StripID + "_meta.txt or " + demtest.StripID + "_mdf.txt"},
		},
		{
			name: "several",
			fx:   demtest.Strip{SkipMatchtag: true, SkipOrtho: true},
			missing: []string{
				demtest.StripID + "_matchtag.tif",
				demtest.StripID + "_ortho.tif",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStrip(Env{}, demtest.WriteStrip(t, t.TempDir(), tt.fx))
			var mce *MissingCompanionFileError
			require.ErrorAs(t, err, &mce)
			assert.Equal(t, KindStrip, mce.Kind)
			assert.Equal(t, demtest.StripID, mce.ID)
			assert.Equal(t, tt.missing, mce.Missing)
			assert.Contains(t, err.Error(), "incomplete set")
		})
	}
}

func TestNewStrip_CompleteAndIncompleteSets(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 1; i <= 5; i++ {
		id := demtest.Pairname + "_2m_seg" + string(rune('0'+i))
		paths = append(paths, demtest.WriteStrip(t, dir, demtest.Strip{ID: id, SkipOrtho: i > 3}))
	}

	complete, incomplete := 0, 0
	for _, p := range paths {
		_, err := NewStrip(Env{}, p)
		var mce *MissingCompanionFileError
		switch {
		case err == nil:
			complete++
		case assert.ErrorAs(t, err, &mce):
			incomplete++
		}
	}
	assert.Equal(t, 3, complete)
	assert.Equal(t, 2, incomplete)
}

func TestNewStrip_MaskedVariants(t *testing.T) {
	tests := []struct {
		suffix string
		want   naming.MaskFlags
	}{
		{"_dem.tif", naming.MaskFlags{Edge: true}},
		{"_dem_water-masked.tif", naming.MaskFlags{Edge: true, Water: true}},
		{"_dem_cloud-water-masked.tif", naming.MaskFlags{Edge: true, Water: true, Cloud: true}},
		{"_dem_masked.tif", naming.MaskFlags{Edge: true, Water: true, Cloud: true}},
	}
	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			s, err := NewStrip(Env{}, demtest.WriteStrip(t, t.TempDir(), demtest.Strip{Suffix: tt.suffix}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, naming.MaskFlags{Edge: s.EdgeMask, Water: s.WaterMask, Cloud: s.CloudMask})
			assert.Equal(t, demtest.StripID, s.StripID)
			assert.True(t, strings.HasSuffix(s.DEM, demtest.StripID+"_dem.tif"))
		})
	}
}

func TestStrip_VersionFromFileName(t *testing.T) {
	id := demtest.Pairname + "_2m_lsf_seg1_v040204"
	s := readStrip(t, t.TempDir(), demtest.Strip{ID: id}, Env{})

	assert.True(t, s.IsLSF)
	assert.Equal(t, "v040204", s.Version)
	assert.Equal(t, demtest.Pairname+"_2m_v040204", s.StripDEMID)
	assert.Equal(t, demtest.Pairname+"_2m_lsf_v040204", s.StripDirName)
}

func TestStrip_NoValidVertices(t *testing.T) {
	r := demtest.DefaultRaster
	meta := strings.Replace(demtest.StripMetaText(r), "X: ", "X: NaN\nUnused: ", 1)
	meta = strings.Replace(meta, "Y: ", "Y: NaN\nUnusedY: ", 1)

	logger, rec := demtest.CaptureLogger()
	s := readStrip(t, t.TempDir(), demtest.Strip{Meta: meta}, Env{Logger: logger})

	assert.Nil(t, s.Geom)
	assert.Empty(t, s.Geocell)
	assert.Equal(t, 1, rec.Count(slog.LevelError, "dem.strip.no_valid_vertices"))
}

func TestStrip_MissingMetaKey(t *testing.T) {
	meta := strings.Replace(demtest.StripMetaText(demtest.DefaultRaster), "Strip creation date", "Strip built", 1)
	s, err := NewStrip(Env{}, demtest.WriteStrip(t, t.TempDir(), demtest.Strip{Meta: meta}))
	require.NoError(t, err)

	err = s.ReadDEMInfo()
	var mke *MissingMetadataKeyError
	require.ErrorAs(t, err, &mke)
	assert.Equal(t, "Strip creation date", mke.Key)
}

func TestStrip_HeaderDensityAndElevation(t *testing.T) {
	meta := strings.Replace(demtest.StripMetaText(demtest.DefaultRaster),
		"Strip Footprint Vertices\n",
		"Strip Footprint Vertices\nOutput Data Density: 0.875\nMinimum elevation value: 12.5\nMaximum elevation value: nan\n", 1)
	s := readStrip(t, t.TempDir(), demtest.Strip{Meta: meta}, Env{})

	require.NotNil(t, s.Density)
	assert.Equal(t, 0.875, *s.Density)
	require.NotNil(t, s.MinElev)
	assert.Equal(t, 12.5, *s.MinElev)
	assert.Nil(t, s.MaxElev)
}

func TestStrip_DensityCacheOverridesHeader(t *testing.T) {
	meta := strings.Replace(demtest.StripMetaText(demtest.DefaultRaster),
		"Strip Footprint Vertices\n", "Strip Footprint Vertices\nOutput Data Density: 0.875\n", 1)
	s := readStrip(t, t.TempDir(), demtest.Strip{
		Meta:    meta,
		Density: "0.75\n0.5\n90.0,110.0,100.0,5.0\n",
	}, Env{})

	require.NotNil(t, s.Density)
	assert.Equal(t, 0.75, *s.Density)
	require.NotNil(t, s.MaskedDensity)
	assert.Equal(t, 0.5, *s.MaskedDensity)
	require.True(t, s.Stats.Known())
	assert.Equal(t, 90.0, *s.Stats[0])
	assert.Equal(t, 5.0, *s.Stats[3])
}

func TestStrip_ElevRange(t *testing.T) {
	lo, hi := 1.5, 40.0
	s := &Strip{MinElev: &lo, MaxElev: &hi}
	gotLo, gotHi := s.ElevRange()
	assert.Equal(t, &lo, gotLo)
	assert.Equal(t, &hi, gotHi)

	smin := 12.0
	s.Stats = density.Stats{&smin, nil, nil, nil}
	gotLo, gotHi = s.ElevRange()
	assert.Equal(t, 12.0, *gotLo)
	assert.Equal(t, 40.0, *gotHi)

	s = &Strip{}
	gotLo, gotHi = s.ElevRange()
	assert.Nil(t, gotLo)
	assert.Nil(t, gotHi)
}

func TestStrip_RegistrationFiles(t *testing.T) {
	reg := "DEM Filename: x_dem.tif\n" +
		"Registration Dataset 1 Name: GLA14_rel34\n" +
		"Translation Vector (dz,dx,dy)(m)= 0.5, 1.5, -2.5\n" +
		"Mean Vertical Residual (m)= 0.25\n" +
		"# GCPs= 42\n"

	logger, rec := demtest.CaptureLogger()
	s := readStrip(t, t.TempDir(), demtest.Strip{Reg: reg}, Env{Logger: logger})

	require.Len(t, s.RegInfoList, 1)
	ri := s.RegInfoList[0]
	assert.Equal(t, RegICESat, ri.Name)
	assert.Equal(t, 0.5, ri.DZ)
	assert.Equal(t, 1.5, ri.DX)
	assert.Equal(t, -2.5, ri.DY)
	assert.Equal(t, 42, ri.NumGCPs)
	assert.Equal(t, 0.25, ri.MeanResidZ)
	assert.Zero(t, rec.Count(slog.LevelError, "dem.strip.registration_unparsable"))
}

func TestStrip_UnparsableRegistration(t *testing.T) {
	logger, rec := demtest.CaptureLogger()
	s := readStrip(t, t.TempDir(), demtest.Strip{Reg: "nothing useful\n"}, Env{Logger: logger})

	assert.Empty(t, s.RegInfoList)
	assert.Equal(t, 1, rec.Count(slog.LevelError, "dem.strip.registration_unparsable"))
}

func TestStrip_ComputeGeocell(t *testing.T) {
	s := readStrip(t, t.TempDir(), demtest.Strip{}, Env{})
	s.Geocell = ""
	s.Proj4Meta = "not a proj4 string"

	cell, err := s.ComputeGeocell()
	require.NoError(t, err)
	assert.Equal(t, "n45w123", cell)
	assert.Equal(t, cell, s.Geocell)

	s.Geom = nil
	_, err = s.ComputeGeocell()
	assert.Error(t, err)
}

// countingEngine returns a density engine that counts the rasters it opens.
func countingEngine(opens *int) *density.Engine {
	return density.NewEngine(raster.OpenerFunc(func(path string) (raster.Dataset, error) {
		*opens++
		return raster.GeoTIFF{}.Open(path)
	}), nil)
}

func TestStrip_ComputeDensityAndStats(t *testing.T) {
	dir := t.TempDir()
	n := demtest.DefaultRaster.Width * demtest.DefaultRaster.Height
	matchtag := demtest.Fill(n, 1)
	matchtag[0], matchtag[1], matchtag[2] = 0, 0, 0
	bitmask := demtest.Fill(n, 0)
	bitmask[11] = 1

	s := readStrip(t, dir, demtest.Strip{Matchtag: matchtag, Bitmask: bitmask}, Env{})
	require.Nil(t, s.Density)

	opens := 0
	require.NoError(t, s.ComputeDensityAndStats(countingEngine(&opens)))
	assert.Positive(t, opens)

	// Matchtag nodata is -9999, so zeros count as matched pixels.
	require.NotNil(t, s.Density)
	assert.InDelta(t, 1.0, *s.Density, 1e-9)
	require.NotNil(t, s.MaskedDensity)
	assert.InDelta(t, 11.0/12.0, *s.MaskedDensity, 1e-9)
	require.True(t, s.Stats.Known())
	assert.Equal(t, 100.0, *s.Stats[0])
	assert.Equal(t, 100.0, *s.Stats[1])

	c, err := density.ReadCache(s.DensityFile)
	require.NoError(t, err)
	assert.Equal(t, *s.Density, *c.Density)
	assert.Equal(t, *s.MaskedDensity, *c.MaskedDensity)
	assert.Equal(t, s.Stats.String(), c.Stats.String())
}

func TestStrip_CachedDensitySkipsRasterReads(t *testing.T) {
	const cache = "0.75\nNone\n90.0,110.0,100.0,5.0\n"
	s := readStrip(t, t.TempDir(), demtest.Strip{Density: cache}, Env{})

	opens := 0
	require.NoError(t, s.ComputeDensityAndStats(countingEngine(&opens)))
	assert.Zero(t, opens)

	got, err := os.ReadFile(s.DensityFile)
	require.NoError(t, err)
	assert.Equal(t, cache, string(got))
}

func TestStrip_ComputeDensityWithoutMatchtag(t *testing.T) {
	s := readStrip(t, t.TempDir(), demtest.Strip{}, Env{})
	require.NoError(t, os.Remove(s.Matchtag))

	opens := 0
	err := s.ComputeDensityAndStats(countingEngine(&opens))
	var mce *MissingCompanionFileError
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, []string{filepath.Base(s.Matchtag)}, mce.Missing)
	assert.Zero(t, opens)
}

func TestAlignmentRMSE(t *testing.T) {
	tests := []struct {
		name string
		in   map[string][]string
		want float64
	}{
		{"mean of nonzero", map[string][]string{"a": {"0.25"}, "b": {"0.75"}, "c": {"0"}}, 0.5},
		{"nan skipped", map[string][]string{"a": {"NaN"}, "b": {"1.5"}}, 1.5},
		{"all zero", map[string][]string{"a": {"0"}}, RMSENone},
		{"empty", map[string][]string{}, RMSENone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := alignmentRMSE(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := alignmentRMSE(map[string][]string{"a": {"x"}})
	assert.Error(t, err)
}

func TestMeanTime(t *testing.T) {
	ts := []time.Time{
		utc(2020, time.June, 30, 21, 17, 11),
		utc(2020, time.June, 30, 21, 19, 11),
		utc(2020, time.June, 30, 21, 21, 11),
	}
	assert.True(t, meanTime(ts).Equal(utc(2020, time.June, 30, 21, 19, 11)))
	assert.True(t, meanTime(ts[:1]).Equal(ts[0]))
}
