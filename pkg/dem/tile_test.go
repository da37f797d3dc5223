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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	demtest "github.com/kraklabs/demindex/internal/testing"
	"github.com/kraklabs/demindex/pkg/naming"
)

func readTile(t *testing.T, dir string, fx demtest.Tile, env Env) *Tile {
	t.Helper()
	tl, err := NewTile(env, demtest.WriteTile(t, dir, fx))
	require.NoError(t, err)
	require.NoError(t, tl.ReadDEMInfo())
	return tl
}

func TestNewTile(t *testing.T) {
	dir := t.TempDir()
	tl := readTile(t, dir, demtest.Tile{}, Env{})

	assert.Equal(t, "34_12_2m_v4.1", tl.TileID)
	assert.Equal(t, tl.TileID, tl.ID)
	assert.Equal(t, "34_12", tl.TileName)
	assert.Equal(t, "2m", tl.Res)
	assert.Equal(t, "v4.1", tl.Version)
	assert.Equal(t, "4.1", tl.ReleaseVersion)
	assert.Equal(t, "34_12_2m", tl.SupertileID)
	assert.False(t, tl.IsReg)
	assert.Equal(t, filepath.Join(dir, "34_12_2m_v4.1_dem_meta.txt"), tl.MetaPath)
	assert.Equal(t, filepath.Join(dir, "34_12_2m_v4.1_matchtag.tif"), tl.Matchtag)
	assert.Equal(t, filepath.Join(dir, "34_12_2m_v4.1_browse.tif"), tl.Browse)
	assert.Equal(t, filepath.Join(dir, "34_12_2m_v4.1.tar.gz"), tl.Archive)

	require.NotNil(t, tl.CreationDate)
	assert.True(t, tl.CreationDate.Equal(time.Date(2020, time.August, 7, 10, 11, 12, 0, time.UTC)))
	require.NotNil(t, tl.NumComponents)
	assert.Equal(t, 2, *tl.NumComponents)
	assert.Nil(t, tl.NumGCPs)
	assert.Nil(t, tl.MeanResidZ)
	assert.Empty(t, tl.RegSrc)
	assert.Nil(t, tl.Density)

	require.NotNil(t, tl.RasterInfo)
	assert.Equal(t, 32610, tl.EPSG)
	require.NotNil(t, tl.Geom)
	require.True(t, tl.Stats.Known())
	assert.Equal(t, 100.0, *tl.Stats[0])
	assert.Equal(t, 100.0, *tl.Stats[1])
}

func TestNewTile_Registration(t *testing.T) {
	reg := "Registration Dataset 1 Name: GLA14_rel34\n" +
		"Mean Vertical Residual (m)= 0.5\n" +
		"# GCPs= 10\n" +
		"Mean Vertical Residual (m)= NaN\n" +
		"# GCPs= 5\n"
	tl := readTile(t, t.TempDir(), demtest.Tile{Reg: reg}, Env{})

	require.NotNil(t, tl.NumGCPs)
	assert.Equal(t, 15, *tl.NumGCPs)
	require.NotNil(t, tl.MeanResidZ)
	assert.Equal(t, 0.5, *tl.MeanResidZ)
	assert.Equal(t, RegICESat, tl.RegSrc)
}

func TestNewTile_NeighborAlign(t *testing.T) {
	reg := "Registration Dataset 1 Name: Neighbor Align\n"
	tl := readTile(t, t.TempDir(), demtest.Tile{Reg: reg}, Env{})
	assert.Equal(t, "Neighbor Align", tl.RegSrc)
}

func TestNewTile_RegVariant(t *testing.T) {
	dir := t.TempDir()
	path := demtest.WriteTile(t, dir, demtest.Tile{Name: "utm10n_41_14_2_1_2m_v1.0_reg_dem.tif", SkipMeta: true})
	// Subtiles share the meta file of their supertile.
	meta := demtest.WriteFile(t, dir, "utm10n_41_14_2m_v1.0_dem_meta.txt", demtest.TileMetaText)

	tl, err := NewTile(Env{}, path)
	require.NoError(t, err)

	assert.Equal(t, meta, tl.MetaPath)
	assert.Equal(t, filepath.Join(dir, "utm10n_41_14_2m_v1.0_reg.txt"), tl.RegMetaPath)
	assert.True(t, tl.IsReg)
	assert.Equal(t, "utm10n_41_14_2_1_2m_v1.0", tl.TileID)
	assert.Equal(t, "utm10n", tl.Scheme)
	assert.Equal(t, "2_1", tl.Subtile)
	assert.Equal(t, filepath.Join(dir, "utm10n_41_14_2_1_2m_v1.0_reg_matchtag.tif"), tl.Matchtag)
}

func TestNewTile_Errors(t *testing.T) {
	t.Run("not a dem", func(t *testing.T) {
		_, err := NewTile(Env{}, filepath.Join(t.TempDir(), "34_12_2m_matchtag.tif"))
		var npe *naming.NamePatternError
		require.ErrorAs(t, err, &npe)
		assert.Equal(t, naming.KindTile, npe.Kind)
	})
	t.Run("missing meta", func(t *testing.T) {
		_, err := NewTile(Env{}, demtest.WriteTile(t, t.TempDir(), demtest.Tile{SkipMeta: true}))
		var mce *MissingCompanionFileError
		require.ErrorAs(t, err, &mce)
		assert.Equal(t, KindTile, mce.Kind)
		assert.Equal(t, []string{"34_12_2m_v4.1_dem_meta.txt"}, mce.Missing)
	})
	t.Run("missing creation date", func(t *testing.T) {
		tl, err := NewTile(Env{}, demtest.WriteTile(t, t.TempDir(), demtest.Tile{Meta: "Version: 4.1\n"}))
		require.NoError(t, err)
		var mke *MissingMetadataKeyError
		require.ErrorAs(t, tl.ReadDEMInfo(), &mke)
		assert.Equal(t, "Creation Date", mke.Key)
	})
}

func TestTile_DensityCache(t *testing.T) {
	tl := readTile(t, t.TempDir(), demtest.Tile{Density: "0.625\n"}, Env{})
	require.NotNil(t, tl.Density)
	assert.Equal(t, 0.625, *tl.Density)

	opens := 0
	require.NoError(t, tl.ComputeDensityAndStats(countingEngine(&opens)))
	assert.Zero(t, opens)
}

func TestTile_ComputeDensityAndStats(t *testing.T) {
	tl := readTile(t, t.TempDir(), demtest.Tile{}, Env{})
	_, err := os.Stat(tl.DensityFile)
	require.True(t, os.IsNotExist(err))

	opens := 0
	require.NoError(t, tl.ComputeDensityAndStats(countingEngine(&opens)))
	assert.Equal(t, 1, opens)
	require.NotNil(t, tl.Density)
	assert.InDelta(t, 1.0, *tl.Density, 1e-9)

	got, err := os.ReadFile(tl.DensityFile)
	require.NoError(t, err)
	assert.Equal(t, "1.0\n", string(got))
}

func TestTile_ComputeDensityWithoutMatchtag(t *testing.T) {
	logger, _ := demtest.CaptureLogger()
	tl := readTile(t, t.TempDir(), demtest.Tile{SkipMatchtag: true}, Env{Logger: logger})
	assert.Equal(t, tl.CountMT, tl.Matchtag)

	opens := 0
	err := tl.ComputeDensityAndStats(countingEngine(&opens))
	var mce *MissingCompanionFileError
	require.ErrorAs(t, err, &mce)
	assert.Zero(t, opens)
}

func TestTile_StatsFailureIsWarning(t *testing.T) {
	dir := t.TempDir()
	path := demtest.WriteTile(t, dir, demtest.Tile{})
	logger, rec := demtest.CaptureLogger()

	tl, err := NewTile(Env{Logger: logger}, path)
	require.NoError(t, err)
	// Every DEM pixel is nodata.
	r := demtest.DefaultRaster
	gt := r.GeoTransform
	demtest.WriteGeoTIFF(t, path, demtest.GeoTIFF{
		Width: r.Width, Height: r.Height,
		Bands:        [][]float64{demtest.Fill(r.Width*r.Height, r.NoData)},
		GeoTransform: &gt, EPSG: r.EPSG, NoData: demtest.Float(r.NoData),
	})

	require.NoError(t, tl.ReadDEMInfo())
	assert.False(t, tl.Stats.Known())
	assert.Equal(t, 1, rec.Count(slog.LevelWarn, "dem.tile.stats_failed"))
}
