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

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	demtest "github.com/kraklabs/demindex/internal/testing"
	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/metadata"
)

var mdfGenerated = time.Date(2021, time.February, 3, 4, 5, 6, 0, time.UTC)

const testReg = "Translation Vector (dz,dx,dy)(m)= 0.5, 1.5, -2.5\n" +
	"Mean Vertical Residual (m)= 0.25\n" +
	"# GCPs= 42\n"

// flatten renders entries and reads them back as a flat key map.
func flatten(t *testing.T, entries []metadata.Entry) map[string]string {
	t.Helper()
	m, err := metadata.ParseGrouped(strings.NewReader(metadata.FormatIMD(entries)), "mdf")
	require.NoError(t, err)
	return m
}

func TestMDFContents(t *testing.T) {
	logger, rec := demtest.CaptureLogger()
	s := readStrip(t, t.TempDir(), demtest.Strip{Reg: testReg}, Env{Logger: logger})
	require.NoError(t, s.ComputeDensityAndStats(density.NewEngine(nil, nil)))

	entries, err := s.MDFContents(mdfGenerated)
	require.NoError(t, err)
	assert.Equal(t, "generationTime", entries[0].Key)
	assert.Equal(t, metadata.End("COMPONENT_2"), entries[len(entries)-1])

	scene1 := demtest.Pairname + "_504471479080_01_P001_504471481090_01_P001_2"
	m := flatten(t, entries)
	for key, want := range map[string]string{
		"generationTime":                             "2021-02-03T04:05:06.000000Z",
		"numRows":                                    "3",
		"numColumns":                                 "4",
		"productType":                                "BasicStrip",
		"STRIP_DEM_stripDemId":                       demtest.StripID,
		"STRIP_DEM_stripCreationTime":                "2021-01-15T10:11:12.000000Z",
		"STRIP_DEM_releaseVersion":                   "NA",
		"STRIP_DEM_noDataValue":                      "-9999.0",
		"STRIP_DEM_platform1":                        "WV01",
		"STRIP_DEM_catId1":                           "10200100991E2C00",
		"STRIP_DEM_acqDate1":                         "2020-06-30",
		"STRIP_DEM_avgAcqTime1":                      "2020-06-30 21:18:11",
		"STRIP_DEM_X1":                               "500000.0",
		"STRIP_DEM_Y1":                               "5000000.0",
		"STRIP_DEM_X3":                               "500008.0",
		"STRIP_DEM_horizontalCoordSysEPSG":           "32610",
		"STRIP_DEM_horizontalResolution":             "2.0",
		"STRIP_DEM_minElevValue":                     "100.0",
		"STRIP_DEM_maxElevValue":                     "100.0",
		"STRIP_DEM_matchtagDensity":                  "1.0",
		"STRIP_DEM_lsfApplied":                       "False",
		"STRIP_DEM_REGISTRATION_registrationSource":  RegICESat,
		"STRIP_DEM_REGISTRATION_registrationDZ":      "0.5",
		"STRIP_DEM_REGISTRATION_registrationNumGCPs": "42",
		"COMPONENT_1_sceneDemId":                     scene1 + "_dem",
		"COMPONENT_1_setsmVersion":                   "4.3.6",
		"COMPONENT_1_sceneCreationDate":              "2016-01-28T11:09:10.000000Z",
		"COMPONENT_1_sourceImage1":                   "WV01_20200630211711_10200100991E2C00_P001",
		"COMPONENT_1_outputResolution":               "2",
		"COMPONENT_1_seedDem":                        "seed_dem.tif",
		"COMPONENT_1_MOSAIC_ALIGNMENT_rmse":          "0.25",
		"COMPONENT_2_MOSAIC_ALIGNMENT_rmse":          "0.75",
		"COMPONENT_2_MOSAIC_ALIGNMENT_dz_err":        "0.01",
	} {
		assert.Equal(t, want, m[key], key)
	}
	assert.NotContains(t, m, "COMPONENT_1_MOSAIC_ALIGNMENT_dz_err")
	assert.NotContains(t, m, "STRIP_DEM_X6")

	// The second scene only carries ISO acquisition times.
	assert.Equal(t, 2, rec.Count(slog.LevelWarn, "dem.strip.scene_key_missing"))
}

func TestMDFContents_Errors(t *testing.T) {
	s := readStrip(t, t.TempDir(), demtest.Strip{}, Env{})

	twoParts := *s
	twoParts.Geom = NewGeometry(orb.Polygon{s.Geom.Polygon[0], s.Geom.Polygon[0]})
	_, err := twoParts.MDFContents(mdfGenerated)
	assert.ErrorContains(t, err, "2 parts")

	noGeom := *s
	noGeom.Geom = nil
	_, err = noGeom.MDFContents(mdfGenerated)
	assert.Error(t, err)

	noRaster := *s
	noRaster.RasterInfo = nil
	_, err = noRaster.MDFContents(mdfGenerated)
	assert.Error(t, err)
}

func TestStrip_ReadFromMDF(t *testing.T) {
	dir := t.TempDir()
	orig := readStrip(t, dir, demtest.Strip{Reg: testReg}, Env{})
	require.NoError(t, orig.ComputeDensityAndStats(density.NewEngine(nil, nil)))
	require.NoError(t, orig.WriteMDF(mdfGenerated))
	require.NoError(t, os.Remove(orig.MetaPath))

	logger, rec := demtest.CaptureLogger()
	s, err := NewStrip(Env{Logger: logger}, orig.SrcFP)
	require.NoError(t, err)
	assert.Empty(t, s.MetaPath)
	require.NoError(t, s.ReadDEMInfo())

	assert.Equal(t, orig.Geom.Polygon, s.Geom.Polygon)
	assert.Equal(t, orig.Geocell, s.Geocell)
	assert.Equal(t, "SETSM 4.3.6", s.AlgmVersion)
	assert.Equal(t, orig.StripDEMID, s.StripDEMID)
	require.NotNil(t, s.CreationDate)
	assert.True(t, orig.CreationDate.Equal(s.CreationDate.Time))
	assert.True(t, s.AcqDate1.Equal(utc(2020, time.June, 30, 0, 0, 0)))
	require.NotNil(t, s.AvgAcqTime2)
	assert.True(t, s.AvgAcqTime2.Equal(utc(2020, time.June, 30, 21, 19, 11)))

	require.NotNil(t, s.Density)
	assert.Equal(t, 1.0, *s.Density)
	require.NotNil(t, s.Stats[0])
	assert.Equal(t, 100.0, *s.Stats[0])
	assert.Nil(t, s.Stats[2])

	require.Len(t, s.RegInfoList, 1)
	assert.Equal(t, RegICESat, s.RegInfoList[0].Name)
	assert.Empty(t, s.RegInfoList[0].Src)
	assert.Equal(t, 42, s.RegInfoList[0].NumGCPs)
	assert.Zero(t, rec.Count(slog.LevelWarn, "dem.strip.registration_not_found"))
}

func TestStrip_ReadFromMDF_NoRegistration(t *testing.T) {
	dir := t.TempDir()
	orig := readStrip(t, dir, demtest.Strip{}, Env{})
	require.NoError(t, orig.WriteMDF(mdfGenerated))
	require.NoError(t, os.Remove(orig.MetaPath))

	logger, rec := demtest.CaptureLogger()
	s, err := NewStrip(Env{Logger: logger}, orig.SrcFP)
	require.NoError(t, err)
	require.NoError(t, s.ReadDEMInfo())

	assert.Empty(t, s.RegInfoList)
	assert.Nil(t, s.Density)
	assert.Equal(t, 1, rec.Count(slog.LevelWarn, "dem.strip.registration_not_found"))
	assert.Equal(t, 1, rec.Count(slog.LevelInfo, "dem.strip.mdf_density_invalid"))
}

func TestWriteReadme(t *testing.T) {
	s := readStrip(t, t.TempDir(), demtest.Strip{}, Env{})
	require.NoError(t, s.WriteReadme())

	m, err := metadata.ReadGrouped(s.Readme)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(s.DEM), m["PRODUCT_1_demFilename"])
	assert.Equal(t, demtest.StripID+"_mdf.txt", m["PRODUCT_1_metadataFilename"])
	assert.Equal(t, demtest.StripID+"_dem_10m_shade.tif", m["PRODUCT_1_browseFilename"])
	assert.Contains(t, m["licenseText"], "SETSM")
}
