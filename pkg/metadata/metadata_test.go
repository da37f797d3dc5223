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

package metadata

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sceneMetaText = `Creation Date=Thu Jan 28 11:09:10 2016
SETSM Version=3.4.2
Output Projection='+proj=stere +lat_0=90 +lat_ts=70 +lon_0=-45 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs'
Image 1 satID=WV01
image_1_acquisition_time=2020-06-30T21:07:11.123456Z
broken=line=here
`

func TestParseSceneMeta(t *testing.T) {
	m, err := ParseSceneMeta(strings.NewReader(sceneMetaText), "x_meta.txt")

	var pe *ParseError
	require.True(t, errors.As(err, &pe), "want ParseError, got %v", err)
	assert.Equal(t, 6, pe.Line)
	assert.Equal(t, "x_meta.txt", pe.File)

	assert.Equal(t, "3.4.2", m["setsm_version"])
	assert.Equal(t, "WV01", m["image_1_satid"])
	assert.Equal(t, "Thu Jan 28 11:09:10 2016", m["creation_date"])
	assert.True(t, strings.HasPrefix(m["output_projection"], "'+proj=stere"))
	assert.NotContains(t, m, "broken")
}

const stripMetaText = `Strip Metadata (v4.1)
Strip projection (proj4): '+proj=stere +lat_0=90 +lat_ts=70 +lon_0=-45 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs'
Strip creation date: 07-Aug-2020 10:11:12
Output Data Density: 0.8125
X: 100 200 200 100
Y: 10 10 20 20
bad: line: twice
Mosaicking Alignment Statistics (meters, rmse, dz, dx, dy)
scene_a_meta.tif 0.12 0.5 1.0 1.5
scene_b_meta.tif nan 0 0 0
scene_c_meta.tif 0.20 0.1 0.2 0.3 0.01 0.02 0.03

Scene Metadata

scene 1 name=scene_a_meta.txt
SETSM Version=3.4.2
Image 1=/data/WV01_20200630211711_10200100991E2C00_P001.tif
Image_1_satID=WV01
Output Projection=+proj=stere +lat_0=90
scene 2 name=scene_b_meta.txt
SETSM Version=3.4.3
Image_1_Acquisition_time=2020-06-30T21:18:11.000000Z
`

func TestParseStripMeta(t *testing.T) {
	m, err := ParseStripMeta(strings.NewReader(stripMetaText), "strip_meta.txt")

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 7, pe.Line)

	assert.Equal(t, "4.1", m.S2SVersion)
	assert.Equal(t, "07-Aug-2020 10:11:12", m.Header[KeyStripCreation])
	assert.Equal(t, "100 200 200 100", m.Header[KeyStripX])
	assert.Equal(t, "0.8125", m.Header[KeyDensity])

	want := map[string][]string{
		"scene_a_meta": {"0.12", "0.5", "1.0", "1.5"},
		"scene_b_meta": {"nan", "0", "0", "0"},
		"scene_c_meta": {"0.20", "0.1", "0.2", "0.3", "0.01", "0.02", "0.03"},
	}
	if diff := cmp.Diff(want, m.Alignment); diff != "" {
		t.Errorf("alignment mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, m.Scenes, 2)
	assert.Equal(t, "scene_a_meta", m.Scenes[0][KeySceneName])
	assert.Equal(t, "3.4.2", m.Scenes[0][KeySceneSETSM])
	assert.Equal(t, "+proj=stere +lat_0=90", m.Scenes[0][KeySceneOutputProj])
	assert.Equal(t, "scene_b_meta", m.Scenes[1][KeySceneName])

	v, ok := m.SceneValue("Image_1_Acquisition_time", "Image 1 Acquisition time")
	require.True(t, ok)
	assert.Equal(t, "2020-06-30T21:18:11.000000Z", v)
}

const mdfText = `generationTime = 2020-08-07T10:11:12.000000Z;
numRows = 10;
BEGIN_GROUP = STRIP_DEM
	stripDemId = "WV01_20200630_10200100991E2C00_102001009A862700_2m_seg1";
	X1 = 100.0;
	BEGIN_GROUP = REGISTRATION
		registrationSource = "ICESat";
		registrationDX = 0.5;
	END_GROUP = REGISTRATION
	matchtagDensity = 0.81;
END_GROUP = STRIP_DEM
END;`

func TestParseGrouped(t *testing.T) {
	m, err := ParseGrouped(strings.NewReader(mdfText), "strip_mdf.txt")
	require.NoError(t, err)

	want := map[string]string{
		"generationTime":       "2020-08-07T10:11:12.000000Z",
		"numRows":              "10",
		"STRIP_DEM_stripDemId": "WV01_20200630_10200100991E2C00_102001009A862700_2m_seg1",
		"STRIP_DEM_X1":         "100.0",
		"STRIP_DEM_REGISTRATION_registrationSource": "ICESat",
		"STRIP_DEM_REGISTRATION_registrationDX":     "0.5",
		"STRIP_DEM_matchtagDensity":                 "0.81",
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("grouped mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatIMD(t *testing.T) {
	got := FormatIMD([]Entry{
		{Key: "numRows", Value: 10},
		Begin("STRIP_DEM"),
		{Key: "stripDemId", Value: Quoted("abc")},
		{Key: "density", Value: 0.5},
		{Key: "noDataValue", Value: -9999.0},
		{Key: "lsfApplied", Value: true},
		{Key: "minElev", Value: (*float64)(nil)},
		End("STRIP_DEM"),
	})
	want := "numRows = 10;\n" +
		"BEGIN_GROUP = STRIP_DEM\n" +
		"\tstripDemId = \"abc\";\n" +
		"\tdensity = 0.5;\n" +
		"\tnoDataValue = -9999.0;\n" +
		"\tlsfApplied = True;\n" +
		"\tminElev = None;\n" +
		"END_GROUP = STRIP_DEM\n" +
		"END;"
	assert.Equal(t, want, got)

	// A formatted document reads back through the grouped parser.
	m, err := ParseGrouped(strings.NewReader(got), "round.txt")
	require.NoError(t, err)
	assert.Equal(t, "abc", m["STRIP_DEM_stripDemId"])
	assert.Equal(t, "10", m["numRows"])
}

func TestParseReg(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		text := "Translation Vector (dz,dx,dy)(m)= 0.25, -1.5, 2.0\n" +
			"Mean Vertical Residual (m)= 0.31\n" +
			"# GCPs= 1234\n"
		reg, err := ParseReg(strings.NewReader(text), "x_reg.txt")
		require.NoError(t, err)
		assert.Equal(t, &Registration{DZ: 0.25, DX: -1.5, DY: 2.0, MeanResidZ: 0.31, NumGCPs: 1234}, reg)
	})
	t.Run("incomplete", func(t *testing.T) {
		reg, err := ParseReg(strings.NewReader("Mean Vertical Residual (m)= 0.31\n"), "x_reg.txt")
		assert.Nil(t, reg)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Contains(t, pe.Error(), "registration file cannot be parsed")
	})
}

func TestTileMeta(t *testing.T) {
	meta := "Creation Date: 07-Aug-2020 10:11:12\n" +
		"Version: 4.1\n" +
		"WV01_20200630_10200100991E2C00_102001009A862700_2m_lsf_seg1 0.5 0.1 0.2 0.3\n" +
		"WV02_20200701_10300100991E2C00_103001009A862700_2m_lsf_seg2 0.6 0.1 0.2 0.3\n"
	m, err := ParseTileMeta(strings.NewReader(meta), "tile_meta.txt")
	require.NoError(t, err)
	assert.Len(t, m.Alignment, 2)
	assert.Equal(t, "4.1", m.Header["Version"])

	reg := "Registration Dataset 1 Name: GLA14_rel634\n" +
		"Empty Key: \n" +
		"Mean Vertical Residual (m)= 0.2\n" +
		"Mean Vertical Residual (m)= nan\n" +
		"Mean Vertical Residual (m)= 0.4\n" +
		"# GCPs= 100\n" +
		"# GCPs= 50\n"
	require.NoError(t, m.MergeReg(strings.NewReader(reg), "tile_reg.txt"))
	assert.Equal(t, "GLA14_rel634", m.Header[KeyTileRegName])
	assert.NotContains(t, m.Header, "Empty Key")
	assert.Equal(t, []float64{100, 50}, m.NumGCPs)
	require.Len(t, m.MeanResidZ, 3)
}

func TestParseCreationDate(t *testing.T) {
	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{"", time.Time{}, false},
		{"NA", time.Time{}, false},
		{"Thu Jan 28 11:09:10 2016", time.Date(2016, 1, 28, 11, 9, 10, 0, time.UTC), true},
		{"2016-01-11 11:49:50.0 -0500", time.Date(2016, 1, 11, 11, 49, 50, 0, time.UTC), true},
		{"2016-01-11 11:49:50.835182735 -0500", time.Date(2016, 1, 11, 11, 49, 50, 835182000, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok, err := ParseCreationDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}

	_, _, err := ParseCreationDate("not a date at all")
	assert.Error(t, err)

	s, err := FormatCreationDate("Thu Jan 28 11:09:10 2016")
	require.NoError(t, err)
	assert.Equal(t, "2016-01-28T11:09:10.000000Z", s)
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		0.5:      "0.5",
		2:        "2.0",
		-9999:    "-9999.0",
		0.000012: "1.2e-05",
		1234.125: "1234.125",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatFloat(in), "FormatFloat(%v)", in)
	}

	f, err := ParseOptionalFloat("None")
	require.NoError(t, err)
	assert.Nil(t, f)
	f, err = ParseOptionalFloat(" 0.75 ")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 0.75, *f)
	assert.Equal(t, "None", FormatOptionalFloat(nil))
}
