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

package index

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/geom"
	"github.com/kraklabs/demindex/pkg/proj"
	"github.com/kraklabs/demindex/pkg/storage"
)

const testPairname = "WV01_20200630_10200100991E2C00_102001009A862700"

var indexDay = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func testClock() clockwork.Clock { return clockwork.NewFakeClockAt(indexDay) }

func float(v float64) *float64 { return &v }

func utmInfo() *dem.RasterInfo {
	srs := proj.MustEPSG(32610)
	return &dem.RasterInfo{
		XSize: 4, YSize: 3,
		SRS:   &dem.SpatialRef{SRS: srs},
		Proj4: srs.Proj4(),
		EPSG:  32610,
		NDV:   float(-9999),
		XRes:  2, YRes: 2,
	}
}

// utmSquare is a 1 km square with its upper left corner x0 metres east of
// the zone origin.
func utmSquare(x0 float64) *dem.Geometry {
	ul := orb.Point{500000 + x0, 5000000}
	return dem.NewGeometry(geom.FromCorners(ul,
		orb.Point{ul[0] + 1000, ul[1]},
		orb.Point{ul[0] + 1000, ul[1] - 1000},
		orb.Point{ul[0], ul[1] - 1000}))
}

func testStrip(n int) *dem.Strip {
	id := fmt.Sprintf("%s_2m_seg%d", testPairname, n)
	acq := time.Date(2020, time.June, 30, 21, 17, 11, 0, time.UTC)
	return &dem.Strip{
		StripID:      id,
		ID:           id,
		StripDEMID:   testPairname + "_2m_v040306",
		StripDirName: testPairname + "_2m_v040306",
		SrcFP:        "/data/strips/" + id + "_dem.tif",
		Pairname:     testPairname,
		CatID1:       "10200100991E2C00",
		CatID2:       "102001009A862700",
		Sensor1:      "WV01",
		Sensor2:      "WV01",
		AcqDate1:     dem.NewTime(acq),
		AcqDate2:     dem.NewTime(acq.Add(time.Minute)),
		AvgAcqTime1:  dem.TimePtr(acq.Add(time.Minute)),
		EdgeMask:     true,
		CreationDate: dem.TimePtr(time.Date(2021, time.January, 15, 10, 11, 12, 0, time.UTC)),
		AlgmVersion:  "SETSM 4.3.6",
		S2SVersion:   "4.3",
		Geocell:      "n45w123",
		RMSE:         0.5,
		Density:      float(0.12345678),
		FileszDEM:    float(0.25),
		RasterInfo:   utmInfo(),
		Geom:         utmSquare(float64(n) * 2000),
	}
}

func testScene(dsp bool) *dem.Scene {
	id := testPairname + "_504471479080_01_P001_504471481090_01_P001_2"
	acq := time.Date(2020, time.June, 30, 21, 17, 11, 0, time.UTC)
	s := &dem.Scene{
		SceneID:      id,
		ID:           id,
		SrcFP:        "/data/scenes/" + id + "_meta.txt",
		Pairname:     testPairname,
		CatID1:       "10200100991E2C00",
		CatID2:       "102001009A862700",
		Sensor1:      "WV01",
		Sensor2:      "WV01",
		AcqDate1:     dem.NewTime(acq),
		AcqDate2:     dem.NewTime(acq.Add(time.Minute)),
		AlgmVersion:  "SETSM 4.3.6",
		CreationDate: dem.TimePtr(time.Date(2016, time.January, 28, 11, 9, 10, 0, time.UTC)),
		StripDEMID:   testPairname + "_2m_v040306",
		FileszDEM:    float(0.5),
		FileszMT:     float(0.1),
		FileszOr:     float(0.2),
		RasterInfo:   utmInfo(),
		Geom:         utmSquare(0),
	}
	if dsp {
		s.IsDSP = true
		s.DSPSceneID = testPairname + "_504471479080_01_P001_504471481090_01_P001_0"
		s.DSPStripDEMID = testPairname + "_50cm_v040306"
		s.DSPDEMRes = float(0.5)
		s.DSPFileszDEM = float(4.5)
	}
	return s
}

func testTile() *dem.Tile {
	return &dem.Tile{
		TileID:         "34_12_2m_v4.1",
		ID:             "34_12_2m_v4.1",
		SrcFP:          "/data/tiles/34_12_2m_v4.1_dem.tif",
		TileName:       "34_12",
		SupertileID:    "34_12_2m",
		Res:            "2m",
		ReleaseVersion: "4.1",
		CreationDate:   dem.TimePtr(time.Date(2020, time.August, 7, 10, 11, 12, 0, time.UTC)),
		NumComponents:  intPtr(2),
		FileszDEM:      float(1.5),
		RasterInfo:     utmInfo(),
		Geom:           utmSquare(0),
	}
}

func intPtr(v int) *int { return &v }

func newSink(t *testing.T) *storage.EmbeddedSink {
	t.Helper()
	sink, err := storage.NewEmbeddedSink(storage.EmbeddedConfig{Path: filepath.Join(t.TempDir(), "index.gpkg")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func readLayer(t *testing.T, sink storage.Sink, name string) []storage.Feature {
	t.Helper()
	ctx := context.Background()
	layer, err := sink.OpenLayer(ctx, name)
	require.NoError(t, err)
	defer func() { _ = layer.Close() }()
	features, err := layer.Features(ctx)
	require.NoError(t, err)
	return features
}

func records[T dem.Record](rs ...T) []dem.Record {
	out := make([]dem.Record, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}
