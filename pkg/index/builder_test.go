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
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	demtest "github.com/kraklabs/demindex/internal/testing"
	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/proj"
	"github.com/kraklabs/demindex/pkg/storage"
)

func build(t *testing.T, sink storage.Sink, layer string, srs *proj.SRS, opts Options, recs []dem.Record) (Result, error) {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = testClock()
	}
	b, err := NewBuilder(sink, layer, srs, opts)
	require.NoError(t, err)
	return b.Write(context.Background(), recs)
}

func TestNewBuilder_Errors(t *testing.T) {
	sink := newSink(t)
	wgs := proj.MustEPSG(4326)

	_, err := NewBuilder(sink, "strips", wgs, Options{Mode: ModeStrip, Overwrite: true, Append: true})
	var sse *SinkStateError
	require.ErrorAs(t, err, &sse)
	assert.Equal(t, "strips", sse.Layer)

	_, err = NewBuilder(sink, "strips", wgs, Options{Mode: "mosaic"})
	assert.Error(t, err)

	_, err = NewBuilder(sink, "strips", nil, Options{Mode: ModeStrip})
	assert.Error(t, err)

	_, err = NewBuilder(sink, "scenes", wgs, Options{Mode: ModeScene, Schema: SchemaOptions{Release: true}})
	assert.ErrorContains(t, err, "release fields")
}

func TestBuilder_StripAttributes(t *testing.T) {
	sink := newSink(t)
	regions := Regions{testPairname: {Region: "arcticdem_02_greenland_southeast"}}

	res, err := build(t, sink, "strips", proj.MustEPSG(4326),
		Options{Mode: ModeStrip, Regions: regions}, records(testStrip(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Inserted)
	assert.Zero(t, res.Invalid)

	features := readLayer(t, sink, "strips")
	require.Len(t, features, 1)
	a := features[0].Attrs
	s := testStrip(1)

	assert.Equal(t, s.StripID, a["DEM_ID"])
	assert.Equal(t, s.StripDEMID, a["STRIPDEMID"])
	assert.Equal(t, "2020-06-30", a["ACQDATE1"])
	assert.Equal(t, "2020-06-30", a["ACQDATE2"])
	assert.Equal(t, "2020-06-30 21:18:11", a["AVGACQTM1"])
	assert.Nil(t, a["AVGACQTM2"])
	assert.Equal(t, int64(1), a["EDGEMASK"])
	assert.Equal(t, int64(0), a["WATERMASK"])
	assert.Equal(t, int64(0), a["IS_LSF"])
	assert.Equal(t, "SETSM 4.3.6", a["ALGM_VER"])
	assert.Equal(t, "4.3", a["S2S_VER"])
	assert.Equal(t, 0.5, a["RMSE"])
	assert.Equal(t, 0.123457, a["DENSITY"])
	assert.Equal(t, NoValue, a["MASK_DENS"])
	assert.Equal(t, NoValue, a["MIN_ELEV"])
	assert.Equal(t, NoValue, a["MAX_ELEV"])
	assert.Equal(t, int64(32610), a["EPSG"])
	assert.Equal(t, "n45w123", a["GEOCELL"])
	assert.Equal(t, "arcticdem_02_greenland_southeast", a["REGION"])
	assert.Equal(t, "2026-03-01", a["INDEX_DATE"])
	assert.Equal(t, "2021-01-15", a["CR_DATE"])
	assert.Equal(t, 2.0, a["DEM_RES"])
	assert.Equal(t, -9999.0, a["ND_VALUE"])
	assert.Equal(t, s.SrcFP, a["LOCATION"])
	assert.Equal(t, 0.25, a["FILESZ_DEM"])
	assert.Nil(t, a["FILESZ_MT"])

	lat, ok := a["CENT_LAT"].(float64)
	require.True(t, ok)
	lon, ok := a["CENT_LON"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 45.1, lat, 0.2)
	assert.InDelta(t, -122.95, lon, 0.1)

	mp, ok := features[0].Geometry.(orb.MultiPolygon)
	require.True(t, ok)
	require.Len(t, mp, 1)
	assert.InDelta(t, lon, mp[0][0][0][0], 0.1)
}

func TestBuilder_ElevationRange(t *testing.T) {
	tests := []struct {
		name     string
		header   [2]*float64
		stats    density.Stats
		min, max any
	}{
		{"unknown", [2]*float64{}, density.Stats{}, NoValue, NoValue},
		{"header", [2]*float64{float(1.5), float(40)}, density.Stats{}, 1.5, 40.0},
		{"stats", [2]*float64{}, density.Stats{float(12), float(90), nil, nil}, 12.0, 90.0},
		{"stats win over header", [2]*float64{float(1.5), float(40)}, density.Stats{float(12.1234567), float(90), nil, nil}, 12.123457, 90.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newSink(t)
			s := testStrip(1)
			s.MinElev, s.MaxElev = tt.header[0], tt.header[1]
			s.Stats = tt.stats

			_, err := build(t, sink, "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip}, records(s))
			require.NoError(t, err)

			features := readLayer(t, sink, "strips")
			require.Len(t, features, 1)
			assert.Equal(t, tt.min, features[0].Attrs["MIN_ELEV"])
			assert.Equal(t, tt.max, features[0].Attrs["MAX_ELEV"])
		})
	}
}

func TestBuilder_Preflight(t *testing.T) {
	sink := newSink(t)
	wgs := proj.MustEPSG(4326)

	_, err := build(t, sink, "strips", wgs, Options{Mode: ModeStrip}, records(testStrip(1), testStrip(2)))
	require.NoError(t, err)
	require.Len(t, readLayer(t, sink, "strips"), 2)

	t.Run("existing layer is refused", func(t *testing.T) {
		_, err := build(t, sink, "strips", wgs, Options{Mode: ModeStrip}, records(testStrip(3)))
		var sse *SinkStateError
		require.ErrorAs(t, err, &sse)
		assert.Len(t, readLayer(t, sink, "strips"), 2)
	})

	t.Run("overwrite replaces", func(t *testing.T) {
		_, err := build(t, sink, "strips", wgs, Options{Mode: ModeStrip, Overwrite: true}, records(testStrip(3)))
		require.NoError(t, err)
		features := readLayer(t, sink, "strips")
		require.Len(t, features, 1)
		assert.Equal(t, testStrip(3).StripID, features[0].Attrs["DEM_ID"])
	})

	t.Run("append adds", func(t *testing.T) {
		_, err := build(t, sink, "strips", wgs, Options{Mode: ModeStrip, Append: true}, records(testStrip(4), testStrip(5)))
		require.NoError(t, err)
		assert.Len(t, readLayer(t, sink, "strips"), 3)
	})
}

func TestBuilder_DryRun(t *testing.T) {
	sink := newSink(t)
	res, err := build(t, sink, "strips", proj.MustEPSG(4326),
		Options{Mode: ModeStrip, DryRun: true, Check: true}, records(testStrip(1), testStrip(2)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Empty(t, res.RecordIDs)

	exists, err := sink.LayerExists(context.Background(), "strips")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuilder_LocationTooLong(t *testing.T) {
	sink, err := storage.NewShapefileSink(filepath.Join(t.TempDir(), "strips.shp"), nil)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	logger, rec := demtest.CaptureLogger()

	long := testStrip(2)
	long.SrcFP = "/" + strings.Repeat("d", 300) + "/" + long.StripID + "_dem.tif"

	res, err := build(t, sink, "strips", proj.MustEPSG(4326),
		Options{Mode: ModeStrip, Logger: logger}, records(testStrip(1), long, testStrip(3)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, rec.Count(slog.LevelWarn, "index.location.too_long"))
	assert.Equal(t, 1, rec.Count(slog.LevelError, "index.invalid_records"))

	features := readLayer(t, sink, "strips")
	require.Len(t, features, 2)
	assert.Equal(t, testStrip(3).StripID, features[1].Attrs["DEM_ID"])
}

func TestBuilder_FieldMissingFromLayer(t *testing.T) {
	ctx := context.Background()
	sink := newSink(t)
	layer, err := sink.CreateLayer(ctx, "strips", proj.MustEPSG(4326))
	require.NoError(t, err)
	require.NoError(t, layer.CreateField(ctx, storage.FieldDef{Name: "DEM_ID", Type: storage.FieldString, Width: 254}))
	require.NoError(t, layer.Close())

	logger, rec := demtest.CaptureLogger()
	res, err := build(t, sink, "strips", proj.MustEPSG(4326),
		Options{Mode: ModeStrip, Append: true, Logger: logger}, records(testStrip(1)))

	var ie *IncompleteError
	require.ErrorAs(t, err, &ie)
	assert.Zero(t, ie.Written)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, 1, rec.Count(slog.LevelError, "index.no_valid_records"))

	entry, ok := rec.Find("index.feature.skipped")
	require.True(t, ok)
	assert.Contains(t, fmt.Sprint(entry.Attrs["err"]), "not in target layer")
}

func TestBuilder_Lowercase(t *testing.T) {
	sink := newSink(t)
	res, err := build(t, sink, "strips", proj.MustEPSG(4326),
		Options{Mode: ModeStrip, Schema: SchemaOptions{Lowercase: true}, Check: true}, records(testStrip(1)))
	require.NoError(t, err)
	assert.Empty(t, res.Missing)

	features := readLayer(t, sink, "strips")
	require.Len(t, features, 1)
	assert.Equal(t, testStrip(1).StripID, features[0].Attrs["dem_id"])
	assert.NotContains(t, features[0].Attrs, "DEM_ID")
}

func geographicStrip() *dem.Strip {
	s := testStrip(1)
	wgs := proj.MustEPSG(4326)
	s.RasterInfo = &dem.RasterInfo{SRS: &dem.SpatialRef{SRS: wgs}, EPSG: 4326, Proj4: wgs.Proj4(), XRes: 2, YRes: 2}
	s.Geom = dem.NewGeometry(orb.Polygon{orb.Ring{{179, 10}, {-179, 10}, {-179, 11}, {179, 11}, {179, 10}}})
	return s
}

func TestBuilder_Antimeridian(t *testing.T) {
	t.Run("geographic target is split", func(t *testing.T) {
		sink := newSink(t)
		_, err := build(t, sink, "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip}, records(geographicStrip()))
		require.NoError(t, err)

		features := readLayer(t, sink, "strips")
		require.Len(t, features, 1)
		mp, ok := features[0].Geometry.(orb.MultiPolygon)
		require.True(t, ok)
		require.Len(t, mp, 2)
		for _, p := range mp {
			b := p.Bound()
			assert.LessOrEqual(t, b.Max[0]-b.Min[0], 180.0)
		}
	})

	t.Run("projected target is not split", func(t *testing.T) {
		sink := newSink(t)
		_, err := build(t, sink, "strips", proj.MustEPSG(32610), Options{Mode: ModeStrip}, records(testStrip(1)))
		require.NoError(t, err)

		features := readLayer(t, sink, "strips")
		require.Len(t, features, 1)
		mp, ok := features[0].Geometry.(orb.MultiPolygon)
		require.True(t, ok)
		require.Len(t, mp, 1)
		assert.InDelta(t, 502000, mp[0][0][0][0], 1e-6)
	})
}

func TestBuilder_NoFootprint(t *testing.T) {
	sink := newSink(t)
	s := testStrip(2)
	s.Geom = nil

	res, err := build(t, sink, "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip}, records(testStrip(1), s))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Invalid)
}

func TestBuilder_WrongKind(t *testing.T) {
	sink := newSink(t)
	res, err := build(t, sink, "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip},
		[]dem.Record{testStrip(1), testTile()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Invalid)
}

func sceneByDSP(t *testing.T, features []storage.Feature, isDSP int64) map[string]any {
	t.Helper()
	for _, f := range features {
		if f.Attrs["IS_DSP"] == isDSP {
			return f.Attrs
		}
	}
	t.Fatalf("no scene feature with IS_DSP=%d", isDSP)
	return nil
}

func TestBuilder_SceneDSPModes(t *testing.T) {
	wgs := proj.MustEPSG(4326)

	t.Run("both", func(t *testing.T) {
		sink := newSink(t)
		res, err := build(t, sink, "scenes", wgs,
			Options{Mode: ModeScene, DSPMode: DSPModeBoth, StatusOrig: "tape", Check: true}, records(testScene(true)))
		require.NoError(t, err)
		assert.Equal(t, 2, res.Written)
		assert.Empty(t, res.Missing)

		features := readLayer(t, sink, "scenes")
		require.Len(t, features, 2)
		s := testScene(true)

		dsp := sceneByDSP(t, features, 1)
		assert.Equal(t, s.SceneID, dsp["SCENEDEMID"])
		assert.Equal(t, s.StripDEMID, dsp["STRIPDEMID"])
		assert.Equal(t, DefaultStatus, dsp["STATUS"])
		assert.Equal(t, "2020-06-30T21:17:11Z", dsp["ACQDATE1"])
		assert.Equal(t, int64(1), dsp["HAS_NONLSF"])
		assert.Equal(t, int64(0), dsp["HAS_LSF"])
		assert.Equal(t, 0.5, dsp["FILESZ_DEM"])
		assert.Equal(t, 2.0, dsp["DEM_RES"])

		orig := sceneByDSP(t, features, 0)
		assert.Equal(t, s.DSPSceneID, orig["SCENEDEMID"])
		assert.Equal(t, s.DSPStripDEMID, orig["STRIPDEMID"])
		assert.Equal(t, "tape", orig["STATUS"])
		assert.Nil(t, orig["FILESZ_DEM"])
		assert.Nil(t, orig["FILESZ_OR"])
		assert.Equal(t, 0.5, orig["DEM_RES"])
	})

	t.Run("orig skips scenes that are not downsampled", func(t *testing.T) {
		sink := newSink(t)
		res, err := build(t, sink, "scenes", wgs, Options{Mode: ModeScene, DSPMode: DSPModeOrig}, records(testScene(false)))
		var ie *IncompleteError
		require.ErrorAs(t, err, &ie)
		assert.Zero(t, res.Written)
		assert.Zero(t, res.Invalid)
	})

	t.Run("orig without dsp info", func(t *testing.T) {
		s := testScene(true)
		s.DSPFileszDEM = nil

		res, err := build(t, newSink(t), "scenes", wgs, Options{Mode: ModeScene, DSPMode: DSPModeOrig}, records(s))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Written)

		res, err = build(t, newSink(t), "scenes", wgs,
			Options{Mode: ModeScene, DSPMode: DSPModeOrig, SkipMissingDSPInfo: true}, records(s))
		require.Error(t, err)
		assert.Equal(t, 1, res.Invalid)
	})

	t.Run("dsp without file sizes", func(t *testing.T) {
		s := testScene(false)
		s.FileszDEM = nil
		logger, rec := demtest.CaptureLogger()

		res, err := build(t, newSink(t), "scenes", wgs,
			Options{Mode: ModeScene, Logger: logger}, records(testScene(false), s))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Written)
		assert.Equal(t, 1, res.Invalid)
		assert.Equal(t, 1, rec.Count(slog.LevelWarn, "index.record.skipped"))
	})
}

func TestBuilder_TileAttributes(t *testing.T) {
	sink := newSink(t)
	_, err := build(t, sink, "tiles", proj.MustEPSG(3413),
		Options{Mode: ModeTile}, records(testTile()))
	require.NoError(t, err)

	features := readLayer(t, sink, "tiles")
	require.Len(t, features, 1)
	a := features[0].Attrs
	assert.Equal(t, "34_12_2m_v4.1", a["DEM_ID"])
	assert.Equal(t, "34_12", a["TILE"])
	assert.Equal(t, int64(2), a["NUM_COMP"])
	assert.Equal(t, NoValue, a["DENSITY"])
	assert.NotContains(t, a, "REL_VER")
	assert.Equal(t, 1.5, a["FILESZ_DEM"])
	assert.Equal(t, "2020-08-07", a["CR_DATE"])
	assert.NotContains(t, a, "CENT_LAT")
	assert.NotContains(t, a, "REG_SRC")
}

func TestBuilder_ReleaseFields(t *testing.T) {
	t.Run("tile", func(t *testing.T) {
		sink := newSink(t)
		res, err := build(t, sink, "tiles", proj.MustEPSG(3413),
			Options{Mode: ModeTile, Schema: SchemaOptions{Release: true}, Check: true}, records(testTile()))
		require.NoError(t, err)
		assert.Empty(t, res.Missing)
		assert.Equal(t, []string{"34_12_2m_v4.1|34_12|2020-08-07"}, res.RecordIDs)

		features := readLayer(t, sink, "tiles")
		require.Len(t, features, 1)
		a := features[0].Attrs
		assert.Equal(t, "4.1", a["RELEASEVER"])
		assert.Equal(t, 2.0, a["GSD"])
		assert.Equal(t, NoValue, a["DATA_PERC"])
		assert.Equal(t, "2020-08-07", a["CR_DATE"])
		for _, name := range []string{"REL_VER", "DEM_RES", "DENSITY", "LOCATION", "FILESZ_DEM", "INDEX_DATE", "ND_VALUE"} {
			assert.NotContains(t, a, name)
		}
	})

	t.Run("strip", func(t *testing.T) {
		sink := newSink(t)
		res, err := build(t, sink, "strips", proj.MustEPSG(4326),
			Options{Mode: ModeStrip, Schema: SchemaOptions{Release: true}, Check: true}, records(testStrip(1)))
		require.NoError(t, err)
		assert.Empty(t, res.Missing)

		features := readLayer(t, sink, "strips")
		require.Len(t, features, 1)
		a := features[0].Attrs
		s := testStrip(1)
		assert.Equal(t, s.StripID, a["DEM_ID"])
		assert.Equal(t, "2020-06-30 21:18:11", a["ACQDATE1"])
		assert.Nil(t, a["ACQDATE2"])
		assert.Equal(t, "SETSM 4.3.6", a["SETSM_VER"])
		assert.Equal(t, 0.123457, a["DATA_PERC"])
		assert.Equal(t, 2.0, a["GSD"])
		assert.Contains(t, a, "CENT_LAT")
		for _, name := range []string{"AVGACQTM1", "ALGM_VER", "DENSITY", "MASK_DENS", "LOCATION", "INDEX_DATE"} {
			assert.NotContains(t, a, name)
		}
	})
}

func TestBuilder_LongNames(t *testing.T) {
	tests := []struct {
		name   string
		schema SchemaOptions
		want   map[string]any
		absent []string
	}{
		{
			name:   "long",
			schema: SchemaOptions{LongNames: true},
			want:   map[string]any{"STRIP_DEM_ID": testStrip(1).StripDEMID, "CREATION_DATE": "2021-01-15", "DEM_RESOLUTION": 2.0},
			absent: []string{"STRIPDEMID", "CR_DATE", "DEM_RES"},
		},
		{
			name:   "long lowercase",
			schema: SchemaOptions{LongNames: true, Lowercase: true},
			want:   map[string]any{"strip_dem_id": testStrip(1).StripDEMID, "edge_mask": int64(1)},
			absent: []string{"stripdemid", "EDGE_MASK"},
		},
		{
			name:   "long release",
			schema: SchemaOptions{LongNames: true, Release: true},
			want:   map[string]any{"SETSM_VERSION": "SETSM 4.3.6", "DATA_PERCENT": 0.123457, "GSD": 2.0},
			absent: []string{"ALGORITHM_VERSION", "SETSM_VER"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newSink(t)
			res, err := build(t, sink, "strips", proj.MustEPSG(4326),
				Options{Mode: ModeStrip, Schema: tt.schema, Check: true}, records(testStrip(1)))
			require.NoError(t, err)
			assert.Empty(t, res.Missing)
			assert.Zero(t, res.Invalid)

			features := readLayer(t, sink, "strips")
			require.Len(t, features, 1)
			a := features[0].Attrs
			for k, v := range tt.want {
				assert.Equal(t, v, a[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, a, k)
			}
		})
	}
}

// lossyLayer drops the features its filter rejects.
type lossyLayer struct {
	storage.Layer
	drop func(storage.Feature) bool
	err  error
}

func (l *lossyLayer) CreateFeature(ctx context.Context, f storage.Feature) error {
	if l.err != nil {
		return l.err
	}
	if l.drop != nil && l.drop(f) {
		return nil
	}
	return l.Layer.CreateFeature(ctx, f)
}

type lossySink struct {
	storage.Sink
	layer *lossyLayer
}

func (s *lossySink) CreateLayer(ctx context.Context, name string, srs *proj.SRS) (storage.Layer, error) {
	l, err := s.Sink.CreateLayer(ctx, name, srs)
	if err != nil {
		return nil, err
	}
	s.layer.Layer = l
	return s.layer, nil
}

func TestBuilder_CheckFindsMissingRecords(t *testing.T) {
	dropped := testStrip(2)
	sink := &lossySink{Sink: newSink(t), layer: &lossyLayer{drop: func(f storage.Feature) bool {
		return f.Attrs["DEM_ID"] == dropped.StripID
	}}}
	logger, rec := demtest.CaptureLogger()

	res, err := build(t, sink, "strips", proj.MustEPSG(4326),
		Options{Mode: ModeStrip, Check: true, Logger: logger}, records(testStrip(1), dropped))

	var ie *IncompleteError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Written)
	assert.Equal(t, 1, ie.Missing)
	want := strings.Join([]string{dropped.StripID, dropped.StripDEMID, dropped.SrcFP, "2026-03-01"}, "|")
	assert.Equal(t, []string{want}, res.Missing)
	assert.Equal(t, 1, rec.Count(slog.LevelError, "index.check.missing"))
	assert.Equal(t, 1, rec.Count(slog.LevelError, "index.check.example"))
}

func TestBuilder_Duplicates(t *testing.T) {
	sink := &lossySink{Sink: newSink(t), layer: &lossyLayer{err: fmt.Errorf("insert: %w", storage.ErrDuplicate)}}
	logger, rec := demtest.CaptureLogger()

	var recs []dem.Record
	for i := 1; i <= 32; i++ {
		recs = append(recs, testStrip(i))
	}
	res, err := build(t, sink, "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip, Logger: logger}, recs)
	require.NoError(t, err)
	assert.Equal(t, 32, res.Written)
	assert.Equal(t, 32, res.Duplicates)
	assert.Zero(t, res.Inserted)

	assert.Equal(t, 30, rec.Count(slog.LevelError, "index.feature.duplicate"))
	assert.Equal(t, 2, rec.Count(slog.LevelDebug, "index.feature.duplicate"))
	assert.Equal(t, 1, rec.Count(slog.LevelWarn, "index.feature.duplicate_limit"))
	assert.Equal(t, 1, rec.Count(slog.LevelWarn, "index.duplicate_records"))
}

func TestBuilder_CanceledContext(t *testing.T) {
	sink := newSink(t)
	b, err := NewBuilder(sink, "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip, Clock: testClock()})
	require.NoError(t, err)
	require.NoError(t, b.Prepare(context.Background()))
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Add(ctx, testStrip(1)), context.Canceled)
}

func TestBuilder_AddBeforePrepare(t *testing.T) {
	b, err := NewBuilder(newSink(t), "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip})
	require.NoError(t, err)
	assert.Error(t, b.Add(context.Background(), testStrip(1)))
}

func TestBuilder_FromProductFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := dem.NewStrip(dem.Env{}, demtest.WriteStrip(t, dir, demtest.Strip{}))
	require.NoError(t, err)
	require.NoError(t, s.ReadDEMInfo())

	sink := newSink(t)
	res, err := build(t, sink, "strips", proj.MustEPSG(4326), Options{Mode: ModeStrip, Check: true}, records(s))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	features := readLayer(t, sink, "strips")
	require.Len(t, features, 1)
	assert.Equal(t, demtest.StripID, features[0].Attrs["DEM_ID"])
	assert.Equal(t, demtest.Pairname+"_2m_v040306", features[0].Attrs["STRIPDEMID"])
	assert.Equal(t, "n45w123", features[0].Attrs["GEOCELL"])
}
