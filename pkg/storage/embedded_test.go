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

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/demindex/pkg/proj"
)

func setupEmbeddedSink(t *testing.T, path string) *EmbeddedSink {
	t.Helper()
	s, err := NewEmbeddedSink(EmbeddedConfig{Path: path})
	require.NoError(t, err)
	return s
}

func TestEmbeddedSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dems.gpkg")
	exerciseSink(t, func() Sink { return setupEmbeddedSink(t, path) })
}

func TestEmbeddedSink_MissingDirectory(t *testing.T) {
	_, err := NewEmbeddedSink(EmbeddedConfig{Path: filepath.Join(t.TempDir(), "missing", "dems.gpkg")})
	assert.Error(t, err)
}

func TestEmbeddedSink_LayersAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := setupEmbeddedSink(t, filepath.Join(t.TempDir(), "dems.gdb"))
	defer func() { require.NoError(t, s.Close()) }()

	for _, name := range []string{"scenes", "strips"} {
		l, err := s.CreateLayer(ctx, name, proj.MustEPSG(3413))
		require.NoError(t, err)
		require.NoError(t, l.CreateField(ctx, FieldDef{Name: "DEM_ID", Type: FieldString, Width: 80}))
		require.NoError(t, l.CreateFeature(ctx, Feature{
			Attrs:    map[string]any{"DEM_ID": name},
			Geometry: square(0, 0),
		}))
	}

	require.NoError(t, s.DeleteLayer(ctx, "scenes"))
	exists, err := s.LayerExists(ctx, "scenes")
	require.NoError(t, err)
	assert.False(t, exists)

	l, err := s.OpenLayer(ctx, "strips")
	require.NoError(t, err)
	assert.Equal(t, []FieldDef{{Name: "DEM_ID", Type: FieldString, Width: 80}}, l.Fields())
	got, err := l.Features(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "strips", got[0].Attrs["DEM_ID"])
}

func TestEmbeddedSink_NullValues(t *testing.T) {
	ctx := context.Background()
	s := setupEmbeddedSink(t, filepath.Join(t.TempDir(), "dems.gpkg"))
	defer func() { require.NoError(t, s.Close()) }()

	l, err := s.CreateLayer(ctx, "scenes", proj.MustEPSG(4326))
	require.NoError(t, err)
	require.NoError(t, l.CreateField(ctx, FieldDef{Name: "FILESZ_DEM", Type: FieldReal}))
	require.NoError(t, l.CreateField(ctx, FieldDef{Name: "REGION", Type: FieldString, Width: 64}))
	require.NoError(t, l.CreateFeature(ctx, Feature{
		Attrs:    map[string]any{"FILESZ_DEM": nil},
		Geometry: square(0, 0),
	}))

	got, err := l.Features(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Attrs["FILESZ_DEM"])
	assert.Nil(t, got[0].Attrs["REGION"])
}

func TestEmbeddedSink_Closed(t *testing.T) {
	ctx := context.Background()
	s := setupEmbeddedSink(t, filepath.Join(t.TempDir(), "dems.gpkg"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	_, err := s.LayerExists(ctx, "scenes")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEmbeddedSink_CanceledContext(t *testing.T) {
	s := setupEmbeddedSink(t, filepath.Join(t.TempDir(), "dems.gpkg"))
	defer func() { require.NoError(t, s.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CreateLayer(ctx, "scenes", proj.MustEPSG(4326))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShapefileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.shp")
	exerciseSink(t, func() Sink {
		s, err := NewShapefileSink(path, nil)
		require.NoError(t, err)
		return s
	})
}

func TestShapefileSink_WritesPrj(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewShapefileSink(filepath.Join(dir, "index.shp"), nil)
	require.NoError(t, err)

	l, err := s.CreateLayer(ctx, "index", proj.MustEPSG(32610))
	require.NoError(t, err)
	require.NoError(t, l.CreateField(ctx, FieldDef{Name: "DEM_ID", Type: FieldString, Width: 254}))
	require.NoError(t, l.CreateFeature(ctx, Feature{Attrs: map[string]any{"DEM_ID": "x"}, Geometry: square(0, 0)}))
	require.NoError(t, s.Close())

	prj, err := os.ReadFile(filepath.Join(dir, "index.prj"))
	require.NoError(t, err)
	assert.Equal(t, proj.MustEPSG(32610).ESRIWKT(), string(prj))
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		assert.FileExists(t, filepath.Join(dir, "index"+ext))
	}
}

func TestShapefileSink_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.shp")

	s, err := NewShapefileSink(path, nil)
	require.NoError(t, err)
	l, err := s.CreateLayer(ctx, "index", proj.MustEPSG(4326))
	require.NoError(t, err)
	require.NoError(t, l.CreateField(ctx, FieldDef{Name: "DEM_ID", Type: FieldString, Width: 32}))
	require.NoError(t, l.CreateField(ctx, FieldDef{Name: "NUM_GCPS", Type: FieldInteger}))
	require.NoError(t, l.CreateFeature(ctx, Feature{
		Attrs:    map[string]any{"DEM_ID": "first", "NUM_GCPS": int64(7)},
		Geometry: square(0, 0),
	}))
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"index.shp", "index.shx", "index.dbf", "index.prj"}, names)

	s, err = NewShapefileSink(path, nil)
	require.NoError(t, err)
	l, err = s.OpenLayer(ctx, "index")
	require.NoError(t, err)
	require.Len(t, l.Fields(), 2)
	assert.Equal(t, "DEM_ID", l.Fields()[0].Name)
	assert.Equal(t, FieldInteger, l.Fields()[1].Type)

	require.NoError(t, l.CreateFeature(ctx, Feature{
		Attrs:    map[string]any{"DEM_ID": "second", "NUM_GCPS": int64(3)},
		Geometry: square(2, 2),
	}))
	got, err := l.Features(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Attrs["DEM_ID"])
	assert.Equal(t, int64(7), got[0].Attrs["NUM_GCPS"])
	assert.Equal(t, "second", got[1].Attrs["DEM_ID"])
	assert.Equal(t, int64(3), got[1].Attrs["NUM_GCPS"])
}

func TestShapefileSink_FieldRules(t *testing.T) {
	ctx := context.Background()
	s, err := NewShapefileSink(filepath.Join(t.TempDir(), "index.shp"), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	l, err := s.CreateLayer(ctx, "index", proj.MustEPSG(4326))
	require.NoError(t, err)
	assert.Error(t, l.CreateField(ctx, FieldDef{Name: "DESCRIPTION", Type: FieldString}), "names are limited to 10 characters")
	require.NoError(t, l.CreateField(ctx, FieldDef{Name: "LOCATION", Type: FieldString, Width: 512}))
	assert.Error(t, l.CreateField(ctx, FieldDef{Name: "location", Type: FieldString}), "duplicate name")
	assert.Equal(t, shapefileMaxWidth, l.Fields()[0].Width)

	require.NoError(t, l.CreateFeature(ctx, Feature{Attrs: map[string]any{}, Geometry: square(0, 0)}))
	assert.Error(t, l.CreateField(ctx, FieldDef{Name: "LATE", Type: FieldInteger}))
	assert.Error(t, l.CreateFeature(ctx, Feature{Attrs: map[string]any{}, Geometry: orb.Point{1, 2}}))
}

func TestShapefileSink_MultiPolygon(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.shp")
	s, err := NewShapefileSink(path, nil)
	require.NoError(t, err)

	l, err := s.CreateLayer(ctx, "index", proj.MustEPSG(4326))
	require.NoError(t, err)
	mp := orb.MultiPolygon{
		orb.Polygon{orb.Ring{{-180, 10}, {-179, 10}, {-179, 11}, {-180, 11}, {-180, 10}}},
		orb.Polygon{orb.Ring{{179, 10}, {180, 10}, {180, 11}, {179, 11}, {179, 10}}},
	}
	require.NoError(t, l.CreateField(ctx, FieldDef{Name: "DEM_ID", Type: FieldString, Width: 16}))
	require.NoError(t, l.CreateFeature(ctx, Feature{Attrs: map[string]any{"DEM_ID": "wrapped"}, Geometry: mp}))
	got, err := l.Features(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.Len(t, got, 1)
	assert.Equal(t, mp, got[0].Geometry)
	assert.Equal(t, "wrapped", got[0].Attrs["DEM_ID"])
}

func TestGeoJSONSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.geojson")
	exerciseSink(t, func() Sink {
		s, err := NewGeoJSONSink(path, nil)
		require.NoError(t, err)
		return s
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, dst := range []string{"a.shp", "b.gpkg/layer", "c.geojson"} {
		t.Run(dst, func(t *testing.T) {
			d, err := ParseDestination(filepath.Join(dir, dst))
			require.NoError(t, err)
			s, err := Open(ctx, d, OpenConfig{})
			require.NoError(t, err)
			require.NoError(t, s.Close())
		})
	}

	t.Run("postgres without settings", func(t *testing.T) {
		d, err := ParseDestination("PG:missing:layer")
		require.NoError(t, err)
		_, err = Open(ctx, d, OpenConfig{})
		assert.ErrorContains(t, err, "missing")
	})
}
