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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/kraklabs/demindex/pkg/proj"
)

const geojsonMaxWidth = 1024

// GeoJSONSink writes one layer as a GeoJSON FeatureCollection. The file is
// rewritten on Close.
type GeoJSONSink struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
	layers []*geojsonLayer
}

// NewGeoJSONSink returns a sink for path. Its directory must exist.
func NewGeoJSONSink(path string, logger *slog.Logger) (*GeoJSONSink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if fi, err := os.Stat(filepath.Dir(path)); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("destination must be within an existing directory: %s", path)
	}
	return &GeoJSONSink{path: path, logger: logger}, nil
}

func (s *GeoJSONSink) MaxFieldWidth() int { return geojsonMaxWidth }

func (s *GeoJSONSink) LayerExists(ctx context.Context, _ string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *GeoJSONSink) DeleteLayer(ctx context.Context, _ string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete geojson: %w", err)
	}
	s.logger.Info("storage.layer.deleted", "driver", DriverGeoJSON, "path", s.path)
	return nil
}

// CreateLayer starts an empty collection. GeoJSON coordinates carry no SRS,
// so srs is only logged.
func (s *GeoJSONSink) CreateLayer(ctx context.Context, name string, srs *proj.SRS) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l := &geojsonLayer{sink: s, name: name, fc: geojson.NewFeatureCollection(), dirty: true}
	s.layers = append(s.layers, l)
	s.logger.Debug("storage.geojson.created", "path", s.path, "epsg", srs.EPSG())
	return l, nil
}

// OpenLayer reads the collection. Field types are inferred from the
// properties of the stored features: strings stay strings, numbers are
// reals.
func (s *GeoJSONSink) OpenLayer(ctx context.Context, name string) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, s.path)
	}
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	l := &geojsonLayer{sink: s, name: name, fc: fc, fields: inferFields(fc)}
	s.layers = append(s.layers, l)
	return l, nil
}

func inferFields(fc *geojson.FeatureCollection) []FieldDef {
	types := map[string]FieldType{}
	for _, f := range fc.Features {
		for k, v := range f.Properties {
			if _, ok := types[k]; ok || v == nil {
				continue
			}
			if _, isNum := v.(float64); isNum {
				types[k] = FieldReal
			} else {
				types[k] = FieldString
			}
		}
	}
	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)
	defs := make([]FieldDef, len(names))
	for i, n := range names {
		defs[i] = FieldDef{Name: n, Type: types[n]}
		if types[n] == FieldString {
			defs[i].Width = geojsonMaxWidth
		}
	}
	return defs
}

func (s *GeoJSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, l := range s.layers {
		errs = append(errs, l.flush())
	}
	return errors.Join(errs...)
}

type geojsonLayer struct {
	sink   *GeoJSONSink
	name   string
	fc     *geojson.FeatureCollection
	fields []FieldDef
	dirty  bool
}

func (l *geojsonLayer) Name() string { return l.name }

func (l *geojsonLayer) Fields() []FieldDef {
	return append([]FieldDef(nil), l.fields...)
}

func (l *geojsonLayer) CreateField(ctx context.Context, def FieldDef) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if fieldIndex(l.fields, def.Name) >= 0 {
		return fmt.Errorf("layer %s already has field %q", l.name, def.Name)
	}
	l.fields = append(l.fields, clampField(def, geojsonMaxWidth))
	return nil
}

func (l *geojsonLayer) CreateFeature(ctx context.Context, f Feature) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if err := checkAttrs(l.name, l.fields, f.Attrs); err != nil {
		return err
	}
	attrs, err := coerceAttrs(l.fields, f.Attrs)
	if err != nil {
		return err
	}
	gf := geojson.NewFeature(f.Geometry)
	for _, def := range l.fields {
		gf.Properties[def.Name] = attrs[def.Name]
	}
	l.fc.Append(gf)
	l.dirty = true
	return nil
}

func (l *geojsonLayer) Features(ctx context.Context) ([]Feature, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := l.flush(); err != nil {
		return nil, err
	}
	out := make([]Feature, 0, len(l.fc.Features))
	for _, gf := range l.fc.Features {
		f := Feature{Geometry: gf.Geometry, Attrs: make(map[string]any, len(l.fields))}
		for _, def := range l.fields {
			v, err := coerce(def, gf.Properties[def.Name])
			if err != nil {
				return nil, err
			}
			f.Attrs[def.Name] = v
		}
		out = append(out, f)
	}
	return out, nil
}

// flush writes the collection through a temporary file.
func (l *geojsonLayer) flush() error {
	if !l.dirty {
		return nil
	}
	data, err := l.fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %s: %w", l.sink.path, err)
	}
	tmp := l.sink.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.sink.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	l.dirty = false
	return nil
}

func (l *geojsonLayer) Close() error { return l.flush() }
