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
	"strconv"
	"strings"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/kraklabs/demindex/pkg/proj"
)

const (
	shapefileMaxWidth     = 254
	shapefileMaxNameLen   = 10
	shapefileIntWidth     = 10
	shapefileRealWidth    = 24
	shapefileRealDecimals = 15
)

var shapefileSidecars = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

// ShapefileSink writes one polygon layer to an ESRI Shapefile. The format
// cannot append in place, so an opened layer is read back and rewritten on
// the first new feature.
type ShapefileSink struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
	layers []*shapefileLayer
}

// NewShapefileSink returns a sink for path. The file need not exist, but
// its directory must.
func NewShapefileSink(path string, logger *slog.Logger) (*ShapefileSink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if fi, err := os.Stat(filepath.Dir(path)); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("destination must be within an existing directory: %s", path)
	}
	return &ShapefileSink{path: path, logger: logger}, nil
}

func (s *ShapefileSink) MaxFieldWidth() int { return shapefileMaxWidth }

func (s *ShapefileSink) base() string {
	return strings.TrimSuffix(s.path, filepath.Ext(s.path))
}

// LayerExists reports whether the .shp file exists.
func (s *ShapefileSink) LayerExists(ctx context.Context, _ string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// DeleteLayer removes the shapefile and its sidecar files.
func (s *ShapefileSink) DeleteLayer(ctx context.Context, _ string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	for _, ext := range shapefileSidecars {
		if err := os.Remove(s.base() + ext); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete shapefile: %w", err)
		}
	}
	s.logger.Info("storage.layer.deleted", "driver", DriverShapefile, "path", s.path)
	return nil
}

// CreateLayer starts a new shapefile in srs. Nothing is written until the
// first feature or Close.
func (s *ShapefileSink) CreateLayer(ctx context.Context, name string, srs *proj.SRS) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	l := &shapefileLayer{sink: s, name: name, prj: srs.ESRIWKT(), pending: true}
	s.layers = append(s.layers, l)
	return l, nil
}

// OpenLayer reads the existing shapefile so it can be rewritten with new
// features appended.
func (s *ShapefileSink) OpenLayer(ctx context.Context, name string) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLayerNotFound, s.path)
	}
	fields, features, err := readShapefile(s.path)
	if err != nil {
		return nil, err
	}
	prj, err := os.ReadFile(s.base() + ".prj")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	l := &shapefileLayer{sink: s, name: name, prj: string(prj), fields: fields, existing: features}
	s.layers = append(s.layers, l)
	s.logger.Debug("storage.shapefile.opened", "path", s.path, "features", len(features), "fields", len(fields))
	return l, nil
}

// Close flushes every layer.
func (s *ShapefileSink) Close() error {
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

type shapefileLayer struct {
	sink   *ShapefileSink
	name   string
	prj    string
	fields []FieldDef
	// existing holds features read back from disk that must be written
	// again before new ones.
	existing []Feature
	// pending is set while the file on disk does not reflect the layer.
	pending bool
	w       *shp.Writer
	closed  bool
}

func (l *shapefileLayer) Name() string { return l.name }

func (l *shapefileLayer) Fields() []FieldDef {
	return append([]FieldDef(nil), l.fields...)
}

func (l *shapefileLayer) CreateField(ctx context.Context, def FieldDef) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if l.w != nil {
		return fmt.Errorf("shapefile %s: fields must be created before features", l.name)
	}
	if len(def.Name) > shapefileMaxNameLen {
		return fmt.Errorf("shapefile field name %q is longer than %d characters", def.Name, shapefileMaxNameLen)
	}
	if fieldIndex(l.fields, def.Name) >= 0 {
		return fmt.Errorf("shapefile %s already has field %q", l.name, def.Name)
	}
	def = clampField(def, shapefileMaxWidth)
	switch def.Type {
	case FieldInteger:
		def.Width = shapefileIntWidth
	case FieldReal:
		def.Width = shapefileRealWidth
		if def.Precision == 0 {
			def.Precision = shapefileRealDecimals
		}
	}
	l.fields = append(l.fields, def)
	l.pending = true
	return nil
}

// open creates the files and rewrites any features read back from disk.
func (l *shapefileLayer) open() error {
	if l.w != nil {
		return nil
	}
	w, err := shp.Create(l.sink.path, shp.POLYGON)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}
	if err := w.SetFields(shpFields(l.fields)); err != nil {
		w.Close()
		return fmt.Errorf("set shapefile fields: %w", err)
	}
	if l.prj != "" {
		if err := os.WriteFile(l.sink.base()+".prj", []byte(l.prj), 0o644); err != nil {
			w.Close()
			return fmt.Errorf("write prj: %w", err)
		}
	}
	l.w = w
	l.pending = true
	existing := l.existing
	l.existing = nil
	for _, f := range existing {
		if err := l.write(f); err != nil {
			return err
		}
	}
	return nil
}

func (l *shapefileLayer) write(f Feature) error {
	shape, err := toShape(f.Geometry)
	if err != nil {
		return err
	}
	row := int(l.w.Write(shape))
	for i, def := range l.fields {
		v, err := coerce(def, f.Attrs[def.Name])
		if err != nil {
			return err
		}
		if err := l.w.WriteAttribute(row, i, dbfValue(v)); err != nil {
			return fmt.Errorf("write %s: %w", def.Name, err)
		}
	}
	return nil
}

func (l *shapefileLayer) CreateFeature(ctx context.Context, f Feature) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if l.closed {
		return ErrClosed
	}
	if err := checkAttrs(l.name, l.fields, f.Attrs); err != nil {
		return err
	}
	if err := l.open(); err != nil {
		return err
	}
	return l.write(f)
}

// flush writes the layer to disk if it changed since it was last read.
func (l *shapefileLayer) flush() error {
	if !l.pending {
		return nil
	}
	if err := l.open(); err != nil {
		return err
	}
	l.w.Close()
	l.w = nil
	l.pending = false
	return nil
}

// Features flushes the layer and reads it back. Later writes rewrite the
// file.
func (l *shapefileLayer) Features(ctx context.Context) ([]Feature, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if err := l.flush(); err != nil {
		return nil, err
	}
	if l.existing != nil {
		return append([]Feature(nil), l.existing...), nil
	}
	_, features, err := readShapefile(l.sink.path)
	if err != nil {
		return nil, err
	}
	l.existing = features
	return append([]Feature(nil), features...), nil
}

func (l *shapefileLayer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.flush()
}

func shpFields(defs []FieldDef) []shp.Field {
	out := make([]shp.Field, len(defs))
	for i, d := range defs {
		switch d.Type {
		case FieldInteger:
			out[i] = shp.NumberField(d.Name, uint8(d.Width))
		case FieldReal:
			out[i] = shp.FloatField(d.Name, uint8(d.Width), uint8(d.Precision))
		default:
			out[i] = shp.StringField(d.Name, uint8(d.Width))
		}
	}
	return out
}

// dbfValue converts a coerced value to a type the dbf writer accepts. Nulls
// are written blank.
func dbfValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return int(x)
	}
	return v
}

func readShapefile(path string) ([]FieldDef, []Feature, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	var defs []FieldDef
	for _, f := range r.Fields() {
		def := FieldDef{
			Name:      strings.TrimRight(string(f.Name[:]), "\x00"),
			Width:     int(f.Size),
			Precision: int(f.Precision),
		}
		switch {
		case f.Fieldtype == 'N' && f.Precision == 0:
			def.Type = FieldInteger
		case f.Fieldtype == 'N' || f.Fieldtype == 'F':
			def.Type = FieldReal
		default:
			def.Type = FieldString
		}
		defs = append(defs, def)
	}

	var features []Feature
	for r.Next() {
		n, shape := r.Shape()
		feat := Feature{Geometry: fromShape(shape), Attrs: make(map[string]any, len(defs))}
		for i, def := range defs {
			raw := strings.Trim(r.ReadAttribute(n, i), " \x00")
			if raw == "" {
				feat.Attrs[def.Name] = nil
				continue
			}
			if def.Type == FieldInteger {
				// Integer columns may hold values written with decimals by other tools.
				if f, err := strconv.ParseFloat(raw, 64); err == nil {
					feat.Attrs[def.Name] = int64(f)
					continue
				}
			}
			v, err := coerce(def, raw)
			if err != nil {
				return nil, nil, fmt.Errorf("read %s: %w", path, err)
			}
			feat.Attrs[def.Name] = v
		}
		features = append(features, feat)
	}
	return defs, features, nil
}

func toShape(g orb.Geometry) (*shp.Polygon, error) {
	var mp orb.MultiPolygon
	switch v := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		mp = v
	default:
		return nil, fmt.Errorf("shapefile layers hold polygons, got %T", g)
	}
	var parts [][]shp.Point
	for _, poly := range mp {
		for _, ring := range poly {
			pts := make([]shp.Point, len(ring))
			for i, p := range ring {
				pts[i] = shp.Point{X: p[0], Y: p[1]}
			}
			parts = append(parts, pts)
		}
	}
	pl := shp.NewPolyLine(parts)
	p := shp.Polygon(*pl)
	return &p, nil
}

// fromShape reads every part as the outer ring of its own polygon.
func fromShape(s shp.Shape) orb.Geometry {
	p, ok := s.(*shp.Polygon)
	if !ok || p == nil {
		return nil
	}
	mp := orb.MultiPolygon{}
	for i, start := range p.Parts {
		end := int32(len(p.Points))
		if i+1 < len(p.Parts) {
			end = p.Parts[i+1]
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		mp = append(mp, orb.Polygon{ring})
	}
	return mp
}
