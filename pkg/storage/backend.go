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
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/kraklabs/demindex/pkg/proj"
)

// FieldType is the storage type of an attribute column.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldReal
)

func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "integer"
	case FieldReal:
		return "real"
	}
	return "string"
}

// FieldDef describes one attribute column. A Width of 0 means unbounded.
type FieldDef struct {
	Name      string
	Type      FieldType
	Width     int
	Precision int
}

// Feature is one row of a layer. Attribute keys match field names; a nil
// value is stored as null where the format allows it.
type Feature struct {
	Attrs    map[string]any
	Geometry orb.Geometry
}

// Sink is a vector dataset holding named layers.
type Sink interface {
	// LayerExists reports whether the dataset already holds the layer.
	LayerExists(ctx context.Context, name string) (bool, error)

	// DeleteLayer drops the layer and its features.
	DeleteLayer(ctx context.Context, name string) error

	// CreateLayer creates an empty layer in srs. Fields are added with
	// Layer.CreateField before the first feature is written.
	CreateLayer(ctx context.Context, name string, srs *proj.SRS) (Layer, error)

	// OpenLayer opens an existing layer for appending and reading.
	OpenLayer(ctx context.Context, name string) (Layer, error)

	// MaxFieldWidth is the widest string column the format supports.
	MaxFieldWidth() int

	// Close releases any resources held by the sink.
	Close() error
}

// Layer is a table of features sharing one schema.
type Layer interface {
	Name() string

	// CreateField adds a column. Widths above the sink maximum are clamped.
	CreateField(ctx context.Context, def FieldDef) error

	// Fields returns the columns with their effective widths.
	Fields() []FieldDef

	// CreateFeature appends a feature. Attributes naming unknown fields
	// are rejected.
	CreateFeature(ctx context.Context, f Feature) error

	// Features returns every feature stored in the layer.
	Features(ctx context.Context) ([]Feature, error)

	Close() error
}

var (
	// ErrDuplicate reports an insert rejected by a unique constraint.
	ErrDuplicate = errors.New("duplicate record")

	// ErrLayerNotFound is returned by OpenLayer for a missing layer.
	ErrLayerNotFound = errors.New("layer not found")

	// ErrClosed is returned by operations on a closed sink or layer.
	ErrClosed = errors.New("storage is closed")
)

// Driver names the vector format of a destination.
type Driver string

const (
	DriverShapefile Driver = "ESRI Shapefile"
	DriverSQLite    Driver = "SQLite"
	DriverGeoJSON   Driver = "GeoJSON"
	DriverPostgres  Driver = "PostgreSQL"
)

// Destination is a parsed index destination.
type Destination struct {
	Driver Driver
	// Path is the dataset file, empty for PostgreSQL.
	Path string
	// Section names the connection settings of a PostgreSQL destination.
	Section string
	Layer   string
}

func (d Destination) String() string {
	if d.Driver == DriverPostgres {
		return "PG:" + d.Section + ":" + d.Layer
	}
	return d.Path + " (" + d.Layer + ")"
}

// ParseDestination recognizes the destination forms:
//
//	index.shp              Shapefile, layer "index"
//	index.gdb[/layer]      SQLite layer store
//	index.gpkg[/layer]     SQLite layer store
//	index.geojson          GeoJSON feature collection
//	PG:<section>:<layer>   PostgreSQL table
func ParseDestination(dst string) (Destination, error) {
	if rest, ok := strings.CutPrefix(dst, "PG:"); ok {
		section, layer, found := strings.Cut(rest, ":")
		if !found || section == "" || layer == "" {
			return Destination{}, fmt.Errorf("postgres destination must be PG:<section>:<layer>, got %q", dst)
		}
		return Destination{Driver: DriverPostgres, Section: section, Layer: layer}, nil
	}

	lower := strings.ToLower(dst)
	for _, ext := range []string{".gdb", ".gpkg"} {
		if i := strings.Index(lower, ext+"/"); i >= 0 {
			path, layer := dst[:i+len(ext)], dst[i+len(ext)+1:]
			if layer == "" || strings.Contains(layer, "/") {
				return Destination{}, fmt.Errorf("invalid layer in destination %q", dst)
			}
			return Destination{Driver: DriverSQLite, Path: path, Layer: layer}, nil
		}
		if strings.HasSuffix(lower, ext) {
			return Destination{Driver: DriverSQLite, Path: dst, Layer: stem(dst)}, nil
		}
	}

	switch filepath.Ext(lower) {
	case ".shp":
		return Destination{Driver: DriverShapefile, Path: dst, Layer: stem(dst)}, nil
	case ".geojson", ".json":
		return Destination{Driver: DriverGeoJSON, Path: dst, Layer: stem(dst)}, nil
	}
	return Destination{}, fmt.Errorf("unsupported destination %q: expected .shp, .gdb, .gpkg, .geojson or PG:<section>:<layer>", dst)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OpenConfig carries what Open needs beyond the destination itself.
type OpenConfig struct {
	// Postgres holds the connection settings for PG: destinations.
	Postgres *PostgresConfig
	Logger   *slog.Logger
}

// Open opens the sink for d. File datasets need not exist yet.
func Open(ctx context.Context, d Destination, cfg OpenConfig) (Sink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch d.Driver {
	case DriverShapefile:
		return NewShapefileSink(d.Path, logger)
	case DriverSQLite:
		return NewEmbeddedSink(EmbeddedConfig{Path: d.Path, Logger: logger})
	case DriverGeoJSON:
		return NewGeoJSONSink(d.Path, logger)
	case DriverPostgres:
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("no connection settings for section %q", d.Section)
		}
		return NewPostgresSink(ctx, *cfg.Postgres, logger)
	}
	return nil, fmt.Errorf("unsupported driver %q", d.Driver)
}

// clampField applies the sink maximum to string widths.
func clampField(def FieldDef, maxWidth int) FieldDef {
	if def.Type == FieldString && (def.Width == 0 || def.Width > maxWidth) {
		def.Width = maxWidth
	}
	return def
}

// checkAttrs rejects attributes that name no field of the layer.
func checkAttrs(layer string, fields []FieldDef, attrs map[string]any) error {
	for k := range attrs {
		if fieldIndex(fields, k) < 0 {
			return fmt.Errorf("layer %s has no field %q", layer, k)
		}
	}
	return nil
}

func fieldIndex(fields []FieldDef, name string) int {
	for i, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// ctxErr returns the context error without blocking.
func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
