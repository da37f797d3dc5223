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
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/kraklabs/demindex/pkg/proj"
)

const embeddedMaxWidth = 1024

// EmbeddedSink is a layer store in a single SQLite file. Each layer is a
// table with a WKB geometry column; a catalog records layer SRSs and the
// declared field widths.
type EmbeddedSink struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// EmbeddedConfig configures the embedded layer store.
type EmbeddedConfig struct {
	// Path is the database file. Its directory must exist.
	Path   string
	Logger *slog.Logger
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS layer_catalog (
	name TEXT PRIMARY KEY,
	epsg INTEGER NOT NULL,
	srs_wkt TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS field_catalog (
	layer TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	width INTEGER NOT NULL,
	precision INTEGER NOT NULL,
	PRIMARY KEY (layer, name)
);`

// NewEmbeddedSink opens or creates the layer store at config.Path.
func NewEmbeddedSink(config EmbeddedConfig) (*EmbeddedSink, error) {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if fi, err := os.Stat(filepath.Dir(config.Path)); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("destination must be within an existing directory: %s", config.Path)
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog: %w", err)
	}
	return &EmbeddedSink{db: db, path: config.Path, logger: config.Logger}, nil
}

func (s *EmbeddedSink) MaxFieldWidth() int { return embeddedMaxWidth }

func (s *EmbeddedSink) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctxErr(ctx)
}

// LayerExists reports whether the layer is in the catalog.
func (s *EmbeddedSink) LayerExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM layer_catalog WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query catalog: %w", err)
	}
	return n > 0, nil
}

// DeleteLayer drops the layer table and its catalog entries.
func (s *EmbeddedSink) DeleteLayer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		q    string
		args []any
	}{
		{`DROP TABLE IF EXISTS ` + quoteIdent(name), nil},
		{`DELETE FROM field_catalog WHERE layer = ?`, []any{name}},
		{`DELETE FROM layer_catalog WHERE name = ?`, []any{name}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.q, st.args...); err != nil {
			return fmt.Errorf("delete layer %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("storage.layer.deleted", "driver", DriverSQLite, "path", s.path, "layer", name)
	return nil
}

// CreateLayer creates the layer table and registers it in the catalog.
func (s *EmbeddedSink) CreateLayer(ctx context.Context, name string, srs *proj.SRS) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	create := `CREATE TABLE ` + quoteIdent(name) + ` (fid INTEGER PRIMARY KEY AUTOINCREMENT, geom BLOB)`
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("create layer %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO layer_catalog (name, epsg, srs_wkt) VALUES (?, ?, ?)`,
		name, srs.EPSG(), srs.WKT()); err != nil {
		return nil, fmt.Errorf("register layer %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.logger.Info("storage.layer.created", "driver", DriverSQLite, "path", s.path, "layer", name, "epsg", srs.EPSG())
	return &embeddedLayer{sink: s, name: name}, nil
}

// OpenLayer loads the field catalog of an existing layer.
func (s *EmbeddedSink) OpenLayer(ctx context.Context, name string) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM layer_catalog WHERE name = ?`, name).Scan(&n); err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrLayerNotFound, name, s.path)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, width, precision FROM field_catalog WHERE layer = ? ORDER BY ordinal`, name)
	if err != nil {
		return nil, fmt.Errorf("read field catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	l := &embeddedLayer{sink: s, name: name}
	for rows.Next() {
		var def FieldDef
		var typ string
		if err := rows.Scan(&def.Name, &typ, &def.Width, &def.Precision); err != nil {
			return nil, err
		}
		def.Type = parseFieldType(typ)
		l.fields = append(l.fields, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

// Close closes the database.
func (s *EmbeddedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func parseFieldType(s string) FieldType {
	switch s {
	case "integer":
		return FieldInteger
	case "real":
		return FieldReal
	}
	return FieldString
}

func sqliteType(t FieldType) string {
	switch t {
	case FieldInteger:
		return "INTEGER"
	case FieldReal:
		return "REAL"
	}
	return "TEXT"
}

type embeddedLayer struct {
	sink   *EmbeddedSink
	name   string
	fields []FieldDef
}

func (l *embeddedLayer) Name() string { return l.name }

func (l *embeddedLayer) Fields() []FieldDef {
	return append([]FieldDef(nil), l.fields...)
}

func (l *embeddedLayer) CreateField(ctx context.Context, def FieldDef) error {
	def = clampField(def, embeddedMaxWidth)
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	alter := `ALTER TABLE ` + quoteIdent(l.name) + ` ADD COLUMN ` + quoteIdent(def.Name) + ` ` + sqliteType(def.Type)
	if _, err := tx.ExecContext(ctx, alter); err != nil {
		return fmt.Errorf("add field %s: %w", def.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO field_catalog (layer, ordinal, name, type, width, precision) VALUES (?, ?, ?, ?, ?, ?)`,
		l.name, len(l.fields), def.Name, def.Type.String(), def.Width, def.Precision); err != nil {
		return fmt.Errorf("register field %s: %w", def.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	l.fields = append(l.fields, def)
	return nil
}

func (l *embeddedLayer) CreateFeature(ctx context.Context, f Feature) error {
	if err := checkAttrs(l.name, l.fields, f.Attrs); err != nil {
		return err
	}
	attrs, err := coerceAttrs(l.fields, f.Attrs)
	if err != nil {
		return err
	}

	cols := []string{"geom"}
	args := []any{nil}
	if f.Geometry != nil {
		b, err := wkb.Marshal(f.Geometry)
		if err != nil {
			return fmt.Errorf("encode geometry: %w", err)
		}
		args[0] = b
	}
	for _, def := range l.fields {
		if v, ok := attrs[def.Name]; ok {
			cols = append(cols, quoteIdent(def.Name))
			args = append(args, v)
		}
	}
	q := `INSERT INTO ` + quoteIdent(l.name) + ` (` + strings.Join(cols, ", ") + `) VALUES (?` +
		strings.Repeat(", ?", len(cols)-1) + `)`

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert into %s: %w: %v", l.name, ErrDuplicate, err)
		}
		return fmt.Errorf("insert into %s: %w", l.name, err)
	}
	return nil
}

func (l *embeddedLayer) Features(ctx context.Context) ([]Feature, error) {
	cols := []string{"geom"}
	for _, def := range l.fields {
		cols = append(cols, quoteIdent(def.Name))
	}
	q := `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + quoteIdent(l.name) + ` ORDER BY fid`

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.name, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Feature
	for rows.Next() {
		var geom []byte
		vals := make([]any, len(l.fields))
		dest := []any{&geom}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		f := Feature{Attrs: make(map[string]any, len(l.fields))}
		if len(geom) > 0 {
			g, err := wkb.Unmarshal(geom)
			if err != nil {
				return nil, fmt.Errorf("decode geometry: %w", err)
			}
			f.Geometry = g
		}
		for i, def := range l.fields {
			v, err := coerce(def, vals[i])
			if err != nil {
				return nil, err
			}
			f.Attrs[def.Name] = v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (l *embeddedLayer) Close() error { return nil }
