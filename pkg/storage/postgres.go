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
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/kraklabs/demindex/pkg/proj"
)

const (
	postgresMaxWidth = 1024
	// uniqueViolation is the SQLSTATE of a unique constraint failure.
	uniqueViolation = "23505"
)

// PostgresConfig holds the connection settings of one config section.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	Schema   string `yaml:"schema"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// ConnectTimeout bounds the connection retries. Zero means 30s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func (c PostgresConfig) url() *url.URL {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u
}

// ConnString returns the connection URL.
func (c PostgresConfig) ConnString() string { return c.url().String() }

// Redacted returns the connection URL with the password masked.
func (c PostgresConfig) Redacted() string { return c.url().Redacted() }

func (c PostgresConfig) schema() string {
	if c.Schema == "" {
		return "public"
	}
	return c.Schema
}

// PostgresSink stores layers as PostGIS tables. The database and the
// postgis extension must already exist.
type PostgresSink struct {
	conn   *pgx.Conn
	cfg    PostgresConfig
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

// NewPostgresSink connects to the database, retrying transient failures
// with exponential backoff. Server errors such as bad credentials are not
// retried.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = cfg.ConnectTimeout
	if bo.MaxElapsedTime == 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}

	var conn *pgx.Conn
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		c, err := pgx.Connect(ctx, cfg.ConnString())
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warn("storage.postgres.connect_retry", "attempt", attempt, "err", err, "backoff", wait)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Redacted(), err)
	}
	logger.Info("storage.postgres.connected", "dsn", cfg.Redacted(), "attempts", attempt)
	return &PostgresSink{conn: conn, cfg: cfg, logger: logger}, nil
}

func (s *PostgresSink) MaxFieldWidth() int { return postgresMaxWidth }

func (s *PostgresSink) table(name string) string {
	return quoteIdent(s.cfg.schema()) + "." + quoteIdent(name)
}

func (s *PostgresSink) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctxErr(ctx)
}

func (s *PostgresSink) LayerExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := s.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		s.cfg.schema(), name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", name, err)
	}
	return exists, nil
}

func (s *PostgresSink) DeleteLayer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS `+s.table(name)); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	s.logger.Info("storage.layer.deleted", "driver", DriverPostgres, "layer", name)
	return nil
}

func (s *PostgresSink) CreateLayer(ctx context.Context, name string, srs *proj.SRS) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	srid := srs.EPSG()
	q := fmt.Sprintf(`CREATE TABLE %s (fid bigserial PRIMARY KEY, geom geometry(MultiPolygon, %d))`, s.table(name), srid)
	if _, err := s.conn.Exec(ctx, q); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	s.logger.Info("storage.layer.created", "driver", DriverPostgres, "layer", name, "epsg", srid)
	return &postgresLayer{sink: s, name: name, srid: srid}, nil
}

// OpenLayer reads the column definitions and SRID of an existing table.
func (s *PostgresSink) OpenLayer(ctx context.Context, name string) (Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	l := &postgresLayer{sink: s, name: name}
	err := s.conn.QueryRow(ctx,
		`SELECT srid FROM geometry_columns WHERE f_table_schema = $1 AND f_table_name = $2 AND f_geometry_column = 'geom'`,
		s.cfg.schema(), name).Scan(&l.srid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s.%s", ErrLayerNotFound, s.cfg.schema(), name)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}

	rows, err := s.conn.Query(ctx,
		`SELECT column_name, data_type, coalesce(character_maximum_length, 0)
		   FROM information_schema.columns
		  WHERE table_schema = $1 AND table_name = $2 AND column_name NOT IN ('fid', 'geom')
		  ORDER BY ordinal_position`, s.cfg.schema(), name)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var def FieldDef
		var dataType string
		var width int32
		if err := rows.Scan(&def.Name, &dataType, &width); err != nil {
			return nil, err
		}
		def.Type = pgFieldType(dataType)
		// An unconstrained varchar reports no width.
		def.Width = int(width)
		l.fields = append(l.fields, def)
	}
	return l, rows.Err()
}

func (s *PostgresSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.conn.Close(ctx)
}

func pgFieldType(dataType string) FieldType {
	switch dataType {
	case "smallint", "integer", "bigint", "boolean":
		return FieldInteger
	case "real", "double precision", "numeric":
		return FieldReal
	}
	return FieldString
}

func pgColumnType(def FieldDef) string {
	switch def.Type {
	case FieldInteger:
		return "integer"
	case FieldReal:
		return "double precision"
	}
	if def.Width > 0 {
		return fmt.Sprintf("varchar(%d)", def.Width)
	}
	return "varchar"
}

type postgresLayer struct {
	sink   *PostgresSink
	name   string
	srid   int
	fields []FieldDef
}

func (l *postgresLayer) Name() string { return l.name }

func (l *postgresLayer) Fields() []FieldDef {
	return append([]FieldDef(nil), l.fields...)
}

func (l *postgresLayer) CreateField(ctx context.Context, def FieldDef) error {
	def = clampField(def, postgresMaxWidth)
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	q := `ALTER TABLE ` + s.table(l.name) + ` ADD COLUMN ` + quoteIdent(def.Name) + ` ` + pgColumnType(def)
	if _, err := s.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("add field %s: %w", def.Name, err)
	}
	l.fields = append(l.fields, def)
	return nil
}

// CreateFeature inserts f in its own transaction. A unique constraint
// failure is reported as ErrDuplicate.
func (l *postgresLayer) CreateFeature(ctx context.Context, f Feature) error {
	if err := checkAttrs(l.name, l.fields, f.Attrs); err != nil {
		return err
	}
	attrs, err := coerceAttrs(l.fields, f.Attrs)
	if err != nil {
		return err
	}

	cols := []string{"geom"}
	vals := []string{fmt.Sprintf("ST_Multi(ST_GeomFromWKB($1, %d))", l.srid)}
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
			vals = append(vals, "$"+strconv.Itoa(len(args)))
		}
	}

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	q := `INSERT INTO ` + s.table(l.name) + ` (` + strings.Join(cols, ", ") + `) VALUES (` + strings.Join(vals, ", ") + `)`

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, q, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert into %s: %w: %s", l.name, ErrDuplicate, pgErr.Detail)
		}
		return fmt.Errorf("insert into %s: %w", l.name, err)
	}
	return tx.Commit(ctx)
}

func (l *postgresLayer) Features(ctx context.Context) ([]Feature, error) {
	cols := []string{"ST_AsBinary(geom)"}
	for _, def := range l.fields {
		cols = append(cols, quoteIdent(def.Name))
	}

	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, `SELECT `+strings.Join(cols, ", ")+` FROM `+s.table(l.name)+` ORDER BY fid`)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.name, err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		f := Feature{Attrs: make(map[string]any, len(l.fields))}
		if b, ok := vals[0].([]byte); ok && len(b) > 0 {
			if f.Geometry, err = wkb.Unmarshal(b); err != nil {
				return nil, fmt.Errorf("decode geometry: %w", err)
			}
		}
		for i, def := range l.fields {
			v, err := coerce(def, vals[i+1])
			if err != nil {
				return nil, err
			}
			f.Attrs[def.Name] = v
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (l *postgresLayer) Close() error { return nil }
