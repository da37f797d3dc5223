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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/geom"
	"github.com/kraklabs/demindex/pkg/proj"
	"github.com/kraklabs/demindex/pkg/storage"
)

// DefaultStatus is the STATUS of scene records.
const DefaultStatus = "online"

// maxLoggedDuplicates is the number of duplicate records logged at error
// level. Later ones are logged at debug.
const maxLoggedDuplicates = 30

// Options configures a Builder.
type Options struct {
	Mode   Mode
	Schema SchemaOptions

	// Overwrite replaces an existing layer. Append adds to it. With
	// neither, an existing layer is an error.
	Overwrite bool
	Append    bool
	// DryRun builds and validates features without writing them.
	DryRun bool
	// Check re-reads the layer after writing and reports records that
	// are not found.
	Check bool

	DSPMode DSPMode
	// Status is the STATUS of scene records, DefaultStatus when empty.
	Status string
	// StatusOrig overrides Status for original resolution records.
	StatusOrig string
	// SkipMissingDSPInfo skips original resolution records whose
	// downsampling info lacks the DEM file size.
	SkipMissingDSPInfo bool

	Regions Regions

	// Clock dates INDEX_DATE. Defaults to the real clock.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

func (o Options) statusOrig() string {
	if o.StatusOrig != "" {
		return o.StatusOrig
	}
	return o.Status
}

// Result counts the features of a build.
type Result struct {
	// Written is the number of valid features, duplicates included.
	Written int
	// Inserted is the number of features stored.
	Inserted   int
	Invalid    int
	Duplicates int
	// RecordIDs identify the valid features for the check pass.
	RecordIDs []string
	// Missing lists the record ids the check pass did not find.
	Missing []string
}

// Builder writes records as features of one layer.
type Builder struct {
	sink      storage.Sink
	layerName string
	srs       *proj.SRS
	opts      Options
	logger    *slog.Logger

	layer     storage.Layer
	fields    []storage.FieldDef
	indexDate string
	result    Result
}

// NewBuilder returns a Builder writing layer of sink in srs.
func NewBuilder(sink storage.Sink, layer string, srs *proj.SRS, opts Options) (*Builder, error) {
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	if opts.Overwrite && opts.Append {
		return nil, &SinkStateError{Layer: layer, Reason: "overwrite and append are mutually exclusive"}
	}
	if srs == nil {
		return nil, errors.New("index: target spatial reference is required")
	}
	if opts.Schema.Release && opts.Mode == ModeScene {
		return nil, errors.New("index: release fields do not apply to scene indexes")
	}
	if opts.DSPMode == "" {
		opts.DSPMode = DSPModeDSP
	}
	if opts.Status == "" {
		opts.Status = DefaultStatus
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		sink:      sink,
		layerName: layer,
		srs:       srs,
		opts:      opts,
		logger:    opts.Logger,
		indexDate: opts.Clock.Now().Format(dateLayout),
	}, nil
}

// Prepare checks the state of the target layer and creates, replaces or
// opens it. A *SinkStateError means nothing was written.
func (b *Builder) Prepare(ctx context.Context) error {
	exists, err := b.Preflight(ctx)
	if err != nil {
		return err
	}

	if exists && b.opts.Append {
		layer, err := b.sink.OpenLayer(ctx, b.layerName)
		if err != nil {
			return fmt.Errorf("open layer %s: %w", b.layerName, err)
		}
		b.layer = layer
		b.fields = layer.Fields()
		b.logger.Info("index.layer.opened", "layer", b.layerName, "fields", len(b.fields))
		return nil
	}

	defs := Schema(b.opts.Mode, b.opts.Schema)
	if b.opts.DryRun {
		for _, def := range defs {
			b.fields = append(b.fields, clampWidth(def, b.sink.MaxFieldWidth()))
		}
		b.logger.Info("index.layer.dryrun", "layer", b.layerName, "exists", exists)
		return nil
	}

	if exists {
		if err := b.sink.DeleteLayer(ctx, b.layerName); err != nil {
			return fmt.Errorf("delete layer %s: %w", b.layerName, err)
		}
		b.logger.Info("index.layer.removed", "layer", b.layerName)
	}
	layer, err := b.sink.CreateLayer(ctx, b.layerName, b.srs)
	if err != nil {
		return fmt.Errorf("create layer %s: %w", b.layerName, err)
	}
	for _, def := range defs {
		if err := layer.CreateField(ctx, def); err != nil {
			_ = layer.Close()
			return fmt.Errorf("create field %s: %w", def.Name, err)
		}
	}
	b.layer = layer
	b.fields = layer.Fields()
	b.logger.Info("index.layer.created", "layer", b.layerName, "epsg", b.srs.EPSG(), "fields", len(b.fields))
	return nil
}

// Preflight reports whether the target layer exists and fails with a
// *SinkStateError when it does and neither overwrite nor append is set.
// It changes nothing.
func (b *Builder) Preflight(ctx context.Context) (bool, error) {
	exists, err := b.sink.LayerExists(ctx, b.layerName)
	if err != nil {
		return false, fmt.Errorf("check layer %s: %w", b.layerName, err)
	}
	if exists && !b.opts.Overwrite && !b.opts.Append {
		return true, &SinkStateError{Layer: b.layerName, Reason: "layer exists, use overwrite or append"}
	}
	return exists, nil
}

func clampWidth(def storage.FieldDef, maxWidth int) storage.FieldDef {
	if def.Type == storage.FieldString && (def.Width == 0 || def.Width > maxWidth) {
		def.Width = maxWidth
	}
	return def
}

// Add writes the features of rec. Records that yield no valid feature are
// logged and counted; only sink failures are returned.
func (b *Builder) Add(ctx context.Context, rec dem.Record) error {
	if b.fields == nil {
		return errors.New("index: Prepare must be called before Add")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	drafts, skips, err := b.drafts(rec)
	if err != nil {
		b.invalid(rec.Location(), err)
		return nil
	}
	for _, s := range skips {
		b.result.Invalid++
		if s.warn {
			b.logger.Warn("index.record.skipped", "reason", s.reason)
		} else {
			b.logger.Error("index.record.skipped", "reason", s.reason)
		}
	}
	for _, d := range drafts {
		if err := b.write(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) drafts(rec dem.Record) ([]draft, []skip, error) {
	if rec.Kind() != string(b.opts.Mode) {
		return nil, nil, fmt.Errorf("cannot write a %s record to a %s index", rec.Kind(), b.opts.Mode)
	}
	switch r := rec.(type) {
	case *dem.Scene:
		drafts, skips := sceneDrafts(r, b)
		return drafts, skips, nil
	case *dem.Strip:
		return []draft{stripDraft(r, b)}, nil, nil
	case *dem.Tile:
		return []draft{tileDraft(r, b)}, nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported record type %T", rec)
}

func (b *Builder) invalid(label string, err error) {
	b.result.Invalid++
	b.logger.Error("index.feature.skipped", "record", label, "err", err)
}

func (b *Builder) write(ctx context.Context, d draft) error {
	g, centroid, err := b.geometry(d)
	if err != nil {
		b.invalid(d.label, err)
		return nil
	}
	if b.hasField("CENT_LAT") {
		d.attrs["CENT_LAT"] = centroid[1]
		d.attrs["CENT_LON"] = centroid[0]
	}
	if b.opts.Schema.Release {
		d.attrs = releaseAttrs(b.opts.Mode, d.attrs)
		d.optional = releaseAttrs(b.opts.Mode, d.optional)
	}
	attrs, err := b.fit(d)
	if err != nil {
		var sve *SchemaViolationError
		if errors.As(err, &sve) && sve.Field == "LOCATION" && sve.Width > 0 && b.sink.MaxFieldWidth() < locationWidth {
			b.logger.Warn("index.location.too_long",
				"hint", fmt.Sprintf("LOCATION values can be up to %d characters in a non-Shapefile index", locationWidth))
		}
		b.invalid(d.label, err)
		return nil
	}
	if b.opts.DryRun {
		b.result.Written++
		return nil
	}

	b.result.Written++
	b.result.RecordIDs = append(b.result.RecordIDs, recordID(b.opts.Mode, b.opts.Schema, attrs))

	err = b.layer.CreateFeature(ctx, storage.Feature{Attrs: attrs, Geometry: g})
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		b.duplicate(d.label, err)
		return nil
	case err != nil:
		return fmt.Errorf("write %s: %w", d.label, err)
	}
	b.result.Inserted++
	return nil
}

const locationWidth = 512

func (b *Builder) duplicate(label string, err error) {
	b.result.Duplicates++
	n := b.result.Duplicates
	if n > maxLoggedDuplicates {
		b.logger.Debug("index.feature.duplicate", "record", label, "err", err)
		return
	}
	b.logger.Error("index.feature.duplicate", "record", label, "err", err)
	if n == maxLoggedDuplicates {
		b.logger.Warn("index.feature.duplicate_limit",
			"msg", "maximum duplicate record errors logged, further ones are logged at debug level")
	}
}

// geometry transforms the footprint of d into the target SRS. Geographic
// footprints spanning the antimeridian are split in two.
func (b *Builder) geometry(d draft) (orb.MultiPolygon, orb.Point, error) {
	if d.geom == nil || len(d.geom.Polygon) == 0 {
		return nil, orb.Point{}, errors.New("no valid footprint")
	}
	if d.info == nil || d.info.SRS == nil || d.info.SRS.SRS == nil {
		return nil, orb.Point{}, errors.New("no spatial reference")
	}
	g, err := geom.Reproject(d.geom.Polygon, d.info.SRS.SRS, b.srs)
	if err != nil {
		return nil, orb.Point{}, fmt.Errorf("transform footprint: %w", err)
	}
	centroid := geom.Centroid(g)
	if p, ok := g.(orb.Polygon); ok && b.srs.IsGeographic() && geom.SpansAntimeridian(orb.Polygon{p[0]}) {
		return geom.Wrap180(p), centroid, nil
	}
	mp, err := geom.ForceMultiPolygon(g)
	if err != nil {
		return nil, orb.Point{}, err
	}
	return mp, centroid, nil
}

// field returns the layer field holding the attribute name.
func (b *Builder) field(name string) (storage.FieldDef, bool) {
	name = b.opts.Schema.FieldName(name)
	for _, f := range b.fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return storage.FieldDef{}, false
}

func (b *Builder) hasField(name string) bool {
	_, ok := b.field(name)
	return ok
}

// fit maps the attributes of d onto the layer fields. A missing field or
// a string longer than its field is a *SchemaViolationError.
func (b *Builder) fit(d draft) (map[string]any, error) {
	out := make(map[string]any, len(d.attrs)+len(d.optional))
	put := func(name string, v any, required bool) error {
		f, ok := b.field(name)
		if !ok {
			if required {
				return &SchemaViolationError{Record: d.label, Field: name}
			}
			return nil
		}
		if s, isStr := v.(string); isStr && f.Type == storage.FieldString && f.Width > 0 && len(s) > f.Width {
			return &SchemaViolationError{Record: d.label, Field: name, Value: s, Width: f.Width}
		}
		out[f.Name] = v
		return nil
	}
	for _, name := range sortedKeys(d.attrs) {
		if err := put(name, d.attrs[name], true); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedKeys(d.optional) {
		if err := put(name, d.optional[name], false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Finish logs the counts of the build, runs the check pass when enabled
// and closes the layer. An *IncompleteError reports a build without valid
// records or with records missing from the layer.
func (b *Builder) Finish(ctx context.Context) (Result, error) {
	defer func() { _ = b.Close() }()

	if b.result.Invalid > 0 {
		b.logger.Error("index.invalid_records", "count", b.result.Invalid)
	}
	if b.result.Duplicates > 0 {
		b.logger.Warn("index.duplicate_records", "count", b.result.Duplicates)
	}
	if b.opts.DryRun {
		b.logger.Info("index.dryrun.done", "valid", b.result.Written, "invalid", b.result.Invalid)
		return b.result, nil
	}
	if b.result.Written == 0 {
		b.logger.Error("index.no_valid_records", "layer", b.layerName)
		return b.result, &IncompleteError{}
	}
	if b.opts.Check {
		missing, err := b.Check(ctx)
		if err != nil {
			return b.result, err
		}
		b.result.Missing = missing
		if len(missing) > 0 {
			return b.result, &IncompleteError{Written: b.result.Written, Missing: len(missing)}
		}
	}
	b.logger.Info("index.done", "layer", b.layerName,
		"inserted", b.result.Inserted, "invalid", b.result.Invalid, "duplicates", b.result.Duplicates)
	return b.result, nil
}

// Result returns the counts so far.
func (b *Builder) Result() Result { return b.result }

// Close releases the layer. It is safe to call more than once.
func (b *Builder) Close() error {
	if b.layer == nil {
		return nil
	}
	err := b.layer.Close()
	b.layer = nil
	return err
}

// Write prepares the layer, adds every record and finishes the build.
func (b *Builder) Write(ctx context.Context, records []dem.Record) (Result, error) {
	if err := b.Prepare(ctx); err != nil {
		return Result{}, err
	}
	for _, rec := range records {
		if err := b.Add(ctx, rec); err != nil {
			_ = b.Close()
			return b.result, err
		}
	}
	return b.Finish(ctx)
}
