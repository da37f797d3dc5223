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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/index"
	"github.com/kraklabs/demindex/pkg/proj"
	"github.com/kraklabs/demindex/pkg/storage"
)

// Config describes one index run.
type Config struct {
	// Source is a product file or a directory searched per Walk.
	Source string
	Walk   WalkConfig

	// Sink, Layer and SRS name the index target. They are unused when
	// JSONDir is set.
	Sink  storage.Sink
	Layer string
	SRS   *proj.SRS

	// JSONDir switches the output to one JSON file per record group.
	JSONDir string
	// Project prefixes tile group file names.
	Project string

	// Index configures the builder. Mode, DryRun and Overwrite also apply
	// to JSON output.
	Index index.Options
	Env   dem.Env

	// Workers is the number of files loaded concurrently. Below 1 loads
	// them one at a time.
	Workers int
	// Progress, when set, is called after each source file.
	Progress func(done, total int)
}

// Pipeline walks a source, builds records and writes them to an index
// layer or to JSON group files.
type Pipeline struct {
	config Config
	logger *slog.Logger
	walker *Walker
	clock  clockwork.Clock
}

// Result summarizes an index run.
type Result struct {
	// RunID is the unique identifier for this run (UUID).
	RunID string

	// FilesFound is the number of source files the walker collected.
	FilesFound int

	// Records is the number of records built from the source files.
	Records int

	// RecordErrors is the number of source files or serialized records
	// that did not produce a record.
	RecordErrors int

	// Groups is the number of strip, scene or tile groups.
	Groups int

	// Written, Inserted, Invalid and Duplicates are the builder counts.
	Written    int
	Inserted   int
	Invalid    int
	Duplicates int

	// Missing lists record ids the check pass did not find.
	Missing []string

	// JSONFiles and JSONExisting count group files written and kept.
	JSONFiles    int
	JSONExisting int

	// SkipReasons maps walker skip reasons to counts.
	SkipReasons map[string]int

	WalkDuration  time.Duration
	LoadDuration  time.Duration
	WriteDuration time.Duration
	TotalDuration time.Duration
}

// NewPipeline checks config and returns a pipeline for it.
func NewPipeline(config Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Source == "" {
		return nil, errors.New("source path is required")
	}
	if config.Walk.Mode == "" {
		config.Walk.Mode = config.Index.Mode
	}
	if config.Index.Mode == "" {
		config.Index.Mode = config.Walk.Mode
	}
	if config.Walk.Mode != config.Index.Mode {
		return nil, fmt.Errorf("walk mode %q differs from index mode %q", config.Walk.Mode, config.Index.Mode)
	}
	if err := config.Walk.Validate(); err != nil {
		return nil, err
	}
	if config.JSONDir == "" && (config.Sink == nil || config.SRS == nil || config.Layer == "") {
		return nil, errors.New("an index sink, layer and spatial reference are required without a JSON directory")
	}
	if config.Index.Logger == nil {
		config.Index.Logger = logger
	}
	if config.Env.Logger == nil {
		config.Env.Logger = logger
	}
	clock := config.Index.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
		config.Index.Clock = clock
	}
	return &Pipeline{
		config: config,
		logger: logger,
		walker: NewWalker(logger),
		clock:  clock,
	}, nil
}

// Run executes the pipeline. Files that fail to load are logged and
// counted, never returned. The returned error is a sink failure, a
// *index.SinkStateError, or an *index.IncompleteError; the result is
// filled in as far as the run got.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := p.clock.Now()
	res := &Result{RunID: uuid.NewString()}
	defer func() {
		res.TotalDuration = p.clock.Since(start)
		recordRun(res)
	}()
	p.logger.Info("ingestion.start", "run_id", res.RunID, "source", p.config.Source, "mode", p.config.Walk.Mode)

	// The target is checked before any work so a refused run writes nothing.
	var builder *index.Builder
	if p.config.JSONDir == "" {
		b, err := index.NewBuilder(p.config.Sink, p.config.Layer, p.config.SRS, p.config.Index)
		if err != nil {
			return res, err
		}
		if _, err := b.Preflight(ctx); err != nil {
			return res, err
		}
		builder = b
	}

	walkStart := p.clock.Now()
	walked, err := p.walker.Walk(ctx, p.config.Source, p.config.Walk)
	if err != nil {
		return res, fmt.Errorf("walk source: %w", err)
	}
	res.WalkDuration = p.clock.Since(walkStart)
	res.FilesFound = len(walked.Files)
	res.SkipReasons = walked.SkipReasons

	loadStart := p.clock.Now()
	records, errCount, err := p.load(ctx, walked.Files)
	res.LoadDuration = p.clock.Since(loadStart)
	res.Records = len(records)
	res.RecordErrors = errCount
	if err != nil {
		return res, err
	}
	p.logger.Info("ingestion.load.complete", "run_id", res.RunID,
		"files", res.FilesFound, "records", res.Records, "errors", res.RecordErrors,
		"duration_ms", res.LoadDuration.Milliseconds())

	if len(records) == 0 {
		p.logger.Error("ingestion.no_records", "run_id", res.RunID, "source", walked.Root)
		return res, &index.IncompleteError{}
	}

	groups := index.GroupRecords(records)
	res.Groups = len(groups.IDs())

	writeStart := p.clock.Now()
	defer func() { res.WriteDuration = p.clock.Since(writeStart) }()

	if builder == nil {
		return res, p.writeJSON(groups, res)
	}
	built, err := builder.Write(ctx, groups.All())
	res.Written = built.Written
	res.Inserted = built.Inserted
	res.Invalid = built.Invalid
	res.Duplicates = built.Duplicates
	res.Missing = built.Missing
	if err != nil {
		return res, err
	}

	p.logger.Info("ingestion.complete",
		"run_id", res.RunID,
		"records", res.Records,
		"record_errors", res.RecordErrors,
		"inserted", res.Inserted,
		"invalid", res.Invalid,
		"total_duration_ms", p.clock.Since(start).Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) writeJSON(groups *index.Groups, res *Result) error {
	if !p.config.Index.DryRun {
		if err := os.MkdirAll(p.config.JSONDir, 0o755); err != nil {
			return fmt.Errorf("create json directory: %w", err)
		}
	}
	out, err := index.WriteJSON(p.config.JSONDir, groups, index.JSONOptions{
		Mode:      p.config.Walk.Mode,
		Project:   p.config.Project,
		Overwrite: p.config.Index.Overwrite,
		DryRun:    p.config.Index.DryRun,
		Logger:    p.logger,
	})
	res.JSONFiles = out.Files
	res.JSONExisting = out.Existing
	res.Written = out.Records
	if err != nil {
		return err
	}
	p.logger.Info("ingestion.complete", "run_id", res.RunID,
		"json_files", out.Files, "json_existing", out.Existing, "records", out.Records)
	return nil
}

// loaded is what one source file produced.
type loaded struct {
	records []dem.Record
	errs    []error
}

// load builds the records of files, concurrently when configured, and
// returns them in file order.
func (p *Pipeline) load(ctx context.Context, files []string) ([]dem.Record, int, error) {
	out := make([]loaded, len(files))

	var (
		mu   sync.Mutex
		done int
	)
	step := func(i int) {
		out[i] = p.loadFile(files[i])
		if p.config.Progress != nil {
			mu.Lock()
			done++
			p.config.Progress(done, len(files))
			mu.Unlock()
		}
	}

	if p.config.Workers <= 1 || len(files) < 2 {
		for i := range files {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
			step(i)
		}
	} else {
		pool := pond.NewPool(p.config.Workers)
		group := pool.NewGroup()
		for i := range files {
			group.Submit(func() {
				if ctx.Err() != nil {
					return
				}
				step(i)
			})
		}
		err := group.Wait()
		pool.StopAndWait()
		if err != nil {
			return nil, 0, err
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
	}

	var (
		records []dem.Record
		errs    int
	)
	for i, l := range out {
		for _, err := range l.errs {
			errs++
			p.logger.Error("ingestion.record.error", "path", files[i], "err", err)
		}
		records = append(records, l.records...)
	}
	return records, errs, nil
}

func (p *Pipeline) loadFile(path string) loaded {
	mode := p.config.Walk.Mode
	if p.config.Walk.ReadJSON {
		recs, errs := index.ReadJSON(p.config.Env, mode, path)
		return loaded{records: recs, errs: errs}
	}

	rec, err := dem.New(p.config.Env, string(mode), path)
	if err != nil {
		return loaded{errs: []error{err}}
	}
	if err := rec.ReadDEMInfo(); err != nil {
		return loaded{errs: []error{err}}
	}
	if err := p.checkDSPInfo(rec); err != nil {
		return loaded{errs: []error{err}}
	}
	return loaded{records: []dem.Record{rec}}
}

// checkDSPInfo rejects a downsampled scene whose original resolution
// record is requested while its downsampling info file is absent.
func (p *Pipeline) checkDSPInfo(rec dem.Record) error {
	sc, ok := rec.(*dem.Scene)
	if !ok || !sc.IsDSP {
		return nil
	}
	switch p.config.Index.DSPMode {
	case index.DSPModeOrig, index.DSPModeBoth:
	default:
		return nil
	}
	if _, err := os.Stat(sc.DSPInfo); err == nil {
		return nil
	}
	return fmt.Errorf("scene %s has no downsampling info file %s", sc.ID, sc.DSPInfo)
}
