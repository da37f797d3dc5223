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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/pflag"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/internal/output"
	"github.com/kraklabs/demindex/internal/ui"
	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/index"
	"github.com/kraklabs/demindex/pkg/ingestion"
	"github.com/kraklabs/demindex/pkg/proj"
	"github.com/kraklabs/demindex/pkg/storage"
)

// indexFlags are the options of the index command.
type indexFlags struct {
	mode        string
	epsg        int
	overwrite   bool
	appendLayer bool
	dryRun      bool
	check       bool

	dspMode            string
	status             string
	statusOrig         string
	skipMissingDSPInfo bool
	regionLookup       string

	registration bool
	release      bool
	longNames    bool
	lowercase    bool

	readJSON  bool
	writeJSON bool
	project   string

	maxDepth     int
	searchMasked bool
	exclude      []string
	workers      int
	metricsFile  string
}

func newIndexFlagSet(f *indexFlags, g *GlobalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("index", pflag.ContinueOnError)
	fs.StringVar(&f.mode, "mode", string(index.ModeScene), "Type of records to index: scene, strip or tile")
	fs.IntVar(&f.epsg, "epsg", DefaultEPSG, "EPSG code of the index layer (default from the configuration file)")
	fs.BoolVar(&f.overwrite, "overwrite", false, "Replace an existing layer, or existing JSON files with --write-json")
	fs.BoolVar(&f.appendLayer, "append", false, "Add features to an existing layer")
	fs.BoolVar(&f.dryRun, "dryrun", false, "Build and validate records without writing anything")
	fs.BoolVar(&f.check, "check", false, "Verify after writing that every new record is in the layer")

	fs.StringVar(&f.dspMode, "dsp-record-mode", string(index.DSPModeDSP),
		"Records written for downsampled scenes: dsp, orig or both")
	fs.StringVar(&f.status, "status", index.DefaultStatus, "STATUS of scene records (default from the configuration file)")
	fs.StringVar(&f.statusOrig, "status-dsp-record-mode-orig", "",
		"STATUS of original resolution records, --status when empty")
	fs.BoolVar(&f.skipMissingDSPInfo, "skip-records-missing-dsp-original-info", false,
		"Skip original resolution records whose downsampling info lacks file sizes")
	fs.StringVar(&f.regionLookup, "pairname-region-lookup", "", "JSON file mapping pairnames to regions")

	fs.BoolVar(&f.registration, "include-registration", false, "Add registration fields to strip and tile indexes")
	fs.BoolVar(&f.release, "use-release-fields", false,
		"Use the release field definitions of strip and tile indexes (not for scenes)")
	fs.BoolVar(&f.longNames, "long-fieldnames", false,
		"Use descriptive field names longer than 10 characters (not for Shapefiles)")
	fs.BoolVar(&f.lowercase, "lowercase-fieldnames", false, "Lowercase every field name")

	fs.BoolVar(&f.readJSON, "read-json", false, "Read records from JSON group files under <src>")
	fs.BoolVar(&f.writeJSON, "write-json", false, "Write JSON group files to the directory <dst> instead of a layer")
	fs.StringVar(&f.project, "project", "", "Project prefix of tile JSON file names")

	fs.IntVar(&f.maxDepth, "maxdepth", 0, "Directory levels searched below <src>, 1 for <src> only (0 = no limit)")
	fs.BoolVar(&f.searchMasked, "search-masked", false, "Also index masked strip DEMs")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "Glob of source paths to skip; dir/** skips a directory (repeatable)")
	fs.IntVar(&f.workers, "workers", 1, "Number of source files loaded concurrently")
	fs.StringVar(&f.metricsFile, "metrics", "", "Write Prometheus metrics to this file after the run")
	addGlobalFlags(fs, g)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: demindex index <src> <dst> [options]

Builds records from the DEM products under <src> and writes them as
features of the index <dst>:

  index.shp               ESRI Shapefile
  index.gdb[/layer]       SQLite layer store
  index.gpkg[/layer]      SQLite layer store
  index.geojson           GeoJSON feature collection
  PG:<section>:<layer>    PostgreSQL table, settings from connections.<section>

With --write-json, <dst> is a directory receiving one JSON file per
strip, scene group or supertile.

Options:
`)
		fs.PrintDefaults()
	}
	return fs
}

// indexSummary is the --json output of the index command.
type indexSummary struct {
	RunID        string         `json:"run_id"`
	Source       string         `json:"source"`
	Destination  string         `json:"destination"`
	Mode         string         `json:"mode"`
	DryRun       bool           `json:"dry_run,omitempty"`
	FilesFound   int            `json:"files_found"`
	Records      int            `json:"records"`
	RecordErrors int            `json:"record_errors"`
	Groups       int            `json:"groups"`
	Written      int            `json:"written"`
	Inserted     int            `json:"inserted"`
	Invalid      int            `json:"invalid"`
	Duplicates   int            `json:"duplicates"`
	Missing      []string       `json:"missing,omitempty"`
	JSONFiles    int            `json:"json_files,omitempty"`
	JSONExisting int            `json:"json_existing,omitempty"`
	SkipReasons  map[string]int `json:"skip_reasons,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
}

func newIndexSummary(src, dst string, f *indexFlags, res *ingestion.Result) indexSummary {
	return indexSummary{
		RunID:        res.RunID,
		Source:       src,
		Destination:  dst,
		Mode:         f.mode,
		DryRun:       f.dryRun,
		FilesFound:   res.FilesFound,
		Records:      res.Records,
		RecordErrors: res.RecordErrors,
		Groups:       res.Groups,
		Written:      res.Written,
		Inserted:     res.Inserted,
		Invalid:      res.Invalid,
		Duplicates:   res.Duplicates,
		Missing:      res.Missing,
		JSONFiles:    res.JSONFiles,
		JSONExisting: res.JSONExisting,
		SkipReasons:  res.SkipReasons,
		DurationMS:   res.TotalDuration.Milliseconds(),
	}
}

// runIndex executes the 'index' command.
//
// Examples:
//
//	demindex index /data/strips strips.shp --mode strip
//	demindex index /data/scenes PG:sandwich:scenes --dsp-record-mode both --check
//	demindex index /data/json tiles.gpkg/tiles --mode tile --read-json --append
func runIndex(ctx context.Context, args []string, g *GlobalFlags) error {
	f := &indexFlags{}
	fs := newIndexFlagSet(f, g)
	if err := parseFlags(fs, args, g); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return demerrors.NewInputError(
			"Expected a source and a destination",
			fmt.Sprintf("Got %d positional arguments", fs.NArg()),
			"Run 'demindex index <src> <dst> [options]'",
		)
	}
	src, dst := fs.Arg(0), fs.Arg(1)

	logger, closeLog, err := newLogger(g, os.Stderr)
	if err != nil {
		return demerrors.NewConfigError("Cannot set up logging", err.Error(), "Check the --log directory", err)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	cfg, err := LoadConfig(g.ConfigPath)
	if err != nil {
		return err
	}
	if !fs.Changed("epsg") {
		f.epsg = cfg.Defaults.EPSG
	}
	if !fs.Changed("status") {
		f.status = cfg.Defaults.Status
	}

	opts, err := f.indexOptions(logger)
	if err != nil {
		return err
	}
	pcfg := ingestion.Config{
		Source: src,
		Walk: ingestion.WalkConfig{
			Mode:         opts.Mode,
			MaxDepth:     f.maxDepth,
			SearchMasked: f.searchMasked,
			ReadJSON:     f.readJSON,
			Exclude:      f.exclude,
		},
		Project: f.project,
		Index:   opts,
		Env:     dem.Env{Logger: logger},
		Workers: f.workers,
	}

	if f.writeJSON {
		pcfg.JSONDir = dst
	} else {
		sink, layer, srs, err := openDestination(ctx, dst, f.epsg, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warn("index.sink.close_error", "dst", dst, "err", err)
			}
		}()
		pcfg.Sink, pcfg.Layer, pcfg.SRS = sink, layer, srs
	}

	progress, finish := progressFunc(NewProgressConfig(*g), "Loading records")
	pcfg.Progress = progress

	pipeline, err := ingestion.NewPipeline(pcfg, logger)
	if err != nil {
		return demerrors.NewInputError("Invalid index options", err.Error(), "Run 'demindex index --help'")
	}
	res, runErr := pipeline.Run(ctx)
	finish()

	if f.metricsFile != "" {
		if err := ingestion.WriteMetrics(f.metricsFile); err != nil {
			logger.Warn("index.metrics.write_error", "path", f.metricsFile, "err", err)
		}
	}

	// A refused destination wrote nothing worth summarizing.
	var sse *index.SinkStateError
	if res != nil && !errors.As(runErr, &sse) {
		s := newIndexSummary(src, dst, f, res)
		if g.JSON {
			if err := output.JSON(s); err != nil {
				return err
			}
		} else {
			printIndexSummary(os.Stdout, s)
		}
	}
	return runErr
}

// indexOptions validates the builder options named by the flags.
func (f *indexFlags) indexOptions(logger *slog.Logger) (index.Options, error) {
	mode, err := index.ParseMode(f.mode)
	if err != nil {
		return index.Options{}, demerrors.NewInputError("Invalid --mode", err.Error(), "Use scene, strip or tile")
	}
	dspMode, err := index.ParseDSPMode(f.dspMode)
	if err != nil {
		return index.Options{}, demerrors.NewInputError("Invalid --dsp-record-mode", err.Error(), "Use dsp, orig or both")
	}
	if f.overwrite && f.appendLayer {
		return index.Options{}, demerrors.NewInputError(
			"--overwrite and --append are mutually exclusive",
			"Both flags were given",
			"Pass only one of them",
		)
	}
	if f.workers < 1 {
		return index.Options{}, demerrors.NewInputError(
			"Invalid --workers",
			fmt.Sprintf("--workers must be at least 1, got %d", f.workers),
			"Pass --workers 1 or more",
		)
	}

	if f.release && mode == index.ModeScene {
		return index.Options{}, demerrors.NewInputError(
			"--use-release-fields does not apply to scenes",
			"Release indexes hold strips or tiles",
			"Drop the flag or use --mode strip or --mode tile",
		)
	}

	var regions index.Regions
	if f.regionLookup != "" {
		regions, err = index.LoadRegions(f.regionLookup)
		if err != nil {
			return index.Options{}, demerrors.NewInputError(
				"Cannot read the pairname region lookup",
				err.Error(),
				"Check the --pairname-region-lookup path and its JSON",
			)
		}
	}

	return index.Options{
		Mode: mode,
		Schema: index.SchemaOptions{
			Registration: f.registration,
			Release:      f.release,
			LongNames:    f.longNames,
			Lowercase:    f.lowercase,
		},
		Overwrite:          f.overwrite,
		Append:             f.appendLayer,
		DryRun:             f.dryRun,
		Check:              f.check,
		DSPMode:            dspMode,
		Status:             f.status,
		StatusOrig:         f.statusOrig,
		SkipMissingDSPInfo: f.skipMissingDSPInfo,
		Regions:            regions,
		Logger:             logger,
	}, nil
}

// openDestination opens the sink named by dst and returns it with the
// layer name and the index spatial reference.
func openDestination(ctx context.Context, dst string, epsg int, cfg *Config, logger *slog.Logger) (storage.Sink, string, *proj.SRS, error) {
	srs, err := proj.FromEPSG(epsg)
	if err != nil {
		return nil, "", nil, demerrors.NewInputError(
			"Unsupported --epsg",
			err.Error(),
			"Use 4326, a WGS 84 UTM zone (326xx, 327xx) or a WGS 84 polar stereographic code",
		)
	}
	d, err := storage.ParseDestination(dst)
	if err != nil {
		return nil, "", nil, demerrors.NewInputError("Invalid destination", err.Error(), "Run 'demindex index --help' for the destination forms")
	}

	oc := storage.OpenConfig{Logger: logger}
	if d.Driver == storage.DriverPostgres {
		pg, err := cfg.Connection(d.Section)
		if err != nil {
			return nil, "", nil, err
		}
		oc.Postgres = pg
	}
	sink, err := storage.Open(ctx, d, oc)
	if err != nil {
		return nil, "", nil, demerrors.NewDatabaseError(
			"Cannot open destination",
			fmt.Sprintf("Opening %s failed", d),
			"Check that the destination is writable and, for PostgreSQL, that the server is reachable",
			err,
		)
	}
	logger.Info("index.destination", "driver", string(d.Driver), "layer", d.Layer, "epsg", epsg)
	return sink, d.Layer, srs, nil
}

func printIndexSummary(w io.Writer, s indexSummary) {
	p := ui.NewPrinter(w)
	fmt.Fprintln(w)
	if s.DryRun {
		p.Header("Dry Run Complete")
	} else {
		p.Header("Indexing Complete")
	}
	fmt.Fprintf(w, "%s %s\n", ui.Label("Run ID:"), s.RunID)
	fmt.Fprintf(w, "%s %s\n", ui.Label("Source:"), s.Source)
	fmt.Fprintf(w, "%s %s\n\n", ui.Label("Destination:"), s.Destination)

	rows := [][]string{
		{"Files found", strconv.Itoa(s.FilesFound)},
		{"Records", strconv.Itoa(s.Records)},
		{"Record errors", strconv.Itoa(s.RecordErrors)},
		{"Groups", strconv.Itoa(s.Groups)},
		{"Written", strconv.Itoa(s.Written)},
	}
	if s.JSONFiles > 0 || s.JSONExisting > 0 {
		rows = append(rows,
			[]string{"JSON files", strconv.Itoa(s.JSONFiles)},
			[]string{"JSON files kept", strconv.Itoa(s.JSONExisting)},
		)
	} else {
		rows = append(rows,
			[]string{"Inserted", strconv.Itoa(s.Inserted)},
			[]string{"Invalid", strconv.Itoa(s.Invalid)},
			[]string{"Duplicates", strconv.Itoa(s.Duplicates)},
		)
	}
	p.Table([]string{"Metric", "Count"}, rows)

	if len(s.SkipReasons) > 0 {
		fmt.Fprintln(w, "\nSkipped paths:")
		reasons := make([]string, 0, len(s.SkipReasons))
		for r := range s.SkipReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  %s: %s\n", r, ui.CountText(s.SkipReasons[r]))
		}
	}

	switch {
	case len(s.Missing) > 0:
		p.Warningf("%d records not found by the check pass", len(s.Missing))
	case s.RecordErrors > 0:
		p.Warningf("%d source files failed to load, see the log", s.RecordErrors)
	case s.Written > 0:
		p.Successf("%d records in %s", s.Written, ui.DimText(fmt.Sprintf("%dms", s.DurationMS)))
	}
}
