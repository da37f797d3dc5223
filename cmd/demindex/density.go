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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/internal/output"
	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/index"
	"github.com/kraklabs/demindex/pkg/ingestion"
	"github.com/kraklabs/demindex/pkg/tasks"
)

// densityRecord is a record with a density cache.
type densityRecord interface {
	dem.Record
	ComputeDensityAndStats(engine *density.Engine) error
}

// densityFile returns the density cache path of a strip or tile.
func densityFile(r dem.Record) string {
	switch r := r.(type) {
	case *dem.Strip:
		return r.DensityFile
	case *dem.Tile:
		return r.DensityFile
	}
	return ""
}

// runDensity executes the 'density' command: it computes the matchtag
// density and elevation statistics of each strip or tile under <src> and
// stores them in the _density.txt sidecar that index runs read.
//
// Examples:
//
//	demindex density /data/strips --workers 8
//	demindex density /data/tiles --mode tile --overwrite
func runDensity(ctx context.Context, args []string, g *GlobalFlags) error {
	var (
		mode string
		b    batchFlags
	)
	fs := pflag.NewFlagSet("density", pflag.ContinueOnError)
	fs.StringVar(&mode, "mode", string(index.ModeStrip), "Type of products: strip or tile")
	b.register(fs)
	addGlobalFlags(fs, g)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: demindex density <src> [options]

Computes matchtag density, masked density and elevation statistics of
the strips or tiles under <src>, writing a _density.txt next to each
DEM. Products with an existing _density.txt are skipped unless
--overwrite is given.

Options:
`)
		fs.PrintDefaults()
	}
	if err := parseFlags(fs, args, g); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return demerrors.NewInputError("Expected a source path", fmt.Sprintf("Got %d positional arguments", fs.NArg()),
			"Run 'demindex density <src> [options]'")
	}
	if mode != string(index.ModeStrip) && mode != string(index.ModeTile) {
		return demerrors.NewInputError("Invalid --mode", fmt.Sprintf("density is computed for strips and tiles, not %q", mode),
			"Use --mode strip or --mode tile")
	}
	src := fs.Arg(0)

	logger, closeLog, err := newLogger(g, os.Stderr)
	if err != nil {
		return demerrors.NewConfigError("Cannot set up logging", err.Error(), "Check the --log directory", err)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	walked, err := walkProducts(ctx, g, logger, src, ingestion.WalkConfig{
		Mode:         index.Mode(mode),
		MaxDepth:     b.maxDepth,
		SearchMasked: b.searchMasked,
		Exclude:      b.exclude,
	})
	if err != nil {
		return err
	}

	env := dem.Env{Logger: logger}
	engine := density.NewEngine(nil, logger)
	counts := &batchCounts{}
	ts := make([]tasks.Task, 0, len(walked.Files))
	for _, path := range walked.Files {
		ts = append(ts, tasks.Task{
			Name:    filepath.Base(path),
			Abbrev:  "dens",
			Command: "demindex density " + path + " --mode " + mode,
			Func:    densityFunc(env, engine, mode, b.overwrite, counts),
			Args:    []string{path},
		})
	}

	s, err := runBatch(ctx, g, b.handler(logger), ts, "density", src, b.dryRun, counts)
	if err != nil {
		return err
	}
	if g.JSON {
		if err := output.JSON(s); err != nil {
			return err
		}
	} else {
		printBatchSummary(os.Stdout, "Density Complete", s)
	}
	return batchError(s)
}

// densityFunc returns the task computing the density of the product at
// args[0].
func densityFunc(env dem.Env, engine *density.Engine, kind string, overwrite bool, counts *batchCounts) func(context.Context, []string) error {
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, args []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := dem.New(env, kind, args[0])
		if err != nil {
			return err
		}
		dr, ok := rec.(densityRecord)
		if !ok {
			return fmt.Errorf("%s records have no density", kind)
		}

		cache := densityFile(rec)
		if _, err := os.Stat(cache); err == nil {
			if !overwrite {
				logger.Debug("density.cached", "record", rec.Key(), "path", cache)
				counts.skipped.Add(1)
				return nil
			}
			if err := os.Remove(cache); err != nil {
				return fmt.Errorf("remove density cache: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}

		if err := dr.ReadDEMInfo(); err != nil {
			return err
		}
		if err := dr.ComputeDensityAndStats(engine); err != nil {
			return err
		}
		logger.Info("density.computed", "record", rec.Key(), "path", cache)
		counts.done.Add(1)
		return nil
	}
}
