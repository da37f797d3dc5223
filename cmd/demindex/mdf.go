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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/internal/output"
	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/index"
	"github.com/kraklabs/demindex/pkg/ingestion"
	"github.com/kraklabs/demindex/pkg/tasks"
)

// mdfOptions configure the mdf task of one strip.
type mdfOptions struct {
	env       dem.Env
	engine    *density.Engine
	clock     clockwork.Clock
	overwrite bool
	noReadme  bool
}

// runMDF executes the 'mdf' command: it writes the _mdf.txt and
// _readme.txt of each strip under <src>. Density and statistics missing
// from the strip's cache are computed first.
//
// Examples:
//
//	demindex mdf /data/strips
//	demindex mdf /data/strips --overwrite --workers 4
func runMDF(ctx context.Context, args []string, g *GlobalFlags) error {
	var (
		b        batchFlags
		noReadme bool
	)
	fs := pflag.NewFlagSet("mdf", pflag.ContinueOnError)
	b.register(fs)
	fs.BoolVar(&noReadme, "no-readme", false, "Write only the _mdf.txt")
	addGlobalFlags(fs, g)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: demindex mdf <src> [options]

Writes the _mdf.txt metadata file and the _readme.txt of every strip
under <src>. Strips that already have an _mdf.txt are skipped unless
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
			"Run 'demindex mdf <src> [options]'")
	}
	src := fs.Arg(0)

	logger, closeLog, err := newLogger(g, os.Stderr)
	if err != nil {
		return demerrors.NewConfigError("Cannot set up logging", err.Error(), "Check the --log directory", err)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	walked, err := walkProducts(ctx, g, logger, src, ingestion.WalkConfig{
		Mode:         index.ModeStrip,
		MaxDepth:     b.maxDepth,
		SearchMasked: b.searchMasked,
		Exclude:      b.exclude,
	})
	if err != nil {
		return err
	}

	opts := mdfOptions{
		env:       dem.Env{Logger: logger},
		engine:    density.NewEngine(nil, logger),
		clock:     clockwork.NewRealClock(),
		overwrite: b.overwrite,
		noReadme:  noReadme,
	}
	counts := &batchCounts{}
	ts := make([]tasks.Task, 0, len(walked.Files))
	for _, path := range walked.Files {
		ts = append(ts, tasks.Task{
			Name:    filepath.Base(path),
			Abbrev:  "mdf",
			Command: "demindex mdf " + path,
			Func:    mdfFunc(opts, counts),
			Args:    []string{path},
		})
	}

	s, err := runBatch(ctx, g, b.handler(logger), ts, "mdf", src, b.dryRun, counts)
	if err != nil {
		return err
	}
	if g.JSON {
		if err := output.JSON(s); err != nil {
			return err
		}
	} else {
		printBatchSummary(os.Stdout, "MDF Complete", s)
	}
	return batchError(s)
}

// mdfFunc returns the task writing the MDF of the strip at args[0].
func mdfFunc(opts mdfOptions, counts *batchCounts) func(context.Context, []string) error {
	logger := opts.env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, args []string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := dem.NewStrip(opts.env, args[0])
		if err != nil {
			return err
		}
		if _, err := os.Stat(s.MDF); err == nil && !opts.overwrite {
			logger.Debug("mdf.exists", "strip", s.StripID, "path", s.MDF)
			counts.skipped.Add(1)
			return nil
		}

		if err := s.ReadDEMInfo(); err != nil {
			return err
		}
		if err := s.ComputeDensityAndStats(opts.engine); err != nil {
			return err
		}
		if err := s.WriteMDF(opts.clock.Now()); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(s.MDF), err)
		}
		if !opts.noReadme {
			if err := s.WriteReadme(); err != nil {
				return fmt.Errorf("write %s: %w", filepath.Base(s.Readme), err)
			}
		}
		logger.Info("mdf.written", "strip", s.StripID, "path", s.MDF)
		counts.done.Add(1)
		return nil
	}
}
