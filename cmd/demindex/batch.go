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
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/internal/ui"
	"github.com/kraklabs/demindex/pkg/ingestion"
	"github.com/kraklabs/demindex/pkg/tasks"
)

// batchFlags are the options shared by the per-product commands.
type batchFlags struct {
	maxDepth     int
	searchMasked bool
	exclude      []string
	workers      int
	dryRun       bool
	overwrite    bool
}

func (b *batchFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&b.maxDepth, "maxdepth", 0, "Directory levels searched below <src>, 1 for <src> only (0 = no limit)")
	fs.BoolVar(&b.searchMasked, "search-masked", false, "Also process masked strip DEMs")
	fs.StringSliceVar(&b.exclude, "exclude", nil, "Glob of source paths to skip; dir/** skips a directory (repeatable)")
	fs.IntVar(&b.workers, "workers", 1, "Number of products processed concurrently (0 = one per CPU)")
	fs.BoolVar(&b.dryRun, "dryrun", false, "List the work without doing it")
	fs.BoolVar(&b.overwrite, "overwrite", false, "Recompute outputs that already exist")
}

// handler returns the task handler for the --workers setting.
func (b *batchFlags) handler(logger *slog.Logger) tasks.Handler {
	if b.workers == 1 {
		return tasks.NewSerialHandler(logger)
	}
	return tasks.NewPoolHandler(b.workers, logger)
}

// walkProducts collects the product files under src with a spinner.
func walkProducts(ctx context.Context, g *GlobalFlags, logger *slog.Logger, src string, cfg ingestion.WalkConfig) (*ingestion.WalkResult, error) {
	spinner := NewSpinner(NewProgressConfig(*g), "Searching "+src)
	if spinner != nil {
		defer func() { _ = spinner.Finish() }()
	}
	res, err := ingestion.NewWalker(logger).Walk(ctx, src, cfg)
	if err != nil {
		return nil, fmt.Errorf("walk source: %w", err)
	}
	return res, nil
}

// batchCounts tally task outcomes. Tasks update them concurrently.
type batchCounts struct {
	done    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// batchSummary is the outcome of a density or mdf run, and their --json
// output.
type batchSummary struct {
	Command    string `json:"command"`
	Source     string `json:"source"`
	DryRun     bool   `json:"dry_run,omitempty"`
	Files      int    `json:"files"`
	Done       int    `json:"done"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
}

// runBatch runs ts with h, reporting progress per finished task, and
// returns the summary. Task failures are counted, not returned.
func runBatch(ctx context.Context, g *GlobalFlags, h tasks.Handler, ts []tasks.Task, name, src string, dryRun bool, counts *batchCounts) (batchSummary, error) {
	start := time.Now()
	progress, finish := progressFunc(NewProgressConfig(*g), name)
	var finished atomic.Int64
	total := len(ts)
	for i := range ts {
		fn := ts[i].Func
		if fn == nil {
			continue
		}
		ts[i].Func = func(ctx context.Context, args []string) error {
			err := fn(ctx, args)
			if err != nil {
				counts.failed.Add(1)
			}
			progress(int(finished.Add(1)), total)
			return err
		}
	}

	// Failures are already logged per task by the handler.
	_ = h.RunTasks(ctx, ts, dryRun)
	finish()

	s := batchSummary{
		Command:    name,
		Source:     src,
		DryRun:     dryRun,
		Files:      total,
		Done:       int(counts.done.Load()),
		Skipped:    int(counts.skipped.Load()),
		Failed:     int(counts.failed.Load()),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := ctx.Err(); err != nil {
		return s, err
	}
	return s, nil
}

// batchError is the error of a run whose tasks did not all succeed.
func batchError(s batchSummary) error {
	if s.Failed == 0 {
		return nil
	}
	return demerrors.NewIncompleteError(
		fmt.Sprintf("%d of %d products failed", s.Failed, s.Files),
		"Some products could not be read or written",
		"Run with --debug and check the tasks.failed entries of the log",
		nil,
	)
}

func printBatchSummary(w io.Writer, title string, s batchSummary) {
	p := ui.NewPrinter(w)
	fmt.Fprintln(w)
	p.Header(title)
	fmt.Fprintf(w, "%s %s\n\n", ui.Label("Source:"), s.Source)
	p.Table([]string{"Products", "Count"}, [][]string{
		{"Found", strconv.Itoa(s.Files)},
		{"Done", strconv.Itoa(s.Done)},
		{"Skipped", strconv.Itoa(s.Skipped)},
		{"Failed", strconv.Itoa(s.Failed)},
	})
	switch {
	case s.DryRun:
		p.Infof("Dry run: %d products would be processed", s.Files)
	case s.Failed > 0:
		p.Warningf("%d products failed, see the log", s.Failed)
	default:
		p.Successf("%d products in %s", s.Done+s.Skipped, ui.DimText(fmt.Sprintf("%dms", s.DurationMS)))
	}
}
