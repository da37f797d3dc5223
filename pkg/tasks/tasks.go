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

// Package tasks runs per-record jobs, one after another or on a bounded
// worker pool.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/alitto/pond/v2"
)

// Task is one unit of work. Func receives Args; Command is a printable
// rendering of the same work used in dry runs and logs.
type Task struct {
	Name    string
	Abbrev  string
	Command string
	Func    func(ctx context.Context, args []string) error
	Args    []string
}

// TaskError wraps the failure of a single task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %s: %v", e.Task, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

// Handler runs a batch of tasks. Every task is attempted; the failures are
// joined into the returned error.
type Handler interface {
	RunTasks(ctx context.Context, tasks []Task, dryRun bool) error
}

// SerialHandler runs tasks in order on the calling goroutine.
type SerialHandler struct {
	Logger *slog.Logger
}

// NewSerialHandler returns a SerialHandler logging to logger.
func NewSerialHandler(logger *slog.Logger) *SerialHandler {
	return &SerialHandler{Logger: orDiscard(logger)}
}

func (h *SerialHandler) RunTasks(ctx context.Context, tasks []Task, dryRun bool) error {
	logger := orDiscard(h.Logger)
	var errs []error
	for i, t := range tasks {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := run(ctx, logger, t, i, len(tasks), dryRun); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PoolHandler runs tasks on a pond worker pool.
type PoolHandler struct {
	Workers int
	Logger  *slog.Logger
}

// NewPoolHandler returns a PoolHandler with the given worker count. A count
// below 1 uses one worker per CPU.
func NewPoolHandler(workers int, logger *slog.Logger) *PoolHandler {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &PoolHandler{Workers: workers, Logger: orDiscard(logger)}
}

func (h *PoolHandler) RunTasks(ctx context.Context, tasks []Task, dryRun bool) error {
	logger := orDiscard(h.Logger)
	workers := h.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pool := pond.NewPool(workers)
	defer pool.StopAndWait()

	var (
		mu   sync.Mutex
		errs []error
	)
	group := pool.NewGroup()
	for i, t := range tasks {
		group.Submit(func() {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				errs = append(errs, &TaskError{Task: t.Name, Err: err})
				mu.Unlock()
				return
			}
			if err := run(ctx, logger, t, i, len(tasks), dryRun); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	if err := group.Wait(); err != nil {
		// A panicking task.
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, logger *slog.Logger, t Task, i, n int, dryRun bool) error {
	if dryRun {
		logger.Info("tasks.dryrun", "task", t.Name, "index", i+1, "total", n, "command", t.Command)
		return nil
	}
	logger.Debug("tasks.start", "task", t.Name, "index", i+1, "total", n)
	if t.Func == nil {
		err := &TaskError{Task: t.Name, Err: errors.New("no function to run")}
		logger.Error("tasks.failed", "task", t.Name, "err", err.Err)
		return err
	}
	if err := t.Func(ctx, t.Args); err != nil {
		logger.Error("tasks.failed", "task", t.Name, "err", err)
		return &TaskError{Task: t.Name, Err: err}
	}
	return nil
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
