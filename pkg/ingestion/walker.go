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
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/demindex/pkg/index"
)

// WalkConfig selects the source files of a run.
type WalkConfig struct {
	Mode index.Mode
	// MaxDepth limits the directory levels searched below the source.
	// 1 searches only the source directory itself. 0 means no limit.
	MaxDepth int
	// SearchMasked also collects the masked strip DEM variants.
	SearchMasked bool
	// ReadJSON collects .json group files instead of products.
	ReadJSON bool
	// Exclude lists glob patterns of paths to skip, matched against the
	// path relative to the source. A "dir/**" pattern prunes a directory.
	Exclude []string
}

// Validate reports option combinations that cannot be searched.
func (c WalkConfig) Validate() error {
	if _, err := index.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.SearchMasked && c.Mode != index.ModeStrip {
		return errors.New("search-masked is only supported in strip mode")
	}
	if c.SearchMasked && c.ReadJSON {
		return errors.New("search-masked cannot be combined with read-json")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative, got %d", c.MaxDepth)
	}
	return nil
}

// Suffixes are the file name endings collected under c.
func (c WalkConfig) Suffixes() []string {
	if c.ReadJSON {
		return []string{".json"}
	}
	out := []string{c.Mode.SourceSuffix()}
	if c.SearchMasked {
		out = append(out, index.MaskedStripSuffixes...)
	}
	return out
}

// WalkResult lists the source files of a run.
type WalkResult struct {
	// Root is the absolute source path.
	Root string
	// Files holds absolute paths in lexical order.
	Files []string
	// SkipReasons counts entries left out, by reason.
	SkipReasons map[string]int
}

// Walker finds source files below a file or directory.
type Walker struct {
	logger *slog.Logger
}

// NewWalker creates a walker logging to logger.
func NewWalker(logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{logger: logger}
}

// Walk collects the files under src that match cfg. A file src is
// returned as is, whatever its name.
func (w *Walker) Walk(ctx context.Context, src string, cfg WalkConfig) (*WalkResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(src)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat source path: %w", err)
	}

	res := &WalkResult{Root: root, SkipReasons: make(map[string]int)}
	w.logger.Info("ingestion.walk.start", "root", root, "mode", cfg.Mode, "max_depth", cfg.MaxDepth)
	if !info.IsDir() {
		res.Files = []string{root}
		return res, nil
	}

	suffixes := cfg.Suffixes()
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("ingestion.walk.error", "path", p, "err", err)
			res.SkipReasons["unreadable"]++
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if excluded(rel, cfg.Exclude) {
				res.SkipReasons["excluded_dir"]++
				return filepath.SkipDir
			}
			if cfg.MaxDepth > 0 && depth(rel) >= cfg.MaxDepth {
				res.SkipReasons["too_deep"]++
				return filepath.SkipDir
			}
			return nil
		}

		if !hasSuffix(d.Name(), suffixes) {
			return nil
		}
		if excluded(rel, cfg.Exclude) {
			res.SkipReasons["excluded"]++
			return nil
		}
		w.logger.Debug("ingestion.walk.found", "path", p)
		res.Files = append(res.Files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(res.Files)

	w.logger.Info("ingestion.walk.complete", "files", len(res.Files), "skipped", res.SkipReasons)
	return res, nil
}

func depth(rel string) int {
	return strings.Count(rel, "/") + 1
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// excluded matches rel against each pattern, then against each trailing
// part of rel so that patterns need not be anchored at the source.
func excluded(rel string, patterns []string) bool {
	parts := strings.Split(rel, "/")
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			for i := range parts {
				if ok, _ := path.Match(prefix, parts[i]); ok {
					return true
				}
			}
			continue
		}
		for i := range parts {
			if ok, _ := path.Match(pattern, strings.Join(parts[i:], "/")); ok {
				return true
			}
		}
	}
	return false
}
