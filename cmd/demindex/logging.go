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
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	slogmulti "github.com/samber/slog-multi"
)

// logFileName names the --log file of a run started at t.
func logFileName(t time.Time) string {
	return "demindex_" + t.UTC().Format("20060102_150405") + ".log"
}

// newLogger builds the CLI logger writing to w, and to a file in
// g.LogDir when it is set. The returned close func releases the file.
func newLogger(g *GlobalFlags, w io.Writer) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if g.Debug {
		level = slog.LevelDebug
	}

	var h slog.Handler = tint.NewHandler(w, &tint.Options{
		Level:       level,
		ReplaceAttr: replaceAttr,
		NoColor:     g.NoColor,
	})
	closeFn := func() error { return nil }

	if g.LogDir != "" {
		if err := os.MkdirAll(g.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.Create(filepath.Join(g.LogDir, logFileName(time.Now())))
		if err != nil {
			return nil, nil, fmt.Errorf("create log file: %w", err)
		}
		fh := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr})
		h = slogmulti.Fanout(h, fh)
		closeFn = f.Close
	}
	return slog.New(h), closeFn, nil
}

// replaceAttr writes times as UTC RFC3339 with milliseconds and drops
// empty string attributes.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
