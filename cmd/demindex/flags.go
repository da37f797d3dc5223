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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	demerrors "github.com/kraklabs/demindex/internal/errors"
	"github.com/kraklabs/demindex/internal/ui"
)

// GlobalFlags are the options every subcommand accepts.
type GlobalFlags struct {
	// ConfigPath is the YAML configuration file, DefaultConfigPath when empty.
	ConfigPath string
	Debug      bool
	// LogDir, when set, also writes the log to a timestamped file there.
	LogDir string
	// JSON prints the summary and errors as JSON and disables progress.
	JSON    bool
	NoColor bool
	Quiet   bool
}

func addGlobalFlags(fs *pflag.FlagSet, g *GlobalFlags) {
	fs.StringVar(&g.ConfigPath, "config", "", "Path to the configuration file (default: ./"+DefaultConfigPath+")")
	fs.BoolVar(&g.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&g.LogDir, "log", "", "Also write the log to a timestamped file in this directory")
	fs.BoolVar(&g.JSON, "json", false, "Print the summary and errors as JSON")
	fs.BoolVar(&g.NoColor, "no-color", false, "Disable colored output")
	fs.BoolVarP(&g.Quiet, "quiet", "q", false, "Suppress progress bars")
}

// parseFlags parses args into fs. A help request is reported as
// pflag.ErrHelp so callers can return without running.
func parseFlags(fs *pflag.FlagSet, args []string, g *GlobalFlags) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return demerrors.NewInputError(
			"Invalid command line",
			err.Error(),
			"Run 'demindex "+fs.Name()+" --help' for the list of options",
		)
	}
	if g.JSON {
		g.Quiet = true
	}
	ui.InitColors(g.NoColor)
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Default().Info("shutdown.signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
