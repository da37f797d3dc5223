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

// Package main implements the demindex CLI for indexing SETSM DEM products.
//
// Usage:
//
//	demindex index <src> <dst> [options]   Build a spatial index of DEM records
//	demindex density <src> [options]       Compute density and statistics sidecars
//	demindex mdf <src> [options]           Write strip metadata and readme files
//	demindex version                       Show version information
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	demerrors "github.com/kraklabs/demindex/internal/errors"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// command is a subcommand of the CLI.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, g *GlobalFlags) error
}

var commands = []command{
	{name: "index", summary: "Build a spatial index of scene, strip or tile records", run: runIndex},
	{name: "density", summary: "Compute density and elevation statistics sidecars", run: runDensity},
	{name: "mdf", summary: "Write strip _mdf.txt and _readme.txt files", run: runMDF},
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `demindex - SETSM DEM metadata and indexing

demindex reads scene, strip and tile DEM products, derives their
metadata and footprints, and writes them as features of a vector
index (Shapefile, SQLite layer store, GeoJSON or PostgreSQL), or as
JSON record groups that a later run can index.

Usage:
  demindex <command> [options]

Commands:
`)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, `  version    Show version and exit

Examples:
  demindex index /data/strips strips.shp --mode strip
  demindex index /data/strips PG:sandwich:esrifs_setsm_strip --mode strip --check
  demindex index /data/scenes scenes.gpkg/scene --mode scene --write-json ./json
  demindex density /data/strips --workers 8
  demindex mdf /data/strips --overwrite

Configuration:
  PostgreSQL connections and defaults are read from ./demindex.yaml
  (or --config). Values may reference environment variables, and a
  .env file in the working directory is loaded first.

For detailed command help: demindex <command> --help

`)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches args to a subcommand and returns the process exit code.
func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return demerrors.ExitConfig
	}

	switch args[0] {
	case "version", "--version":
		fmt.Printf("demindex version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		return demerrors.ExitSuccess
	case "help", "-h", "--help":
		usage(os.Stdout)
		return demerrors.ExitSuccess
	}

	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		g := &GlobalFlags{}
		ctx, cancel := signalContext(context.Background())
		defer cancel()
		err := c.run(ctx, args[1:], g)
		return report(os.Stderr, classify(err), g)
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
	usage(os.Stderr)
	return demerrors.ExitConfig
}
