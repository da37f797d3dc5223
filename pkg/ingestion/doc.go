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

// Package ingestion runs index builds over directories of SETSM products.
//
// A run has three stages:
//
//  1. Discovery: the Walker collects source files by the mode's suffix
//  2. Loading: each file becomes a scene, strip or tile record
//  3. Writing: records are grouped and written to an index layer through
//     the index.Builder, or to JSON group files
//
// A file that fails to load is logged with its path and counted. It never
// stops the run.
//
// # Quick Start
//
//	sink, err := storage.Open(ctx, dst, storage.OpenConfig{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	pipeline, err := ingestion.NewPipeline(ingestion.Config{
//	    Source: "/data/strips",
//	    Walk:   ingestion.WalkConfig{Mode: index.ModeStrip, MaxDepth: 3},
//	    Sink:   sink,
//	    Layer:  dst.Layer,
//	    SRS:    proj.MustEPSG(4326),
//	    Index:  index.Options{Mode: index.ModeStrip, Overwrite: true, Check: true},
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	result, err := pipeline.Run(ctx)
//
// # Source Selection
//
// Scenes are found by their _meta.txt file and strips and tiles by their
// _dem.tif. WalkConfig.SearchMasked adds the masked strip DEM variants and
// WalkConfig.ReadJSON collects .json group files written by an earlier run
// instead of products. A source that is a file is used as is.
//
// # JSON Output
//
// With Config.JSONDir set the records are written as one JSON file per
// strip directory, scene strip or supertile. Reading those files back with
// WalkConfig.ReadJSON rebuilds the records without touching the rasters.
//
// # Metrics
//
// Counts and durations are returned in Result and exported to the default
// Prometheus registry. WriteMetrics saves them for a textfile collector:
//
//	fmt.Printf("records: %d, errors: %d\n", result.Records, result.RecordErrors)
//	_ = ingestion.WriteMetrics("/var/lib/node_exporter/demindex.prom")
package ingestion
