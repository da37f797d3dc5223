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

// Package index writes DEM records as features of a vector index layer.
//
// Each mode (scene, strip, tile) has a fixed, ordered schema and a rule
// table turning a record into attributes. Footprints are transformed into
// the layer's spatial reference; in a geographic layer a footprint whose
// longitudes span more than 180° is split at the antimeridian.
//
// # Quick Start
//
//	sink, err := storage.Open(ctx, dst, storage.OpenConfig{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	b, err := index.NewBuilder(sink, dst.Layer, proj.MustEPSG(4326), index.Options{
//	    Mode:   index.ModeStrip,
//	    Append: true,
//	    Check:  true,
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := b.Write(ctx, records)
//
// # Pre-flight
//
// Prepare refuses an existing layer unless exactly one of Overwrite or
// Append is set, returning a *SinkStateError before anything is written.
//
// # Invalid Features
//
// A feature whose value is longer than its field, or that sets a field
// the layer lacks, is logged and skipped. Duplicate key failures are
// counted and skipped. Neither stops the build.
//
// # Check Pass
//
// With Check set, Finish re-reads the layer and looks up each written
// record by a composite id:
//
//	scene  SCENEDEMID|STRIPDEMID|IS_DSP|LOCATION|INDEX_DATE
//	strip  DEM_ID|STRIPDEMID|LOCATION|INDEX_DATE
//	tile   DEM_ID|TILE|LOCATION|INDEX_DATE
//
// Missing records are logged and reported as an *IncompleteError.
//
// # JSON Groups
//
// WriteJSON writes records grouped by strip, strip directory or supertile
// to one file per group. ReadJSON rebuilds them.
package index
