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

// Package storage writes DEM index features to vector datasets.
//
// A Sink is a dataset holding named layers, and a Layer is a table of
// polygon features with typed attribute columns. Four formats are
// supported:
//
//   - ShapefileSink: ESRI Shapefile with an ESRI .prj; string fields are
//     limited to 254 characters
//   - EmbeddedSink: a SQLite layer store (.gdb or .gpkg paths) with WKB
//     geometries and a field catalog
//   - GeoJSONSink: a single FeatureCollection file
//   - PostgresSink: PostGIS tables, one transaction per insert
//
// # Quick Start
//
//	dst, err := storage.ParseDestination("/data/index/strips.gpkg/dem_strips")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sink, err := storage.Open(ctx, dst, storage.OpenConfig{Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sink.Close()
//
//	layer, err := sink.CreateLayer(ctx, dst.Layer, proj.MustEPSG(4326))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = layer.CreateField(ctx, storage.FieldDef{Name: "DEM_ID", Type: storage.FieldString, Width: 254})
//	err = layer.CreateFeature(ctx, storage.Feature{
//	    Attrs:    map[string]any{"DEM_ID": "WV01_20200630_..."},
//	    Geometry: footprint,
//	})
//
// # Destinations
//
// ParseDestination maps a destination string to a driver:
//
//	index.shp              Shapefile, layer named after the file
//	index.gdb[/layer]      SQLite layer store
//	index.gpkg[/layer]     SQLite layer store
//	index.geojson          GeoJSON
//	PG:<section>:<layer>   PostgreSQL, settings from the config section
//
// # Values
//
// Attribute values are coerced to the column type on write: integers to
// int64, reals to float64 and strings to string. Features returns values in
// the same types, so callers can compare what they wrote with what they
// read back.
//
// # Duplicates
//
// A unique constraint violation is reported as ErrDuplicate, which callers
// test with errors.Is.
package storage
