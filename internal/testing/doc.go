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

// Package testing provides fixture builders for demindex tests.
//
// The helpers write real files into a test's temporary directory so that
// the code under test exercises the same readers it uses in production.
//
// # Quick Start
//
// Write a single band GeoTIFF and open it:
//
//	func TestMyFeature(t *testing.T) {
//	    path := filepath.Join(t.TempDir(), "x_dem.tif")
//	    testing.WriteGeoTIFF(t, path, testing.GeoTIFF{
//	        Width: 4, Height: 4,
//	        GeoTransform: &[6]float64{500000, 2, 0, 5000000, 0, -2},
//	        EPSG: 32610,
//	    })
//
//	    ds, err := raster.GeoTIFF{}.Open(path)
//	    require.NoError(t, err)
//	    defer ds.Close()
//	}
//
// # Product Directories
//
// WriteStrip, WriteScene and WriteTile lay out a DEM product with its
// companion rasters and text sidecars:
//   - WriteStrip: strip DEM, matchtag, ortho and meta file
//   - WriteScene: scene meta, DEM, matchtag and ortho
//   - WriteTile: tile DEM, matchtag and meta file
//
// Each fixture struct has Skip fields to omit individual companions, which
// is how tests produce incomplete products.
//
// # Logs
//
// CaptureLogger returns a slog.Logger that records every entry so tests can
// assert on logged errors and warnings.
package testing
