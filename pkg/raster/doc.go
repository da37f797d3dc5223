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

// Package raster provides read access to georeferenced DEM rasters.
//
// The package defines the Opener and Dataset interfaces consumed by the
// entity model and the density engine, and a pure-Go GeoTIFF implementation
// of them.
//
// # Quick Start
//
// Open a raster and read its georeferencing:
//
//	ds, err := raster.GeoTIFF{}.Open("/data/strip_dem.tif")
//	if err != nil {
//	    return err
//	}
//	defer ds.Close()
//
//	xsize, ysize := ds.Size()
//	gt := ds.GeoTransform()
//	srs, err := ds.SRS()
//
// # Supported Files
//
// The GeoTIFF reader handles classic TIFF in either byte order, organized in
// strips or tiles, uncompressed or compressed with LZW or Deflate, with or
// without the horizontal differencing predictor. Samples may be signed or
// unsigned integers of 8 to 64 bits or IEEE floats.
//
// Georeferencing is read from ModelPixelScale and ModelTiepoint, or from
// ModelTransformation. A file carrying several tiepoints and no pixel scale
// exposes them as ground control points instead of a geotransform.
//
// The coordinate system comes from the GeoKey directory: either a
// ProjectedCSType code or user-defined transverse Mercator and polar
// stereographic parameters on the WGS84 datum. The GDAL_NODATA tag supplies
// the nodata value.
//
// # Statistics
//
// Statistics ignore nodata and NaN pixels. Approximate statistics sample a
// bounded number of rows and are meant to be tried first, falling back to
// exact statistics when they fail.
package raster
