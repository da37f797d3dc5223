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

// Package dem models SETSM scene, strip and mosaic tile products.
//
// A record is built from the path of its primary file, which resolves the
// companion files by suffix and reads the sidecar metadata. Raster
// information (size, georeferencing, footprint, file sizes) is added by
// ReadDEMInfo, and density and elevation statistics by
// ComputeDensityAndStats. Records serialize to JSON and can be rebuilt from
// it without touching the product files.
//
// # Quick Start
//
//	env := dem.Env{Logger: logger}
//	strip, err := dem.NewStrip(env, "/data/WV01_20200630_..._2m_seg1_dem.tif")
//	if err != nil {
//	    return err
//	}
//	if err := strip.ReadDEMInfo(); err != nil {
//	    return err
//	}
//	if err := strip.ComputeDensityAndStats(density.NewEngine(nil, logger)); err != nil {
//	    return err
//	}
//	fmt.Println(strip.StripDEMID, strip.Geocell, *strip.Density)
//
// # Serialization
//
// Timestamps, footprints and spatial references are encoded as tagged
// objects so that a reader can tell them apart from plain strings:
//
//	{"__datetime__": true, "value": "2020-06-30T21:17:11Z"}
//	{"__geometry__": true, "value": "POLYGON((...))"}
//	{"__srs__": true, "value": "PROJCS[...]"}
//
// RebuildScene, RebuildStrip and RebuildTile check that every required key
// is present before decoding and report all missing keys at once in a
// *MissingFieldsError.
package dem

import (
	"log/slog"

	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/raster"
)

// Env carries the collaborators shared by every record.
type Env struct {
	// Logger receives per-record diagnostics. Nil discards them.
	Logger *slog.Logger
	// Opener opens rasters. Nil reads GeoTIFFs from disk.
	Opener raster.Opener
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

func (e Env) opener() raster.Opener {
	if e.Opener == nil {
		return raster.GeoTIFF{}
	}
	return e.Opener
}

func (e Env) densityEngine() *density.Engine {
	return density.NewEngine(e.opener(), e.logger())
}
