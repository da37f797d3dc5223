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

package index

import (
	"fmt"
	"strings"

	"github.com/kraklabs/demindex/pkg/dem"
	"github.com/kraklabs/demindex/pkg/storage"
)

// Mode selects the record kind an index holds.
type Mode string

const (
	ModeScene Mode = dem.KindScene
	ModeStrip Mode = dem.KindStrip
	ModeTile  Mode = dem.KindTile
)

// ParseMode accepts "scene", "strip" or "tile".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeScene, ModeStrip, ModeTile:
		return m, nil
	}
	return "", fmt.Errorf("unknown index mode %q: expected scene, strip or tile", s)
}

// SourceSuffix is the suffix of the file a record of the mode is built
// from.
func (m Mode) SourceSuffix() string {
	if m == ModeScene {
		return "_meta.txt"
	}
	return "_dem.tif"
}

// MaskedStripSuffixes are the DEM suffixes of strips written with a
// water or cloud mask applied.
var MaskedStripSuffixes = []string{
	"_dem_water-masked.tif",
	"_dem_cloud-masked.tif",
	"_dem_cloud-water-masked.tif",
	"_dem_masked.tif",
}

func strField(name string, width int) storage.FieldDef {
	return storage.FieldDef{Name: name, Type: storage.FieldString, Width: width}
}

func intField(name string) storage.FieldDef {
	return storage.FieldDef{Name: name, Type: storage.FieldInteger, Width: 8}
}

func realField(name string) storage.FieldDef {
	return storage.FieldDef{Name: name, Type: storage.FieldReal}
}

var demFields = []storage.FieldDef{
	strField("DEM_ID", 254),
	strField("STRIPDEMID", 254),
	strField("PAIRNAME", 64),
	strField("SENSOR1", 8),
	strField("SENSOR2", 8),
	strField("ACQDATE1", 32),
	strField("ACQDATE2", 32),
	strField("AVGACQTM1", 32),
	strField("AVGACQTM2", 32),
	strField("CATALOGID1", 32),
	strField("CATALOGID2", 32),
	realField("CENT_LAT"),
	realField("CENT_LON"),
	strField("GEOCELL", 10),
	strField("REGION", 64),
	intField("EPSG"),
	strField("PROJ4", 100),
	realField("ND_VALUE"),
	realField("DEM_RES"),
	strField("CR_DATE", 32),
	strField("ALGM_VER", 32),
	strField("S2S_VER", 32),
	intField("IS_LSF"),
	intField("IS_XTRACK"),
	intField("EDGEMASK"),
	intField("WATERMASK"),
	intField("CLOUDMASK"),
	realField("DENSITY"),
	realField("MASK_DENS"),
	realField("MIN_ELEV"),
	realField("MAX_ELEV"),
	realField("RMSE"),
	strField("LOCATION", 512),
	realField("FILESZ_DEM"),
	realField("FILESZ_MT"),
	realField("FILESZ_OR"),
	realField("FILESZ_OR2"),
	strField("INDEX_DATE", 32),
}

var demRegFields = []storage.FieldDef{
	strField("REG_SRC", 20),
	realField("DX"),
	realField("DY"),
	realField("DZ"),
	intField("NUM_GCPS"),
	realField("MEANRESZ"),
}

var sceneFields = []storage.FieldDef{
	strField("SCENEDEMID", 254),
	strField("STRIPDEMID", 254),
	strField("STATUS", 8),
	strField("PAIRNAME", 64),
	strField("SENSOR1", 8),
	strField("SENSOR2", 8),
	strField("ACQDATE1", 32),
	strField("ACQDATE2", 32),
	strField("CATALOGID1", 32),
	strField("CATALOGID2", 32),
	realField("CENT_LAT"),
	realField("CENT_LON"),
	strField("REGION", 64),
	intField("EPSG"),
	strField("PROJ4", 100),
	realField("ND_VALUE"),
	realField("DEM_RES"),
	strField("CR_DATE", 32),
	strField("ALGM_VER", 32),
	intField("HAS_LSF"),
	intField("HAS_NONLSF"),
	intField("IS_XTRACK"),
	intField("IS_DSP"),
	strField("LOCATION", 512),
	realField("FILESZ_DEM"),
	realField("FILESZ_LSF"),
	realField("FILESZ_MT"),
	realField("FILESZ_OR"),
	realField("FILESZ_OR2"),
	strField("INDEX_DATE", 32),
}

var tileFields = []storage.FieldDef{
	strField("DEM_ID", 80),
	strField("TILE", 20),
	intField("EPSG"),
	realField("ND_VALUE"),
	realField("DEM_RES"),
	strField("CR_DATE", 32),
	realField("DENSITY"),
	intField("NUM_COMP"),
	strField("LOCATION", 512),
	realField("FILESZ_DEM"),
	strField("INDEX_DATE", 32),
}

var tileRegFields = []storage.FieldDef{
	strField("REG_SRC", 20),
	intField("NUM_GCPS"),
	realField("MEANRESZ"),
}

// releaseNames renames general attributes to their release index name.
var releaseNames = map[string]string{
	"DEM_RES":   "GSD",
	"REL_VER":   "RELEASEVER",
	"DENSITY":   "DATA_PERC",
	"AVGACQTM1": "ACQDATE1",
	"AVGACQTM2": "ACQDATE2",
	"ALGM_VER":  "SETSM_VER",
}

// Release indexes carry the average acquisition time in ACQDATE1 and
// ACQDATE2 and drop file locations, sizes and the index date.
var demReleaseFields = []storage.FieldDef{
	strField("DEM_ID", 254),
	strField("STRIPDEMID", 254),
	strField("PAIRNAME", 64),
	strField("SENSOR1", 8),
	strField("SENSOR2", 8),
	strField("ACQDATE1", 32),
	strField("ACQDATE2", 32),
	strField("CATALOGID1", 32),
	strField("CATALOGID2", 32),
	realField("CENT_LAT"),
	realField("CENT_LON"),
	strField("GEOCELL", 10),
	strField("REGION", 64),
	intField("EPSG"),
	realField("GSD"),
	strField("CR_DATE", 32),
	strField("SETSM_VER", 32),
	strField("S2S_VER", 32),
	intField("IS_LSF"),
	intField("IS_XTRACK"),
	intField("EDGEMASK"),
	intField("WATERMASK"),
	intField("CLOUDMASK"),
	realField("DATA_PERC"),
	realField("MIN_ELEV"),
	realField("MAX_ELEV"),
	realField("RMSE"),
	strField("RELEASEVER", 32),
}

var tileReleaseFields = []storage.FieldDef{
	strField("DEM_ID", 80),
	strField("TILE", 20),
	intField("EPSG"),
	realField("GSD"),
	strField("CR_DATE", 32),
	realField("DATA_PERC"),
	intField("NUM_COMP"),
	strField("RELEASEVER", 32),
}

// longNames are the descriptive names written with SchemaOptions.LongNames.
// Names missing from the map are already descriptive.
var longNames = map[string]string{
	"SCENEDEMID": "SCENE_DEM_ID",
	"STRIPDEMID": "STRIP_DEM_ID",
	"ACQDATE1":   "ACQUISITION_DATE1",
	"ACQDATE2":   "ACQUISITION_DATE2",
	"AVGACQTM1":  "AVG_ACQUISITION_TIME1",
	"AVGACQTM2":  "AVG_ACQUISITION_TIME2",
	"CATALOGID1": "CATALOG_ID1",
	"CATALOGID2": "CATALOG_ID2",
	"CENT_LAT":   "CENTROID_LAT",
	"CENT_LON":   "CENTROID_LON",
	"ND_VALUE":   "NODATA_VALUE",
	"DEM_RES":    "DEM_RESOLUTION",
	"CR_DATE":    "CREATION_DATE",
	"ALGM_VER":   "ALGORITHM_VERSION",
	"SETSM_VER":  "SETSM_VERSION",
	"S2S_VER":    "S2S_VERSION",
	"IS_XTRACK":  "IS_CROSS_TRACK",
	"HAS_NONLSF": "HAS_NON_LSF",
	"EDGEMASK":   "EDGE_MASK",
	"WATERMASK":  "WATER_MASK",
	"CLOUDMASK":  "CLOUD_MASK",
	"MASK_DENS":  "MASKED_DENSITY",
	"DATA_PERC":  "DATA_PERCENT",
	"MIN_ELEV":   "MIN_ELEVATION",
	"MAX_ELEV":   "MAX_ELEVATION",
	"FILESZ_DEM": "FILESIZE_DEM",
	"FILESZ_LSF": "FILESIZE_LSF",
	"FILESZ_MT":  "FILESIZE_MATCHTAG",
	"FILESZ_OR":  "FILESIZE_ORTHO",
	"FILESZ_OR2": "FILESIZE_ORTHO2",
	"NUM_COMP":   "NUM_COMPONENTS",
	"REL_VER":    "RELEASE_VERSION",
	"RELEASEVER": "RELEASE_VERSION",
	"REG_SRC":    "REGISTRATION_SOURCE",
	"MEANRESZ":   "MEAN_RESIDUAL_Z",
}

// SchemaOptions extends the base schema of a mode.
type SchemaOptions struct {
	// Registration adds the registration fields. Scenes have none.
	Registration bool
	// Release switches strip and tile indexes to the release schema:
	// fewer fields, some of them renamed, and the release version in
	// RELEASEVER. Scene indexes have no release schema.
	Release bool
	// LongNames writes descriptive field names longer than the ten
	// characters a Shapefile allows.
	LongNames bool
	// Lowercase lowers every field name.
	Lowercase bool
}

// FieldName returns the layer field name of the attribute name.
func (o SchemaOptions) FieldName(name string) string {
	if o.LongNames {
		if long, ok := longNames[strings.ToUpper(name)]; ok {
			name = long
		}
	}
	if o.Lowercase {
		name = strings.ToLower(name)
	}
	return name
}

// Schema returns the ordered field definitions of an index of mode m.
func Schema(m Mode, opts SchemaOptions) []storage.FieldDef {
	var defs []storage.FieldDef
	switch m {
	case ModeScene:
		defs = append(defs, sceneFields...)
	case ModeStrip:
		if opts.Release {
			defs = append(defs, demReleaseFields...)
		} else {
			defs = append(defs, demFields...)
		}
		if opts.Registration {
			defs = append(defs, demRegFields...)
		}
	case ModeTile:
		if opts.Release {
			defs = append(defs, tileReleaseFields...)
		} else {
			defs = append(defs, tileFields...)
		}
		if opts.Registration {
			defs = append(defs, tileRegFields...)
		}
	}
	for i := range defs {
		defs[i].Name = opts.FieldName(defs[i].Name)
	}
	return defs
}

// releaseAttrs renames the attributes of a general record to their
// release names and drops those the release schema of m lacks.
func releaseAttrs(m Mode, attrs map[string]any) map[string]any {
	keep := make(map[string]bool)
	defs := demReleaseFields
	if m == ModeTile {
		defs = tileReleaseFields
	}
	for _, f := range defs {
		keep[f.Name] = true
	}
	for _, f := range demRegFields {
		keep[f.Name] = true
	}
	out := make(map[string]any, len(attrs))
	for name, v := range attrs {
		if to, ok := releaseNames[name]; ok {
			name = to
		} else if _, shadowed := out[name]; shadowed {
			continue
		}
		if keep[name] {
			out[name] = v
		}
	}
	return out
}
