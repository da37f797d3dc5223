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

package dem

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// requiredKey is a key a serialized record must carry. Nullable keys may
// hold null.
type requiredKey struct {
	name     string
	nullable bool
}

func keys(names ...string) []requiredKey {
	out := make([]requiredKey, len(names))
	for i, n := range names {
		out[i] = requiredKey{name: n}
	}
	return out
}

func nullable(names ...string) []requiredKey {
	out := keys(names...)
	for i := range out {
		out[i].nullable = true
	}
	return out
}

var sceneRequired = append(keys(
	"acqdate1", "acqdate2", "algm_version", "bands", "catid1", "catid2",
	"creation_date", "dem", "epsg", "id", "is_xtrack", "is_dsp",
	"filesz_dem", "filesz_lsf", "filesz_mt", "filesz_or", "filesz_or2",
	"geom", "lsf_dem", "matchtag", "metapath", "ortho", "pairname",
	"proj", "proj4", "proj4_meta", "res", "res_str", "sceneid",
	"sensor1", "sensor2", "srcdir", "srcfn", "srcfp", "srs",
	"stripdemid", "wkt_esri", "xres", "xsize", "yres", "ysize",
), nullable("ndv")...)

var stripRequired = append(keys(
	"acqdate1", "acqdate2", "algm_version", "alignment_dct", "archive",
	"bands", "browse", "catid1", "catid2", "creation_date", "datatype",
	"datatype_readable", "epsg", "filesz_dem", "filesz_mt", "filesz_or",
	"filesz_or2", "geocell", "geom", "gtf", "id", "is_lsf", "is_xtrack",
	"matchtag", "mdf", "metapath", "ortho", "pairname", "proj", "proj4",
	"proj4_meta", "readme", "reg_files", "reginfo_list", "res", "res_str",
	"rmse", "scenes", "sensor1", "sensor2", "srcdir", "srcfn", "srcfp",
	"srs", "stats", "stripid", "wkt_esri", "xres", "xsize", "yres", "ysize",
), nullable("avg_acqtime1", "avg_acqtime2", "min_elev_value", "max_elev_value", "ndv")...)

var tileRequired = append(keys(
	"alignment_dct", "archive", "bands", "browse", "creation_date",
	"datatype", "datatype_readable", "day", "epsg", "err", "filesz_dem",
	"geom", "gtf", "id", "matchtag", "metapath", "num_components",
	"ortho", "proj", "proj4", "regmetapath", "res", "srcdir", "srcfn",
	"srcfp", "srs", "stats", "tileid", "tilename", "wkt_esri", "xres",
	"xsize", "yres", "ysize",
), nullable("ndv")...)

var jsonNull = []byte("null")

// checkRequired decodes data as an object and lists every required key
// that is absent, or null when not nullable.
func checkRequired(kind string, data []byte, required []requiredKey) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode %s record: %w", kind, err)
	}
	var missing []string
	for _, k := range required {
		v, ok := raw[k.name]
		if !ok || (!k.nullable && bytes.Equal(bytes.TrimSpace(v), jsonNull)) {
			missing = append(missing, k.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	var id string
	if v, ok := raw["id"]; ok {
		_ = json.Unmarshal(v, &id)
	}
	return &MissingFieldsError{Kind: kind, ID: id, Fields: missing}
}

func rebuild[T any](kind string, data []byte, required []requiredKey) (*T, error) {
	if err := checkRequired(kind, data, required); err != nil {
		return nil, err
	}
	rec := new(T)
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", kind, err)
	}
	return rec, nil
}

// RebuildScene decodes a serialized scene.
func RebuildScene(env Env, data []byte) (*Scene, error) {
	s, err := rebuild[Scene](KindScene, data, sceneRequired)
	if err != nil {
		return nil, err
	}
	s.env = env
	return s, nil
}

// RebuildStrip decodes a serialized strip.
func RebuildStrip(env Env, data []byte) (*Strip, error) {
	s, err := rebuild[Strip](KindStrip, data, stripRequired)
	if err != nil {
		return nil, err
	}
	s.env = env
	return s, nil
}

// RebuildTile decodes a serialized tile.
func RebuildTile(env Env, data []byte) (*Tile, error) {
	t, err := rebuild[Tile](KindTile, data, tileRequired)
	if err != nil {
		return nil, err
	}
	t.env = env
	return t, nil
}
