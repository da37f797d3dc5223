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

// Package naming recovers product identity from SETSM file names.
//
// Scene, strip and tile products have each gone through several naming
// conventions. Each convention is a variant in an ordered table; the first
// variant whose predicate accepts the name parses it and the table ends in an
// explicit unrecognized fallback that returns a *NamePatternError.
//
//	sn, err := naming.ParseScene("WV01_20200630_10200100991E2C00_102001009A862700_504471479080_01_P001_504471481090_01_P001_2_meta.txt")
//	if err != nil {
//	    var npe *naming.NamePatternError
//	    if errors.As(err, &npe) { ... }
//	}
//	fmt.Println(sn.Pairname, sn.ResStr()) // WV01_20200630_... 2m
package naming

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Product kinds reported in NamePatternError.
const (
	KindScene = "scene"
	KindStrip = "strip"
	KindTile  = "tile"
)

// NamePatternError reports a file name that matches none of the known
// naming conventions for its product kind.
type NamePatternError struct {
	Kind     string
	Filename string
	Reason   string
}

func (e *NamePatternError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s name does not match expected pattern: %s (%s)", e.Kind, e.Filename, e.Reason)
	}
	return fmt.Sprintf("%s name does not match expected pattern: %s", e.Kind, e.Filename)
}

// Pair is the stereo pair identity shared by scenes and strips.
type Pair struct {
	// Pairname is sensor_date_catid1_catid2.
	Pairname string
	Sensor   string
	// Date is the acquisition date encoded in the pairname (UTC midnight).
	Date   time.Time
	CatID1 string
	CatID2 string
}

// IsXtrack reports whether the pair sensor code marks a cross-track pair.
func (p Pair) IsXtrack() bool {
	return xtrackSensorPattern.MatchString(p.Sensor)
}

var (
	xtrackSensorPattern = regexp.MustCompile(`(?i)^[wqg]\d[wqg]\d`)
	pairnamePattern     = regexp.MustCompile(`(?i)^[A-Z][A-Z\d]{2}\d_\d{8}_[A-Z0-9]{16}_[A-Z0-9]{16}$`)
)

// ValidPairname reports whether s has the sensor(4)_date(8)_catid(16)_catid(16) shape.
func ValidPairname(s string) bool {
	return pairnamePattern.MatchString(s)
}

// MaskFlags records which masks were applied to a strip DEM.
type MaskFlags struct {
	Edge  bool
	Water bool
	Cloud bool
}

// stripMasks maps the DEM suffix after the strip id to its mask flags.
var stripMasks = map[string]MaskFlags{
	"_dem.tif":                    {Edge: true},
	"_dem_water-masked.tif":       {Edge: true, Water: true},
	"_dem_cloud-masked.tif":       {Edge: true, Cloud: true},
	"_dem_cloud-water-masked.tif": {Edge: true, Water: true, Cloud: true},
	"_dem_masked.tif":             {Edge: true, Water: true, Cloud: true},
}

// MaskedStripSuffixes lists the masked strip DEM suffixes searched in
// addition to _dem.tif when masked strips are requested.
var MaskedStripSuffixes = []string{
	"_dem_water-masked.tif",
	"_dem_cloud-masked.tif",
	"_dem_cloud-water-masked.tif",
	"_dem_masked.tif",
}

// MasksForSuffix returns the mask flags for a strip DEM suffix such as
// "_dem_cloud-masked.tif".
func MasksForSuffix(suffix string) (MaskFlags, bool) {
	m, ok := stripMasks[strings.ToLower(suffix)]
	return m, ok
}

// SceneResolution pairs the one-character resolution code used in scene
// ids with the resolution string used in strip ids.
type SceneResolution struct {
	Code   string
	ResStr string
}

var sceneResByMeters = map[float64]SceneResolution{
	0.5: {Code: "0", ResStr: "50cm"},
	1.0: {Code: "1", ResStr: "1m"},
	2.0: {Code: "2", ResStr: "2m"},
	8.0: {Code: "8", ResStr: "8m"},
}

// SceneResolutionForMeters looks up the scene resolution codes for a ground
// sample distance in meters.
func SceneResolutionForMeters(m float64) (SceneResolution, bool) {
	r, ok := sceneResByMeters[m]
	return r, ok
}

// SceneResStr returns the strip resolution string for a scene res code.
func SceneResStr(code string) (string, bool) {
	for _, r := range sceneResByMeters {
		if r.Code == code {
			return r.ResStr, true
		}
	}
	return "", false
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("20060102", s)
}
