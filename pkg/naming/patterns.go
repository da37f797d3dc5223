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

package naming

import (
	"regexp"
	"strings"
)

const pairExpr = `(?P<pairname>(?P<sensor>[A-Z][A-Z\d]{2}\d)_(?P<timestamp>\d{8})_(?P<catid1>[A-Z0-9]{16})_(?P<catid2>[A-Z0-9]{16}))`

var (
	scenePattern = regexp.MustCompile(`(?i)^` + pairExpr +
		`_(?P<tile1>R\d+C\d+)?-?(?P<order1>\d{12}_\d{2}_P\d{3})_(?P<tile2>R\d+C\d+)?-?(?P<order2>\d{12}_\d{2}_P\d{3})_(?P<res>[0128])(?:-(?P<subtile>\d{2}))?_meta\.txt$`)

	// Strip patterns are searched rather than anchored at the start so that
	// a release prefix such as SETSM_s2s041_ is tolerated.
	stripPattern1 = regexp.MustCompile(`(?i)(?:(?P<relver>s2s\d{3})_)?` + pairExpr +
		`_(?P<res>(?:\d+|0\.\d+)c?m)_(?P<lsf>lsf_)?(?P<partnum>[SEG\d]+)_(?:(?P<version>v[\d/.]+)_)?(?P<suffix>dem(?:_water-masked|_cloud-masked|_cloud-water-masked|_masked)?\.(?:tif|jpg))$`)

	stripPattern2 = regexp.MustCompile(`(?i)(?:(?P<relver>s2s\d{3})_)?` + pairExpr +
		`_(?P<partnum>[SEG\d]+)_(?P<res>(?:\d+|0\.\d+)c?m)_(?:(?P<version>v[\d/.]+)_)?(?P<lsf>lsf_)?(?P<suffix>dem\.(?:tif|jpg))$`)

	tilePattern = regexp.MustCompile(`(?i)^(?:(?P<scheme>utm\d{2}[ns])_)?(?P<tile>\d+_\d+)_(?:(?P<subtile>\d+_\d+)_)?(?P<res>(?:\d+|0\.\d+)c?m)_(?:(?P<version>v[\d/.]+)_)?(?P<reg>reg_)?dem\.tif$`)
)

// variant is one naming convention: a predicate deciding whether the
// convention applies and a parser that extracts identity from the name.
type variant[T any] struct {
	name  string
	match func(fn string) bool
	parse func(fn string) (T, error)
}

// dispatch evaluates variants in order and returns the first parse result.
// A name accepted by no variant falls through to the unrecognized error.
func dispatch[T any](kind, fn string, variants []variant[T]) (T, error) {
	for _, v := range variants {
		if v.match(fn) {
			return v.parse(fn)
		}
	}
	var zero T
	return zero, &NamePatternError{Kind: kind, Filename: fn}
}

// submatches returns the named groups of re in fn, or nil when re does not
// match.
func submatches(re *regexp.Regexp, fn string) map[string]string {
	m := re.FindStringSubmatch(fn)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if name != "" {
			out[name] = m[i]
		}
	}
	return out
}

func pairFromGroups(kind, fn string, g map[string]string) (Pair, error) {
	d, err := parseDate(g["timestamp"])
	if err != nil {
		return Pair{}, &NamePatternError{Kind: kind, Filename: fn, Reason: "invalid date " + g["timestamp"]}
	}
	return Pair{
		Pairname: g["pairname"],
		Sensor:   g["sensor"],
		Date:     d,
		CatID1:   g["catid1"],
		CatID2:   g["catid2"],
	}, nil
}

// SceneName is the identity recovered from a scene metadata file name.
type SceneName struct {
	Pair
	Tile1   string
	Order1  string
	Tile2   string
	Order2  string
	Res     string
	Subtile string
}

// ResStr returns the strip-level resolution string ("50cm", "2m", ...).
func (s SceneName) ResStr() string {
	r, _ := SceneResStr(s.Res)
	return r
}

var sceneVariants = []variant[SceneName]{
	{
		name:  "setsm-scene",
		match: scenePattern.MatchString,
		parse: func(fn string) (SceneName, error) {
			g := submatches(scenePattern, fn)
			pair, err := pairFromGroups(KindScene, fn, g)
			if err != nil {
				return SceneName{}, err
			}
			return SceneName{
				Pair:    pair,
				Tile1:   g["tile1"],
				Order1:  g["order1"],
				Tile2:   g["tile2"],
				Order2:  g["order2"],
				Res:     g["res"],
				Subtile: g["subtile"],
			}, nil
		},
	},
}

// ParseScene parses a scene metadata file name (…_meta.txt).
func ParseScene(fn string) (SceneName, error) {
	return dispatch(KindScene, fn, sceneVariants)
}

// StripName is the identity recovered from a strip DEM file name.
type StripName struct {
	Pair
	// Res is the resolution token as written in the name, e.g. "2m" or "50cm".
	Res     string
	LSF     bool
	Partnum string
	// Version is the embedded version token including its "v" prefix, or "".
	Version string
	// ReleaseVersion is the s2s release prefix (e.g. "s2s041"), or "".
	ReleaseVersion string
	// Suffix is the DEM suffix matched by the pattern, e.g. "dem.tif".
	Suffix string
	// Variant names the convention that matched.
	Variant string
}

func stripVariant(name string, re *regexp.Regexp) variant[StripName] {
	return variant[StripName]{
		name:  name,
		match: re.MatchString,
		parse: func(fn string) (StripName, error) {
			g := submatches(re, fn)
			pair, err := pairFromGroups(KindStrip, fn, g)
			if err != nil {
				return StripName{}, err
			}
			return StripName{
				Pair:           pair,
				Res:            g["res"],
				LSF:            g["lsf"] != "",
				Partnum:        g["partnum"],
				Version:        g["version"],
				ReleaseVersion: strings.ToLower(g["relver"]),
				Suffix:         g["suffix"],
				Variant:        name,
			}, nil
		},
	}
}

var stripVariants = []variant[StripName]{
	stripVariant("setsm-strip-res-first", stripPattern1),
	stripVariant("setsm-strip-seg-first", stripPattern2),
}

// ParseStrip parses a strip DEM file name.
func ParseStrip(fn string) (StripName, error) {
	return dispatch(KindStrip, fn, stripVariants)
}

// StripMasks derives the mask flags of a strip DEM from the part of its
// name starting at "_dem". Unknown suffixes are rejected.
func StripMasks(fn string) (MaskFlags, error) {
	i := strings.Index(fn, "_dem")
	if i < 0 {
		return MaskFlags{}, &NamePatternError{Kind: KindStrip, Filename: fn, Reason: "no _dem suffix"}
	}
	m, ok := MasksForSuffix(fn[i:])
	if !ok {
		return MaskFlags{}, &NamePatternError{Kind: KindStrip, Filename: fn, Reason: "unknown mask suffix " + fn[i:]}
	}
	return m, nil
}

// TileName is the identity recovered from a mosaic tile DEM file name.
type TileName struct {
	Scheme  string
	Tile    string
	Subtile string
	Res     string
	Version string
	Reg     bool
}

var tileVariants = []variant[TileName]{
	{
		name:  "setsm-tile",
		match: tilePattern.MatchString,
		parse: func(fn string) (TileName, error) {
			g := submatches(tilePattern, fn)
			return TileName{
				Scheme:  g["scheme"],
				Tile:    g["tile"],
				Subtile: g["subtile"],
				Res:     g["res"],
				Version: g["version"],
				Reg:     g["reg"] != "",
			}, nil
		},
	},
}

// ParseTile parses a tile DEM file name.
func ParseTile(fn string) (TileName, error) {
	return dispatch(KindTile, fn, tileVariants)
}
