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
	"math"
	"strings"

	"github.com/kraklabs/demindex/pkg/dem"
)

// NoValue marks an unknown density or elevation.
const NoValue = -9999.0

// DSPMode selects which records a downsampled scene produces.
type DSPMode string

const (
	// DSPModeDSP writes the downsampled record as is.
	DSPModeDSP DSPMode = "dsp"
	// DSPModeOrig writes the record of the original resolution scene.
	DSPModeOrig DSPMode = "orig"
	// DSPModeBoth writes both.
	DSPModeBoth DSPMode = "both"
)

// ParseDSPMode accepts "dsp", "orig" or "both".
func ParseDSPMode(s string) (DSPMode, error) {
	switch m := DSPMode(strings.ToLower(s)); m {
	case DSPModeDSP, DSPModeOrig, DSPModeBoth:
		return m, nil
	}
	return "", fmt.Errorf("unknown dsp record mode %q: expected dsp, orig or both", s)
}

func (m DSPMode) passes() []bool {
	switch m {
	case DSPModeOrig:
		return []bool{true}
	case DSPModeBoth:
		return []bool{true, false}
	}
	return []bool{false}
}

const (
	sceneDateLayout = "2006-01-02T15:04:05Z"
	dateLayout      = "2006-01-02"
	timeLayout      = "2006-01-02 15:04:05"
)

// draft is the attribute map of one feature before its geometry is
// transformed and its fields are checked.
type draft struct {
	// label names the record in logs.
	label string
	attrs map[string]any
	// optional attributes are only set when the layer has the field.
	optional map[string]any
	info     *dem.RasterInfo
	geom     *dem.Geometry
}

// skip reports a record that yields no feature, with the level it is
// logged at.
type skip struct {
	reason string
	warn   bool
}

func round6(v *float64) float64 {
	if v == nil {
		return NoValue
	}
	return math.Round(*v*1e6) / 1e6
}

func formatTime(t *dem.Time, layout string) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(layout)
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func sceneDrafts(s *dem.Scene, b *Builder) ([]draft, []skip) {
	var (
		drafts []draft
		skips  []skip
	)
	for _, orig := range b.opts.DSPMode.passes() {
		// Only a downsampled scene has an original resolution record.
		if orig && !s.IsDSP {
			continue
		}
		a := map[string]any{
			"SCENEDEMID": s.SceneID,
			"STRIPDEMID": s.StripDEMID,
			"STATUS":     b.opts.Status,
			"PAIRNAME":   s.Pairname,
			"SENSOR1":    s.Sensor1,
			"SENSOR2":    s.Sensor2,
			"ACQDATE1":   formatTime(&s.AcqDate1, sceneDateLayout),
			"ACQDATE2":   formatTime(&s.AcqDate2, sceneDateLayout),
			"CATALOGID1": s.CatID1,
			"CATALOGID2": s.CatID2,
			"HAS_LSF":    s.HasLSF(),
			"HAS_NONLSF": s.HasNonLSF(),
			"IS_XTRACK":  s.IsXtrack,
			"IS_DSP":     s.IsDSP,
			"ALGM_VER":   s.AlgmVersion,
			"FILESZ_DEM": floatOrNil(s.FileszDEM),
			"FILESZ_LSF": floatOrNil(s.FileszLSF),
			"FILESZ_MT":  floatOrNil(s.FileszMT),
			"FILESZ_OR":  floatOrNil(s.FileszOr),
			"FILESZ_OR2": floatOrNil(s.FileszOr2),
		}
		label := s.SceneID
		if orig {
			label = s.DSPSceneID
			a["SCENEDEMID"] = s.DSPSceneID
			a["STRIPDEMID"] = s.DSPStripDEMID
			a["STATUS"] = b.opts.statusOrig()
			a["IS_DSP"] = false
			for _, k := range []string{"FILESZ_DEM", "FILESZ_LSF", "FILESZ_MT", "FILESZ_OR", "FILESZ_OR2"} {
				a[k] = nil
			}
			switch {
			case s.DSPFileszDEM == nil && b.opts.SkipMissingDSPInfo:
				skips = append(skips, skip{reason: "original resolution file size is empty for " + s.SceneID})
				continue
			case s.DSPFileszDEM == nil:
				b.logger.Debug("index.scene.dsp_info_missing", "scene", s.SceneID)
			case *s.DSPFileszDEM == 0:
				b.logger.Warn("index.scene.dsp_filesz_zero", "scene", s.SceneID)
			}
		} else if !s.HasNonLSF() && !s.HasLSF() {
			skips = append(skips, skip{reason: "DEM and LSF DEM file size is zero or null for " + s.SceneID, warn: true})
			continue
		}
		if s.RasterInfo != nil {
			a["PROJ4"] = s.Proj4
			a["EPSG"] = s.EPSG
		}
		b.setRegion(a, s.Pairname)
		b.setCommon(a, s.CreationDate, s.RasterInfo, s.Location())
		if orig {
			a["DEM_RES"] = floatOrNil(s.DSPDEMRes)
		}
		drafts = append(drafts, draft{label: label, attrs: a, info: s.RasterInfo, geom: s.Geom})
	}
	return drafts, skips
}

func stripDraft(s *dem.Strip, b *Builder) draft {
	minElev, maxElev := s.ElevRange()
	a := map[string]any{
		"DEM_ID":     s.StripID,
		"STRIPDEMID": s.StripDEMID,
		"PAIRNAME":   s.Pairname,
		"SENSOR1":    s.Sensor1,
		"SENSOR2":    s.Sensor2,
		"ACQDATE1":   formatTime(&s.AcqDate1, dateLayout),
		"ACQDATE2":   formatTime(&s.AcqDate2, dateLayout),
		"AVGACQTM1":  formatTime(s.AvgAcqTime1, timeLayout),
		"AVGACQTM2":  formatTime(s.AvgAcqTime2, timeLayout),
		"CATALOGID1": s.CatID1,
		"CATALOGID2": s.CatID2,
		"IS_LSF":     s.IsLSF,
		"IS_XTRACK":  s.IsXtrack,
		"EDGEMASK":   s.EdgeMask,
		"WATERMASK":  s.WaterMask,
		"CLOUDMASK":  s.CloudMask,
		"ALGM_VER":   s.AlgmVersion,
		"S2S_VER":    s.S2SVersion,
		"RMSE":       s.RMSE,
		"FILESZ_DEM": floatOrNil(s.FileszDEM),
		"FILESZ_MT":  floatOrNil(s.FileszMT),
		"FILESZ_OR":  floatOrNil(s.FileszOr),
		"FILESZ_OR2": floatOrNil(s.FileszOr2),
		"GEOCELL":    s.Geocell,
		"DENSITY":    round6(s.Density),
		"MASK_DENS":  round6(s.MaskedDensity),
		"MIN_ELEV":   round6(minElev),
		"MAX_ELEV":   round6(maxElev),
	}
	if s.RasterInfo != nil {
		a["PROJ4"] = s.Proj4
		a["EPSG"] = s.EPSG
	}
	b.setRegion(a, s.Pairname)
	b.setCommon(a, s.CreationDate, s.RasterInfo, s.Location())

	opt := map[string]any{}
	if s.ReleaseVersion != "" {
		opt["REL_VER"] = s.ReleaseVersion
	}
	for _, ri := range s.RegInfoList {
		if ri.Name != dem.RegICESat {
			continue
		}
		opt["REG_SRC"] = ri.Name
		opt["DX"] = ri.DX
		opt["DY"] = ri.DY
		opt["DZ"] = ri.DZ
		opt["NUM_GCPS"] = ri.NumGCPs
		opt["MEANRESZ"] = ri.MeanResidZ
		break
	}
	return draft{label: s.StripID, attrs: a, optional: opt, info: s.RasterInfo, geom: s.Geom}
}

func tileDraft(t *dem.Tile, b *Builder) draft {
	density := NoValue
	if t.Density != nil {
		density = *t.Density
	}
	a := map[string]any{
		"DEM_ID":     t.TileID,
		"TILE":       t.TileName,
		"NUM_COMP":   intOrNil(t.NumComponents),
		"FILESZ_DEM": floatOrNil(t.FileszDEM),
		"DENSITY":    density,
	}
	if t.RasterInfo != nil {
		a["EPSG"] = t.EPSG
	}
	b.setCommon(a, t.CreationDate, t.RasterInfo, t.Location())

	opt := map[string]any{}
	if t.ReleaseVersion != "" {
		opt["REL_VER"] = t.ReleaseVersion
	}
	if t.RegSrc != "" {
		opt["REG_SRC"] = t.RegSrc
		opt["NUM_GCPS"] = intOrNil(t.NumGCPs)
	}
	if t.MeanResidZ != nil {
		opt["MEANRESZ"] = *t.MeanResidZ
	}
	return draft{label: t.TileID, attrs: a, optional: opt, info: t.RasterInfo, geom: t.Geom}
}

// setCommon sets the attributes shared by every mode.
func (b *Builder) setCommon(a map[string]any, created *dem.Time, info *dem.RasterInfo, location string) {
	a["INDEX_DATE"] = b.indexDate
	a["CR_DATE"] = formatTime(created, dateLayout)
	a["LOCATION"] = location
	if info != nil {
		a["ND_VALUE"] = floatOrNil(info.NDV)
		a["DEM_RES"] = info.Resolution()
	}
}

func (b *Builder) setRegion(a map[string]any, pairname string) {
	if r, ok := b.opts.Regions.Lookup(pairname); ok {
		a["REGION"] = r.Region
	}
}
