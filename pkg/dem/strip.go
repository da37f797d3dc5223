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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"

	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/geom"
	"github.com/kraklabs/demindex/pkg/metadata"
	"github.com/kraklabs/demindex/pkg/naming"
	"github.com/kraklabs/demindex/pkg/proj"
)

// Strip RMSE sentinels.
const (
	// RMSEUnset is the RMSE before metadata has been read.
	RMSEUnset = -2.0
	// RMSENone is the RMSE of a strip without a nonzero alignment residual.
	RMSENone = -1.0
)

// Strip is a strip DEM mosaicked from one or more scenes.
type Strip struct {
	StripID      string `json:"stripid"`
	ID           string `json:"id"`
	StripDEMID   string `json:"stripdemid"`
	StripDirName string `json:"stripdirname"`
	SrcFP        string `json:"srcfp"`
	SrcDir       string `json:"srcdir"`
	SrcFn        string `json:"srcfn"`

	IsLSF     bool `json:"is_lsf"`
	EdgeMask  bool `json:"edgemask"`
	WaterMask bool `json:"watermask"`
	CloudMask bool `json:"cloudmask"`

	// MetaPath is empty when the strip only has an MDF.
	MetaPath    string   `json:"metapath"`
	DEM         string   `json:"dem"`
	Matchtag    string   `json:"matchtag"`
	Ortho       string   `json:"ortho"`
	Ortho2      string   `json:"ortho2"`
	MDF         string   `json:"mdf"`
	Readme      string   `json:"readme"`
	Browse      string   `json:"browse"`
	DensityFile string   `json:"density_file"`
	Bitmask     string   `json:"bitmask"`
	RegFiles    []string `json:"reg_files"`
	Archive     string   `json:"archive"`

	Pairname    string `json:"pairname"`
	CatID1      string `json:"catid1"`
	CatID2      string `json:"catid2"`
	Sensor1     string `json:"sensor1"`
	Sensor2     string `json:"sensor2"`
	AcqDate1    Time   `json:"acqdate1"`
	AcqDate2    Time   `json:"acqdate2"`
	AvgAcqTime1 *Time  `json:"avg_acqtime1"`
	AvgAcqTime2 *Time  `json:"avg_acqtime2"`
	IsXtrack    bool   `json:"is_xtrack"`
	IsDSP       bool   `json:"is_dsp"`
	Res         string `json:"res"`
	ResStr      string `json:"res_str"`
	Partnum     string `json:"partnum"`

	CreationDate *Time  `json:"creation_date"`
	AlgmVersion  string `json:"algm_version"`
	GroupVersion string `json:"group_version"`
	// Version is the version token embedded in the file name, if any.
	Version        string `json:"version"`
	ReleaseVersion string `json:"release_version"`
	S2SVersion     string `json:"s2s_version"`
	Proj4Meta      string `json:"proj4_meta"`
	Geocell        string `json:"geocell"`

	RMSE          float64       `json:"rmse"`
	MinElev       *float64      `json:"min_elev_value"`
	MaxElev       *float64      `json:"max_elev_value"`
	Density       *float64      `json:"density"`
	MaskedDensity *float64      `json:"masked_density"`
	Stats         density.Stats `json:"stats"`

	Scenes      []map[string]string `json:"scenes"`
	Alignment   map[string][]string `json:"alignment_dct"`
	RegInfoList []RegInfo           `json:"reginfo_list"`

	*RasterInfo
	Geom *Geometry `json:"geom"`

	FileszDEM *float64 `json:"filesz_dem"`
	FileszMT  *float64 `json:"filesz_mt"`
	FileszOr  *float64 `json:"filesz_or"`
	FileszOr2 *float64 `json:"filesz_or2"`

	env Env
}

// NewStrip builds a strip from the path of its DEM. The matchtag and ortho
// must exist next to it together with a meta file or an MDF.
func NewStrip(env Env, demPath string) (*Strip, error) {
	dir, fn := filepath.Split(demPath)
	dir = filepath.Clean(dir)
	masks, err := naming.StripMasks(fn)
	if err != nil {
		return nil, err
	}
	stripid := fn[:strings.Index(fn, "_dem")]
	at := func(suffix string) string { return filepath.Join(dir, stripid+suffix) }

	s := &Strip{
		StripID:     stripid,
		ID:          stripid,
		SrcFP:       demPath,
		SrcDir:      dir,
		SrcFn:       fn,
		IsLSF:       strings.Contains(fn, "lsf"),
		EdgeMask:    masks.Edge,
		WaterMask:   masks.Water,
		CloudMask:   masks.Cloud,
		DEM:         at("_dem.tif"),
		Matchtag:    at("_matchtag.tif"),
		Ortho:       at("_ortho.tif"),
		Ortho2:      at("_ortho2.tif"),
		MDF:         at("_mdf.txt"),
		Readme:      at("_readme.txt"),
		Browse:      at("_dem_browse.tif"),
		DensityFile: at("_density.txt"),
		Bitmask:     at("_bitmask.tif"),
		RegFiles:    []string{at("_reg.txt"), at("_oibreg.txt"), at("_ngareg.txt")},
		Archive:     at(".tar.gz"),
		RMSE:        RMSEUnset,
		AlgmVersion: "SETSM",
		RegInfoList: []RegInfo{},
		env:         env,
	}
	if meta := at("_meta.txt"); fileExists(meta) {
		s.MetaPath = meta
	}
	if !fileExists(s.Browse) {
		s.Browse = at("_dem_10m_shade.tif")
	}

	var missing []string
	for _, p := range []string{s.SrcFP, s.Matchtag, s.Ortho} {
		if !fileExists(p) {
			missing = append(missing, filepath.Base(p))
		}
	}
	if s.MetaPath == "" && !fileExists(s.MDF) {
		missing = append(missing, stripid+"_meta.txt or "+filepath.Base(s.MDF))
	}
	if len(missing) > 0 {
		return nil, &MissingCompanionFileError{Kind: KindStrip, ID: stripid, Missing: missing}
	}

	name, err := naming.ParseStrip(fn)
	if err != nil {
		return nil, err
	}
	s.Pairname = name.Pairname
	s.CatID1 = name.CatID1
	s.CatID2 = name.CatID2
	s.AcqDate1 = NewTime(name.Date)
	s.AcqDate2 = s.AcqDate1
	s.Sensor1 = name.Sensor
	s.Sensor2 = name.Sensor
	s.Res = name.Res
	s.ResStr = name.Res
	s.Partnum = name.Partnum
	s.Version = name.Version
	s.ReleaseVersion = name.ReleaseVersion
	s.IsXtrack = name.IsXtrack()
	return s, nil
}

// ReadDEMInfo reads file sizes, the DEM raster information and the strip
// metadata, then derives the geocell and the strip ids.
func (s *Strip) ReadDEMInfo() error {
	s.FileszDEM = fileSizeGB(s.DEM)
	s.FileszMT = fileSizeGB(s.Matchtag)
	s.FileszOr = fileSizeGB(s.Ortho)
	s.FileszOr2 = fileSizeGB(s.Ortho2)

	info, _, err := readRasterInfo(s.env.opener(), s.SrcFP)
	if err != nil {
		return err
	}
	s.RasterInfo = info

	if err := s.readMetadata(); err != nil {
		return err
	}
	if s.Geom != nil {
		if _, err := s.ComputeGeocell(); err != nil {
			return err
		}
	}
	return s.setIDs()
}

// setIDs derives stripdemid and stripdirname. The version comes from the
// file name token, then the group version, then the SETSM version of the
// first scene.
func (s *Strip) setIDs() error {
	var (
		vkey string
		err  error
	)
	switch {
	case s.Version != "":
		vkey, err = naming.VersionKeyFromToken(s.Version)
	case s.GroupVersion != "":
		vkey, err = naming.VersionKey(s.GroupVersion)
	case len(s.AlgmVersion) > 6:
		vkey, err = naming.VersionKey(s.AlgmVersion[6:])
	default:
		s.env.logger().Warn("dem.strip.no_version", "path", s.SrcFP)
		return nil
	}
	if err != nil {
		return fmt.Errorf("strip %s: %w", s.StripID, err)
	}
	s.StripDEMID = naming.StripDEMID(s.Pairname, s.ResStr, vkey)
	s.StripDirName = naming.StripDirName(s.Pairname, s.ResStr, s.IsLSF, vkey)
	return nil
}

// ComputeGeocell labels the 1°x1° cell holding the footprint centroid and
// stores it in Geocell.
func (s *Strip) ComputeGeocell() (string, error) {
	if s.Geom == nil {
		return "", fmt.Errorf("strip %s has no footprint", s.StripID)
	}
	src, err := proj.FromProj4(s.Proj4Meta)
	if err != nil {
		if s.RasterInfo == nil || s.SRS == nil {
			return "", fmt.Errorf("strip %s: %w", s.StripID, err)
		}
		src = s.SRS.SRS
	}
	cell, err := geom.CentroidGeocell(s.Geom.Polygon, src)
	if err != nil {
		return "", fmt.Errorf("strip %s: %w", s.StripID, err)
	}
	s.Geocell = cell
	return cell, nil
}

func (s *Strip) readMetadata() error {
	if s.MetaPath != "" {
		return s.readMetaFile()
	}
	if fileExists(s.MDF) {
		return s.readMDF()
	}
	return &MissingCompanionFileError{Kind: KindStrip, ID: s.StripID, Missing: []string{s.StripID + "_meta.txt", filepath.Base(s.MDF)}}
}

func (s *Strip) readMetaFile() error {
	log := s.env.logger()
	m, err := metadata.ReadStripMeta(s.MetaPath)
	if m == nil {
		return fmt.Errorf("read strip metadata: %w", err)
	}
	if err != nil {
		log.Warn("dem.strip.meta_lines_skipped", "path", s.MetaPath, "err", err)
	}
	s.Scenes = m.Scenes
	if s.Scenes == nil {
		s.Scenes = []map[string]string{}
	}
	s.Alignment = m.Alignment
	s.S2SVersion = m.S2SVersion

	xs := strings.Fields(m.Header[metadata.KeyStripX])
	ys := strings.Fields(m.Header[metadata.KeyStripY])
	if len(xs) == 1 && len(ys) == 1 && strings.EqualFold(xs[0], "nan") && strings.EqualFold(ys[0], "nan") {
		log.Error("dem.strip.no_valid_vertices", "path", s.MetaPath)
	} else {
		p, err := polygonFromStrings(xs, ys)
		if err != nil {
			return fmt.Errorf("%s: footprint: %w", s.MetaPath, err)
		}
		s.Geom = NewGeometry(p)
	}

	p4, ok := m.Header[metadata.KeyStripProj4]
	if !ok {
		return &MissingMetadataKeyError{Path: s.MetaPath, Key: metadata.KeyStripProj4}
	}
	s.Proj4Meta = strings.ReplaceAll(p4, "'", "")

	cd, ok := m.Header[metadata.KeyStripCreation]
	if !ok {
		return &MissingMetadataKeyError{Path: s.MetaPath, Key: metadata.KeyStripCreation}
	}
	t, err := time.Parse(metadata.MatlabTime, cd)
	if err != nil {
		return fmt.Errorf("%s: creation date: %w", s.MetaPath, err)
	}
	s.CreationDate = TimePtr(t)

	if v, ok := m.SceneValue(metadata.KeySceneSETSM); ok {
		s.AlgmVersion = "SETSM " + v
	}
	if v, ok := m.SceneValue("Group_version", "group_version"); ok {
		s.GroupVersion = v
	}

	rmse, err := alignmentRMSE(m.Alignment)
	if err != nil {
		return fmt.Errorf("%s: %w", s.MetaPath, err)
	}
	s.RMSE = rmse

	for n := 1; n <= 2; n++ {
		times, err := sceneAcqTimes(m.Scenes, n)
		if err != nil {
			return fmt.Errorf("%s: %w", s.MetaPath, err)
		}
		if len(times) == 0 {
			continue
		}
		acq, avg := NewTime(times[0]), TimePtr(meanTime(times))
		if n == 1 {
			s.AcqDate1, s.AvgAcqTime1 = acq, avg
		} else {
			s.AcqDate2, s.AvgAcqTime2 = acq, avg
		}
	}

	if v, ok := m.SceneValue("Image_1_satID"); ok {
		s.Sensor1 = v
	}
	if v, ok := m.SceneValue("Image_2_satID"); ok {
		s.Sensor2 = v
	}

	s.Density, s.MaskedDensity, s.Stats = nil, nil, density.Stats{}
	for key, dst := range map[string]**float64{
		metadata.KeyDensity: &s.Density,
		metadata.KeyMinElev: &s.MinElev,
		metadata.KeyMaxElev: &s.MaxElev,
	} {
		if raw, ok := m.Header[key]; ok {
			v, err := metadata.ParseOptionalFloat(raw)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", s.MetaPath, key, err)
			}
			*dst = v
		}
	}
	if err := s.readDensityCache(); err != nil {
		return err
	}
	s.readRegFiles()
	return nil
}

// readDensityCache overrides density and statistics with the cached
// values, when a cache exists.
func (s *Strip) readDensityCache() error {
	c, err := density.ReadCache(s.DensityFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.Density = c.Density
	s.MaskedDensity = c.MaskedDensity
	s.Stats = c.Stats
	return nil
}

func (s *Strip) readRegFiles() {
	log := s.env.logger()
	s.RegInfoList = []RegInfo{}
	for _, f := range s.RegFiles {
		if !fileExists(f) {
			continue
		}
		reg, err := metadata.ReadReg(f)
		if reg == nil {
			log.Error("dem.strip.registration_unparsable", "path", f, "err", err)
			continue
		}
		s.RegInfoList = append(s.RegInfoList, NewRegInfo(reg, f, ""))
	}
}

// MDF keys read by the fallback path.
const (
	mdfPrefixX        = "STRIP_DEM_X"
	mdfPrefixY        = "STRIP_DEM_Y"
	mdfDensity        = "STRIP_DEM_matchtagDensity"
	mdfMinElev        = "STRIP_DEM_minElevValue"
	mdfMaxElev        = "STRIP_DEM_maxElevValue"
	mdfProj4          = "STRIP_DEM_horizontalCoordSysProj4"
	mdfCreation       = "STRIP_DEM_stripCreationTime"
	mdfSETSMVersion   = "COMPONENT_1_setsmVersion"
	mdfRegPrefix      = "STRIP_DEM_REGISTRATION_registration"
	mdfAcqDate        = "STRIP_DEM_acqDate"
	mdfAvgAcqTime     = "STRIP_DEM_avgAcqTime"
	setsmVersionLabel = "SETSM "
)

func (s *Strip) readMDF() error {
	log := s.env.logger()
	md, err := metadata.ReadGrouped(s.MDF)
	if md == nil {
		return fmt.Errorf("read mdf: %w", err)
	}
	if err != nil {
		log.Warn("dem.strip.mdf_lines_skipped", "path", s.MDF, "err", err)
	}
	s.Scenes = []map[string]string{}
	s.Alignment = map[string][]string{}

	var xs, ys []string
	for i := 1; ; i++ {
		x, okx := md[mdfPrefixX+strconv.Itoa(i)]
		y, oky := md[mdfPrefixY+strconv.Itoa(i)]
		if !okx || !oky {
			break
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) > 0 {
		p, err := polygonFromStrings(xs, ys)
		if err != nil {
			return fmt.Errorf("%s: footprint: %w", s.MDF, err)
		}
		s.Geom = NewGeometry(p)
	}

	s.Density = nil
	if f, err := strconv.ParseFloat(md[mdfDensity], 64); err == nil {
		s.Density = &f
	} else {
		log.Info("dem.strip.mdf_density_invalid", "path", s.SrcFP, "value", md[mdfDensity])
	}
	minV, errMin := strconv.ParseFloat(md[mdfMinElev], 64)
	maxV, errMax := strconv.ParseFloat(md[mdfMaxElev], 64)
	if errMin == nil && errMax == nil {
		s.Stats = density.Stats{&minV, &maxV, nil, nil}
	} else {
		log.Info("dem.strip.mdf_elev_invalid", "path", s.SrcFP, "min", md[mdfMinElev], "max", md[mdfMaxElev])
		s.Stats = density.Stats{}
	}

	p4, ok := md[mdfProj4]
	if !ok {
		return &MissingMetadataKeyError{Path: s.MDF, Key: mdfProj4}
	}
	s.Proj4Meta = strings.ReplaceAll(p4, "'", "")

	ct, ok := md[mdfCreation]
	if !ok {
		return &MissingMetadataKeyError{Path: s.MDF, Key: mdfCreation}
	}
	t, err := metadata.ParseISOTime(ct)
	if err != nil {
		return fmt.Errorf("%s: creation time: %w", s.MDF, err)
	}
	s.CreationDate = TimePtr(t)

	if v, ok := md[mdfSETSMVersion]; ok {
		if !strings.HasPrefix(v, setsmVersionLabel) {
			v = setsmVersionLabel + v
		}
		s.AlgmVersion = v
	}

	if err := pairedTimes(md, mdfAcqDate, metadata.DateOnly, func(t1, t2 time.Time) {
		s.AcqDate1, s.AcqDate2 = NewTime(t1), NewTime(t2)
	}); err != nil {
		return fmt.Errorf("%s: %w", s.MDF, err)
	}
	if err := pairedTimes(md, mdfAvgAcqTime, metadata.DateTime, func(t1, t2 time.Time) {
		s.AvgAcqTime1, s.AvgAcqTime2 = TimePtr(t1), TimePtr(t2)
	}); err != nil {
		return fmt.Errorf("%s: %w", s.MDF, err)
	}

	s.RegInfoList = []RegInfo{}
	reg, name, err := mdfRegistration(md)
	if err != nil {
		log.Warn("dem.strip.registration_not_found", "path", s.SrcFP, "err", err)
	} else {
		s.RegInfoList = append(s.RegInfoList, NewRegInfo(reg, "", name))
	}
	return nil
}

// pairedTimes reads key1 and key2, falling back to key for both.
func pairedTimes(md map[string]string, key, layout string, set func(t1, t2 time.Time)) error {
	v1, ok1 := md[key+"1"]
	v2, ok2 := md[key+"2"]
	if !ok1 || !ok2 {
		v, ok := md[key]
		if !ok {
			return fmt.Errorf("neither %s1/%s2 nor %s found", key, key, key)
		}
		v1, v2 = v, v
	}
	t1, err := time.Parse(layout, v1)
	if err != nil {
		return err
	}
	t2, err := time.Parse(layout, v2)
	if err != nil {
		return err
	}
	set(t1, t2)
	return nil
}

func mdfRegistration(md map[string]string) (*metadata.Registration, string, error) {
	get := func(k string) (float64, error) {
		v, ok := md[mdfRegPrefix+k]
		if !ok {
			return 0, fmt.Errorf("key %s%s not found", mdfRegPrefix, k)
		}
		return strconv.ParseFloat(v, 64)
	}
	var (
		reg  metadata.Registration
		errs []error
		err  error
	)
	if reg.DX, err = get("DX"); err != nil {
		errs = append(errs, err)
	}
	if reg.DY, err = get("DY"); err != nil {
		errs = append(errs, err)
	}
	if reg.DZ, err = get("DZ"); err != nil {
		errs = append(errs, err)
	}
	if reg.MeanResidZ, err = get("MeanVerticalResidual"); err != nil {
		errs = append(errs, err)
	}
	n, err := get("NumGCPs")
	if err != nil {
		errs = append(errs, err)
	}
	reg.NumGCPs = int(n)
	name, ok := md[mdfRegPrefix+"Source"]
	if !ok {
		errs = append(errs, fmt.Errorf("key %sSource not found", mdfRegPrefix))
	}
	if len(errs) > 0 {
		return nil, "", errors.Join(errs...)
	}
	return &reg, name, nil
}

func polygonFromStrings(xs, ys []string) (orb.Polygon, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%d x values but %d y values", len(xs), len(ys))
	}
	pts := make([]orb.Point, len(xs))
	for i := range xs {
		x, err := strconv.ParseFloat(xs[i], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(ys[i], 64)
		if err != nil {
			return nil, err
		}
		pts[i] = orb.Point{x, y}
	}
	return geom.ClosedPolygon(pts)
}

// alignmentRMSE is the mean of the nonzero, non-NaN per-scene rmse values,
// or RMSENone when there are none.
func alignmentRMSE(alignment map[string][]string) (float64, error) {
	var values []float64
	for scene, stats := range alignment {
		if len(stats) == 0 || strings.EqualFold(stats[0], "nan") {
			continue
		}
		v, err := strconv.ParseFloat(stats[0], 64)
		if err != nil {
			return 0, fmt.Errorf("alignment rmse of %s: %w", scene, err)
		}
		if v != 0 {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return RMSENone, nil
	}
	return stat.Mean(values, nil), nil
}

// sceneAcqTimes collects the acquisition time of image n from every scene
// block that carries one, in scene order.
func sceneAcqTimes(scenes []map[string]string, n int) ([]time.Time, error) {
	isoKeys := []string{fmt.Sprintf("Image_%d_Acquisition_time", n), fmt.Sprintf("Image %d Acquisition time", n)}
	imgKeys := []string{fmt.Sprintf("Image %d", n), fmt.Sprintf("Image_%d", n)}

	var out []time.Time
	for _, sc := range scenes {
		t, ok, err := sceneAcqTime(sc, isoKeys, imgKeys)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func sceneAcqTime(sc map[string]string, isoKeys, imgKeys []string) (time.Time, bool, error) {
	for _, k := range isoKeys {
		if v, ok := sc[k]; ok {
			t, err := metadata.ParseISOTime(v)
			return t, err == nil, err
		}
	}
	for _, k := range imgKeys {
		if v, ok := sc[k]; ok {
			parts := strings.Split(filepath.Base(v), "_")
			if len(parts) < 2 {
				return time.Time{}, false, fmt.Errorf("%s: no timestamp in %q", k, v)
			}
			t, err := time.Parse("20060102150405", parts[1])
			return t, err == nil, err
		}
	}
	return time.Time{}, false, nil
}

// meanTime averages ts as offsets from the first value.
func meanTime(ts []time.Time) time.Time {
	offsets := make([]float64, len(ts))
	for i, t := range ts {
		offsets[i] = float64(t.Sub(ts[0]))
	}
	return ts[0].Add(time.Duration(stat.Mean(offsets, nil)))
}

// ElevRange returns the elevation minimum and maximum. Computed or cached
// statistics win over the values of the meta header.
func (s *Strip) ElevRange() (lo, hi *float64) {
	lo, hi = s.MinElev, s.MaxElev
	if s.Stats[0] != nil {
		lo = s.Stats[0]
	}
	if s.Stats[1] != nil {
		hi = s.Stats[1]
	}
	return lo, hi
}

// ComputeDensityAndStats fills in the density, masked density and
// elevation statistics that are still unknown and stores them in the
// density cache. Known values are never recomputed.
func (s *Strip) ComputeDensityAndStats(engine *density.Engine) error {
	log := s.env.logger()
	changed := !fileExists(s.DensityFile)
	area := 0.0
	if s.Geom != nil {
		area = geom.Area(s.Geom.Polygon)
	}

	if s.Density == nil {
		if !fileExists(s.Matchtag) {
			return &MissingCompanionFileError{Kind: KindStrip, ID: s.StripID, Missing: []string{filepath.Base(s.Matchtag)}}
		}
		d, err := engine.MatchtagDensity(s.Matchtag, area)
		if err != nil {
			return err
		}
		s.Density = &d
		changed = true
	}
	if s.MaskedDensity == nil && fileExists(s.Bitmask) {
		md, err := engine.MaskedDensity(s.Matchtag, s.Bitmask, area)
		if err != nil {
			log.Warn("dem.strip.masked_density_failed", "path", s.Bitmask, "err", err)
		} else {
			s.MaskedDensity = &md
			changed = true
		}
	}
	if !s.Stats.Known() {
		st, err := engine.ElevationStats(s.SrcFP)
		if err != nil {
			log.Warn("dem.strip.stats_failed", "path", s.SrcFP, "err", err)
		} else {
			s.Stats = density.StatsFrom(st)
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return density.WriteCache(s.DensityFile, &density.Cache{
		Density:       s.Density,
		MaskedDensity: s.MaskedDensity,
		Stats:         s.Stats,
	})
}
