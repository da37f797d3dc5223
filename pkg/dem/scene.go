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
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kraklabs/demindex/pkg/metadata"
	"github.com/kraklabs/demindex/pkg/naming"
)

const sceneMetaSuffix = "_meta.txt"

// sceneFileSizeKeys are the file size attributes of a scene, also the keys
// of the downsampling info file.
var sceneFileSizeKeys = []string{"filesz_dem", "filesz_lsf", "filesz_mt", "filesz_or", "filesz_or2"}

// Scene is a single stereo scene DEM.
type Scene struct {
	SceneID string `json:"sceneid"`
	ID      string `json:"id"`
	SrcDir  string `json:"srcdir"`
	SrcFn   string `json:"srcfn"`
	SrcFP   string `json:"srcfp"`

	MetaPath string `json:"metapath"`
	DEM      string `json:"dem"`
	LSFDEM   string `json:"lsf_dem"`
	Matchtag string `json:"matchtag"`
	Ortho    string `json:"ortho"`
	Ortho2   string `json:"ortho2"`
	DSPInfo  string `json:"dspinfo"`

	Pairname string `json:"pairname"`
	CatID1   string `json:"catid1"`
	CatID2   string `json:"catid2"`
	Sensor1  string `json:"sensor1"`
	Sensor2  string `json:"sensor2"`
	AcqDate1 Time   `json:"acqdate1"`
	AcqDate2 Time   `json:"acqdate2"`
	IsXtrack bool   `json:"is_xtrack"`
	Res      string `json:"res"`
	ResStr   string `json:"res_str"`
	Subtile  string `json:"subtile"`

	AlgmVersion  string `json:"algm_version"`
	Version      string `json:"version"`
	GroupVersion string `json:"group_version"`
	CreationDate *Time  `json:"creation_date"`
	Proj4Meta    string `json:"proj4_meta"`
	StripDEMID   string `json:"stripdemid"`

	IsDSP         bool     `json:"is_dsp"`
	DSPDEMRes     *float64 `json:"dsp_dem_res"`
	DSPSceneID    string   `json:"dsp_sceneid"`
	DSPStripDEMID string   `json:"dsp_stripdemid"`
	DSPFileszDEM  *float64 `json:"dsp_filesz_dem"`
	DSPFileszLSF  *float64 `json:"dsp_filesz_lsf"`
	DSPFileszMT   *float64 `json:"dsp_filesz_mt"`
	DSPFileszOr   *float64 `json:"dsp_filesz_or"`
	DSPFileszOr2  *float64 `json:"dsp_filesz_or2"`

	*RasterInfo
	Geom *Geometry `json:"geom"`

	FileszDEM *float64 `json:"filesz_dem"`
	FileszLSF *float64 `json:"filesz_lsf"`
	FileszMT  *float64 `json:"filesz_mt"`
	FileszOr  *float64 `json:"filesz_or"`
	FileszOr2 *float64 `json:"filesz_or2"`

	env Env
}

// NewScene builds a scene from its _meta.txt path. The ortho, matchtag
// and meta files and one of the DEM or LSF DEM must exist.
func NewScene(env Env, metaPath string) (*Scene, error) {
	dir, fn := filepath.Split(metaPath)
	dir = filepath.Clean(dir)
	sceneid := strings.TrimSuffix(fn, sceneMetaSuffix)
	s := &Scene{
		SceneID:  sceneid,
		ID:       sceneid,
		SrcDir:   dir,
		SrcFn:    fn,
		SrcFP:    metaPath,
		MetaPath: metaPath,
		DEM:      filepath.Join(dir, sceneid+"_dem.tif"),
		LSFDEM:   filepath.Join(dir, sceneid+"_dem_smooth.tif"),
		Matchtag: filepath.Join(dir, sceneid+"_matchtag.tif"),
		Ortho:    filepath.Join(dir, sceneid+"_ortho.tif"),
		Ortho2:   filepath.Join(dir, sceneid+"_ortho2.tif"),
		DSPInfo:  filepath.Join(dir, sceneid+"_info50cm.txt"),
		env:      env,
	}
	if edge := filepath.Join(dir, sceneid+"_dem_edge-masked.tif"); !fileExists(s.DEM) && fileExists(edge) {
		s.DEM = edge
	}

	var missing []string
	for _, p := range []string{s.Ortho, s.Matchtag, s.MetaPath} {
		if !fileExists(p) {
			missing = append(missing, filepath.Base(p))
		}
	}
	if !fileExists(s.DEM) && !fileExists(s.LSFDEM) {
		missing = append(missing, filepath.Base(s.DEM)+" or "+filepath.Base(s.LSFDEM))
	}
	if len(missing) > 0 {
		return nil, &MissingCompanionFileError{Kind: KindScene, ID: sceneid, Missing: missing}
	}

	name, err := naming.ParseScene(fn)
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
	s.ResStr = name.ResStr()
	s.Subtile = name.Subtile
	s.IsXtrack = name.IsXtrack()
	s.AlgmVersion = "SETSM"

	if err := s.readMetadata(); err != nil {
		return nil, err
	}

	v := s.GroupVersion
	if v == "" {
		v = s.Version
	}
	vkey, err := naming.VersionKey(v)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", sceneid, err)
	}
	s.StripDEMID = naming.StripDEMID(s.Pairname, s.ResStr, vkey)

	if s.IsDSP {
		if s.DSPDEMRes == nil {
			return nil, fmt.Errorf("scene %s is downsampled but has no original resolution", sceneid)
		}
		orig, ok := naming.SceneResolutionForMeters(*s.DSPDEMRes)
		if !ok {
			return nil, fmt.Errorf("scene %s: unsupported original resolution %v", sceneid, *s.DSPDEMRes)
		}
		s.DSPSceneID = naming.DSPSceneID(sceneid, orig.Code)
		s.DSPStripDEMID = naming.StripDEMID(s.Pairname, orig.ResStr, vkey)
	}
	return s, nil
}

func (s *Scene) readMetadata() error {
	log := s.env.logger()
	metad, err := metadata.ReadSceneMeta(s.MetaPath)
	if metad == nil {
		return fmt.Errorf("read scene metadata: %w", err)
	}
	if err != nil {
		log.Warn("dem.scene.meta_lines_skipped", "path", s.MetaPath, "err", err)
	}

	if v, ok := metad["group_version"]; ok {
		s.GroupVersion = v
	}
	if v, ok := metad["image_1_satid"]; ok {
		s.Sensor1 = v
	}
	if v, ok := metad["image_2_satid"]; ok {
		s.Sensor2 = v
	}

	p4, ok := metad["output_projection"]
	if !ok {
		return &MissingMetadataKeyError{Path: s.MetaPath, Key: "Output Projection"}
	}
	s.Proj4Meta = strings.ReplaceAll(p4, "'", "")

	cd, ok := metad["creation_date"]
	if !ok {
		return &MissingMetadataKeyError{Path: s.MetaPath, Key: "Creation Date"}
	}
	t, ok, err := metadata.ParseCreationDate(cd)
	if err != nil {
		return err
	}
	if ok {
		s.CreationDate = TimePtr(t)
	}

	ver, ok := metad["setsm_version"]
	if !ok {
		return &MissingMetadataKeyError{Path: s.MetaPath, Key: "SETSM Version"}
	}
	s.AlgmVersion = "SETSM " + ver
	s.Version = ver

	for key, dst := range map[string]*Time{
		"image_1_acquisition_time": &s.AcqDate1,
		"image_2_acquisition_time": &s.AcqDate2,
	} {
		if v, ok := metad[key]; ok {
			t, err := metadata.ParseISOTime(v)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", s.MetaPath, key, err)
			}
			*dst = NewTime(t)
		}
	}

	_, s.IsDSP = metad["downsample_method_dem"]
	if v, ok := metad["original_resolution"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.DSPDEMRes = &f
		} else if v2, ok := metad["original_dem"]; ok {
			if f, err := strconv.ParseFloat(v2, 64); err == nil {
				s.DSPDEMRes = &f
			}
		}
	}

	return s.readDSPInfo()
}

// readDSPInfo reads the original resolution file sizes of a downsampled
// scene. The info file must hold exactly one value per file size key.
func (s *Scene) readDSPInfo() error {
	if !fileExists(s.DSPInfo) {
		return nil
	}
	dspmetad, err := metadata.ReadSceneMeta(s.DSPInfo)
	if dspmetad == nil {
		return fmt.Errorf("read dsp info: %w", err)
	}
	if err != nil {
		s.env.logger().Warn("dem.scene.dspinfo_lines_skipped", "path", s.DSPInfo, "err", err)
	}
	if len(dspmetad) != 7 {
		return fmt.Errorf("dsp info file %s has incorrect number of values (%d/7)", s.DSPInfo, len(dspmetad))
	}
	dst := []**float64{&s.DSPFileszDEM, &s.DSPFileszLSF, &s.DSPFileszMT, &s.DSPFileszOr, &s.DSPFileszOr2}
	var errs []error
	for i, k := range sceneFileSizeKeys {
		raw, ok := dspmetad[k]
		if !ok {
			errs = append(errs, &MissingMetadataKeyError{Path: s.DSPInfo, Key: k})
			continue
		}
		v, err := metadata.ParseOptionalFloat(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %s: %w", s.DSPInfo, k, err))
			continue
		}
		*dst[i] = v
	}
	return errors.Join(errs...)
}

// ReadDEMInfo reads file sizes and the raster information of the LSF DEM,
// or of the DEM when there is no LSF DEM.
func (s *Scene) ReadDEMInfo() error {
	s.FileszDEM = fileSizeGB(s.DEM)
	s.FileszLSF = fileSizeGB(s.LSFDEM)
	s.FileszMT = fileSizeGB(s.Matchtag)
	s.FileszOr = fileSizeGB(s.Ortho)
	s.FileszOr2 = fileSizeGB(s.Ortho2)

	src := s.LSFDEM
	if !fileExists(src) {
		src = s.DEM
	}
	if !fileExists(src) {
		return &MissingCompanionFileError{Kind: KindScene, ID: s.SceneID, Missing: []string{filepath.Base(s.DEM)}}
	}
	info, fp, err := readRasterInfo(s.env.opener(), src)
	if err != nil {
		return err
	}
	s.RasterInfo = info
	s.Geom = NewGeometry(fp)
	return nil
}

// HasLSF reports whether the scene has a non-empty LSF DEM.
func (s *Scene) HasLSF() bool { return s.FileszLSF != nil && *s.FileszLSF > 0 }

// HasNonLSF reports whether the scene has a non-empty DEM.
func (s *Scene) HasNonLSF() bool { return s.FileszDEM != nil && *s.FileszDEM > 0 }
