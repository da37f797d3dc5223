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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kraklabs/demindex/pkg/density"
	"github.com/kraklabs/demindex/pkg/geom"
	"github.com/kraklabs/demindex/pkg/metadata"
	"github.com/kraklabs/demindex/pkg/naming"
)

// icesatRegSources are the registration dataset names reported as ICESat.
var icesatRegSources = map[string]bool{
	"GLA14_rel634":                      true,
	"GLA14_rel34":                       true,
	"GLA06_rel531":                      true,
	"GLA12_14_rel634_greenland_all_xyz": true,
	"GLA12_14_rel634":                   true,
}

const regSourceNeighborAlign = "Neighbor Align"

// Tile is a mosaic tile DEM.
type Tile struct {
	TileID      string `json:"tileid"`
	ID          string `json:"id"`
	SrcFP       string `json:"srcfp"`
	SrcDir      string `json:"srcdir"`
	SrcFn       string `json:"srcfn"`
	TileName    string `json:"tilename"`
	Scheme      string `json:"scheme"`
	Subtile     string `json:"subtile"`
	SupertileID string `json:"supertile_id"`
	Res         string `json:"res"`
	// Version is the version token of the file name, if any.
	Version        string `json:"version"`
	ReleaseVersion string `json:"release_version"`
	IsReg          bool   `json:"is_reg"`

	MetaPath    string `json:"metapath"`
	RegMetaPath string `json:"regmetapath"`
	Matchtag    string `json:"matchtag"`
	Err         string `json:"err"`
	Day         string `json:"day"`
	Ortho       string `json:"ortho"`
	DensityFile string `json:"density_file"`
	Count       string `json:"count"`
	CountMT     string `json:"countmt"`
	MAD         string `json:"mad"`
	MinDate     string `json:"mindate"`
	MaxDate     string `json:"maxdate"`
	Browse      string `json:"browse"`
	Archive     string `json:"archive"`

	CreationDate  *Time               `json:"creation_date"`
	Alignment     map[string][]string `json:"alignment_dct"`
	NumComponents *int                `json:"num_components"`
	NumGCPs       *int                `json:"num_gcps"`
	MeanResidZ    *float64            `json:"mean_resid_z"`
	RegSrc        string              `json:"reg_src"`
	Density       *float64            `json:"density"`
	Stats         density.Stats       `json:"stats"`

	*RasterInfo
	Geom *Geometry `json:"geom"`

	FileszDEM *float64 `json:"filesz_dem"`

	env Env
}

// NewTile builds a tile from the path of its DEM. The meta file must
// exist.
func NewTile(env Env, demPath string) (*Tile, error) {
	dir, fn := filepath.Split(demPath)
	dir = filepath.Clean(dir)
	const demSuffix, regDEMSuffix = "_dem.tif", "_reg_dem.tif"
	if !strings.HasSuffix(fn, demSuffix) {
		return nil, &naming.NamePatternError{Kind: naming.KindTile, Filename: fn, Reason: "no _dem.tif suffix"}
	}
	base := strings.TrimSuffix(fn, demSuffix)
	tileid := base
	isReg := strings.HasSuffix(fn, regDEMSuffix)
	if isReg {
		tileid = strings.TrimSuffix(fn, regDEMSuffix)
	}
	at := func(suffix string) string { return filepath.Join(dir, base+suffix) }

	t := &Tile{
		TileID:      tileid,
		ID:          tileid,
		SrcFP:       demPath,
		SrcDir:      dir,
		SrcFn:       fn,
		IsReg:       isReg,
		Matchtag:    at("_matchtag.tif"),
		Err:         at("_err.tif"),
		Day:         at("_day.tif"),
		Ortho:       at("_ortho.tif"),
		DensityFile: at("_density.txt"),
		Count:       at("_count.tif"),
		CountMT:     at("_countmt.tif"),
		MAD:         at("_mad.tif"),
		MinDate:     at("_mindate.tif"),
		MaxDate:     at("_maxdate.tif"),
		Browse:      at("_dem_browse.tif"),
		Archive:     filepath.Join(dir, tileid+".tar.gz"),
		Alignment:   map[string][]string{},
		env:         env,
	}
	if !fileExists(t.Matchtag) {
		t.Matchtag = t.CountMT
	}
	if !fileExists(t.Browse) {
		t.Browse = at("_browse.tif")
	}

	name, err := naming.ParseTile(fn)
	if err != nil {
		return nil, err
	}
	t.TileName = name.Tile
	t.Scheme = name.Scheme
	t.Subtile = name.Subtile
	t.Res = name.Res
	t.Version = name.Version
	t.ReleaseVersion = strings.TrimPrefix(strings.ToLower(name.Version), "v")
	t.SupertileID = naming.SupertileID(name.Tile, name.Res)

	metabase := tileid
	if t.Subtile != "" {
		metabase = strings.Replace(tileid, "_"+t.Subtile, "", 1)
	}
	t.MetaPath = filepath.Join(dir, metabase+"_dem_meta.txt")
	if !fileExists(t.MetaPath) {
		t.MetaPath = filepath.Join(dir, tileid+"_meta.txt")
	}
	t.RegMetaPath = filepath.Join(dir, metabase+"_reg.txt")

	var missing []string
	if !fileExists(demPath) {
		missing = append(missing, fn)
	}
	if !fileExists(t.MetaPath) {
		missing = append(missing, metabase+"_dem_meta.txt")
	}
	if len(missing) > 0 {
		return nil, &MissingCompanionFileError{Kind: KindTile, ID: tileid, Missing: missing}
	}
	return t, nil
}

// ReadDEMInfo reads the raster information, footprint and statistics of
// the DEM, its meta and registration files and the density cache.
func (t *Tile) ReadDEMInfo() error {
	log := t.env.logger()
	info, fp, err := readRasterInfo(t.env.opener(), t.SrcFP)
	if err != nil {
		return err
	}
	t.RasterInfo = info
	t.Geom = NewGeometry(fp)

	t.Stats = density.Stats{}
	if st, err := t.env.densityEngine().ElevationStats(t.SrcFP); err != nil {
		log.Warn("dem.tile.stats_failed", "path", t.SrcFP, "err", err)
	} else {
		t.Stats = density.StatsFrom(st)
	}

	t.FileszDEM = fileSizeGB(t.SrcFP)

	if err := t.readMetadata(); err != nil {
		return err
	}

	t.Density = nil
	c, err := density.ReadCache(t.DensityFile)
	switch {
	case err == nil:
		t.Density = c.Density
	case !os.IsNotExist(err):
		return err
	}
	return nil
}

func (t *Tile) readMetadata() error {
	log := t.env.logger()
	m, err := metadata.ReadTileMeta(t.MetaPath)
	if m == nil {
		return fmt.Errorf("read tile metadata: %w", err)
	}
	if err != nil {
		log.Warn("dem.tile.meta_lines_skipped", "path", t.MetaPath, "err", err)
	}
	if fileExists(t.RegMetaPath) {
		if err := m.MergeRegFile(t.RegMetaPath); err != nil {
			log.Warn("dem.tile.reg_lines_skipped", "path", t.RegMetaPath, "err", err)
		}
	}
	t.Alignment = m.Alignment

	cd, ok := m.Header[metadata.KeyTileCreation]
	if !ok {
		return &MissingMetadataKeyError{Path: t.MetaPath, Key: metadata.KeyTileCreation}
	}
	created, err := time.Parse(metadata.MatlabTime, cd)
	if err != nil {
		return fmt.Errorf("%s: creation date: %w", t.MetaPath, err)
	}
	t.CreationDate = TimePtr(created)

	n := len(m.Alignment)
	t.NumComponents = &n

	t.NumGCPs, t.MeanResidZ, t.RegSrc = nil, nil, ""
	if len(m.NumGCPs) > 0 {
		sum := 0.0
		for _, v := range m.NumGCPs {
			sum += v
		}
		gcps := int(sum)
		t.NumGCPs = &gcps
	}
	var resid []float64
	for _, v := range m.MeanResidZ {
		if !math.IsNaN(v) {
			resid = append(resid, v)
		}
	}
	if len(resid) > 0 {
		sum := 0.0
		for _, v := range resid {
			sum += v
		}
		mean := sum / float64(len(resid))
		t.MeanResidZ = &mean
	}
	if src, ok := m.Header[metadata.KeyTileRegName]; ok {
		switch {
		case icesatRegSources[src]:
			t.RegSrc = RegICESat
		case src == regSourceNeighborAlign:
			t.RegSrc = src
		}
	}
	return nil
}

// ComputeDensityAndStats computes the matchtag density when no density
// cache exists yet and writes it.
func (t *Tile) ComputeDensityAndStats(engine *density.Engine) error {
	if fileExists(t.DensityFile) {
		return nil
	}
	if !fileExists(t.Matchtag) {
		return &MissingCompanionFileError{Kind: KindTile, ID: t.TileID, Missing: []string{filepath.Base(t.Matchtag)}}
	}
	area := 0.0
	if t.Geom != nil {
		area = geom.Area(t.Geom.Polygon)
	}
	d, err := engine.MatchtagDensity(t.Matchtag, area)
	if err != nil {
		return err
	}
	t.Density = &d
	return density.WriteDensity(t.DensityFile, d)
}
