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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kraklabs/demindex/pkg/metadata"
)

const licenseText = "Acknowledgment for the SETSM surface models should be present in any publication, " +
	"proceeding, presentation, etc. You must notify Ian Howat at The Ohio State University if you are " +
	"to use the surface models in any of those forms. Please note, the SETSM mosaics are currently in " +
	"BETA release. The dataset authors make no guarantees of product accuracy and cannot be held liable " +
	"for any errors, events, etc. arising from its use."

const contactText = "Polar Geospatial Center, University of Minnesota, 612-626-0505, www.pgc.umn.edu"

// optionalComponentKeys are copied into COMPONENT groups without a warning
// when absent.
var optionalComponentKeys = []struct{ from, to string }{
	{"RA Tile #", "RATileNum"},
	{"RA tilesize", "RATileSize"},
	{"tilesize", "TileSize"},
}

// MDFContents renders the strip as MDF entries. The strip must have been
// read with ReadDEMInfo and have a single part footprint.
func (s *Strip) MDFContents(generated time.Time) ([]metadata.Entry, error) {
	if s.Geom == nil {
		return nil, fmt.Errorf("strip %s has no footprint", s.StripID)
	}
	if s.RasterInfo == nil {
		return nil, fmt.Errorf("strip %s has no raster information", s.StripID)
	}
	if len(s.Geom.Polygon) != 1 {
		return nil, fmt.Errorf("strip %s: footprint has %d parts", s.StripID, len(s.Geom.Polygon))
	}
	log := s.env.logger()

	creation := ""
	if s.CreationDate != nil {
		creation = s.CreationDate.UTC().Format(metadata.ISOTime)
	}
	release := s.Version
	if release == "" {
		release = "NA"
	}
	avg := func(t *Time) string {
		if t == nil {
			return ""
		}
		return t.Format(metadata.DateTime)
	}

	e := []metadata.Entry{
		{Key: "generationTime", Value: generated.UTC().Format(metadata.ISOTime)},
		{Key: "numRows", Value: s.YSize},
		{Key: "numColumns", Value: s.XSize},
		{Key: "productType", Value: metadata.Quoted("BasicStrip")},
		{Key: "bitsPerPixel", Value: 32},
		{Key: "compressionType", Value: metadata.Quoted("LZW")},
		{Key: "outputFormat", Value: metadata.Quoted("GeoTiff")},

		metadata.Begin("STRIP_DEM"),
		{Key: "stripDemId", Value: metadata.Quoted(s.StripID)},
		{Key: "stripCreationTime", Value: creation},
		{Key: "releaseVersion", Value: metadata.Quoted(release)},
		{Key: "noDataValue", Value: s.NDV},
		{Key: "platform1", Value: metadata.Quoted(s.Sensor1)},
		{Key: "platform2", Value: metadata.Quoted(s.Sensor2)},
		{Key: "catId1", Value: metadata.Quoted(s.CatID1)},
		{Key: "catId2", Value: metadata.Quoted(s.CatID2)},
		{Key: "acqDate1", Value: s.AcqDate1.Format(metadata.DateOnly)},
		{Key: "acqDate2", Value: s.AcqDate2.Format(metadata.DateOnly)},
		{Key: "avgAcqTime1", Value: avg(s.AvgAcqTime1)},
		{Key: "avgAcqTime2", Value: avg(s.AvgAcqTime2)},
	}

	for i, p := range s.Geom.Polygon[0] {
		e = append(e,
			metadata.Entry{Key: fmt.Sprintf("X%d", i+1), Value: p[0]},
			metadata.Entry{Key: fmt.Sprintf("Y%d", i+1), Value: p[1]},
		)
	}

	minElev, maxElev := s.ElevRange()
	e = append(e,
		metadata.Entry{Key: "horizontalCoordSysOGCWKT", Value: s.Proj},
		metadata.Entry{Key: "horizontalCoordSysESRIWKT", Value: s.WKTESRI},
		metadata.Entry{Key: "horizontalCoordSysProj4", Value: s.Proj4},
		metadata.Entry{Key: "horizontalCoordSysEPSG", Value: s.EPSG},
		metadata.Entry{Key: "horizontalCoordSysUnits", Value: metadata.Quoted("meters")},
		metadata.Entry{Key: "horizontalResolution", Value: s.Resolution()},
		metadata.Entry{Key: "verticalCoordSys", Value: metadata.Quoted("WGS84 Ellipsoidal Height")},
		metadata.Entry{Key: "verticalCoordSysUnits", Value: metadata.Quoted("meters")},
		metadata.Entry{Key: "minElevValue", Value: minElev},
		metadata.Entry{Key: "maxElevValue", Value: maxElev},
		metadata.Entry{Key: "matchtagDensity", Value: s.Density},
		metadata.Entry{Key: "lsfApplied", Value: s.IsLSF},
	)

	for _, r := range s.RegInfoList {
		e = append(e,
			metadata.Begin("REGISTRATION"),
			metadata.Entry{Key: "registrationSource", Value: r.Name},
			metadata.Entry{Key: "registrationDZ", Value: r.DZ},
			metadata.Entry{Key: "registrationDX", Value: r.DX},
			metadata.Entry{Key: "registrationDY", Value: r.DY},
			metadata.Entry{Key: "registrationNumGCPs", Value: r.NumGCPs},
			metadata.Entry{Key: "registrationMeanVerticalResidual", Value: r.MeanResidZ},
			metadata.End("REGISTRATION"),
		)
	}
	e = append(e, metadata.End("STRIP_DEM"))

	for i, sc := range s.Scenes {
		group := fmt.Sprintf("COMPONENT_%d", i+1)
		name := sc[metadata.KeySceneName]
		warn := func(key string) {
			log.Warn("dem.strip.scene_key_missing", "path", s.MetaPath, "scene", name, "key", key)
		}
		e = append(e, metadata.Begin(group), metadata.Entry{Key: "sceneDemId", Value: metadata.Quoted(name)})

		if v, ok := sc[metadata.KeySceneSETSM]; ok {
			e = append(e, metadata.Entry{Key: "setsmVersion", Value: v})
		} else {
			warn(metadata.KeySceneSETSM)
		}
		if v, ok := sc[metadata.KeySceneCreation]; ok {
			cd, err := metadata.FormatCreationDate(v)
			if err != nil {
				return nil, fmt.Errorf("strip %s, scene %s: %w", s.StripID, name, err)
			}
			e = append(e, metadata.Entry{Key: "sceneCreationDate", Value: cd})
		} else {
			warn(metadata.KeySceneCreation)
		}
		for n, key := range []string{"Image 1", "Image 2"} {
			if v, ok := sc[key]; ok {
				e = append(e, metadata.Entry{Key: fmt.Sprintf("sourceImage%d", n+1), Value: metadata.Quoted(baseNoExt(v))})
			} else {
				warn(key)
			}
		}
		if v, ok := sc["Output Resolution"]; ok {
			e = append(e, metadata.Entry{Key: "outputResolution", Value: v})
		} else {
			warn("Output Resolution")
		}

		if v, ok := sc["RA Params"]; ok {
			x, y := " ", " "
			if f := strings.Fields(v); len(v) > 2 && len(f) >= 2 {
				x, y = f[0], f[1]
			}
			e = append(e, metadata.Entry{Key: "RAParamX", Value: x}, metadata.Entry{Key: "RAParamY", Value: y})
		}
		for _, k := range optionalComponentKeys {
			if v, ok := sc[k.from]; ok {
				e = append(e, metadata.Entry{Key: k.to, Value: v})
			}
		}

		if v, ok := sc["Seed DEM"]; ok {
			seed := ""
			if len(v) > 2 {
				seed = filepath.Base(v)
			}
			e = append(e, metadata.Entry{Key: "seedDem", Value: metadata.Quoted(seed)})
		} else {
			warn("Seed DEM")
		}

		if vals, ok := s.Alignment[name]; ok && len(vals) >= 4 {
			e = append(e,
				metadata.Begin("MOSAIC_ALIGNMENT"),
				metadata.Entry{Key: "rmse", Value: vals[0]},
				metadata.Entry{Key: "dz", Value: vals[1]},
				metadata.Entry{Key: "dx", Value: vals[2]},
				metadata.Entry{Key: "dy", Value: vals[3]},
			)
			if len(vals) == 7 {
				e = append(e,
					metadata.Entry{Key: "dz_err", Value: vals[4]},
					metadata.Entry{Key: "dx_err", Value: vals[5]},
					metadata.Entry{Key: "dy_err", Value: vals[6]},
				)
			}
			e = append(e, metadata.End("MOSAIC_ALIGNMENT"))
		}
		e = append(e, metadata.End(group))
	}
	return e, nil
}

// WriteMDF writes MDFContents to the strip _mdf.txt.
func (s *Strip) WriteMDF(generated time.Time) error {
	e, err := s.MDFContents(generated)
	if err != nil {
		return err
	}
	return os.WriteFile(s.MDF, []byte(metadata.FormatIMD(e)), 0o644)
}

// ReadmeContents lists the license, contact and file names of the strip
// product.
func (s *Strip) ReadmeContents() []metadata.Entry {
	return []metadata.Entry{
		{Key: "licenseText", Value: metadata.Quoted(licenseText)},
		{Key: "contact", Value: metadata.Quoted(contactText)},
		metadata.Begin("PRODUCT_1"),
		{Key: "demFilename", Value: s.SrcFn},
		{Key: "metadataFilename", Value: filepath.Base(s.MDF)},
		{Key: "matchtagFilename", Value: filepath.Base(s.Matchtag)},
		{Key: "browseFilename", Value: filepath.Base(s.Browse)},
		{Key: "readmeFilename", Value: filepath.Base(s.Readme)},
		metadata.End("PRODUCT_1"),
	}
}

// WriteReadme writes ReadmeContents to the strip _readme.txt.
func (s *Strip) WriteReadme() error {
	return os.WriteFile(s.Readme, []byte(metadata.FormatIMD(s.ReadmeContents())), 0o644)
}

func baseNoExt(p string) string {
	b := filepath.Base(p)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
