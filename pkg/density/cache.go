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

// Package density computes data density and elevation statistics for DEM
// products and keeps them in the _density.txt sidecar.
//
// Density is the fraction of a product footprint covered by valid matchtag
// pixels. Masked density additionally requires the _bitmask.tif pixel to be
// 0. Both are expensive to compute, so the results are cached next to the
// DEM and later runs read the cache without touching the rasters.
//
// The cache holds up to three lines:
//
//	0.8125                           density
//	0.7731                           masked density (a comma marks the legacy stats line)
//	-12.5,1450.25,380.1,210.7        min,max,mean,stddev
//
// Unknown values are written as None. Tile caches hold the density line only.
package density

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/demindex/pkg/metadata"
	"github.com/kraklabs/demindex/pkg/raster"
)

// Stats holds min, max, mean and standard deviation. Nil entries are
// unknown.
type Stats [4]*float64

// StatsFrom converts computed raster statistics.
func StatsFrom(s raster.Stats) Stats {
	return Stats{&s.Min, &s.Max, &s.Mean, &s.StdDev}
}

// Known reports whether both the minimum and the maximum are set. Callers
// recompute statistics that are not known.
func (s Stats) Known() bool { return s[0] != nil && s[1] != nil }

// String renders s as min,max,mean,stddev.
func (s Stats) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = metadata.FormatOptionalFloat(v)
	}
	return strings.Join(parts, ",")
}

// ParseStats parses a min,max,mean,stddev line. Anything other than four
// numbers yields unknown statistics.
func ParseStats(line string) Stats {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 4 {
		return Stats{}
	}
	var s Stats
	for i, p := range parts {
		v, err := metadata.ParseOptionalFloat(p)
		if err != nil || v == nil {
			return Stats{}
		}
		s[i] = v
	}
	return s
}

// Cache is the content of a _density.txt sidecar.
type Cache struct {
	Density       *float64
	MaskedDensity *float64
	Stats         Stats
}

// ReadCache reads a density sidecar. A missing file is returned as an
// error satisfying os.IsNotExist.
func ReadCache(path string) (*Cache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read density cache %s: %w", path, err)
	}
	return parseCache(path, lines)
}

func parseCache(path string, lines []string) (*Cache, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("density cache %s is empty", path)
	}
	c := &Cache{}
	d, err := metadata.ParseOptionalFloat(lines[0])
	if err != nil {
		return nil, fmt.Errorf("density cache %s: invalid density %q", path, lines[0])
	}
	c.Density = d

	if len(lines) > 1 && lines[1] != "" {
		if strings.Contains(lines[1], ",") {
			c.Stats = ParseStats(lines[1])
		} else if md, err := metadata.ParseOptionalFloat(lines[1]); err == nil {
			c.MaskedDensity = md
		}
	}
	if len(lines) > 2 && lines[2] != "" {
		c.Stats = ParseStats(lines[2])
	}
	return c, nil
}

// Format renders the three line strip layout.
func (c *Cache) Format() string {
	return fmt.Sprintf("%s\n%s\n%s\n",
		metadata.FormatOptionalFloat(c.Density),
		metadata.FormatOptionalFloat(c.MaskedDensity),
		c.Stats)
}

// WriteCache writes the three line strip layout.
func WriteCache(path string, c *Cache) error {
	return writeAtomic(path, c.Format())
}

// WriteDensity writes the single line tile layout.
func WriteDensity(path string, density float64) error {
	return writeAtomic(path, metadata.FormatFloat(density)+"\n")
}

// writeAtomic replaces path through a temporary file in the same directory
// so readers never observe a partial cache.
func writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write density cache: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write density cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write density cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write density cache: %w", err)
	}
	return nil
}
