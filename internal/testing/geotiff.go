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

package testing

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// GeoTIFF describes a raster written by WriteGeoTIFF.
type GeoTIFF struct {
	Width, Height int

	// Bands holds one row-major slice per band. Nil writes one band of
	// zeros.
	Bands [][]float64

	// DataType is one of Byte, Int8, UInt16, Int16, UInt32, Int32,
	// Float32 and Float64. Empty means Float32.
	DataType string

	// GeoTransform writes ModelPixelScale and ModelTiepoint tags. Rotated
	// transforms are written as ModelTransformation.
	GeoTransform *[6]float64

	// GCPs are written as tiepoints of (pixel, line, x, y).
	GCPs [][4]float64

	// EPSG selects the CRS. Zero writes no GeoKeys unless
	// PolarStereographic is set.
	EPSG int

	// PolarStereographic writes user-defined (lat_ts, lon_0) parameters.
	PolarStereographic *[2]float64

	NoData *float64

	BigEndian bool
	Deflate   bool
	// Predictor applies horizontal differencing to integer samples.
	Predictor bool
	// RowsPerStrip defaults to the full height.
	RowsPerStrip int
	// TileSize writes square tiles instead of strips.
	TileSize int
	// Planar stores bands in separate chunks.
	Planar bool
}

// Float returns a pointer to v, for GeoTIFF.NoData.
func Float(v float64) *float64 { return &v }

// Fill returns a band of n copies of v.
func Fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var sampleSizes = map[string]int{
	"Byte": 1, "Int8": 1, "UInt16": 2, "Int16": 2,
	"UInt32": 4, "Int32": 4, "Float32": 4, "Float64": 8,
}

// WriteGeoTIFF writes g to path as a classic TIFF.
func WriteGeoTIFF(t testing.TB, path string, g GeoTIFF) {
	t.Helper()

	if err := os.WriteFile(path, encodeGeoTIFF(t, g), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count int
	data  []byte
}

func encodeGeoTIFF(t testing.TB, g GeoTIFF) []byte {
	t.Helper()

	if g.DataType == "" {
		g.DataType = "Float32"
	}
	size, ok := sampleSizes[g.DataType]
	if !ok {
		t.Fatalf("unsupported data type %q", g.DataType)
	}
	if g.Bands == nil {
		g.Bands = [][]float64{make([]float64, g.Width*g.Height)}
	}
	for i, b := range g.Bands {
		if len(b) != g.Width*g.Height {
			t.Fatalf("band %d holds %d samples, want %d", i+1, len(b), g.Width*g.Height)
		}
	}

	var order binary.ByteOrder = binary.LittleEndian
	magic := []byte("II")
	if g.BigEndian {
		order = binary.BigEndian
		magic = []byte("MM")
	}

	w := &tiffWriter{order: order, size: size, g: g}
	w.buf.Write(magic)
	w.buf.Write(w.u16(42))
	w.buf.Write(w.u32(0))

	offsets, counts, chunkW, chunkH := w.writeChunks()

	spp := len(g.Bands)
	bits := make([]int, spp)
	formats := make([]int, spp)
	for i := range bits {
		bits[i] = size * 8
		formats[i] = sampleFormat(g.DataType)
	}
	compression, predictor, planar := 1, 1, 1
	if g.Deflate {
		compression = 8
	}
	if g.Predictor {
		predictor = 2
	}
	if g.Planar {
		planar = 2
	}

	entries := []tiffEntry{
		w.shorts(256, g.Width),
		w.shorts(257, g.Height),
		w.shorts(258, bits...),
		w.shorts(259, compression),
		w.shorts(262, 1),
		w.shorts(277, spp),
		w.shorts(284, planar),
		w.shorts(317, predictor),
		w.shorts(339, formats...),
	}
	if g.TileSize > 0 {
		entries = append(entries,
			w.longs(322, chunkW), w.longs(323, chunkH),
			w.longs(324, offsets...), w.longs(325, counts...))
	} else {
		entries = append(entries,
			w.longs(273, offsets...), w.longs(278, chunkH), w.longs(279, counts...))
	}
	entries = append(entries, w.georefEntries()...)
	if g.NoData != nil {
		entries = append(entries, w.ascii(42113, strconv.FormatFloat(*g.NoData, 'g', -1, 64)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Out-of-line values, then the IFD itself.
	valueOffsets := make([]int, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			w.align()
			valueOffsets[i] = w.buf.Len()
			w.buf.Write(e.data)
		}
	}
	w.align()
	ifdOffset := w.buf.Len()
	w.buf.Write(w.u16(len(entries)))
	for i, e := range entries {
		w.buf.Write(w.u16(int(e.tag)))
		w.buf.Write(w.u16(int(e.typ)))
		w.buf.Write(w.u32(e.count))
		if len(e.data) > 4 {
			w.buf.Write(w.u32(valueOffsets[i]))
		} else {
			inline := make([]byte, 4)
			copy(inline, e.data)
			w.buf.Write(inline)
		}
	}
	w.buf.Write(w.u32(0))

	out := w.buf.Bytes()
	order.PutUint32(out[4:], uint32(ifdOffset))
	return out
}

type tiffWriter struct {
	buf   bytes.Buffer
	order binary.ByteOrder
	size  int
	g     GeoTIFF
}

func (w *tiffWriter) u16(v int) []byte {
	b := make([]byte, 2)
	w.order.PutUint16(b, uint16(v))
	return b
}

func (w *tiffWriter) u32(v int) []byte {
	b := make([]byte, 4)
	w.order.PutUint32(b, uint32(v))
	return b
}

func (w *tiffWriter) align() {
	if w.buf.Len()%2 == 1 {
		w.buf.WriteByte(0)
	}
}

func (w *tiffWriter) shorts(tag uint16, vs ...int) tiffEntry {
	var data []byte
	for _, v := range vs {
		data = append(data, w.u16(v)...)
	}
	return tiffEntry{tag: tag, typ: 3, count: len(vs), data: data}
}

func (w *tiffWriter) longs(tag uint16, vs ...int) tiffEntry {
	var data []byte
	for _, v := range vs {
		data = append(data, w.u32(v)...)
	}
	return tiffEntry{tag: tag, typ: 4, count: len(vs), data: data}
}

func (w *tiffWriter) doubles(tag uint16, vs ...float64) tiffEntry {
	data := make([]byte, 8*len(vs))
	for i, v := range vs {
		w.order.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return tiffEntry{tag: tag, typ: 12, count: len(vs), data: data}
}

func (w *tiffWriter) ascii(tag uint16, s string) tiffEntry {
	data := append([]byte(s), 0)
	return tiffEntry{tag: tag, typ: 2, count: len(data), data: data}
}

func sampleFormat(dt string) int {
	switch dt {
	case "Int8", "Int16", "Int32":
		return 2
	case "Float32", "Float64":
		return 3
	}
	return 1
}

// encodeSample writes v into b using the fixture's data type.
func (w *tiffWriter) encodeSample(b []byte, v float64) {
	o := w.order
	switch w.g.DataType {
	case "Byte":
		b[0] = byte(v)
	case "Int8":
		b[0] = byte(int8(v))
	case "UInt16":
		o.PutUint16(b, uint16(v))
	case "Int16":
		o.PutUint16(b, uint16(int16(v)))
	case "UInt32":
		o.PutUint32(b, uint32(v))
	case "Int32":
		o.PutUint32(b, uint32(int32(v)))
	case "Float32":
		o.PutUint32(b, math.Float32bits(float32(v)))
	case "Float64":
		o.PutUint64(b, math.Float64bits(v))
	}
}

// writeChunks appends the pixel data and returns the chunk offsets, byte
// counts and dimensions.
func (w *tiffWriter) writeChunks() (offsets, counts []int, chunkW, chunkH int) {
	g := w.g
	chunkW, chunkH = g.Width, g.RowsPerStrip
	if chunkH <= 0 || chunkH > g.Height {
		chunkH = g.Height
	}
	if g.TileSize > 0 {
		chunkW, chunkH = g.TileSize, g.TileSize
	}
	across := (g.Width + chunkW - 1) / chunkW
	down := (g.Height + chunkH - 1) / chunkH

	planes := [][]int{nil}
	if g.Planar {
		planes = nil
		for b := range g.Bands {
			planes = append(planes, []int{b})
		}
	} else {
		for b := range g.Bands {
			planes[0] = append(planes[0], b)
		}
	}

	for _, bands := range planes {
		for cy := 0; cy < down; cy++ {
			for cx := 0; cx < across; cx++ {
				rows := chunkH
				if g.TileSize == 0 {
					rows = min(chunkH, g.Height-cy*chunkH)
				}
				raw := w.chunk(bands, cx*chunkW, cy*chunkH, chunkW, rows)
				w.align()
				offsets = append(offsets, w.buf.Len())
				counts = append(counts, len(raw))
				w.buf.Write(raw)
			}
		}
	}
	return offsets, counts, chunkW, chunkH
}

// chunk encodes a cols x rows window starting at x0, y0. Samples outside
// the image are zero.
func (w *tiffWriter) chunk(bands []int, x0, y0, cols, rows int) []byte {
	g := w.g
	stride := len(bands)
	rowBytes := cols * stride * w.size
	raw := make([]byte, rows*rowBytes)
	for r := 0; r < rows; r++ {
		y := y0 + r
		for c := 0; c < cols; c++ {
			x := x0 + c
			if x >= g.Width || y >= g.Height {
				continue
			}
			for s, b := range bands {
				off := r*rowBytes + (c*stride+s)*w.size
				w.encodeSample(raw[off:], g.Bands[b][y*g.Width+x])
			}
		}
	}
	if g.Predictor {
		for r := 0; r < rows; r++ {
			w.difference(raw[r*rowBytes:(r+1)*rowBytes], stride)
		}
	}
	if !g.Deflate {
		return raw
	}
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	_, _ = zw.Write(raw)
	_ = zw.Close()
	return out.Bytes()
}

// difference applies the horizontal predictor to one row, last sample
// first.
func (w *tiffWriter) difference(row []byte, stride int) {
	o := w.order
	n := len(row) / w.size
	for j := n - 1; j >= stride; j-- {
		cur, prev := row[j*w.size:], row[(j-stride)*w.size:]
		switch w.size {
		case 1:
			cur[0] -= prev[0]
		case 2:
			o.PutUint16(cur, o.Uint16(cur)-o.Uint16(prev))
		case 4:
			o.PutUint32(cur, o.Uint32(cur)-o.Uint32(prev))
		case 8:
			o.PutUint64(cur, o.Uint64(cur)-o.Uint64(prev))
		}
	}
}

func (w *tiffWriter) georefEntries() []tiffEntry {
	g := w.g
	var entries []tiffEntry
	if gt := g.GeoTransform; gt != nil {
		if gt[2] == 0 && gt[4] == 0 {
			entries = append(entries,
				w.doubles(33550, gt[1], -gt[5], 0),
				w.doubles(33922, 0, 0, 0, gt[0], gt[3], 0))
		} else {
			entries = append(entries, w.doubles(34264,
				gt[1], gt[2], 0, gt[0],
				gt[4], gt[5], 0, gt[3],
				0, 0, 0, 0,
				0, 0, 0, 1))
		}
	}
	if len(g.GCPs) > 0 {
		var ties []float64
		for _, p := range g.GCPs {
			ties = append(ties, p[0], p[1], 0, p[2], p[3], 0)
		}
		entries = append(entries, w.doubles(33922, ties...))
	}

	// GeoKey entries: id, location, count, value.
	var keys [][4]int
	var params []float64
	switch {
	case g.PolarStereographic != nil:
		keys = [][4]int{
			{1024, 0, 1, 1}, {1025, 0, 1, 1}, {3072, 0, 1, 32767},
			{3075, 0, 1, 15}, {3081, 34736, 1, 0}, {3095, 34736, 1, 1},
		}
		params = []float64{g.PolarStereographic[0], g.PolarStereographic[1]}
	case g.EPSG == 4326:
		keys = [][4]int{{1024, 0, 1, 2}, {1025, 0, 1, 1}, {2048, 0, 1, 4326}}
	case g.EPSG != 0:
		keys = [][4]int{{1024, 0, 1, 1}, {1025, 0, 1, 1}, {3072, 0, 1, g.EPSG}}
	default:
		return entries
	}
	dir := []int{1, 1, 0, len(keys)}
	for _, k := range keys {
		dir = append(dir, k[:]...)
	}
	entries = append(entries, w.shorts(34735, dir...))
	if len(params) > 0 {
		entries = append(entries, w.doubles(34736, params...))
	}
	return entries
}
