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

package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"

	"github.com/kraklabs/demindex/pkg/proj"
)

// GeoTIFF opens GeoTIFF files. The zero value is ready to use.
type GeoTIFF struct{}

// Open reads the header and first image directory of path. Pixel data is
// decoded on demand by ReadBand and Statistics.
func (GeoTIFF) Open(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	ds, err := newGeoTIFFDataset(path, f)
	if err != nil {
		_ = f.Close()
		return nil, &ReadError{Path: path, Err: err}
	}
	return ds, nil
}

type geoTIFFDataset struct {
	path  string
	f     *os.File
	order binary.ByteOrder

	width, height int
	spp           int
	bytesPerSamp  int
	dtype         DataType
	compression   int
	predictor     int
	planar        int

	// Chunk layout. Strips are tiles as wide as the image.
	chunkW, chunkH int
	offsets        []int
	counts         []int

	gt     GeoTransform
	gcps   []GCP
	keys   geoKeys
	nodata float64
	hasND  bool
}

func newGeoTIFFDataset(path string, f *os.File) (*geoTIFFDataset, error) {
	order, off, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	dir, err := readIFD(f, order, off)
	if err != nil {
		return nil, err
	}

	d := &geoTIFFDataset{
		path:        path,
		f:           f,
		order:       order,
		width:       dir.int(tagImageWidth, 0),
		height:      dir.int(tagImageLength, 0),
		spp:         dir.int(tagSamplesPerPixel, 1),
		compression: dir.int(tagCompression, compressionNone),
		predictor:   dir.int(tagPredictor, 1),
		planar:      dir.int(tagPlanarConfig, 1),
	}
	if d.width <= 0 || d.height <= 0 {
		return nil, errors.New("missing image dimensions")
	}
	if err := d.readSampleLayout(dir); err != nil {
		return nil, err
	}
	if err := d.readChunkLayout(dir); err != nil {
		return nil, err
	}

	switch d.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("unsupported compression %d", d.compression)
	}
	if d.predictor != 1 && d.predictor != 2 {
		return nil, fmt.Errorf("unsupported predictor %d", d.predictor)
	}

	d.keys, err = parseGeoKeys(dir.ints(tagGeoKeyDirectory), dir.floats(tagGeoDoubleParams),
		fieldASCII(dir, tagGeoASCIIParams))
	if err != nil {
		return nil, err
	}
	d.gt, d.gcps = georeference(dir, d.keys.shorts[keyRasterType] == rasterIsPoint)

	if s := strings.TrimSpace(fieldASCII(dir, tagGDALNoData)); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("bad GDAL_NODATA %q: %w", s, err)
		}
		d.nodata, d.hasND = v, true
	}
	return d, nil
}

func fieldASCII(d ifd, tag uint16) string {
	f, ok := d[tag]
	if !ok {
		return ""
	}
	return f.ascii()
}

func (d *geoTIFFDataset) readSampleLayout(dir ifd) error {
	bits := dir.ints(tagBitsPerSample)
	if len(bits) == 0 {
		bits = []int{1}
	}
	for _, b := range bits[1:] {
		if b != bits[0] {
			return errors.New("mixed sample sizes are not supported")
		}
	}
	format := dir.int(tagSampleFormat, 1)

	types := map[[2]int]DataType{
		{1, 8}: Byte, {1, 16}: UInt16, {1, 32}: UInt32, {1, 64}: UInt64,
		{2, 8}: Int8, {2, 16}: Int16, {2, 32}: Int32, {2, 64}: Int64,
		{3, 32}: Float32, {3, 64}: Float64,
	}
	dt, ok := types[[2]int{format, bits[0]}]
	if !ok {
		return fmt.Errorf("unsupported sample format %d with %d bits", format, bits[0])
	}
	d.dtype = dt
	d.bytesPerSamp = bits[0] / 8
	return nil
}

func (d *geoTIFFDataset) readChunkLayout(dir ifd) error {
	if _, tiled := dir[tagTileWidth]; tiled {
		d.chunkW = dir.int(tagTileWidth, 0)
		d.chunkH = dir.int(tagTileLength, 0)
		d.offsets = dir.ints(tagTileOffsets)
		d.counts = dir.ints(tagTileByteCounts)
	} else {
		d.chunkW = d.width
		d.chunkH = dir.int(tagRowsPerStrip, d.height)
		if d.chunkH > d.height {
			d.chunkH = d.height
		}
		d.offsets = dir.ints(tagStripOffsets)
		d.counts = dir.ints(tagStripByteCounts)
	}
	if d.chunkW <= 0 || d.chunkH <= 0 {
		return errors.New("bad strip or tile size")
	}
	want := d.chunksAcross() * d.chunksDown()
	if d.planar == 2 {
		want *= d.spp
	}
	if len(d.offsets) < want || len(d.counts) < want {
		return fmt.Errorf("expected %d data chunks, found %d", want, len(d.offsets))
	}
	return nil
}

func (d *geoTIFFDataset) chunksAcross() int { return (d.width + d.chunkW - 1) / d.chunkW }
func (d *geoTIFFDataset) chunksDown() int   { return (d.height + d.chunkH - 1) / d.chunkH }

func (d *geoTIFFDataset) Path() string               { return d.path }
func (d *geoTIFFDataset) Size() (int, int)           { return d.width, d.height }
func (d *geoTIFFDataset) BandCount() int             { return d.spp }
func (d *geoTIFFDataset) DataType() DataType         { return d.dtype }
func (d *geoTIFFDataset) GeoTransform() GeoTransform { return d.gt }
func (d *geoTIFFDataset) GCPs() []GCP                { return d.gcps }
func (d *geoTIFFDataset) NoData() (float64, bool)    { return d.nodata, d.hasND }
func (d *geoTIFFDataset) Close() error               { return d.f.Close() }

func (d *geoTIFFDataset) SRS() (*proj.SRS, error) {
	s, err := d.keys.srs()
	if err != nil {
		return nil, &ReadError{Path: d.path, Err: err}
	}
	return s, nil
}

func (d *geoTIFFDataset) Statistics(band int, approx bool) (Stats, error) {
	data, err := d.ReadBand(band)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(data, d.width, d.nodata, d.hasND, approx)
}

// ReadBand decodes every chunk holding samples of band.
func (d *geoTIFFDataset) ReadBand(band int) ([]float64, error) {
	if band < 1 || band > d.spp {
		return nil, &ReadError{Path: d.path, Err: fmt.Errorf("band %d out of range 1..%d", band, d.spp)}
	}

	// Sample stride and offset inside a decoded chunk row.
	stride, offset := d.spp, band-1
	perBand := d.chunksAcross() * d.chunksDown()
	first := 0
	if d.planar == 2 {
		stride, offset = 1, 0
		first = (band - 1) * perBand
	}
	rowSamples := d.chunkW * stride
	rowBytes := rowSamples * d.bytesPerSamp

	out := make([]float64, d.width*d.height)
	for cy := 0; cy < d.chunksDown(); cy++ {
		for cx := 0; cx < d.chunksAcross(); cx++ {
			x0, y0 := cx*d.chunkW, cy*d.chunkH
			rows := min(d.chunkH, d.height-y0)
			cols := min(d.chunkW, d.width-x0)

			buf, err := d.chunk(first+cy*d.chunksAcross()+cx, rows*rowBytes)
			if err != nil {
				return nil, &ReadError{Path: d.path, Err: err}
			}
			if d.predictor == 2 {
				d.undoPredictor(buf[:rows*rowBytes], rowBytes, stride)
			}
			for r := 0; r < rows; r++ {
				base := r * rowSamples
				dst := out[(y0+r)*d.width+x0:]
				for c := 0; c < cols; c++ {
					dst[c] = d.sample(buf, base+c*stride+offset)
				}
			}
		}
	}
	return out, nil
}

// chunk reads and decompresses chunk i, which must decode to at least want
// bytes.
func (d *geoTIFFDataset) chunk(i, want int) ([]byte, error) {
	raw := make([]byte, d.counts[i])
	if _, err := d.f.ReadAt(raw, int64(d.offsets[i])); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", i, err)
	}

	var buf []byte
	switch d.compression {
	case compressionNone:
		buf = raw
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		var err error
		if buf, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("decode LZW chunk %d: %w", i, err)
		}
	case compressionDeflate, compressionDeflateOld:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode deflate chunk %d: %w", i, err)
		}
		defer r.Close()
		if buf, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("decode deflate chunk %d: %w", i, err)
		}
	}
	if len(buf) < want {
		return nil, fmt.Errorf("chunk %d holds %d bytes, need %d", i, len(buf), want)
	}
	return buf, nil
}

// undoPredictor reverses horizontal differencing row by row. Sums wrap at
// the sample width.
func (d *geoTIFFDataset) undoPredictor(buf []byte, rowBytes, stride int) {
	size := d.bytesPerSamp
	o := d.order
	for row := 0; row+rowBytes <= len(buf); row += rowBytes {
		b := buf[row : row+rowBytes]
		n := rowBytes / size
		for j := stride; j < n; j++ {
			cur, prev := b[j*size:], b[(j-stride)*size:]
			switch size {
			case 1:
				cur[0] += prev[0]
			case 2:
				o.PutUint16(cur, o.Uint16(cur)+o.Uint16(prev))
			case 4:
				o.PutUint32(cur, o.Uint32(cur)+o.Uint32(prev))
			case 8:
				o.PutUint64(cur, o.Uint64(cur)+o.Uint64(prev))
			}
		}
	}
}

// sample decodes the idx-th sample of buf.
func (d *geoTIFFDataset) sample(buf []byte, idx int) float64 {
	b := buf[idx*d.bytesPerSamp:]
	o := d.order
	switch d.dtype {
	case Byte:
		return float64(b[0])
	case Int8:
		return float64(int8(b[0]))
	case UInt16:
		return float64(o.Uint16(b))
	case Int16:
		return float64(int16(o.Uint16(b)))
	case UInt32:
		return float64(o.Uint32(b))
	case Int32:
		return float64(int32(o.Uint32(b)))
	case UInt64:
		return float64(o.Uint64(b))
	case Int64:
		return float64(int64(o.Uint64(b)))
	case Float32:
		return float64(math.Float32frombits(o.Uint32(b)))
	default:
		return math.Float64frombits(o.Uint64(b))
	}
}
