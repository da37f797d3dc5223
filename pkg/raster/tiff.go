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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// TIFF tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
	tagGDALNoData      = 42113
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var fieldSize = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8,
}

// Compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

var errBigTIFF = errors.New("BigTIFF is not supported")

// field is one decoded IFD entry.
type field struct {
	typ   uint16
	count int
	data  []byte
	order binary.ByteOrder
}

// nums decodes a numeric field. Rationals are returned as quotients.
func (f field) nums() []float64 {
	size := fieldSize[f.typ]
	out := make([]float64, 0, f.count)
	for i := 0; i < f.count; i++ {
		b := f.data[i*size:]
		var v float64
		switch f.typ {
		case dtByte, dtUndefined:
			v = float64(b[0])
		case dtSByte:
			v = float64(int8(b[0]))
		case dtShort:
			v = float64(f.order.Uint16(b))
		case dtSShort:
			v = float64(int16(f.order.Uint16(b)))
		case dtLong:
			v = float64(f.order.Uint32(b))
		case dtSLong:
			v = float64(int32(f.order.Uint32(b)))
		case dtRational:
			v = float64(f.order.Uint32(b)) / float64(f.order.Uint32(b[4:]))
		case dtSRational:
			v = float64(int32(f.order.Uint32(b))) / float64(int32(f.order.Uint32(b[4:])))
		case dtFloat:
			v = float64(math.Float32frombits(f.order.Uint32(b)))
		case dtDouble:
			v = math.Float64frombits(f.order.Uint64(b))
		default:
			continue
		}
		out = append(out, v)
	}
	return out
}

func (f field) ints() []int {
	nums := f.nums()
	out := make([]int, len(nums))
	for i, v := range nums {
		out[i] = int(v)
	}
	return out
}

func (f field) ascii() string {
	return strings.TrimRight(string(f.data), "\x00")
}

// ifd is the first image file directory of a TIFF file.
type ifd map[uint16]field

func (d ifd) int(tag uint16, dflt int) int {
	f, ok := d[tag]
	if !ok || f.count == 0 {
		return dflt
	}
	return f.ints()[0]
}

func (d ifd) floats(tag uint16) []float64 {
	f, ok := d[tag]
	if !ok {
		return nil
	}
	return f.nums()
}

func (d ifd) ints(tag uint16) []int {
	f, ok := d[tag]
	if !ok {
		return nil
	}
	return f.ints()
}

// readHeader returns the byte order and the offset of the first IFD.
func readHeader(r io.ReaderAt) (binary.ByteOrder, int64, error) {
	var h [8]byte
	if _, err := r.ReadAt(h[:], 0); err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	var order binary.ByteOrder
	switch string(h[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, 0, errors.New("not a TIFF file")
	}
	switch order.Uint16(h[2:]) {
	case 42:
	case 43:
		return nil, 0, errBigTIFF
	default:
		return nil, 0, errors.New("bad TIFF magic number")
	}
	return order, int64(order.Uint32(h[4:])), nil
}

// readIFD decodes the directory at off.
func readIFD(r io.ReaderAt, order binary.ByteOrder, off int64) (ifd, error) {
	var n [2]byte
	if _, err := r.ReadAt(n[:], off); err != nil {
		return nil, fmt.Errorf("read IFD: %w", err)
	}
	count := int(order.Uint16(n[:]))
	raw := make([]byte, 12*count)
	if _, err := r.ReadAt(raw, off+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	dir := make(ifd, count)
	for i := 0; i < count; i++ {
		e := raw[12*i : 12*i+12]
		tag := order.Uint16(e)
		typ := order.Uint16(e[2:])
		cnt := int(order.Uint32(e[4:]))
		size, ok := fieldSize[typ]
		if !ok {
			// Unknown field types are skipped.
			continue
		}
		length := size * cnt
		var data []byte
		if length <= 4 {
			data = append([]byte(nil), e[8:8+length]...)
		} else {
			data = make([]byte, length)
			if _, err := r.ReadAt(data, int64(order.Uint32(e[8:]))); err != nil {
				return nil, fmt.Errorf("read tag %d: %w", tag, err)
			}
		}
		dir[tag] = field{typ: typ, count: cnt, data: data, order: order}
	}
	return dir, nil
}
