package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// TIFF tags read or written by this package.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
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

	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectory    = 34735
	tagGDALNoData         = 42113
	geoKeyModelType       = 1024
	geoKeyRasterType      = 1025
	geoKeyGeographicType  = 2048
	geoKeyProjectedCSType = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
	userDefinedKey      = 32767
)

// Compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

// Predictors.
const (
	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3
)

// Sample formats.
const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
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

var typeSizes = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8, dtSByte: 1,
	dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8, dtFloat: 4, dtDouble: 8,
}

// maxEntryBytes bounds a single tag payload so a corrupt count cannot
// trigger a huge allocation.
const maxEntryBytes = 64 << 20

var errNotTIFF = errors.New("not a classic TIFF file")

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

type ifd struct {
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

// readIFD parses the header and the first image file directory.
func readIFD(r io.ReaderAt) (*ifd, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}
	if magic := order.Uint16(hdr[2:4]); magic != 42 {
		if magic == 43 {
			return nil, errors.New("BigTIFF is not supported")
		}
		return nil, errNotTIFF
	}
	off := int64(order.Uint32(hdr[4:8]))

	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], off); err != nil {
		return nil, fmt.Errorf("read IFD: %w", err)
	}
	n := int(order.Uint16(cnt[:]))
	buf := make([]byte, 12*n)
	if _, err := r.ReadAt(buf, off+2); err != nil {
		return nil, fmt.Errorf("read IFD entries: %w", err)
	}

	d := &ifd{order: order, entries: make(map[uint16]ifdEntry, n)}
	for i := range n {
		e := buf[12*i : 12*i+12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := int64(size) * int64(count)
		if total > maxEntryBytes {
			return nil, fmt.Errorf("tag %d: payload of %d bytes is too large", tag, total)
		}
		var raw []byte
		if total <= 4 {
			raw = append([]byte(nil), e[8:8+total]...)
		} else {
			raw = make([]byte, total)
			if _, err := r.ReadAt(raw, int64(order.Uint32(e[8:12]))); err != nil {
				return nil, fmt.Errorf("read tag %d: %w", tag, err)
			}
		}
		d.entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return d, nil
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

// uints decodes an integer-typed tag.
func (d *ifd) uints(tag uint16) ([]uint64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.raw[i])
		case dtShort:
			out[i] = uint64(d.order.Uint16(e.raw[2*i:]))
		case dtLong:
			out[i] = uint64(d.order.Uint32(e.raw[4*i:]))
		default:
			return nil, fmt.Errorf("tag %d: unexpected type %d", tag, e.typ)
		}
	}
	return out, nil
}

// uint returns the first value of an integer tag, or def when absent.
func (d *ifd) uint(tag uint16, def uint64) (uint64, error) {
	if !d.has(tag) {
		return def, nil
	}
	vals, err := d.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return def, nil
	}
	return vals[0], nil
}

func (d *ifd) floats(tag uint16) ([]float64, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.order.Uint64(e.raw[8*i:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.raw[4*i:])))
		default:
			return nil, fmt.Errorf("tag %d: unexpected type %d", tag, e.typ)
		}
	}
	return out, nil
}

func (d *ifd) ascii(tag uint16) (string, bool) {
	e, ok := d.entries[tag]
	if !ok || e.typ != dtASCII {
		return "", false
	}
	return strings.TrimRight(string(e.raw), "\x00 "), true
}

// geoKeys decodes the inline SHORT values of the GeoKey directory.
func (d *ifd) geoKeys() map[uint16]uint16 {
	keys := make(map[uint16]uint16)
	vals, err := d.uints(tagGeoKeyDirectory)
	if err != nil || len(vals) < 4 {
		return keys
	}
	n := int(vals[3])
	for i := range n {
		base := 4 + 4*i
		if base+3 >= len(vals) {
			break
		}
		id, loc, value := vals[base], vals[base+1], vals[base+3]
		if loc != 0 {
			continue // values stored in other tags are not needed here
		}
		keys[uint16(id)] = uint16(value)
	}
	return keys
}

// grid derives the georeferencing of the image.
func (d *ifd) grid(width, height int) (Grid, error) {
	g := Grid{Width: width, Height: height}
	keys := d.geoKeys()

	switch {
	case d.has(tagModelTransform):
		m, err := d.floats(tagModelTransform)
		if err != nil || len(m) < 16 {
			return g, errors.New("malformed ModelTransformationTag")
		}
		if m[1] != 0 || m[4] != 0 {
			return g, errors.New("rotated rasters are not supported")
		}
		g.Transform = Affine{OriginX: m[3], PixelWidth: m[0], OriginY: m[7], PixelHeight: m[5]}
	case d.has(tagModelPixelScale) && d.has(tagModelTiepoint):
		scale, err := d.floats(tagModelPixelScale)
		if err != nil || len(scale) < 2 {
			return g, errors.New("malformed ModelPixelScaleTag")
		}
		tie, err := d.floats(tagModelTiepoint)
		if err != nil || len(tie) < 6 {
			return g, errors.New("malformed ModelTiepointTag")
		}
		g.Transform = Affine{
			OriginX:     tie[3] - tie[0]*scale[0],
			PixelWidth:  scale[0],
			OriginY:     tie[4] + tie[1]*scale[1],
			PixelHeight: -scale[1],
		}
	default:
		return g, errors.New("raster has no georeferencing")
	}

	if keys[geoKeyRasterType] == rasterPixelIsPoint {
		g.Transform.OriginX -= g.Transform.PixelWidth / 2
		g.Transform.OriginY -= g.Transform.PixelHeight / 2
	}

	var code uint16
	switch keys[geoKeyModelType] {
	case modelTypeProjected:
		code = keys[geoKeyProjectedCSType]
	case modelTypeGeographic:
		code = keys[geoKeyGeographicType]
	default:
		if c := keys[geoKeyProjectedCSType]; c != 0 {
			code = c
		} else {
			code = keys[geoKeyGeographicType]
		}
	}
	if code != userDefinedKey {
		g.EPSG = int(code)
	}
	return g, nil
}

// noData parses the GDAL_NODATA tag.
func (d *ifd) noData() (float64, bool) {
	s, ok := d.ascii(tagGDALNoData)
	if !ok || s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
