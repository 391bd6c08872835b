package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zlib"
)

// Image is an in-memory float32 grid ready to be encoded.
type Image struct {
	Grid   Grid
	Data   []float32 // row-major, Width*Height values
	NoData *float64
}

// NewImage allocates a zero-filled image for g.
func NewImage(g Grid) *Image {
	return &Image{Grid: g, Data: make([]float32, g.Width*g.Height)}
}

// Set stores v at (row, col).
func (im *Image) Set(row, col int, v float32) {
	im.Data[row*im.Grid.Width+col] = v
}

// WriteOptions controls encoding.
type WriteOptions struct {
	Deflate      bool
	RowsPerStrip int // defaults to 16
}

// geographicEPSG lists geographic CRS codes the encoder tags as such.
var geographicEPSG = map[int]bool{4326: true, 4269: true, 4267: true, 4258: true}

type tagValue struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes im as a little-endian, strip-organized float32 GeoTIFF.
func Encode(w io.Writer, im *Image, opts WriteOptions) error {
	g := im.Grid
	if g.Width <= 0 || g.Height <= 0 {
		return errors.New("image has no pixels")
	}
	if len(im.Data) != g.Width*g.Height {
		return fmt.Errorf("image holds %d values, want %d", len(im.Data), g.Width*g.Height)
	}
	rps := opts.RowsPerStrip
	if rps <= 0 {
		rps = 16
	}
	rps = min(rps, g.Height)
	le := binary.LittleEndian

	var strips [][]byte
	for start := 0; start < g.Height; start += rps {
		rows := min(rps, g.Height-start)
		raw := make([]byte, rows*g.Width*4)
		for i := range rows * g.Width {
			le.PutUint32(raw[4*i:], math.Float32bits(im.Data[start*g.Width+i]))
		}
		if opts.Deflate {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(raw); err != nil {
				return fmt.Errorf("compress strip: %w", err)
			}
			if err := zw.Close(); err != nil {
				return fmt.Errorf("compress strip: %w", err)
			}
			raw = buf.Bytes()
		}
		strips = append(strips, raw)
	}

	offsets := make([]uint32, len(strips))
	counts := make([]uint32, len(strips))
	pos := uint32(8)
	for i, s := range strips {
		offsets[i] = pos
		counts[i] = uint32(len(s))
		pos += uint32(len(s))
		if pos%2 == 1 {
			pos++
		}
	}
	ifdOffset := pos

	compression := uint16(compressionNone)
	if opts.Deflate {
		compression = compressionDeflate
	}
	model, key := uint16(modelTypeProjected), uint16(geoKeyProjectedCSType)
	if geographicEPSG[g.EPSG] {
		model, key = modelTypeGeographic, geoKeyGeographicType
	}
	t := g.Transform
	tags := []tagValue{
		longs(tagImageWidth, uint32(g.Width)),
		longs(tagImageLength, uint32(g.Height)),
		shorts(tagBitsPerSample, 32),
		shorts(tagCompression, compression),
		shorts(tagPhotometric, 1),
		longs(tagStripOffsets, offsets...),
		shorts(tagSamplesPerPixel, 1),
		longs(tagRowsPerStrip, uint32(rps)),
		longs(tagStripByteCounts, counts...),
		shorts(tagPlanarConfig, 1),
		shorts(tagSampleFormat, sampleFloat),
		doubles(tagModelPixelScale, t.PixelWidth, -t.PixelHeight, 0),
		doubles(tagModelTiepoint, 0, 0, 0, t.OriginX, t.OriginY, 0),
		shorts(tagGeoKeyDirectory,
			1, 1, 0, 3,
			geoKeyModelType, 0, 1, model,
			geoKeyRasterType, 0, 1, 1,
			key, 0, 1, uint16(g.EPSG),
		),
	}
	if im.NoData != nil {
		s := strconv.FormatFloat(*im.NoData, 'g', -1, 64)
		tags = append(tags, tagValue{tag: tagGDALNoData, typ: dtASCII, count: uint32(len(s) + 1), data: append([]byte(s), 0)})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].tag < tags[j].tag })

	ifdSize := uint32(2 + 12*len(tags) + 4)
	extraOffset := ifdOffset + ifdSize
	var ifdBuf, extra bytes.Buffer
	_ = binary.Write(&ifdBuf, le, uint16(len(tags)))
	for _, tv := range tags {
		var entry [12]byte
		le.PutUint16(entry[0:], tv.tag)
		le.PutUint16(entry[2:], tv.typ)
		le.PutUint32(entry[4:], tv.count)
		if len(tv.data) <= 4 {
			copy(entry[8:], tv.data)
		} else {
			le.PutUint32(entry[8:], extraOffset+uint32(extra.Len()))
			extra.Write(tv.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
		ifdBuf.Write(entry[:])
	}
	_ = binary.Write(&ifdBuf, le, uint32(0))

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, le, uint16(42))
	_ = binary.Write(&out, le, ifdOffset)
	for _, s := range strips {
		out.Write(s)
		if out.Len()%2 == 1 {
			out.WriteByte(0)
		}
	}
	out.Write(ifdBuf.Bytes())
	out.Write(extra.Bytes())

	_, err := w.Write(out.Bytes())
	return err
}

// WriteFile encodes im to path.
func WriteFile(path string, im *Image, opts WriteOptions) error {
	var buf bytes.Buffer
	if err := Encode(&buf, im, opts); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write raster: %w", err)
	}
	return nil
}

func shorts(tag uint16, vals ...uint16) tagValue {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	return tagValue{tag: tag, typ: dtShort, count: uint32(len(vals)), data: data}
}

func longs(tag uint16, vals ...uint32) tagValue {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], v)
	}
	return tagValue{tag: tag, typ: dtLong, count: uint32(len(vals)), data: data}
}

func doubles(tag uint16, vals ...float64) tagValue {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(v))
	}
	return tagValue{tag: tag, typ: dtDouble, count: uint32(len(vals)), data: data}
}
