package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// layout describes how samples are chunked into strips or tiles.
type layout struct {
	width, height  int
	bitsPerSample  int
	sampleFormat   int
	compression    int
	predictor      int
	blockW, blockH int
	blocksAcross   int
	tiled          bool
	offsets        []uint64
	counts         []uint64
}

func readLayout(d *ifd) (*layout, error) {
	w, err := d.uint(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	h, err := d.uint(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if w == 0 || h == 0 {
		return nil, errors.New("image has no pixels")
	}
	spp, err := d.uint(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if spp != 1 {
		return nil, fmt.Errorf("%d samples per pixel: only single-band rasters are supported", spp)
	}
	bps, err := d.uint(tagBitsPerSample, 1)
	if err != nil {
		return nil, err
	}
	sf, err := d.uint(tagSampleFormat, sampleUint)
	if err != nil {
		return nil, err
	}
	comp, err := d.uint(tagCompression, compressionNone)
	if err != nil {
		return nil, err
	}
	pred, err := d.uint(tagPredictor, predictorNone)
	if err != nil {
		return nil, err
	}

	l := &layout{
		width:         int(w),
		height:        int(h),
		bitsPerSample: int(bps),
		sampleFormat:  int(sf),
		compression:   int(comp),
		predictor:     int(pred),
	}
	if err := l.validateSamples(); err != nil {
		return nil, err
	}

	if d.has(tagTileWidth) {
		tw, err := d.uint(tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := d.uint(tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		if tw == 0 || th == 0 {
			return nil, errors.New("zero tile size")
		}
		l.tiled = true
		l.blockW, l.blockH = int(tw), int(th)
		l.blocksAcross = (l.width + l.blockW - 1) / l.blockW
		if l.offsets, err = d.uints(tagTileOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = d.uints(tagTileByteCounts); err != nil {
			return nil, err
		}
	} else {
		rps, err := d.uint(tagRowsPerStrip, h)
		if err != nil {
			return nil, err
		}
		if rps == 0 || rps > h {
			rps = h
		}
		l.blockW, l.blockH = l.width, int(rps)
		l.blocksAcross = 1
		if l.offsets, err = d.uints(tagStripOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = d.uints(tagStripByteCounts); err != nil {
			return nil, err
		}
	}
	if len(l.offsets) != len(l.counts) {
		return nil, errors.New("block offsets and byte counts differ in length")
	}
	blocksDown := (l.height + l.blockH - 1) / l.blockH
	if len(l.offsets) < blocksDown*l.blocksAcross {
		return nil, fmt.Errorf("expected %d blocks, found %d", blocksDown*l.blocksAcross, len(l.offsets))
	}
	return l, nil
}

func (l *layout) validateSamples() error {
	switch l.sampleFormat {
	case sampleFloat:
		if l.bitsPerSample != 32 && l.bitsPerSample != 64 {
			return fmt.Errorf("unsupported float width %d", l.bitsPerSample)
		}
	case sampleUint, sampleInt:
		switch l.bitsPerSample {
		case 8, 16, 32:
		default:
			return fmt.Errorf("unsupported integer width %d", l.bitsPerSample)
		}
	default:
		return fmt.Errorf("unsupported sample format %d", l.sampleFormat)
	}
	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return fmt.Errorf("unsupported compression %d", l.compression)
	}
	switch l.predictor {
	case predictorNone, predictorHorizontal:
	case predictorFloat:
		if l.sampleFormat != sampleFloat {
			return errors.New("floating point predictor on integer samples")
		}
	default:
		return fmt.Errorf("unsupported predictor %d", l.predictor)
	}
	return nil
}

// locate maps a pixel to its block and the offset of the sample in it.
func (l *layout) locate(row, col int) (index, offset int) {
	br, bc := row/l.blockH, col/l.blockW
	return br*l.blocksAcross + bc, (row%l.blockH)*l.blockW + col%l.blockW
}

// blockRows is the number of rows stored in a block. The last strip may be
// short; tiles are always padded to full size.
func (l *layout) blockRows(index int) int {
	if l.tiled {
		return l.blockH
	}
	start := index * l.blockH
	return min(l.blockH, l.height-start)
}

// decodeBlock reads, decompresses, and converts one block to float64 samples.
func (l *layout) decodeBlock(r io.ReaderAt, order binary.ByteOrder, index int) ([]float64, error) {
	raw := make([]byte, l.counts[index])
	if _, err := r.ReadAt(raw, int64(l.offsets[index])); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read block %d: %w", index, err)
	}

	rows := l.blockRows(index)
	bytesPer := l.bitsPerSample / 8
	buf := make([]byte, rows*l.blockW*bytesPer)

	switch l.compression {
	case compressionNone:
		if len(raw) < len(buf) {
			return nil, fmt.Errorf("block %d: %d bytes, want %d", index, len(raw), len(buf))
		}
		copy(buf, raw)
	case compressionLZW:
		zr := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		_, err := io.ReadFull(zr, buf)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("block %d: lzw: %w", index, err)
		}
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("block %d: deflate: %w", index, err)
		}
		_, err = io.ReadFull(zr, buf)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("block %d: deflate: %w", index, err)
		}
	}

	switch l.predictor {
	case predictorHorizontal:
		undoHorizontal(buf, order, l.blockW, bytesPer)
	case predictorFloat:
		buf = undoFloatPredictor(buf, l.blockW, bytesPer)
		order = binary.BigEndian
	}

	return l.convert(buf, order, bytesPer), nil
}

func (l *layout) convert(buf []byte, order binary.ByteOrder, bytesPer int) []float64 {
	n := len(buf) / bytesPer
	out := make([]float64, n)
	for i := range n {
		b := buf[i*bytesPer:]
		switch {
		case l.sampleFormat == sampleFloat && bytesPer == 4:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case l.sampleFormat == sampleFloat:
			out[i] = math.Float64frombits(order.Uint64(b))
		case bytesPer == 1 && l.sampleFormat == sampleInt:
			out[i] = float64(int8(b[0]))
		case bytesPer == 1:
			out[i] = float64(b[0])
		case bytesPer == 2 && l.sampleFormat == sampleInt:
			out[i] = float64(int16(order.Uint16(b)))
		case bytesPer == 2:
			out[i] = float64(order.Uint16(b))
		case l.sampleFormat == sampleInt:
			out[i] = float64(int32(order.Uint32(b)))
		default:
			out[i] = float64(order.Uint32(b))
		}
	}
	return out
}

// undoHorizontal reverses integer horizontal differencing in place.
func undoHorizontal(buf []byte, order binary.ByteOrder, width, bytesPer int) {
	rowBytes := width * bytesPer
	for start := 0; start+rowBytes <= len(buf); start += rowBytes {
		row := buf[start : start+rowBytes]
		for i := bytesPer; i < rowBytes; i += bytesPer {
			switch bytesPer {
			case 1:
				row[i] += row[i-1]
			case 2:
				order.PutUint16(row[i:], order.Uint16(row[i:])+order.Uint16(row[i-2:]))
			case 4:
				order.PutUint32(row[i:], order.Uint32(row[i:])+order.Uint32(row[i-4:]))
			}
		}
	}
}

// undoFloatPredictor reverses the floating point predictor. Each row stores
// the byte planes of its samples most significant first, byte-differenced
// across the row. The result holds big-endian samples.
func undoFloatPredictor(buf []byte, width, bytesPer int) []byte {
	rowBytes := width * bytesPer
	out := make([]byte, len(buf))
	tmp := make([]byte, rowBytes)
	for start := 0; start+rowBytes <= len(buf); start += rowBytes {
		copy(tmp, buf[start:start+rowBytes])
		for i := 1; i < rowBytes; i++ {
			tmp[i] += tmp[i-1]
		}
		dst := out[start : start+rowBytes]
		for s := range width {
			for k := range bytesPer {
				dst[s*bytesPer+k] = tmp[k*width+s]
			}
		}
	}
	return out
}
