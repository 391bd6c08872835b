// Package raster reads and writes single-band GeoTIFF grids.
//
// Blocks are decoded lazily on first access and kept in a bounded LRU, so
// sampling a handful of cells from a large grid touches only the strips or
// tiles that contain them.
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
)

// zipScheme prefixes a path that addresses a member inside a zip archive:
// zip://<archive>!<member>.
const zipScheme = "zip://"

// DefaultCacheBlocks bounds the decoded blocks kept per dataset.
const DefaultCacheBlocks = 64

// ZipURI builds a path addressing member inside archive.
func ZipURI(archive, member string) string {
	return zipScheme + archive + "!" + member
}

// SplitZipURI returns the archive and member of a zip URI.
func SplitZipURI(path string) (archive, member string, ok bool) {
	rest, found := strings.CutPrefix(path, zipScheme)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, "!")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Dataset is an open single-band raster.
type Dataset struct {
	path   string
	grid   Grid
	noData float64
	hasND  bool

	src    io.ReaderAt
	closer io.Closer
	order  binary.ByteOrder
	layout *layout
	cache  *blockCache
}

// Open opens a GeoTIFF from a file path or a zip URI.
func Open(path string) (*Dataset, error) {
	if archive, member, ok := SplitZipURI(path); ok {
		data, err := readZipMember(archive, member)
		if err != nil {
			return nil, err
		}
		ds, err := newDataset(path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return ds, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raster: %w", err)
	}
	ds, err := newDataset(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ds.closer = f
	return ds, nil
}

// NewDataset decodes a GeoTIFF from an in-memory or file-backed reader.
func NewDataset(name string, r io.ReaderAt) (*Dataset, error) {
	return newDataset(name, r)
}

func newDataset(name string, r io.ReaderAt) (*Dataset, error) {
	d, err := readIFD(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	l, err := readLayout(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	g, err := d.grid(l.width, l.height)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	ds := &Dataset{
		path:   name,
		grid:   g,
		src:    r,
		order:  d.order,
		layout: l,
		cache:  newBlockCache(DefaultCacheBlocks),
	}
	if nd, ok := d.noData(); ok {
		if l.sampleFormat == sampleFloat && l.bitsPerSample == 32 {
			nd = float64(float32(nd))
		}
		ds.noData, ds.hasND = nd, true
	}
	return ds, nil
}

func readZipMember(archive, member string) ([]byte, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archive, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in %s: %w", member, archive, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s in %s: %w", member, archive, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("archive %s has no member %s", archive, member)
}

// Path returns the path the dataset was opened from.
func (ds *Dataset) Path() string { return ds.path }

// Grid returns the raster geometry.
func (ds *Dataset) Grid() Grid { return ds.grid }

// NoData returns the declared no-data value, if any.
func (ds *Dataset) NoData() (float64, bool) { return ds.noData, ds.hasND }

// At returns the stored value of a cell.
func (ds *Dataset) At(row, col int) (float64, error) {
	if row < 0 || col < 0 || row >= ds.grid.Height || col >= ds.grid.Width {
		return 0, fmt.Errorf("cell (%d,%d) outside %dx%d grid", row, col, ds.grid.Height, ds.grid.Width)
	}
	index, offset := ds.layout.locate(row, col)
	values, ok := ds.cache.get(index)
	if !ok {
		var err error
		values, err = ds.layout.decodeBlock(ds.src, ds.order, index)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", ds.path, err)
		}
		ds.cache.put(index, values)
	}
	if offset >= len(values) {
		return 0, fmt.Errorf("%s: block %d is truncated", ds.path, index)
	}
	return values[offset], nil
}

// Value returns the cell value with no-data mapped to NaN.
func (ds *Dataset) Value(row, col int) (float64, error) {
	v, err := ds.At(row, col)
	if err != nil {
		return math.NaN(), err
	}
	if ds.hasND && (v == ds.noData || (math.IsNaN(ds.noData) && math.IsNaN(v))) {
		return math.NaN(), nil
	}
	return v, nil
}

// Sample returns the value of the cell containing (x, y) in the dataset CRS.
// Points outside the grid and no-data cells yield NaN.
func (ds *Dataset) Sample(x, y float64) (float64, error) {
	row, col, ok := ds.grid.Index(x, y)
	if !ok {
		return math.NaN(), nil
	}
	return ds.Value(row, col)
}

// ReadAll decodes the whole grid row-major with no-data mapped to NaN.
func (ds *Dataset) ReadAll() ([]float64, error) {
	out := make([]float64, ds.grid.Width*ds.grid.Height)
	for r := range ds.grid.Height {
		for c := range ds.grid.Width {
			v, err := ds.Value(r, c)
			if err != nil {
				return nil, err
			}
			out[r*ds.grid.Width+c] = v
		}
	}
	return out, nil
}

// Close releases the underlying file.
func (ds *Dataset) Close() error {
	if ds.closer == nil {
		return nil
	}
	return ds.closer.Close()
}
