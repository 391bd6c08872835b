package rainstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func writeZip(t *testing.T, path string, members ...string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, m := range members {
		w, err := zw.Create(m)
		require.NoError(t, err)
		_, _ = w.Write([]byte("data"))
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestStore_Paths(t *testing.T) {
	s := New("/cache", "prism_")
	d := day("2025-10-17")

	assert.Equal(t, "prism_20251017", s.Stem(d))
	assert.Equal(t, "/cache/prism_20251017.zip", s.ZipPath(d))
	assert.Equal(t, "/cache/prism_20251017.zip.tmp", s.TempZipPath(d))
	assert.Equal(t, "/cache/prism_20251017.meta.json", s.MetaPath(d))
	assert.Equal(t, "/cache/prism_20251017/prism_20251017.tif", s.RasterPath(d))
	assert.Equal(t, "/cache/prism_20251017.tif", s.BarePath(d))
}

func TestStore_AvailableDatesIgnoresSidecarsAndTemps(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "prism_")

	touch(t, s.ZipPath(day("2025-10-15")))
	touch(t, s.RasterPath(day("2025-10-13")))
	touch(t, s.BarePath(day("2025-10-14")))
	// Sidecar only, in-flight download only, impossible date.
	touch(t, s.MetaPath(day("2025-10-16")))
	touch(t, s.TempZipPath(day("2025-10-17")))
	touch(t, filepath.Join(dir, "prism_20251399.zip"))
	touch(t, filepath.Join(dir, "notes.txt"))

	dates, err := s.AvailableDates()
	require.NoError(t, err)
	require.Len(t, dates, 3)
	assert.Equal(t, day("2025-10-13"), dates[0])
	assert.Equal(t, day("2025-10-14"), dates[1])
	assert.Equal(t, day("2025-10-15"), dates[2])
}

func TestStore_AvailableDatesMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"), "prism_")
	dates, err := s.AvailableDates()
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestStore_ResolvePathOrder(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "prism_")
	d := day("2025-10-17")

	assert.Empty(t, s.ResolvePath(d))

	touch(t, s.BarePath(d))
	assert.Equal(t, s.BarePath(d), s.ResolvePath(d))

	writeZip(t, s.ZipPath(d), "prism_20251017.hdr", "prism_20251017.tif")
	assert.Equal(t, raster.ZipURI(s.ZipPath(d), "prism_20251017.tif"), s.ResolvePath(d))

	touch(t, filepath.Join(s.FolderPath(d), "b.tif"))
	touch(t, filepath.Join(s.FolderPath(d), "a.tif"))
	assert.Equal(t, filepath.Join(s.FolderPath(d), "a.tif"), s.ResolvePath(d))
}

func TestStore_ResolvePathSkipsArchiveWithoutRaster(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "prism_")
	d := day("2025-10-17")

	writeZip(t, s.ZipPath(d), "readme.txt")
	assert.Empty(t, s.ResolvePath(d))
}

func TestStore_MetaRoundTrip(t *testing.T) {
	s := New(t.TempDir(), "prism_")
	d := day("2025-10-17")

	meta, err := s.LoadMeta(d)
	require.NoError(t, err)
	assert.Nil(t, meta)

	size := int64(2048)
	want := domain.SidecarMeta{
		Fingerprint: domain.Fingerprint{ETag: `"v1"`, LastModifiedUTC: "2025-10-18T03:00:00Z", ContentLength: &size},
		SyncedUTC:   "2025-10-18T06:00:00Z",
	}
	require.NoError(t, s.SaveMeta(d, want))

	got, err := s.LoadMeta(d)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestStore_LoadMetaCorrupt(t *testing.T) {
	s := New(t.TempDir(), "prism_")
	d := day("2025-10-17")
	require.NoError(t, os.WriteFile(s.MetaPath(d), []byte("{not json"), 0o644))

	_, err := s.LoadMeta(d)
	require.Error(t, err)
}

func TestStore_StateAndRemoveDay(t *testing.T) {
	s := New(t.TempDir(), "prism_")
	d := day("2025-10-17")

	assert.Equal(t, domain.StateAbsent, s.State(d))
	touch(t, s.ZipPath(d))
	assert.Equal(t, domain.StateZipOnly, s.State(d))
	touch(t, s.RasterPath(d))
	assert.Equal(t, domain.StateExtracted, s.State(d))
	touch(t, s.MetaPath(d))
	touch(t, s.TempZipPath(d))

	require.NoError(t, s.RemoveDay(d))
	assert.Equal(t, domain.StateAbsent, s.State(d))
	for _, p := range []string{s.ZipPath(d), s.MetaPath(d), s.TempZipPath(d), s.FolderPath(d)} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}

	require.NoError(t, s.RemoveDay(d), "removing an absent day is a no-op")
}

func TestStore_EntriesKinds(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "prism_")
	d := day("2025-10-17")
	touch(t, s.ZipPath(d))
	touch(t, s.TempZipPath(d))
	touch(t, s.MetaPath(d))
	touch(t, s.BarePath(d))
	require.NoError(t, os.MkdirAll(s.FolderPath(d), 0o755))

	entries, err := s.Entries()
	require.NoError(t, err)
	kinds := map[EntryKind]int{}
	for _, e := range entries {
		assert.Equal(t, d, e.Date)
		kinds[e.Kind]++
	}
	assert.Equal(t, map[EntryKind]int{KindFolder: 1, KindArchive: 1, KindTemp: 1, KindMeta: 1, KindRaster: 1}, kinds)
}

func TestWriteFileAtomic_LeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.json")
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	dirents, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, dirents, 1)
}
