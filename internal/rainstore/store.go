// Package rainstore owns the on-disk layout of the local raster cache.
//
// Per date YYYYMMDD the cache holds:
//
//	<prefix>YYYYMMDD.zip        archive as downloaded
//	<prefix>YYYYMMDD.zip.tmp    in-flight download, never read
//	<prefix>YYYYMMDD.meta.json  sidecar fingerprint written after a verified download
//	<prefix>YYYYMMDD/           extracted folder holding <prefix>YYYYMMDD.tif
//	<prefix>YYYYMMDD.tif        bare raster, accepted for manually staged data
package rainstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	"github.com/couchcryptid/rainfall-grid-etl/internal/raster"
	"github.com/klauspost/compress/zip"
)

// Store resolves cache paths for a directory and file prefix.
type Store struct {
	dir    string
	prefix string

	folderRe *regexp.Regexp
	fileRe   *regexp.Regexp
}

// New creates a Store rooted at dir. The directory need not exist yet.
func New(dir, prefix string) *Store {
	q := regexp.QuoteMeta(prefix)
	return &Store{
		dir:      dir,
		prefix:   prefix,
		folderRe: regexp.MustCompile(`^` + q + `(\d{8})$`),
		fileRe:   regexp.MustCompile(`^` + q + `(\d{8})\.(zip|zip\.tmp|meta\.json|tif|tiff)$`),
	}
}

// Dir returns the cache root.
func (s *Store) Dir() string { return s.dir }

// Prefix returns the file name prefix.
func (s *Store) Prefix() string { return s.prefix }

// Stem returns "<prefix>YYYYMMDD" for a date.
func (s *Store) Stem(day time.Time) string {
	return s.prefix + day.Format(domain.LayoutYMD)
}

func (s *Store) ZipPath(day time.Time) string {
	return filepath.Join(s.dir, s.Stem(day)+".zip")
}

func (s *Store) TempZipPath(day time.Time) string {
	return s.ZipPath(day) + ".tmp"
}

func (s *Store) MetaPath(day time.Time) string {
	return filepath.Join(s.dir, s.Stem(day)+".meta.json")
}

func (s *Store) FolderPath(day time.Time) string {
	return filepath.Join(s.dir, s.Stem(day))
}

// RasterPath is the decoded raster expected inside the extracted folder.
func (s *Store) RasterPath(day time.Time) string {
	return filepath.Join(s.FolderPath(day), s.Stem(day)+".tif")
}

func (s *Store) BarePath(day time.Time) string {
	return filepath.Join(s.dir, s.Stem(day)+".tif")
}

// State reports what exists on disk for day.
func (s *Store) State(day time.Time) domain.StorageState {
	if exists(s.RasterPath(day)) {
		return domain.StateExtracted
	}
	if exists(s.ZipPath(day)) {
		return domain.StateZipOnly
	}
	return domain.StateAbsent
}

// LoadMeta reads the sidecar for day. It returns (nil, nil) when no sidecar
// exists and an error when it exists but cannot be decoded.
func (s *Store) LoadMeta(day time.Time) (*domain.SidecarMeta, error) {
	data, err := os.ReadFile(s.MetaPath(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	var meta domain.SidecarMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", filepath.Base(s.MetaPath(day)), err)
	}
	return &meta, nil
}

// SaveMeta writes the sidecar atomically: a partially written file is never
// visible under the final name.
func (s *Store) SaveMeta(day time.Time, meta domain.SidecarMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	return WriteFileAtomic(s.MetaPath(day), data, 0o644)
}

// RemoveDay deletes the archive, sidecar, and extracted folder for day.
// Missing files are not an error.
func (s *Store) RemoveDay(day time.Time) error {
	var errs []error
	for _, p := range []string{s.ZipPath(day), s.MetaPath(day), s.TempZipPath(day)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(s.FolderPath(day)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AvailableDates returns the sorted, de-duplicated dates that have an
// extracted folder, an archive, or a bare raster. Sidecars and temp files
// alone do not make a date available.
func (s *Store) AvailableDates() ([]time.Time, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	seen := make(map[time.Time]struct{})
	for _, e := range entries {
		if e.Kind == KindMeta || e.Kind == KindTemp {
			continue
		}
		seen[e.Date] = struct{}{}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// ResolvePath finds a readable raster for day using the lookup order
// extracted folder, archive member, bare file. It returns "" when none exists.
func (s *Store) ResolvePath(day time.Time) string {
	if matches, err := filepath.Glob(filepath.Join(s.FolderPath(day), "*.tif")); err == nil && len(matches) > 0 {
		sort.Strings(matches)
		return matches[0]
	}
	if member, ok := firstRasterMember(s.ZipPath(day)); ok {
		return raster.ZipURI(s.ZipPath(day), member)
	}
	if exists(s.BarePath(day)) {
		return s.BarePath(day)
	}
	return ""
}

func firstRasterMember(archive string) (string, bool) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return "", false
	}
	defer zr.Close()
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".tif") || strings.HasSuffix(name, ".tiff") {
			return f.Name, true
		}
	}
	return "", false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
