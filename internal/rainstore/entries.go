package rainstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

// EntryKind classifies a dated cache entry.
type EntryKind int

const (
	KindFolder EntryKind = iota
	KindArchive
	KindTemp
	KindMeta
	KindRaster
)

func (k EntryKind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindArchive:
		return "archive"
	case KindTemp:
		return "temp"
	case KindMeta:
		return "meta"
	default:
		return "raster"
	}
}

// Entry is a cache directory entry whose name embeds a date.
type Entry struct {
	Name string
	Path string
	Date time.Time
	Kind EntryKind
}

// Entries lists every dated entry in the cache root. Names that do not match
// the layout, or embed an impossible date, are ignored. A missing root yields
// no entries.
func (s *Store) Entries() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}

	out := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		name := de.Name()
		var (
			stamp string
			kind  EntryKind
		)
		if de.IsDir() {
			m := s.folderRe.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			stamp, kind = m[1], KindFolder
		} else {
			m := s.fileRe.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			stamp = m[1]
			switch m[2] {
			case "zip":
				kind = KindArchive
			case "zip.tmp":
				kind = KindTemp
			case "meta.json":
				kind = KindMeta
			default:
				kind = KindRaster
			}
		}
		day, err := domain.ParseYMD(stamp)
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: name, Path: filepath.Join(s.dir, name), Date: day, Kind: kind})
	}
	return out, nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
