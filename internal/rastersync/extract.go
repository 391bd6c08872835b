package rastersync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// extractArchive unpacks archive into folder. Members land in a hidden
// staging directory next to folder which is renamed into place once every
// member is written, so a crash never leaves a half-filled folder behind.
func extractArchive(archive, folder string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", filepath.Base(archive), err)
	}
	defer zr.Close()

	parent := filepath.Dir(folder)
	stage, err := os.MkdirTemp(parent, "."+filepath.Base(folder)+".extract-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	for _, f := range zr.File {
		if err := extractMember(f, stage); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(folder); err != nil {
		return fmt.Errorf("clear %s: %w", filepath.Base(folder), err)
	}
	if err := os.Rename(stage, folder); err != nil {
		return fmt.Errorf("rename staging dir: %w", err)
	}
	return nil
}

func extractMember(f *zip.File, root string) error {
	name := filepath.FromSlash(f.Name)
	target := filepath.Join(root, name)
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
		return fmt.Errorf("archive member %q escapes the extraction folder", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(name), err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open member %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
