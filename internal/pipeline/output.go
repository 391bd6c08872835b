package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
)

// OutputDir returns OUTPUT_DIR/YYYY-MM-DD for a requested date.
func (p *Pipeline) OutputDir(set *domain.FeatureSet) string {
	return filepath.Join(p.opts.OutputDir, set.Requested.Format(domain.LayoutISO))
}

// emit runs every writer inside a hidden staging directory, adds the
// manifest, and swaps the staging directory into place. A failed emit leaves
// any earlier output for the date untouched.
func (p *Pipeline) emit(ctx context.Context, set *domain.FeatureSet, manifest *domain.Manifest) (string, error) {
	final := p.OutputDir(set)
	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	stage, err := os.MkdirTemp(p.opts.OutputDir, "."+filepath.Base(final)+".tmp-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	for _, w := range p.opts.Writers {
		names, err := w.WriteFiles(ctx, stage, set)
		if err != nil {
			return "", err
		}
		manifest.Outputs = append(manifest.Outputs, names...)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, domain.ManifestFile), data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Chmod(stage, 0o755); err != nil {
		return "", fmt.Errorf("chmod staging dir: %w", err)
	}

	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("replace %s: %w", final, err)
	}
	if err := os.Rename(stage, final); err != nil {
		return "", fmt.Errorf("rename staging dir: %w", err)
	}
	return final, nil
}

// ReadManifest loads the manifest of an output directory.
func ReadManifest(dir string) (*domain.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, domain.ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", dir, err)
	}
	return &m, nil
}
