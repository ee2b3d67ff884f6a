package index

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ManifestFile is the name of the manifest inside an index directory.
	ManifestFile    = "manifest.yaml"
	manifestVersion = 1
)

// Manifest describes a completed index build.
type Manifest struct {
	// Version is the manifest schema version.
	Version int `yaml:"version"`
	// Document is the name of the indexed document.
	Document string `yaml:"document"`
	// Backend names the Backend that holds the vectors.
	Backend string `yaml:"backend"`
	// Model names the embedding model used at build time.
	Model string `yaml:"model"`
	// Dimensions is the embedding vector length.
	Dimensions int `yaml:"dimensions"`
	// Chunks is the number of stored chunks.
	Chunks int `yaml:"chunks"`
	// Generation is the subdirectory holding this build's data.
	Generation string `yaml:"generation"`
	// Collection is the remote collection name, for backends that use one.
	Collection string `yaml:"collection,omitempty"`
	// CreatedAt is when the build completed.
	CreatedAt time.Time `yaml:"created_at"`
}

// ReadManifest returns the manifest of the index at dir. The error wraps
// os.ErrNotExist when dir holds no complete index.
func ReadManifest(dir string) (*Manifest, error) {
	return readManifest(dir)
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("index: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("index: parse manifest in %s: %w", dir, err)
	}
	return &m, nil
}

// writeManifest replaces dir/manifest.yaml atomically via rename.
func writeManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("index: marshal manifest: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("index: create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("index: write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("index: sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, ManifestFile)); err != nil {
		return fmt.Errorf("index: install manifest: %w", err)
	}
	return nil
}
