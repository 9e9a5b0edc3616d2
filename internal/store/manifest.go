package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Manifest records how an index was last built. It lives next to the
// index at <basePath>.json.
type Manifest struct {
	Backend   Backend   `json:"backend"`
	Roots     []string  `json:"roots"`
	Volume    string    `json:"volume,omitempty"`
	Items     int       `json:"items"`
	IndexedAt time.Time `json:"indexed_at"`
}

// ManifestPath returns the manifest location for basePath.
func ManifestPath(basePath string) string {
	return basePath + ".json"
}

// ReadManifest loads the manifest for basePath. A missing manifest returns
// nil and no error.
func ReadManifest(basePath string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(basePath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// WriteManifest stores m for basePath, replacing the previous manifest
// atomically.
func WriteManifest(basePath string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	path := ManifestPath(basePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Remove deletes the index files of every backend at basePath together
// with its manifest. The lock file is kept.
func Remove(basePath string) error {
	var errs []error
	for _, p := range []string{
		IndexPath(basePath, BackendBleve),
		IndexPath(basePath, BackendSQLite),
		IndexPath(basePath, BackendSQLite) + "-wal",
		IndexPath(basePath, BackendSQLite) + "-shm",
		ManifestPath(basePath),
	} {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
