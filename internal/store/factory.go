package store

import (
	"fmt"
	"os"
)

// Backend represents the index backend type.
type Backend string

const (
	// BackendBleve uses Bleve v2 with typed fields (default).
	// Scorch holds an exclusive lock: one process at a time.
	BackendBleve Backend = "bleve"

	// BackendSQLite uses SQLite FTS5.
	// WAL mode allows searching while another process indexes.
	BackendSQLite Backend = "sqlite"
)

// ParseBackend validates a backend name. Empty selects the default.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendBleve:
		return BackendBleve, nil
	case BackendSQLite:
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("unknown index backend: %s (valid options: bleve, sqlite)", s)
	}
}

// NewIndexWithBackend creates an Index using the specified backend.
// The path should be the base path without extension - the extension is
// added based on the backend type (.bleve for Bleve, .db for SQLite).
//
// If basePath is empty, creates an in-memory index for testing.
func NewIndexWithBackend(basePath string, backend Backend) (Index, error) {
	backend, err := ParseBackend(string(backend))
	if err != nil {
		return nil, err
	}

	var path string
	if basePath != "" {
		path = IndexPath(basePath, backend)
	}

	switch backend {
	case BackendSQLite:
		return NewSQLiteIndex(path)
	default:
		return NewBleveIndex(path)
	}
}

// OpenIndex opens the index at basePath, preferring the backend found on
// disk over the requested one so an existing index is never shadowed.
func OpenIndex(basePath string, backend Backend) (Index, error) {
	if detected := DetectBackend(basePath); detected != "" {
		backend = detected
	}
	return NewIndexWithBackend(basePath, backend)
}

// DetectBackend detects which backend an existing index uses based on
// file existence. Returns an empty string if no index exists.
func DetectBackend(basePath string) Backend {
	if basePath == "" {
		return ""
	}
	if dirExists(basePath + ".bleve") {
		return BackendBleve
	}
	if fileExists(basePath + ".db") {
		return BackendSQLite
	}
	return ""
}

// IndexPath returns the full path to the index file/directory
// based on the backend type.
func IndexPath(basePath string, backend Backend) string {
	if backend == BackendSQLite {
		return basePath + ".db"
	}
	return basePath + ".bleve"
}

// Exists reports whether an index of any backend exists at basePath.
func Exists(basePath string) bool {
	return DetectBackend(basePath) != ""
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
