package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndexWithBackend_SQLite(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "index")

	// When: creating with SQLite backend
	idx, err := NewIndexWithBackend(basePath, BackendSQLite)
	require.NoError(t, err)
	defer idx.Close()

	// Then: SQLite file is created
	_, err = os.Stat(basePath + ".db")
	assert.NoError(t, err, "SQLite file should exist")
	assert.Equal(t, BackendSQLite, idx.Stats().Backend)
}

func TestNewIndexWithBackend_EmptyBackendIsBleve(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "index")

	// When: creating with empty backend (default)
	idx, err := NewIndexWithBackend(basePath, "")
	require.NoError(t, err)
	defer idx.Close()

	// Then: Bleve directory is created
	info, err := os.Stat(basePath + ".bleve")
	require.NoError(t, err, "Bleve directory should exist")
	assert.True(t, info.IsDir())
}

func TestNewIndexWithBackend_Unknown(t *testing.T) {
	_, err := NewIndexWithBackend("", "lucene")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown index backend")
}

func TestDetectBackend(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(basePath string)
		backend Backend
	}{
		{
			name:    "nothing",
			setup:   func(string) {},
			backend: "",
		},
		{
			name: "sqlite file",
			setup: func(basePath string) {
				_ = os.WriteFile(basePath+".db", nil, 0o644)
			},
			backend: BackendSQLite,
		},
		{
			name: "bleve dir",
			setup: func(basePath string) {
				_ = os.MkdirAll(basePath+".bleve", 0o755)
			},
			backend: BackendBleve,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			basePath := filepath.Join(t.TempDir(), "index")
			tt.setup(basePath)
			assert.Equal(t, tt.backend, DetectBackend(basePath))
			assert.Equal(t, tt.backend != "", Exists(basePath))
		})
	}
}

func TestOpenIndex_PrefersBackendOnDisk(t *testing.T) {
	// Given: an existing SQLite index
	basePath := filepath.Join(t.TempDir(), "index")
	idx, err := NewIndexWithBackend(basePath, BackendSQLite)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// When: opening with the bleve default
	opened, err := OpenIndex(basePath, BackendBleve)
	require.NoError(t, err)
	defer opened.Close()

	// Then: the SQLite index is used
	assert.Equal(t, BackendSQLite, opened.Stats().Backend)
	assert.NoDirExists(t, basePath+".bleve")
}

func TestNewBleveIndex_RecoversFromCorruptMeta(t *testing.T) {
	// Given: a bleve directory with an empty index_meta.json
	path := filepath.Join(t.TempDir(), "index.bleve")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), nil, 0o644))

	// When: opening it
	idx, err := NewBleveIndex(path)

	// Then: a fresh, empty index is created
	require.NoError(t, err)
	defer idx.Close()
	assert.Zero(t, idx.Stats().ItemCount)
}

func TestValidateIndexIntegrity(t *testing.T) {
	dir := t.TempDir()

	// missing directory is fine
	assert.NoError(t, validateIndexIntegrity(filepath.Join(dir, "absent")))

	// directory without meta is corrupt
	broken := filepath.Join(dir, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	assert.Error(t, validateIndexIntegrity(broken))

	// unparseable meta is corrupt
	require.NoError(t, os.WriteFile(filepath.Join(broken, "index_meta.json"), []byte("{"), 0o644))
	assert.Error(t, validateIndexIntegrity(broken))
}
