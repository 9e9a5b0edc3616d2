package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_WriteThenRead(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "nested", "index")
	indexedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Given: a manifest written for an index
	require.NoError(t, WriteManifest(basePath, &Manifest{
		Backend:   BackendSQLite,
		Roots:     []string{"/data"},
		Items:     12,
		IndexedAt: indexedAt,
	}))

	// When: reading it back
	m, err := ReadManifest(basePath)

	// Then: every field survives and no temp file is left
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, BackendSQLite, m.Backend)
	assert.Equal(t, []string{"/data"}, m.Roots)
	assert.Equal(t, 12, m.Items)
	assert.True(t, indexedAt.Equal(m.IndexedAt))
	_, err = os.Stat(ManifestPath(basePath) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadManifest_Missing(t *testing.T) {
	// When: no manifest was ever written
	m, err := ReadManifest(filepath.Join(t.TempDir(), "index"))

	// Then: nil without error
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestReadManifest_Corrupt(t *testing.T) {
	// Given: a manifest that is not JSON
	basePath := filepath.Join(t.TempDir(), "index")
	require.NoError(t, os.WriteFile(ManifestPath(basePath), []byte("{"), 0o644))

	// When: reading
	_, err := ReadManifest(basePath)

	// Then: a parse error is returned
	assert.ErrorContains(t, err, "parse manifest")
}

func TestRemove_DeletesIndexAndManifest(t *testing.T) {
	// Given: a SQLite index with a manifest
	basePath := filepath.Join(t.TempDir(), "index")
	idx, err := NewIndexWithBackend(basePath, BackendSQLite)
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, WriteManifest(basePath, &Manifest{Backend: BackendSQLite}))

	// When: removing
	require.NoError(t, Remove(basePath))

	// Then: nothing is left behind
	assert.False(t, Exists(basePath))
	_, err = os.Stat(ManifestPath(basePath))
	assert.True(t, os.IsNotExist(err))
}
