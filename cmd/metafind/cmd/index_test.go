package cmd

import (
	"archive/zip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mferrors "github.com/Aman-CERP/metafind/internal/errors"
	"github.com/Aman-CERP/metafind/internal/store"
	"github.com/Aman-CERP/metafind/internal/ui"
)

func TestIndexRoots(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name       string
		args       []string
		configured []string
		want       []string
		wantErr    bool
	}{
		{name: "arguments win", args: []string{dir}, configured: []string{"/elsewhere"}, want: []string{dir}},
		{name: "configured roots", configured: []string{dir}, want: []string{dir}},
		{name: "working directory", want: []string{cwd}},
		{name: "missing root", args: []string{filepath.Join(dir, "missing")}, wantErr: true},
		{name: "file root", args: []string{file}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := indexRoots(tt.args, tt.configured)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, mferrors.ErrCodeInvalidPath, mferrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndex_WritesManifestAndKeepsEarlierRoots(t *testing.T) {
	// Given: two separate trees
	isolateEnv(t)
	first := writeTree(t, map[string]string{"one.txt": "1"})
	second := writeTree(t, map[string]string{"two.txt": "2", "three.txt": "3"})
	base := filepath.Join(t.TempDir(), "index")
	cfgDir := t.TempDir()

	// When: indexing them one after the other
	_, _, err := execute(t, "index", "--no-tui", "--config", cfgDir, "--index", base, first)
	require.NoError(t, err)
	_, stderr, err := execute(t, "index", "--no-tui", "--config", cfgDir, "--index", base, second)
	require.NoError(t, err)

	// Then: the manifest lists both roots and counts every item
	m, err := store.ReadManifest(base)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.ElementsMatch(t, []string{first, second}, m.Roots)
	assert.Equal(t, 3, m.Items)
	assert.Equal(t, store.BackendBleve, m.Backend)
	assert.False(t, m.IndexedAt.IsZero())
	assert.NotEmpty(t, stderr, "progress is reported on stderr")
}

func TestIndex_ReconcilesRemovedFiles(t *testing.T) {
	// Given: an indexed tree that loses a file
	root, base, cfgDir := indexedTree(t, "sqlite")
	require.NoError(t, os.Remove(filepath.Join(root, "b.pdf")))

	// When: indexing again
	_, _, err := execute(t, "index", "--no-tui", "--config", cfgDir, "--index", base, root)
	require.NoError(t, err)

	// Then: the removed file is gone from results
	stdout, _, err := execute(t, "search", "--config", cfgDir, "--index", base, "-q")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "b.pdf")
	assert.Len(t, nonEmptyLines(stdout), 4)
}

func TestIndex_SkipReconcileKeepsRemovedFiles(t *testing.T) {
	// Given: an indexed tree that loses a file
	root, base, cfgDir := indexedTree(t, "sqlite")
	require.NoError(t, os.Remove(filepath.Join(root, "b.pdf")))

	// When: indexing again without reconciliation
	_, _, err := execute(t, "index", "--no-tui", "--skip-reconcile", "--config", cfgDir, "--index", base, root)
	require.NoError(t, err)

	// Then: the stale item is still there
	stdout, _, err := execute(t, "search", "--config", cfgDir, "--index", base, "-q")
	require.NoError(t, err)
	assert.Contains(t, stdout, "b.pdf")
}

func TestIndex_ForceSwitchesBackend(t *testing.T) {
	// Given: a bleve index
	root, base, cfgDir := indexedTree(t, "bleve")

	// When: rebuilding with --force and the sqlite backend
	_, _, err := execute(t, "index", "--no-tui", "--force", "--backend", "sqlite", "--config", cfgDir, "--index", base, root)
	require.NoError(t, err)

	// Then: only the sqlite index remains
	assert.Equal(t, store.BackendSQLite, store.DetectBackend(base))
	_, err = os.Stat(store.IndexPath(base, store.BackendBleve))
	assert.True(t, os.IsNotExist(err))
}

func TestIndex_ExcludeAndHiddenFlags(t *testing.T) {
	// Given: a tree with a temp file and a dot-file
	isolateEnv(t)
	root := writeTree(t, map[string]string{"keep.txt": "", "drop.tmp": "", ".hidden": ""})
	base := filepath.Join(t.TempDir(), "index")
	cfgDir := t.TempDir()

	// When: indexing with an extra exclude and hidden files enabled
	_, _, err := execute(t, "index", "--no-tui", "--exclude", "*.tmp", "--hidden", "--backend", "sqlite", "--config", cfgDir, "--index", base, root)
	require.NoError(t, err)

	// Then: the temp file is skipped and the dot-file is kept
	stdout, _, err := execute(t, "search", "--config", cfgDir, "--index", base, "-q")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, ".hidden"), filepath.Join(root, "keep.txt")}, nonEmptyLines(stdout))
}

// zipTree builds a tree holding a.txt and bundle.zip, whose only member is
// inner.txt.
func zipTree(t *testing.T) string {
	t.Helper()
	root := writeTree(t, map[string]string{"a.txt": "a"})
	f, err := os.Create(filepath.Join(root, "bundle.zip"))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("inner.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("inner"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return root
}

func TestIndex_ArchiveMembersAndVolume(t *testing.T) {
	// Given: a tree holding a zip archive
	isolateEnv(t)
	root := zipTree(t)
	base := filepath.Join(t.TempDir(), "index")
	cfgDir := t.TempDir()
	archive := filepath.Join(root, "bundle.zip")

	// When: indexing it as a labelled volume
	_, _, err := execute(t, "index", "--no-tui", "--volume", "usb", "--config", cfgDir, "--index", base, root)
	require.NoError(t, err)

	// Then: archive members are searchable like files
	stdout, _, err := execute(t, "search", "--config", cfgDir, "--index", base, "-q", "ext:txt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(root, "a.txt"), archive + "!inner.txt"}, nonEmptyLines(stdout))

	// and every item carries the volume label
	stdout, _, err = execute(t, "search", "--config", cfgDir, "--index", base, "-q", "volume:usb")
	require.NoError(t, err)
	assert.Len(t, nonEmptyLines(stdout), 3)

	m, err := store.ReadManifest(base)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "usb", m.Volume)

	stdout, _, err = execute(t, "stats", "--json", "--config", cfgDir, "--index", base)
	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "usb", info.Volume)
}

func TestIndex_SkipArchivesFlag(t *testing.T) {
	// Given: a tree holding a zip archive
	isolateEnv(t)
	root := zipTree(t)
	base := filepath.Join(t.TempDir(), "index")
	cfgDir := t.TempDir()

	// When: indexing without archive members
	_, _, err := execute(t, "index", "--no-tui", "--skip-archives", "--config", cfgDir, "--index", base, root)
	require.NoError(t, err)

	// Then: only the plain file matches
	stdout, _, err := execute(t, "search", "--config", cfgDir, "--index", base, "-q", "ext:txt")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.txt")}, nonEmptyLines(stdout))
}
