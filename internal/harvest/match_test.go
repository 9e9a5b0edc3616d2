package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		hidden   bool
		abs, rel string
		isDir    bool
		want     bool
	}{
		{"root never excluded", []string{"*"}, false, "/r", ".", true, false},
		{"hidden file", nil, false, "/r/.env", ".env", false, true},
		{"hidden allowed", nil, true, "/r/.env", ".env", false, false},
		{"name glob", []string{"*.log"}, false, "/r/a/b.log", "a/b.log", false, true},
		{"name glob miss", []string{"*.log"}, false, "/r/a/b.txt", "a/b.txt", false, false},
		{"dir only skips files", []string{"build/"}, false, "/r/build", "build", false, false},
		{"dir only matches dirs", []string{"build/"}, false, "/r/x/build", "x/build", true, true},
		{"relative path", []string{"docs/*.md"}, false, "/r/docs/a.md", "docs/a.md", false, true},
		{"relative path is anchored at root", []string{"docs/*.md"}, false, "/r/x/docs/a.md", "x/docs/a.md", false, false},
		{"double star prefix", []string{"**/cache/*"}, false, "/r/a/b/cache/f", "a/b/cache/f", false, true},
		{"double star suffix matches dir", []string{"archive/**"}, false, "/r/archive", "archive", true, true},
		{"double star middle", []string{"a/**/z.txt"}, false, "/r/a/z.txt", "a/z.txt", false, true},
		{"absolute pattern", []string{"/var/lib/metafind/**"}, false, "/var/lib/metafind/index.bleve", "index.bleve", true, true},
		{"absolute pattern miss", []string{"/var/lib/metafind/**"}, false, "/var/lib/other", "other", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(tt.patterns, tt.hidden)
			assert.Equal(t, tt.want, m.Match(tt.abs, tt.rel, tt.isDir))
		})
	}
}

func TestHarvester_Excluded_ChecksParentDirectories(t *testing.T) {
	// Given: a harvester excluding node_modules directories
	h, err := New(Options{Roots: []string{"/r"}, Exclude: []string{"node_modules/"}})
	assert.NoError(t, err)

	// Then: anything below an excluded directory is excluded
	assert.True(t, h.Excluded("/r/web/node_modules/pkg/index.js", false))
	assert.True(t, h.Excluded("/r/.git/config", false))
	assert.False(t, h.Excluded("/r/web/src/index.js", false))
}

func TestExtensionAndDisplayName(t *testing.T) {
	tests := []struct {
		name, ext, display string
		isDir              bool
	}{
		{"Report.PDF", "pdf", "Report", false},
		{".bashrc", "", ".bashrc", false},
		{"archive.tar.gz", "gz", "archive.tar", false},
		{"Makefile", "", "Makefile", false},
		{"v1.2", "2", "v1.2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ext, extension(tt.name))
			assert.Equal(t, tt.display, displayName(tt.name, tt.isDir))
		})
	}
}
