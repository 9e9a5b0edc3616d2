// Package harvest walks directory trees and turns every entry into an
// item.Item carrying file system metadata.
package harvest

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/metafind/internal/item"
)

// Kind values of the kind attribute.
const (
	KindFile      = "file"
	KindDirectory = "directory"
	KindSymlink   = "symlink"
)

// DefaultDigestMaxBytes is the largest file that gets a digest (1MB).
const DefaultDigestMaxBytes = 1 << 20

// digestCacheSize bounds the number of cached digests.
const digestCacheSize = 4096

// ErrExcluded is returned by Item for paths filtered by the exclude rules.
var ErrExcluded = errors.New("path is excluded")

// Options configures a Harvester.
type Options struct {
	// Roots are the directories to scan. Relative roots are made absolute.
	Roots []string

	// Exclude holds glob patterns. A pattern without a slash matches an
	// entry name anywhere; a pattern with a slash matches the path relative
	// to its root, or the absolute path when it starts with a slash. "**"
	// matches any number of path segments and a trailing slash restricts
	// the pattern to directories.
	Exclude []string

	// IncludeHidden harvests dot-files and descends into dot-directories.
	IncludeHidden bool

	// FollowSymlinks reports symlinks with the metadata of their target.
	// Symlinked directories are never descended into.
	FollowSymlinks bool

	// DigestMaxBytes limits digest computation to files up to this size.
	// Zero means DefaultDigestMaxBytes; negative disables digests.
	DigestMaxBytes int64

	// Workers is the number of concurrent item builders (0 = NumCPU).
	Workers int

	// SkipArchives stops Scan from listing the members of zip, jar and tar
	// archives.
	SkipArchives bool

	// Volume labels every item with the volume and volume_path attributes.
	// volume_path is the item's path relative to its root.
	Volume string
}

// DefaultExclude lists patterns excluded unless the caller overrides them.
var DefaultExclude = []string{
	".git/",
	"node_modules/",
	"__pycache__/",
	".DS_Store",
}

// Result is sent on the Scan channel. Exactly one of Item and Err is set.
type Result struct {
	Item *item.Item

	// Path is the entry the error refers to, if any.
	Path string
	Err  error
}

// contentTypes maps lower-case extensions to MIME types that the platform
// mime table does not reliably know about.
var contentTypes = map[string]string{
	".go":       "text/x-go",
	".rs":       "text/x-rust",
	".py":       "text/x-python",
	".rb":       "text/x-ruby",
	".java":     "text/x-java",
	".kt":       "text/x-kotlin",
	".c":        "text/x-c",
	".h":        "text/x-c",
	".cpp":      "text/x-c++",
	".hpp":      "text/x-c++",
	".cs":       "text/x-csharp",
	".swift":    "text/x-swift",
	".ts":       "text/x-typescript",
	".tsx":      "text/x-typescript",
	".sh":       "text/x-shellscript",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".rst":      "text/x-rst",
	".txt":      "text/plain",
	".csv":      "text/csv",
	".json":     "application/json",
	".yaml":     "application/yaml",
	".yml":      "application/yaml",
	".toml":     "application/toml",
	".xml":      "application/xml",
	".html":     "text/html",
	".css":      "text/css",
	".js":       "text/javascript",
	".pdf":      "application/pdf",
	".zip":      "application/zip",
	".gz":       "application/gzip",
	".tar":      "application/x-tar",
	".png":      "image/png",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
	".gif":      "image/gif",
	".svg":      "image/svg+xml",
	".webp":     "image/webp",
	".mp3":      "audio/mpeg",
	".mp4":      "video/mp4",
	".sql":      "application/sql",
}

// Content types of non-regular entries.
const (
	ContentTypeDirectory = "inode/directory"
	ContentTypeSymlink   = "inode/symlink"
)

// contentTypeByName detects the content type from the file name alone.
// Returns "" when the extension is unknown.
func contentTypeByName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		// drop parameters such as "; charset=utf-8"
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		return ct
	}
	return ""
}

// extension returns the lower-case extension of name without the dot.
// Leading-dot names such as ".bashrc" have no extension.
func extension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// displayName returns the name shown to users: the file name without its
// extension, or the full name for directories and dot-files.
func displayName(name string, isDir bool) string {
	if isDir {
		return name
	}
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return name
	}
	return strings.TrimSuffix(name, ext)
}
