package harvest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/metafind/internal/item"
)

// sniffLen is how much of a file is read to detect its content type.
const sniffLen = 512

// digestKey identifies one version of a file.
type digestKey struct {
	path  string
	size  int64
	mtime int64
}

// Harvester discovers entries under its roots and builds items for them.
// It is safe for concurrent use.
type Harvester struct {
	roots   []string
	opts    Options
	matcher *Matcher
	digests *lru.Cache[digestKey, []byte]
}

// entry is one walked path waiting to be built.
type entry struct {
	root string
	path string
	info fs.FileInfo
}

// New creates a Harvester. Roots are resolved to absolute paths; they are
// not required to exist until Scan.
func New(opts Options) (*Harvester, error) {
	if opts.Exclude == nil {
		opts.Exclude = DefaultExclude
	}
	if opts.DigestMaxBytes == 0 {
		opts.DigestMaxBytes = DefaultDigestMaxBytes
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path of %s: %w", r, err)
		}
		roots = append(roots, filepath.Clean(abs))
	}

	cache, err := lru.New[digestKey, []byte](digestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create digest cache: %w", err)
	}

	return &Harvester{
		roots:   roots,
		opts:    opts,
		matcher: NewMatcher(opts.Exclude, opts.IncludeHidden),
		digests: cache,
	}, nil
}

// Roots returns the absolute roots.
func (h *Harvester) Roots() []string {
	return append([]string(nil), h.roots...)
}

// Scan walks every root and streams one Result per harvested entry. Roots
// themselves are not reported; archive members follow their archive. The
// channel is closed when the walk ends or ctx is cancelled. Per-entry
// failures arrive as Results with Err set; a missing or non-directory root
// fails Scan up front.
func (h *Harvester) Scan(ctx context.Context) (<-chan Result, error) {
	for _, root := range h.roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("root path is not a directory: %s", root)
		}
	}

	workers := h.opts.Workers
	entries := make(chan entry, workers*10)
	results := make(chan Result, workers*10)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(entries)
		for _, root := range h.roots {
			if err := h.walk(gctx, root, entries, results); err != nil {
				return err
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for e := range entries {
				it, err := h.build(e.root, e.path, e.info)
				if err != nil {
					if !send(gctx, results, Result{Path: e.path, Err: err}) {
						return gctx.Err()
					}
					continue
				}
				if !send(gctx, results, Result{Item: it}) {
					return gctx.Err()
				}

				members, err := h.Expand(it)
				if err != nil {
					if !send(gctx, results, Result{Path: e.path, Err: err}) {
						return gctx.Err()
					}
					continue
				}
				for _, m := range members {
					if !send(gctx, results, Result{Item: m}) {
						return gctx.Err()
					}
				}
			}
			return nil
		})
	}

	go func() {
		defer close(results)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case results <- Result{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return results, nil
}

// send delivers res unless ctx ends first.
func send(ctx context.Context, results chan<- Result, res Result) bool {
	select {
	case results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// walk feeds every non-excluded entry below root into entries.
func (h *Harvester) walk(ctx context.Context, root string, entries chan<- entry, results chan<- Result) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if path == root {
				return err
			}
			// unreadable directory or vanished entry
			select {
			case results <- Result{Path: path, Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if h.matcher.Match(path, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			select {
			case results <- Result{Path: path, Err: infoErr}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}

		select {
		case entries <- entry{root: root, path: path, info: info}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// Excluded reports whether path would be skipped by Scan. Paths outside
// every root are checked against the anchored patterns only.
func (h *Harvester) Excluded(path string, isDir bool) bool {
	path = filepath.Clean(path)
	root, ok := h.RootOf(path)
	if !ok {
		return h.matcher.Match(path, filepath.Base(path), isDir)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	// a path is excluded when any of its parent directories is
	parts := strings.Split(rel, string(filepath.Separator))
	for i := 1; i < len(parts); i++ {
		dirRel := filepath.Join(parts[:i]...)
		if h.matcher.Match(filepath.Join(root, dirRel), dirRel, true) {
			return true
		}
	}
	return h.matcher.Match(path, rel, isDir)
}

// RootOf returns the deepest root containing path.
func (h *Harvester) RootOf(path string) (string, bool) {
	best := ""
	for _, root := range h.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) || root == string(filepath.Separator) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best, best != ""
}

// Item harvests a single path. It returns ErrExcluded for filtered paths
// and an error satisfying errors.Is(err, fs.ErrNotExist) for missing ones.
func (h *Harvester) Item(path string) (*item.Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	if h.Excluded(abs, info.IsDir()) {
		return nil, ErrExcluded
	}
	root, ok := h.RootOf(abs)
	if !ok {
		root = filepath.Dir(abs)
	}
	return h.build(root, abs, info)
}

// build creates the item for one entry. info comes from Lstat.
func (h *Harvester) build(root, path string, info fs.FileInfo) (*item.Item, error) {
	name := filepath.Base(path)
	kind := KindFile
	contentType := ""

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		kind = KindSymlink
		contentType = ContentTypeSymlink
		if h.opts.FollowSymlinks {
			target, err := os.Stat(path)
			if err == nil {
				info = target
				kind, contentType = KindFile, ""
				if target.IsDir() {
					kind, contentType = KindDirectory, ContentTypeDirectory
				}
			} else {
				slog.Debug("dangling symlink",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
	case info.IsDir():
		kind = KindDirectory
		contentType = ContentTypeDirectory
	}

	it := item.New(path).
		Set(item.AttrPath, item.String(path)).
		Set(item.AttrName, item.String(name)).
		Set(item.AttrDisplayName, item.String(displayName(name, kind == KindDirectory))).
		Set(item.AttrKind, item.String(kind)).
		Set(item.AttrSize, item.Number(float64(info.Size()))).
		Set(item.AttrMode, item.String(info.Mode().String())).
		Set(item.AttrModified, item.Date(info.ModTime().UTC())).
		Set(item.AttrParent, item.String(filepath.Dir(path)))

	if ext := extension(name); ext != "" && kind != KindDirectory {
		it.Set(item.AttrExt, item.String(ext))
	}
	if tags := pathTags(root, path); len(tags) > 0 {
		it.Set(item.AttrTags, item.Strings(tags...))
	}
	if h.opts.Volume != "" {
		it.Set(item.AttrVolume, item.String(h.opts.Volume))
		it.Set(item.AttrVolumePath, item.String(volumePath(root, path)))
	}

	if kind == KindFile && info.Mode().IsRegular() {
		contentType = contentTypeByName(name)
		if contentType == "" {
			contentType = sniffContentType(path)
		}
		if h.opts.DigestMaxBytes > 0 && info.Size() <= h.opts.DigestMaxBytes {
			sum, err := h.digest(path, info)
			if err != nil {
				return nil, fmt.Errorf("failed to digest %s: %w", path, err)
			}
			it.Set(item.AttrDigest, item.Bytes(sum))
		}
	}
	if contentType != "" {
		it.Set(item.AttrContentType, item.String(contentType))
	}

	return it, nil
}

// digest returns the SHA-256 of a file, reusing the cached value while the
// file's size and modification time are unchanged.
func (h *Harvester) digest(path string, info fs.FileInfo) ([]byte, error) {
	key := digestKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if sum, ok := h.digests.Get(key); ok {
		return sum, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, err
	}
	sum := hash.Sum(nil)
	h.digests.Add(key, sum)
	return sum, nil
}

// CachedDigests returns the number of digests held in the cache.
func (h *Harvester) CachedDigests() int {
	return h.digests.Len()
}

// sniffContentType detects the content type from the first bytes of a file.
func sniffContentType(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffLen)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	if n == 0 {
		return "application/octet-stream"
	}
	ct := http.DetectContentType(buf[:n])
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// pathTags returns the directory names between root and path.
func pathTags(root, path string) []string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return nil
	}
	parts := strings.Split(rel, string(filepath.Separator))
	tags := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." && p != ".." {
			tags = append(tags, p)
		}
	}
	return tags
}
