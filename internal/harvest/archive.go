package harvest

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/metafind/internal/item"
)

// MemberSeparator joins an archive path and a member path in member ids,
// as in "/data/src.zip!docs/README.md".
const MemberSeparator = "!"

// archiveFormat is a readable archive container.
type archiveFormat int

const (
	formatNone archiveFormat = iota
	formatZip
	formatTar
	formatTarGzip
	formatTarBzip2
)

// archiveSuffixes maps lower-case name suffixes to formats. Longer suffixes
// come first so ".tar.gz" wins over ".gz".
var archiveSuffixes = []struct {
	suffix string
	format archiveFormat
}{
	{".tar.bz2", formatTarBzip2},
	{".tar.gz", formatTarGzip},
	{".tbz2", formatTarBzip2},
	{".tbz", formatTarBzip2},
	{".tgz", formatTarGzip},
	{".tar", formatTar},
	{".zip", formatZip},
	{".jar", formatZip},
}

func archiveFormatOf(name string) archiveFormat {
	lower := strings.ToLower(name)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s.suffix) && len(lower) > len(s.suffix) {
			return s.format
		}
	}
	return formatNone
}

// IsArchive reports whether name has an extension whose members are
// harvested.
func IsArchive(name string) bool {
	return archiveFormatOf(name) != formatNone
}

// MemberID returns the id of member inside the archive at archivePath.
func MemberID(archivePath, member string) string {
	return archivePath + MemberSeparator + member
}

// SplitMemberID splits a member id into archive path and member path. ok is
// false for plain file system ids, including paths that merely contain the
// separator.
func SplitMemberID(id string) (archivePath, member string, ok bool) {
	for i := 0; i < len(id); {
		j := strings.Index(id[i:], MemberSeparator)
		if j < 0 {
			break
		}
		i += j
		if i > 0 && i < len(id)-1 && IsArchive(id[:i]) {
			return id[:i], id[i+1:], true
		}
		i++
	}
	return id, "", false
}

// member is one entry listed from an archive.
type member struct {
	name    string
	mode    fs.FileMode
	size    int64
	modTime time.Time
}

// Expand returns one item per member of the archive described by it. It
// returns nil for items that are not readable archives or when archives are
// skipped. Excluded members are left out.
func (h *Harvester) Expand(it *item.Item) ([]*item.Item, error) {
	if h.opts.SkipArchives || it == nil || it.GetString(item.AttrKind) != KindFile {
		return nil, nil
	}
	archivePath := it.ID
	format := archiveFormatOf(filepath.Base(archivePath))
	if format == formatNone {
		return nil, nil
	}

	members, err := listMembers(archivePath, format)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", archivePath, err)
	}

	root, ok := h.RootOf(archivePath)
	if !ok {
		root = filepath.Dir(archivePath)
	}

	items := make([]*item.Item, 0, len(members))
	for _, m := range members {
		if h.memberExcluded(archivePath, m) {
			continue
		}
		items = append(items, h.buildMember(root, archivePath, m))
	}
	return items, nil
}

// memberExcluded applies the exclude rules to a member path, treating each
// of its parent directories like a directory on disk.
func (h *Harvester) memberExcluded(archivePath string, m member) bool {
	parts := strings.Split(m.name, "/")
	for i := 1; i < len(parts); i++ {
		dirRel := strings.Join(parts[:i], "/")
		if h.matcher.Match(MemberID(archivePath, dirRel), dirRel, true) {
			return true
		}
	}
	return h.matcher.Match(MemberID(archivePath, m.name), m.name, m.mode.IsDir())
}

func (h *Harvester) buildMember(root, archivePath string, m member) *item.Item {
	id := MemberID(archivePath, m.name)
	name := path.Base(m.name)

	kind, contentType := KindFile, ""
	switch {
	case m.mode&fs.ModeSymlink != 0:
		kind, contentType = KindSymlink, ContentTypeSymlink
	case m.mode.IsDir():
		kind, contentType = KindDirectory, ContentTypeDirectory
	default:
		contentType = contentTypeByName(name)
	}

	parent := archivePath
	if dir := path.Dir(m.name); dir != "." {
		parent = MemberID(archivePath, dir)
	}

	it := item.New(id).
		Set(item.AttrPath, item.String(id)).
		Set(item.AttrName, item.String(name)).
		Set(item.AttrDisplayName, item.String(displayName(name, kind == KindDirectory))).
		Set(item.AttrKind, item.String(kind)).
		Set(item.AttrSize, item.Number(float64(m.size))).
		Set(item.AttrMode, item.String(m.mode.String())).
		Set(item.AttrModified, item.Date(m.modTime.UTC())).
		Set(item.AttrParent, item.String(parent)).
		Set(item.AttrArchive, item.String(archivePath))

	if ext := extension(name); ext != "" && kind != KindDirectory {
		it.Set(item.AttrExt, item.String(ext))
	}
	if contentType != "" {
		it.Set(item.AttrContentType, item.String(contentType))
	}

	tags := pathTags(root, archivePath)
	if dir := path.Dir(m.name); dir != "." {
		tags = append(tags, strings.Split(dir, "/")...)
	}
	if len(tags) > 0 {
		it.Set(item.AttrTags, item.Strings(tags...))
	}

	if h.opts.Volume != "" {
		it.Set(item.AttrVolume, item.String(h.opts.Volume))
		it.Set(item.AttrVolumePath, item.String(volumePath(root, archivePath)+MemberSeparator+m.name))
	}
	return it
}

// listMembers reads the member table of an archive. Duplicate names keep
// the last entry, matching what extraction would leave on disk.
func listMembers(archivePath string, format archiveFormat) ([]member, error) {
	var (
		members []member
		err     error
	)
	if format == formatZip {
		members, err = listZip(archivePath)
	} else {
		members, err = listTar(archivePath, format)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int, len(members))
	out := members[:0]
	for _, m := range members {
		if i, ok := seen[m.name]; ok {
			out[i] = m
			continue
		}
		seen[m.name] = len(out)
		out = append(out, m)
	}
	return out, nil
}

func listZip(archivePath string) ([]member, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	members := make([]member, 0, len(r.File))
	for _, f := range r.File {
		name, ok := memberName(f.Name)
		if !ok {
			continue
		}
		info := f.FileInfo()
		members = append(members, member{
			name:    name,
			mode:    info.Mode(),
			size:    int64(f.UncompressedSize64),
			modTime: f.Modified,
		})
	}
	return members, nil
}

func listTar(archivePath string, format archiveFormat) ([]member, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	switch format {
	case formatTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		src = gz
	case formatTarBzip2:
		src = bzip2.NewReader(f)
	}

	var members []member
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return members, nil
		}
		if err != nil {
			return nil, err
		}
		info := hdr.FileInfo()
		mode := info.Mode()
		if !mode.IsRegular() && !mode.IsDir() && mode&fs.ModeSymlink == 0 {
			// devices and fifos
			continue
		}
		name, ok := memberName(hdr.Name)
		if !ok {
			continue
		}
		members = append(members, member{
			name:    name,
			mode:    mode,
			size:    info.Size(),
			modTime: hdr.ModTime,
		})
	}
}

// memberName normalizes an archive entry name to a slash path relative to
// the archive. Names that climb out of the archive are clamped to it.
func memberName(raw string) (string, bool) {
	name := strings.ReplaceAll(raw, "\\", "/")
	name = strings.TrimLeft(path.Clean("/"+name), "/")
	return name, name != ""
}

// volumePath returns p relative to root as an absolute slash path, so the
// root itself is "/".
func volumePath(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
