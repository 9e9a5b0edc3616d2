package harvest

import (
	"path"
	"path/filepath"
	"strings"
)

// pattern is one compiled exclude rule.
type pattern struct {
	raw      string
	segments []string
	anchored bool // matched against the absolute path
	nameOnly bool // matched against the entry name
	dirOnly  bool
}

// Matcher decides whether a path is excluded.
type Matcher struct {
	patterns      []pattern
	includeHidden bool
}

// NewMatcher compiles exclude patterns. Empty patterns are ignored.
func NewMatcher(patterns []string, includeHidden bool) *Matcher {
	m := &Matcher{includeHidden: includeHidden}
	for _, raw := range patterns {
		p := strings.TrimSpace(filepath.ToSlash(raw))
		if p == "" {
			continue
		}
		c := pattern{raw: raw}
		if strings.HasSuffix(p, "/") {
			c.dirOnly = true
			p = strings.TrimRight(p, "/")
		}
		if strings.HasPrefix(p, "/") {
			c.anchored = true
			p = strings.TrimLeft(p, "/")
		}
		if p == "" {
			continue
		}
		if !c.anchored && !strings.Contains(p, "/") {
			c.nameOnly = true
		}
		c.segments = strings.Split(p, "/")
		m.patterns = append(m.patterns, c)
	}
	return m
}

// Match reports whether the entry at abs, which is rel below its root, is
// excluded. rel uses the OS separator; "" or "." denotes the root itself,
// which is never excluded.
func (m *Matcher) Match(abs, rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	name := path.Base(rel)

	if !m.includeHidden && isHidden(name) {
		return true
	}

	relSegs := strings.Split(rel, "/")
	absSegs := strings.Split(strings.TrimLeft(filepath.ToSlash(abs), "/"), "/")

	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		switch {
		case p.nameOnly:
			if ok, _ := path.Match(p.segments[0], name); ok {
				return true
			}
		case p.anchored:
			if matchSegments(p.segments, absSegs) {
				return true
			}
		default:
			if matchSegments(p.segments, relSegs) {
				return true
			}
		}
	}
	return false
}

// matchSegments matches path segments against pattern segments, where a
// "**" segment matches zero or more path segments.
func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], segs[0]); !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}

func isHidden(name string) bool {
	return len(name) > 1 && name[0] == '.' && name != ".."
}
