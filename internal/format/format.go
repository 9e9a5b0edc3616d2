// Package format converts result items into one of the output encodings
// supported by metafind: plain text lines, an XML document fragment, or
// NUL-delimited records.
package format

import (
	"fmt"
	"strings"
)

// Format is the output encoding selected once before a search run.
type Format int

const (
	// PlainText emits one human-readable line per item.
	PlainText Format = iota
	// XML emits one element per item inside a <results> root.
	XML
	// NullDelimited emits the display text of each item followed by a NUL byte.
	NullDelimited
)

// String returns the canonical flag value for the format.
func (f Format) String() string {
	switch f {
	case PlainText:
		return "text"
	case XML:
		return "xml"
	case NullDelimited:
		return "null"
	default:
		return "unknown"
	}
}

// Separator returns the byte written after each record, or 0 with ok=false
// for formats that have no record separator.
func (f Format) Separator() (sep byte, ok bool) {
	switch f {
	case PlainText:
		return '\n', true
	case NullDelimited:
		return 0, true
	default:
		return 0, false
	}
}

// Valid reports whether f is one of the known formats.
func (f Format) Valid() bool {
	return f == PlainText || f == XML || f == NullDelimited
}

// Parse converts a user-supplied format name to a Format.
func Parse(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "plain":
		return PlainText, nil
	case "xml":
		return XML, nil
	case "null", "nul", "0":
		return NullDelimited, nil
	default:
		return PlainText, fmt.Errorf("unknown output format %q (valid: text, xml, null)", s)
	}
}

// BytesPolicy controls how byte-sequence attributes are rendered.
type BytesPolicy int

const (
	// BytesBase64 renders bytes with standard base64 encoding.
	BytesBase64 BytesPolicy = iota
	// BytesOmit drops byte attributes from the output.
	BytesOmit
)

// String returns the config value for the policy.
func (p BytesPolicy) String() string {
	if p == BytesOmit {
		return "omit"
	}
	return "base64"
}

// ParseBytesPolicy converts "base64" or "omit" to a BytesPolicy.
func ParseBytesPolicy(s string) (BytesPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "base64":
		return BytesBase64, nil
	case "omit":
		return BytesOmit, nil
	default:
		return BytesBase64, fmt.Errorf("unknown bytes policy %q (valid: base64, omit)", s)
	}
}
