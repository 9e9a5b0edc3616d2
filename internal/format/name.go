package format

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// emptyName is the encoding of the empty attribute name. Every literal "_x"
// is escaped by EncodeName, so it cannot be produced by any other input.
const emptyName = "_x_"

// EncodeName turns an arbitrary attribute name into a valid XML element name.
//
// Characters that are not allowed in a tag become _xHHHH_ (upper-case hex code
// point). An underscore followed by 'x' is escaped as _x005F_ so that every
// "_x" in the output starts an escape, which keeps DecodeName exact.
// Colons are escaped as well so tags never carry a namespace prefix.
func EncodeName(name string) string {
	if name == "" {
		return emptyName
	}

	var sb strings.Builder
	sb.Grow(len(name))
	first := true
	for i, r := range name {
		switch {
		case r == utf8.RuneError && !validAt(name, i):
			writeEscape(&sb, r)
		case r == '_' && strings.HasPrefix(name[i+1:], "x"):
			writeEscape(&sb, r)
		case first && isNameStart(r):
			sb.WriteRune(r)
		case !first && isNameChar(r):
			sb.WriteRune(r)
		default:
			writeEscape(&sb, r)
		}
		first = false
	}
	return sb.String()
}

// DecodeName reverses EncodeName. Malformed escapes are kept literally.
func DecodeName(encoded string) string {
	if encoded == emptyName {
		return ""
	}

	var sb strings.Builder
	for i := 0; i < len(encoded); {
		if strings.HasPrefix(encoded[i:], "_x") {
			end := strings.IndexByte(encoded[i+2:], '_')
			if end > 0 {
				hex := encoded[i+2 : i+2+end]
				if cp, err := strconv.ParseUint(hex, 16, 32); err == nil && len(hex) >= 4 {
					sb.WriteRune(rune(cp))
					i += 2 + end + 1
					continue
				}
			}
		}
		sb.WriteByte(encoded[i])
		i++
	}
	return sb.String()
}

func writeEscape(sb *strings.Builder, r rune) {
	fmt.Fprintf(sb, "_x%04X_", r)
}

// validAt reports whether the rune at byte offset i decodes cleanly.
func validAt(s string, i int) bool {
	r, size := utf8.DecodeRuneInString(s[i:])
	return !(r == utf8.RuneError && size <= 1)
}

func isNameStart(r rune) bool {
	return r != ':' && unicode.Is(nameStartTable, r)
}

func isNameChar(r rune) bool {
	return isNameStart(r) || unicode.Is(nameCharTable, r)
}
