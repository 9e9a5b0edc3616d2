package format

import (
	"encoding/base64"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/metafind/internal/item"
)

// Default formatter settings.
const (
	DefaultDisplayAttribute = item.AttrPath
	DefaultItemTag          = "item"
)

// Formatter holds the presentation settings shared by every format.
// The zero value is usable and equivalent to NewFormatter().
type Formatter struct {
	// DisplayAttribute is the attribute shown by the text formats.
	// Falls back to the item ID when the item does not carry it.
	DisplayAttribute string

	// Bytes selects how byte attributes are rendered in XML.
	Bytes BytesPolicy

	// ItemTag is the element name used for each item in XML.
	ItemTag string
}

// NewFormatter returns a formatter with default settings.
func NewFormatter() *Formatter {
	return &Formatter{
		DisplayAttribute: DefaultDisplayAttribute,
		Bytes:            BytesBase64,
		ItemTag:          DefaultItemTag,
	}
}

// Record is one formatted item, ready for a sink.
// Text formats set Text; XML sets Element.
type Record struct {
	Format  Format
	Text    string
	Element *Element
}

// Element is a minimal XML tree for one item.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Children []*Element
}

// Encode writes the element and its children as tokens.
func (e *Element) Encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: e.Name}, Attr: e.Attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Text != "" {
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
	}
	for _, child := range e.Children {
		if err := child.Encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Format converts an item into a record for the given format.
// It never fails: missing attributes fall back to the item ID.
func (f *Formatter) Format(it *item.Item, fm Format) Record {
	switch fm {
	case XML:
		return Record{Format: fm, Element: f.element(it)}
	case NullDelimited:
		return Record{Format: fm, Text: strings.ReplaceAll(f.display(it), "\x00", "")}
	default:
		return Record{Format: PlainText, Text: escapeLine(f.display(it))}
	}
}

// display returns the unescaped display text of an item.
func (f *Formatter) display(it *item.Item) string {
	attr := f.DisplayAttribute
	if attr == "" {
		attr = DefaultDisplayAttribute
	}
	if v, ok := it.Get(attr); ok {
		if text := f.joined(v); text != "" {
			return text
		}
	}
	return it.ID
}

// joined renders a value as a single string.
func (f *Formatter) joined(v item.Value) string {
	if v.Kind == item.KindStrings {
		return strings.Join(v.Strs, ", ")
	}
	text, _ := f.scalar(v)
	return text
}

// scalar renders a non-sequence value. ok is false when the value is omitted.
func (f *Formatter) scalar(v item.Value) (text string, ok bool) {
	switch v.Kind {
	case item.KindString:
		return v.Str, true
	case item.KindNumber:
		return FormatNumber(v.Num), true
	case item.KindDate:
		return FormatDate(v.Date), true
	case item.KindBytes:
		if f.Bytes == BytesOmit {
			return "", false
		}
		return base64.StdEncoding.EncodeToString(v.Bytes), true
	default:
		return "", false
	}
}

func (f *Formatter) element(it *item.Item) *Element {
	tag := f.ItemTag
	if tag == "" {
		tag = DefaultItemTag
	}
	el := &Element{Name: EncodeName(tag)}
	if it == nil {
		return el
	}
	el.Attrs = []xml.Attr{{Name: xml.Name{Local: "id"}, Value: it.ID}}

	for _, name := range it.Names() {
		v := it.Attrs[name]
		child := EncodeName(name)
		if v.Kind == item.KindStrings {
			for _, s := range v.Strs {
				el.Children = append(el.Children, &Element{Name: child, Text: s})
			}
			continue
		}
		if text, ok := f.scalar(v); ok {
			el.Children = append(el.Children, &Element{Name: child, Text: text})
		}
	}
	return el
}

// FormatNumber renders a number in its shortest round-trip form.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// FormatDate renders a date as RFC 3339 in UTC at second precision.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

var (
	lineEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	lineUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

// escapeLine keeps a display value on a single line.
func escapeLine(s string) string {
	return lineEscaper.Replace(s)
}

// UnescapeLine reverses the escaping applied to plain text records.
func UnescapeLine(s string) string {
	return lineUnescaper.Replace(s)
}
