// Package item defines the result record exchanged between the storage
// backends, the search engine and the output formatter.
//
// An Item has no fixed schema: it is a stable identifier plus an open set of
// typed attributes. Attribute sets vary per item and per domain.
package item

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Well-known attribute names produced by the harvester.
const (
	AttrPath        = "path"
	AttrName        = "name"
	AttrDisplayName = "display_name"
	AttrExt         = "ext"
	AttrKind        = "kind"
	AttrSize        = "size"
	AttrMode        = "mode"
	AttrModified    = "modified"
	AttrContentType = "content_type"
	AttrParent      = "parent"
	AttrTags        = "tags"
	AttrDigest      = "digest"
	AttrArchive     = "archive"
	AttrVolume      = "volume"
	AttrVolumePath  = "volume_path"
)

// Kind identifies which field of a Value is populated.
type Kind int

const (
	// KindString is a single string value.
	KindString Kind = iota
	// KindNumber is a float64 value.
	KindNumber
	// KindDate is a point in time.
	KindDate
	// KindStrings is an ordered sequence of strings.
	KindStrings
	// KindBytes is a raw byte sequence.
	KindBytes
)

// String returns the lower-case name used in the JSON encoding.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindStrings:
		return "strings"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "date":
		return KindDate, nil
	case "strings":
		return KindStrings, nil
	case "bytes":
		return KindBytes, nil
	default:
		return 0, fmt.Errorf("unknown value kind %q", s)
	}
}

// Value is one attribute value. Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Str   string
	Num   float64
	Date  time.Time
	Strs  []string
	Bytes []byte
}

// String creates a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number creates a numeric value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Date creates a date value.
func Date(t time.Time) Value { return Value{Kind: KindDate, Date: t} }

// Strings creates a string-sequence value.
func Strings(s ...string) Value { return Value{Kind: KindStrings, Strs: s} }

// Bytes creates a raw byte value.
func Bytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// IsZero reports whether the value carries no data for its kind.
func (v Value) IsZero() bool {
	switch v.Kind {
	case KindString:
		return v.Str == ""
	case KindNumber:
		return false
	case KindDate:
		return v.Date.IsZero()
	case KindStrings:
		return len(v.Strs) == 0
	case KindBytes:
		return len(v.Bytes) == 0
	default:
		return true
	}
}

// Interface returns the Go value suitable for document indexing:
// string, float64, time.Time, []string, or []byte.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindDate:
		return v.Date
	case KindStrings:
		return v.Strs
	case KindBytes:
		return v.Bytes
	default:
		return nil
	}
}

// jsonValue is the wire form of a Value.
// encoding/json renders []byte as base64 and time.Time as RFC 3339.
type jsonValue struct {
	Kind  string     `json:"kind"`
	Str   string     `json:"string,omitempty"`
	Num   *float64   `json:"number,omitempty"`
	Date  *time.Time `json:"date,omitempty"`
	Strs  []string   `json:"strings,omitempty"`
	Bytes []byte     `json:"bytes,omitempty"`
}

// MarshalJSON implements json.Marshaler, preserving the kind.
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Kind: v.Kind.String()}
	switch v.Kind {
	case KindString:
		jv.Str = v.Str
	case KindNumber:
		n := v.Num
		jv.Num = &n
	case KindDate:
		d := v.Date
		jv.Date = &d
	case KindStrings:
		jv.Strs = v.Strs
	case KindBytes:
		jv.Bytes = v.Bytes
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %d", v.Kind)
	}
	return json.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	kind, err := ParseKind(jv.Kind)
	if err != nil {
		return err
	}
	*v = Value{Kind: kind}
	switch kind {
	case KindString:
		v.Str = jv.Str
	case KindNumber:
		if jv.Num != nil {
			v.Num = *jv.Num
		}
	case KindDate:
		if jv.Date != nil {
			v.Date = *jv.Date
		}
	case KindStrings:
		v.Strs = jv.Strs
	case KindBytes:
		v.Bytes = jv.Bytes
	}
	return nil
}

// Item is one matched entity.
type Item struct {
	// ID is the stable identifier of the item (the path for harvested files).
	ID string `json:"id"`

	// Attrs maps attribute names to values. May be nil.
	Attrs map[string]Value `json:"attrs,omitempty"`
}

// New creates an empty item with the given identifier.
func New(id string) *Item {
	return &Item{ID: id, Attrs: make(map[string]Value)}
}

// Set stores an attribute value and returns the item for chaining.
func (it *Item) Set(name string, v Value) *Item {
	if it.Attrs == nil {
		it.Attrs = make(map[string]Value)
	}
	it.Attrs[name] = v
	return it
}

// Get returns the named attribute. Safe on a nil item.
func (it *Item) Get(name string) (Value, bool) {
	if it == nil || it.Attrs == nil {
		return Value{}, false
	}
	v, ok := it.Attrs[name]
	return v, ok
}

// GetString returns a string attribute, or "" when absent or of another kind.
func (it *Item) GetString(name string) string {
	v, ok := it.Get(name)
	if !ok || v.Kind != KindString {
		return ""
	}
	return v.Str
}

// Names returns attribute names in sorted order.
func (it *Item) Names() []string {
	if it == nil {
		return nil
	}
	names := make([]string, 0, len(it.Attrs))
	for name := range it.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of attributes.
func (it *Item) Len() int {
	if it == nil {
		return 0
	}
	return len(it.Attrs)
}

// Encode serializes the item to JSON, kinds included.
func Encode(it *Item) ([]byte, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("encode item %s: %w", it.ID, err)
	}
	return data, nil
}

// Decode parses an item produced by Encode.
func Decode(data []byte) (*Item, error) {
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &it, nil
}

// IDs returns the identifiers of the given items, in order.
func IDs(items []*Item) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it != nil {
			ids = append(ids, it.ID)
		}
	}
	return ids
}
