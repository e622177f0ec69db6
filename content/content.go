// Package content provides the tagged data payload exchanged across the
// control framework: everywhere a JSON object, array or scalar crosses a
// boundary it travels as a Content.
//
// Information Hiding:
// - Backing byte buffer and parsed JSON tree hidden behind accessors
// - Serialization format details encapsulated
// - Kind-specific invariants enforced at construction
package content

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Kind identifies the payload variant carried by a Content.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindJSON
	KindBinary
	KindImage
	KindAudio
	KindVideo
)

// String returns the lowercase kind name used on the wire.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// KindFromString parses a wire kind name. Unrecognized names map to KindUnknown.
func KindFromString(s string) Kind {
	switch s {
	case "text":
		return KindText
	case "json":
		return KindJSON
	case "binary":
		return KindBinary
	case "image":
		return KindImage
	case "audio":
		return KindAudio
	case "video":
		return KindVideo
	default:
		return KindUnknown
	}
}

// Sentinel errors for construction and mutation failures.
var (
	ErrInvalidKind   = errors.New("content: operation not valid for this kind")
	ErrInvalidUTF8   = errors.New("content: buffer is not valid UTF-8")
	ErrMalformedJSON = errors.New("content: malformed JSON")
	ErrIndexRange    = errors.New("content: array index out of range")
)

// Content is an immutable-by-convention data payload. A JSON Content keeps a
// parsed value tree so field access and building do not reparse; the byte
// form is produced on demand. All other kinds hold raw bytes.
type Content struct {
	kind      Kind
	mediaType string
	raw       []byte // non-JSON kinds
	val       any    // JSON kinds: map[string]any, []any or scalar
}

// New creates a Content of the given kind from raw bytes.
// Text must be valid UTF-8; JSON must additionally parse.
func New(kind Kind, data []byte, mediaType string) (*Content, error) {
	switch kind {
	case KindJSON:
		c, err := NewJSON(data)
		if err != nil {
			return nil, err
		}
		if mediaType != "" {
			c.mediaType = mediaType
		}
		return c, nil
	case KindText:
		if !utf8.Valid(data) {
			return nil, ErrInvalidUTF8
		}
	}
	if mediaType == "" {
		mediaType = defaultMediaType(kind)
	}
	return &Content{kind: kind, mediaType: mediaType, raw: append([]byte(nil), data...)}, nil
}

// NewJSON parses data as JSON and returns a JSON-kind Content.
func NewJSON(data []byte) (*Content, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	// Trailing garbage after the first value is malformed.
	if dec.More() {
		return nil, ErrMalformedJSON
	}
	return &Content{kind: KindJSON, mediaType: "application/json", val: normalize(v)}, nil
}

// NewText creates a Text Content from a string.
func NewText(s string) *Content {
	return &Content{kind: KindText, mediaType: "text/plain", raw: []byte(s)}
}

// NewObject creates an empty JSON object Content.
func NewObject() *Content {
	return &Content{kind: KindJSON, mediaType: "application/json", val: map[string]any{}}
}

// NewArray creates an empty JSON array Content.
func NewArray() *Content {
	return &Content{kind: KindJSON, mediaType: "application/json", val: []any{}}
}

// FromValue wraps an already-decoded JSON value tree as a JSON Content.
// The caller must not mutate v afterwards.
func FromValue(v any) *Content {
	return &Content{kind: KindJSON, mediaType: "application/json", val: normalize(v)}
}

// Kind returns the payload variant.
func (c *Content) Kind() Kind { return c.kind }

// MediaType returns the media type string, e.g. "application/json".
func (c *Content) MediaType() string { return c.mediaType }

// Size returns the length in bytes of the serialized payload.
func (c *Content) Size() int { return len(c.Bytes()) }

// Bytes returns the byte form of the payload. For JSON kinds this is the
// canonical serialization of the value tree.
func (c *Content) Bytes() []byte {
	if c == nil {
		return nil
	}
	if c.kind == KindJSON {
		b, err := json.Marshal(c.val)
		if err != nil {
			return nil
		}
		return b
	}
	return c.raw
}

// Value returns the decoded JSON value tree, or nil for non-JSON kinds.
func (c *Content) Value() any {
	if c == nil || c.kind != KindJSON {
		return nil
	}
	return c.val
}

// IsObject reports whether the Content is a JSON object.
func (c *Content) IsObject() bool {
	if c == nil || c.kind != KindJSON {
		return false
	}
	_, ok := c.val.(map[string]any)
	return ok
}

// IsArray reports whether the Content is a JSON array.
func (c *Content) IsArray() bool {
	if c == nil || c.kind != KindJSON {
		return false
	}
	_, ok := c.val.([]any)
	return ok
}

// add inserts a value: objects store under key, arrays append (key ignored).
func (c *Content) add(key string, v any) error {
	if c == nil || c.kind != KindJSON {
		return ErrInvalidKind
	}
	switch t := c.val.(type) {
	case map[string]any:
		t[key] = v
	case []any:
		c.val = append(t, v)
	default:
		return ErrInvalidKind
	}
	return nil
}

// AddString adds a string field to an object, or appends to an array.
func (c *Content) AddString(key, value string) error { return c.add(key, value) }

// AddNumber adds a numeric field. Integral values are stored exactly up to 2^53.
func (c *Content) AddNumber(key string, value float64) error { return c.add(key, value) }

// AddBool adds a boolean field.
func (c *Content) AddBool(key string, value bool) error { return c.add(key, value) }

// AddNull adds an explicit JSON null.
func (c *Content) AddNull(key string) error { return c.add(key, nil) }

// AddObject adds a nested object or array Content.
func (c *Content) AddObject(key string, value *Content) error {
	if value == nil || value.kind != KindJSON {
		return ErrInvalidKind
	}
	return c.add(key, value.val)
}

// AddArray adds a nested array Content. Alias of AddObject kept for symmetry
// with the typed getters.
func (c *Content) AddArray(key string, value *Content) error {
	return c.AddObject(key, value)
}

// field fetches a raw field from a JSON object Content.
func (c *Content) field(key string) (any, bool) {
	if c == nil || c.kind != KindJSON {
		return nil, false
	}
	obj, ok := c.val.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}

// GetString returns the string field under key with a found flag.
func (c *Content) GetString(key string) (string, bool) {
	v, ok := c.field(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetNumber returns the numeric field under key with a found flag.
// Integer and floating JSON literals both qualify.
func (c *Content) GetNumber(key string) (float64, bool) {
	v, ok := c.field(key)
	if !ok {
		return 0, false
	}
	return asNumber(v)
}

// GetInt returns the field under key as an int64 when it is an exact integer.
func (c *Content) GetInt(key string) (int64, bool) {
	f, ok := c.GetNumber(key)
	if !ok || math.Trunc(f) != f || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// GetBool returns the boolean field under key with a found flag.
func (c *Content) GetBool(key string) (bool, bool) {
	v, ok := c.field(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// GetObject returns the object field under key wrapped as a Content.
func (c *Content) GetObject(key string) (*Content, bool) {
	v, ok := c.field(key)
	if !ok {
		return nil, false
	}
	if _, isObj := v.(map[string]any); !isObj {
		return nil, false
	}
	return FromValue(v), true
}

// GetArray returns the array field under key wrapped as a Content.
func (c *Content) GetArray(key string) (*Content, bool) {
	v, ok := c.field(key)
	if !ok {
		return nil, false
	}
	if _, isArr := v.([]any); !isArr {
		return nil, false
	}
	return FromValue(v), true
}

// Keys returns the field names of a JSON object Content.
func (c *Content) Keys() []string {
	if c == nil || c.kind != KindJSON {
		return nil
	}
	obj, ok := c.val.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the element count of a JSON array Content, or 0 and false
// for any other kind.
func (c *Content) Len() (int, bool) {
	if c == nil || c.kind != KindJSON {
		return 0, false
	}
	arr, ok := c.val.([]any)
	if !ok {
		return 0, false
	}
	return len(arr), true
}

// Index returns the array element at i wrapped as a Content.
func (c *Content) Index(i int) (*Content, error) {
	if c == nil || c.kind != KindJSON {
		return nil, ErrInvalidKind
	}
	arr, ok := c.val.([]any)
	if !ok {
		return nil, ErrInvalidKind
	}
	if i < 0 || i >= len(arr) {
		return nil, ErrIndexRange
	}
	return FromValue(arr[i]), nil
}

// Serialize returns the canonical byte form of the payload. Total over valid
// values; round-trips through Deserialize with the same kind and media type.
func (c *Content) Serialize() ([]byte, error) {
	if c == nil {
		return nil, ErrInvalidKind
	}
	if c.kind == KindJSON {
		b, err := json.Marshal(c.val)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		return b, nil
	}
	return append([]byte(nil), c.raw...), nil
}

// Deserialize reconstructs a Content from its serialized byte form.
func Deserialize(kind Kind, data []byte, mediaType string) (*Content, error) {
	return New(kind, data, mediaType)
}

// Clone returns a deep copy of the Content.
func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}
	out := &Content{kind: c.kind, mediaType: c.mediaType}
	if c.kind == KindJSON {
		out.val = deepCopy(c.val)
	} else {
		out.raw = append([]byte(nil), c.raw...)
	}
	return out
}

// MarshalJSON emits the raw JSON value for JSON kinds and a base64 envelope
// ({"kind", "media_type", "data"}) for every other kind.
func (c *Content) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	switch c.kind {
	case KindJSON:
		return json.Marshal(c.val)
	case KindText:
		return json.Marshal(string(c.raw))
	default:
		return json.Marshal(struct {
			Kind      string `json:"kind"`
			MediaType string `json:"media_type"`
			Data      string `json:"data"`
		}{
			Kind:      c.kind.String(),
			MediaType: c.mediaType,
			Data:      base64.StdEncoding.EncodeToString(c.raw),
		})
	}
}

// UnmarshalJSON decodes any JSON value into a JSON-kind Content.
func (c *Content) UnmarshalJSON(data []byte) error {
	parsed, err := NewJSON(data)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

func defaultMediaType(kind Kind) string {
	switch kind {
	case KindText:
		return "text/plain"
	case KindJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// normalize converts json.Number leaves to float64 so the value tree has a
// single numeric representation throughout the engine.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0.0
		}
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// FormatNumber renders a float the way JSON does: integral values without a
// trailing ".0", everything else in the shortest form that round-trips.
func FormatNumber(f float64) string {
	if math.Trunc(f) == f && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
