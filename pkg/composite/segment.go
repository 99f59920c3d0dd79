// Package composite defines the styled text segments a status bar displays
// and the Composite container that module outputs are built from.
//
// A Segment is one i3bar block. Segments remember the key order they were
// decoded with so that upstream frames survive a decode/encode round trip
// byte for byte (modulo whitespace). Unknown keys are carried through
// verbatim.
package composite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ColorNone is the sentinel color value meaning "no color". Simplify removes
// it so the bar falls back to its default foreground.
const ColorNone = "none"

// Well-known segment keys, in canonical encoding order.
const (
	KeyFullText            = "full_text"
	KeyShortText           = "short_text"
	KeyColor               = "color"
	KeyBackground          = "background"
	KeyBorder              = "border"
	KeyMinWidth            = "min_width"
	KeyAlign               = "align"
	KeyUrgent              = "urgent"
	KeyName                = "name"
	KeyInstance            = "instance"
	KeySeparator           = "separator"
	KeySeparatorBlockWidth = "separator_block_width"
	KeyMarkup              = "markup"
)

var canonicalKeys = []string{
	KeyFullText, KeyShortText, KeyColor, KeyBackground, KeyBorder,
	KeyMinWidth, KeyAlign, KeyUrgent, KeyName, KeyInstance,
	KeySeparator, KeySeparatorBlockWidth, KeyMarkup,
}

// Attr is a passthrough attribute the core does not interpret.
type Attr struct {
	Key   string
	Value json.RawMessage
}

// Segment is one styled block of text.
//
// Optional booleans and integers are pointers so that "unset" and the zero
// value stay distinguishable; the bar applies its own defaults to unset keys.
type Segment struct {
	FullText            string
	ShortText           string
	Color               string
	Background          string
	Border              string
	MinWidth            any // int or string, per the i3bar protocol
	Align               string
	Urgent              bool
	Name                string
	Instance            string
	Separator           *bool
	SeparatorBlockWidth *int
	Markup              string

	// Extra holds passthrough keys in the order they were first seen.
	Extra []Attr

	order []string
	// verbatim holds well-known keys whose decoded value had the wrong JSON
	// type (null included). They are re-encoded exactly as received.
	verbatim []Attr
}

// Text returns a segment holding only full_text.
func Text(s string) Segment {
	return Segment{FullText: s}
}

// Bool returns a pointer to b, for Separator.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n, for SeparatorBlockWidth.
func Int(n int) *int { return &n }

// ExtraValue returns the raw value of a passthrough key.
func (s Segment) ExtraValue(key string) (json.RawMessage, bool) {
	for _, a := range s.Extra {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// SetExtra sets a passthrough key, replacing any existing value.
func (s *Segment) SetExtra(key string, value json.RawMessage) {
	for i, a := range s.Extra {
		if a.Key == key {
			s.Extra[i].Value = value
			return
		}
	}
	s.Extra = append(s.Extra, Attr{Key: key, Value: value})
}

// Has reports whether the style key is set on the segment. Keys that were
// present in decoded input count as set even when their value is zero.
func (s Segment) Has(key string) bool {
	for _, k := range s.order {
		if k == key {
			return true
		}
	}
	switch key {
	case KeyFullText:
		return true
	case KeyShortText:
		return s.ShortText != ""
	case KeyColor:
		return s.Color != ""
	case KeyBackground:
		return s.Background != ""
	case KeyBorder:
		return s.Border != ""
	case KeyMinWidth:
		return s.MinWidth != nil
	case KeyAlign:
		return s.Align != ""
	case KeyUrgent:
		return s.Urgent
	case KeyName:
		return s.Name != ""
	case KeyInstance:
		return s.Instance != ""
	case KeySeparator:
		return s.Separator != nil
	case KeySeparatorBlockWidth:
		return s.SeparatorBlockWidth != nil
	case KeyMarkup:
		return s.Markup != ""
	}
	_, ok := s.ExtraValue(key)
	return ok
}

// Set assigns a style attribute by key. Values are coerced to the field's
// type; unknown keys become passthrough attributes.
func (s *Segment) Set(key string, value any) error {
	s.dropVerbatim(key)
	switch key {
	case KeyFullText:
		s.FullText = toString(value)
	case KeyShortText:
		s.ShortText = toString(value)
	case KeyColor:
		s.Color = toString(value)
	case KeyBackground:
		s.Background = toString(value)
	case KeyBorder:
		s.Border = toString(value)
	case KeyMinWidth:
		switch v := value.(type) {
		case int, string:
			s.MinWidth = v
		case int64:
			s.MinWidth = int(v)
		case float64:
			s.MinWidth = int(v)
		default:
			return fmt.Errorf("min_width: unsupported type %T", value)
		}
	case KeyAlign:
		s.Align = toString(value)
	case KeyUrgent:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("urgent: want bool, got %T", value)
		}
		s.Urgent = b
	case KeyName:
		s.Name = toString(value)
	case KeyInstance:
		s.Instance = toString(value)
	case KeySeparator:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("separator: want bool, got %T", value)
		}
		s.Separator = Bool(b)
	case KeySeparatorBlockWidth:
		n, ok := toInt(value)
		if !ok {
			return fmt.Errorf("separator_block_width: want int, got %T", value)
		}
		s.SeparatorBlockWidth = Int(n)
	case KeyMarkup:
		s.Markup = toString(value)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.SetExtra(key, raw)
	}
	return nil
}

// Unset clears a style attribute.
func (s *Segment) Unset(key string) {
	s.dropVerbatim(key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	switch key {
	case KeyFullText:
		s.FullText = ""
	case KeyShortText:
		s.ShortText = ""
	case KeyColor:
		s.Color = ""
	case KeyBackground:
		s.Background = ""
	case KeyBorder:
		s.Border = ""
	case KeyMinWidth:
		s.MinWidth = nil
	case KeyAlign:
		s.Align = ""
	case KeyUrgent:
		s.Urgent = false
	case KeyName:
		s.Name = ""
	case KeyInstance:
		s.Instance = ""
	case KeySeparator:
		s.Separator = nil
	case KeySeparatorBlockWidth:
		s.SeparatorBlockWidth = nil
	case KeyMarkup:
		s.Markup = ""
	default:
		for i, a := range s.Extra {
			if a.Key == key {
				s.Extra = append(s.Extra[:i:i], s.Extra[i+1:]...)
				break
			}
		}
	}
}

// Clone returns a deep copy of the segment.
func (s Segment) Clone() Segment {
	c := s
	if s.Separator != nil {
		c.Separator = Bool(*s.Separator)
	}
	if s.SeparatorBlockWidth != nil {
		c.SeparatorBlockWidth = Int(*s.SeparatorBlockWidth)
	}
	if s.Extra != nil {
		c.Extra = make([]Attr, len(s.Extra))
		for i, a := range s.Extra {
			c.Extra[i] = Attr{Key: a.Key, Value: append(json.RawMessage(nil), a.Value...)}
		}
	}
	if s.order != nil {
		c.order = append([]string(nil), s.order...)
	}
	if s.verbatim != nil {
		c.verbatim = make([]Attr, len(s.verbatim))
		for i, a := range s.verbatim {
			c.verbatim[i] = Attr{Key: a.Key, Value: append(json.RawMessage(nil), a.Value...)}
		}
	}
	return c
}

func (s Segment) verbatimValue(key string) (json.RawMessage, bool) {
	for _, a := range s.verbatim {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

func (s *Segment) dropVerbatim(key string) {
	for i, a := range s.verbatim {
		if a.Key == key {
			s.verbatim = append(s.verbatim[:i:i], s.verbatim[i+1:]...)
			return
		}
	}
}

// SameStyle reports whether two segments carry identical style attributes,
// i.e. everything except full_text and short_text.
func SameStyle(a, b Segment) bool {
	if a.Color != b.Color || a.Background != b.Background || a.Border != b.Border ||
		a.Align != b.Align || a.Urgent != b.Urgent || a.Name != b.Name ||
		a.Instance != b.Instance || a.Markup != b.Markup {
		return false
	}
	if fmt.Sprint(a.MinWidth) != fmt.Sprint(b.MinWidth) {
		return false
	}
	if !eqBoolPtr(a.Separator, b.Separator) || !eqIntPtr(a.SeparatorBlockWidth, b.SeparatorBlockWidth) {
		return false
	}
	if len(a.Extra) != len(b.Extra) {
		return false
	}
	for _, attr := range a.Extra {
		other, ok := b.ExtraValue(attr.Key)
		if !ok || string(other) != string(attr.Value) {
			return false
		}
	}
	if len(a.verbatim) != len(b.verbatim) {
		return false
	}
	for _, attr := range a.verbatim {
		other, ok := b.verbatimValue(attr.Key)
		if !ok || string(other) != string(attr.Value) {
			return false
		}
	}
	return true
}

// Equal reports whether two segments are identical, text included.
func Equal(a, b Segment) bool {
	return a.FullText == b.FullText && a.ShortText == b.ShortText && SameStyle(a, b)
}

// MarshalJSON encodes the segment, keeping decoded key order first.
func (s Segment) MarshalJSON() ([]byte, error) {
	out := []byte("{}")
	written := make(map[string]bool, len(canonicalKeys)+len(s.Extra))

	var err error
	emit := func(key string) {
		if err != nil || written[key] || !s.Has(key) {
			return
		}
		written[key] = true
		var raw []byte
		raw, err = s.rawValue(key)
		if err != nil {
			return
		}
		out, err = sjson.SetRawBytes(out, escapePath(key), raw)
	}

	for _, key := range s.order {
		emit(key)
	}
	for _, key := range canonicalKeys {
		emit(key)
	}
	for _, a := range s.Extra {
		emit(a.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("encode segment: %w", err)
	}
	return out, nil
}

// UnmarshalJSON decodes a segment object, recording key order.
func (s *Segment) UnmarshalJSON(data []byte) error {
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return fmt.Errorf("segment: expected JSON object")
	}

	*s = Segment{}
	var ferr error
	res.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		s.order = append(s.order, key)
		if err := s.setFromJSON(key, v); err != nil {
			ferr = err
			return false
		}
		return true
	})
	return ferr
}

// jsonTypes lists the JSON types accepted for each well-known key.
// full_text is always coerced to a string so the block stays visible.
var jsonTypes = map[string][]gjson.Type{
	KeyShortText:           {gjson.String},
	KeyColor:               {gjson.String},
	KeyBackground:          {gjson.String},
	KeyBorder:              {gjson.String},
	KeyMinWidth:            {gjson.String, gjson.Number},
	KeyAlign:               {gjson.String},
	KeyUrgent:              {gjson.True, gjson.False},
	KeyName:                {gjson.String},
	KeyInstance:            {gjson.String},
	KeySeparator:           {gjson.True, gjson.False},
	KeySeparatorBlockWidth: {gjson.Number},
	KeyMarkup:              {gjson.String},
}

func (s *Segment) setFromJSON(key string, v gjson.Result) error {
	if types, known := jsonTypes[key]; known {
		ok := false
		for _, t := range types {
			if v.Type == t {
				ok = true
			}
		}
		if !ok {
			s.verbatim = append(s.verbatim, Attr{Key: key, Value: json.RawMessage(v.Raw)})
			return nil
		}
	}
	switch key {
	case KeyFullText:
		s.FullText = v.String()
	case KeyShortText:
		s.ShortText = v.String()
	case KeyColor:
		s.Color = v.String()
	case KeyBackground:
		s.Background = v.String()
	case KeyBorder:
		s.Border = v.String()
	case KeyMinWidth:
		if v.Type == gjson.Number {
			s.MinWidth = int(v.Int())
		} else {
			s.MinWidth = v.String()
		}
	case KeyAlign:
		s.Align = v.String()
	case KeyUrgent:
		s.Urgent = v.Bool()
	case KeyName:
		s.Name = v.String()
	case KeyInstance:
		s.Instance = v.String()
	case KeySeparator:
		s.Separator = Bool(v.Bool())
	case KeySeparatorBlockWidth:
		s.SeparatorBlockWidth = Int(int(v.Int()))
	case KeyMarkup:
		s.Markup = v.String()
	default:
		s.Extra = append(s.Extra, Attr{Key: key, Value: json.RawMessage(v.Raw)})
	}
	return nil
}

func (s Segment) rawValue(key string) ([]byte, error) {
	if raw, ok := s.verbatimValue(key); ok {
		return raw, nil
	}
	switch key {
	case KeyFullText:
		return encodeValue(s.FullText)
	case KeyShortText:
		return encodeValue(s.ShortText)
	case KeyColor:
		return encodeValue(s.Color)
	case KeyBackground:
		return encodeValue(s.Background)
	case KeyBorder:
		return encodeValue(s.Border)
	case KeyMinWidth:
		return encodeValue(s.MinWidth)
	case KeyAlign:
		return encodeValue(s.Align)
	case KeyUrgent:
		return encodeValue(s.Urgent)
	case KeyName:
		return encodeValue(s.Name)
	case KeyInstance:
		return encodeValue(s.Instance)
	case KeySeparator:
		if s.Separator == nil {
			return encodeValue(true)
		}
		return encodeValue(*s.Separator)
	case KeySeparatorBlockWidth:
		if s.SeparatorBlockWidth == nil {
			return encodeValue(9)
		}
		return encodeValue(*s.SeparatorBlockWidth)
	case KeyMarkup:
		return encodeValue(s.Markup)
	}
	raw, ok := s.ExtraValue(key)
	if !ok {
		return []byte("null"), nil
	}
	return raw, nil
}

// encodeValue marshals v without HTML escaping, so pango markup stays readable.
func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// escapePath escapes sjson path metacharacters so key is taken literally.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func eqBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	}
	return 0, false
}
