package composite

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Composite is an ordered sequence of segments forming one module's output.
// The zero value is an empty composite ready to use.
type Composite struct {
	segments []Segment
}

// New builds a composite from the given items. See Append for the accepted
// item types.
func New(items ...any) *Composite {
	c := &Composite{}
	for _, it := range items {
		c.Append(it)
	}
	return c
}

// FromText builds a single-segment composite.
func FromText(s string) *Composite {
	return &Composite{segments: []Segment{Text(s)}}
}

// Append adds an item to the end of the composite. Accepted items are
// Segment, []Segment, string, *Composite and Composite. Other values are
// formatted with fmt and appended as text. Composites are copied, never
// shared.
func (c *Composite) Append(item any) {
	switch v := item.(type) {
	case nil:
	case Segment:
		c.segments = append(c.segments, v.Clone())
	case []Segment:
		for _, s := range v {
			c.segments = append(c.segments, s.Clone())
		}
	case string:
		c.segments = append(c.segments, Text(v))
	case *Composite:
		if v == nil {
			return
		}
		for _, s := range v.segments {
			c.segments = append(c.segments, s.Clone())
		}
	case Composite:
		for _, s := range v.segments {
			c.segments = append(c.segments, s.Clone())
		}
	default:
		c.segments = append(c.segments, Text(fmt.Sprint(v)))
	}
}

// Len returns the number of segments.
func (c *Composite) Len() int {
	if c == nil {
		return 0
	}
	return len(c.segments)
}

// Empty reports whether the composite renders as the empty string.
func (c *Composite) Empty() bool {
	return c.Text() == ""
}

// Segments returns a copy of the segments.
func (c *Composite) Segments() []Segment {
	if c == nil {
		return nil
	}
	out := make([]Segment, len(c.segments))
	for i, s := range c.segments {
		out[i] = s.Clone()
	}
	return out
}

// At returns a copy of segment i.
func (c *Composite) At(i int) Segment {
	return c.segments[i].Clone()
}

// Copy returns a deep copy.
func (c *Composite) Copy() *Composite {
	if c == nil {
		return &Composite{}
	}
	return &Composite{segments: c.Segments()}
}

// Text returns the concatenation of every segment's full_text.
func (c *Composite) Text() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range c.segments {
		b.WriteString(s.FullText)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (c *Composite) String() string { return c.Text() }

// Equal reports whether two composites have identical segments.
func (c *Composite) Equal(other *Composite) bool {
	if c.Len() != other.Len() {
		return false
	}
	for i := range c.Len() {
		if !Equal(c.segments[i], other.segments[i]) {
			return false
		}
	}
	return true
}

// Update applies attrs to every segment. With soft set, only segments that
// lack the attribute are changed.
func (c *Composite) Update(attrs map[string]any, soft bool) error {
	if c == nil {
		return nil
	}
	for i := range c.segments {
		for k, v := range attrs {
			if soft && c.segments[i].Has(k) && k != KeyFullText {
				continue
			}
			if err := c.segments[i].Set(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Simplify normalizes the composite in place: segments with empty full_text
// and no explicit separator are dropped, neighbors with identical style are
// merged, and colors equal to "none" are removed. Simplify is idempotent.
func (c *Composite) Simplify() {
	if c == nil {
		return
	}
	out := make([]Segment, 0, len(c.segments))
	for _, s := range c.segments {
		if s.Color == ColorNone {
			s.Unset(KeyColor)
		}
		if s.FullText == "" && s.Separator == nil {
			continue
		}
		if n := len(out); n > 0 && mergeable(out[n-1], s) {
			out[n-1].FullText += s.FullText
			continue
		}
		out = append(out, s)
	}
	c.segments = out
}

// mergeable reports whether b can be folded into a. Segments carrying a
// short_text or an explicit separator keep their own block.
func mergeable(a, b Segment) bool {
	if a.ShortText != "" || b.ShortText != "" {
		return false
	}
	if b.Separator != nil && b.FullText == "" {
		return false
	}
	return SameStyle(a, b)
}

// Join concatenates items, inserting separator between consecutive non-empty
// items. Items accept the same types as Append.
func Join(separator any, items ...any) *Composite {
	out := &Composite{}
	first := true
	for _, it := range items {
		part := New(it)
		if part.Empty() {
			continue
		}
		if !first {
			out.Append(separator)
		}
		out.Append(part)
		first = false
	}
	return out
}

// MarshalJSON encodes the composite as a JSON array of segments.
func (c *Composite) MarshalJSON() ([]byte, error) {
	if c == nil || c.segments == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.segments)
}

// UnmarshalJSON decodes a JSON array of segments.
func (c *Composite) UnmarshalJSON(data []byte) error {
	var segs []Segment
	if err := json.Unmarshal(data, &segs); err != nil {
		return err
	}
	c.segments = segs
	return nil
}
