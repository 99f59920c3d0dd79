package formatter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindComposite
	KindFunc
)

// Value is the tagged variant placeholders resolve to.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	c    *composite.Composite
	fn   func() any
}

// Nil returns the empty value.
func Nil() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps an integer.
func Int(n int64) Value { return Value{kind: KindInt, i: n} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Composite wraps a pre-built composite.
func Composite(c *composite.Composite) Value {
	if c == nil {
		return Value{}
	}
	return Value{kind: KindComposite, c: c}
}

// Func wraps a zero-argument callable evaluated lazily when the placeholder
// is rendered. Its result is converted with ValueOf.
func Func(fn func() any) Value { return Value{kind: KindFunc, fn: fn} }

// ValueOf converts a Go value to a Value.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Nil()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case *composite.Composite:
		return Composite(t)
	case composite.Composite:
		return Composite(&t)
	case composite.Segment:
		return Composite(composite.New(t))
	case []composite.Segment:
		return Composite(composite.New(t))
	case func() any:
		return Func(t)
	case func() string:
		return Func(func() any { return t() })
	case fmt.Stringer:
		return String(t.String())
	}
	return String(fmt.Sprint(v))
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// resolve evaluates callables. Nested callables are evaluated once.
func (v Value) resolve() Value {
	if v.kind != KindFunc {
		return v
	}
	r := ValueOf(v.fn())
	if r.kind == KindFunc {
		return Nil()
	}
	return r
}

// Text renders the value with no format spec.
func (v Value) Text() string {
	v = v.resolve()
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return floatText(v.f)
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindComposite:
		return v.c.Text()
	}
	return ""
}

// empty reports whether the value makes its placeholder count as unresolved:
// nil, false, "" and composites without text.
func (v Value) empty() bool {
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return !v.b
	case KindString:
		return v.s == ""
	case KindComposite:
		return v.c.Empty()
	}
	return false
}

// zero reports whether the value counts as zero for not_zero.
func (v Value) zero() bool {
	switch v.kind {
	case KindNil:
		return true
	case KindInt:
		return v.i == 0
	case KindFloat:
		return v.f == 0
	case KindBool:
		return !v.b
	case KindString:
		if v.s == "" {
			return true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return err == nil && f == 0
	case KindComposite:
		if v.c.Empty() {
			return true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v.c.Text()), 64)
		return err == nil && f == 0
	}
	return false
}

// truthy reports whether an if= condition without operator holds.
func (v Value) truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindBool:
		return v.b
	case KindString:
		return v.s != ""
	case KindComposite:
		return !v.c.Empty()
	}
	return false
}

// number returns the value as a float when it is numeric or numeric-looking.
func (v Value) number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return f, err == nil
	case KindComposite:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.c.Text()), 64)
		return f, err == nil
	}
	return 0, false
}

// floatText renders a float in shortest form, except that
// integral values keep a trailing ".0".
func floatText(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// ValueProvider supplies placeholder values that are not passed as params.
type ValueProvider interface {
	Lookup(name string) (Value, bool)
}

// ProviderFunc adapts a function to ValueProvider.
type ProviderFunc func(name string) (Value, bool)

// Lookup implements ValueProvider.
func (f ProviderFunc) Lookup(name string) (Value, bool) { return f(name) }

// ColorResolver maps color names such as "good" to hex values.
type ColorResolver interface {
	Color(name string) (string, bool)
}

// ColorFunc adapts a function to ColorResolver.
type ColorFunc func(name string) (string, bool)

// Color implements ColorResolver.
func (f ColorFunc) Color(name string) (string, bool) { return f(name) }
