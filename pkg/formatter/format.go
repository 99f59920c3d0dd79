// Package formatter evaluates bar format strings into composites.
//
// A format string mixes literal text with {placeholders}, [blocks] that
// disappear when none of their placeholders resolve, | alternation between
// options, and \?commands that tune a block (color, length limits,
// conditions). Placeholders resolve from explicit params, then
// pre-built composites, then a caller-supplied ValueProvider.
package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/theme"
)

// DefaultCacheSize bounds the number of parsed format strings kept.
const DefaultCacheSize = 256

// Options carries the inputs of one Format call.
type Options struct {
	Params     map[string]any
	Composites map[string]*composite.Composite
	Provider   ValueProvider
	Colors     ColorResolver
}

// Formatter parses and evaluates format strings. It is safe for concurrent
// use; parsed trees are cached.
type Formatter struct {
	cache *lru.Cache[string, *tree]
}

// New creates a Formatter caching up to size parsed formats.
func New(size int) *Formatter {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *tree](size)
	if err != nil {
		panic(fmt.Sprintf("formatter: lru.New(%d): %v", size, err))
	}
	return &Formatter{cache: cache}
}

var std = New(DefaultCacheSize)

// Format evaluates format with the package-level formatter.
func Format(format string, opts Options) (*composite.Composite, error) {
	return std.Format(format, opts)
}

// Placeholders returns the distinct placeholder keys in format, in order of
// first appearance.
func Placeholders(format string) ([]string, error) {
	return std.Placeholders(format)
}

// Contains reports whether format references key.
func Contains(format, key string) bool {
	keys, err := std.Placeholders(format)
	if err != nil {
		return false
	}
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Validate reports structural errors in format.
func Validate(format string) error {
	_, err := std.tree(format)
	return err
}

func (f *Formatter) tree(format string) (*tree, error) {
	if t, ok := f.cache.Get(format); ok {
		return t, nil
	}
	t, err := parse(format)
	if err != nil {
		return nil, err
	}
	f.cache.Add(format, t)
	return t, nil
}

// Placeholders returns the distinct placeholder keys in format.
func (f *Formatter) Placeholders(format string) ([]string, error) {
	t, err := f.tree(format)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.keys...), nil
}

// Format evaluates format. Structural errors in the format string are
// returned as *Error; unresolved keys are not errors.
func (f *Formatter) Format(format string, opts Options) (out *composite.Composite, err error) {
	t, err := f.tree(format)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("formatter: evaluating %q: %v", format, r)
		}
	}()

	ev := &evaluator{opts: opts}
	res := ev.block(t.root, false)
	c := res.comp
	if c == nil {
		c = &composite.Composite{}
	}
	ev.resolveColors(c)
	c.Simplify()
	return c, nil
}

// Text evaluates format and returns only the concatenated text.
func (f *Formatter) Text(format string, opts Options) (string, error) {
	c, err := f.Format(format, opts)
	if err != nil {
		return "", err
	}
	return c.Text(), nil
}

type evaluator struct {
	opts Options
}

// blockResult is the outcome of evaluating a block for its parent.
type blockResult struct {
	comp    *composite.Composite
	include bool // render the block's output at all
	valid   bool
	dynamic bool // contains placeholders
	forced  bool // valid through show
	nonZero bool
	soft    bool
}

func (ev *evaluator) block(b *block, nested bool) blockResult {
	var last optionResult
	for _, o := range b.options {
		last = ev.option(o)
		if last.valid {
			return blockResult{
				comp:    last.comp,
				include: true,
				valid:   true,
				dynamic: last.dynamic,
				forced:  o.cmds.show,
				nonZero: last.nonZero,
				soft:    o.cmds.soft,
			}
		}
	}

	// No valid option. A lone nested option disappears; otherwise the last
	// option renders as-is unless its own conditions suppress it.
	lastOpt := b.options[len(b.options)-1]
	if nested && len(b.options) == 1 {
		return blockResult{dynamic: last.dynamic}
	}
	if last.suppressed {
		return blockResult{comp: &composite.Composite{}, include: true, dynamic: last.dynamic}
	}
	return blockResult{
		comp:    last.comp,
		include: true,
		dynamic: last.dynamic,
		nonZero: last.nonZero,
		soft:    lastOpt.cmds.soft,
	}
}

type optionResult struct {
	comp       *composite.Composite
	valid      bool
	suppressed bool
	dynamic    bool
	nonZero    bool
}

type item struct {
	comp *composite.Composite
	soft bool
}

func (ev *evaluator) option(o *option) optionResult {
	var (
		items   []item
		dynamic bool
		valid   bool
		invalid bool
		nonZero bool
	)

	for _, n := range o.items {
		switch n := n.(type) {
		case literal:
			items = append(items, item{comp: composite.FromText(n.text)})
		case placeholder:
			dynamic = true
			v, ok := ev.lookup(n.key)
			if !ok {
				invalid = true
				items = append(items, item{comp: composite.FromText(n.raw)})
				continue
			}
			v = v.resolve()
			items = append(items, item{comp: render(v, n)})
			if !v.empty() {
				valid = true
			}
			if !v.zero() {
				nonZero = true
			}
		case *block:
			r := ev.block(n, true)
			if r.dynamic {
				dynamic = true
			}
			if r.valid && (r.dynamic || r.forced) {
				valid = true
			}
			if r.nonZero {
				nonZero = true
			}
			if r.include {
				items = append(items, item{comp: r.comp, soft: r.soft})
			}
		}
	}

	res := optionResult{dynamic: dynamic, nonZero: nonZero}
	res.valid = o.cmds.show || (!invalid && (valid || !dynamic))
	if o.cmds.cond != nil && !ev.check(o.cmds.cond) {
		res.valid, res.suppressed = false, true
	}
	if o.cmds.notZero && !nonZero {
		res.valid, res.suppressed = false, true
	}

	res.comp = ev.finish(o.cmds, dropSoft(items))
	return res
}

// dropSoft removes soft items whose nearest non-soft neighbors are not both
// non-empty.
func dropSoft(items []item) []item {
	out := make([]item, 0, len(items))
	for i, it := range items {
		if !it.soft {
			out = append(out, it)
			continue
		}
		if neighborText(items, i, -1) && neighborText(items, i, 1) {
			out = append(out, it)
		}
	}
	return out
}

func neighborText(items []item, i, step int) bool {
	for j := i + step; j >= 0 && j < len(items); j += step {
		if items[j].soft {
			continue
		}
		return !items[j].comp.Empty()
	}
	return false
}

func (ev *evaluator) finish(cmds commands, items []item) *composite.Composite {
	c := &composite.Composite{}
	for _, it := range items {
		c.Append(it.comp)
	}
	if cmds.maxLength >= 0 {
		c = truncate(c, cmds.maxLength)
	}
	if cmds.minLength > 0 {
		if n := utf8.RuneCountInString(c.Text()); n < cmds.minLength {
			padEnd(c, strings.Repeat(" ", cmds.minLength-n))
		}
	}
	if cmds.color != "" {
		_ = c.Update(map[string]any{composite.KeyColor: cmds.color}, true)
	}
	return c
}

// truncate keeps the first n visible runes across all segments.
func truncate(c *composite.Composite, n int) *composite.Composite {
	out := &composite.Composite{}
	left := n
	for _, s := range c.Segments() {
		if left <= 0 {
			break
		}
		rs := []rune(s.FullText)
		if len(rs) > left {
			s.FullText = string(rs[:left])
		}
		left -= utf8.RuneCountInString(s.FullText)
		out.Append(s)
	}
	return out
}

// padEnd appends pad to the text of the last segment.
func padEnd(c *composite.Composite, pad string) {
	segs := c.Segments()
	if len(segs) == 0 {
		c.Append(pad)
		return
	}
	segs[len(segs)-1].FullText += pad
	*c = *composite.New(segs)
}

func render(v Value, ph placeholder) *composite.Composite {
	if v.kind == KindComposite {
		return v.c.Copy()
	}
	var s string
	switch ph.conv {
	case "r":
		if v.kind == KindString {
			s = repr(v.s)
		} else {
			s = v.Text()
		}
		v = String(s)
	case "s":
		v = String(v.Text())
	}
	if ph.spec != "" {
		if out, ok := applySpec(v, ph.spec); ok {
			return composite.FromText(out)
		}
	}
	return composite.FromText(v.Text())
}

func (ev *evaluator) lookup(key string) (Value, bool) {
	if v, ok := ev.opts.Params[key]; ok {
		return ValueOf(v), true
	}
	if c, ok := ev.opts.Composites[key]; ok {
		return Composite(c), true
	}
	if ev.opts.Provider != nil {
		return ev.opts.Provider.Lookup(key)
	}
	return Value{}, false
}

func (ev *evaluator) check(c *condition) bool {
	v, ok := ev.lookup(c.key)
	var res bool
	switch {
	case !ok:
		res = false
	case c.op == "":
		res = v.resolve().truthy()
	default:
		res = compare(v.resolve(), c.op, c.value)
	}
	if c.negate {
		return !res
	}
	return res
}

func compare(v Value, op, want string) bool {
	if a, ok := v.number(); ok {
		if b, err := strconv.ParseFloat(want, 64); err == nil {
			switch op {
			case "=":
				return a == b
			case "!=":
				return a != b
			case "<":
				return a < b
			case ">":
				return a > b
			}
		}
	}
	got := v.Text()
	switch op {
	case "=":
		return got == want
	case "!=":
		return got != want
	case "<":
		return got < want
	case ">":
		return got > want
	}
	return false
}

// resolveColors replaces color names with hex values. Unknown names are
// dropped; "none" is kept for Simplify to remove.
func (ev *evaluator) resolveColors(c *composite.Composite) {
	segs := c.Segments()
	changed := false
	for i := range segs {
		col := segs[i].Color
		if col == "" || col == composite.ColorNone {
			continue
		}
		resolved := ev.color(col)
		if resolved != col {
			changed = true
			if resolved == "" {
				segs[i].Unset(composite.KeyColor)
			} else {
				segs[i].Color = resolved
			}
		}
	}
	if changed {
		*c = *composite.New(segs)
	}
}

func (ev *evaluator) color(name string) string {
	if theme.IsHex(name) {
		return theme.NormalizeHex(name)
	}
	if ev.opts.Colors != nil {
		if c, ok := ev.opts.Colors.Color(name); ok {
			if c == composite.ColorNone {
				return c
			}
			return theme.NormalizeHex(c)
		}
	}
	if c, ok := theme.Get("default").Color(name); ok {
		return theme.NormalizeHex(c)
	}
	return ""
}
