package formatter

import (
	"errors"
	"testing"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
)

func fmtText(t *testing.T, format string, params map[string]any) string {
	t.Helper()
	c, err := Format(format, Options{Params: params})
	if err != nil {
		t.Fatalf("Format(%q): %v", format, err)
	}
	return c.Text()
}

// --- Alternation Tests ---

func TestAlternation(t *testing.T) {
	format := "[{name} - ]{title}|Unknown"
	tests := []struct {
		params map[string]any
		want   string
	}{
		{map[string]any{"name": "Alice", "title": "Song"}, "Alice - Song"},
		{map[string]any{"name": "", "title": "Song"}, "Song"},
		{map[string]any{"name": "", "title": ""}, "Unknown"},
	}
	for _, tt := range tests {
		if got := fmtText(t, format, tt.params); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.params, got, tt.want)
		}
	}
}

func TestNestedAlternationFallsBackToLast(t *testing.T) {
	got := fmtText(t, "[{a}|{b}|none]", map[string]any{"a": "", "b": ""})
	if got != "none" {
		t.Errorf("got %q, want %q", got, "none")
	}
	got = fmtText(t, "x[{a}|{b}]", map[string]any{"a": "", "b": ""})
	if got != "x" {
		t.Errorf("got %q, want %q", got, "x")
	}
}

// --- Command Tests ---

func TestNotZero(t *testing.T) {
	format := `[\?not_zero UPD {n}]`
	if got := fmtText(t, format, map[string]any{"n": 0}); got != "" {
		t.Errorf("n=0: got %q, want empty", got)
	}
	if got := fmtText(t, format, map[string]any{"n": 7}); got != "UPD 7" {
		t.Errorf("n=7: got %q, want %q", got, "UPD 7")
	}
	if got := fmtText(t, format, map[string]any{"n": "0.0"}); got != "" {
		t.Errorf("n=\"0.0\": got %q, want empty", got)
	}
}

func TestConditionalOrdering(t *testing.T) {
	format := `[\?if=x>10 big|\?if=x>0 small|zero]`
	tests := []struct {
		x    any
		want string
	}{
		{15, "big"},
		{3, "small"},
		{0, "zero"},
		{"15", "big"},
	}
	for _, tt := range tests {
		if got := fmtText(t, format, map[string]any{"x": tt.x}); got != tt.want {
			t.Errorf("x=%v: got %q, want %q", tt.x, got, tt.want)
		}
	}
}

func TestConditionOperators(t *testing.T) {
	tests := []struct {
		format string
		params map[string]any
		want   string
	}{
		{`[\?if=s=on ON]`, map[string]any{"s": "on"}, "ON"},
		{`[\?if=s=on ON]`, map[string]any{"s": "off"}, ""},
		{`[\?if=s!=on OFF]`, map[string]any{"s": "off"}, "OFF"},
		{`[\?if=x<5 low]`, map[string]any{"x": 4.5}, "low"},
		{`[\?if=flag yes]`, map[string]any{"flag": true}, "yes"},
		{`[\?if=flag yes]`, map[string]any{"flag": false}, ""},
		{`[\?if=!flag no]`, map[string]any{"flag": false}, "no"},
		{`[\?if=missing x]`, nil, ""},
		{`[\?if=!missing x]`, nil, "x"},
		{`[\?if=s>b gt]`, map[string]any{"s": "c"}, "gt"},
	}
	for _, tt := range tests {
		if got := fmtText(t, tt.format, tt.params); got != tt.want {
			t.Errorf("Format(%q, %v) = %q, want %q", tt.format, tt.params, got, tt.want)
		}
	}
}

func TestShowForcesBlock(t *testing.T) {
	if got := fmtText(t, `[\?show {a}x]`, map[string]any{"a": ""}); got != "x" {
		t.Errorf("got %q, want %q", got, "x")
	}
}

func TestLengthCommands(t *testing.T) {
	p := map[string]any{"s": "abcdef"}
	tests := []struct {
		format string
		want   string
	}{
		{`[\?max_length=3 {s}]`, "abc"},
		{`[\?max_length=0 {s}]`, ""},
		{`[\?max_length=99 {s}]`, "abcdef"},
		{`[\?min_length=8 {s}]`, "abcdef  "},
		{`[\?min_length=2 {s}]`, "abcdef"},
		{`[\?max_length=4&min_length=6 {s}]`, "abcd  "},
	}
	for _, tt := range tests {
		if got := fmtText(t, tt.format, p); got != tt.want {
			t.Errorf("Format(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestMaxLengthAcrossComposite(t *testing.T) {
	c := composite.New(
		composite.Segment{FullText: "ab", Color: "#FF0000"},
		composite.Segment{FullText: "cd", Color: "#00FF00"},
	)
	out, err := Format(`[\?max_length=3 {c}]`, Options{Composites: map[string]*composite.Composite{"c": c}})
	if err != nil {
		t.Fatal(err)
	}
	segs := out.Segments()
	if len(segs) != 2 || segs[0].FullText != "ab" || segs[1].FullText != "c" {
		t.Errorf("segments = %+v", segs)
	}
}

func TestMinLengthPadsCompositeAtEnd(t *testing.T) {
	c := composite.New(
		composite.Segment{FullText: "a", Color: "#FF0000"},
		composite.Segment{FullText: "b", Color: "#00FF00"},
	)
	out, err := Format(`[\?min_length=4 {c}]`, Options{Composites: map[string]*composite.Composite{"c": c}})
	if err != nil {
		t.Fatal(err)
	}
	segs := out.Segments()
	if len(segs) != 2 || segs[0].FullText != "a" || segs[1].FullText != "b  " {
		t.Errorf("segments = %+v", segs)
	}
}

func TestSoftBlock(t *testing.T) {
	format := `{a}[\?soft , ]{b}`
	tests := []struct {
		a, b, want string
	}{
		{"x", "y", "x, y"},
		{"", "y", "y"},
		{"x", "", "x"},
	}
	for _, tt := range tests {
		got := fmtText(t, format, map[string]any{"a": tt.a, "b": tt.b})
		if got != tt.want {
			t.Errorf("a=%q b=%q: got %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

// --- Color Tests ---

func TestCompositeColorInheritance(t *testing.T) {
	out, err := Format(`[\?color=good {a} [\?color=bad {b}]]`, Options{
		Params: map[string]any{"a": "A", "b": "B"},
	})
	if err != nil {
		t.Fatal(err)
	}
	segs := out.Segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2: %+v", len(segs), segs)
	}
	if segs[0].FullText != "A " || segs[0].Color != "#00FF00" {
		t.Errorf("seg0 = %q %q", segs[0].FullText, segs[0].Color)
	}
	if segs[1].FullText != "B" || segs[1].Color != "#FF0000" {
		t.Errorf("seg1 = %q %q", segs[1].FullText, segs[1].Color)
	}
}

func TestColorResolverTakesPrecedence(t *testing.T) {
	colors := ColorFunc(func(name string) (string, bool) {
		if name == "good" {
			return "#123456", true
		}
		if name == "mine" {
			return "#abc", true
		}
		return "", false
	})
	out, err := Format(`[\?color=good a][\?color=mine b][\?color=nope c]`, Options{Colors: colors})
	if err != nil {
		t.Fatal(err)
	}
	segs := out.Segments()
	if len(segs) != 3 {
		t.Fatalf("segments = %+v", segs)
	}
	if segs[0].Color != "#123456" || segs[1].Color != "#AABBCC" || segs[2].Color != "" {
		t.Errorf("colors = %q %q %q", segs[0].Color, segs[1].Color, segs[2].Color)
	}
}

func TestPlaceholderCompositeKeepsOwnColor(t *testing.T) {
	c := composite.New(composite.Segment{FullText: "X", Color: "#0000FF"})
	out, err := Format(`[\?color=bad {c} y]`, Options{Composites: map[string]*composite.Composite{"c": c}})
	if err != nil {
		t.Fatal(err)
	}
	segs := out.Segments()
	if len(segs) != 2 || segs[0].Color != "#0000FF" || segs[1].Color != "#FF0000" {
		t.Errorf("segments = %+v", segs)
	}
}

// --- Resolution Tests ---

func TestUnknownKeyRendersLiteral(t *testing.T) {
	if got := fmtText(t, "{missing}", nil); got != "{missing}" {
		t.Errorf("got %q, want %q", got, "{missing}")
	}
	if got := fmtText(t, "a[ {missing}]", nil); got != "a" {
		t.Errorf("got %q, want %q", got, "a")
	}
}

func TestResolutionOrder(t *testing.T) {
	provider := ProviderFunc(func(name string) (Value, bool) {
		switch name {
		case "k":
			return String("provider"), true
		case "lazy":
			return Func(func() any { return 42 }), true
		}
		return Value{}, false
	})
	opts := Options{
		Params:     map[string]any{"k": "param"},
		Composites: map[string]*composite.Composite{"k": composite.FromText("comp"), "c": composite.FromText("comp")},
		Provider:   provider,
	}
	out, err := Format("{k} {c} {lazy}", opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Text(); got != "param comp 42" {
		t.Errorf("got %q, want %q", got, "param comp 42")
	}
}

func TestEmptyValues(t *testing.T) {
	for _, v := range []any{nil, false, "", &composite.Composite{}} {
		if got := fmtText(t, "[x{v}]", map[string]any{"v": v}); got != "" {
			t.Errorf("v=%#v: got %q, want empty", v, got)
		}
	}
	if got := fmtText(t, "[x{v}]", map[string]any{"v": 0}); got != "x0" {
		t.Errorf("v=0: got %q, want %q", got, "x0")
	}
}

// --- Escape Tests ---

func TestEscapes(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{`\[x\]`, "[x]"},
		{`{{a}}`, "{a}"},
		{`a\|b`, "a|b"},
		{`\\`, `\`},
		{`\?`, "?"},
		{`a}b`, "a}b"},
	}
	for _, tt := range tests {
		if got := fmtText(t, tt.format, nil); got != tt.want {
			t.Errorf("Format(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

// --- Error Tests ---

func TestStructuralErrors(t *testing.T) {
	for _, f := range []string{"a]", "[a", "[[a]", "{a", "[{a]"} {
		_, err := Format(f, Options{})
		var fe *Error
		if !errors.As(err, &fe) {
			t.Errorf("Format(%q) err = %v, want *Error", f, err)
		}
	}
}

func TestNeverPanicsOnProvider(t *testing.T) {
	provider := ProviderFunc(func(string) (Value, bool) {
		return Func(func() any { panic("boom") }), true
	})
	if _, err := Format("{x}", Options{Provider: provider}); err == nil {
		t.Error("expected error from panicking provider")
	}
}

// --- Idempotence ---

func TestSecondPassIdempotent(t *testing.T) {
	out := fmtText(t, "cpu {v:.1f}%", map[string]any{"v": 12.345})
	again := fmtText(t, out, nil)
	if out != again {
		t.Errorf("second pass changed %q to %q", out, again)
	}
}

// --- Placeholders ---

func TestPlaceholders(t *testing.T) {
	keys, err := Placeholders("{a} [{b:>3}|{a}] {c!r}")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
	if !Contains("x {up}", "up") || Contains("x {up}", "down") {
		t.Error("Contains mismatch")
	}
}
