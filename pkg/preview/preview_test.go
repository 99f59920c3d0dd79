package preview

import (
	"bytes"
	"strings"
	"testing"

	"github.com/muesli/termenv"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
)

func TestRenderPlain(t *testing.T) {
	segs := []composite.Segment{
		{FullText: "CPU 5%", Color: "#00FF00"},
		{FullText: "12:00"},
	}
	got := Render(segs, Options{Profile: termenv.Ascii})
	if want := "CPU 5% │ 12:00"; got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := Render(nil, Options{}); got != "" {
		t.Errorf("Render(nil) = %q", got)
	}
}

func TestRenderSeparatorOff(t *testing.T) {
	segs := []composite.Segment{
		{FullText: "a", Separator: composite.Bool(false)},
		{FullText: "b"},
	}
	if got := Render(segs, Options{Profile: termenv.Ascii}); got != "ab" {
		t.Errorf("Render = %q, want %q", got, "ab")
	}
}

func TestRenderMaxWidth(t *testing.T) {
	segs := []composite.Segment{
		{FullText: "aaaa"},
		{FullText: "bbbb"},
		{FullText: "cccc"},
	}
	got := Render(segs, Options{Profile: termenv.Ascii, MaxWidth: 12})
	if got != "aaaa │ bbbb" {
		t.Errorf("Render = %q", got)
	}
}

func TestRenderMinWidth(t *testing.T) {
	tests := []struct {
		align string
		want  string
	}{
		{"", "ab   "},
		{"left", "ab   "},
		{"right", "   ab"},
		{"center", " ab  "},
	}
	for _, tt := range tests {
		segs := []composite.Segment{{FullText: "ab", MinWidth: 5, Align: tt.align}}
		if got := Render(segs, Options{Profile: termenv.Ascii}); got != tt.want {
			t.Errorf("align %q: Render = %q, want %q", tt.align, got, tt.want)
		}
	}
}

func TestRenderShowNames(t *testing.T) {
	segs := []composite.Segment{{FullText: "50%", Name: "disk", Instance: "/home"}}
	got := Render(segs, Options{Profile: termenv.Ascii, ShowNames: true})
	if got != "[disk /home] 50%" {
		t.Errorf("Render = %q", got)
	}
}

func TestRenderTrueColor(t *testing.T) {
	segs := []composite.Segment{{FullText: "hot", Color: "#f00", Urgent: true}}
	got := Render(segs, Options{Profile: termenv.TrueColor})
	if !strings.Contains(got, "38;2;255;0;0") {
		t.Errorf("Render = %q, want a 24-bit red foreground", got)
	}
	if !strings.Contains(got, "hot") || !strings.HasSuffix(got, "\x1b[0m") {
		t.Errorf("Render = %q", got)
	}
}

func TestProfileForNonTerminal(t *testing.T) {
	if p := ProfileFor(&bytes.Buffer{}); p != termenv.Ascii {
		t.Errorf("ProfileFor(buffer) = %v, want Ascii", p)
	}
}
