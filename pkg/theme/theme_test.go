package theme

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var thTestHexPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// --- Get / Lookup / Names ---

func TestGetDefault(t *testing.T) {
	th := Get("default")
	if th.Name != "default" {
		t.Errorf("Get(\"default\").Name = %q, want %q", th.Name, "default")
	}
	if th.Good != "#00FF00" || th.Degraded != "#FFFF00" || th.Bad != "#FF0000" {
		t.Errorf("default status colors = %q %q %q", th.Good, th.Degraded, th.Bad)
	}
}

func TestGetUnknownFallsBackToDefault(t *testing.T) {
	th := Get("unknown-theme-xyz")
	if th.Name != "default" {
		t.Errorf("Get(\"unknown\") = %q, want default", th.Name)
	}
	if _, ok := Lookup("unknown-theme-xyz"); ok {
		t.Error("Lookup(unknown) reported ok")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	want := []string{"default", "dracula", "gruvbox", "nord", "solarized"}
	for _, w := range want {
		found := false
		for _, n := range names {
			if n == w {
				found = true
			}
		}
		if !found {
			t.Errorf("Names() missing %q: %v", w, names)
		}
	}
}

func TestAllThemesHaveValidHexColors(t *testing.T) {
	for _, name := range Names() {
		th := Get(name)
		for _, c := range []string{th.Good, th.Degraded, th.Bad, th.Separator} {
			if !thTestHexPattern.MatchString(c) {
				t.Errorf("theme %q: invalid color %q", name, c)
			}
		}
		if len(th.Gradient) < 2 {
			t.Errorf("theme %q: gradient has %d stops", name, len(th.Gradient))
		}
	}
}

func TestColorByName(t *testing.T) {
	th := Get("default")
	if c, ok := th.Color("GOOD"); !ok || c != "#00FF00" {
		t.Errorf("Color(GOOD) = %q, %v", c, ok)
	}
	if _, ok := th.Color("chartreuse"); ok {
		t.Error("Color(chartreuse) reported ok")
	}
}

// --- Hex helpers ---

func TestNormalizeHex(t *testing.T) {
	tests := []struct{ in, want string }{
		{"#abc", "#AABBCC"},
		{"#00ff00", "#00FF00"},
		{"good", "good"},
		{"#abcd", "#abcd"},
	}
	for _, tt := range tests {
		if got := NormalizeHex(tt.in); got != tt.want {
			t.Errorf("NormalizeHex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBlendEndpoints(t *testing.T) {
	stops := []string{"#00FF00", "#FF0000"}
	if got := Blend(stops, 0); got != "#00FF00" {
		t.Errorf("Blend(0) = %q", got)
	}
	if got := Blend(stops, 1); got != "#FF0000" {
		t.Errorf("Blend(1) = %q", got)
	}
	if got := Blend(stops, 5); got != "#FF0000" {
		t.Errorf("Blend(5) clamped = %q", got)
	}
	mid := Blend(stops, 0.5)
	if !thTestHexPattern.MatchString(mid) || mid == "#00FF00" || mid == "#FF0000" {
		t.Errorf("Blend(0.5) = %q, want an intermediate color", mid)
	}
}

func TestBlendNoStops(t *testing.T) {
	if got := Blend(nil, 0.5); got != "" {
		t.Errorf("Blend(nil) = %q, want empty", got)
	}
}

func TestRGB(t *testing.T) {
	r, g, b, ok := RGB("#f80")
	if !ok || r != 0xFF || g != 0x88 || b != 0x00 {
		t.Errorf("RGB(#f80) = %d %d %d %v", r, g, b, ok)
	}
}

// --- TOML ---

const thValidTOML = `
name = "mine"
gradient = ["#00ff00", "#ff0000"]

[status]
good = "#0f0"
degraded = "#ffff00"
bad = "#ff0000"

[bar]
separator = "#333333"
`

func TestLoadFromTOMLValid(t *testing.T) {
	th, err := LoadFromTOML([]byte(thValidTOML))
	if err != nil {
		t.Fatalf("LoadFromTOML: %v", err)
	}
	if th.Good != "#00FF00" {
		t.Errorf("Good = %q, want normalized #00FF00", th.Good)
	}
	if len(th.Gradient) != 2 {
		t.Errorf("Gradient = %v", th.Gradient)
	}
}

func TestLoadFromTOMLMissingField(t *testing.T) {
	_, err := LoadFromTOML([]byte("name = \"x\"\n[status]\ngood = \"#00ff00\"\n"))
	if err == nil || !strings.Contains(err.Error(), "missing required field") {
		t.Errorf("err = %v, want missing field", err)
	}
}

func TestLoadFromTOMLInvalidHex(t *testing.T) {
	data := strings.Replace(thValidTOML, `bad = "#ff0000"`, `bad = "red"`, 1)
	_, err := LoadFromTOML([]byte(data))
	if err == nil || !strings.Contains(err.Error(), "invalid hex color") {
		t.Errorf("err = %v, want invalid hex", err)
	}
}

func TestSaveToTOMLRoundtrip(t *testing.T) {
	orig := Get("nord")
	data, err := SaveToTOML(orig)
	if err != nil {
		t.Fatalf("SaveToTOML: %v", err)
	}
	back, err := LoadFromTOML(data)
	if err != nil {
		t.Fatalf("LoadFromTOML: %v", err)
	}
	if back.Name != orig.Name || !strings.EqualFold(back.Bad, orig.Bad) {
		t.Errorf("roundtrip mismatch: %+v vs %+v", back, orig)
	}
}

func TestLoadFileRegisters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mine.toml")
	if err := os.WriteFile(path, []byte(thValidTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, ok := Lookup("mine"); !ok {
		t.Error("theme not registered after LoadFile")
	}
}
