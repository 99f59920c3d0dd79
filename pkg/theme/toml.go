package theme

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// thTOMLTheme is the TOML-serializable representation of a Theme.
type thTOMLTheme struct {
	Name   string       `toml:"name"`
	Status thTOMLStatus `toml:"status"`
	Bar    thTOMLBar    `toml:"bar"`
	// Gradient stops, lowest value first.
	Gradient []string `toml:"gradient,omitempty"`
}

type thTOMLStatus struct {
	Good     string `toml:"good"`
	Degraded string `toml:"degraded"`
	Bad      string `toml:"bad"`
}

type thTOMLBar struct {
	Separator  string `toml:"separator"`
	Foreground string `toml:"foreground"`
	Background string `toml:"background"`
	Urgent     string `toml:"urgent"`
}

// LoadFromTOML parses a TOML theme definition from raw bytes.
func LoadFromTOML(data []byte) (Theme, error) {
	var tt thTOMLTheme
	if err := toml.Unmarshal(data, &tt); err != nil {
		return Theme{}, fmt.Errorf("theme: parse TOML: %w", err)
	}

	t := Theme{
		Name:       tt.Name,
		Good:       NormalizeHex(tt.Status.Good),
		Degraded:   NormalizeHex(tt.Status.Degraded),
		Bad:        NormalizeHex(tt.Status.Bad),
		Separator:  NormalizeHex(tt.Bar.Separator),
		Foreground: NormalizeHex(tt.Bar.Foreground),
		Background: NormalizeHex(tt.Bar.Background),
		Urgent:     NormalizeHex(tt.Bar.Urgent),
	}
	for _, g := range tt.Gradient {
		t.Gradient = append(t.Gradient, NormalizeHex(g))
	}
	if len(t.Gradient) == 0 {
		t.Gradient = []string{t.Good, t.Degraded, t.Bad}
	}

	if err := thValidateTheme(t); err != nil {
		return Theme{}, err
	}

	return t, nil
}

// LoadFile reads a TOML theme file and registers it.
func LoadFile(path string) (Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, fmt.Errorf("theme: read %s: %w", path, err)
	}
	t, err := LoadFromTOML(data)
	if err != nil {
		return Theme{}, err
	}
	thRegister(t)
	return t, nil
}

// SaveToTOML serializes a theme to TOML bytes.
func SaveToTOML(t Theme) ([]byte, error) {
	tt := thTOMLTheme{
		Name: t.Name,
		Status: thTOMLStatus{
			Good:     t.Good,
			Degraded: t.Degraded,
			Bad:      t.Bad,
		},
		Bar: thTOMLBar{
			Separator:  t.Separator,
			Foreground: t.Foreground,
			Background: t.Background,
			Urgent:     t.Urgent,
		},
		Gradient: t.Gradient,
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(tt); err != nil {
		return nil, fmt.Errorf("theme: encode TOML: %w", err)
	}
	return buf.Bytes(), nil
}

// thValidateTheme checks that required fields are present and colors are hex.
func thValidateTheme(t Theme) error {
	if t.Name == "" {
		return fmt.Errorf("theme: missing required field %q", "name")
	}

	required := []struct{ field, value string }{
		{"good", t.Good},
		{"degraded", t.Degraded},
		{"bad", t.Bad},
		{"separator", t.Separator},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("theme: missing required field %q", f.field)
		}
	}

	optional := []struct{ field, value string }{
		{"foreground", t.Foreground},
		{"background", t.Background},
		{"urgent", t.Urgent},
	}
	for _, f := range append(required, optional...) {
		if f.value != "" && !thHexColorRegex.MatchString(f.value) {
			return fmt.Errorf("theme: invalid hex color %q for field %q (expected #RRGGBB)", f.value, f.field)
		}
	}
	for i, g := range t.Gradient {
		if !thHexColorRegex.MatchString(g) {
			return fmt.Errorf("theme: invalid hex color %q for gradient stop %d", g, i)
		}
	}
	return nil
}
