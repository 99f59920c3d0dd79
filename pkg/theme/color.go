package theme

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

var (
	thHexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	thShortHexRegex = regexp.MustCompile(`^#[0-9a-fA-F]{3}$`)
)

// IsHex reports whether s is a "#RRGGBB" or "#RGB" color.
func IsHex(s string) bool {
	return thHexColorRegex.MatchString(s) || thShortHexRegex.MatchString(s)
}

// NormalizeHex expands "#rgb" to "#RRGGBB" and upper-cases hex colors.
// Anything that is not a hex color is returned unchanged.
func NormalizeHex(s string) string {
	switch {
	case thShortHexRegex.MatchString(s):
		var b strings.Builder
		b.WriteByte('#')
		for _, r := range s[1:] {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		return strings.ToUpper(b.String())
	case thHexColorRegex.MatchString(s):
		return strings.ToUpper(s)
	}
	return s
}

// Blend interpolates between stops for a position in [0, 1] and returns a
// "#RRGGBB" color. Interpolation happens in CIE-L*a*b* space so midpoints
// keep their brightness. Invalid stops are skipped.
func Blend(stops []string, pos float64) string {
	colors := make([]colorful.Color, 0, len(stops))
	for _, s := range stops {
		c, err := colorful.Hex(NormalizeHex(s))
		if err != nil {
			continue
		}
		colors = append(colors, c)
	}
	switch len(colors) {
	case 0:
		return ""
	case 1:
		return strings.ToUpper(colors[0].Hex())
	}

	pos = math.Max(0, math.Min(1, pos))
	scaled := pos * float64(len(colors)-1)
	i := int(scaled)
	if i >= len(colors)-1 {
		return strings.ToUpper(colors[len(colors)-1].Hex())
	}
	frac := scaled - float64(i)
	if frac == 0 {
		return strings.ToUpper(colors[i].Hex())
	}
	return strings.ToUpper(colors[i].BlendLab(colors[i+1], frac).Clamped().Hex())
}

// thParseHex parses a hex color string into r, g, b components.
// Accepts "#RRGGBB" or "RRGGBB" formats.
func thParseHex(hex string) (r, g, b uint8, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	rv, err := strconv.ParseUint(hex[0:2], 16, 8)
	if err != nil {
		return 0, 0, 0, false
	}
	gv, err := strconv.ParseUint(hex[2:4], 16, 8)
	if err != nil {
		return 0, 0, 0, false
	}
	bv, err := strconv.ParseUint(hex[4:6], 16, 8)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(rv), uint8(gv), uint8(bv), true
}

// RGB returns the components of a hex color.
func RGB(hex string) (r, g, b uint8, ok bool) {
	return thParseHex(NormalizeHex(hex))
}
