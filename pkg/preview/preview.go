// Package preview renders a bar row as a single ANSI-colored terminal line.
// `barpulse test-module` uses it to show what a module would put on the bar
// without starting one.
package preview

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/theme"
)

// defaultMaxWidth is used when Options.MaxWidth is unset.
const defaultMaxWidth = 120

// separator is drawn between blocks that keep the bar's default separator.
const separator = "│"

// Options controls rendering.
type Options struct {
	// Profile selects the color depth. termenv.Ascii disables colors.
	Profile termenv.Profile
	// MaxWidth drops blocks from the right once the visible width would
	// exceed it.
	MaxWidth int
	// ShowNames prefixes each block with its name and instance.
	ShowNames bool
}

// ProfileFor picks a color profile for w: the detected terminal profile
// when w is a terminal, plain ASCII otherwise.
func ProfileFor(w io.Writer) termenv.Profile {
	f, ok := w.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return termenv.Ascii
	}
	return termenv.NewOutput(f).EnvColorProfile()
}

// block is one rendered segment with its visible width.
type block struct {
	text  string
	width int
	sep   bool
}

// Render returns segs as one line. Empty input yields "".
func Render(segs []composite.Segment, opts Options) string {
	if len(segs) == 0 {
		return ""
	}
	maxWidth := opts.MaxWidth
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}

	blocks := make([]block, 0, len(segs))
	for _, s := range segs {
		blocks = append(blocks, renderSegment(s, opts))
	}

	sepStyled := termenv.String(separator).Faint()
	if opts.Profile == termenv.Ascii {
		sepStyled = termenv.String(separator)
	}
	sepWidth := runewidth.StringWidth(separator) + 2

	var b strings.Builder
	total := 0
	for i, bl := range blocks {
		needed := bl.width
		withSep := i > 0 && blocks[i-1].sep
		if withSep {
			needed += sepWidth
		}
		if total+needed > maxWidth {
			break
		}
		if withSep {
			b.WriteString(" " + sepStyled.String() + " ")
		}
		b.WriteString(bl.text)
		total += needed
	}
	return b.String()
}

// renderSegment styles one segment. Colors that are not hex literals are
// ignored; the bar would ignore them too.
func renderSegment(s composite.Segment, opts Options) block {
	text := s.FullText
	if opts.ShowNames && s.Name != "" {
		text = "[" + config.ModuleID(s.Name, s.Instance) + "] " + text
	}
	width := runewidth.StringWidth(text)
	if n, ok := s.MinWidth.(int); ok && n > width {
		text = pad(text, n-width, s.Align)
		width = n
	}

	st := termenv.String(text)
	if opts.Profile != termenv.Ascii {
		if theme.IsHex(s.Color) {
			st = st.Foreground(opts.Profile.Color(theme.NormalizeHex(s.Color)))
		}
		if theme.IsHex(s.Background) {
			st = st.Background(opts.Profile.Color(theme.NormalizeHex(s.Background)))
		}
		if s.Urgent {
			st = st.Bold().Reverse()
		}
	}
	return block{
		text:  st.String(),
		width: width,
		sep:   s.Separator == nil || *s.Separator,
	}
}

// pad widens text by n cells according to the i3bar align key.
func pad(text string, n int, align string) string {
	switch align {
	case "right":
		return strings.Repeat(" ", n) + text
	case "center":
		left := n / 2
		return strings.Repeat(" ", left) + text + strings.Repeat(" ", n-left)
	default:
		return text + strings.Repeat(" ", n)
	}
}
