package formatter

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// fmtSpec is a parsed placeholder format specification:
// [[fill]align][sign][#][0][width][,][.precision][type]
type fmtSpec struct {
	fill      rune
	align     byte
	sign      byte
	alt       bool
	width     int
	grouping  bool
	precision int // -1 when unset
	typ       byte
}

// maxWidth bounds spec widths and precisions as well as min_length.
// Larger values make the spec invalid.
const maxWidth = 4096

// parseBounded parses a run of digits, rejecting values above maxWidth.
func parseBounded(digits string) (int, bool) {
	n, err := strconv.Atoi(digits)
	if err != nil || n > maxWidth {
		return 0, false
	}
	return n, true
}

func parseSpec(s string) (fmtSpec, bool) {
	sp := fmtSpec{fill: ' ', precision: -1}
	if s == "" {
		return sp, true
	}
	rs := []rune(s)
	i := 0
	isAlign := func(r rune) bool { return r == '<' || r == '>' || r == '^' || r == '=' }
	switch {
	case len(rs) >= 2 && isAlign(rs[1]):
		sp.fill, sp.align = rs[0], byte(rs[1])
		i = 2
	case len(rs) >= 1 && isAlign(rs[0]):
		sp.align = byte(rs[0])
		i = 1
	}
	if i < len(rs) && (rs[i] == '+' || rs[i] == '-' || rs[i] == ' ') {
		sp.sign = byte(rs[i])
		i++
	}
	if i < len(rs) && rs[i] == '#' {
		sp.alt = true
		i++
	}
	if i < len(rs) && rs[i] == '0' {
		if sp.align == 0 {
			sp.fill, sp.align = '0', '='
		}
		i++
	}
	start := i
	for i < len(rs) && rs[i] >= '0' && rs[i] <= '9' {
		i++
	}
	if i > start {
		w, ok := parseBounded(string(rs[start:i]))
		if !ok {
			return sp, false
		}
		sp.width = w
	}
	if i < len(rs) && (rs[i] == ',' || rs[i] == '_') {
		sp.grouping = true
		i++
	}
	if i < len(rs) && rs[i] == '.' {
		i++
		start = i
		for i < len(rs) && rs[i] >= '0' && rs[i] <= '9' {
			i++
		}
		if i == start {
			return sp, false
		}
		prec, ok := parseBounded(string(rs[start:i]))
		if !ok {
			return sp, false
		}
		sp.precision = prec
	}
	if i < len(rs) {
		if !strings.ContainsRune("sdfFeEgGxXobn%", rs[i]) {
			return sp, false
		}
		sp.typ = byte(rs[i])
		i++
	}
	return sp, i == len(rs)
}

func (sp fmtSpec) numericType() bool {
	return sp.typ != 0 && sp.typ != 's'
}

// applySpec renders v according to spec. It reports false when the spec does
// not apply to the value, in which case callers fall back to plain text.
func applySpec(v Value, spec string) (string, bool) {
	sp, ok := parseSpec(spec)
	if !ok {
		return "", false
	}

	if sp.numericType() {
		f, ok := v.number()
		if !ok {
			return "", false
		}
		isInt := v.kind == KindInt || v.kind == KindBool
		if v.kind == KindString || v.kind == KindComposite {
			isInt = !strings.ContainsAny(v.Text(), ".eE")
		}
		return sp.pad(sp.formatNumber(f, isInt), true), true
	}

	switch v.kind {
	case KindInt, KindFloat:
		f, _ := v.number()
		return sp.pad(sp.formatNumber(f, v.kind == KindInt), true), true
	}

	s := v.Text()
	if sp.precision >= 0 && utf8.RuneCountInString(s) > sp.precision {
		s = string([]rune(s)[:sp.precision])
	}
	return sp.pad(s, false), true
}

func (sp fmtSpec) formatNumber(f float64, isInt bool) string {
	neg := f < 0 || (f == 0 && math.Signbit(f))
	a := math.Abs(f)

	var body string
	switch sp.typ {
	case 'd', 'n':
		body = strconv.FormatInt(int64(a), 10)
		body = sp.group(body)
	case 'x', 'X', 'o', 'b':
		base := map[byte]int{'x': 16, 'X': 16, 'o': 8, 'b': 2}[sp.typ]
		body = strconv.FormatInt(int64(a), base)
		if sp.typ == 'X' {
			body = strings.ToUpper(body)
		}
		if sp.alt {
			body = "0" + string(sp.typ) + body
		}
	case 'f', 'F':
		body = sp.group(strconv.FormatFloat(a, 'f', sp.prec(6), 64))
	case 'e', 'E':
		body = strconv.FormatFloat(a, byte(sp.typ), sp.prec(6), 64)
	case 'g', 'G':
		body = strconv.FormatFloat(a, byte(sp.typ), sp.prec(6), 64)
	case '%':
		body = strconv.FormatFloat(a*100, 'f', sp.prec(6), 64) + "%"
	default:
		switch {
		case isInt:
			body = sp.group(strconv.FormatInt(int64(a), 10))
		case sp.precision >= 0:
			body = strconv.FormatFloat(a, 'g', sp.precision, 64)
		default:
			body = sp.group(floatText(a))
		}
	}

	switch {
	case neg:
		return "-" + body
	case sp.sign == '+':
		return "+" + body
	case sp.sign == ' ':
		return " " + body
	}
	return body
}

func (sp fmtSpec) prec(def int) int {
	if sp.precision >= 0 {
		return sp.precision
	}
	return def
}

// group inserts thousands separators into the integer part of s.
func (sp fmtSpec) group(s string) string {
	if !sp.grouping {
		return s
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func (sp fmtSpec) pad(s string, numeric bool) string {
	n := utf8.RuneCountInString(s)
	if n >= sp.width {
		return s
	}
	fill := strings.Repeat(string(sp.fill), sp.width-n)
	align := sp.align
	if align == 0 {
		align = '<'
		if numeric {
			align = '>'
		}
	}
	switch align {
	case '>':
		return fill + s
	case '^':
		left := (sp.width - n) / 2
		return strings.Repeat(string(sp.fill), left) + s + strings.Repeat(string(sp.fill), sp.width-n-left)
	case '=':
		if s != "" && strings.ContainsAny(s[:1], "+- ") {
			return s[:1] + fill + s[1:]
		}
		return fill + s
	}
	return s + fill
}

// repr single-quotes s, switching to double quotes when s holds a single
// quote and no double quote.
func repr(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}
