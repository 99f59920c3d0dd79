package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Error reports a structurally malformed format string.
type Error struct {
	Format string
	Pos    int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("formatter: %s at offset %d in %q", e.Msg, e.Pos, e.Format)
}

type node interface{ isNode() }

type literal struct{ text string }

type placeholder struct {
	key  string
	conv string
	spec string
	raw  string // original text, braces included
}

type block struct {
	options []*option
}

type option struct {
	cmds  commands
	items []node
}

func (literal) isNode()     {}
func (placeholder) isNode() {}
func (*block) isNode()      {}

type commands struct {
	color     string
	maxLength int // -1 when unset
	minLength int
	show      bool
	soft      bool
	notZero   bool
	cond      *condition
}

type condition struct {
	key    string
	op     string // "", "=", "!=", "<", ">"
	value  string
	negate bool
}

// tree is a parsed format string. Trees are immutable once built and are
// shared through the parse cache.
type tree struct {
	root *block
	keys []string
}

func newOption() *option {
	return &option{cmds: commands{maxLength: -1}}
}

// parse builds the block tree for format.
func parse(format string) (*tree, error) {
	root := &block{options: []*option{newOption()}}
	stack := []*block{root}
	starts := []int{}
	var keys []string
	seen := map[string]bool{}

	cur := func() *option {
		b := stack[len(stack)-1]
		return b.options[len(b.options)-1]
	}
	var lit strings.Builder
	flush := func() {
		if lit.Len() == 0 {
			return
		}
		o := cur()
		o.items = append(o.items, literal{text: lit.String()})
		lit.Reset()
	}

	rs := []rune(format)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch r {
		case '[':
			flush()
			b := &block{options: []*option{newOption()}}
			o := cur()
			o.items = append(o.items, b)
			stack = append(stack, b)
			starts = append(starts, i)
		case ']':
			flush()
			if len(stack) == 1 {
				return nil, &Error{Format: format, Pos: i, Msg: "unmatched ']'"}
			}
			stack = stack[:len(stack)-1]
			starts = starts[:len(starts)-1]
		case '|':
			flush()
			b := stack[len(stack)-1]
			b.options = append(b.options, newOption())
		case '\\':
			if i+1 >= len(rs) {
				lit.WriteRune(r)
				continue
			}
			if rs[i+1] == '?' {
				end := i + 2
				for end < len(rs) && !unicode.IsSpace(rs[end]) && rs[end] != ']' && rs[end] != '|' {
					end++
				}
				if end == i+2 {
					lit.WriteRune('?')
					i++
					continue
				}
				flush()
				parseCommands(string(rs[i+2:end]), &cur().cmds)
				if end < len(rs) && unicode.IsSpace(rs[end]) {
					end++
				}
				i = end - 1
				continue
			}
			lit.WriteRune(rs[i+1])
			i++
		case '{':
			if i+1 < len(rs) && rs[i+1] == '{' {
				lit.WriteRune('{')
				i++
				continue
			}
			end, ph, ok := scanPlaceholder(rs, i)
			if !ok {
				return nil, &Error{Format: format, Pos: i, Msg: "unclosed '{'"}
			}
			flush()
			o := cur()
			o.items = append(o.items, ph)
			if !seen[ph.key] {
				seen[ph.key] = true
				keys = append(keys, ph.key)
			}
			i = end
		case '}':
			if i+1 < len(rs) && rs[i+1] == '}' {
				i++
			}
			lit.WriteRune('}')
		default:
			lit.WriteRune(r)
		}
	}
	flush()
	if len(stack) > 1 {
		return nil, &Error{Format: format, Pos: starts[len(starts)-1], Msg: "unclosed '['"}
	}
	return &tree{root: root, keys: keys}, nil
}

// scanPlaceholder reads "{key!conv:spec}" starting at rs[start] == '{'.
// It returns the index of the closing brace.
func scanPlaceholder(rs []rune, start int) (int, placeholder, bool) {
	var key, rest strings.Builder
	inKey := true
	for i := start + 1; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\\' && i+1 < len(rs):
			i++
			if inKey {
				key.WriteRune(rs[i])
			} else {
				rest.WriteRune(rs[i])
			}
		case r == '}':
			ph := placeholder{key: key.String(), raw: string(rs[start : i+1])}
			ph.conv, ph.spec = splitConvSpec(rest.String())
			return i, ph, true
		case r == '{':
			return 0, placeholder{}, false
		case inKey && (r == '!' || r == ':'):
			inKey = false
			rest.WriteRune(r)
		case inKey:
			key.WriteRune(r)
		default:
			rest.WriteRune(r)
		}
	}
	return 0, placeholder{}, false
}

func splitConvSpec(rest string) (conv, spec string) {
	if strings.HasPrefix(rest, "!") {
		rest = rest[1:]
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			return rest[:i], rest[i+1:]
		}
		return rest, ""
	}
	return "", strings.TrimPrefix(rest, ":")
}

// parseCommands applies a "cmd1=v1&cmd2" string to cmds. Unknown commands
// are ignored.
func parseCommands(s string, cmds *commands) {
	for _, part := range strings.Split(s, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		switch name {
		case "color":
			cmds.color = value
		case "max_length":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				cmds.maxLength = n
			}
		case "min_length":
			if n, ok := parseBounded(value); ok && n >= 0 {
				cmds.minLength = n
			}
		case "show":
			cmds.show = true
		case "soft":
			cmds.soft = true
		case "not_zero":
			cmds.notZero = true
		case "if":
			cmds.cond = parseCondition(value)
		}
	}
}

func parseCondition(s string) *condition {
	c := &condition{}
	if strings.HasPrefix(s, "!") && !strings.HasPrefix(s, "!=") {
		c.negate = true
		s = s[1:]
	}
	for _, op := range []string{"!=", "=", "<", ">"} {
		if i := strings.Index(s, op); i > 0 {
			c.key, c.op, c.value = s[:i], op, s[i+len(op):]
			return c
		}
	}
	c.key = s
	return c
}
