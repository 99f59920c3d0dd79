// Package externalscript shows the output of a shell command.
//
// Parameters:
//
//	script_path      command to run through sh (required)
//	format           default "{output}"
//	strip_output     trim surrounding whitespace, default false
//	convert_numbers  expose numeric output as a number, default true
//	button_next      mouse button that shows the next output line, default 0
//
// Placeholders: {output} (the selected line), {lines} (line count).
package externalscript

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// Name is the registry name.
const Name = "external_script"

type script struct {
	py3            *module.Py3
	path           string
	format         string
	strip          bool
	convertNumbers bool
	nextBtn        int

	mu   sync.Mutex
	line int
}

// New is the module factory.
func New(py3 *module.Py3) (module.Module, error) {
	p := py3.Params()
	path, err := p.RequireString("script_path")
	if err != nil {
		return nil, err
	}
	return &script{
		py3:            py3,
		path:           path,
		format:         p.String("format", "{output}"),
		strip:          p.Bool("strip_output", false),
		convertNumbers: p.Bool("convert_numbers", true),
		nextBtn:        p.Int("button_next", 0),
	}, nil
}

func (s *script) Methods() []module.Method {
	return []module.Method{{Name: "external_script", Fn: s.update}}
}

func (s *script) update(ctx context.Context) (*module.Response, error) {
	out, err := s.py3.CommandOutput(ctx, "sh", "-c", s.path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(out, "\n")
	if out == "" {
		lines = nil
	}

	s.mu.Lock()
	if s.line >= len(lines) {
		s.line = 0
	}
	idx := s.line
	s.mu.Unlock()

	var line string
	if len(lines) > 0 {
		line = lines[idx]
	}
	if s.strip {
		line = strings.TrimSpace(line)
	}
	var output any = line
	if s.convertNumbers {
		if n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64); err == nil {
			output = n
		} else if f, err := strconv.ParseFloat(strings.TrimSpace(line), 64); err == nil {
			output = f
		}
	}
	return &module.Response{
		Composite: s.py3.SafeFormat(s.format, map[string]any{
			"output": output,
			"lines":  len(lines),
		}),
	}, nil
}

// OnClick steps through the output lines on button_next.
func (s *script) OnClick(_ context.Context, ev protocol.Event) error {
	if s.nextBtn == 0 || ev.Button != s.nextBtn {
		return nil
	}
	s.mu.Lock()
	s.line++
	s.mu.Unlock()
	return nil
}
