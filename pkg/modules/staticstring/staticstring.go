// Package staticstring shows a fixed string. The format is evaluated once
// with the module's colors, so it may use blocks and color commands.
package staticstring

import (
	"context"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "static_string"

// forever is far enough ahead that the scheduler never reruns the module.
const forever = 100 * 365 * 24 * time.Hour

type staticString struct {
	py3    *module.Py3
	format string
}

// New is the module factory.
func New(py3 *module.Py3) (module.Module, error) {
	return &staticString{
		py3:    py3,
		format: py3.Params().String("format", "Hello, world!"),
	}, nil
}

func (s *staticString) Methods() []module.Method {
	return []module.Method{{Name: "static_string", Fn: s.update}}
}

func (s *staticString) update(context.Context) (*module.Response, error) {
	return &module.Response{
		Composite:   s.py3.SafeFormat(s.format, nil),
		CachedUntil: s.py3.Now().Add(forever),
	}, nil
}
