// Package module defines the contract display modules implement, the
// registry of module factories, and the Host that instantiates configured
// modules and hands each one a Py3 facade.
package module

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// Module is the interface all display modules implement. Implementations
// live in sub-packages of pkg/modules and are registered with a Registry.
type Module interface {
	// Methods returns the update entry points. Each method is scheduled
	// independently and its output occupies its own slot; slots are
	// concatenated in the order returned here.
	Methods() []Method
}

// Method is one update entry point.
type Method struct {
	Name string
	Fn   func(ctx context.Context) (*Response, error)
}

// Response is the result of one method run. A nil *Response means "no
// output": the method's slot is cleared and it is rescheduled normally.
type Response struct {
	FullText  string
	Composite *composite.Composite

	// Attrs are style attributes applied to every segment, overriding
	// what the segments carry.
	Attrs map[string]any

	// CachedUntil is when the method should run next. Zero means now plus
	// the module's cache_timeout.
	CachedUntil time.Time
	Urgent      bool
}

// Factory creates a module instance. The Py3 facade carries the instance's
// identity, parameters and helpers.
type Factory func(py3 *Py3) (Module, error)

// PostConfigurer is implemented by modules that need a setup step after
// construction, such as validating params or opening clients.
type PostConfigurer interface {
	PostConfig(ctx context.Context) error
}

// ClickHandler is implemented by modules that react to click events.
type ClickHandler interface {
	OnClick(ctx context.Context, ev protocol.Event) error
}

// Killer is implemented by modules with teardown work. Kill is called once
// at shutdown.
type Killer interface {
	Kill()
}

// SingleThreader is implemented by modules whose methods must never run
// concurrently with each other.
type SingleThreader interface {
	SingleThreaded() bool
}

// ExclusiveClicker is implemented by modules whose click handler must not
// race with in-flight updates.
type ExclusiveClicker interface {
	ExclusiveClicks() bool
}

var (
	// ErrUnknownModule is returned when a configured module name has no
	// registered factory.
	ErrUnknownModule = errors.New("unknown module")

	// ErrDuplicate is returned when a factory name is registered twice.
	ErrDuplicate = errors.New("module already registered")
)

// LoadError reports a module that failed to instantiate. The host keeps
// running and shows a persistent error segment in the module's slot.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load module %q: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RuntimeError reports a failed update method run.
type RuntimeError struct {
	ID     string
	Method string
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("module %q method %s: %v", e.ID, e.Method, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from module code.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// capture runs fn and converts a panic into a *PanicError.
func capture(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
