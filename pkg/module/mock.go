package module

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// MockModule implements Module for testing. It returns configurable text
// from a single "update" method and counts updates, clicks and kills.
type MockModule struct {
	text        string
	err         error
	cachedUntil time.Duration

	mu         sync.RWMutex
	callCount  atomic.Int64
	clickCount atomic.Int64
	killed     atomic.Bool
	lastClick  protocol.Event

	// UpdateFunc, if set, overrides the default update behavior. Tests use
	// it to block, count concurrency or vary output per call.
	UpdateFunc func(ctx context.Context) (*Response, error)
	// ClickFunc, if set, runs on every click.
	ClickFunc func(ctx context.Context, ev protocol.Event) error
	// Exclusive is returned from ExclusiveClicks.
	Exclusive bool
	// Single is returned from SingleThreaded.
	Single bool
}

// MockModuleOption configures a MockModule.
type MockModuleOption func(*MockModule)

// WithText sets the text returned by update.
func WithText(text string) MockModuleOption {
	return func(m *MockModule) { m.text = text }
}

// WithError sets the error returned by update.
func WithError(err error) MockModuleOption {
	return func(m *MockModule) { m.err = err }
}

// WithCachedFor makes update ask to be rerun after d.
func WithCachedFor(d time.Duration) MockModuleOption {
	return func(m *MockModule) { m.cachedUntil = d }
}

// WithUpdateFunc sets a custom update function.
func WithUpdateFunc(fn func(ctx context.Context) (*Response, error)) MockModuleOption {
	return func(m *MockModule) { m.UpdateFunc = fn }
}

// WithClickFunc sets a custom click handler.
func WithClickFunc(fn func(ctx context.Context, ev protocol.Event) error) MockModuleOption {
	return func(m *MockModule) { m.ClickFunc = fn }
}

// NewMockModule creates a mock module with the given options.
func NewMockModule(opts ...MockModuleOption) *MockModule {
	m := &MockModule{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Factory returns a Factory that always yields m.
func (m *MockModule) Factory() Factory {
	return func(*Py3) (Module, error) { return m, nil }
}

// Methods returns the single "update" method.
func (m *MockModule) Methods() []Method {
	return []Method{{Name: "update", Fn: m.update}}
}

func (m *MockModule) update(ctx context.Context) (*Response, error) {
	m.callCount.Add(1)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	resp := &Response{FullText: m.text}
	if m.cachedUntil > 0 {
		resp.CachedUntil = time.Now().Add(m.cachedUntil)
	}
	return resp, nil
}

// SetText updates the returned text (thread-safe).
func (m *MockModule) SetText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
}

// SetError updates the returned error (thread-safe).
func (m *MockModule) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// OnClick records the event and delegates to ClickFunc if set.
func (m *MockModule) OnClick(ctx context.Context, ev protocol.Event) error {
	m.clickCount.Add(1)
	m.mu.Lock()
	m.lastClick = ev
	m.mu.Unlock()
	if m.ClickFunc != nil {
		return m.ClickFunc(ctx, ev)
	}
	return nil
}

// Kill records that teardown ran.
func (m *MockModule) Kill() { m.killed.Store(true) }

// SingleThreaded reports the Single field.
func (m *MockModule) SingleThreaded() bool { return m.Single }

// ExclusiveClicks reports the Exclusive field.
func (m *MockModule) ExclusiveClicks() bool { return m.Exclusive }

// CallCount returns how many times update has been called.
func (m *MockModule) CallCount() int64 { return m.callCount.Load() }

// ClickCount returns how many clicks were delivered.
func (m *MockModule) ClickCount() int64 { return m.clickCount.Load() }

// LastClick returns the most recent click event.
func (m *MockModule) LastClick() protocol.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastClick
}

// Killed reports whether Kill was called.
func (m *MockModule) Killed() bool { return m.killed.Load() }
