// Package modtest loads a single module into a throwaway host so built-in
// modules can be tested without a scheduler or a bar.
package modtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// Now is the fixed clock harnesses use unless WithNow overrides it.
var Now = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

// Harness is one loaded instance plus the host around it.
type Harness struct {
	Host *module.Host
	Inst *module.Instance

	refresher *recorder
}

type options struct {
	instance string
	now      func() time.Time
	colors   map[string]string
}

// Option configures a harness.
type Option func(*options)

// WithInstance loads the module as "name instance".
func WithInstance(instance string) Option {
	return func(o *options) { o.instance = instance }
}

// WithNow replaces the host clock.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithColors sets [colors] entries.
func WithColors(colors map[string]string) Option {
	return func(o *options) { o.colors = colors }
}

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) Refresh(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

// Load registers factory under name and loads one instance with params. It
// returns the host's error for config errors and the instance's load error
// for any other failure.
func Load(name string, factory module.Factory, params map[string]any, opts ...Option) (*Harness, error) {
	o := options{now: func() time.Time { return Now }}
	for _, opt := range opts {
		opt(&o)
	}
	id := config.ModuleID(name, o.instance)

	reg := module.NewRegistry()
	if err := reg.Register(name, factory); err != nil {
		return nil, err
	}
	cfg := config.DefaultConfig()
	if params != nil {
		cfg.Modules[id] = params
	}
	for k, v := range o.colors {
		cfg.Colors[k] = v
	}
	host := module.NewHost(module.HostConfig{
		Registry:       reg,
		Config:         cfg,
		Now:            o.now,
		CommandTimeout: 5 * time.Second,
	})
	rec := &recorder{}
	host.SetRefresher(rec)
	if err := host.Load(context.Background(), []string{id}); err != nil {
		return nil, err
	}
	inst, _ := host.Instance(id)
	if err := inst.LoadErr(); err != nil {
		return nil, err
	}
	return &Harness{Host: host, Inst: inst, refresher: rec}, nil
}

// New is Load that fails the test on error.
func New(t testing.TB, name string, factory module.Factory, params map[string]any, opts ...Option) *Harness {
	t.Helper()
	h, err := Load(name, factory, params, opts...)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	t.Cleanup(h.Inst.Kill)
	return h
}

// Run executes every method once and returns the combined results.
func (h *Harness) Run() []module.Result {
	var out []module.Result
	for _, m := range h.Inst.Methods() {
		out = append(out, h.Inst.Execute(context.Background(), m))
	}
	return out
}

// Update runs every method, failing the test on any error, and returns the
// output text.
func (h *Harness) Update(t testing.TB) string {
	t.Helper()
	for _, res := range h.Run() {
		if res.Err != nil {
			t.Fatalf("%s update: %v", h.Inst.ID(), res.Err)
		}
	}
	return h.Inst.Output().Text()
}

// Output returns the instance's current output.
func (h *Harness) Output() *composite.Composite { return h.Inst.Output() }

// Segments returns the instance's current output segments.
func (h *Harness) Segments() []composite.Segment { return h.Inst.Output().Segments() }

// Click delivers a click for the instance.
func (h *Harness) Click(t testing.TB, button int) {
	t.Helper()
	ev := protocol.Event{Name: h.Inst.Name(), Instance: h.Inst.InstanceName(), Button: button}
	if err := h.Inst.Click(context.Background(), ev); err != nil {
		t.Fatalf("click: %v", err)
	}
}

// Refreshes returns the ids the module asked to refresh.
func (h *Harness) Refreshes() []string {
	h.refresher.mu.Lock()
	defer h.refresher.mu.Unlock()
	return append([]string(nil), h.refresher.ids...)
}
