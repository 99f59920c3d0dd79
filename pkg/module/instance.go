package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// styleKeys are module params applied softly to every output segment.
var styleKeys = []string{
	composite.KeyColor,
	composite.KeyBackground,
	composite.KeyBorder,
	composite.KeyMinWidth,
	composite.KeyAlign,
	composite.KeySeparator,
	composite.KeySeparatorBlockWidth,
	composite.KeyMarkup,
}

// maxErrorText bounds the error message shown in a module's slot.
const maxErrorText = 80

// Status is a point-in-time snapshot of an instance's runtime state.
type Status struct {
	ID          string        `json:"id"`
	Module      string        `json:"module"`
	Running     bool          `json:"running"`
	Loaded      bool          `json:"loaded"`
	UpdateCount int64         `json:"update_count"`
	ErrorCount  int64         `json:"error_count"`
	LastError   string        `json:"last_error,omitempty"`
	LastRun     time.Time     `json:"last_run"`
	LastLatency time.Duration `json:"last_latency"`
	Urgent      bool          `json:"urgent"`
}

// Result is the outcome of one Execute call.
type Result struct {
	// Changed reports whether the instance's combined output differs from
	// the previous one.
	Changed     bool
	CachedUntil time.Time
	Err         error
}

// Instance is one configured module: the module value, its params and the
// latest output of each of its methods.
type Instance struct {
	id       string
	name     string
	instance string

	host    *Host
	params  *Params
	module  Module
	methods []Method
	loadErr error
	logger  *slog.Logger

	// runMu is held shared by updates and exclusively by exclusive clicks.
	runMu sync.RWMutex
	// single serializes methods of single-threaded modules.
	single sync.Mutex

	mu             sync.Mutex
	slots          map[string]*composite.Composite
	output         *composite.Composite
	urgent         bool
	preventRefresh bool
	running        int
	status         Status
}

func newInstance(h *Host, id string, params map[string]any) *Instance {
	name, inst := config.SplitModuleID(id)
	logger := h.logger.With("module", id)
	return &Instance{
		id:       id,
		name:     name,
		instance: inst,
		host:     h,
		params:   NewParams(id, params, logger),
		logger:   logger,
		slots:    make(map[string]*composite.Composite),
		output:   &composite.Composite{},
		status:   Status{ID: id, Module: name},
	}
}

// ID returns the instance id ("name" or "name instance").
func (i *Instance) ID() string { return i.id }

// Name returns the module name part of the id.
func (i *Instance) Name() string { return i.name }

// InstanceName returns the instance part of the id, possibly empty.
func (i *Instance) InstanceName() string { return i.instance }

// Params returns the instance's configured parameters.
func (i *Instance) Params() *Params { return i.params }

// Module returns the module value, or nil if loading failed.
func (i *Instance) Module() Module { return i.module }

// LoadErr returns the error that prevented the module from loading.
func (i *Instance) LoadErr() error { return i.loadErr }

// Methods returns the names of the instance's update methods.
func (i *Instance) Methods() []string {
	names := make([]string, len(i.methods))
	for n, m := range i.methods {
		names[n] = m.Name
	}
	return names
}

// CacheTimeout returns the module's update interval.
func (i *Instance) CacheTimeout() time.Duration {
	d := i.params.Duration("cache_timeout", i.host.cfg.General.CacheTimeout.Duration)
	if d <= 0 {
		d = config.DefaultCacheTimeout
	}
	return d
}

// SingleThreaded reports whether the module's methods must not overlap.
func (i *Instance) SingleThreaded() bool {
	st, ok := i.module.(SingleThreader)
	return ok && st.SingleThreaded()
}

// ExclusiveClicks reports whether clicks must wait for in-flight updates.
func (i *Instance) ExclusiveClicks() bool {
	ec, ok := i.module.(ExclusiveClicker)
	return ok && ec.ExclusiveClicks()
}

// Execute runs one method and stores its output. Panics and errors become
// a red error segment in the method's slot; the instance stays loaded.
func (i *Instance) Execute(ctx context.Context, method string) Result {
	fn := i.method(method)
	if fn == nil {
		return Result{Err: fmt.Errorf("module %q: no method %q", i.id, method)}
	}

	i.runMu.RLock()
	defer i.runMu.RUnlock()
	if i.SingleThreaded() {
		i.single.Lock()
		defer i.single.Unlock()
	}

	i.mu.Lock()
	i.running++
	i.mu.Unlock()

	start := time.Now()
	var resp *Response
	err := capture(func() error {
		var err error
		resp, err = fn(ctx)
		return err
	})
	latency := time.Since(start)

	now := i.host.now()
	cachedUntil := now.Add(i.CacheTimeout())

	var slot *composite.Composite
	urgent := false
	if err != nil {
		err = &RuntimeError{ID: i.id, Method: method, Err: err}
		slot = i.errorComposite(err)
	} else if resp != nil {
		slot, err = i.render(resp)
		if err != nil {
			err = &RuntimeError{ID: i.id, Method: method, Err: err}
			slot = i.errorComposite(err)
		}
		if !resp.CachedUntil.IsZero() {
			cachedUntil = resp.CachedUntil
		}
		urgent = resp.Urgent
	}
	if slot == nil {
		slot = &composite.Composite{}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.running--
	i.slots[method] = slot
	i.urgent = urgent || i.params.Bool(composite.KeyUrgent, false)
	changed := i.rebuildLocked()

	i.status.UpdateCount++
	i.status.LastRun = now
	i.status.LastLatency = latency
	if err != nil {
		i.status.ErrorCount++
		i.status.LastError = err.Error()
	}
	return Result{Changed: changed, CachedUntil: cachedUntil, Err: err}
}

// Click delivers a click event to the module's handler. Modules without a
// handler ignore clicks.
func (i *Instance) Click(ctx context.Context, ev protocol.Event) error {
	h, ok := i.module.(ClickHandler)
	if !ok {
		return nil
	}
	if i.ExclusiveClicks() {
		i.runMu.Lock()
		defer i.runMu.Unlock()
	}
	err := capture(func() error { return h.OnClick(ctx, ev) })
	if err != nil {
		return &RuntimeError{ID: i.id, Method: "on_click", Err: err}
	}
	return nil
}

// Kill calls the module's teardown hook once.
func (i *Instance) Kill() {
	k, ok := i.module.(Killer)
	if !ok {
		return
	}
	if err := capture(func() error { k.Kill(); return nil }); err != nil {
		i.logger.Warn("kill failed", "error", err)
	}
}

// Output returns a copy of the instance's combined output.
func (i *Instance) Output() *composite.Composite {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.output.Copy()
}

// Status returns a snapshot of the instance's runtime state.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	s := i.status
	s.Running = i.running > 0
	s.Loaded = i.loadErr == nil
	s.Urgent = i.urgent
	return s
}

// SetPreventRefresh marks the next click as not triggering a refresh.
func (i *Instance) SetPreventRefresh() {
	i.mu.Lock()
	i.preventRefresh = true
	i.mu.Unlock()
}

// TakePreventRefresh reports and clears the prevent-refresh flag.
func (i *Instance) TakePreventRefresh() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	v := i.preventRefresh
	i.preventRefresh = false
	return v
}

func (i *Instance) method(name string) func(context.Context) (*Response, error) {
	for _, m := range i.methods {
		if m.Name == name {
			return m.Fn
		}
	}
	return nil
}

// render converts a response into the method's slot composite.
func (i *Instance) render(resp *Response) (*composite.Composite, error) {
	var c *composite.Composite
	switch {
	case resp.Composite != nil:
		c = resp.Composite.Copy()
	default:
		c = composite.FromText(resp.FullText)
	}
	if len(resp.Attrs) > 0 {
		if err := c.Update(i.resolveAttrColors(resp.Attrs), false); err != nil {
			return nil, err
		}
	}
	if err := c.Update(i.styleAttrs(), true); err != nil {
		return nil, err
	}
	if resp.Urgent {
		if err := c.Update(map[string]any{composite.KeyUrgent: true}, false); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// styleAttrs collects the module's style params plus [general] defaults.
func (i *Instance) styleAttrs() map[string]any {
	attrs := make(map[string]any)
	g := i.host.cfg.General
	if g.Separator != nil {
		attrs[composite.KeySeparator] = *g.Separator
	}
	if g.Markup != "" {
		attrs[composite.KeyMarkup] = g.Markup
	}
	for _, k := range styleKeys {
		if v, ok := i.params.Raw(k); ok {
			attrs[k] = v
		}
	}
	return i.resolveAttrColors(attrs)
}

func (i *Instance) resolveAttrColors(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if s, ok := v.(string); ok && (k == composite.KeyColor || k == composite.KeyBackground || k == composite.KeyBorder) {
			if c := i.host.resolveColor(i, s); c != "" {
				v = c
			}
		}
		out[k] = v
	}
	return out
}

// rebuildLocked concatenates the slots in method order and reports whether
// the result differs from the previous output.
func (i *Instance) rebuildLocked() bool {
	out := &composite.Composite{}
	for _, m := range i.methods {
		if slot, ok := i.slots[m.Name]; ok {
			out.Append(slot)
		}
	}
	if i.loadErr != nil {
		out = i.errorComposite(i.loadErr)
	}
	if out.Equal(i.output) {
		return false
	}
	i.output = out
	return true
}

// errorComposite renders err as a single red segment.
func (i *Instance) errorComposite(err error) *composite.Composite {
	msg := err.Error()
	var rt *RuntimeError
	var le *LoadError
	switch {
	case errors.As(err, &rt):
		msg = rt.Err.Error()
	case errors.As(err, &le):
		msg = le.Err.Error()
	}
	if utf8.RuneCountInString(msg) > maxErrorText {
		msg = string([]rune(msg)[:maxErrorText-1]) + "…"
	}
	seg := composite.Text(fmt.Sprintf("%s: %s", i.id, msg))
	seg.Color = i.host.palette.Bad
	return composite.New(seg)
}
