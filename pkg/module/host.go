package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/formatter"
	"gitlab.com/tinyland/lab/barpulse/pkg/storage"
	"gitlab.com/tinyland/lab/barpulse/pkg/theme"
)

// Refresher schedules immediate updates. The scheduler implements it; the
// host forwards Py3.UpdateModule calls through it.
type Refresher interface {
	Refresh(id string) error
}

// HostConfig holds the host's dependencies.
type HostConfig struct {
	Registry  *Registry
	Config    *config.Config
	Palette   theme.Theme
	Storage   *storage.Store
	Formatter *formatter.Formatter
	Logger    *slog.Logger

	// HTTPClient is shared by every module's Request helper.
	HTTPClient *http.Client
	// CommandTimeout bounds CommandOutput and CommandRun.
	CommandTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Host instantiates configured modules and owns their instances.
type Host struct {
	cfg        *config.Config
	registry   *Registry
	palette    theme.Theme
	store      *storage.Store
	formatter  *formatter.Formatter
	logger     *slog.Logger
	client     *http.Client
	cmdTimeout time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	instances map[string]*Instance
	ordered   []*Instance
	refresher Refresher
}

// NewHost creates a host. Nil fields in cfg get working defaults.
func NewHost(cfg HostConfig) *Host {
	h := &Host{
		cfg:        cfg.Config,
		registry:   cfg.Registry,
		palette:    cfg.Palette,
		store:      cfg.Storage,
		formatter:  cfg.Formatter,
		logger:     cfg.Logger,
		client:     cfg.HTTPClient,
		cmdTimeout: cfg.CommandTimeout,
		now:        cfg.Now,
		instances:  make(map[string]*Instance),
	}
	if h.cfg == nil {
		h.cfg = config.DefaultConfig()
	}
	if h.registry == nil {
		h.registry = NewRegistry()
	}
	if h.palette.Name == "" {
		h.palette = theme.Get("default")
	}
	if h.store == nil {
		h.store, _ = storage.Open("", cfg.Logger)
	}
	if h.formatter == nil {
		h.formatter = formatter.New(formatter.DefaultCacheSize)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: 10 * time.Second}
	}
	if h.cmdTimeout <= 0 {
		h.cmdTimeout = 10 * time.Second
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// SetRefresher installs the scheduler used by UpdateModule.
func (h *Host) SetRefresher(r Refresher) {
	h.mu.Lock()
	h.refresher = r
	h.mu.Unlock()
}

// Config returns the runtime configuration.
func (h *Host) Config() *config.Config { return h.cfg }

// Palette returns the active theme.
func (h *Host) Palette() theme.Theme { return h.palette }

// IsModule reports whether an order entry is served by a module rather
// than passed through from upstream. Entries with a [modules] section are
// modules even if no factory exists; they load with an error.
func (h *Host) IsModule(id string) bool {
	name, _ := config.SplitModuleID(id)
	if _, ok := h.registry.Get(name); ok {
		return true
	}
	_, configured := h.cfg.Modules[id]
	return configured
}

// Load instantiates every module entry in ids, in order. Duplicate ids
// share one instance. A missing required parameter aborts loading with a
// *config.Error; every other failure leaves the instance in place with a
// persistent error segment.
func (h *Host) Load(ctx context.Context, ids []string) error {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !h.IsModule(id) {
			continue
		}
		h.mu.RLock()
		_, seen := h.instances[id]
		h.mu.RUnlock()
		if seen {
			continue
		}

		inst, err := h.load(ctx, id)
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			return err
		}
		if err != nil {
			h.logger.Error("module failed to load", "module", id, "error", err)
		}
		h.mu.Lock()
		h.instances[id] = inst
		h.ordered = append(h.ordered, inst)
		h.mu.Unlock()
	}
	return nil
}

func (h *Host) load(ctx context.Context, id string) (*Instance, error) {
	inst := newInstance(h, id, h.cfg.ModuleParams(id))
	fail := func(err error) (*Instance, error) {
		inst.loadErr = &LoadError{ID: id, Err: err}
		inst.methods = nil
		inst.module = nil
		inst.rebuildLocked()
		return inst, inst.loadErr
	}

	factory, ok := h.registry.Get(inst.name)
	if !ok {
		return fail(ErrUnknownModule)
	}

	py3 := &Py3{host: h, inst: inst}
	var mod Module
	err := capture(func() error {
		var err error
		mod, err = factory(py3)
		return err
	})
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return nil, err
	}
	if err != nil {
		return fail(err)
	}
	if mod == nil {
		return fail(errors.New("factory returned no module"))
	}
	inst.module = mod

	if pc, ok := mod.(PostConfigurer); ok {
		err := capture(func() error { return pc.PostConfig(ctx) })
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		if err != nil {
			return fail(fmt.Errorf("post config: %w", err))
		}
	}

	var methods []Method
	err = capture(func() error { methods = mod.Methods(); return nil })
	if err != nil {
		return fail(err)
	}
	if len(methods) == 0 {
		return fail(errors.New("module has no update methods"))
	}
	inst.methods = methods
	h.logger.Debug("module loaded", "module", id, "methods", inst.Methods())
	return inst, nil
}

// Instances returns loaded instances in first-seen order.
func (h *Host) Instances() []*Instance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Instance(nil), h.ordered...)
}

// Instance returns the instance with the exact id.
func (h *Host) Instance(id string) (*Instance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.instances[id]
	return inst, ok
}

// Match returns the instance a click on (name, instance) is routed to.
func (h *Host) Match(name, instance string) (*Instance, bool) {
	return h.Instance(config.ModuleID(name, instance))
}

// Resolve maps a user-supplied reference to instances. It accepts an exact
// id, "name.instance", or a bare module name matching every instance of
// that module.
func (h *Host) Resolve(ref string) []*Instance {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	if inst, ok := h.Instance(ref); ok {
		return []*Instance{inst}
	}
	if name, instance, ok := strings.Cut(ref, "."); ok {
		if inst, ok := h.Match(name, instance); ok {
			return []*Instance{inst}
		}
	}
	var out []*Instance
	for _, inst := range h.Instances() {
		if inst.name == ref {
			out = append(out, inst)
		}
	}
	return out
}

// Statuses returns a status snapshot for every instance.
func (h *Host) Statuses() []Status {
	insts := h.Instances()
	out := make([]Status, 0, len(insts))
	for _, inst := range insts {
		out = append(out, inst.Status())
	}
	return out
}

// KillAll calls every module's Kill hook.
func (h *Host) KillAll() {
	for _, inst := range h.Instances() {
		inst.Kill()
	}
}

// refresh forwards to the installed Refresher.
func (h *Host) refresh(id string) error {
	h.mu.RLock()
	r := h.refresher
	h.mu.RUnlock()
	if r == nil {
		return errors.New("no scheduler attached")
	}
	return r.Refresh(id)
}

// resolveColor maps a color name as seen by inst to a hex value. Lookup
// order: hex literal, the module's color_<name> param, [colors], palette.
// It returns "" for unknown names and "none" for the none sentinel.
func (h *Host) resolveColor(inst *Instance, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case name == composite.ColorNone:
		return name
	case theme.IsHex(name):
		return theme.NormalizeHex(name)
	}
	if inst != nil {
		if v := inst.params.String("color_"+name, ""); v != "" && v != name {
			if v == composite.ColorNone || theme.IsHex(v) {
				return h.resolveColor(nil, v)
			}
			if c := h.resolveColor(nil, v); c != "" {
				return c
			}
		}
	}
	if v, ok := h.cfg.Colors[name]; ok {
		return h.resolveColor(nil, v)
	}
	if v, ok := h.palette.Color(name); ok {
		return theme.NormalizeHex(v)
	}
	return ""
}
