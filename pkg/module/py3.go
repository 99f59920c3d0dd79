package module

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/storage"
)

// Py3 is the helper facade handed to every module instance. It carries the
// instance's identity and gives modules formatting, colors, commands, HTTP,
// storage, logging and inter-module calls without reaching into the host.
type Py3 struct {
	host *Host
	inst *Instance
}

// ID returns the instance id.
func (p *Py3) ID() string { return p.inst.id }

// Name returns the module name.
func (p *Py3) Name() string { return p.inst.name }

// Instance returns the instance name, possibly empty.
func (p *Py3) Instance() string { return p.inst.instance }

// Params returns the instance's configured parameters.
func (p *Py3) Params() *Params { return p.inst.params }

// Logger returns a logger tagged with the module id.
func (p *Py3) Logger() *slog.Logger { return p.inst.logger }

// Log writes an info-level message tagged with the module id.
func (p *Py3) Log(msg string, args ...any) {
	p.inst.logger.Info(msg, args...)
}

// CacheTimeout returns the module's configured update interval.
func (p *Py3) CacheTimeout() time.Duration { return p.inst.CacheTimeout() }

// Now returns the host clock's current time.
func (p *Py3) Now() time.Time { return p.host.now() }

// TimeIn returns the instant to use as CachedUntil for an update after d.
// A positive syncTo rounds the result up to the next multiple of syncTo,
// so a clock ticking every minute updates on the minute.
func (p *Py3) TimeIn(d, syncTo time.Duration) time.Time {
	t := p.host.now().Add(d)
	if syncTo > 0 {
		r := t.Truncate(syncTo)
		if r.Before(t) {
			r = r.Add(syncTo)
		}
		t = r
	}
	return t
}

// UpdateModule requests an immediate refresh of every instance matching
// ref ("name", "name instance" or "name.instance").
func (p *Py3) UpdateModule(ref string) error {
	insts := p.host.Resolve(ref)
	if len(insts) == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownModule, ref)
	}
	var errs []error
	for _, inst := range insts {
		errs = append(errs, p.host.refresh(inst.id))
	}
	return errors.Join(errs...)
}

// UpdateSelf requests an immediate refresh of this instance.
func (p *Py3) UpdateSelf() error {
	return p.host.refresh(p.inst.id)
}

// ModuleOutput returns another instance's current output.
func (p *Py3) ModuleOutput(id string) (*composite.Composite, bool) {
	inst, ok := p.host.Instance(id)
	if !ok {
		return nil, false
	}
	return inst.Output(), true
}

// PreventRefresh suppresses the refresh that normally follows the click
// currently being handled.
func (p *Py3) PreventRefresh() {
	p.inst.SetPreventRefresh()
}

// StorageGet decodes the module's stored value for key into v.
func (p *Py3) StorageGet(key string, v any) (bool, error) {
	return p.host.store.Get(p.inst.id, key, v)
}

// StorageSet persists value under key for this module.
func (p *Py3) StorageSet(key string, value any) error {
	return p.host.store.Set(p.inst.id, key, value)
}

// StorageDel removes key from this module's storage.
func (p *Py3) StorageDel(key string) error {
	return p.host.store.Delete(p.inst.id, key)
}

// StorageKeys lists this module's stored keys.
func (p *Py3) StorageKeys() []string {
	return p.host.store.Keys(p.inst.id)
}

// Storage returns the shared store, for typed access via storage.GetTyped.
func (p *Py3) Storage() *storage.Store { return p.host.store }
