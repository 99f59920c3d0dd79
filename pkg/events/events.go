// Package events reads click events from the bar and routes each one to
// the module instance that produced the clicked segment.
package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// queueSize bounds events waiting for the event goroutine.
const queueSize = 64

// Matcher finds the instance a click belongs to. *module.Host implements it.
type Matcher interface {
	Match(name, instance string) (*module.Instance, bool)
}

// Refresher schedules an immediate update. *scheduler.Scheduler implements
// it.
type Refresher interface {
	Refresh(id string) error
}

// Upstream is the upstream generator as seen by the router: clicks on
// segments it owns ask it for a new frame. *upstream.Reader implements it.
type Upstream interface {
	Lookup(entry string) []composite.Segment
	Refresh() error
}

// Router reads events and invokes click handlers one at a time on its own
// goroutine, so a slow handler never stalls stdin.
type Router struct {
	matcher   Matcher
	refresher Refresher
	upstream  Upstream
	logger    *slog.Logger

	queue   chan protocol.Event
	dropLog rate.Sometimes

	mu      sync.Mutex
	handled uint64
	dropped uint64
}

// New creates a router. upstream may be nil.
func New(m Matcher, r Refresher, upstream Upstream, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		matcher:   m,
		refresher: r,
		upstream:  upstream,
		logger:    logger.With("component", "events"),
		queue:     make(chan protocol.Event, queueSize),
		dropLog:   rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Run reads events from in until EOF or ctx is done, dispatching them on
// a separate goroutine. It returns nil at EOF.
func (r *Router) Run(ctx context.Context, in io.Reader) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.loop(ctx)
	}()
	defer func() {
		close(r.queue)
		<-done
	}()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		ev, ok, err := protocol.ParseEvent(sc.Bytes())
		if err != nil {
			r.logger.Debug("ignoring malformed click event", "error", err)
			continue
		}
		if !ok {
			continue
		}
		r.enqueue(ev)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("events: read stdin: %w", err)
	}
	r.logger.Debug("click event stream closed")
	return nil
}

func (r *Router) enqueue(ev protocol.Event) {
	select {
	case r.queue <- ev:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.dropLog.Do(func() {
			r.logger.Warn("click handlers backed up, dropping events", "name", ev.Name)
		})
	}
}

func (r *Router) loop(ctx context.Context) {
	for ev := range r.queue {
		if ctx.Err() != nil {
			continue
		}
		r.Dispatch(ctx, ev)
	}
}

// Dispatch routes one event synchronously. Clicks on upstream segments
// refresh the upstream generator; anything else unmatched is dropped.
func (r *Router) Dispatch(ctx context.Context, ev protocol.Event) {
	inst, ok := r.matcher.Match(ev.Name, ev.Instance)
	if !ok {
		if r.upstream != nil && len(r.upstream.Lookup(config.ModuleID(ev.Name, ev.Instance))) > 0 {
			if err := r.upstream.Refresh(); err != nil {
				r.logger.Debug("upstream refresh failed", "error", err)
			}
			return
		}
		r.logger.Debug("click matched no module", "name", ev.Name, "instance", ev.Instance)
		return
	}

	r.mu.Lock()
	r.handled++
	r.mu.Unlock()

	if err := inst.Click(ctx, ev); err != nil {
		r.logger.Error("click handler failed", "module", inst.ID(), "button", ev.Button, "error", err)
	}
	cmdRefresh := r.runOnClick(ctx, inst, ev)

	if inst.TakePreventRefresh() && !cmdRefresh {
		return
	}
	if err := r.refresher.Refresh(inst.ID()); err != nil {
		r.logger.Debug("refresh after click failed", "module", inst.ID(), "error", err)
	}
}

// runOnClick runs the module's on_click command for the button, if any.
// The param is a table keyed by button number; the value "refresh" only
// forces a refresh. It reports whether a refresh was requested that way.
func (r *Router) runOnClick(ctx context.Context, inst *module.Instance, ev protocol.Event) bool {
	raw, ok := inst.Params().Raw("on_click")
	if !ok {
		return false
	}
	table, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	cmd, ok := table[strconv.Itoa(ev.Button)].(string)
	if !ok || cmd == "" {
		return false
	}
	if cmd == "refresh" {
		return true
	}
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	if err := c.Start(); err != nil {
		r.logger.Warn("on_click command failed", "module", inst.ID(), "command", cmd, "error", err)
		return false
	}
	go func() { _ = c.Wait() }()
	return false
}

// Stats returns handled and dropped event counts.
func (r *Router) Stats() (handled, dropped uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled, r.dropped
}
