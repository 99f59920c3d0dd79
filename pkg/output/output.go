// Package output assembles the bar row from module outputs and the
// upstream frame and writes it to the bar.
//
// Change signals are coalesced over a short debounce window, identical
// rows are not rewritten, and every write goes through one goroutine.
package output

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// IOError reports a failed write to the bar. The bar has gone away; the
// runtime shuts down.
type IOError struct {
	Err error
}

func (e *IOError) Error() string { return "output: write to bar: " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// Modules resolves order entries to module instances. *module.Host
// implements it.
type Modules interface {
	IsModule(id string) bool
	Instance(id string) (*module.Instance, bool)
}

// Upstream supplies upstream segments. *upstream.Reader implements it.
type Upstream interface {
	Lookup(entry string) []composite.Segment
	ErrorSegment() (composite.Segment, bool)
	Updates() <-chan struct{}
}

// Config holds pipeline settings.
type Config struct {
	Order    []string
	Debounce time.Duration
	Header   protocol.Header
	Logger   *slog.Logger
}

// Stats counts pipeline activity.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
	Signals uint64 `json:"signals"`
}

// Pipeline renders and writes rows.
type Pipeline struct {
	cfg      Config
	modules  Modules
	upstream Upstream
	writer   *protocol.Writer
	logger   *slog.Logger

	changes chan struct{}

	mu     sync.Mutex
	last   []byte
	stats  Stats
	paused bool
}

// New creates a pipeline writing to w. upstream may be nil.
func New(w io.Writer, modules Modules, upstream Upstream, cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Header.Version == 0 {
		cfg.Header.Version = protocol.Version
	}
	return &Pipeline{
		cfg:      cfg,
		modules:  modules,
		upstream: upstream,
		writer:   protocol.NewWriter(w),
		logger:   cfg.Logger.With("component", "output"),
		changes:  make(chan struct{}, 1),
	}
}

// Notify signals that some module output changed. It never blocks.
func (p *Pipeline) Notify() {
	p.mu.Lock()
	p.stats.Signals++
	p.mu.Unlock()
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

// ModuleChanged adapts Notify to the scheduler's change callback.
func (p *Pipeline) ModuleChanged(string) { p.Notify() }

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Render computes the current row: order entries left to right, module
// outputs tagged with their name and instance, upstream segments as the
// generator sent them. Each entry is simplified on its own so neighbouring
// entries never merge. While the last upstream frame is malformed the
// error segment stands in for every upstream entry.
func (p *Pipeline) Render() []composite.Segment {
	row := &composite.Composite{}
	upstreamErrShown := false
	for _, entry := range p.cfg.Order {
		if p.modules != nil && p.modules.IsModule(entry) {
			inst, ok := p.modules.Instance(entry)
			if !ok {
				continue
			}
			out := inst.Output()
			tag := map[string]any{composite.KeyName: inst.Name()}
			if inst.InstanceName() != "" {
				tag[composite.KeyInstance] = inst.InstanceName()
			}
			if err := out.Update(tag, false); err != nil {
				p.logger.Warn("tagging module output failed", "module", entry, "error", err)
			}
			out.Simplify()
			row.Append(out)
			continue
		}
		if p.upstream == nil {
			continue
		}
		if seg, bad := p.upstream.ErrorSegment(); bad {
			if !upstreamErrShown {
				row.Append(seg)
				upstreamErrShown = true
			}
			continue
		}
		part := composite.New(p.upstream.Lookup(entry))
		part.Simplify()
		row.Append(part)
	}
	return row.Segments()
}

// Run writes the header and an initial row, then re-renders on every
// change signal until ctx is done. It returns an *IOError if the bar
// stops accepting output.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.writer.Start(p.cfg.Header); err != nil {
		return &IOError{Err: err}
	}
	if err := p.Flush(); err != nil {
		return err
	}

	var upstreamUpdates <-chan struct{}
	if p.upstream != nil {
		upstreamUpdates = p.upstream.Updates()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.changes:
		case <-upstreamUpdates:
		}
		if !p.debounce(ctx, upstreamUpdates) {
			return nil
		}
		if err := p.Flush(); err != nil {
			return err
		}
	}
}

// debounce absorbs further signals for the debounce window. It reports
// false if ctx ended meanwhile.
func (p *Pipeline) debounce(ctx context.Context, upstreamUpdates <-chan struct{}) bool {
	if p.cfg.Debounce <= 0 {
		return true
	}
	timer := time.NewTimer(p.cfg.Debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-p.changes:
		case <-upstreamUpdates:
		}
	}
}

// SetPaused stops or resumes writing rows. The bar sends its stop signal
// while it is hidden; on resume the current row is written at once.
func (p *Pipeline) SetPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
	if !paused {
		p.Notify()
	}
}

// Flush renders and writes the row unless it is identical to the last one
// or output is paused.
func (p *Pipeline) Flush() error {
	p.mu.Lock()
	paused := p.paused
	p.mu.Unlock()
	if paused {
		return nil
	}
	row := p.Render()
	enc, err := protocol.EncodeFrame(row)
	if err != nil {
		return fmt.Errorf("output: encode row: %w", err)
	}

	p.mu.Lock()
	if p.last != nil && bytes.Equal(enc, p.last) {
		p.stats.Skipped++
		p.mu.Unlock()
		return nil
	}
	p.last = enc
	p.stats.Frames++
	p.mu.Unlock()

	if err := p.writer.WriteFrame(row); err != nil {
		return &IOError{Err: err}
	}
	return nil
}
