// Package scheduler runs module update methods on a bounded worker pool.
//
// A single dispatcher goroutine owns a priority queue of (due, module id,
// method, generation) entries. It sleeps until the earliest entry is due or
// until something posts on its wake channel, then hands the entry to a free
// worker slot. Refresh requests bump a task's generation so superseded
// entries are discarded when they surface.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

var (
	// ErrUnknownInstance is returned by Refresh for ids with no scheduled
	// methods.
	ErrUnknownInstance = errors.New("unknown module instance")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("scheduler: already running")
)

// idleWait bounds how long the dispatcher sleeps with an empty queue.
const idleWait = time.Hour

// Config tunes the scheduler.
type Config struct {
	Workers         int
	MinInterval     time.Duration
	MethodTimeout   time.Duration
	BackoffCeiling  time.Duration
	ShutdownGrace   time.Duration
	StarveThreshold time.Duration
	Logger          *slog.Logger
}

// ConfigFrom builds a Config from the [general] section.
func ConfigFrom(g config.GeneralConfig, logger *slog.Logger) Config {
	return Config{
		Workers:         g.Workers,
		MinInterval:     g.MinimumInterval.Duration,
		MethodTimeout:   g.MethodTimeout.Duration,
		BackoffCeiling:  g.BackoffCeiling.Duration,
		ShutdownGrace:   g.ShutdownGrace.Duration,
		StarveThreshold: g.StarveThreshold.Duration,
		Logger:          logger,
	}
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.MethodTimeout <= 0 {
		c.MethodTimeout = 30 * time.Second
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 60 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 2 * time.Second
	}
	if c.StarveThreshold <= 0 {
		c.StarveThreshold = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Source supplies the instances to schedule. *module.Host implements it.
type Source interface {
	Instances() []*module.Instance
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Tasks   int    `json:"tasks"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
	Workers int    `json:"workers"`
	Runs    uint64 `json:"runs"`
	Errors  uint64 `json:"errors"`
	Dropped uint64 `json:"dropped"`
	Lost    uint64 `json:"lost"`
	Starved uint64 `json:"starved"`
}

type key struct {
	id     string
	method string
}

// task is the scheduling state of one (instance, method) pair.
type task struct {
	key
	inst     *module.Instance
	gen      uint64
	due      time.Time
	running  bool
	pending  bool // refresh requested while running
	failures int
	lastDone time.Time
}

// Scheduler dispatches module method runs.
type Scheduler struct {
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	onChange func(id string)

	sem    *semaphore.Weighted
	wake   chan struct{}
	runs   sync.WaitGroup
	starve rate.Sometimes

	mu    sync.Mutex
	tasks map[key]*task
	all   []*task // in instance and method order
	byID  map[string][]*task
	queue entryHeap
	seq   uint64
	stats Stats

	started atomic.Bool
}

// New creates a scheduler for every method of every instance in src.
// Instances that failed to load have no methods and are not scheduled.
func New(src Source, cfg Config) *Scheduler {
	cfg.defaults()
	s := &Scheduler{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "scheduler"),
		now:    time.Now,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		wake:   make(chan struct{}, 1),
		starve: rate.Sometimes{Interval: 30 * time.Second},
		tasks:  make(map[key]*task),
		byID:   make(map[string][]*task),
	}
	for _, inst := range src.Instances() {
		for _, m := range inst.Methods() {
			k := key{id: inst.ID(), method: m}
			t := &task{key: k, inst: inst}
			s.tasks[k] = t
			s.all = append(s.all, t)
			s.byID[k.id] = append(s.byID[k.id], t)
		}
	}
	return s
}

// OnChange registers fn to be called when an instance's output changes.
// It must be set before Run.
func (s *Scheduler) OnChange(fn func(id string)) {
	s.onChange = fn
}

// Run schedules every task immediately and dispatches until ctx is done.
// On return in-flight runs have finished or the shutdown grace elapsed.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	s.mu.Lock()
	now := s.now()
	for _, t := range s.all {
		t.due = now
		s.pushLocked(t)
	}
	s.mu.Unlock()

	s.logger.Debug("scheduler started", "tasks", len(s.tasks), "workers", s.cfg.Workers)
	s.dispatch(ctx)
	s.drain()
	return nil
}

// Refresh makes every method of the instance due now, subject to the
// minimum interval since its last completion. Methods already running run
// again as soon as they finish.
func (s *Scheduler) Refresh(id string) error {
	s.mu.Lock()
	ts, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownInstance, id)
	}
	now := s.now()
	for _, t := range ts {
		s.refreshLocked(t, now)
	}
	s.mu.Unlock()
	s.signal()
	return nil
}

// RefreshAll refreshes every scheduled instance.
func (s *Scheduler) RefreshAll() {
	s.mu.Lock()
	now := s.now()
	for _, t := range s.all {
		s.refreshLocked(t, now)
	}
	s.mu.Unlock()
	s.signal()
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Tasks = len(s.tasks)
	st.Queued = s.queue.Len()
	st.Workers = s.cfg.Workers
	st.Running = 0
	for _, t := range s.tasks {
		if t.running {
			st.Running++
		}
	}
	return st
}

func (s *Scheduler) refreshLocked(t *task, now time.Time) {
	if t.running {
		t.pending = true
		return
	}
	due := now
	if !t.lastDone.IsZero() {
		if earliest := t.lastDone.Add(s.cfg.MinInterval); earliest.After(due) {
			due = earliest
		}
	}
	t.gen++
	t.due = due
	s.pushLocked(t)
}

// signal wakes the dispatcher without blocking.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch is the dispatcher loop. It blocks only on the wake channel, the
// timer for the next due entry, or ctx.
func (s *Scheduler) dispatch(ctx context.Context) {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		wait := idleWait

		s.mu.Lock()
		if t, ok := s.peekLocked(); ok {
			now := s.now()
			late := now.Sub(t.due)
			switch {
			case late < 0:
				wait = -late
			case s.sem.TryAcquire(1):
				s.popLocked(t)
				s.mu.Unlock()
				s.start(ctx, t)
				continue
			default:
				// Every worker is busy; a free slot signals wake.
				if late > s.cfg.StarveThreshold {
					s.starvedLocked(late)
				}
				wait = s.cfg.StarveThreshold
			}
		}
		s.mu.Unlock()

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// popLocked removes t's entry from the top of the queue and marks it
// running.
func (s *Scheduler) popLocked(t *task) {
	heap.Pop(&s.queue)
	t.running = true
}

// starvedLocked logs a queue backlog and drops superseded entries.
func (s *Scheduler) starvedLocked(late time.Duration) {
	s.stats.Starved++
	s.pruneLocked()
	queued := s.queue.Len()
	s.starve.Do(func() {
		s.logger.Warn("workers saturated, updates delayed",
			"late", late.Round(time.Millisecond), "queued", queued, "workers", s.cfg.Workers)
	})
}

// start runs t on a worker slot. The slot is released when the method
// returns or when it overruns the method timeout, whichever comes first;
// an overrunning method keeps running and is marked lost.
func (s *Scheduler) start(ctx context.Context, t *task) {
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.sem.Release(1)
			s.signal()
		})
	}

	lost := time.AfterFunc(s.cfg.MethodTimeout, func() {
		s.mu.Lock()
		s.stats.Lost++
		s.mu.Unlock()
		s.logger.Warn("update exceeded timeout, worker considered lost",
			"module", t.id, "method", t.method, "timeout", s.cfg.MethodTimeout)
		release()
	})

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		rctx, cancel := context.WithTimeout(ctx, s.cfg.MethodTimeout)
		res := t.inst.Execute(rctx, t.method)
		cancel()
		lost.Stop()
		release()
		s.complete(t, res)
	}()
}

// complete records a finished run and enqueues the next one.
func (s *Scheduler) complete(t *task, res module.Result) {
	s.mu.Lock()
	now := s.now()
	t.running = false
	t.lastDone = now
	s.stats.Runs++

	next := res.CachedUntil
	if res.Err != nil {
		s.stats.Errors++
		t.failures++
		next = now.Add(s.backoff(t.failures))
	} else {
		t.failures = 0
	}
	if earliest := now.Add(s.cfg.MinInterval); next.Before(earliest) {
		next = earliest
	}
	if t.pending {
		t.pending = false
		next = now.Add(s.cfg.MinInterval)
	}
	t.gen++
	t.due = next
	s.pushLocked(t)
	failures := t.failures
	s.mu.Unlock()
	s.signal()

	if res.Err != nil {
		s.logger.Warn("update failed", "module", t.id, "method", t.method,
			"error", res.Err, "failures", failures, "retry_in", next.Sub(now).Round(time.Millisecond))
	}
	if res.Changed && s.onChange != nil {
		s.onChange(t.id)
	}
}

// backoff returns the retry delay after n consecutive failures: 1s, 2s,
// 4s, ... capped at the configured ceiling.
func (s *Scheduler) backoff(n int) time.Duration {
	d := time.Second
	for i := 1; i < n && d < s.cfg.BackoffCeiling; i++ {
		d *= 2
	}
	if d > s.cfg.BackoffCeiling {
		d = s.cfg.BackoffCeiling
	}
	return d
}

// drain waits for in-flight runs up to the shutdown grace, then forgets
// them.
func (s *Scheduler) drain() {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.Warn("shutdown grace elapsed with updates still running", "grace", s.cfg.ShutdownGrace)
	}
}
