package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// testHost loads the given modules, keyed by id, into a host.
func testHost(t *testing.T, mods map[string]module.Module, params map[string]map[string]any, order ...string) *module.Host {
	t.Helper()
	reg := module.NewRegistry()
	for id, m := range mods {
		m := m
		name, _ := config.SplitModuleID(id)
		if _, ok := reg.Get(name); ok {
			continue
		}
		reg.MustRegister(name, func(p *module.Py3) (module.Module, error) {
			if mm, ok := mods[p.ID()]; ok {
				return mm, nil
			}
			return m, nil
		})
	}
	cfg := config.DefaultConfig()
	cfg.Modules = params
	h := module.NewHost(module.HostConfig{Registry: reg, Config: cfg})
	if err := h.Load(context.Background(), order); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return h
}

// runFor runs s until d elapses and returns once Run has returned.
func runFor(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// startBackground runs s until the returned stop function is called.
func startBackground(s *Scheduler) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- Ordering ---

func TestSchedulerCacheTimeoutOrdering(t *testing.T) {
	m1 := module.NewMockModule(module.WithText("one"))
	m2 := module.NewMockModule(module.WithText("two"))
	h := testHost(t,
		map[string]module.Module{"m1": m1, "m2": m2},
		map[string]map[string]any{
			"m1": {"cache_timeout": "200ms"},
			"m2": {"cache_timeout": "400ms"},
		},
		"m1", "m2")

	s := New(h, Config{MinInterval: 10 * time.Millisecond})
	runFor(t, s, 790*time.Millisecond)

	if got := m1.CallCount(); got < 3 || got > 5 {
		t.Errorf("m1 updates = %d, want 4±1", got)
	}
	if got := m2.CallCount(); got < 1 || got > 3 {
		t.Errorf("m2 updates = %d, want 2±1", got)
	}
	if m1.CallCount() <= m2.CallCount() {
		t.Errorf("m1 (%d) should update more often than m2 (%d)", m1.CallCount(), m2.CallCount())
	}
}

func TestSchedulerRunTwice(t *testing.T) {
	h := testHost(t, map[string]module.Module{"m": module.NewMockModule()}, nil, "m")
	s := New(h, Config{})
	stop := startBackground(s)
	defer stop()
	waitFor(t, "first run", time.Second, func() bool { return s.Stats().Runs >= 1 })
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

// --- Serialization ---

func TestSchedulerSerializesMethod(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	m := module.NewMockModule(module.WithUpdateFunc(func(context.Context) (*module.Response, error) {
		n := inflight.Add(1)
		for {
			cur := maxInflight.Load()
			if n <= cur || maxInflight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return &module.Response{FullText: "x"}, nil
	}))
	h := testHost(t, map[string]module.Module{"busy": m}, nil, "busy")
	s := New(h, Config{Workers: 4})
	stop := startBackground(s)

	for range 20 {
		if err := s.Refresh("busy"); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	if got := maxInflight.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
	if m.CallCount() < 2 {
		t.Errorf("refreshes produced %d runs, want at least 2", m.CallCount())
	}
}

type pairModule struct {
	inflight, max atomic.Int32
}

func (p *pairModule) run(context.Context) (*module.Response, error) {
	n := p.inflight.Add(1)
	if n > p.max.Load() {
		p.max.Store(n)
	}
	time.Sleep(30 * time.Millisecond)
	p.inflight.Add(-1)
	return &module.Response{FullText: "p"}, nil
}

func (p *pairModule) Methods() []module.Method {
	return []module.Method{{Name: "a", Fn: p.run}, {Name: "b", Fn: p.run}}
}

func (p *pairModule) SingleThreaded() bool { return true }

func TestSchedulerSingleThreadedInstance(t *testing.T) {
	p := &pairModule{}
	h := testHost(t, map[string]module.Module{"pair": p}, nil, "pair")
	s := New(h, Config{Workers: 4})
	runFor(t, s, 150*time.Millisecond)

	if got := p.max.Load(); got != 1 {
		t.Errorf("single-threaded module ran %d methods concurrently", got)
	}
}

// --- Refresh ---

func TestSchedulerRefreshUnknown(t *testing.T) {
	h := testHost(t, map[string]module.Module{"m": module.NewMockModule()}, nil, "m")
	s := New(h, Config{})
	if err := s.Refresh("nope"); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("Refresh(nope) = %v, want ErrUnknownInstance", err)
	}
}

func TestSchedulerRefreshCoalesces(t *testing.T) {
	m := module.NewMockModule(module.WithText("x"))
	h := testHost(t,
		map[string]module.Module{"m": m},
		map[string]map[string]any{"m": {"cache_timeout": "1h"}},
		"m")
	s := New(h, Config{MinInterval: 100 * time.Millisecond})
	stop := startBackground(s)
	defer stop()

	waitFor(t, "first run", time.Second, func() bool { return s.Stats().Runs == 1 })
	for range 5 {
		_ = s.Refresh("m")
	}
	waitFor(t, "refresh run", time.Second, func() bool { return s.Stats().Runs == 2 })
	time.Sleep(150 * time.Millisecond)

	if got := m.CallCount(); got != 2 {
		t.Errorf("updates = %d, want 2 (refreshes coalesce)", got)
	}
	if got := s.Stats().Dropped; got < 4 {
		t.Errorf("dropped stale entries = %d, want >= 4", got)
	}
}

func TestSchedulerRefreshAll(t *testing.T) {
	a := module.NewMockModule()
	b := module.NewMockModule()
	h := testHost(t,
		map[string]module.Module{"a": a, "b": b},
		map[string]map[string]any{"a": {"cache_timeout": "1h"}, "b": {"cache_timeout": "1h"}},
		"a", "b")
	s := New(h, Config{MinInterval: time.Millisecond})
	stop := startBackground(s)
	defer stop()

	waitFor(t, "initial runs", time.Second, func() bool { return s.Stats().Runs == 2 })
	s.RefreshAll()
	waitFor(t, "refreshed runs", time.Second, func() bool { return a.CallCount() == 2 && b.CallCount() == 2 })
}

// --- Timing Guards ---

func TestSchedulerMinimumInterval(t *testing.T) {
	m := module.NewMockModule(module.WithUpdateFunc(func(context.Context) (*module.Response, error) {
		return &module.Response{FullText: "x", CachedUntil: time.Now().Add(-time.Hour)}, nil
	}))
	h := testHost(t, map[string]module.Module{"m": m}, nil, "m")
	s := New(h, Config{MinInterval: 100 * time.Millisecond})
	runFor(t, s, 350*time.Millisecond)

	if got := m.CallCount(); got < 2 || got > 4 {
		t.Errorf("updates = %d, want 2..4 with a 100ms minimum interval", got)
	}
}

func TestSchedulerErrorBackoff(t *testing.T) {
	m := module.NewMockModule(module.WithError(errors.New("down")))
	h := testHost(t,
		map[string]module.Module{"m": m},
		map[string]map[string]any{"m": {"cache_timeout": "10ms"}},
		"m")
	s := New(h, Config{MinInterval: time.Millisecond})
	runFor(t, s, 300*time.Millisecond)

	if got := m.CallCount(); got != 1 {
		t.Errorf("failing module ran %d times in 300ms, want 1 (1s backoff)", got)
	}
	if got := s.Stats().Errors; got != 1 {
		t.Errorf("Stats.Errors = %d", got)
	}
}

func TestBackoffSequence(t *testing.T) {
	s := New(testHost(t, nil, nil), Config{BackoffCeiling: 10 * time.Second})
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := s.backoff(tt.failures); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestSchedulerLostWorkerFreesSlot(t *testing.T) {
	slow := module.NewMockModule(module.WithUpdateFunc(func(context.Context) (*module.Response, error) {
		time.Sleep(400 * time.Millisecond)
		return &module.Response{FullText: "slow"}, nil
	}))
	fast := module.NewMockModule(module.WithText("fast"))
	h := testHost(t,
		map[string]module.Module{"slow": slow, "fast": fast},
		nil,
		"slow", "fast")
	s := New(h, Config{Workers: 1, MethodTimeout: 50 * time.Millisecond, ShutdownGrace: 10 * time.Millisecond})
	stop := startBackground(s)
	defer stop()

	waitFor(t, "fast module to run past the stuck worker", 300*time.Millisecond, func() bool {
		return fast.CallCount() >= 1
	})
	if got := s.Stats().Lost; got != 1 {
		t.Errorf("Stats.Lost = %d, want 1", got)
	}
}

// --- Change Notification ---

func TestSchedulerOnChange(t *testing.T) {
	m := module.NewMockModule(module.WithText("steady"))
	h := testHost(t,
		map[string]module.Module{"m": m},
		map[string]map[string]any{"m": {"cache_timeout": "30ms"}},
		"m")
	s := New(h, Config{MinInterval: time.Millisecond})

	var mu sync.Mutex
	var changed []string
	s.OnChange(func(id string) {
		mu.Lock()
		changed = append(changed, id)
		mu.Unlock()
	})
	runFor(t, s, 200*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(changed) != 1 || changed[0] != "m" {
		t.Errorf("changes = %v, want one for m", changed)
	}
	if m.CallCount() < 3 {
		t.Errorf("updates = %d, want several", m.CallCount())
	}
}

func TestSchedulerSkipsFailedInstances(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modules = map[string]map[string]any{"ghost": {}}
	h := module.NewHost(module.HostConfig{Config: cfg})
	_ = h.Load(context.Background(), []string{"ghost"})

	s := New(h, Config{})
	if got := s.Stats().Tasks; got != 0 {
		t.Errorf("tasks = %d, want 0 for a module that failed to load", got)
	}
}
