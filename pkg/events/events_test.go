package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

type fakeRefresher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeRefresher) Refresh(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func (f *fakeRefresher) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type fakeUpstream struct {
	segs  []composite.Segment
	calls int
}

func (f *fakeUpstream) Lookup(entry string) []composite.Segment {
	name, inst := config.SplitModuleID(entry)
	var out []composite.Segment
	for _, s := range f.segs {
		if s.Name == name && (inst == "" || s.Instance == inst) {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeUpstream) Refresh() error { f.calls++; return nil }

func loadHost(t *testing.T, reg *module.Registry, params map[string]map[string]any, order ...string) *module.Host {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Modules = params
	h := module.NewHost(module.HostConfig{Registry: reg, Config: cfg})
	if err := h.Load(context.Background(), order); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return h
}

// --- Routing ---

func TestClickRoutedToMatchingInstance(t *testing.T) {
	a := module.NewMockModule()
	b := module.NewMockModule()
	reg := module.NewRegistry()
	reg.MustRegister("a", a.Factory())
	reg.MustRegister("b", b.Factory())
	h := loadHost(t, reg, nil, "a", "b")
	ref := &fakeRefresher{}

	input := strings.Join([]string{
		"[",
		`{"name":"b","button":1,"x":10,"y":5}`,
		`,{"name":"b","button":3}`,
	}, "\n")
	r := New(h, ref, nil, nil)
	if err := r.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if a.ClickCount() != 0 {
		t.Errorf("a received %d clicks, want 0", a.ClickCount())
	}
	if b.ClickCount() != 2 {
		t.Errorf("b received %d clicks, want 2", b.ClickCount())
	}
	if b.LastClick().Button != 3 {
		t.Errorf("last button = %d, want 3", b.LastClick().Button)
	}
	if got := ref.got(); len(got) != 2 || got[0] != "b" {
		t.Errorf("refreshes = %v", got)
	}
}

func TestClickMatchesInstance(t *testing.T) {
	m := module.NewMockModule()
	reg := module.NewRegistry()
	reg.MustRegister("disk", m.Factory())
	h := loadHost(t, reg, nil, "disk /home")
	ref := &fakeRefresher{}
	r := New(h, ref, nil, nil)

	r.Dispatch(context.Background(), protocol.Event{Name: "disk", Instance: "/"})
	if m.ClickCount() != 0 {
		t.Error("click on other instance delivered")
	}
	r.Dispatch(context.Background(), protocol.Event{Name: "disk", Instance: "/home", Button: 1})
	if m.ClickCount() != 1 {
		t.Error("click on matching instance not delivered")
	}
}

func TestUnmatchedClick(t *testing.T) {
	h := loadHost(t, module.NewRegistry(), nil)
	ref := &fakeRefresher{}

	New(h, ref, nil, nil).Dispatch(context.Background(), protocol.Event{Name: "ghost"})
	if len(ref.got()) != 0 {
		t.Error("unmatched click triggered a module refresh")
	}

	up := &fakeUpstream{segs: []composite.Segment{{Name: "wireless", Instance: "wlan0", FullText: "W"}}}
	r := New(h, ref, up, nil)
	r.Dispatch(context.Background(), protocol.Event{Name: "wireless", Instance: "wlan0"})
	if up.calls != 1 {
		t.Errorf("upstream refreshes = %d, want 1", up.calls)
	}

	r.Dispatch(context.Background(), protocol.Event{Name: "ghost"})
	r.Dispatch(context.Background(), protocol.Event{Name: "wireless", Instance: "eth0"})
	if up.calls != 1 {
		t.Errorf("clicks on segments the upstream does not own refreshed it: calls = %d", up.calls)
	}
}

func TestMalformedEventsSkipped(t *testing.T) {
	m := module.NewMockModule()
	reg := module.NewRegistry()
	reg.MustRegister("m", m.Factory())
	h := loadHost(t, reg, nil, "m")

	input := "[\n{not json\n,{\"name\":\"m\",\"button\":2}\n\n]\n"
	if err := New(h, &fakeRefresher{}, nil, nil).Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.ClickCount() != 1 {
		t.Errorf("clicks = %d, want 1", m.ClickCount())
	}
}

// --- Handler Behavior ---

func TestClickErrorStillRefreshes(t *testing.T) {
	m := module.NewMockModule(module.WithClickFunc(func(context.Context, protocol.Event) error {
		return errors.New("handler broke")
	}))
	reg := module.NewRegistry()
	reg.MustRegister("m", m.Factory())
	h := loadHost(t, reg, nil, "m")
	ref := &fakeRefresher{}

	New(h, ref, nil, nil).Dispatch(context.Background(), protocol.Event{Name: "m"})
	inst, _ := h.Instance("m")
	if st := inst.Status(); st.ErrorCount != 0 {
		t.Errorf("click error marked module errored: %+v", st)
	}
	if len(ref.got()) != 1 {
		t.Errorf("refreshes = %v, want 1", ref.got())
	}
}

func TestPreventRefresh(t *testing.T) {
	reg := module.NewRegistry()
	var py3 *module.Py3
	m := module.NewMockModule()
	m.ClickFunc = func(context.Context, protocol.Event) error {
		py3.PreventRefresh()
		return nil
	}
	reg.MustRegister("m", func(p *module.Py3) (module.Module, error) {
		py3 = p
		return m, nil
	})
	h := loadHost(t, reg, nil, "m")
	ref := &fakeRefresher{}
	r := New(h, ref, nil, nil)

	r.Dispatch(context.Background(), protocol.Event{Name: "m"})
	if len(ref.got()) != 0 {
		t.Errorf("refresh despite PreventRefresh: %v", ref.got())
	}

	m.ClickFunc = nil
	r.Dispatch(context.Background(), protocol.Event{Name: "m"})
	if len(ref.got()) != 1 {
		t.Errorf("prevent flag leaked into next click: %v", ref.got())
	}
}

func TestOnClickRefreshParam(t *testing.T) {
	reg := module.NewRegistry()
	var py3 *module.Py3
	m := module.NewMockModule()
	m.ClickFunc = func(context.Context, protocol.Event) error {
		py3.PreventRefresh()
		return nil
	}
	reg.MustRegister("m", func(p *module.Py3) (module.Module, error) {
		py3 = p
		return m, nil
	})
	h := loadHost(t, reg, map[string]map[string]any{
		"m": {"on_click": map[string]any{"1": "refresh"}},
	}, "m")
	ref := &fakeRefresher{}

	New(h, ref, nil, nil).Dispatch(context.Background(), protocol.Event{Name: "m", Button: 1})
	if len(ref.got()) != 1 {
		t.Errorf("on_click refresh ignored: %v", ref.got())
	}
	handled, dropped := New(h, ref, nil, nil).Stats()
	if handled != 0 || dropped != 0 {
		t.Errorf("fresh router stats = %d, %d", handled, dropped)
	}
}
