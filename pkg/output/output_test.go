package output

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimRight(b.buf.String(), "\n"), "\n")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

type fakeUpstream struct {
	mu      sync.Mutex
	segs    []composite.Segment
	err     error
	updates chan struct{}
}

func (f *fakeUpstream) set(segs ...composite.Segment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segs = segs
}

func (f *fakeUpstream) Lookup(entry string) []composite.Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, inst := config.SplitModuleID(entry)
	var out []composite.Segment
	for _, s := range f.segs {
		if s.Name == name && (inst == "" || s.Instance == inst) {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeUpstream) ErrorSegment() (composite.Segment, bool) {
	if f.err == nil {
		return composite.Segment{}, false
	}
	s := composite.Text("upstream: " + f.err.Error())
	s.Color = "#FF0000"
	return s, true
}

func (f *fakeUpstream) Updates() <-chan struct{} { return f.updates }

type fixture struct {
	host  *module.Host
	mocks map[string]*module.MockModule
}

// newFixture registers one mock per module name, loads ids, and runs each
// instance once so it has output.
func newFixture(t *testing.T, texts map[string]string, ids ...string) *fixture {
	t.Helper()
	reg := module.NewRegistry()
	f := &fixture{mocks: map[string]*module.MockModule{}}
	for name, text := range texts {
		m := module.NewMockModule(module.WithText(text))
		f.mocks[name] = m
		reg.MustRegister(name, m.Factory())
	}
	f.host = module.NewHost(module.HostConfig{Registry: reg, Config: config.DefaultConfig()})
	if err := f.host.Load(context.Background(), ids); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, inst := range f.host.Instances() {
		inst.Execute(context.Background(), "update")
	}
	return f
}

func (f *fixture) update(t *testing.T, id, text string) {
	t.Helper()
	name, _ := config.SplitModuleID(id)
	f.mocks[name].SetText(text)
	inst, _ := f.host.Instance(id)
	inst.Execute(context.Background(), "update")
}

func texts(segs []composite.Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.FullText
	}
	return strings.Join(parts, "|")
}

// --- Rendering ---

func TestRenderFollowsOrder(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A", "b": "B"}, "a", "b")
	up := &fakeUpstream{segs: []composite.Segment{
		{Name: "wireless", Instance: "wlan0", FullText: "W"},
		{Name: "cpu", FullText: "C"},
	}}
	p := New(&bytes.Buffer{}, f.host, up, Config{Order: []string{"b", "wireless wlan0", "missing", "a"}})

	row := p.Render()
	if got := texts(row); got != "B|W|A" {
		t.Errorf("row = %q, want B|W|A", got)
	}
	if row[0].Name != "b" || row[1].Name != "wireless" || row[1].Instance != "wlan0" || row[2].Name != "a" {
		t.Errorf("tags = %+v", row)
	}
}

func TestRenderTagsInstance(t *testing.T) {
	f := newFixture(t, map[string]string{"disk": "50%"}, "disk /home")
	p := New(&bytes.Buffer{}, f.host, nil, Config{Order: []string{"disk /home"}})

	row := p.Render()
	if len(row) != 1 || row[0].Name != "disk" || row[0].Instance != "/home" {
		t.Errorf("row = %+v", row)
	}
}

func TestRenderDuplicateEntries(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A", "b": "B"}, "a", "b")
	p := New(&bytes.Buffer{}, f.host, nil, Config{Order: []string{"a", "b", "a"}})
	if got := texts(p.Render()); got != "A|B|A" {
		t.Errorf("row = %q", got)
	}
}

func TestRenderDropsEmptyOutput(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A", "quiet": ""}, "a", "quiet")
	p := New(&bytes.Buffer{}, f.host, nil, Config{Order: []string{"quiet", "a"}})
	if got := texts(p.Render()); got != "A" {
		t.Errorf("row = %q", got)
	}
}

func TestRenderUpstreamError(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A"}, "a")
	up := &fakeUpstream{err: errors.New("bad frame"), segs: []composite.Segment{{Name: "x", FullText: "X"}}}
	p := New(&bytes.Buffer{}, f.host, up, Config{Order: []string{"x", "a", "y"}})

	row := p.Render()
	if got := texts(row); got != "upstream: bad frame|A" {
		t.Errorf("row = %q", got)
	}
}

func TestRenderAdjacentDuplicatesStaySeparate(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A"}, "a")
	p := New(&bytes.Buffer{}, f.host, nil, Config{Order: []string{"a", "a"}})
	row := p.Render()
	if got := texts(row); got != "A|A" {
		t.Errorf("row = %q, want A|A", got)
	}
	for i, s := range row {
		if s.Name != "a" {
			t.Errorf("segment %d name = %q", i, s.Name)
		}
	}
}

func TestRenderSimplifiesWithinEntry(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A"}, "a")
	up := &fakeUpstream{segs: []composite.Segment{
		{Name: "cpu", FullText: "C"},
		{Name: "cpu", FullText: ""},
	}}
	p := New(&bytes.Buffer{}, f.host, up, Config{Order: []string{"cpu", "a"}})
	if got := texts(p.Render()); got != "C|A" {
		t.Errorf("row = %q, want C|A", got)
	}
}

// --- Writing ---

func waitLines(t *testing.T, b *syncBuffer, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lines := b.Lines(); len(lines) >= n {
			return lines
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, have %q", n, b.Lines())
	return nil
}

func TestRunWritesStream(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "one"}, "a")
	buf := &syncBuffer{}
	p := New(buf, f.host, nil, Config{
		Order:    []string{"a"},
		Debounce: 10 * time.Millisecond,
		Header:   protocol.Header{Version: 1, ClickEvents: true},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	lines := waitLines(t, buf, 3)
	if lines[0] != `{"version":1,"click_events":true}` {
		t.Errorf("header = %s", lines[0])
	}
	if lines[1] != "[" {
		t.Errorf("second line = %q", lines[1])
	}
	if lines[2] != `[{"full_text":"one","name":"a"}]` {
		t.Errorf("first frame = %s", lines[2])
	}

	f.update(t, "a", "two")
	p.Notify()
	lines = waitLines(t, buf, 4)
	if lines[3] != `,[{"full_text":"two","name":"a"}]` {
		t.Errorf("second frame = %s", lines[3])
	}

	p.Notify()
	time.Sleep(50 * time.Millisecond)
	if got := p.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1 for an unchanged row", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestRunDebounces(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "0"}, "a")
	buf := &syncBuffer{}
	p := New(buf, f.host, nil, Config{Order: []string{"a"}, Debounce: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()
	waitLines(t, buf, 3)

	for _, s := range []string{"1", "2", "3", "4", "5"} {
		f.update(t, "a", s)
		p.Notify()
		time.Sleep(5 * time.Millisecond)
	}
	waitLines(t, buf, 4)
	time.Sleep(150 * time.Millisecond)
	lines := buf.Lines()
	if len(lines) != 4 {
		t.Errorf("wrote %d lines, want 4 (burst coalesced into one frame)", len(lines))
	}
	if !strings.Contains(lines[len(lines)-1], `"5"`) {
		t.Errorf("last frame = %s, want latest output", lines[len(lines)-1])
	}
}

func TestRunUpstreamTriggersRender(t *testing.T) {
	f := newFixture(t, map[string]string{})
	up := &fakeUpstream{updates: make(chan struct{}, 1), segs: []composite.Segment{{Name: "x", FullText: "1"}}}
	buf := &syncBuffer{}
	p := New(buf, f.host, up, Config{Order: []string{"x"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()
	waitLines(t, buf, 3)

	up.set(composite.Segment{Name: "x", FullText: "2"})
	up.updates <- struct{}{}
	lines := waitLines(t, buf, 4)
	if !strings.Contains(lines[3], `"2"`) {
		t.Errorf("frame after upstream update = %s", lines[3])
	}
}

func TestRunWriteFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A"}, "a")
	p := New(failingWriter{}, f.host, nil, Config{Order: []string{"a"}})
	err := p.Run(context.Background())
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Run = %v, want *IOError", err)
	}
}

func TestPausedFlushWritesNothing(t *testing.T) {
	f := newFixture(t, map[string]string{"a": "A"}, "a")
	buf := &syncBuffer{}
	p := New(buf, f.host, nil, Config{Order: []string{"a"}, Debounce: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()
	waitLines(t, buf, 3)

	p.SetPaused(true)
	f.update(t, "a", "B")
	if err := p.Flush(); err != nil {
		t.Fatal(err)
	}
	if n := len(buf.Lines()); n != 3 {
		t.Fatalf("paused pipeline wrote: %d lines", n)
	}

	p.SetPaused(false)
	lines := waitLines(t, buf, 4)
	if !strings.Contains(lines[3], `"B"`) {
		t.Errorf("frame after resume = %s", lines[3])
	}
}
