// Package clock shows the current time in one or more time zones.
//
// Parameters:
//
//	format       format string, default "{time}"
//	format_time  Go time layout, default "15:04"
//	timezones    list of IANA zone names; "" or "Local" is the local zone
//	round_to     update boundary, default 1m
//	button_cycle mouse button that moves to the next zone, default 1
//	button_reset mouse button that returns to the first zone, default 3
//
// Placeholders: {time}, {timezone}, {unix}.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// Name is the registry name.
const Name = "clock"

// Clock is the clock module.
type Clock struct {
	py3      *module.Py3
	format   string
	layout   string
	roundTo  time.Duration
	zones    []*time.Location
	cycleBtn int
	resetBtn int

	mu      sync.Mutex
	current int
}

// New is the module factory.
func New(py3 *module.Py3) (module.Module, error) {
	p := py3.Params()
	c := &Clock{
		py3:      py3,
		format:   p.String("format", "{time}"),
		layout:   p.String("format_time", "15:04"),
		roundTo:  p.Duration("round_to", time.Minute),
		cycleBtn: p.Int("button_cycle", 1),
		resetBtn: p.Int("button_reset", 3),
	}
	names := p.StringSlice("timezones")
	if len(names) == 0 {
		names = []string{"Local"}
	}
	for _, name := range names {
		loc, err := loadZone(name)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", name, err)
		}
		c.zones = append(c.zones, loc)
	}
	return c, nil
}

func loadZone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// Methods implements module.Module.
func (c *Clock) Methods() []module.Method {
	return []module.Method{{Name: "clock", Fn: c.update}}
}

func (c *Clock) update(context.Context) (*module.Response, error) {
	c.mu.Lock()
	idx := c.current
	c.mu.Unlock()

	now := c.py3.Now().In(c.zones[idx])
	zone, _ := now.Zone()
	out := c.py3.SafeFormat(c.format, map[string]any{
		"time":     now.Format(c.layout),
		"timezone": zone,
		"unix":     now.Unix(),
	})
	return &module.Response{
		Composite:   out,
		CachedUntil: c.py3.TimeIn(0, c.roundTo),
	}, nil
}

// OnClick cycles through the configured zones.
func (c *Clock) OnClick(_ context.Context, ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Button {
	case c.cycleBtn:
		c.current = (c.current + 1) % len(c.zones)
	case c.resetBtn:
		c.current = 0
	}
	return nil
}
