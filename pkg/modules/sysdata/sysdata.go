// Package sysdata shows CPU, memory and swap usage gathered with gopsutil.
//
// Placeholders: {cpu_used_percent}, {cpu_count}, {mem_used}, {mem_total},
// {mem_used_percent}, {swap_used}, {swap_total}, {swap_used_percent},
// {uptime}. Sizes are rendered with binary prefixes unless si is set.
// Color blocks by usage with a thresholds param keyed by placeholder, for
// example thresholds = {cpu_used_percent = [[0, "good"], [80, "bad"]]}.
package sysdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "sysdata"

// DefaultFormat is used when the format param is unset.
const DefaultFormat = `[\?color=cpu_used_percent CPU: {cpu_used_percent:.0f}%], ` +
	`[\?color=mem_used_percent Mem: {mem_used}/{mem_total} ({mem_used_percent:.0f}%)]`

// Sample is one reading.
type Sample struct {
	CPUPercent  float64
	CPUCount    int
	MemTotal    uint64
	MemUsed     uint64
	MemPercent  float64
	SwapTotal   uint64
	SwapUsed    uint64
	SwapPercent float64
	Uptime      time.Duration
}

// Source reads system usage.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// System reads the host through gopsutil.
type System struct{}

// Sample implements Source. Swap and uptime failures are tolerated; CPU or
// memory failures fail the sample.
func (System) Sample(ctx context.Context) (Sample, error) {
	var s Sample
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("cpu: %w", err)
	}
	if len(total) > 0 {
		s.CPUPercent = total[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUCount = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("memory: %w", err)
	}
	s.MemTotal, s.MemUsed, s.MemPercent = vm.Total, vm.Used, vm.UsedPercent

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil && sw.Total > 0 {
		s.SwapTotal, s.SwapUsed, s.SwapPercent = sw.Total, sw.Used, sw.UsedPercent
	}
	if secs, err := host.UptimeWithContext(ctx); err == nil {
		s.Uptime = time.Duration(secs) * time.Second
	}
	return s, nil
}

type sysdata struct {
	py3    *module.Py3
	src    Source
	format string
	si     bool
}

// New is the module factory reading the real host.
func New(py3 *module.Py3) (module.Module, error) {
	return NewWith(System{})(py3)
}

// NewWith returns a factory reading from src.
func NewWith(src Source) module.Factory {
	return func(py3 *module.Py3) (module.Module, error) {
		if src == nil {
			return nil, errors.New("sysdata: nil source")
		}
		p := py3.Params()
		return &sysdata{
			py3:    py3,
			src:    src,
			format: p.String("format", DefaultFormat),
			si:     p.Bool("si", false),
		}, nil
	}
}

func (m *sysdata) Methods() []module.Method {
	return []module.Method{{Name: "sysdata", Fn: m.update}}
}

func (m *sysdata) update(ctx context.Context) (*module.Response, error) {
	s, err := m.src.Sample(ctx)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"cpu_used_percent":  s.CPUPercent,
		"cpu_count":         s.CPUCount,
		"mem_used":          m.py3.FormatUnits(float64(s.MemUsed), "B", m.si),
		"mem_total":         m.py3.FormatUnits(float64(s.MemTotal), "B", m.si),
		"mem_used_percent":  s.MemPercent,
		"swap_used":         m.py3.FormatUnits(float64(s.SwapUsed), "B", m.si),
		"swap_total":        m.py3.FormatUnits(float64(s.SwapTotal), "B", m.si),
		"swap_used_percent": s.SwapPercent,
		"uptime":            m.py3.FormatDuration(s.Uptime, m.py3.Params().String("format_uptime", "")),
	}
	return &module.Response{Composite: m.py3.SafeFormat(m.format, params)}, nil
}
