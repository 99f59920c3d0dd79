// Package loadavg shows the system load averages.
//
// Placeholders: {load1}, {load5}, {load15} and their per-CPU variants
// {load1_per_cpu}, {load5_per_cpu}, {load15_per_cpu}. The thresholds param
// colors blocks, keyed by placeholder.
package loadavg

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "loadavg"

// DefaultFormat is used when the format param is unset.
const DefaultFormat = `Loadavg [\?color=load1 {load1:.2f}] [\?color=load5 {load5:.2f}] [\?color=load15 {load15:.2f}]`

// Reader returns the three load averages and the logical CPU count.
type Reader func(ctx context.Context) (l1, l5, l15 float64, cpus int, err error)

// System reads load through gopsutil.
func System(ctx context.Context) (l1, l5, l15 float64, cpus int, err error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("load: %w", err)
	}
	cpus, err = cpu.CountsWithContext(ctx, true)
	if err != nil || cpus < 1 {
		cpus = 1
	}
	return avg.Load1, avg.Load5, avg.Load15, cpus, nil
}

type loadavg struct {
	py3    *module.Py3
	read   Reader
	format string
}

// New is the module factory reading the real host.
func New(py3 *module.Py3) (module.Module, error) { return NewWith(System)(py3) }

// NewWith returns a factory using read.
func NewWith(read Reader) module.Factory {
	return func(py3 *module.Py3) (module.Module, error) {
		return &loadavg{
			py3:    py3,
			read:   read,
			format: py3.Params().String("format", DefaultFormat),
		}, nil
	}
}

func (m *loadavg) Methods() []module.Method {
	return []module.Method{{Name: "loadavg", Fn: m.update}}
}

func (m *loadavg) update(ctx context.Context) (*module.Response, error) {
	l1, l5, l15, cpus, err := m.read(ctx)
	if err != nil {
		return nil, err
	}
	n := float64(max(cpus, 1))
	params := map[string]any{
		"load1":          l1,
		"load5":          l5,
		"load15":         l15,
		"load1_per_cpu":  l1 / n,
		"load5_per_cpu":  l5 / n,
		"load15_per_cpu": l15 / n,
	}
	return &module.Response{Composite: m.py3.SafeFormat(m.format, params)}, nil
}
