// Package diskdata shows usage of one mounted filesystem.
//
// The path comes from the disk param, then the instance name ("diskdata
// /home"), then "/". Placeholders: {path}, {fstype}, {used}, {free},
// {total}, {used_percent}, {free_percent}.
package diskdata

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "diskdata"

// DefaultFormat is used when the format param is unset.
const DefaultFormat = `{path}: [\?color=used_percent {used_percent:.0f}%] ({free} free)`

// Usage is one filesystem reading.
type Usage struct {
	Path   string
	FSType string
	Total  uint64
	Used   uint64
	Free   uint64
}

// UsedPercent returns used space as a share of used plus free, matching df.
func (u Usage) UsedPercent() float64 {
	if u.Used+u.Free == 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Used+u.Free) * 100
}

// Reader reads usage for a path.
type Reader func(ctx context.Context, path string) (Usage, error)

// System reads usage through gopsutil.
func System(ctx context.Context, path string) (Usage, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Usage{}, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return Usage{Path: u.Path, FSType: u.Fstype, Total: u.Total, Used: u.Used, Free: u.Free}, nil
}

type diskdata struct {
	py3    *module.Py3
	read   Reader
	path   string
	format string
	si     bool
}

// New is the module factory reading the real host.
func New(py3 *module.Py3) (module.Module, error) { return NewWith(System)(py3) }

// NewWith returns a factory using read.
func NewWith(read Reader) module.Factory {
	return func(py3 *module.Py3) (module.Module, error) {
		p := py3.Params()
		path := py3.Instance()
		if path == "" {
			path = "/"
		}
		return &diskdata{
			py3:    py3,
			read:   read,
			path:   p.String("disk", path),
			format: p.String("format", DefaultFormat),
			si:     p.Bool("si", false),
		}, nil
	}
}

func (m *diskdata) Methods() []module.Method {
	return []module.Method{{Name: "diskdata", Fn: m.update}}
}

func (m *diskdata) update(ctx context.Context) (*module.Response, error) {
	u, err := m.read(ctx, m.path)
	if err != nil {
		return nil, err
	}
	used := u.UsedPercent()
	params := map[string]any{
		"path":         m.path,
		"fstype":       u.FSType,
		"used":         m.py3.FormatUnits(float64(u.Used), "B", m.si),
		"free":         m.py3.FormatUnits(float64(u.Free), "B", m.si),
		"total":        m.py3.FormatUnits(float64(u.Total), "B", m.si),
		"used_percent": used,
		"free_percent": 100 - used,
	}
	return &module.Response{Composite: m.py3.SafeFormat(m.format, params)}, nil
}
