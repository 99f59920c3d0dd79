package module

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
	"gitlab.com/tinyland/lab/barpulse/pkg/formatter"
	"gitlab.com/tinyland/lab/barpulse/pkg/theme"
)

// InvalidFormat is the text shown when a format string cannot be parsed.
const InvalidFormat = "invalid format"

// DefaultDurationFormat renders the non-zero units of a duration.
const DefaultDurationFormat = `[\?not_zero {days}d ][\?not_zero {hours}h ][\?not_zero {minutes}m ]{seconds}s`

// Format evaluates format against params with this module's colors.
func (p *Py3) Format(format string, params map[string]any) (*composite.Composite, error) {
	return p.host.formatter.Format(format, formatter.Options{
		Params: params,
		Colors: p.colorResolver(params),
	})
}

// SafeFormat is Format that never fails: a malformed format string yields
// a single "invalid format" segment.
func (p *Py3) SafeFormat(format string, params map[string]any) *composite.Composite {
	return p.BuildComposite(format, params, nil)
}

// BuildComposite evaluates format with params and pre-built composites
// available as placeholders.
func (p *Py3) BuildComposite(format string, params map[string]any, composites map[string]*composite.Composite) *composite.Composite {
	c, err := p.host.formatter.Format(format, formatter.Options{
		Params:     params,
		Composites: composites,
		Colors:     p.colorResolver(params),
	})
	if err != nil {
		p.inst.logger.Warn("format failed", "format", format, "error", err)
		seg := composite.Text(InvalidFormat)
		seg.Color = p.host.palette.Bad
		return composite.New(seg)
	}
	return c
}

// FormatContains reports whether format references placeholder key.
func (p *Py3) FormatContains(format, key string) bool {
	keys, err := p.host.formatter.Placeholders(format)
	if err != nil {
		return false
	}
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// JoinComposites concatenates items with separator between non-empty ones.
func (p *Py3) JoinComposites(separator any, items ...any) *composite.Composite {
	return composite.Join(separator, items...)
}

// Color resolves a color name ("good", "bad", a [colors] entry or the
// module's color_<name> param) to a hex value, or "" if unknown.
func (p *Py3) Color(name string) string {
	return p.host.resolveColor(p.inst, name)
}

// colorResolver resolves names through the module's colors and falls back
// to threshold colors for numeric params, so "\?color=cpu" colors a block
// by the cpu placeholder's thresholds.
func (p *Py3) colorResolver(params map[string]any) formatter.ColorResolver {
	return formatter.ColorFunc(func(name string) (string, bool) {
		if c := p.Color(name); c != "" {
			return c, true
		}
		if v, ok := params[name]; ok {
			if n, ok := toFloat(v); ok {
				if c := p.ThresholdColor(n, name); c != "" {
					return c, true
				}
			}
		}
		return "", false
	})
}

type threshold struct {
	value float64
	color string
}

// ThresholdColor picks the color for value from the module's thresholds
// param. The param is either a list of [value, color] pairs or a table of
// such lists keyed by name. The highest threshold not above value wins;
// values below every threshold take the first color. With the gradients
// param set the color is interpolated between neighboring thresholds.
func (p *Py3) ThresholdColor(value float64, name string) string {
	ts := p.thresholds(name)
	if len(ts) == 0 {
		return ""
	}
	idx := 0
	for i, t := range ts {
		if value >= t.value {
			idx = i
		}
	}
	if p.inst.params.Bool("gradients", false) && idx+1 < len(ts) && value >= ts[idx].value {
		lo, hi := ts[idx], ts[idx+1]
		from, to := p.Color(lo.color), p.Color(hi.color)
		if from != "" && to != "" && hi.value > lo.value {
			return theme.Blend([]string{from, to}, (value-lo.value)/(hi.value-lo.value))
		}
	}
	return p.Color(ts[idx].color)
}

func (p *Py3) thresholds(name string) []threshold {
	raw, ok := p.inst.params.Raw("thresholds")
	if !ok {
		return nil
	}
	if m, ok := raw.(map[string]any); ok {
		raw, ok = m[name]
		if !ok {
			return nil
		}
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []threshold
	for _, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		v, ok := toFloat(pair[0])
		c, cok := pair[1].(string)
		if !ok || !cok {
			continue
		}
		out = append(out, threshold{value: v, color: c})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out
}

// FormatUnits renders a quantity with a scaled unit prefix. Byte values
// ("B") use binary prefixes unless si is set; other units use SI prefixes.
func (p *Py3) FormatUnits(value float64, unit string, si bool) string {
	if unit == "B" {
		if value < 0 {
			value = 0
		}
		if si {
			return humanize.Bytes(uint64(value))
		}
		return humanize.IBytes(uint64(value))
	}
	return humanize.SIWithDigits(value, 1, unit)
}

// FormatNumber renders n with thousands separators.
func (p *Py3) FormatNumber(n int64) string {
	return humanize.Comma(n)
}

// FormatDuration renders d through format, which may reference {days},
// {hours}, {minutes}, {seconds} and {total_seconds}. An empty format uses
// DefaultDurationFormat.
func (p *Py3) FormatDuration(d time.Duration, format string) string {
	if format == "" {
		format = DefaultDurationFormat
	}
	if d < 0 {
		d = -d
	}
	total := int64(d / time.Second)
	params := map[string]any{
		"days":          total / 86400,
		"hours":         total % 86400 / 3600,
		"minutes":       total % 3600 / 60,
		"seconds":       total % 60,
		"total_seconds": total,
	}
	return p.SafeFormat(format, params).Text()
}
