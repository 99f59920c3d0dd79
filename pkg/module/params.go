package module

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
)

// Params is a module instance's configured parameters with typed getters.
// Getters fall back to the supplied default when the key is missing and
// log a warning when the value cannot be coerced.
type Params struct {
	id     string
	values map[string]any
	logger *slog.Logger
}

// NewParams wraps a parameter map for the module id. The map is copied.
func NewParams(id string, values map[string]any, logger *slog.Logger) *Params {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &Params{id: id, values: cp, logger: logger}
}

// Has reports whether key is configured.
func (p *Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Raw returns the configured value as decoded from the config file.
func (p *Params) Raw(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the configured keys sorted.
func (p *Params) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the configured values.
func (p *Params) Map() map[string]any {
	cp := make(map[string]any, len(p.values))
	for k, v := range p.values {
		cp[k] = v
	}
	return cp
}

// String returns key as a string. Numbers and booleans are stringified.
func (p *Params) String(key, def string) string {
	v, ok := p.values[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool, int, int64, float64:
		return fmt.Sprint(t)
	}
	p.mismatch(key, "string", v)
	return def
}

// Int returns key as an int. Floats are truncated, strings parsed.
func (p *Params) Int(key string, def int) int {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	if n, ok := toFloat(v); ok {
		return int(n)
	}
	p.mismatch(key, "integer", v)
	return def
}

// Float returns key as a float64.
func (p *Params) Float(key string, def float64) float64 {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	if n, ok := toFloat(v); ok {
		return n
	}
	p.mismatch(key, "number", v)
	return def
}

// Bool returns key as a bool. Strings "true"/"false"/"1"/"0" are accepted.
func (p *Params) Bool(key string, def bool) bool {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	case int64:
		return t != 0
	case int:
		return t != 0
	}
	p.mismatch(key, "boolean", v)
	return def
}

// Duration returns key as a duration. Numbers are seconds; strings use Go
// duration syntax ("1m30s") or plain seconds ("5").
func (p *Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p.values[key]
	if !ok {
		return def
	}
	if d, ok := toDuration(v); ok {
		return d
	}
	p.mismatch(key, "duration", v)
	return def
}

// StringSlice returns key as a list of strings. A single string is
// returned as a one-element list.
func (p *Params) StringSlice(key string) []string {
	v, ok := p.values[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	p.mismatch(key, "list", v)
	return nil
}

// RequireString returns key as a non-empty string or a *config.Error.
func (p *Params) RequireString(key string) (string, error) {
	s := p.String(key, "")
	if s == "" {
		return "", &config.Error{
			Key: fmt.Sprintf("modules.%q.%s", p.id, key),
			Msg: "required parameter missing",
		}
	}
	return s, nil
}

func (p *Params) mismatch(key, want string, got any) {
	p.logger.Warn("parameter has wrong type, using default",
		"module", p.id, "key", key, "want", want, "got", fmt.Sprintf("%T", got))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	}
	return 0, false
}

func toDuration(v any) (time.Duration, bool) {
	switch t := v.(type) {
	case time.Duration:
		return t, true
	case config.Duration:
		return t.Duration, true
	case string:
		s := strings.TrimSpace(t)
		if d, err := time.ParseDuration(s); err == nil {
			return d, true
		}
	}
	if n, ok := toFloat(v); ok && n >= 0 {
		return time.Duration(n * float64(time.Second)), true
	}
	return 0, false
}
