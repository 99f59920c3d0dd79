package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/theme"
)

// Config is the complete barpulse configuration.
type Config struct {
	General  GeneralConfig             `toml:"general" yaml:"general"`
	Order    []string                  `toml:"order" yaml:"order"`
	Colors   map[string]string         `toml:"colors" yaml:"colors"`
	Upstream UpstreamConfig            `toml:"upstream" yaml:"upstream"`
	Socket   SocketConfig              `toml:"socket" yaml:"socket"`
	Storage  StorageConfig             `toml:"storage" yaml:"storage"`
	Modules  map[string]map[string]any `toml:"modules" yaml:"modules"`
}

// GeneralConfig holds runtime-wide settings.
type GeneralConfig struct {
	// CacheTimeout is the default interval between module updates.
	CacheTimeout    Duration `toml:"cache_timeout" yaml:"cache_timeout"`
	MinimumInterval Duration `toml:"minimum_interval" yaml:"minimum_interval"`
	Workers         int      `toml:"workers" yaml:"workers"`
	Debounce        Duration `toml:"debounce" yaml:"debounce"`
	MethodTimeout   Duration `toml:"method_timeout" yaml:"method_timeout"`
	BackoffCeiling  Duration `toml:"backoff_ceiling" yaml:"backoff_ceiling"`
	ShutdownGrace   Duration `toml:"shutdown_grace" yaml:"shutdown_grace"`
	StarveThreshold Duration `toml:"starve_threshold" yaml:"starve_threshold"`

	Theme     string `toml:"theme" yaml:"theme"`
	ThemeFile string `toml:"theme_file" yaml:"theme_file"`
	// Preset names a built-in order used when Order is empty.
	Preset string `toml:"preset" yaml:"preset"`

	LogLevel string `toml:"log_level" yaml:"log_level"`
	LogFile  string `toml:"log_file" yaml:"log_file"`

	// Separator and Markup are defaults for every module; nil/empty leaves
	// the bar's own default in place.
	Separator *bool  `toml:"separator" yaml:"separator"`
	Markup    string `toml:"markup" yaml:"markup"`
}

// UpstreamConfig controls the upstream status generator child process.
type UpstreamConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Command string `toml:"command" yaml:"command"`
}

// SocketConfig controls the local command socket.
type SocketConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// StorageConfig controls the persisted module key-value file.
type StorageConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// Error reports invalid configuration. It is fatal at startup.
type Error struct {
	Path string // config file, empty for in-memory configs
	Key  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Key != "" {
		b.WriteString(": ")
		b.WriteString(e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error
	bad := func(key, format string, args ...any) {
		errs = append(errs, &Error{Key: key, Msg: fmt.Sprintf(format, args...)})
	}

	g := c.General
	if g.Workers < 1 {
		bad("general.workers", "must be at least 1, got %d", g.Workers)
	}
	if g.CacheTimeout.Duration <= 0 {
		bad("general.cache_timeout", "must be positive")
	}
	if !validLogLevels[strings.ToLower(g.LogLevel)] {
		bad("general.log_level", "unknown level %q", g.LogLevel)
	}
	if g.Theme != "" && g.ThemeFile == "" {
		if _, ok := theme.Lookup(g.Theme); !ok {
			bad("general.theme", "unknown theme %q (available: %s)", g.Theme, strings.Join(theme.Names(), ", "))
		}
	}
	if g.Preset != "" && !IsPreset(g.Preset) {
		bad("general.preset", "unknown preset %q", g.Preset)
	}

	for name, value := range c.Colors {
		if value != "none" && !theme.IsHex(value) {
			bad("colors."+name, "invalid color %q (expected #RGB or #RRGGBB)", value)
		}
	}

	for i, entry := range c.Order {
		if strings.TrimSpace(entry) == "" {
			bad(fmt.Sprintf("order[%d]", i), "empty entry")
		}
	}
	for id := range c.Modules {
		name, _ := SplitModuleID(id)
		if name == "" {
			bad("modules", "invalid module id %q", id)
		}
	}

	if c.Upstream.Enabled && strings.TrimSpace(c.Upstream.Command) == "" {
		bad("upstream.command", "required when upstream is enabled")
	}
	if c.Socket.Enabled && c.Socket.Path == "" {
		bad("socket.path", "required when the socket is enabled")
	}
	return errors.Join(errs...)
}

// SplitModuleID splits "name instance" into its parts. The instance is
// everything after the first space and may be empty.
func SplitModuleID(id string) (name, instance string) {
	id = strings.TrimSpace(id)
	name, instance, _ = strings.Cut(id, " ")
	return name, strings.TrimSpace(instance)
}

// ModuleID joins a name and instance into an id.
func ModuleID(name, instance string) string {
	if instance == "" {
		return name
	}
	return name + " " + instance
}

// EffectiveOrder returns Order, or the preset's order when Order is empty.
func (c *Config) EffectiveOrder() []string {
	if len(c.Order) > 0 {
		return append([]string(nil), c.Order...)
	}
	if c.General.Preset != "" {
		return OrderPreset(c.General.Preset)
	}
	return nil
}

// ModuleParams returns the parameter map for a module id, or an empty map.
func (c *Config) ModuleParams(id string) map[string]any {
	if p, ok := c.Modules[id]; ok && p != nil {
		return p
	}
	return map[string]any{}
}

// DefaultCacheTimeout is the per-module update interval used when neither
// the module nor [general] sets one.
const DefaultCacheTimeout = 10 * time.Second
