package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the standard config path.
// Search order:
//  1. $XDG_CONFIG_HOME/barpulse/config.toml
//  2. ~/.config/barpulse/config.toml
//
// If no file exists, returns DefaultConfig().
func Load() (*Config, error) {
	paths := configSearchPaths()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path. Files ending
// in .yaml or .yml are decoded as YAML, everything else as TOML.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Path: path, Msg: "not found", Err: err}
		}
		return nil, &Error{Path: path, Msg: "open", Err: err}
	}
	defer f.Close()

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = LoadYAML(f)
	default:
		cfg, err = LoadFromReader(f)
	}
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &Error{Path: path, Msg: "decode", Err: err}
	}
	return cfg, nil
}

// LoadFromReader reads TOML configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, &Error{Msg: "parse TOML", Err: err}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadYAML reads YAML configuration from an io.Reader.
func LoadYAML(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && err != io.EOF {
		return nil, &Error{Msg: "parse YAML", Err: err}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultConfig returns the default configuration with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	cacheDir := filepath.Join(xdgCacheHome(home), "barpulse")

	return &Config{
		General: GeneralConfig{
			CacheTimeout:    Duration{DefaultCacheTimeout},
			MinimumInterval: Duration{100 * time.Millisecond},
			Workers:         4,
			Debounce:        Duration{50 * time.Millisecond},
			MethodTimeout:   Duration{30 * time.Second},
			BackoffCeiling:  Duration{60 * time.Second},
			ShutdownGrace:   Duration{2 * time.Second},
			StarveThreshold: Duration{5 * time.Second},
			Theme:           "default",
			LogLevel:        "info",
		},
		Colors: map[string]string{},
		Upstream: UpstreamConfig{
			Enabled: false,
			Command: "i3status",
		},
		Socket: SocketConfig{
			Enabled: true,
			Path:    defaultSocketPath(),
		},
		Storage: StorageConfig{
			Path: filepath.Join(cacheDir, "storage.cbor"),
		},
		Modules: map[string]map[string]any{},
	}
}

// applyEnvOverrides checks environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BARPULSE_SOCKET"); v != "" {
		cfg.Socket.Path = v
	}
	if v := os.Getenv("BARPULSE_UPSTREAM"); v != "" {
		cfg.Upstream.Command = v
		cfg.Upstream.Enabled = true
	}
	if v := os.Getenv("BARPULSE_THEME"); v != "" {
		cfg.General.Theme = v
	}
}

// configSearchPaths returns the ordered list of config file paths to try.
func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	var paths []string

	xdg := xdgConfigHome(home)
	paths = append(paths, filepath.Join(xdg, "barpulse", "config.toml"))

	// If XDG_CONFIG_HOME was explicitly set, also try the fallback default.
	defaultXDG := filepath.Join(home, ".config")
	if xdg != defaultXDG {
		paths = append(paths, filepath.Join(defaultXDG, "barpulse", "config.toml"))
	}

	return paths
}

// defaultSocketPath places the socket in XDG_RUNTIME_DIR, falling back to a
// per-user name in the temp directory.
func defaultSocketPath() string {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, "barpulse.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("barpulse-%d.sock", os.Getuid()))
}

// xdgConfigHome returns XDG_CONFIG_HOME or ~/.config as fallback.
func xdgConfigHome(home string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".config")
}

// xdgCacheHome returns XDG_CACHE_HOME or ~/.cache as fallback.
func xdgCacheHome(home string) string {
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".cache")
}
