package config

import "sort"

// presets maps a preset name to its order. Upstream names (e.g. "wireless")
// match segments produced by an i3status-compatible generator.
var presets = map[string]func() []string{
	"minimal": minimalPreset,
	"system":  systemPreset,
	"network": networkPreset,
	"full":    fullPreset,
}

// OrderPreset returns the order for a named preset.
// If the name is not recognized, the "minimal" preset is returned.
func OrderPreset(name string) []string {
	if p, ok := presets[name]; ok {
		return p()
	}
	return minimalPreset()
}

// IsPreset reports whether name is a built-in preset.
func IsPreset(name string) bool {
	_, ok := presets[name]
	return ok
}

// PresetNames returns all preset names sorted alphabetically.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// minimalPreset is just a clock.
//
//	[clock]
func minimalPreset() []string {
	return []string{"clock"}
}

// systemPreset shows host resources.
//
//	[sysdata] [loadavg] [diskdata] [clock]
func systemPreset() []string {
	return []string{"sysdata", "loadavg", "diskdata", "clock"}
}

// networkPreset shows connectivity alongside upstream network segments.
//
//	[online_status] [tailscale] [wireless] [ethernet] [clock]
func networkPreset() []string {
	return []string{"online_status", "tailscale", "wireless", "ethernet", "clock"}
}

// fullPreset combines both.
//
//	[online_status] [tailscale] [kubernetes] [sysdata] [loadavg] [diskdata] [clock]
func fullPreset() []string {
	return []string{"online_status", "tailscale", "kubernetes", "sysdata", "loadavg", "diskdata", "clock"}
}
