package theme

import (
	"sort"
	"strings"
	"sync"
)

// Theme is a named bar palette. Modules refer to its entries by name
// ("good", "degraded", "bad", ...) instead of hard-coding hex values.
type Theme struct {
	Name string

	// Status colors
	Good     string // hex color e.g. "#00FF00"
	Degraded string
	Bad      string

	// Bar colors
	Separator  string
	Foreground string
	Background string
	Urgent     string // background for urgent blocks

	// Gradient holds the stops threshold colors are interpolated over,
	// ordered from the lowest to the highest value.
	Gradient []string
}

var (
	mu       sync.RWMutex
	registry = map[string]Theme{}
)

func init() {
	thRegisterBuiltins()
}

// Get returns a named theme, falling back to Default if not found.
func Get(name string) Theme {
	mu.RLock()
	defer mu.RUnlock()
	if t, ok := registry[strings.ToLower(name)]; ok {
		return t
	}
	return registry["default"]
}

// Lookup returns a named theme and whether it exists.
func Lookup(name string) (Theme, bool) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[strings.ToLower(name)]
	return t, ok
}

// Names returns all available theme names sorted alphabetically.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a user theme, replacing any theme with the same name.
func Register(t Theme) error {
	if err := thValidateTheme(t); err != nil {
		return err
	}
	thRegister(t)
	return nil
}

// Color resolves a palette entry by name. The lookup is case-insensitive.
func (t Theme) Color(name string) (string, bool) {
	var c string
	switch strings.ToLower(name) {
	case "good":
		c = t.Good
	case "degraded":
		c = t.Degraded
	case "bad":
		c = t.Bad
	case "separator":
		c = t.Separator
	case "foreground":
		c = t.Foreground
	case "background":
		c = t.Background
	case "urgent":
		c = t.Urgent
	}
	return c, c != ""
}

// thRegister adds a theme to the registry under its lowercase name.
func thRegister(t Theme) {
	mu.Lock()
	defer mu.Unlock()
	registry[strings.ToLower(t.Name)] = t
}
