package theme

// thRegisterBuiltins registers all built-in themes in the registry.
func thRegisterBuiltins() {
	for _, t := range []Theme{
		thDefaultTheme(),
		thGruvboxTheme(),
		thNordTheme(),
		thSolarizedTheme(),
		thDraculaTheme(),
	} {
		thRegister(t)
	}
}

// thDefaultTheme returns the classic high-contrast i3bar palette.
func thDefaultTheme() Theme {
	return Theme{
		Name:       "default",
		Good:       "#00FF00",
		Degraded:   "#FFFF00",
		Bad:        "#FF0000",
		Separator:  "#333333",
		Foreground: "#FFFFFF",
		Background: "#000000",
		Urgent:     "#900000",
		Gradient:   []string{"#00FF00", "#FFFF00", "#FF0000"},
	}
}

// thGruvboxTheme returns the warm retro Gruvbox palette.
func thGruvboxTheme() Theme {
	return Theme{
		Name:       "gruvbox",
		Good:       "#b8bb26",
		Degraded:   "#fabd2f",
		Bad:        "#fb4934",
		Separator:  "#504945",
		Foreground: "#ebdbb2",
		Background: "#282828",
		Urgent:     "#cc241d",
		Gradient:   []string{"#b8bb26", "#fabd2f", "#fe8019", "#fb4934"},
	}
}

// thNordTheme returns the arctic Nord palette.
func thNordTheme() Theme {
	return Theme{
		Name:       "nord",
		Good:       "#a3be8c",
		Degraded:   "#ebcb8b",
		Bad:        "#bf616a",
		Separator:  "#4c566a",
		Foreground: "#d8dee9",
		Background: "#2e3440",
		Urgent:     "#bf616a",
		Gradient:   []string{"#a3be8c", "#ebcb8b", "#d08770", "#bf616a"},
	}
}

// thSolarizedTheme returns the Solarized dark palette.
func thSolarizedTheme() Theme {
	return Theme{
		Name:       "solarized",
		Good:       "#859900",
		Degraded:   "#b58900",
		Bad:        "#dc322f",
		Separator:  "#586e75",
		Foreground: "#839496",
		Background: "#002b36",
		Urgent:     "#dc322f",
		Gradient:   []string{"#859900", "#b58900", "#cb4b16", "#dc322f"},
	}
}

// thDraculaTheme returns the dark Dracula palette.
func thDraculaTheme() Theme {
	return Theme{
		Name:       "dracula",
		Good:       "#50fa7b",
		Degraded:   "#f1fa8c",
		Bad:        "#ff5555",
		Separator:  "#44475a",
		Foreground: "#f8f8f2",
		Background: "#282a36",
		Urgent:     "#ff5555",
		Gradient:   []string{"#50fa7b", "#f1fa8c", "#ffb86c", "#ff5555"},
	}
}
