// barpulse is a status bar content generator for i3bar and swaybar.
//
// It runs configured modules on a schedule, optionally merges the output of
// an upstream generator such as i3status, and writes the i3bar JSON
// protocol to stdout. Click events are read from stdin and delivered to
// the module that owns the clicked block.
//
// Usage:
//
//	barpulse [flags]
//	barpulse refresh [module...] | --all
//	barpulse list
//	barpulse test-module <name> [--param key=value]...
package main

import (
	"os"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
