// Package modules registers the built-in modules.
package modules

import (
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/clock"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/diskdata"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/externalscript"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/filestatus"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/kubernetes"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/loadavg"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/lua"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/onlinestatus"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/staticstring"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/sysdata"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/tailscale"
)

// builtins is every module shipped with barpulse.
var builtins = map[string]module.Factory{
	clock.Name:          clock.New,
	diskdata.Name:       diskdata.New,
	externalscript.Name: externalscript.New,
	filestatus.Name:     filestatus.New,
	kubernetes.Name:     kubernetes.New,
	loadavg.Name:        loadavg.New,
	lua.Name:            lua.New,
	onlinestatus.Name:   onlinestatus.New,
	staticstring.Name:   staticstring.New,
	sysdata.Name:        sysdata.New,
	tailscale.Name:      tailscale.New,
}

// RegisterAll adds the built-in modules to reg.
func RegisterAll(reg *module.Registry) error {
	for name, f := range builtins {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in modules.
func NewRegistry() *module.Registry {
	reg := module.NewRegistry()
	for name, f := range builtins {
		reg.MustRegister(name, f)
	}
	return reg
}
