// Package onlinestatus reports whether a URL answers.
package onlinestatus

import (
	"context"
	"net/http"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "online_status"

const (
	defaultURL     = "https://www.google.com"
	defaultTimeout = 2 * time.Second
)

type onlineStatus struct {
	py3      *module.Py3
	url      string
	timeout  time.Duration
	format   string
	iconOn   string
	iconOff  string
	colorOn  string
	colorOff string
}

// New is the module factory. Parameters: url, timeout, format ("{icon}"),
// icon_on, icon_off.
func New(py3 *module.Py3) (module.Module, error) {
	p := py3.Params()
	return &onlineStatus{
		py3:      py3,
		url:      p.String("url", defaultURL),
		timeout:  p.Duration("timeout", defaultTimeout),
		format:   p.String("format", "{icon}"),
		iconOn:   p.String("icon_on", "●"),
		iconOff:  p.String("icon_off", "■"),
		colorOn:  py3.Color("good"),
		colorOff: py3.Color("bad"),
	}, nil
}

func (o *onlineStatus) Methods() []module.Method {
	return []module.Method{{Name: "online_status", Fn: o.update}}
}

func (o *onlineStatus) update(ctx context.Context) (*module.Response, error) {
	online := o.check(ctx)
	icon, color := o.iconOff, o.colorOff
	if online {
		icon, color = o.iconOn, o.colorOn
	}
	return &module.Response{
		Composite: o.py3.SafeFormat(o.format, map[string]any{
			"icon":   icon,
			"online": online,
			"url":    o.url,
		}),
		Attrs: map[string]any{"color": color},
	}, nil
}

// check treats any response below 500 as online.
func (o *onlineStatus) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.py3.Request(ctx, o.url, &module.RequestOptions{Method: http.MethodHead})
	if err != nil {
		o.py3.Logger().Debug("offline", "url", o.url, "error", err)
		return false
	}
	return resp.StatusCode < http.StatusInternalServerError
}
