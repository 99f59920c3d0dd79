package staticstring

import (
	"testing"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/modules/modtest"
)

func TestStaticString(t *testing.T) {
	h := modtest.New(t, Name, New, nil)
	if got := h.Update(t); got != "Hello, world!" {
		t.Errorf("default output = %q", got)
	}

	h = modtest.New(t, Name, New, map[string]any{"format": `[\?color=good up]`})
	if got := h.Update(t); got != "up" {
		t.Errorf("output = %q", got)
	}
	if c := h.Segments()[0].Color; c == "" {
		t.Error("color command not applied")
	}
}

func TestStaticStringNeverReschedules(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{"format": "x"})
	res := h.Run()
	if res[0].CachedUntil.Before(modtest.Now.Add(24 * time.Hour)) {
		t.Errorf("CachedUntil = %v", res[0].CachedUntil)
	}
}
