package clock

import (
	"errors"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/modtest"
)

func TestClockFormat(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{
		"format":      "{timezone} {time}",
		"format_time": "15:04:05",
		"timezones":   []any{"UTC"},
	})
	if got := h.Update(t); got != "UTC 12:00:30" {
		t.Errorf("output = %q", got)
	}
}

func TestClockCachedUntilNextMinute(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{"timezones": []any{"UTC"}})
	res := h.Run()
	want := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	if !res[0].CachedUntil.Equal(want) {
		t.Errorf("CachedUntil = %v, want %v", res[0].CachedUntil, want)
	}
}

func TestClockCycleZones(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{
		"format":    "{timezone}",
		"timezones": []any{"UTC", "Asia/Tokyo"},
	})
	if got := h.Update(t); got != "UTC" {
		t.Fatalf("initial zone = %q", got)
	}
	h.Click(t, 1)
	if got := h.Update(t); got != "JST" {
		t.Errorf("after cycle = %q, want JST", got)
	}
	h.Click(t, 1)
	if got := h.Update(t); got != "UTC" {
		t.Errorf("cycle did not wrap: %q", got)
	}
	h.Click(t, 1)
	h.Click(t, 3)
	if got := h.Update(t); got != "UTC" {
		t.Errorf("after reset = %q", got)
	}
}

func TestClockBadZone(t *testing.T) {
	_, err := modtest.Load(Name, New, map[string]any{"timezones": []any{"Mars/Olympus"}})
	if err == nil {
		t.Fatal("bad zone loaded")
	}
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		t.Errorf("bad zone reported as config error: %v", err)
	}
}
