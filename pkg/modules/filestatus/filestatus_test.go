package filestatus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/modtest"
)

func TestFileStatusIcons(t *testing.T) {
	dir := t.TempDir()
	h := modtest.New(t, Name, New, map[string]any{
		"paths":  filepath.Join(dir, "*.lock"),
		"format": "{icon} {path}",
	})
	if got := h.Update(t); got != "■ 0" {
		t.Errorf("no files: %q", got)
	}
	if got := h.Segments()[0].Color; got != "#FF0000" {
		t.Errorf("color = %q, want bad", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.lock"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := h.Update(t); got != "● 1" {
		t.Errorf("one file: %q", got)
	}
	if got := h.Segments()[0].Color; got != "#00FF00" {
		t.Errorf("color = %q, want good", got)
	}
}

func TestFileStatusPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pid", "a.pid", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	h := modtest.New(t, Name, New, map[string]any{
		"paths":                 []any{filepath.Join(dir, "*.pid"), filepath.Join(dir, "a.*")},
		"format":                "{paths}",
		"format_path_separator": ",",
	})
	if got := h.Update(t); got != "a.pid,b.pid" {
		t.Errorf("paths = %q", got)
	}
}

func TestFileStatusWatchRefreshes(t *testing.T) {
	dir := t.TempDir()
	h := modtest.New(t, Name, New, map[string]any{"paths": filepath.Join(dir, "flag")})
	h.Update(t)

	if err := os.WriteFile(filepath.Join(dir, "other"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "flag"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(h.Refreshes()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("creating a watched file did not request a refresh")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.Refreshes()[0]; got != Name {
		t.Errorf("refreshed %q, want %q", got, Name)
	}
}

func TestFileStatusRequiresPaths(t *testing.T) {
	_, err := modtest.Load(Name, New, map[string]any{"format": "{icon}"})
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("Load = %v, want *config.Error", err)
	}
}

func TestFileStatusKillIdempotent(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{"paths": filepath.Join(t.TempDir(), "x")})
	h.Inst.Kill()
	h.Inst.Kill()
}
