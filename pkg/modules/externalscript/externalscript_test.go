package externalscript

import (
	"errors"
	"strings"
	"testing"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/modtest"
)

func TestExternalScriptOutput(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{
		"script_path": `printf 'first\nsecond\nthird\n'`,
		"format":      "{output} ({lines})",
	})
	if got := h.Update(t); got != "first (3)" {
		t.Errorf("output = %q", got)
	}
}

func TestExternalScriptNextLine(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{
		"script_path": `printf 'a\nb\n'`,
		"button_next": 1,
	})
	h.Update(t)
	h.Click(t, 1)
	if got := h.Update(t); got != "b" {
		t.Errorf("after click = %q, want b", got)
	}
	h.Click(t, 1)
	if got := h.Update(t); got != "a" {
		t.Errorf("did not wrap: %q", got)
	}
}

func TestExternalScriptNumbers(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{
		"script_path": "echo 3.14159",
		"format":      "{output:.2f}",
	})
	if got := h.Update(t); got != "3.14" {
		t.Errorf("output = %q", got)
	}
}

func TestExternalScriptStrip(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{
		"script_path":  "echo '  padded  '",
		"strip_output": true,
		"format":       "[{output}]",
	})
	if got := h.Update(t); got != "padded" {
		t.Errorf("output = %q", got)
	}
}

func TestExternalScriptFailure(t *testing.T) {
	h := modtest.New(t, Name, New, map[string]any{"script_path": "echo oops >&2; exit 3"})
	res := h.Run()
	var cmdErr *module.CommandError
	if !errors.As(res[0].Err, &cmdErr) || cmdErr.ExitCode != 3 {
		t.Fatalf("err = %v, want exit 3", res[0].Err)
	}
	if got := h.Output().Text(); !strings.Contains(got, "oops") {
		t.Errorf("error slot = %q", got)
	}
}

func TestExternalScriptRequiresPath(t *testing.T) {
	_, err := modtest.Load(Name, New, nil)
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("Load = %v, want *config.Error", err)
	}
}
