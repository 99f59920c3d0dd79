package lua

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/barpulse/pkg/config"
	"gitlab.com/tinyland/lab/barpulse/pkg/modules/modtest"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mod.lua")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Update ---

func TestLuaString(t *testing.T) {
	path := writeScript(t, `
function update(params)
  return "hello " .. params.who
end
`)
	h := modtest.New(t, Name, New, map[string]any{"script": path, "who": "bar"})
	if got := h.Update(t); got != "hello bar" {
		t.Errorf("output = %q", got)
	}
}

func TestLuaTable(t *testing.T) {
	path := writeScript(t, `
function update(params)
  return {full_text = "hot", color = "bad", urgent = true, cache_timeout = 30}
end
`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	res := h.Run()
	if res[0].Err != nil {
		t.Fatal(res[0].Err)
	}
	seg := h.Segments()[0]
	if seg.FullText != "hot" || seg.Color != "#FF0000" || !seg.Urgent {
		t.Errorf("segment = %+v", seg)
	}
	if want := modtest.Now.Add(30 * time.Second); !res[0].CachedUntil.Equal(want) {
		t.Errorf("CachedUntil = %v, want %v", res[0].CachedUntil, want)
	}
}

func TestLuaNilClearsOutput(t *testing.T) {
	path := writeScript(t, `function update() return nil end`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	if got := h.Update(t); got != "" {
		t.Errorf("output = %q, want empty", got)
	}
}

func TestLuaRuntimeError(t *testing.T) {
	path := writeScript(t, `function update() error("boom") end`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	res := h.Run()
	if res[0].Err == nil || !strings.Contains(res[0].Err.Error(), "boom") {
		t.Errorf("err = %v", res[0].Err)
	}
}

func TestLuaCancelled(t *testing.T) {
	path := writeScript(t, `function update() while true do end end`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := h.Inst.Execute(ctx, "update")
	if res.Err == nil {
		t.Error("runaway script was not stopped")
	}
}

// --- API ---

func TestLuaStorage(t *testing.T) {
	path := writeScript(t, `
function update()
  local n = py3.storage_get("count") or 0
  n = n + 1
  py3.storage_set("count", n)
  return "n=" .. n
end
`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	h.Update(t)
	if got := h.Update(t); got != "n=2" {
		t.Errorf("output = %q", got)
	}
}

func TestLuaCommand(t *testing.T) {
	path := writeScript(t, `
function update()
  local out, err = py3.command("echo", "hi")
  if err then return err end
  return out
end
`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	if got := h.Update(t); got != "hi" {
		t.Errorf("output = %q", got)
	}
}

func TestLuaClick(t *testing.T) {
	path := writeScript(t, `
local clicks = 0
function update() return "clicks " .. clicks end
function on_click(ev)
  clicks = clicks + ev.button
  py3.update()
end
`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	h.Click(t, 3)
	if got := h.Update(t); got != "clicks 3" {
		t.Errorf("output = %q", got)
	}
	if got := h.Refreshes(); len(got) != 1 || got[0] != Name {
		t.Errorf("refreshes = %v", got)
	}
}

func TestLuaSandbox(t *testing.T) {
	path := writeScript(t, `
function update()
  return tostring(io) .. " " .. tostring(os) .. " " .. tostring(dofile)
end
`)
	h := modtest.New(t, Name, New, map[string]any{"script": path})
	if got := h.Update(t); got != "nil nil nil" {
		t.Errorf("output = %q", got)
	}
}

// --- Load ---

func TestLuaRequiresScript(t *testing.T) {
	_, err := modtest.Load(Name, New, nil)
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		t.Errorf("Load = %v, want *config.Error", err)
	}
}

func TestLuaMissingUpdate(t *testing.T) {
	path := writeScript(t, `x = 1`)
	_, err := modtest.Load(Name, New, map[string]any{"script": path})
	if !errors.Is(err, ErrNoUpdate) {
		t.Errorf("Load = %v, want ErrNoUpdate", err)
	}
}

func TestLuaSyntaxError(t *testing.T) {
	path := writeScript(t, `function update(`)
	if _, err := modtest.Load(Name, New, map[string]any{"script": path}); err == nil {
		t.Error("syntax error loaded")
	}
}
