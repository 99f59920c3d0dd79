// Package lua runs a user Lua script as a module.
//
// The script must define a global update(params) function. It returns
// either a string, nil (no output) or a table with the keys full_text,
// color, urgent and cached_until (unix seconds) or cache_timeout
// (seconds). An optional on_click(event) function receives clicks.
//
// Scripts see the base, table, string and math libraries plus a py3
// table: log, color, time, command, storage_get, storage_set, update
// and prevent_refresh.
package lua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
	"gitlab.com/tinyland/lab/barpulse/pkg/protocol"
)

// Name is the registry name.
const Name = "lua"

// ErrNoUpdate is returned when the script does not define update().
var ErrNoUpdate = errors.New("lua: script does not define update()")

// Script is a loaded Lua module. A gopher-lua state is not safe for
// concurrent use, so every call holds mu.
type Script struct {
	py3    *module.Py3
	path   string
	params *lua.LTable

	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

// New is the module factory. The script parameter names the file; every
// other parameter is passed to update() in the params table.
func New(py3 *module.Py3) (module.Module, error) {
	path, err := py3.Params().RequireString("script")
	if err != nil {
		return nil, err
	}
	s := &Script{py3: py3, path: path}
	s.L = newState()
	s.installAPI()
	s.params = toTable(s.L, py3.Params().Map())

	if err := s.L.DoFile(path); err != nil {
		s.L.Close()
		return nil, fmt.Errorf("lua: load %s: %w", path, err)
	}
	if s.L.GetGlobal("update").Type() != lua.LTFunction {
		s.L.Close()
		return nil, ErrNoUpdate
	}
	return s, nil
}

// newState opens the libraries that cannot reach the filesystem or spawn
// processes.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// SingleThreaded implements module.SingleThreader.
func (s *Script) SingleThreaded() bool { return true }

// ExclusiveClicks implements module.ExclusiveClicker.
func (s *Script) ExclusiveClicks() bool { return true }

// Methods implements module.Module.
func (s *Script) Methods() []module.Method {
	return []module.Method{{Name: "update", Fn: s.update}}
}

func (s *Script) update(ctx context.Context) (*module.Response, error) {
	ret, err := s.call(ctx, "update", s.params)
	if err != nil {
		return nil, err
	}
	return s.response(ret)
}

// OnClick calls on_click(event) when the script defines it.
func (s *Script) OnClick(ctx context.Context, ev protocol.Event) error {
	s.mu.Lock()
	defined := !s.closed && s.L.GetGlobal("on_click").Type() == lua.LTFunction
	s.mu.Unlock()
	if !defined {
		return nil
	}
	event := map[string]any{
		"name":     ev.Name,
		"instance": ev.Instance,
		"button":   ev.Button,
		"x":        ev.X,
		"y":        ev.Y,
	}
	if len(ev.Modifiers) > 0 {
		event["modifiers"] = ev.Modifiers
	}
	_, err := s.call(ctx, "on_click", event)
	return err
}

// Kill closes the Lua state.
func (s *Script) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
}

// call invokes global fn with one argument under ctx and returns its first
// result.
func (s *Script) call(ctx context.Context, fn string, arg any) (lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil, errors.New("lua: state closed")
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	err := s.L.CallByParam(lua.P{
		Fn:      s.L.GetGlobal(fn),
		NRet:    1,
		Protect: true,
	}, toLua(s.L, arg))
	if err != nil {
		return lua.LNil, fmt.Errorf("lua: %s: %w", fn, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

// response converts update()'s return value.
func (s *Script) response(v lua.LValue) (*module.Response, error) {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		return &module.Response{FullText: string(t)}, nil
	case lua.LNumber:
		return &module.Response{FullText: t.String()}, nil
	case *lua.LTable:
		resp := &module.Response{FullText: lua.LVAsString(t.RawGetString("full_text"))}
		if c := lua.LVAsString(t.RawGetString("color")); c != "" {
			resp.Attrs = map[string]any{"color": c}
		}
		resp.Urgent = lua.LVAsBool(t.RawGetString("urgent"))
		if n, ok := t.RawGetString("cached_until").(lua.LNumber); ok {
			sec, frac := math.Modf(float64(n))
			resp.CachedUntil = time.Unix(int64(sec), int64(frac*1e9))
		} else if n, ok := t.RawGetString("cache_timeout").(lua.LNumber); ok {
			resp.CachedUntil = s.py3.Now().Add(time.Duration(float64(n) * float64(time.Second)))
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("lua: update returned %s", v.Type())
	}
}
