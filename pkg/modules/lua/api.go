package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// installAPI exposes the py3 table. Functions run while s.mu is held by
// call, so they use s.L's context and never lock.
func (s *Script) installAPI() {
	api := map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			s.py3.Log(L.CheckString(1))
			return 0
		},
		"color": func(L *lua.LState) int {
			L.Push(lua.LString(s.py3.Color(L.CheckString(1))))
			return 1
		},
		"time": func(L *lua.LState) int {
			now := s.py3.Now()
			L.Push(lua.LNumber(float64(now.UnixNano()) / 1e9))
			return 1
		},
		"command": func(L *lua.LState) int {
			args := make([]string, 0, L.GetTop())
			for i := 1; i <= L.GetTop(); i++ {
				args = append(args, L.CheckString(i))
			}
			out, err := s.py3.CommandOutput(luaContext(L), args...)
			L.Push(lua.LString(out))
			if err != nil {
				L.Push(lua.LString(err.Error()))
				return 2
			}
			return 1
		},
		"storage_get": func(L *lua.LState) int {
			var v any
			ok, err := s.py3.StorageGet(L.CheckString(1), &v)
			if err != nil {
				L.RaiseError("storage_get: %v", err)
			}
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, v))
			return 1
		},
		"storage_set": func(L *lua.LState) int {
			if err := s.py3.StorageSet(L.CheckString(1), fromLua(L.Get(2))); err != nil {
				L.RaiseError("storage_set: %v", err)
			}
			return 0
		},
		"update": func(L *lua.LState) int {
			if err := s.py3.UpdateSelf(); err != nil {
				L.RaiseError("update: %v", err)
			}
			return 0
		},
		"prevent_refresh": func(L *lua.LState) int {
			s.py3.PreventRefresh()
			return 0
		},
	}
	s.L.SetGlobal("py3", s.L.SetFuncs(s.L.NewTable(), api))
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// toTable converts a parameter map to a Lua table.
func toTable(L *lua.LState, m map[string]any) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		t.RawSetString(k, toLua(L, v))
	}
	return t
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case []byte:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case uint64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []string:
		tbl := L.NewTable()
		for _, s := range t {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, e := range t {
			tbl.Append(toLua(L, e))
		}
		return tbl
	case map[string]any:
		return toTable(L, t)
	case map[any]any:
		tbl := L.NewTable()
		for k, e := range t {
			tbl.RawSetH(toLua(L, k), toLua(L, e))
		}
		return tbl
	case lua.LValue:
		return t
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// fromLua converts a Lua value for storage. Tables with keys 1..n become
// lists; other tables become string-keyed maps. Functions are dropped.
func fromLua(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(t)
	case *lua.LTable:
		if n := t.Len(); n > 0 {
			count := 0
			t.ForEach(func(lua.LValue, lua.LValue) { count++ })
			if count == n {
				out := make([]any, 0, n)
				for i := 1; i <= n; i++ {
					out = append(out, fromLua(t.RawGetInt(i)))
				}
				return out
			}
		}
		out := make(map[string]any)
		t.ForEach(func(k, e lua.LValue) {
			out[k.String()] = fromLua(e)
		})
		return out
	default:
		return nil
	}
}
