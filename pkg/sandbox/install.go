// Copyright 2025 Crucible Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sandbox

import (
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// safeBuiltinModules are the gopher-lua built-ins the gated loader resolves
// without an explicit module grant.
var safeBuiltinModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// installSandbox builds the isolated environment: selected libraries only,
// dangerous base functions removed, and one binding per granted capability.
func installSandbox(L *lua.LState, sc *Context, caps []Capability, run *runState) {
	openSafeLibs(L)
	stripDangerousGlobals(L)
	lockModuleSearchPath(L)

	granted := map[string]bool{}
	for _, c := range caps {
		switch cap := c.(type) {
		case LogCapability:
			installLogSink(L, run, cap.MaxEntries)
		case TimerCapability:
			installTimer(L, cap.MaxDelay)
		case ModuleCapability:
			granted[cap.Name] = true
		}
	}
	installGatedRequire(L, granted)

	L.SetGlobal("context", executionContextTable(L, sc))
	L.SetGlobal("env", envTable(L, sc.Env))
}

// openSafeLibs opens only the libraries with no ambient host access.
func openSafeLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage}, // must be opened first
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
}

// stripDangerousGlobals removes base functions that load code dynamically or
// pivot through metatables. The static validator rejects these upfront; the
// VM must not offer them even to code that slips past it.
func stripDangerousGlobals(L *lua.LState) {
	for _, name := range []string{
		"load", "loadstring", "loadfile", "dofile",
		"collectgarbage",
		"getmetatable", "setmetatable",
		"rawget", "rawset", "rawequal",
		"getfenv", "setfenv",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

// lockModuleSearchPath clears package.path/cpath so nothing resolves from disk.
func lockModuleSearchPath(L *lua.LState) {
	pkg := L.GetGlobal("package")
	if pkgTable, ok := pkg.(*lua.LTable); ok {
		L.SetField(pkgTable, "path", lua.LString(""))
		L.SetField(pkgTable, "cpath", lua.LString(""))
	}
}

// installLogSink replaces print and adds log(); both append to the bounded
// in-memory buffer instead of writing to real standard streams.
func installLogSink(L *lua.LState, run *runState, maxEntries int) {
	sink := L.NewFunction(func(L *lua.LState) int {
		if len(run.logs) >= maxEntries {
			return 0
		}
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.Get(i).String())
		}
		run.logs = append(run.logs, strings.Join(parts, "\t"))
		return 0
	})
	L.SetGlobal("print", sink)
	L.SetGlobal("log", sink)
}

// installTimer adds a one-shot sleep(ms) binding. Delays over the capability
// ceiling are rejected; there is no recurring-timer primitive at all.
func installTimer(L *lua.LState, maxDelay time.Duration) {
	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		ms := L.CheckInt64(1)
		if ms < 0 {
			L.ArgError(1, "delay must be non-negative")
			return 0
		}
		delay := time.Duration(ms) * time.Millisecond
		if delay > maxDelay {
			L.RaiseError("sleep delay %dms exceeds maximum %dms", ms, maxDelay.Milliseconds())
			return 0
		}
		select {
		case <-time.After(delay):
		case <-L.Context().Done():
			L.RaiseError("execution cancelled during sleep")
		}
		return 0
	}))
}

// installGatedRequire replaces require with a loader that resolves only the
// safe built-ins and explicitly granted module names.
func installGatedRequire(L *lua.LState, granted map[string]bool) {
	originalRequire := L.GetGlobal("require")

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if !safeBuiltinModules[modName] && !granted[modName] {
			L.RaiseError("module %q is not available", modName)
			return 0
		}

		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

func executionContextTable(L *lua.LState, sc *Context) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "tenantId", lua.LString(sc.TenantID))
	L.SetField(tbl, "pluginId", lua.LString(sc.PluginID))
	if sc.UserID != "" {
		L.SetField(tbl, "userId", lua.LString(sc.UserID))
	}
	if sc.Data != nil {
		L.SetField(tbl, "data", goToLua(L, sc.Data))
	}
	return tbl
}

func envTable(L *lua.LState, env map[string]string) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range env {
		L.SetField(tbl, k, lua.LString(v))
	}
	return tbl
}

// goToLua converts a Go value into its Lua representation.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	case map[string]string:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, lua.LString(item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value into its Go representation. Whole numbers come
// back as int64 so trivial arithmetic round-trips without float noise.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return luaTableToGo(val)
	default:
		return val.String()
	}
}

func luaTableToGo(tbl *lua.LTable) any {
	maxN := tbl.MaxN()
	if maxN > 0 {
		arr := make([]any, 0, maxN)
		for i := 1; i <= maxN; i++ {
			arr = append(arr, luaToGo(tbl.RawGetInt(i)))
		}
		return arr
	}
	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		m[k.String()] = luaToGo(v)
	})
	return m
}
