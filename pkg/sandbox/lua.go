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
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-crucible/crucible/pkg/limiter"
	"github.com/go-crucible/crucible/pkg/log"
	lua "github.com/yuin/gopher-lua"
)

// RateLimitPerMinute is the execution ceiling per (pluginID, tenantID) pair
// inside the trailing window.
const RateLimitPerMinute = 100

// RateLimitWindow is the trailing interval the ceiling applies to.
const RateLimitWindow = time.Minute

// LuaRuntime runs plugin code in a per-execution gopher-lua state. A fresh
// state is built for every run so nothing leaks between tenants.
//
// The LState is confined to the calling goroutine; the wall-clock ceiling is
// enforced through the state's context, which aborts the VM mid-execution.
type LuaRuntime struct {
	window   limiter.RateWindow
	recorder MetricsRecorder
}

// NewLuaRuntime creates the runtime with its rate window and metrics port.
// recorder may be nil when metric persistence is not wanted (tests).
func NewLuaRuntime(window limiter.RateWindow, recorder MetricsRecorder) *LuaRuntime {
	return &LuaRuntime{window: window, recorder: recorder}
}

// Execute validates, sandboxes, and runs one unit of plugin code.
// All failures are folded into the Result; this method never panics.
func (r *LuaRuntime) Execute(ctx context.Context, code string, sc *Context, opts *Options) *Result {
	opts = opts.normalize()
	start := time.Now()

	run := &runState{logs: make([]string, 0, 8)}

	res := r.execute(ctx, code, sc, opts, run, start)
	res.Logs = run.logs
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	r.record(ctx, sc, res)
	return res
}

func (r *LuaRuntime) execute(ctx context.Context, code string, sc *Context, opts *Options, run *runState, start time.Time) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			res = &Result{Success: false, Error: fmt.Sprintf("sandbox panic: %v", p)}
		}
	}()

	// First line of defense: fixed syntactic denylist.
	if err := ValidateCode(code); err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	// Independent escape-idiom scan, promoted to a hard reject.
	if pattern := ScanEscapeAttempt(code); pattern != "" {
		log.Warnf("escape attempt blocked, plugin: %s, tenant: %s, pattern: %s",
			sc.PluginID, sc.TenantID, pattern)
		return &Result{Success: false, Error: fmt.Sprintf("validation failed: potential sandbox escape: %s", pattern)}
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(runCtx)

	caps := defaultCapabilities(opts.AllowedModules)
	installSandbox(L, sc, caps, run)

	fn, err := L.LoadString(code)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("compile error: %v", err)}
	}

	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return &Result{
				Success:         false,
				Error:           fmt.Sprintf("execution timed out after %dms", opts.Timeout.Milliseconds()),
				MemoryUsedBytes: memoryDelta(&before),
			}
		}
		return &Result{
			Success:         false,
			Error:           strings.TrimSpace(err.Error()),
			MemoryUsedBytes: memoryDelta(&before),
		}
	}

	var output any
	if L.GetTop() > 0 {
		output = luaToGo(L.Get(-1))
	}

	used := memoryDelta(&before)
	if used > opts.MemoryLimit {
		return &Result{
			Success:         false,
			Error:           fmt.Sprintf("memory limit exceeded: used %d of %d bytes", used, opts.MemoryLimit),
			MemoryUsedBytes: used,
		}
	}

	return &Result{Success: true, Output: output, MemoryUsedBytes: used}
}

// CheckRateLimit counts executions for the pair in the trailing window and
// admits the call when below the ceiling. Admission records the event.
func (r *LuaRuntime) CheckRateLimit(ctx context.Context, pluginID, tenantID string) bool {
	if r.window == nil {
		return true
	}
	ok, err := r.window.Allow(ctx, tenantID+":"+pluginID)
	if err != nil {
		// A broken limiter backend must not block executions outright.
		log.Errorf("rate window check failed: %v", err)
		return true
	}
	return ok
}

func (r *LuaRuntime) record(ctx context.Context, sc *Context, res *Result) {
	if r.recorder == nil {
		return
	}
	m := &Metric{
		PluginID:        sc.PluginID,
		TenantID:        sc.TenantID,
		Success:         res.Success,
		ExecutionTimeMs: res.ExecutionTimeMs,
		MemoryUsedBytes: res.MemoryUsedBytes,
		Error:           res.Error,
		ExecutedAt:      time.Now(),
	}
	if err := r.recorder.Record(ctx, m); err != nil {
		log.Errorf("failed to record execution metric, plugin: %s: %v", sc.PluginID, err)
	}
}

// runState carries per-run mutable state shared with the installed bindings.
type runState struct {
	logs []string
}

func memoryDelta(before *runtime.MemStats) int64 {
	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	delta := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	if delta < 0 {
		return 0
	}
	return delta
}
