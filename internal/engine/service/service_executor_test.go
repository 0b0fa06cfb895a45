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

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-crucible/crucible/internal/engine/model"
	"github.com/go-crucible/crucible/pkg/limiter"
	"github.com/go-crucible/crucible/pkg/retry"
	"github.com/go-crucible/crucible/pkg/sandbox"
	"github.com/go-crucible/crucible/pkg/storage"
)

type executorFixture struct {
	svc     *ExecutorService
	runtime *stubRuntime
	plugins *fakePluginRepo
	insts   *fakeInstRepo
	history *fakeHistoryRepo
	store   *storage.MemoryStore
}

func newExecutorFixture(t *testing.T, rt *stubRuntime) *executorFixture {
	t.Helper()
	if rt == nil {
		rt = &stubRuntime{}
	}
	f := &executorFixture{
		runtime: rt,
		plugins: newFakePluginRepo(),
		insts:   newFakeInstRepo(),
		history: newFakeHistoryRepo(),
		store:   storage.NewMemoryStore(),
	}
	f.svc = NewExecutorService(rt, f.plugins, f.insts, f.history, f.store, limiter.NewGate(MaxConcurrentExecutions), nil, nil)
	return f
}

// seedPlugin registers an approved, installed plugin directly through the
// fakes so executor tests do not depend on the registry service.
func (f *executorFixture) seedPlugin(t *testing.T, pluginID, tenantID, code string) {
	t.Helper()
	require.NoError(t, f.plugins.CreatePlugin(&model.Plugin{
		PluginID: pluginID,
		Name:     pluginID,
		Version:  "1.0.0",
		Status:   model.PluginStatusApproved,
		Manifest: []byte(`{"name":"` + pluginID + `","version":"1.0.0"}`),
	}))
	require.NoError(t, f.insts.Create(&model.PluginInstallation{
		TenantID:    tenantID,
		PluginID:    pluginID,
		Version:     "1.0.0",
		InstalledAt: time.Now(),
	}))
	require.NoError(t, f.store.StoreCode(context.Background(), pluginID, "1.0.0", code))
}

func TestExecute_Success(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)

	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
		UserID:   "user-1",
	})
	require.True(t, res.Success)
	assert.Equal(t, "ok", res.Output)

	rows := f.history.byPlugin("plg-1")
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
	assert.Equal(t, "tenant-1", rows[0].TenantID)
	assert.NotEmpty(t, rows[0].ExecutionID)
}

func TestExecute_PluginNotInstalled(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)

	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-2",
		PluginID: "plg-1",
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "not installed")
	assert.Equal(t, 0, f.runtime.callCount(), "sandbox must not run")

	// pre-flight rejections are audited too
	rows := f.history.byPlugin("plg-1")
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
}

func TestExecute_PluginNotApproved(t *testing.T) {
	f := newExecutorFixture(t, nil)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)
	require.NoError(t, f.plugins.UpdatePluginStatus("plg-1", model.PluginStatusSuspended))

	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "not approved")
	assert.Equal(t, 0, f.runtime.callCount())
}

func TestExecute_UnknownPlugin(t *testing.T) {
	f := newExecutorFixture(t, nil)

	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "ghost",
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestExecute_RateLimited(t *testing.T) {
	rt := &stubRuntime{rateAllow: func() bool { return false }}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)

	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
	})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "rate limit exceeded")
	assert.Equal(t, 0, rt.callCount(), "sandbox must not run")

	rows := f.history.byPlugin("plg-1")
	require.Len(t, rows, 1, "rate-limited attempts are audited")
}

func TestExecute_MergesInstallationConfigIntoEnv(t *testing.T) {
	var captured *sandbox.Context
	rt := &stubRuntime{
		execute: func(_ context.Context, _ string, sc *sandbox.Context, _ *sandbox.Options) *sandbox.Result {
			captured = sc
			return &sandbox.Result{Success: true}
		},
	}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)

	inst, err := f.insts.Get("tenant-1", "plg-1")
	require.NoError(t, err)
	inst.Config = []byte(`{"region":"eu","mode":"batch"}`)
	require.NoError(t, f.insts.Create(inst))

	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
		Data:     map[string]any{"rows": 3},
	})
	require.True(t, res.Success)
	require.NotNil(t, captured)
	assert.Equal(t, "eu", captured.Env["region"])
	assert.Equal(t, "batch", captured.Env["mode"])
	assert.Equal(t, 3, captured.Data["rows"])
}

func TestExecute_AppliesConfiguredDefaults(t *testing.T) {
	var captured *sandbox.Options
	rt := &stubRuntime{
		execute: func(_ context.Context, _ string, _ *sandbox.Context, opts *sandbox.Options) *sandbox.Result {
			captured = opts
			return &sandbox.Result{Success: true}
		},
	}
	f := newExecutorFixture(t, rt)
	f.svc = NewExecutorService(rt, f.plugins, f.insts, f.history, f.store,
		limiter.NewGate(MaxConcurrentExecutions), nil,
		&sandbox.Options{Timeout: 30 * time.Second, MemoryLimit: 128 << 20})
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)

	res := f.svc.Execute(context.Background(), ExecRequest{TenantID: "tenant-1", PluginID: "plg-1"})
	require.True(t, res.Success)
	require.NotNil(t, captured)
	assert.Equal(t, 30*time.Second, captured.Timeout)
	assert.Equal(t, int64(128<<20), captured.MemoryLimit)

	// per-request options win, but unset fields still fall back
	captured = nil
	res = f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
		Options:  &sandbox.Options{Timeout: time.Second},
	})
	require.True(t, res.Success)
	require.NotNil(t, captured)
	assert.Equal(t, time.Second, captured.Timeout)
	assert.Equal(t, int64(128<<20), captured.MemoryLimit)
}

func TestExecute_DoesNotMutateCallerOptions(t *testing.T) {
	var captured *sandbox.Options
	rt := &stubRuntime{
		execute: func(_ context.Context, _ string, _ *sandbox.Context, opts *sandbox.Options) *sandbox.Result {
			captured = opts
			return &sandbox.Result{Success: true}
		},
	}
	f := newExecutorFixture(t, rt)
	require.NoError(t, f.plugins.CreatePlugin(&model.Plugin{
		PluginID: "plg-1",
		Name:     "plg-1",
		Version:  "1.0.0",
		Status:   model.PluginStatusApproved,
		Manifest: []byte(`{"name":"plg-1","version":"1.0.0","modules":["string","table"]}`),
	}))
	require.NoError(t, f.insts.Create(&model.PluginInstallation{
		TenantID: "tenant-1",
		PluginID: "plg-1",
		Version:  "1.0.0",
	}))
	require.NoError(t, f.store.StoreCode(context.Background(), "plg-1", "1.0.0", `return 1`))

	supplied := &sandbox.Options{Timeout: time.Second}
	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
		Options:  supplied,
	})
	require.True(t, res.Success)
	require.NotNil(t, captured)
	assert.Equal(t, []string{"string", "table"}, captured.AllowedModules, "manifest grants reach the run")
	assert.Empty(t, supplied.AllowedModules, "caller's struct stays untouched")
	assert.NotSame(t, supplied, captured)
}

func TestExecute_ConcurrencyCeiling(t *testing.T) {
	release := make(chan struct{})
	var peak, current atomic.Int64
	rt := &stubRuntime{
		execute: func(ctx context.Context, _ string, _ *sandbox.Context, _ *sandbox.Options) *sandbox.Result {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return &sandbox.Result{Success: true}
		},
	}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Execute(context.Background(), ExecRequest{TenantID: "tenant-1", PluginID: "plg-1"})
		}()
	}

	// let the first wave reach the sandbox before opening the gate
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(MaxConcurrentExecutions))
	assert.Equal(t, workers, rt.callCount())
}

func TestExecuteWithRetry_EventualSuccess(t *testing.T) {
	var attempts atomic.Int64
	rt := &stubRuntime{
		execute: func(context.Context, string, *sandbox.Context, *sandbox.Options) *sandbox.Result {
			if attempts.Add(1) < 3 {
				return &sandbox.Result{Success: false, Error: "flaky"}
			}
			return &sandbox.Result{Success: true, Output: "finally"}
		},
	}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)
	f.svc.retryBackoff = retry.Fixed(time.Millisecond)

	res, err := f.svc.ExecuteWithRetry(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
	}, 3)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "finally", res.Output)
	assert.Equal(t, int64(3), attempts.Load())

	rows := f.history.byPlugin("plg-1")
	assert.Len(t, rows, 3, "every attempt gets its own history row")
}

func TestExecuteWithRetry_Exhausted(t *testing.T) {
	rt := &stubRuntime{
		execute: func(context.Context, string, *sandbox.Context, *sandbox.Options) *sandbox.Result {
			return &sandbox.Result{Success: false, Error: "broken"}
		},
	}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)
	f.svc.retryBackoff = retry.Fixed(time.Millisecond)

	res, err := f.svc.ExecuteWithRetry(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-1",
	}, 2)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, err.Error(), "exhausted 2 attempts")
}

func TestExecuteBatch(t *testing.T) {
	rt := &stubRuntime{
		execute: func(_ context.Context, _ string, sc *sandbox.Context, _ *sandbox.Options) *sandbox.Result {
			if sc.PluginID == "plg-bad" {
				return &sandbox.Result{Success: false, Error: "boom"}
			}
			return &sandbox.Result{Success: true, Output: sc.PluginID}
		},
	}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)
	f.seedPlugin(t, "plg-2", "tenant-1", `return 2`)
	f.seedPlugin(t, "plg-bad", "tenant-1", `boom()`)

	results := f.svc.ExecuteBatch(context.Background(), []ExecRequest{
		{TenantID: "tenant-1", PluginID: "plg-1"},
		{TenantID: "tenant-1", PluginID: "plg-2"},
		{TenantID: "tenant-1", PluginID: "plg-bad"},
	})
	require.Len(t, results, 3)
	assert.True(t, results["tenant-1:plg-1"].Success)
	assert.True(t, results["tenant-1:plg-2"].Success)
	assert.False(t, results["tenant-1:plg-bad"].Success)
}

func TestCancelExecution(t *testing.T) {
	started := make(chan struct{})
	rt := &stubRuntime{
		execute: func(ctx context.Context, _ string, _ *sandbox.Context, _ *sandbox.Options) *sandbox.Result {
			close(started)
			<-ctx.Done()
			return &sandbox.Result{Success: false, Error: "execution cancelled"}
		},
	}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `while true do end`)

	done := make(chan *sandbox.Result, 1)
	go func() {
		done <- f.svc.Execute(context.Background(), ExecRequest{TenantID: "tenant-1", PluginID: "plg-1"})
	}()
	<-started

	n := f.svc.CancelExecution("tenant-1", "plg-1")
	assert.Equal(t, 1, n)

	select {
	case res := <-done:
		assert.False(t, res.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled execution did not return")
	}

	// nothing left to cancel
	assert.Equal(t, 0, f.svc.CancelExecution("tenant-1", "plg-1"))
}

func TestExecutionStats(t *testing.T) {
	calls := 0
	rt := &stubRuntime{
		execute: func(context.Context, string, *sandbox.Context, *sandbox.Options) *sandbox.Result {
			calls++
			if calls%2 == 0 {
				return &sandbox.Result{Success: false, Error: "boom", ExecutionTimeMs: 20}
			}
			return &sandbox.Result{Success: true, ExecutionTimeMs: 10}
		},
	}
	f := newExecutorFixture(t, rt)
	f.seedPlugin(t, "plg-1", "tenant-1", `return 1`)

	for i := 0; i < 4; i++ {
		f.svc.Execute(context.Background(), ExecRequest{TenantID: "tenant-1", PluginID: "plg-1"})
	}

	stats, err := f.svc.GetExecutionStats("plg-1", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalExecutions)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, stats.ErrorRate, 0.001)
	assert.InDelta(t, 15.0, stats.AvgExecutionTimeMs, 0.001)

	history, err := f.svc.GetExecutionHistory("plg-1", 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// End-to-end through the real Lua runtime.
func TestExecute_EndToEndLua(t *testing.T) {
	rt := sandbox.NewLuaRuntime(nil, nil)
	f := &executorFixture{
		plugins: newFakePluginRepo(),
		insts:   newFakeInstRepo(),
		history: newFakeHistoryRepo(),
		store:   storage.NewMemoryStore(),
	}
	f.svc = NewExecutorService(rt, f.plugins, f.insts, f.history, f.store, limiter.NewGate(MaxConcurrentExecutions), nil, nil)
	f.seedPlugin(t, "plg-lua", "tenant-1", `
		log("starting")
		return context.data.a + context.data.b
	`)

	res := f.svc.Execute(context.Background(), ExecRequest{
		TenantID: "tenant-1",
		PluginID: "plg-lua",
		Data:     map[string]any{"a": 2, "b": 40},
	})
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, int64(42), res.Output)
	assert.Contains(t, res.Logs, "starting")
}
