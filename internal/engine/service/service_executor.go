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
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-crucible/crucible/internal/engine/model"
	"github.com/go-crucible/crucible/internal/engine/repo"
	"github.com/go-crucible/crucible/pkg/id"
	"github.com/go-crucible/crucible/pkg/limiter"
	"github.com/go-crucible/crucible/pkg/log"
	"github.com/go-crucible/crucible/pkg/metrics"
	"github.com/go-crucible/crucible/pkg/retry"
	"github.com/go-crucible/crucible/pkg/sandbox"
	"github.com/go-crucible/crucible/pkg/storage"
)

// MaxConcurrentExecutions bounds in-flight runs across the process.
const MaxConcurrentExecutions = 10

// retryBackoffBase doubles per attempt: 2s, 4s, 8s.
const retryBackoffBase = 2 * time.Second

// ExecRequest is one unit of work for Execute and ExecuteBatch.
type ExecRequest struct {
	TenantID string
	UserID   string
	PluginID string
	Data     map[string]any
	Options  *sandbox.Options
}

// ExecutorService drives plugin runs: admission, resolution, sandboxing,
// and the append-only audit trail. Execute folds every failure mode into
// the returned result; only ExecuteWithRetry surfaces a Go error.
type ExecutorService struct {
	runtime     sandbox.Runtime
	pluginRepo  repo.IPluginRepository
	instRepo    repo.IInstallationRepository
	historyRepo repo.IHistoryRepository
	codeStore   storage.CodeStore
	gate        limiter.Gate
	collector   *metrics.ExecutionCollector
	defaults    *sandbox.Options

	// retryBackoff is swapped in tests; defaults to exponential doubling.
	retryBackoff retry.Backoff

	mu      sync.Mutex
	running map[string]context.CancelFunc // "tenant:plugin:executionID"
}

func NewExecutorService(
	runtime sandbox.Runtime,
	pluginRepo repo.IPluginRepository,
	instRepo repo.IInstallationRepository,
	historyRepo repo.IHistoryRepository,
	codeStore storage.CodeStore,
	gate limiter.Gate,
	collector *metrics.ExecutionCollector,
	defaults *sandbox.Options,
) *ExecutorService {
	if gate == nil {
		gate = limiter.NewGate(MaxConcurrentExecutions)
	}
	if defaults == nil {
		defaults = sandbox.DefaultOptions()
	}
	return &ExecutorService{
		runtime:      runtime,
		pluginRepo:   pluginRepo,
		instRepo:     instRepo,
		historyRepo:  historyRepo,
		codeStore:    codeStore,
		gate:         gate,
		collector:    collector,
		defaults:     defaults,
		retryBackoff: retry.Exponential(retryBackoffBase),
		running:      make(map[string]context.CancelFunc),
	}
}

// Execute runs one plugin for one tenant. Every attempt, including ones
// rejected before the sandbox starts, is written to the execution history.
func (s *ExecutorService) Execute(ctx context.Context, req ExecRequest) *sandbox.Result {
	executionID := id.GetULID()
	start := time.Now()

	if !s.runtime.CheckRateLimit(ctx, req.PluginID, req.TenantID) {
		res := failedResult(fmt.Sprintf("rate limit exceeded for plugin %s", req.PluginID))
		s.audit(executionID, req, res, start)
		s.observe(req.PluginID, res, "rate_limited", start)
		return res
	}

	if err := s.gate.Acquire(ctx); err != nil {
		res := failedResult(fmt.Sprintf("execution slot unavailable: %v", err))
		s.audit(executionID, req, res, start)
		s.observe(req.PluginID, res, "no_slot", start)
		return res
	}
	defer s.gate.Release()

	code, sc, opts, reason, errMsg := s.resolve(ctx, req)
	if errMsg != "" {
		res := failedResult(errMsg)
		s.audit(executionID, req, res, start)
		s.observe(req.PluginID, res, reason, start)
		return res
	}

	execCtx, cancel := context.WithCancel(ctx)
	key := runKey(req.TenantID, req.PluginID, executionID)
	s.track(key, cancel)
	defer s.untrack(key)
	defer cancel()

	if s.collector != nil {
		s.collector.ExecutionStarted()
		defer s.collector.ExecutionFinished()
	}

	res := s.runtime.Execute(execCtx, code, sc, opts)
	s.audit(executionID, req, res, start)
	s.observe(req.PluginID, res, failureReason(res), start)
	return res
}

// resolve loads and checks everything the run needs up front. On failure it
// returns a metrics reason plus a message for the result.
func (s *ExecutorService) resolve(ctx context.Context, req ExecRequest) (code string, sc *sandbox.Context, opts *sandbox.Options, reason, errMsg string) {
	p, err := s.pluginRepo.GetPluginByID(req.PluginID)
	if err != nil {
		if isNotFound(err) {
			return "", nil, nil, "not_found", fmt.Sprintf("plugin %s not found", req.PluginID)
		}
		return "", nil, nil, "infra", fmt.Sprintf("registry lookup failed: %v", err)
	}
	if p.Status != model.PluginStatusApproved {
		return "", nil, nil, "not_approved", fmt.Sprintf("plugin %s is not approved (status %s)", req.PluginID, p.Status)
	}

	inst, err := s.instRepo.Get(req.TenantID, req.PluginID)
	if err != nil {
		if isNotFound(err) {
			return "", nil, nil, "not_installed", fmt.Sprintf("plugin %s is not installed for tenant %s", req.PluginID, req.TenantID)
		}
		return "", nil, nil, "infra", fmt.Sprintf("installation lookup failed: %v", err)
	}

	// code is resolved at the plugin's current version; the installation's
	// pinned version records what the tenant originally installed
	code, err = s.codeStore.LoadCode(ctx, req.PluginID, p.Version)
	if err != nil {
		return "", nil, nil, "infra", fmt.Sprintf("load code for %s@%s: %v", req.PluginID, p.Version, err)
	}

	env := map[string]string{}
	if len(inst.Config) > 0 {
		if err := json.Unmarshal(inst.Config, &env); err != nil {
			log.Warnf("installation config for %s:%s is not a string map: %v", req.TenantID, req.PluginID, err)
		}
	}

	sc = &sandbox.Context{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		PluginID: req.PluginID,
		Data:     req.Data,
		Env:      env,
	}

	// the run gets a copy, never the caller's struct; unset fields fall
	// back to the configured defaults
	o := *s.defaults
	if req.Options != nil {
		o = *req.Options
		if o.Timeout <= 0 {
			o.Timeout = s.defaults.Timeout
		}
		if o.MemoryLimit <= 0 {
			o.MemoryLimit = s.defaults.MemoryLimit
		}
	}
	if len(o.AllowedModules) == 0 {
		var manifest model.PluginManifest
		if err := json.Unmarshal(p.Manifest, &manifest); err == nil {
			o.AllowedModules = manifest.Modules
		}
	}
	return code, sc, &o, "", ""
}

// ExecuteWithRetry re-runs a failed execution with exponential backoff.
// This is the only executor path that returns a Go error: callers that need
// "it eventually worked or it did not" semantics get one here.
func (s *ExecutorService) ExecuteWithRetry(ctx context.Context, req ExecRequest, maxAttempts int) (*sandbox.Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var last *sandbox.Result
	err := retry.Do(ctx, func(ctx context.Context) error {
		last = s.Execute(ctx, req)
		if !last.Success {
			return errors.Errorf("execution failed: %s", last.Error)
		}
		return nil
	},
		retry.WithMaxAttempts(maxAttempts),
		retry.WithBackoff(s.retryBackoff),
		retry.WithRetryIf(func(error) bool { return true }),
	)
	if err != nil {
		return last, errors.Wrapf(err, "plugin %s exhausted %d attempts", req.PluginID, maxAttempts)
	}
	return last, nil
}

// ExecuteBatch fans requests out concurrently and collects results keyed by
// "tenantID:pluginID". One failed run never fails the batch.
func (s *ExecutorService) ExecuteBatch(ctx context.Context, reqs []ExecRequest) map[string]*sandbox.Result {
	results := make(map[string]*sandbox.Result, len(reqs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, req := range reqs {
		wg.Add(1)
		go func(req ExecRequest) {
			defer wg.Done()
			res := s.Execute(ctx, req)
			mu.Lock()
			results[req.TenantID+":"+req.PluginID] = res
			mu.Unlock()
		}(req)
	}
	wg.Wait()
	return results
}

// CancelExecution cancels every in-flight run for the (tenant, plugin)
// pair and returns how many were signalled. Cancellation is advisory: the
// sandbox stops at its next instruction boundary.
func (s *ExecutorService) CancelExecution(tenantID, pluginID string) int {
	prefix := tenantID + ":" + pluginID + ":"

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, cancel := range s.running {
		if strings.HasPrefix(key, prefix) {
			cancel()
			n++
		}
	}
	if n > 0 {
		log.Infof("cancelled %d execution(s) for tenant=%s plugin=%s", n, tenantID, pluginID)
	}
	return n
}

// InFlight reports the number of executions currently holding a slot.
func (s *ExecutorService) InFlight() int64 {
	return s.gate.InFlight()
}

// GetExecutionHistory returns the newest attempts first.
func (s *ExecutorService) GetExecutionHistory(pluginID string, limit int) ([]model.ExecutionHistory, error) {
	return s.historyRepo.ListByPlugin(pluginID, limit)
}

// GetExecutionStats aggregates success rate and latency over trailing days.
func (s *ExecutorService) GetExecutionStats(pluginID string, days int) (*model.ExecutionStats, error) {
	return s.historyRepo.GetStats(pluginID, days)
}

func (s *ExecutorService) track(key string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.running[key] = cancel
	s.mu.Unlock()
}

func (s *ExecutorService) untrack(key string) {
	s.mu.Lock()
	delete(s.running, key)
	s.mu.Unlock()
}

// audit appends one history row per attempt. A failed write is logged and
// swallowed so bookkeeping never masks the run's own outcome.
func (s *ExecutorService) audit(executionID string, req ExecRequest, res *sandbox.Result, start time.Time) {
	var output string
	if res.Output != nil {
		if raw, err := json.Marshal(res.Output); err == nil {
			output = string(raw)
		}
	}
	row := &model.ExecutionHistory{
		ExecutionID:     executionID,
		PluginID:        req.PluginID,
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		Success:         res.Success,
		Output:          output,
		Error:           res.Error,
		ExecutionTimeMs: res.ExecutionTimeMs,
		MemoryUsedBytes: res.MemoryUsedBytes,
		ExecutedAt:      start,
	}
	if err := s.historyRepo.Insert(row); err != nil {
		log.Errorf("write execution history %s: %v", executionID, err)
	}
}

func (s *ExecutorService) observe(pluginID string, res *sandbox.Result, reason string, start time.Time) {
	if s.collector == nil {
		return
	}
	s.collector.ObserveExecution(pluginID, res.Success, reason, time.Since(start))
}

func failureReason(res *sandbox.Result) string {
	if res.Success {
		return ""
	}
	switch {
	case strings.Contains(res.Error, "timed out"):
		return "timeout"
	case strings.HasPrefix(res.Error, "validation failed"):
		return "validation"
	default:
		return "runtime_error"
	}
}

func failedResult(msg string) *sandbox.Result {
	return &sandbox.Result{Success: false, Error: msg}
}

func runKey(tenantID, pluginID, executionID string) string {
	return tenantID + ":" + pluginID + ":" + executionID
}
