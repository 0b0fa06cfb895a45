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
	"strings"
	"sync"

	"github.com/go-crucible/crucible/internal/engine/errs"
	"github.com/go-crucible/crucible/internal/engine/model"
	"github.com/go-crucible/crucible/internal/engine/repo"
	"github.com/go-crucible/crucible/pkg/sandbox"
)

// In-memory repository doubles. They implement just enough semantics for
// the services under test: uniqueness, not-found mapping, ordering.

type fakePluginRepo struct {
	mu       sync.Mutex
	plugins  map[string]*model.Plugin // by pluginID
	versions []model.PluginVersion
	reviews  []model.PluginReview
}

func newFakePluginRepo() *fakePluginRepo {
	return &fakePluginRepo{plugins: make(map[string]*model.Plugin)}
}

func (f *fakePluginRepo) CreatePlugin(p *model.Plugin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugins[p.PluginID] = p
	return nil
}

func (f *fakePluginRepo) GetPluginByID(pluginID string) (*model.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plugins[pluginID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, errs.NotFound("plugin", pluginID)
}

func (f *fakePluginRepo) GetPluginByName(name string) (*model.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plugins {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.NotFound("plugin", name)
}

func (f *fakePluginRepo) UpdatePlugin(pluginID string, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plugins[pluginID]
	if !ok {
		return errs.NotFound("plugin", pluginID)
	}
	if v, ok := updates["version"].(string); ok {
		p.Version = v
	}
	if d, ok := updates["description"].(string); ok {
		p.Description = d
	}
	if c, ok := updates["checksum"].(string); ok {
		p.Checksum = c
	}
	if m, ok := updates["manifest"].([]byte); ok {
		p.Manifest = m
	}
	return nil
}

func (f *fakePluginRepo) UpdatePluginStatus(pluginID string, status model.PluginStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plugins[pluginID]
	if !ok {
		return errs.NotFound("plugin", pluginID)
	}
	p.Status = status
	return nil
}

func (f *fakePluginRepo) IncrementDownloadCount(pluginID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plugins[pluginID]; ok {
		p.DownloadCount++
	}
	return nil
}

func (f *fakePluginRepo) SearchApproved(filter repo.SearchFilter) ([]model.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Plugin
	for _, p := range f.plugins {
		if p.Status != model.PluginStatusApproved {
			continue
		}
		if filter.Author != "" && p.Author != filter.Author {
			continue
		}
		if filter.Query != "" &&
			!strings.Contains(p.Name, filter.Query) &&
			!strings.Contains(p.Description, filter.Query) {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePluginRepo) CreateVersion(v *model.PluginVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions = append(f.versions, *v)
	return nil
}

func (f *fakePluginRepo) GetVersion(pluginID, version string) (*model.PluginVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.versions {
		if f.versions[i].PluginID == pluginID && f.versions[i].Version == version {
			cp := f.versions[i]
			return &cp, nil
		}
	}
	return nil, errs.NotFound("plugin version", pluginID+"@"+version)
}

func (f *fakePluginRepo) GetVersions(pluginID string) ([]model.PluginVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PluginVersion
	for _, v := range f.versions {
		if v.PluginID == pluginID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakePluginRepo) CreateReview(r *model.PluginReview) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, *r)
	return nil
}

func (f *fakePluginRepo) ListReviews(pluginID string) ([]model.PluginReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PluginReview
	for _, r := range f.reviews {
		if r.PluginID == pluginID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeInstRepo struct {
	mu    sync.Mutex
	insts map[string]*model.PluginInstallation // "tenant:plugin"
}

func newFakeInstRepo() *fakeInstRepo {
	return &fakeInstRepo{insts: make(map[string]*model.PluginInstallation)}
}

func instKey(tenantID, pluginID string) string {
	return tenantID + ":" + pluginID
}

func (f *fakeInstRepo) Create(inst *model.PluginInstallation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insts[instKey(inst.TenantID, inst.PluginID)] = inst
	return nil
}

func (f *fakeInstRepo) Get(tenantID, pluginID string) (*model.PluginInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.insts[instKey(tenantID, pluginID)]; ok {
		cp := *inst
		return &cp, nil
	}
	return nil, errs.NotFound("installation", instKey(tenantID, pluginID))
}

func (f *fakeInstRepo) Delete(tenantID, pluginID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.insts, instKey(tenantID, pluginID))
	return nil
}

func (f *fakeInstRepo) ListByTenant(tenantID string) ([]model.PluginInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.PluginInstallation
	for _, inst := range f.insts {
		if inst.TenantID == tenantID {
			out = append(out, *inst)
		}
	}
	return out, nil
}

type fakeHistoryRepo struct {
	mu   sync.Mutex
	rows []model.ExecutionHistory
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{}
}

func (f *fakeHistoryRepo) Insert(h *model.ExecutionHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *h)
	return nil
}

func (f *fakeHistoryRepo) ListByPlugin(pluginID string, limit int) ([]model.ExecutionHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExecutionHistory
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].PluginID == pluginID {
			out = append(out, f.rows[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeHistoryRepo) GetStats(pluginID string, days int) (*model.ExecutionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &model.ExecutionStats{}
	var successes int64
	var totalMs int64
	for _, r := range f.rows {
		if r.PluginID != pluginID {
			continue
		}
		stats.TotalExecutions++
		totalMs += r.ExecutionTimeMs
		if r.Success {
			successes++
		}
	}
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalExecutions)
		stats.ErrorRate = 1 - stats.SuccessRate
		stats.AvgExecutionTimeMs = float64(totalMs) / float64(stats.TotalExecutions)
	}
	return stats, nil
}

func (f *fakeHistoryRepo) byPlugin(pluginID string) []model.ExecutionHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExecutionHistory
	for _, r := range f.rows {
		if r.PluginID == pluginID {
			out = append(out, r)
		}
	}
	return out
}

// stubRuntime is a scriptable sandbox.Runtime spy.
type stubRuntime struct {
	mu        sync.Mutex
	calls     int
	rateAllow func() bool
	execute   func(ctx context.Context, code string, sc *sandbox.Context, opts *sandbox.Options) *sandbox.Result
}

func (s *stubRuntime) Execute(ctx context.Context, code string, sc *sandbox.Context, opts *sandbox.Options) *sandbox.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.execute != nil {
		return s.execute(ctx, code, sc, opts)
	}
	return &sandbox.Result{Success: true, Output: "ok"}
}

func (s *stubRuntime) CheckRateLimit(ctx context.Context, pluginID, tenantID string) bool {
	if s.rateAllow != nil {
		return s.rateAllow()
	}
	return true
}

func (s *stubRuntime) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
