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

package repo

import (
	"context"

	"github.com/go-crucible/crucible/internal/engine/model"
	"github.com/go-crucible/crucible/pkg/database"
	"github.com/go-crucible/crucible/pkg/sandbox"
)

// MetricRepo persists runtime accounting rows. It satisfies the runtime's
// sandbox.MetricsRecorder port so the sandbox stays decoupled from gorm.
type MetricRepo struct {
	db database.IDatabase
}

func NewMetricRepo(db database.IDatabase) *MetricRepo {
	return &MetricRepo{db: db}
}

var _ sandbox.MetricsRecorder = (*MetricRepo)(nil)

func (r *MetricRepo) Record(ctx context.Context, m *sandbox.Metric) error {
	row := &model.ExecutionMetric{
		PluginID:        m.PluginID,
		TenantID:        m.TenantID,
		Success:         m.Success,
		ExecutionTimeMs: m.ExecutionTimeMs,
		MemoryUsedBytes: m.MemoryUsedBytes,
		Error:           m.Error,
		ExecutedAt:      m.ExecutedAt,
	}
	return r.db.Database().WithContext(ctx).
		Table(model.ExecutionMetric{}.TableName()).
		Create(row).Error
}
