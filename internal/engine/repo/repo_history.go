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
	"time"

	"github.com/go-crucible/crucible/internal/engine/model"
	"github.com/go-crucible/crucible/pkg/database"
)

type IHistoryRepository interface {
	// Insert appends one history row. Rows are never mutated afterwards.
	Insert(h *model.ExecutionHistory) error

	// ListByPlugin returns the newest rows first.
	ListByPlugin(pluginID string, limit int) ([]model.ExecutionHistory, error)

	// GetStats aggregates success/latency over the trailing number of days.
	GetStats(pluginID string, days int) (*model.ExecutionStats, error)
}

type HistoryRepo struct {
	db database.IDatabase
}

func NewHistoryRepo(db database.IDatabase) IHistoryRepository {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) Insert(h *model.ExecutionHistory) error {
	return r.db.Database().Table(model.ExecutionHistory{}.TableName()).Create(h).Error
}

func (r *HistoryRepo) ListByPlugin(pluginID string, limit int) ([]model.ExecutionHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []model.ExecutionHistory
	err := r.db.Database().Table(model.ExecutionHistory{}.TableName()).
		Where("plugin_id = ?", pluginID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *HistoryRepo) GetStats(pluginID string, days int) (*model.ExecutionStats, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	var agg struct {
		Total     int64
		Successes int64
		AvgTime   float64
	}
	err := r.db.Database().Table(model.ExecutionHistory{}.TableName()).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS successes, COALESCE(AVG(execution_time_ms), 0) AS avg_time").
		Where("plugin_id = ? AND executed_at >= ?", pluginID, since).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	stats := &model.ExecutionStats{
		TotalExecutions:    agg.Total,
		AvgExecutionTimeMs: agg.AvgTime,
	}
	if agg.Total > 0 {
		stats.SuccessRate = float64(agg.Successes) / float64(agg.Total)
		stats.ErrorRate = 1 - stats.SuccessRate
	}
	return stats, nil
}
