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

package model

import "time"

// ExecutionHistory is the append-only audit row written once per execution
// attempt, success or failure. Never mutated or deleted by this engine;
// retention is an external concern.
type ExecutionHistory struct {
	BaseModel
	ExecutionID     string    `gorm:"column:execution_id;uniqueIndex" json:"executionId"`
	PluginID        string    `gorm:"column:plugin_id;index" json:"pluginId"`
	TenantID        string    `gorm:"column:tenant_id;index" json:"tenantId"`
	UserID          string    `gorm:"column:user_id" json:"userId,omitempty"`
	Success         bool      `gorm:"column:success" json:"success"`
	Output          string    `gorm:"column:output;type:text" json:"output,omitempty"`
	Error           string    `gorm:"column:error;type:text" json:"error,omitempty"`
	ExecutionTimeMs int64     `gorm:"column:execution_time_ms" json:"executionTimeMs"`
	MemoryUsedBytes int64     `gorm:"column:memory_used_bytes" json:"memoryUsedBytes"`
	ExecutedAt      time.Time `gorm:"column:executed_at;index" json:"executedAt"`
}

func (ExecutionHistory) TableName() string {
	return "t_execution_history"
}

// ExecutionMetric is the runtime's lightweight accounting row keyed by
// (pluginID, tenantID), distinct from the executor's history write.
type ExecutionMetric struct {
	BaseModel
	PluginID        string    `gorm:"column:plugin_id;index:idx_metric_pair" json:"pluginId"`
	TenantID        string    `gorm:"column:tenant_id;index:idx_metric_pair" json:"tenantId"`
	Success         bool      `gorm:"column:success" json:"success"`
	ExecutionTimeMs int64     `gorm:"column:execution_time_ms" json:"executionTimeMs"`
	MemoryUsedBytes int64     `gorm:"column:memory_used_bytes" json:"memoryUsedBytes"`
	Error           string    `gorm:"column:error;type:text" json:"error,omitempty"`
	ExecutedAt      time.Time `gorm:"column:executed_at;index" json:"executedAt"`
}

func (ExecutionMetric) TableName() string {
	return "t_execution_metric"
}

// ExecutionStats is the aggregate view over a plugin's recent history.
type ExecutionStats struct {
	TotalExecutions    int64   `json:"totalExecutions"`
	SuccessRate        float64 `json:"successRate"`
	ErrorRate          float64 `json:"errorRate"`
	AvgExecutionTimeMs float64 `json:"avgExecutionTimeMs"`
}
