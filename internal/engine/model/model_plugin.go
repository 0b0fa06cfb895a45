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

import (
	"time"

	"gorm.io/datatypes"
)

// PluginStatus is the review lifecycle state of a plugin.
type PluginStatus string

const (
	PluginStatusPending   PluginStatus = "pending"
	PluginStatusApproved  PluginStatus = "approved"
	PluginStatusRejected  PluginStatus = "rejected"
	PluginStatusSuspended PluginStatus = "suspended"
)

// Plugin is the registry's identity row. Plugins are never physically
// deleted, only suspended or rejected.
type Plugin struct {
	BaseModel
	PluginID      string         `gorm:"column:plugin_id;uniqueIndex" json:"pluginId"`
	Name          string         `gorm:"column:name;uniqueIndex" json:"name"`
	Version       string         `gorm:"column:version" json:"version"`
	Description   string         `gorm:"column:description;type:text" json:"description"`
	Author        string         `gorm:"column:author" json:"author"`
	DeveloperID   string         `gorm:"column:developer_id" json:"developerId"`
	Status        PluginStatus   `gorm:"column:status" json:"status"`
	Manifest      datatypes.JSON `gorm:"column:manifest;type:json" json:"manifest"`
	Checksum      string         `gorm:"column:checksum" json:"checksum"` // SHA256 of current code blob
	DownloadCount int64          `gorm:"column:download_count" json:"downloadCount"`
	Rating        float64        `gorm:"column:rating" json:"rating"`
}

func (Plugin) TableName() string {
	return "t_plugin"
}

// PluginVersion is an immutable snapshot retained for audit and pinning.
// Versions are append-only; publishing updates the parent Plugin's pointer.
type PluginVersion struct {
	BaseModel
	PluginID    string         `gorm:"column:plugin_id;index:idx_plugin_version,unique" json:"pluginId"`
	Version     string         `gorm:"column:version;index:idx_plugin_version,unique" json:"version"`
	Manifest    datatypes.JSON `gorm:"column:manifest;type:json" json:"manifest"`
	PublishedAt time.Time      `gorm:"column:published_at" json:"publishedAt"`
}

func (PluginVersion) TableName() string {
	return "t_plugin_version"
}

// PluginInstallation binds an approved plugin version to a tenant, unique
// per (tenantID, pluginID). Config is tenant-supplied key/value data merged
// into the execution environment.
type PluginInstallation struct {
	BaseModel
	TenantID    string         `gorm:"column:tenant_id;index:idx_tenant_plugin,unique" json:"tenantId"`
	PluginID    string         `gorm:"column:plugin_id;index:idx_tenant_plugin,unique" json:"pluginId"`
	Version     string         `gorm:"column:version" json:"version"`
	Config      datatypes.JSON `gorm:"column:config;type:json" json:"config"`
	InstalledAt time.Time      `gorm:"column:installed_at" json:"installedAt"`
}

func (PluginInstallation) TableName() string {
	return "t_plugin_installation"
}

// PluginReview is the append-only audit trail of status transitions.
// The registry records who performed the transition; it does not authorize.
type PluginReview struct {
	BaseModel
	PluginID   string       `gorm:"column:plugin_id;index" json:"pluginId"`
	ReviewerID string       `gorm:"column:reviewer_id" json:"reviewerId"`
	FromStatus PluginStatus `gorm:"column:from_status" json:"fromStatus"`
	ToStatus   PluginStatus `gorm:"column:to_status" json:"toStatus"`
	Reason     string       `gorm:"column:reason;type:text" json:"reason"`
	ReviewedAt time.Time    `gorm:"column:reviewed_at" json:"reviewedAt"`
}

func (PluginReview) TableName() string {
	return "t_plugin_review"
}

// PluginManifest is the declarative metadata accompanying a plugin version.
type PluginManifest struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Author      string            `json:"author"`
	Category    string            `json:"category,omitempty"`
	Homepage    string            `json:"homepage,omitempty"`
	Repository  string            `json:"repository,omitempty"`
	Permissions []string          `json:"permissions"`
	Modules     []string          `json:"modules,omitempty"` // names the gated loader may resolve
	Tags        []string          `json:"tags,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}
