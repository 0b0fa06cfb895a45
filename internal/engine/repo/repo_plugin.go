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
	"errors"

	"github.com/go-crucible/crucible/internal/engine/errs"
	"github.com/go-crucible/crucible/internal/engine/model"
	"github.com/go-crucible/crucible/pkg/database"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SearchFilter narrows a plugin search. Zero values mean "no filter".
type SearchFilter struct {
	Category string
	Author   string
	Query    string // free-text match against name/description
	Limit    int
}

type IPluginRepository interface {
	CreatePlugin(p *model.Plugin) error
	GetPluginByID(pluginID string) (*model.Plugin, error)
	GetPluginByName(name string) (*model.Plugin, error)
	UpdatePlugin(pluginID string, updates map[string]interface{}) error
	UpdatePluginStatus(pluginID string, status model.PluginStatus) error
	IncrementDownloadCount(pluginID string) error
	SearchApproved(filter SearchFilter) ([]model.Plugin, error)

	CreateVersion(v *model.PluginVersion) error
	GetVersion(pluginID, version string) (*model.PluginVersion, error)
	GetVersions(pluginID string) ([]model.PluginVersion, error)

	CreateReview(r *model.PluginReview) error
	ListReviews(pluginID string) ([]model.PluginReview, error)
}

type PluginRepo struct {
	db          database.IDatabase
	PluginModel model.Plugin
}

func NewPluginRepo(db database.IDatabase) IPluginRepository {
	return &PluginRepo{
		db:          db,
		PluginModel: model.Plugin{},
	}
}

func (r *PluginRepo) CreatePlugin(p *model.Plugin) error {
	return r.db.Database().Table(r.PluginModel.TableName()).Create(p).Error
}

func (r *PluginRepo) GetPluginByID(pluginID string) (*model.Plugin, error) {
	var p model.Plugin
	err := r.db.Database().Table(r.PluginModel.TableName()).
		Where("plugin_id = ?", pluginID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("plugin", pluginID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PluginRepo) GetPluginByName(name string) (*model.Plugin, error) {
	var p model.Plugin
	err := r.db.Database().Table(r.PluginModel.TableName()).
		Where("name = ?", name).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("plugin", name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PluginRepo) UpdatePlugin(pluginID string, updates map[string]interface{}) error {
	return r.db.Database().Table(r.PluginModel.TableName()).
		Where("plugin_id = ?", pluginID).
		Updates(updates).Error
}

func (r *PluginRepo) UpdatePluginStatus(pluginID string, status model.PluginStatus) error {
	return r.UpdatePlugin(pluginID, map[string]interface{}{"status": status})
}

func (r *PluginRepo) IncrementDownloadCount(pluginID string) error {
	return r.db.Database().Table(r.PluginModel.TableName()).
		Where("plugin_id = ?", pluginID).
		UpdateColumn("download_count", gorm.Expr("download_count + 1")).Error
}

// SearchApproved returns approved plugins only, ordered by download count
// then rating, capped by filter.Limit.
func (r *PluginRepo) SearchApproved(filter SearchFilter) ([]model.Plugin, error) {
	q := r.db.Database().Table(r.PluginModel.TableName()).
		Where("status = ?", model.PluginStatusApproved)

	if filter.Category != "" {
		q = q.Where(datatypes.JSONQuery("manifest").Equals(filter.Category, "category"))
	}
	if filter.Author != "" {
		q = q.Where("author = ?", filter.Author)
	}
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		q = q.Where("name LIKE ? OR description LIKE ?", like, like)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	var plugins []model.Plugin
	err := q.Order("download_count DESC, rating DESC").
		Limit(limit).
		Find(&plugins).Error
	return plugins, err
}

func (r *PluginRepo) CreateVersion(v *model.PluginVersion) error {
	return r.db.Database().Table(model.PluginVersion{}.TableName()).Create(v).Error
}

func (r *PluginRepo) GetVersion(pluginID, version string) (*model.PluginVersion, error) {
	var v model.PluginVersion
	err := r.db.Database().Table(model.PluginVersion{}.TableName()).
		Where("plugin_id = ? AND version = ?", pluginID, version).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("plugin version", pluginID+"@"+version)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *PluginRepo) GetVersions(pluginID string) ([]model.PluginVersion, error) {
	var versions []model.PluginVersion
	err := r.db.Database().Table(model.PluginVersion{}.TableName()).
		Where("plugin_id = ?", pluginID).
		Order("published_at DESC").
		Find(&versions).Error
	return versions, err
}

func (r *PluginRepo) CreateReview(review *model.PluginReview) error {
	return r.db.Database().Table(model.PluginReview{}.TableName()).Create(review).Error
}

func (r *PluginRepo) ListReviews(pluginID string) ([]model.PluginReview, error) {
	var reviews []model.PluginReview
	err := r.db.Database().Table(model.PluginReview{}.TableName()).
		Where("plugin_id = ?", pluginID).
		Order("reviewed_at DESC").
		Find(&reviews).Error
	return reviews, err
}
