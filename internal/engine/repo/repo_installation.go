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
	"gorm.io/gorm"
)

type IInstallationRepository interface {
	Create(inst *model.PluginInstallation) error
	Get(tenantID, pluginID string) (*model.PluginInstallation, error)
	Delete(tenantID, pluginID string) error
	ListByTenant(tenantID string) ([]model.PluginInstallation, error)
}

type InstallationRepo struct {
	db database.IDatabase
}

func NewInstallationRepo(db database.IDatabase) IInstallationRepository {
	return &InstallationRepo{db: db}
}

func (r *InstallationRepo) Create(inst *model.PluginInstallation) error {
	return r.db.Database().Table(model.PluginInstallation{}.TableName()).Create(inst).Error
}

func (r *InstallationRepo) Get(tenantID, pluginID string) (*model.PluginInstallation, error) {
	var inst model.PluginInstallation
	err := r.db.Database().Table(model.PluginInstallation{}.TableName()).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("installation", tenantID+":"+pluginID)
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *InstallationRepo) Delete(tenantID, pluginID string) error {
	return r.db.Database().Table(model.PluginInstallation{}.TableName()).
		Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
		Delete(&model.PluginInstallation{}).Error
}

func (r *InstallationRepo) ListByTenant(tenantID string) ([]model.PluginInstallation, error) {
	var insts []model.PluginInstallation
	err := r.db.Database().Table(model.PluginInstallation{}.TableName()).
		Where("tenant_id = ?", tenantID).
		Order("installed_at DESC").
		Find(&insts).Error
	return insts, err
}
