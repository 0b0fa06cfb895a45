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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-multierror"

	"github.com/go-crucible/crucible/internal/engine/errs"
	"github.com/go-crucible/crucible/internal/engine/model"
	"github.com/go-crucible/crucible/internal/engine/repo"
	"github.com/go-crucible/crucible/pkg/id"
	"github.com/go-crucible/crucible/pkg/log"
	"github.com/go-crucible/crucible/pkg/sandbox"
	"github.com/go-crucible/crucible/pkg/statemachine"
	"github.com/go-crucible/crucible/pkg/storage"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// pluginLifecycle defines the allowed review moves. Rejected is terminal.
var pluginLifecycle = statemachine.New[model.PluginStatus]().
	Allow(model.PluginStatusPending, model.PluginStatusApproved, model.PluginStatusRejected).
	Allow(model.PluginStatusApproved, model.PluginStatusSuspended).
	Allow(model.PluginStatusSuspended, model.PluginStatusApproved)

// RegistryService owns the plugin catalog: registration, versioning, review
// transitions, and per-tenant installations.
type RegistryService struct {
	pluginRepo repo.IPluginRepository
	instRepo   repo.IInstallationRepository
	codeStore  storage.CodeStore
}

func NewRegistryService(pluginRepo repo.IPluginRepository, instRepo repo.IInstallationRepository, codeStore storage.CodeStore) *RegistryService {
	return &RegistryService{
		pluginRepo: pluginRepo,
		instRepo:   instRepo,
		codeStore:  codeStore,
	}
}

// validateManifest aggregates every manifest defect into one error so a
// developer fixes the submission in a single round trip.
func validateManifest(m *model.PluginManifest) error {
	var result *multierror.Error
	if m == nil {
		return errs.Validationf("manifest is required")
	}
	if len(m.Name) < 3 {
		result = multierror.Append(result, errors.New("name must be at least 3 characters"))
	}
	if !versionPattern.MatchString(m.Version) {
		result = multierror.Append(result, errors.New("version must be semantic (MAJOR.MINOR.PATCH)"))
	}
	if m.Author == "" {
		result = multierror.Append(result, errors.New("author is required"))
	}
	if len(m.Description) < 10 {
		result = multierror.Append(result, errors.New("description must be at least 10 characters"))
	}
	if len(m.Permissions) == 0 {
		result = multierror.Append(result, errors.New("at least one permission must be declared"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return errs.Validationf("invalid manifest: %v", err)
	}
	return nil
}

func checksum(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// RegisterPlugin validates the manifest and the code, then records the
// plugin in pending status with its first version snapshot. The code blob
// is persisted before the registry rows so a crash never yields a plugin
// without source.
func (s *RegistryService) RegisterPlugin(ctx context.Context, manifest *model.PluginManifest, code, developerID string) (*model.Plugin, error) {
	if err := validateManifest(manifest); err != nil {
		return nil, err
	}
	if err := sandbox.ValidateCode(code); err != nil {
		return nil, errs.Validationf("%v", err)
	}
	if name := sandbox.ScanEscapeAttempt(code); name != "" {
		return nil, errs.Validationf("forbidden construct: %s", name)
	}

	if _, err := s.pluginRepo.GetPluginByName(manifest.Name); err == nil {
		return nil, errs.Policyf("plugin name %q is already registered", manifest.Name)
	} else if !isNotFound(err) {
		return nil, errs.Infra("registry lookup", err)
	}

	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, errs.Validationf("manifest is not serializable: %v", err)
	}

	pluginID := id.GetXid()
	if err := s.codeStore.StoreCode(ctx, pluginID, manifest.Version, code); err != nil {
		return nil, errs.Infra("code store", err)
	}

	p := &model.Plugin{
		PluginID:    pluginID,
		Name:        manifest.Name,
		Version:     manifest.Version,
		Description: manifest.Description,
		Author:      manifest.Author,
		DeveloperID: developerID,
		Status:      model.PluginStatusPending,
		Manifest:    raw,
		Checksum:    checksum(code),
	}
	if err := s.pluginRepo.CreatePlugin(p); err != nil {
		return nil, errs.Infra("registry write", err)
	}
	if err := s.pluginRepo.CreateVersion(&model.PluginVersion{
		PluginID:    pluginID,
		Version:     manifest.Version,
		Manifest:    raw,
		PublishedAt: time.Now(),
	}); err != nil {
		return nil, errs.Infra("version write", err)
	}

	log.Infof("plugin registered: id=%s name=%s version=%s", pluginID, manifest.Name, manifest.Version)
	return p, nil
}

// PublishVersion snapshots a new version. The new version must compare
// strictly greater than the plugin's current version; equal or lower is a
// policy error, not an overwrite.
func (s *RegistryService) PublishVersion(ctx context.Context, pluginID string, manifest *model.PluginManifest, code string) (*model.PluginVersion, error) {
	if err := validateManifest(manifest); err != nil {
		return nil, err
	}
	if err := sandbox.ValidateCode(code); err != nil {
		return nil, errs.Validationf("%v", err)
	}
	if name := sandbox.ScanEscapeAttempt(code); name != "" {
		return nil, errs.Validationf("forbidden construct: %s", name)
	}

	p, err := s.pluginRepo.GetPluginByID(pluginID)
	if err != nil {
		return nil, err
	}
	if p.Status == model.PluginStatusRejected {
		return nil, errs.Policyf("plugin %s is rejected and cannot publish versions", pluginID)
	}

	current, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, errs.Infra("registry state", err)
	}
	next, err := semver.NewVersion(manifest.Version)
	if err != nil {
		return nil, errs.Validationf("invalid version %q: %v", manifest.Version, err)
	}
	if !next.GreaterThan(current) {
		return nil, errs.Policyf("version %s must be greater than current %s", manifest.Version, p.Version)
	}

	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, errs.Validationf("manifest is not serializable: %v", err)
	}
	if err := s.codeStore.StoreCode(ctx, pluginID, manifest.Version, code); err != nil {
		return nil, errs.Infra("code store", err)
	}

	v := &model.PluginVersion{
		PluginID:    pluginID,
		Version:     manifest.Version,
		Manifest:    raw,
		PublishedAt: time.Now(),
	}
	if err := s.pluginRepo.CreateVersion(v); err != nil {
		return nil, errs.Infra("version write", err)
	}
	if err := s.pluginRepo.UpdatePlugin(pluginID, map[string]interface{}{
		"version":     manifest.Version,
		"description": manifest.Description,
		"manifest":    raw,
		"checksum":    checksum(code),
	}); err != nil {
		return nil, errs.Infra("registry write", err)
	}

	log.Infof("plugin version published: id=%s version=%s", pluginID, manifest.Version)
	return v, nil
}

// transition moves a plugin through the review state machine and appends
// the audit row. The registry records who moved it; authorization lives in
// the calling surface.
func (s *RegistryService) transition(pluginID string, to model.PluginStatus, reviewerID, reason string) error {
	p, err := s.pluginRepo.GetPluginByID(pluginID)
	if err != nil {
		return err
	}

	if !pluginLifecycle.CanTransit(p.Status, to) {
		return errs.Policyf("cannot move plugin %s from %s to %s", pluginID, p.Status, to)
	}

	if err := s.pluginRepo.UpdatePluginStatus(pluginID, to); err != nil {
		return errs.Infra("registry write", err)
	}
	if err := s.pluginRepo.CreateReview(&model.PluginReview{
		PluginID:   pluginID,
		ReviewerID: reviewerID,
		FromStatus: p.Status,
		ToStatus:   to,
		Reason:     reason,
		ReviewedAt: time.Now(),
	}); err != nil {
		return errs.Infra("review write", err)
	}

	log.Infof("plugin %s: %s -> %s by %s", pluginID, p.Status, to, reviewerID)
	return nil
}

// ApprovePlugin moves a pending or suspended plugin into approved.
func (s *RegistryService) ApprovePlugin(pluginID, reviewerID, reason string) error {
	return s.transition(pluginID, model.PluginStatusApproved, reviewerID, reason)
}

// RejectPlugin permanently rejects a pending plugin.
func (s *RegistryService) RejectPlugin(pluginID, reviewerID, reason string) error {
	return s.transition(pluginID, model.PluginStatusRejected, reviewerID, reason)
}

// SuspendPlugin takes an approved plugin out of circulation. Existing
// installations keep their rows but stop executing.
func (s *RegistryService) SuspendPlugin(pluginID, reviewerID, reason string) error {
	return s.transition(pluginID, model.PluginStatusSuspended, reviewerID, reason)
}

// InstallPlugin binds an approved plugin to a tenant, pinned to the
// plugin's current version at install time. One installation per
// (tenant, plugin) pair.
func (s *RegistryService) InstallPlugin(tenantID, pluginID string, config map[string]string) (*model.PluginInstallation, error) {
	p, err := s.pluginRepo.GetPluginByID(pluginID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.PluginStatusApproved {
		return nil, errs.Policyf("plugin %s is not approved (status %s)", pluginID, p.Status)
	}

	if _, err := s.instRepo.Get(tenantID, pluginID); err == nil {
		return nil, errs.Policyf("plugin %s is already installed for tenant %s", pluginID, tenantID)
	} else if !isNotFound(err) {
		return nil, errs.Infra("installation lookup", err)
	}

	var raw []byte
	if config != nil {
		raw, err = json.Marshal(config)
		if err != nil {
			return nil, errs.Validationf("config is not serializable: %v", err)
		}
	}

	inst := &model.PluginInstallation{
		TenantID:    tenantID,
		PluginID:    pluginID,
		Version:     p.Version,
		Config:      raw,
		InstalledAt: time.Now(),
	}
	if err := s.instRepo.Create(inst); err != nil {
		return nil, errs.Infra("installation write", err)
	}
	if err := s.pluginRepo.IncrementDownloadCount(pluginID); err != nil {
		// The install itself succeeded; the counter is best effort.
		log.Warnf("increment download count for %s: %v", pluginID, err)
	}

	log.Infof("plugin installed: tenant=%s plugin=%s version=%s", tenantID, pluginID, p.Version)
	return inst, nil
}

// UninstallPlugin removes the tenant binding. The plugin row and its
// execution history are untouched.
func (s *RegistryService) UninstallPlugin(tenantID, pluginID string) error {
	if _, err := s.instRepo.Get(tenantID, pluginID); err != nil {
		return err
	}
	if err := s.instRepo.Delete(tenantID, pluginID); err != nil {
		return errs.Infra("installation delete", err)
	}
	log.Infof("plugin uninstalled: tenant=%s plugin=%s", tenantID, pluginID)
	return nil
}

// SearchPlugins returns approved plugins matching the filter.
func (s *RegistryService) SearchPlugins(filter repo.SearchFilter) ([]model.Plugin, error) {
	plugins, err := s.pluginRepo.SearchApproved(filter)
	if err != nil {
		return nil, errs.Infra("registry search", err)
	}
	return plugins, nil
}

func (s *RegistryService) GetPlugin(pluginID string) (*model.Plugin, error) {
	return s.pluginRepo.GetPluginByID(pluginID)
}

func (s *RegistryService) GetVersions(pluginID string) ([]model.PluginVersion, error) {
	if _, err := s.pluginRepo.GetPluginByID(pluginID); err != nil {
		return nil, err
	}
	versions, err := s.pluginRepo.GetVersions(pluginID)
	if err != nil {
		return nil, errs.Infra("version lookup", err)
	}
	return versions, nil
}

func (s *RegistryService) GetTenantInstallations(tenantID string) ([]model.PluginInstallation, error) {
	insts, err := s.instRepo.ListByTenant(tenantID)
	if err != nil {
		return nil, errs.Infra("installation lookup", err)
	}
	return insts, nil
}

func (s *RegistryService) ListReviews(pluginID string) ([]model.PluginReview, error) {
	reviews, err := s.pluginRepo.ListReviews(pluginID)
	if err != nil {
		return nil, errs.Infra("review lookup", err)
	}
	return reviews, nil
}

func isNotFound(err error) bool {
	var nf *errs.NotFoundError
	return errors.As(err, &nf)
}
