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

import "github.com/go-crucible/crucible/pkg/database"

// Repositories bundles every repository behind a single injection point.
type Repositories struct {
	Plugin       IPluginRepository
	Installation IInstallationRepository
	History      IHistoryRepository
	Metric       *MetricRepo
}

func NewRepositories(db database.IDatabase) *Repositories {
	return &Repositories{
		Plugin:       NewPluginRepo(db),
		Installation: NewInstallationRepo(db),
		History:      NewHistoryRepo(db),
		Metric:       NewMetricRepo(db),
	}
}
