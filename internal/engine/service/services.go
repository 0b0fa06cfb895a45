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
	"github.com/go-crucible/crucible/internal/engine/repo"
	"github.com/go-crucible/crucible/pkg/limiter"
	"github.com/go-crucible/crucible/pkg/metrics"
	"github.com/go-crucible/crucible/pkg/sandbox"
	"github.com/go-crucible/crucible/pkg/storage"
)

// Services bundles the engine services behind a single injection point.
type Services struct {
	Registry *RegistryService
	Executor *ExecutorService
}

func NewServices(
	repos *repo.Repositories,
	runtime sandbox.Runtime,
	codeStore storage.CodeStore,
	gate limiter.Gate,
	collector *metrics.ExecutionCollector,
	defaults *sandbox.Options,
) *Services {
	return &Services{
		Registry: NewRegistryService(repos.Plugin, repos.Installation, codeStore),
		Executor: NewExecutorService(runtime, repos.Plugin, repos.Installation, repos.History, codeStore, gate, collector, defaults),
	}
}
