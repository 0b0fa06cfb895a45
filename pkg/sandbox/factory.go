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

package sandbox

import (
	"fmt"

	"github.com/go-crucible/crucible/pkg/limiter"
)

// RuntimeType identifies a sandbox runtime implementation.
type RuntimeType string

const (
	// RuntimeTypeLua is the in-process Lua VM runtime.
	RuntimeTypeLua RuntimeType = "lua"
)

// New creates a sandbox runtime of the given type.
func New(runtimeType RuntimeType, window limiter.RateWindow, recorder MetricsRecorder) (Runtime, error) {
	switch runtimeType {
	case RuntimeTypeLua, "":
		return NewLuaRuntime(window, recorder), nil
	default:
		return nil, fmt.Errorf("unsupported sandbox runtime type: %s", runtimeType)
	}
}
