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

import "time"

// Capability is a typed permission compiled into the isolated context at
// construction time. The sandbox exposes exactly the bindings its capability
// set names and nothing else.
type Capability interface {
	capability()
}

// LogCapability grants a logging sink that appends to the run's in-memory
// log buffer instead of writing to real standard streams.
type LogCapability struct {
	MaxEntries int
}

// TimerCapability grants a bounded one-shot timer primitive. Delays over
// MaxDelay are rejected; recurring timers are not expressible.
type TimerCapability struct {
	MaxDelay time.Duration
}

// ModuleCapability grants the gated loader permission to resolve one module
// name. Names outside the granted set error at load time.
type ModuleCapability struct {
	Name string
}

func (LogCapability) capability()    {}
func (TimerCapability) capability()  {}
func (ModuleCapability) capability() {}

// defaultCapabilities is the envelope every plugin run receives.
func defaultCapabilities(allowedModules []string) []Capability {
	caps := []Capability{
		LogCapability{MaxEntries: MaxLogEntries},
		TimerCapability{MaxDelay: MaxTimerDelay},
	}
	for _, name := range allowedModules {
		caps = append(caps, ModuleCapability{Name: name})
	}
	return caps
}
