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

// Package shutdown coordinates graceful teardown across goroutines.
package shutdown

import "sync"

// Manager broadcasts a one-shot shutdown signal. Any number of goroutines
// may wait on Done; the channel closes exactly once.
type Manager struct {
	once sync.Once
	done chan struct{}
}

func NewManager() *Manager {
	return &Manager{done: make(chan struct{})}
}

// Shutdown triggers teardown. Returns false if already shutting down.
func (m *Manager) Shutdown() bool {
	triggered := false
	m.once.Do(func() {
		close(m.done)
		triggered = true
	})
	return triggered
}

// Done returns a channel closed when shutdown begins.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// IsShuttingDown reports whether shutdown has been triggered.
func (m *Manager) IsShuttingDown() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
