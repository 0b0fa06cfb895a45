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

package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryWindow is the process-local RateWindow implementation.
// Guarantees hold per process only; multi-instance deployments should use
// RedisWindow instead.
type MemoryWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
	now    func() time.Time
}

// NewMemoryWindow creates an in-memory sliding window limiter.
func NewMemoryWindow(limit int, window time.Duration) *MemoryWindow {
	return &MemoryWindow{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (w *MemoryWindow) Allow(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	kept := w.events[key][:0]
	for _, ts := range w.events[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= w.limit {
		w.events[key] = kept
		return false, nil
	}

	w.events[key] = append(kept, now)
	return true, nil
}

// Count returns the number of events for key inside the trailing window.
func (w *MemoryWindow) Count(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.window)
	n := 0
	for _, ts := range w.events[key] {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
