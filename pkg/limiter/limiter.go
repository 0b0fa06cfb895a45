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

// Package limiter provides the admission primitives shared by plugin
// executions: a bounded concurrency gate and a sliding-window rate limiter.
// Both are injected so deployments can swap process-local state for a
// coordinated store without touching executor logic.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of in-flight executions across the process.
type Gate interface {
	// Acquire blocks until a slot is free or ctx is done.
	Acquire(ctx context.Context) error

	// TryAcquire grabs a slot without blocking.
	TryAcquire() bool

	// Release frees a previously acquired slot.
	Release()

	// InFlight returns the number of currently held slots.
	InFlight() int64
}

// RateWindow is a sliding-window counter keyed by an arbitrary string.
// Allow atomically checks the trailing-window count against the ceiling and
// records the event when admitted. Bursts inside the window are not smoothed.
type RateWindow interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type semaphoreGate struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewGate returns a Gate backed by a weighted semaphore.
func NewGate(limit int64) Gate {
	if limit <= 0 {
		limit = 1
	}
	return &semaphoreGate{sem: semaphore.NewWeighted(limit)}
}

func (g *semaphoreGate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

func (g *semaphoreGate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.inFlight.Add(1)
	return true
}

func (g *semaphoreGate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

func (g *semaphoreGate) InFlight() int64 {
	return g.inFlight.Load()
}
