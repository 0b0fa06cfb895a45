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

// Package statemachine provides a small generic finite state machine used
// to describe entity lifecycles as data rather than scattered conditionals.
package statemachine

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// TransitionHook runs on every accepted transition. Returning an error
// aborts the transition before the state changes.
type TransitionHook[T comparable] func(from, to T) error

// TransitionRecord is one entry in the machine's bounded history.
type TransitionRecord[T comparable] struct {
	From      T
	To        T
	Timestamp time.Time
	Error     error
}

// StateMachine holds a transition table over states of type T. It is safe
// for concurrent use. A machine built once at package init and queried
// with CanTransit acts as a shared, immutable transition table.
type StateMachine[T comparable] struct {
	mu sync.RWMutex

	current T
	initial T

	transitions map[T][]T

	history        []TransitionRecord[T]
	maxHistorySize int

	onTransition []TransitionHook[T]
}

// New creates an empty StateMachine.
func New[T comparable]() *StateMachine[T] {
	return &StateMachine[T]{
		transitions:    make(map[T][]T),
		maxHistorySize: 100,
	}
}

// NewWithState creates a StateMachine positioned at an initial state.
func NewWithState[T comparable](initial T) *StateMachine[T] {
	sm := New[T]()
	sm.current = initial
	sm.initial = initial
	return sm
}

// Allow registers valid transitions from a source state.
func (sm *StateMachine[T]) Allow(from T, to ...T) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, target := range to {
		if !slices.Contains(sm.transitions[from], target) {
			sm.transitions[from] = append(sm.transitions[from], target)
		}
	}
	return sm
}

// CanTransit reports whether from -> to is in the transition table.
func (sm *StateMachine[T]) CanTransit(from, to T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Contains(sm.transitions[from], to)
}

// Current returns the machine's current state.
func (sm *StateMachine[T]) Current() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// SetCurrent positions the machine without hooks or validation. Used when
// rehydrating state from storage.
func (sm *StateMachine[T]) SetCurrent(state T) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.current = state
	var zero T
	if sm.initial == zero {
		sm.initial = state
	}
}

// NextStates returns a copy of the valid targets from the given state.
func (sm *StateMachine[T]) NextStates(from T) []T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]T, len(sm.transitions[from]))
	copy(out, sm.transitions[from])
	return out
}

// OnTransition registers a hook run on every accepted transition.
func (sm *StateMachine[T]) OnTransition(h TransitionHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onTransition = append(sm.onTransition, h)
	return sm
}

// SetMaxHistorySize bounds the retained transition history.
func (sm *StateMachine[T]) SetMaxHistorySize(size int) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.maxHistorySize = size
	if len(sm.history) > size {
		sm.history = sm.history[len(sm.history)-size:]
	}
	return sm
}

// History returns a copy of the recorded transitions, oldest first.
func (sm *StateMachine[T]) History() []TransitionRecord[T] {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]TransitionRecord[T], len(sm.history))
	copy(out, sm.history)
	return out
}

// Transit moves the machine from one state to another, running hooks and
// recording the attempt in history whether or not it succeeds.
func (sm *StateMachine[T]) Transit(from, to T) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var transitionErr error
	defer func() {
		sm.history = append(sm.history, TransitionRecord[T]{
			From:      from,
			To:        to,
			Timestamp: time.Now(),
			Error:     transitionErr,
		})
		if len(sm.history) > sm.maxHistorySize {
			sm.history = sm.history[len(sm.history)-sm.maxHistorySize:]
		}
	}()

	if !slices.Contains(sm.transitions[from], to) {
		transitionErr = fmt.Errorf("invalid transition: %v -> %v", from, to)
		return transitionErr
	}
	for _, h := range sm.onTransition {
		if err := h(from, to); err != nil {
			transitionErr = fmt.Errorf("transition hook: %w", err)
			return transitionErr
		}
	}
	sm.current = to
	return nil
}

// TransitTo moves from the current state to the target state.
func (sm *StateMachine[T]) TransitTo(to T) error {
	sm.mu.RLock()
	current := sm.current
	sm.mu.RUnlock()
	return sm.Transit(current, to)
}

// Is reports whether the machine currently sits in the given state.
func (sm *StateMachine[T]) Is(state T) bool {
	return sm.Current() == state
}
