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

package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process CodeStore for local mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]string
}

// NewMemoryStore creates an empty in-memory code store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]string)}
}

func key(pluginID, version string) string {
	return pluginID + "@" + version
}

func (s *MemoryStore) StoreCode(_ context.Context, pluginID, version, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key(pluginID, version)] = code
	return nil
}

func (s *MemoryStore) LoadCode(_ context.Context, pluginID, version string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.blobs[key(pluginID, version)]
	if !ok {
		return "", fmt.Errorf("code not found for plugin %s version %s", pluginID, version)
	}
	return code, nil
}

func (s *MemoryStore) DeleteCode(_ context.Context, pluginID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key(pluginID, version))
	return nil
}
