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

// Package storage holds the code-blob store: immutable plugin source keyed
// by (pluginID, version).
package storage

import "context"

// CodeStore is the port the executor loads plugin source through and the
// registry publishes through. Blobs are immutable once stored.
type CodeStore interface {
	// StoreCode persists the source for a plugin version.
	StoreCode(ctx context.Context, pluginID, version, code string) error

	// LoadCode returns the source for a plugin version.
	LoadCode(ctx context.Context, pluginID, version string) (string, error)

	// DeleteCode removes the blob. Used only by retention tooling, never by
	// the execution path.
	DeleteCode(ctx context.Context, pluginID, version string) error
}
