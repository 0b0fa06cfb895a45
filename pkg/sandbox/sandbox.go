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
	"context"
	"time"
)

// Runtime executes one unit of plugin code inside an isolated environment.
// Execute never panics and never returns a Go error: every failure mode
// (validation, runtime error, timeout, forbidden capability) is folded into
// the returned Result.
type Runtime interface {
	// Execute runs code against the supplied execution context.
	Execute(ctx context.Context, code string, sc *Context, opts *Options) *Result

	// CheckRateLimit reports whether another execution for the
	// (pluginID, tenantID) pair is admissible inside the trailing window.
	CheckRateLimit(ctx context.Context, pluginID, tenantID string) bool
}

// Context is the tenant-scoped execution context. It is immutable for the
// duration of a run.
type Context struct {
	TenantID string
	UserID   string
	PluginID string
	Data     map[string]any
	Env      map[string]string
}

// Options overrides the runtime resource envelope for a single run.
type Options struct {
	// Timeout is the wall-clock ceiling; the run is killed past it.
	Timeout time.Duration

	// MemoryLimit is the advisory memory ceiling in bytes.
	MemoryLimit int64

	// AllowedModules lists module names the gated loader may resolve.
	AllowedModules []string

	// AllowedNetworkHosts is reserved. The Lua runtime exposes no network
	// binding, so the list currently gates nothing.
	AllowedNetworkHosts []string
}

const (
	// DefaultTimeout is applied when Options.Timeout is zero.
	DefaultTimeout = 5 * time.Second

	// DefaultMemoryLimit is applied when Options.MemoryLimit is zero.
	DefaultMemoryLimit = 64 << 20 // 64 MiB

	// MaxCodeSize is the hard ceiling on plugin source size.
	MaxCodeSize = 100 << 10 // 100 KB

	// MaxTimerDelay is the longest delay the timer binding accepts.
	MaxTimerDelay = 5 * time.Second

	// MaxLogEntries bounds the in-memory log buffer per run.
	MaxLogEntries = 1000
)

// DefaultOptions returns the runtime defaults.
func DefaultOptions() *Options {
	return &Options{
		Timeout:     DefaultTimeout,
		MemoryLimit: DefaultMemoryLimit,
	}
}

func (o *Options) normalize() *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.MemoryLimit <= 0 {
		out.MemoryLimit = DefaultMemoryLimit
	}
	return &out
}

// Result is the structured outcome of a single run.
type Result struct {
	Success         bool
	Output          any
	Logs            []string
	Error           string
	ExecutionTimeMs int64
	MemoryUsedBytes int64
}

// Metric is the per-run accounting row written by the runtime, keyed by
// (pluginID, tenantID). Distinct from the executor's history write.
type Metric struct {
	PluginID        string
	TenantID        string
	Success         bool
	ExecutionTimeMs int64
	MemoryUsedBytes int64
	Error           string
	ExecutedAt      time.Time
}

// MetricsRecorder is the persistence port the runtime writes metrics through.
type MetricsRecorder interface {
	Record(ctx context.Context, m *Metric) error
}
