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

// Package errs defines the engine error taxonomy. Callers branch on the
// category with errors.As; messages are human-readable reasons.
package errs

import "fmt"

// ValidationError reports bad input rejected before any side effect:
// malformed manifests, oversized code, forbidden constructs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Reason
}

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown plugin, version, or installation.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// NotFound builds a NotFoundError.
func NotFound(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

// PolicyError reports a request the current state forbids: plugin not
// approved, not installed, version not newer, rate limited, already
// installed.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "policy error: " + e.Reason
}

// Policyf builds a PolicyError.
func Policyf(format string, args ...any) *PolicyError {
	return &PolicyError{Reason: fmt.Sprintf(format, args...)}
}

// InfraError reports a storage or registry I/O failure. The executor
// converts these into failed results and still audits them.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("infrastructure error in %s: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// Infra wraps err as an InfraError.
func Infra(op string, err error) *InfraError {
	return &InfraError{Op: op, Err: err}
}
