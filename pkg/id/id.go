// Package id generates identifiers for plugins, executions, and audit rows.
package id

import (
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/xid"
)

// GetUUID generates a new UUID.
func GetUUID() string {
	return uuid.NewString()
}

// GetUUIDWithoutDashes generates a new UUID without dashes.
func GetUUIDWithoutDashes() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetXid generates a short sortable id.
func GetXid() string {
	return xid.New().String()
}

// GetULID generates a lexicographically sortable ULID.
// Execution keys use ULIDs so in-flight entries sort by admission time.
func GetULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, entropy)
	if err != nil {
		return ""
	}
	return id.String()
}
