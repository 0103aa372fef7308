// Package id mints identifiers for posting attempts, audit rows and operator tokens.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New returns a UUIDv7, so audit rows sort by creation time. It falls back to v4
// only if the random source fails.
func New() ID {
	if v, err := uuid.NewV7(); err == nil {
		return v
	}
	return uuid.New()
}

// NewString returns New().String().
func NewString() string {
	return New().String()
}
