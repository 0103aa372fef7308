// Package security holds operator-controlled runtime switches.
package security

import (
	"context"
	"sort"
	"sync"
)

// FeatureFlagProvider provides feature flag evaluation.
type FeatureFlagProvider interface {
	// IsEnabled checks if feature is enabled for context
	IsEnabled(ctx context.Context, flag string) bool
}

// Flag names
const (
	// FlagReverseEnabled turns on payment-code reversal when its business conditions hold.
	FlagReverseEnabled = "reverse_enabled"
	// FlagReverseForce reverses every payment code regardless of conditions.
	FlagReverseForce = "reverse_force"
)

// KnownFlags lists flags operators may change at runtime.
var KnownFlags = []string{FlagReverseEnabled, FlagReverseForce}

// InMemoryFlags is a simple in-memory feature flag provider seeded from configuration.
type InMemoryFlags struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewInMemoryFlags creates an in-memory flag provider.
func NewInMemoryFlags(initial map[string]bool) *InMemoryFlags {
	f := &InMemoryFlags{flags: make(map[string]bool, len(initial))}
	for k, v := range initial {
		f.flags[k] = v
	}
	return f
}

func (f *InMemoryFlags) IsEnabled(ctx context.Context, flag string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags[flag]
}

// SetFlag sets a boolean flag. It reports false for unknown flag names.
func (f *InMemoryFlags) SetFlag(flag string, enabled bool) bool {
	if !IsKnownFlag(flag) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[flag] = enabled
	return true
}

// Snapshot returns every known flag with its current value.
func (f *InMemoryFlags) Snapshot() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]bool, len(KnownFlags))
	for _, name := range KnownFlags {
		out[name] = f.flags[name]
	}
	return out
}

// IsKnownFlag reports whether name is in KnownFlags.
func IsKnownFlag(name string) bool {
	i := sort.SearchStrings(sortedFlags, name)
	return i < len(sortedFlags) && sortedFlags[i] == name
}

var sortedFlags = func() []string {
	s := append([]string(nil), KnownFlags...)
	sort.Strings(s)
	return s
}()
