package posting

import (
	"sync"
	"time"
)

// DefaultBreakerThreshold is the number of consecutive allocator exhaustions that trip the breaker.
// One exhaustion already means the per-invoice retry bound was spent.
const DefaultBreakerThreshold = 1

// BreakerStatus is a snapshot of the breaker.
type BreakerStatus struct {
	Tripped             bool      `json:"tripped"`
	Reason              string    `json:"reason,omitempty"`
	TrippedAt           time.Time `json:"tripped_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastResetBy         string    `json:"last_reset_by,omitempty"`
	LastResetAt         time.Time `json:"last_reset_at,omitempty"`
}

// Breaker is the process-wide posting latch: Normal -> Tripped -> (operator reset) -> Normal.
// It never recovers on its own.
type Breaker struct {
	mu        sync.RWMutex
	threshold int
	status    BreakerStatus
	now       func() time.Time
	onChange  func(tripped bool)
}

// NewBreaker creates a breaker in the Normal state. threshold <= 0 selects the default.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &Breaker{threshold: threshold, now: time.Now}
}

// OnChange registers a callback invoked after every transition.
func (b *Breaker) OnChange(fn func(tripped bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// RecordOutcome records an allocation outcome. Success clears the failure streak.
func (b *Breaker) RecordOutcome(success bool) {
	if success {
		b.mu.Lock()
		b.status.ConsecutiveFailures = 0
		b.mu.Unlock()
		return
	}
	b.RecordFailure("allocator retries exhausted")
}

// RecordFailure records an exhaustion and reports whether the breaker is now tripped.
func (b *Breaker) RecordFailure(reason string) bool {
	b.mu.Lock()
	b.status.ConsecutiveFailures++
	trip := !b.status.Tripped && b.status.ConsecutiveFailures >= b.threshold
	if trip {
		b.tripLocked(reason)
	}
	tripped := b.status.Tripped
	cb := b.onChange
	b.mu.Unlock()

	if trip && cb != nil {
		cb(true)
	}
	return tripped
}

// Trip latches the breaker immediately.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	already := b.status.Tripped
	if !already {
		b.tripLocked(reason)
	}
	cb := b.onChange
	b.mu.Unlock()

	if !already && cb != nil {
		cb(true)
	}
}

func (b *Breaker) tripLocked(reason string) {
	b.status.Tripped = true
	b.status.Reason = reason
	b.status.TrippedAt = b.now()
}

// Reset returns the breaker to Normal. It reports whether it was tripped.
func (b *Breaker) Reset(operator string) bool {
	b.mu.Lock()
	was := b.status.Tripped
	b.status = BreakerStatus{
		LastResetBy: operator,
		LastResetAt: b.now(),
	}
	cb := b.onChange
	b.mu.Unlock()

	if was && cb != nil {
		cb(false)
	}
	return was
}

// IsTripped reports whether posting is halted.
func (b *Breaker) IsTripped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status.Tripped
}

// Status returns a snapshot.
func (b *Breaker) Status() BreakerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}
