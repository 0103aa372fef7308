package numerator

import (
	"context"
	"fmt"

	"ledgerbridge/internal/core/apperror"
)

// DefaultMaxAttempts bounds header write attempts for a single invoice.
const DefaultMaxAttempts = 3

// Allocation results reported to Observer.
const (
	ResultAccepted  = "accepted"
	ResultConflict  = "conflict"
	ResultExhausted = "exhausted"
)

// WriteFunc attempts to persist a header under a. It must return an error with
// code apperror.CodeNumberingConflict when the number was rejected or silently dropped.
type WriteFunc func(ctx context.Context, a Allocation) error

// Allocator derives candidate numbers and drives the conflict loop.
type Allocator struct {
	store       Store
	maxAttempts int
	observer    Observer
}

// NewAllocator creates an Allocator. maxAttempts <= 0 selects DefaultMaxAttempts.
func NewAllocator(store Store, maxAttempts int, observer Observer) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{store: store, maxAttempts: maxAttempts, observer: observer}
}

// MaxAttempts returns the configured write attempt bound.
func (a *Allocator) MaxAttempts() int {
	return a.maxAttempts
}

// Allocate returns storedCounter + 1.
func (a *Allocator) Allocate(ctx context.Context, docType, prefix string) (Allocation, error) {
	counter, err := a.store.StoredCounter(ctx, docType, prefix)
	if err != nil {
		return Allocation{}, fmt.Errorf("read counter %s/%s: %w", docType, prefix, err)
	}
	return Allocation{DocumentType: docType, Prefix: prefix, Number: counter + 1}, nil
}

// ReconcileAfterConflict returns max(existing numbers) + 1, ignoring the stored counter.
func (a *Allocator) ReconcileAfterConflict(ctx context.Context, docType, prefix string) (Allocation, error) {
	maxNumber, err := a.store.MaxNumber(ctx, docType, prefix)
	if err != nil {
		return Allocation{}, fmt.Errorf("read max number %s/%s: %w", docType, prefix, err)
	}
	return Allocation{DocumentType: docType, Prefix: prefix, Number: maxNumber + 1}, nil
}

// Run allocates a number and calls write until it is accepted.
//
// After a conflict the candidate is re-derived from the ledger maximum when the
// number is already taken. When it is not taken the same candidate is retried once
// before re-deriving. Exhausting maxAttempts yields CRITICAL_NUMBERING_FAILURE.
// Errors from write other than NUMBERING_CONFLICT are returned unchanged.
func (a *Allocator) Run(ctx context.Context, docType, prefix string, write WriteFunc) (Allocation, error) {
	alloc, err := a.Allocate(ctx, docType, prefix)
	if err != nil {
		return Allocation{}, err
	}

	retriedSame := false
	for attempt := 1; ; attempt++ {
		werr := write(ctx, alloc)
		if werr == nil {
			a.observe(ResultAccepted)
			return alloc, nil
		}
		if !apperror.Is(werr, apperror.CodeNumberingConflict) {
			return alloc, werr
		}
		a.observe(ResultConflict)

		if attempt >= a.maxAttempts {
			a.observe(ResultExhausted)
			return alloc, apperror.NewCriticalNumberingFailure(docType, prefix, attempt).
				WithDetail("last_candidate", alloc.Number).
				WithCause(werr)
		}

		taken, err := a.store.NumberExists(ctx, docType, prefix, alloc.Number)
		if err != nil {
			return alloc, fmt.Errorf("check number %d: %w", alloc.Number, err)
		}
		if !taken && !retriedSame {
			retriedSame = true
			continue
		}

		retriedSame = false
		if alloc, err = a.ReconcileAfterConflict(ctx, docType, prefix); err != nil {
			return alloc, err
		}
	}
}

// AdvanceToMax sets the stored counter to the ledger maximum and returns it.
func (a *Allocator) AdvanceToMax(ctx context.Context, docType, prefix string) (int64, error) {
	maxNumber, err := a.store.MaxNumber(ctx, docType, prefix)
	if err != nil {
		return 0, fmt.Errorf("read max number %s/%s: %w", docType, prefix, err)
	}
	if err := a.store.AdvanceCounter(ctx, docType, prefix, maxNumber); err != nil {
		return 0, fmt.Errorf("advance counter %s/%s: %w", docType, prefix, err)
	}
	return maxNumber, nil
}

func (a *Allocator) observe(result string) {
	if a.observer != nil {
		a.observer.ObserveAllocation(result)
	}
}
