// Package numerator allocates ledger-native consecutive document numbers.
// The counter and the numbered rows live in the ledger; Store is the seam to them.
package numerator

import (
	"context"
)

// Allocation is a candidate number for one header write attempt.
// It is never persisted on its own.
type Allocation struct {
	DocumentType string
	Prefix       string
	Number       int64
}

// Store reads and advances numbering state kept in the ledger.
// Implementations live in infrastructure/numerator.
type Store interface {
	// StoredCounter returns the last number recorded in the counter table, 0 if none.
	StoredCounter(ctx context.Context, docType, prefix string) (int64, error)

	// MaxNumber returns the highest number present in the header table, 0 if none.
	MaxNumber(ctx context.Context, docType, prefix string) (int64, error)

	// NumberExists reports whether a header already uses number.
	NumberExists(ctx context.Context, docType, prefix string, number int64) (bool, error)

	// AdvanceCounter raises the stored counter to value. It never lowers it.
	AdvanceCounter(ctx context.Context, docType, prefix string, value int64) error
}

// Observer receives allocation attempt results ("accepted", "conflict", "exhausted").
type Observer interface {
	ObserveAllocation(result string)
}
