package numerator

import (
	"context"
)

// MockStore is a test implementation of Store.
// Use in unit tests to avoid database dependencies.
type MockStore struct {
	StoredCounterFunc  func(ctx context.Context, docType, prefix string) (int64, error)
	MaxNumberFunc      func(ctx context.Context, docType, prefix string) (int64, error)
	NumberExistsFunc   func(ctx context.Context, docType, prefix string, number int64) (bool, error)
	AdvanceCounterFunc func(ctx context.Context, docType, prefix string, value int64) error
}

// StoredCounter implements Store.
func (m *MockStore) StoredCounter(ctx context.Context, docType, prefix string) (int64, error) {
	if m.StoredCounterFunc != nil {
		return m.StoredCounterFunc(ctx, docType, prefix)
	}
	return 0, nil
}

// MaxNumber implements Store.
func (m *MockStore) MaxNumber(ctx context.Context, docType, prefix string) (int64, error) {
	if m.MaxNumberFunc != nil {
		return m.MaxNumberFunc(ctx, docType, prefix)
	}
	return 0, nil
}

// NumberExists implements Store.
func (m *MockStore) NumberExists(ctx context.Context, docType, prefix string, number int64) (bool, error) {
	if m.NumberExistsFunc != nil {
		return m.NumberExistsFunc(ctx, docType, prefix, number)
	}
	return false, nil
}

// AdvanceCounter implements Store.
func (m *MockStore) AdvanceCounter(ctx context.Context, docType, prefix string, value int64) error {
	if m.AdvanceCounterFunc != nil {
		return m.AdvanceCounterFunc(ctx, docType, prefix, value)
	}
	return nil
}

// Ensure compile-time interface compliance.
var _ Store = (*MockStore)(nil)
