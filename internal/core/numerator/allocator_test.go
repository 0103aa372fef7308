package numerator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/core/apperror"
)

type countingObserver struct {
	results []string
}

func (o *countingObserver) ObserveAllocation(result string) {
	o.results = append(o.results, result)
}

func conflict(a Allocation) error {
	return apperror.NewNumberingConflict(a.DocumentType, a.Prefix, a.Number)
}

func TestAllocator_Allocate_UsesStoredCounter(t *testing.T) {
	store := &MockStore{
		StoredCounterFunc: func(ctx context.Context, docType, prefix string) (int64, error) {
			return 41, nil
		},
	}
	a := NewAllocator(store, 0, nil)

	alloc, err := a.Allocate(context.Background(), "FV", "POS")
	require.NoError(t, err)
	assert.Equal(t, Allocation{DocumentType: "FV", Prefix: "POS", Number: 42}, alloc)
	assert.Equal(t, DefaultMaxAttempts, a.MaxAttempts())
}

func TestAllocator_Run_CollisionReconcilesFromMax(t *testing.T) {
	store := &MockStore{
		StoredCounterFunc: func(ctx context.Context, docType, prefix string) (int64, error) {
			return 56, nil
		},
		NumberExistsFunc: func(ctx context.Context, docType, prefix string, number int64) (bool, error) {
			return number == 57, nil
		},
		MaxNumberFunc: func(ctx context.Context, docType, prefix string) (int64, error) {
			return 57, nil
		},
	}
	obs := &countingObserver{}
	a := NewAllocator(store, 3, obs)

	var tried []int64
	alloc, err := a.Run(context.Background(), "FV", "POS", func(ctx context.Context, al Allocation) error {
		tried = append(tried, al.Number)
		if al.Number == 57 {
			return conflict(al)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(58), alloc.Number)
	assert.Equal(t, []int64{57, 58}, tried)
	assert.Equal(t, []string{ResultConflict, ResultAccepted}, obs.results)
}

func TestAllocator_Run_TransientConflictRetriesSameCandidate(t *testing.T) {
	maxCalled := false
	store := &MockStore{
		StoredCounterFunc: func(ctx context.Context, docType, prefix string) (int64, error) {
			return 9, nil
		},
		MaxNumberFunc: func(ctx context.Context, docType, prefix string) (int64, error) {
			maxCalled = true
			return 9, nil
		},
	}
	a := NewAllocator(store, 3, nil)

	calls := 0
	alloc, err := a.Run(context.Background(), "FV", "POS", func(ctx context.Context, al Allocation) error {
		calls++
		if calls == 1 {
			return conflict(al)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(10), alloc.Number)
	assert.Equal(t, 2, calls)
	assert.False(t, maxCalled)
}

func TestAllocator_Run_ExhaustionIsCritical(t *testing.T) {
	a := NewAllocator(&MockStore{}, 3, nil)

	calls := 0
	_, err := a.Run(context.Background(), "FV", "POS", func(ctx context.Context, al Allocation) error {
		calls++
		return conflict(al)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, apperror.Is(err, apperror.CodeCriticalNumberingFailure))
	assert.True(t, apperror.IsFatal(err))
}

func TestAllocator_Run_OtherErrorsPassThrough(t *testing.T) {
	a := NewAllocator(&MockStore{}, 3, nil)
	boom := errors.New("disk full")

	_, err := a.Run(context.Background(), "FV", "POS", func(ctx context.Context, al Allocation) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestAllocator_AdvanceToMax(t *testing.T) {
	var advanced int64
	store := &MockStore{
		MaxNumberFunc: func(ctx context.Context, docType, prefix string) (int64, error) {
			return 58, nil
		},
		AdvanceCounterFunc: func(ctx context.Context, docType, prefix string, value int64) error {
			advanced = value
			return nil
		},
	}
	a := NewAllocator(store, 3, nil)

	got, err := a.AdvanceToMax(context.Background(), "FV", "POS")
	require.NoError(t, err)
	assert.Equal(t, int64(58), got)
	assert.Equal(t, int64(58), advanced)
}
