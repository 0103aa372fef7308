package numerator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "ledgerbridge/internal/core/numerator"
	"ledgerbridge/internal/infrastructure/numerator"
	"ledgerbridge/internal/infrastructure/storage/ledger/ledgertest"
)

func TestService_EmptyLedger(t *testing.T) {
	sup := ledgertest.New(t)
	svc := numerator.New(sup)
	ctx := context.Background()

	counter, err := svc.StoredCounter(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter)

	maxNumber, err := svc.MaxNumber(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxNumber)

	taken, err := svc.NumberExists(ctx, "FV", "FE", 1)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestService_ReadsLedgerState(t *testing.T) {
	cfg := ledgertest.Config(t)
	ledgertest.Migrate(t, cfg)
	db := ledgertest.Open(t, cfg)
	ledgertest.SetCounter(t, db, "FV", "FE", 56)
	ledgertest.SeedHeader(t, db, "FV", "FE", 57, "POS-900")
	ledgertest.SeedHeader(t, db, "FV", "OTHER", 500, "POS-901")

	sup := ledgertest.NewWithConfig(t, cfg)
	svc := numerator.New(sup)
	ctx := context.Background()

	counter, err := svc.StoredCounter(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(56), counter)

	maxNumber, err := svc.MaxNumber(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(57), maxNumber)

	taken, err := svc.NumberExists(ctx, "FV", "FE", 57)
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestService_AdvanceCounterIsMonotone(t *testing.T) {
	sup := ledgertest.New(t)
	svc := numerator.New(sup)
	ctx := context.Background()

	require.NoError(t, svc.AdvanceCounter(ctx, "FV", "FE", 10))
	counter, err := svc.StoredCounter(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(10), counter)

	require.NoError(t, svc.AdvanceCounter(ctx, "FV", "FE", 7))
	counter, err = svc.StoredCounter(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(10), counter, "counter must never move backwards")

	require.NoError(t, svc.AdvanceCounter(ctx, "FV", "FE", 11))
	counter, err = svc.StoredCounter(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(11), counter)
}

func TestService_WithAllocatorReconcilesStaleCounter(t *testing.T) {
	cfg := ledgertest.Config(t)
	ledgertest.Migrate(t, cfg)
	db := ledgertest.Open(t, cfg)
	ledgertest.SetCounter(t, db, "FV", "FE", 56)
	ledgertest.SeedHeader(t, db, "FV", "FE", 57, "POS-900")

	sup := ledgertest.NewWithConfig(t, cfg)
	alloc := corenumerator.NewAllocator(numerator.New(sup), 3, nil)
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(57), first.Number)

	reconciled, err := alloc.ReconcileAfterConflict(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(58), reconciled.Number)

	counter, err := alloc.AdvanceToMax(ctx, "FV", "FE")
	require.NoError(t, err)
	assert.Equal(t, int64(57), counter)
}
