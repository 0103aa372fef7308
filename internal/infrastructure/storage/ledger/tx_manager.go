package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/core/tx"
	"ledgerbridge/pkg/logger"
)

var tracer = otel.Tracer("ledgerbridge/ledger")

// Compile-time check that Supervisor implements tx.SavepointManager.
var _ tx.SavepointManager = (*Supervisor)(nil)

// txKey is the context key for active transaction.
type txKey struct{}

// Tx wraps *sql.Tx with metadata.
type Tx struct {
	tx         *sql.Tx
	savepoints atomic.Int64
}

func txFromContext(ctx context.Context) *Tx {
	if t, ok := ctx.Value(txKey{}).(*Tx); ok {
		return t
	}
	return nil
}

// InTransaction reports whether ctx carries a ledger transaction.
func InTransaction(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

// RunInTransaction executes fn within a ledger transaction.
// If a transaction already exists in ctx, it is reused.
//
// The statement lock is held for the whole transaction. Once BEGIN succeeds the
// caller's cancellation no longer applies: the transaction ends in COMMIT or ROLLBACK.
func (s *Supervisor) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "ledger.transaction",
		trace.WithAttributes(attribute.String("db.system", s.cfg.Driver)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(ctx); err != nil {
		span.SetStatus(codes.Error, "connection unavailable")
		return apperror.NewConnectionUnavailable(err)
	}

	base := context.WithoutCancel(ctx)
	sqlTx, err := s.db.BeginTx(base, nil)
	if err != nil {
		span.RecordError(err)
		return s.classify(fmt.Errorf("begin transaction: %w", err))
	}

	txCtx := context.WithValue(base, txKey{}, &Tx{tx: sqlTx})

	// A panic in fn must not leave the only connection inside an open transaction.
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		span.SetStatus(codes.Error, "panic")
		rbErr := sqlTx.Rollback()
		s.MarkUnhealthy(multierr.Append(fmt.Errorf("panic in transaction: %v", r), rbErr))
		panic(r)
	}()

	if err := fn(txCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperror.CodeOf(err))
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.MarkUnhealthy(fmt.Errorf("rollback: %w", rbErr))
			logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", err)
			return multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		span.RecordError(err)
		// The outcome of a failed COMMIT is unknown to us; reconnect before reuse.
		s.MarkUnhealthy(err)
		return apperror.NewConnectionUnavailable(fmt.Errorf("commit transaction: %w", err))
	}

	return nil
}

// RunInSavepoint executes fn under a savepoint of the transaction in ctx.
// On error the work since the savepoint is undone and the transaction stays usable.
func (s *Supervisor) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	t := txFromContext(ctx)
	if t == nil {
		return fmt.Errorf("savepoint requires an active transaction")
	}

	name := fmt.Sprintf("sp_%d", t.savepoints.Add(1))
	if err := s.exec(ctx, t, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		if rbErr := s.exec(ctx, t, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			s.MarkUnhealthy(fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
			logger.Error(ctx, "rollback to savepoint failed", "savepoint", name, "error", rbErr)
			return multierr.Append(err, rbErr)
		}
		return err
	}

	if err := s.exec(ctx, t, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (s *Supervisor) exec(ctx context.Context, t *Tx, stmt string) error {
	sctx, cancel := s.statementContext(ctx)
	defer cancel()
	_, err := t.tx.ExecContext(sctx, stmt)
	return s.classify(err)
}
