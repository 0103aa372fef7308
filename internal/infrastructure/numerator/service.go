// Package numerator provides the ledger-backed implementation of core/numerator.Store.
// The counter row and the numbered headers both live in the ledger.
package numerator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	corenumerator "ledgerbridge/internal/core/numerator"
	"ledgerbridge/internal/infrastructure/storage/ledger"
)

// Service reads and advances numbering state through the ledger supervisor.
// Inside a posting transaction it reads the transaction's own view.
type Service struct {
	sup           *ledger.Supervisor
	counterTable  string
	documentTable string
}

// Ensure compile-time interface compliance.
var _ corenumerator.Store = (*Service)(nil)

// New creates a numerator service over the standard ledger tables.
func New(sup *ledger.Supervisor) *Service {
	return &Service{
		sup:           sup,
		counterTable:  ledger.TableCounter,
		documentTable: ledger.TableHeader,
	}
}

// StoredCounter returns last_number for docType/prefix, 0 when no row exists.
func (s *Service) StoredCounter(ctx context.Context, docType, prefix string) (int64, error) {
	q := s.sup.Builder().
		Select("last_number").
		From(s.counterTable).
		Where(sq.Eq{"document_type": docType, "prefix": prefix})

	var last sql.NullInt64
	if err := s.scanOne(ctx, q, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("stored counter: %w", err)
	}
	return last.Int64, nil
}

// MaxNumber returns the highest header number for docType/prefix, 0 when none.
func (s *Service) MaxNumber(ctx context.Context, docType, prefix string) (int64, error) {
	q := s.sup.Builder().
		Select("COALESCE(MAX(number), 0)").
		From(s.documentTable).
		Where(sq.Eq{"document_type": docType, "prefix": prefix})

	var maxNumber int64
	if err := s.scanOne(ctx, q, &maxNumber); err != nil {
		return 0, fmt.Errorf("max number: %w", err)
	}
	return maxNumber, nil
}

// NumberExists reports whether a header holds number.
func (s *Service) NumberExists(ctx context.Context, docType, prefix string, number int64) (bool, error) {
	q := s.sup.Builder().
		Select("COUNT(*)").
		From(s.documentTable).
		Where(sq.Eq{"document_type": docType, "prefix": prefix, "number": number})

	var n int64
	if err := s.scanOne(ctx, q, &n); err != nil {
		return false, fmt.Errorf("number exists: %w", err)
	}
	return n > 0, nil
}

// AdvanceCounter raises last_number to value. A lower or equal value is a no-op.
func (s *Service) AdvanceCounter(ctx context.Context, docType, prefix string, value int64) error {
	update, args, err := s.sup.Builder().
		Update(s.counterTable).
		Set("last_number", value).
		Where(sq.Eq{"document_type": docType, "prefix": prefix}).
		Where(sq.Lt{"last_number": value}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build counter update: %w", err)
	}

	var updated int64
	err = s.sup.Do(ctx, func(ctx context.Context, q ledger.Querier) error {
		res, err := q.ExecContext(ctx, update, args...)
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}
	if updated > 0 {
		return nil
	}

	// Either the row is missing or it already holds a value >= value.
	current, err := s.StoredCounter(ctx, docType, prefix)
	if err != nil {
		return err
	}
	if current >= value {
		return nil
	}

	insert, args, err := s.sup.Builder().
		Insert(s.counterTable).
		Columns("document_type", "prefix", "last_number").
		Values(docType, prefix, value).
		ToSql()
	if err != nil {
		return fmt.Errorf("build counter insert: %w", err)
	}
	err = s.sup.Do(ctx, func(ctx context.Context, q ledger.Querier) error {
		_, err := q.ExecContext(ctx, insert, args...)
		return err
	})
	if err != nil && !ledger.IsUniqueViolation(err) {
		return fmt.Errorf("create counter: %w", err)
	}
	return nil
}

func (s *Service) scanOne(ctx context.Context, b sq.SelectBuilder, dest any) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.sup.Do(ctx, func(ctx context.Context, q ledger.Querier) error {
		return q.QueryRowContext(ctx, query, args...).Scan(dest)
	})
}
