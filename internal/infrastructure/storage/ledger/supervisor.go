package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/pkg/logger"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenFunc opens a database handle. sql.Open is the default.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Status is a point-in-time view of the supervised connection.
type Status struct {
	Healthy        bool      `json:"healthy"`
	Reconnects     int64     `json:"reconnects"`
	UnhealthySince time.Time `json:"unhealthy_since,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Supervisor owns the single ledger connection.
//
// The connection is not safe for concurrent use, so mu serializes every
// statement. A transaction holds mu from BEGIN to COMMIT/ROLLBACK.
type Supervisor struct {
	cfg  Config
	open OpenFunc
	log  *logger.Logger

	mu sync.Mutex
	db *sql.DB

	healthy        atomic.Bool
	reconnects     atomic.Int64
	unhealthySince atomic.Int64 // unix nanos, 0 = healthy
	lastErr        atomic.Value // string
}

// NewSupervisor creates a supervisor. The connection is opened lazily.
func NewSupervisor(cfg Config, log *logger.Logger) *Supervisor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 15 * time.Second
	}
	return &Supervisor{
		cfg:  cfg,
		open: sql.Open,
		log:  log.WithComponent("ledger-supervisor"),
	}
}

// WithOpener replaces sql.Open. Must be called before first use.
func (s *Supervisor) WithOpener(open OpenFunc) *Supervisor {
	s.open = open
	return s
}

// Builder returns a squirrel builder using the driver's placeholder format.
func (s *Supervisor) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(s.cfg.Placeholder())
}

// EnsureConnected probes the connection and reopens it when the probe fails.
// It reports whether a usable connection exists afterwards.
func (s *Supervisor) EnsureConnected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(ctx) == nil
}

// MarkUnhealthy forces a reconnect before the next statement.
func (s *Supervisor) MarkUnhealthy(cause error) {
	if s.healthy.Swap(false) {
		s.unhealthySince.Store(time.Now().UnixNano())
	}
	if cause != nil {
		s.lastErr.Store(cause.Error())
		s.log.Warnw("ledger connection marked unhealthy", "error", cause)
	}
}

// Status returns the current connection state.
func (s *Supervisor) Status() Status {
	st := Status{
		Healthy:    s.healthy.Load(),
		Reconnects: s.reconnects.Load(),
	}
	if since := s.unhealthySince.Load(); since > 0 {
		st.UnhealthySince = time.Unix(0, since)
	}
	if v, ok := s.lastErr.Load().(string); ok {
		st.LastError = v
	}
	return st
}

// Close closes the connection.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// Do runs fn against the ledger with the supervision every statement needs:
// the coarse statement lock, a liveness check, a bounded timeout and
// unhealthy-marking on connection errors, which surface as CONNECTION_UNAVAILABLE.
//
// Inside RunInTransaction the transaction's querier is used and the lock is
// already held by the transaction owner.
func (s *Supervisor) Do(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if t := txFromContext(ctx); t != nil {
		sctx, cancel := s.statementContext(ctx)
		defer cancel()
		return s.classify(fn(sctx, t.tx))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLocked(ctx); err != nil {
		return apperror.NewConnectionUnavailable(err)
	}

	sctx, cancel := s.statementContext(ctx)
	defer cancel()
	return s.classify(fn(sctx, s.db))
}

// statementContext bounds one round trip. Started statements are not
// cancelled by the caller, only by the timeout.
func (s *Supervisor) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StatementTimeout)
}

func (s *Supervisor) classify(err error) error {
	if err == nil {
		return nil
	}
	if apperror.IsAppError(err) {
		return err
	}
	if IsConnectionError(err) {
		s.MarkUnhealthy(err)
		return apperror.NewConnectionUnavailable(err)
	}
	if IsLockConflict(err) {
		return apperror.NewLedgerBusy(err)
	}
	return err
}

func (s *Supervisor) ensureLocked(ctx context.Context) error {
	if s.db != nil && s.healthy.Load() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProbeTimeout)
		err := s.db.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		s.MarkUnhealthy(fmt.Errorf("liveness probe: %w", err))
	}

	hadConnection := s.db != nil
	if err := s.closeLocked(); err != nil {
		s.log.Debugw("closing stale ledger connection", "error", err)
	}

	db, err := s.open(s.cfg.Driver, s.cfg.ConnString())
	if err != nil {
		s.lastErr.Store(err.Error())
		return fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProbeTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		s.lastErr.Store(err.Error())
		s.log.Warnw("ledger connection failed", "driver", s.cfg.Driver, "host", s.cfg.Host, "error", err)
		return fmt.Errorf("ping ledger: %w", err)
	}

	s.db = db
	s.healthy.Store(true)
	s.unhealthySince.Store(0)
	if hadConnection {
		s.reconnects.Add(1)
		s.log.Infow("ledger connection re-established", "reconnects", s.reconnects.Load())
	} else {
		s.log.Infow("ledger connection established", "driver", s.cfg.Driver, "host", s.cfg.Host)
	}
	return nil
}

func (s *Supervisor) closeLocked() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.healthy.Store(false)
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
