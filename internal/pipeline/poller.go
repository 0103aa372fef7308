// Package pipeline drains queued POS invoices into the posting engine.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"ledgerbridge/internal/core/apperror"
	appctx "ledgerbridge/internal/core/context"
	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/pkg/logger"
)

// Dispositions reported to Observer.
const (
	DispositionPosted   = "posted"
	DispositionRequeued = "requeued"
	DispositionDropped  = "dropped"
	DispositionInvalid  = "invalid"
)

const (
	defaultInterval  = 30 * time.Second
	defaultBatchSize = 20
)

// Source yields raw JSON invoices.
type Source interface {
	Pull(ctx context.Context, n int) ([][]byte, error)
	Requeue(ctx context.Context, payload []byte) error
}

// Poster posts one invoice.
type Poster interface {
	Post(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error)
}

// Halter reports whether posting is halted.
type Halter interface {
	IsTripped() bool
}

// Observer counts message dispositions.
type Observer interface {
	ObservePoll(disposition string)
}

// Config controls the poll cadence.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Stats summarizes one drain pass.
type Stats struct {
	Posted   int
	Requeued int
	Dropped  int
}

// Poller pulls invoices on a ticker and posts them one at a time.
type Poller struct {
	cfg      Config
	source   Source
	poster   Poster
	halter   Halter
	observer Observer
	log      *logger.Logger
}

// New creates a Poller. halter and observer may be nil.
func New(cfg Config, source Source, poster Poster, halter Halter, observer Observer, log *logger.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Poller{
		cfg:      cfg,
		source:   source,
		poster:   poster,
		halter:   halter,
		observer: observer,
		log:      log.WithComponent("poller"),
	}
}

// Run drains the source on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Infow("poller started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize)
	p.drainLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
			p.drainLogged(ctx)
		}
	}
}

func (p *Poller) drainLogged(ctx context.Context) {
	stats, err := p.Drain(ctx)
	if err != nil {
		p.log.Errorw("poll failed", "error", err)
		return
	}
	if stats != (Stats{}) {
		p.log.Infow("poll pass finished",
			"posted", stats.Posted,
			"requeued", stats.Requeued,
			"dropped", stats.Dropped,
		)
	}
}

// Drain processes one batch. Nothing is pulled while the breaker is tripped.
func (p *Poller) Drain(ctx context.Context) (Stats, error) {
	var stats Stats
	if p.halted() {
		p.log.Debug("posting halted, skipping poll")
		return stats, nil
	}

	batch, err := p.source.Pull(ctx, p.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for i, payload := range batch {
		// Once posting halts or the ledger is gone, the rest of the batch goes back untouched.
		if ctx.Err() != nil || p.halted() {
			p.requeueAll(ctx, batch[i:], &stats)
			break
		}

		disposition, stop := p.handle(ctx, payload)
		p.count(disposition, &stats)
		if disposition == DispositionRequeued {
			if err := p.source.Requeue(context.WithoutCancel(ctx), payload); err != nil {
				p.log.Errorw("requeue failed", "error", err)
			}
		}
		if stop {
			p.requeueAll(ctx, batch[i+1:], &stats)
			break
		}
	}
	return stats, nil
}

func (p *Poller) handle(ctx context.Context, payload []byte) (disposition string, stop bool) {
	var inv invoice.Invoice
	if err := json.Unmarshal(payload, &inv); err != nil {
		p.log.Warnw("dropping undecodable invoice", "error", err)
		return DispositionInvalid, false
	}
	inv.Normalize()

	ctx = appctx.WithTrace(ctx, appctx.Trace{Origin: appctx.OriginPoller})
	log := p.log.WithContext(ctx).ForIdentity(inv.Identity.Key())

	receipt, err := p.poster.Post(ctx, &inv)
	if err == nil {
		log.Infow("invoice posted from queue", "ledger_number", receipt.LedgerNumber)
		return DispositionPosted, false
	}

	switch {
	case apperror.Is(err, apperror.CodeAlreadyPosted):
		log.Info("invoice already in ledger")
		return DispositionDropped, false
	case apperror.Is(err, apperror.CodeConnectionUnavailable):
		log.Warnw("ledger unavailable, requeued", "error", err)
		return DispositionRequeued, true
	case apperror.IsRetryable(err), apperror.IsFatal(err):
		log.Warnw("invoice requeued", "code", apperror.CodeOf(err))
		return DispositionRequeued, apperror.IsFatal(err)
	default:
		log.Errorw("invoice dropped", "code", apperror.CodeOf(err), "error", err)
		return DispositionDropped, false
	}
}

func (p *Poller) requeueAll(ctx context.Context, payloads [][]byte, stats *Stats) {
	for _, payload := range payloads {
		if err := p.source.Requeue(context.WithoutCancel(ctx), payload); err != nil {
			p.log.Errorw("requeue failed", "error", err)
			continue
		}
		p.count(DispositionRequeued, stats)
	}
}

func (p *Poller) count(disposition string, stats *Stats) {
	switch disposition {
	case DispositionPosted:
		stats.Posted++
	case DispositionRequeued:
		stats.Requeued++
	default:
		stats.Dropped++
	}
	if p.observer != nil {
		p.observer.ObservePoll(disposition)
	}
}

func (p *Poller) halted() bool {
	return p.halter != nil && p.halter.IsTripped()
}
