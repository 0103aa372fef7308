// Package bootstrap builds the posting runtime shared by cmd/server and cmd/worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	corenumerator "ledgerbridge/internal/core/numerator"
	"ledgerbridge/internal/core/security"
	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/internal/infrastructure/enrichment"
	"ledgerbridge/internal/infrastructure/metrics"
	infranumerator "ledgerbridge/internal/infrastructure/numerator"
	"ledgerbridge/internal/infrastructure/redis"
	"ledgerbridge/internal/infrastructure/storage/ledger"
	"ledgerbridge/internal/pipeline"
	"ledgerbridge/pkg/config"
	"ledgerbridge/pkg/logger"
	"ledgerbridge/pkg/notify"
)

const notifyBuffer = 64

// Runtime is the wired posting stack. Optional parts are nil when unconfigured.
type Runtime struct {
	Config     *config.Config
	Supervisor *ledger.Supervisor
	Repository *ledger.Repository
	Engine     *posting.Engine
	Flags      *security.InMemoryFlags
	Metrics    *metrics.PostingMetrics
	Audit      *ledger.AuditStore
	Redis      *redis.Client
	Queue      *redis.Queue
	Poller     *pipeline.Poller

	sink *notify.Async
	log  *logger.Logger
}

// Build wires every component from cfg. reg receives the posting metrics.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{Config: cfg, log: log}

	rt.Supervisor = ledger.NewSupervisor(LedgerConfig(cfg.Ledger), log)
	rt.Repository = ledger.NewRepository(rt.Supervisor, ledger.RepositoryOptions{
		ConsumptionTaxCode: cfg.Posting.ConsumptionTx,
		RecalcStatement:    cfg.Ledger.RecalcStatement,
	})
	rt.Metrics = metrics.NewPostingMetrics(reg)

	allocator := corenumerator.NewAllocator(
		infranumerator.New(rt.Supervisor),
		cfg.Posting.MaxAllocationAttempts,
		rt.Metrics,
	)

	rt.Flags = security.NewInMemoryFlags(map[string]bool{
		security.FlagReverseEnabled: cfg.Posting.ReverseEnabled,
		security.FlagReverseForce:   cfg.Posting.ReverseForce,
	})
	policy, err := posting.NewReversePolicy(posting.ReverseConfig{
		CashMethod:   cfg.Posting.CashMethod,
		GenericTaxID: cfg.Posting.GenericTaxID,
		MinimalValue: cfg.Posting.MinimalValue,
		Rule:         cfg.Posting.ReverseRule,
	}, rt.Flags)
	if err != nil {
		return nil, err
	}

	deps := posting.Deps{
		Ledger:    rt.Repository,
		Conn:      rt.Supervisor,
		Allocator: allocator,
		Breaker:   posting.NewBreaker(cfg.Posting.BreakerThreshold),
		Policy:    policy,
		Observer:  rt.Metrics,
		Logger:    log,
	}

	if cfg.Enrichment.URL != "" {
		client, err := enrichment.NewClient(cfg.Enrichment.URL, cfg.Enrichment.Timeout,
			enrichment.WithToken(cfg.Enrichment.Token))
		if err != nil {
			return nil, err
		}
		deps.Enrichment = client
	}

	if cfg.Posting.AuditTable != "" {
		rt.Audit, err = ledger.NewAuditStore(rt.Supervisor, cfg.Posting.AuditTable)
		if err != nil {
			return nil, err
		}
		deps.Auditor = rt.Audit
	}

	if cfg.Redis.URL != "" {
		rt.Redis, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		rt.Queue = redis.NewQueue(rt.Redis, cfg.Redis.QueueKey)
		if cfg.Redis.IdentityLocks {
			deps.Locks = redis.NewIdentityLock(rt.Redis, cfg.Redis.LockKeyPrefix, cfg.Redis.LockTTL, cfg.Redis.LockWait)
		}
	}

	rt.sink = notify.NewAsync(notify.NewLogSink(log), notifyBuffer)
	deps.Sink = rt.sink

	rt.Engine = posting.NewEngine(PostingConfig(cfg.Posting), deps)

	if cfg.Poller.Enabled {
		if rt.Queue == nil {
			return nil, errors.New("poller requires a redis queue")
		}
		rt.Poller = pipeline.New(pipeline.Config{
			Interval:  cfg.Poller.Interval,
			BatchSize: cfg.Poller.BatchSize,
		}, rt.Queue, rt.Engine, rt.Engine.Breaker(), rt.Metrics, log)
	}

	if !rt.Supervisor.EnsureConnected(ctx) {
		log.Warnw("ledger not reachable at startup; will retry per request",
			"driver", cfg.Ledger.Driver, "status", rt.Supervisor.Status())
	}

	return rt, nil
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() error {
	var err error
	if rt.sink != nil {
		rt.sink.Close()
	}
	if rt.Redis != nil {
		err = multierr.Append(err, rt.Redis.Close())
	}
	if rt.Supervisor != nil {
		err = multierr.Append(err, rt.Supervisor.Close())
	}
	return err
}

// LedgerConfig maps environment settings onto the supervisor config.
func LedgerConfig(c config.LedgerConfig) ledger.Config {
	return ledger.Config{
		Driver:           c.Driver,
		DSN:              c.DSN,
		Host:             c.Host,
		Port:             c.Port,
		Database:         c.Database,
		User:             c.User,
		Password:         c.Password,
		Charset:          c.Charset,
		ProbeTimeout:     c.ProbeTimeout,
		StatementTimeout: c.StatementTimeout,
	}
}

// PostingConfig maps environment settings onto the engine config.
func PostingConfig(p config.PostingConfig) posting.Config {
	return posting.Config{
		DocumentType:       p.DocumentType,
		PrefixMap:          p.PrefixMap,
		CostCenter:         p.CostCenter,
		DefaultEmail:       p.DefaultEmail,
		GenericTaxID:       p.GenericTaxID,
		GenericName:        p.GenericName,
		TipCode:            p.TipCode,
		TipName:            p.TipName,
		ConsumptionTaxCode: p.ConsumptionTx,
		MetadataDelay:      p.MetadataDelay,
	}
}
