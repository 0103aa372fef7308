package posting

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ledgerbridge/internal/core/apperror"
	appctx "ledgerbridge/internal/core/context"
	"ledgerbridge/internal/core/id"
	"ledgerbridge/internal/core/numerator"
	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/pkg/logger"
	"ledgerbridge/pkg/notify"
)

var tracer = otel.Tracer("ledgerbridge/posting")

// OutcomePosted is reported to Observer for successful posts.
const OutcomePosted = "POSTED"

// Config holds posting business settings.
type Config struct {
	DocumentType string
	// PrefixMap maps POS prefixes to ledger prefixes; unmapped prefixes are used as-is.
	PrefixMap map[string]string

	CostCenter         string
	DefaultEmail       string
	GenericTaxID       string
	GenericName        string
	TipCode            string
	TipName            string
	ConsumptionTaxCode string

	// MetadataDelay separates dependent post-commit updates.
	MetadataDelay time.Duration
}

// LedgerPrefix maps a POS prefix to the ledger prefix.
func (c Config) LedgerPrefix(posPrefix string) string {
	if p, ok := c.PrefixMap[posPrefix]; ok && p != "" {
		return p
	}
	return posPrefix
}

// Deps are the collaborators of an Engine. Enrichment, Auditor, Observer and Sink are optional.
type Deps struct {
	Ledger     Ledger
	Conn       Connection
	Allocator  *numerator.Allocator
	Claims     *ClaimRegistry
	Locks      IdentityLocker
	Breaker    *Breaker
	Policy     *ReversePolicy
	Enrichment Enrichment
	Auditor    Auditor
	Observer   Observer
	Sink       notify.Sink
	Logger     *logger.Logger
}

// Receipt describes a committed posting.
type Receipt struct {
	Identity      invoice.Identity `json:"identity"`
	LedgerID      int64            `json:"ledger_id"`
	DocumentType  string           `json:"document_type"`
	LedgerPrefix  string           `json:"ledger_prefix"`
	LedgerNumber  int64            `json:"ledger_number"`
	Counter       int64            `json:"counter"`
	Reversed      bool             `json:"reversed"`
	ReverseReason string           `json:"reverse_reason"`
	// MetadataDrift lists post-commit fields that stayed null after one retry.
	MetadataDrift []MetadataField `json:"metadata_drift,omitempty"`
}

// Engine coordinates posting. It owns the claim registry, the per-identity
// locks and the breaker, and is shared by every producer in the process.
type Engine struct {
	cfg        Config
	ledger     Ledger
	conn       Connection
	allocator  *numerator.Allocator
	oracle     *Oracle
	claims     *ClaimRegistry
	locks      IdentityLocker
	breaker    *Breaker
	policy     *ReversePolicy
	enrichment Enrichment
	auditor    Auditor
	observer   Observer
	sink       notify.Sink
	log        *logger.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// NewEngine wires an Engine. Missing registry, locks and breaker get in-process defaults.
func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Claims == nil {
		deps.Claims = NewClaimRegistry()
	}
	if deps.Locks == nil {
		deps.Locks = NewKeyedMutex()
	}
	if deps.Breaker == nil {
		deps.Breaker = NewBreaker(DefaultBreakerThreshold)
	}
	if deps.Sink == nil {
		deps.Sink = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Observer != nil {
		deps.Breaker.OnChange(deps.Observer.ObserveBreaker)
	}
	return &Engine{
		cfg:        cfg,
		ledger:     deps.Ledger,
		conn:       deps.Conn,
		allocator:  deps.Allocator,
		oracle:     NewOracle(deps.Ledger, deps.Conn),
		claims:     deps.Claims,
		locks:      deps.Locks,
		breaker:    deps.Breaker,
		policy:     deps.Policy,
		enrichment: deps.Enrichment,
		auditor:    deps.Auditor,
		observer:   deps.Observer,
		sink:       deps.Sink,
		log:        deps.Logger.WithComponent("posting"),
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// Breaker returns the engine's circuit breaker.
func (e *Engine) Breaker() *Breaker { return e.breaker }

// Claims returns the in-flight claim registry.
func (e *Engine) Claims() *ClaimRegistry { return e.claims }

// Exists asks the existence oracle whether the identity is already posted.
func (e *Engine) Exists(ctx context.Context, prefix, number string) (Existence, error) {
	return e.oracle.Exists(ctx, prefix, number)
}

// Post writes inv to the ledger at most once.
//
// A nil error means the invoice was committed. Otherwise the error is an
// *apperror.AppError; apperror.IsRetryable and apperror.IsFatal tell the caller
// whether to retry later or stop the pipeline. Post never panics.
func (e *Engine) Post(ctx context.Context, inv *invoice.Invoice) (receipt *Receipt, err error) {
	if inv == nil {
		return nil, apperror.NewValidation("nil invoice")
	}
	start := e.now()
	key := inv.Identity.Key()
	ctx = appctx.WithAttempt(ctx, id.NewString())
	ctx, span := tracer.Start(ctx, "posting.post", trace.WithAttributes(attribute.String("invoice.identity", key)))
	defer span.End()

	log := e.log.WithContext(ctx).ForIdentity(key)

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("panic during posting", "panic", r, "stack", string(debug.Stack()))
			receipt = nil
			err = apperror.NewInternal(fmt.Errorf("panic: %v", r)).WithDetail("identity", key)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperror.CodeOf(err))
		}
		e.finish(log, key, receipt, err, start)
	}()

	if e.breaker.IsTripped() {
		return nil, apperror.NewPipelineHalted(e.breaker.Status().Reason).WithDetail("identity", key)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	release, ok := e.claims.Claim(key)
	if !ok {
		return nil, apperror.NewIdentityAlreadyClaimed(key)
	}
	defer release()
	notify.Notifyf(e.sink, "%s: posting started", key)

	if !e.conn.EnsureConnected(ctx) {
		return nil, apperror.NewConnectionUnavailable(errors.New("ledger unreachable")).WithDetail("identity", key)
	}

	if err := e.checkAbsent(ctx, inv.Identity); err != nil {
		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, key)
	if err != nil {
		return nil, apperror.NewIdentityAlreadyClaimed(key).WithCause(err)
	}
	defer unlock()

	// Last-moment re-check: another writer may have posted between the pre-check and the lock.
	if err := e.checkAbsent(ctx, inv.Identity); err != nil {
		return nil, err
	}

	plan, err := e.prepareThirdParty(ctx, inv)
	if err != nil {
		return nil, err
	}

	reverse, reason := false, ReasonDisabled
	if e.policy != nil {
		reverse, reason, err = e.policy.Decide(ctx, inv)
		if err != nil {
			return nil, apperror.NewValidation("reverse rule failed").WithCause(err).WithDetail("identity", key)
		}
	}
	payments := NormalizePayments(inv.Payments, reverse)
	lines := e.buildLines(inv)

	docType := e.cfg.DocumentType
	prefix := e.cfg.LedgerPrefix(inv.Identity.Prefix)

	var header Header
	err = e.conn.RunInTransaction(ctx, func(ctx context.Context) error {
		return e.write(ctx, inv, plan, lines, payments, docType, prefix, &header)
	})
	if err != nil {
		if apperror.Is(err, apperror.CodeCriticalNumberingFailure) {
			if e.breaker.RecordFailure(fmt.Sprintf("numbering for %s/%s exhausted on %s", docType, prefix, key)) {
				log.Errorw("circuit breaker tripped, posting halted until operator reset",
					"document_type", docType, "prefix", prefix)
				notify.Notifyf(e.sink, "%s: numbering failure, posting halted until operator reset", key)
			}
		}
		return nil, err
	}
	e.breaker.RecordOutcome(true)

	// Committed: from here on nothing may undo the posting.
	post := context.WithoutCancel(ctx)
	drift := e.applyMetadata(post, log, inv, header.ID)

	counter, cerr := e.allocator.AdvanceToMax(post, docType, prefix)
	if cerr != nil {
		log.Warnw("counter advance failed, next allocation will reconcile", "error", cerr)
	}

	return &Receipt{
		Identity:      inv.Identity,
		LedgerID:      header.ID,
		DocumentType:  docType,
		LedgerPrefix:  prefix,
		LedgerNumber:  header.Number,
		Counter:       counter,
		Reversed:      reverse,
		ReverseReason: reason,
		MetadataDrift: drift,
	}, nil
}

func (e *Engine) checkAbsent(ctx context.Context, identity invoice.Identity) error {
	ex, err := e.oracle.lookup(ctx, identity)
	if err != nil {
		return err
	}
	if ex.Found {
		return apperror.NewAlreadyPosted(identity.Key(), ex.LedgerID).
			WithDetail("ledger_prefix", ex.LedgerPrefix).
			WithDetail("ledger_number", ex.LedgerNumber)
	}
	return nil
}

// buildLines returns the invoice lines plus a synthetic tip line when a tip is present.
func (e *Engine) buildLines(inv *invoice.Invoice) []invoice.Line {
	lines := make([]invoice.Line, len(inv.Lines), len(inv.Lines)+1)
	copy(lines, inv.Lines)
	if inv.HasTip() {
		lines = append(lines, invoice.Line{
			Code:      e.cfg.TipCode,
			Name:      e.cfg.TipName,
			Quantity:  decimal.NewFromInt(1),
			UnitPrice: *inv.Tip,
			TaxRate:   decimal.Zero,
		})
	}
	return lines
}

// write runs inside the ledger transaction. Any error rolls everything back.
func (e *Engine) write(
	ctx context.Context,
	inv *invoice.Invoice,
	plan partyPlan,
	lines []invoice.Line,
	payments []invoice.Payment,
	docType, prefix string,
	header *Header,
) error {
	key := inv.Identity.Key()

	thirdPartyID, err := e.resolveThirdParty(ctx, inv, plan)
	if err != nil {
		return err
	}

	_, err = e.allocator.Run(ctx, docType, prefix, func(ctx context.Context, a numerator.Allocation) error {
		return e.conn.RunInSavepoint(ctx, func(ctx context.Context) error {
			h := Header{
				DocumentType: a.DocumentType,
				Prefix:       a.Prefix,
				Number:       a.Number,
				NaturalTag:   key,
				ThirdPartyID: thirdPartyID,
				IssuedAt:     inv.IssuedAt,
			}
			if err := e.ledger.InsertHeader(ctx, &h); err != nil {
				if apperror.Is(err, apperror.CodeConnectionUnavailable) || apperror.Is(err, apperror.CodeLedgerBusy) {
					return err
				}
				return apperror.NewNumberingConflict(a.DocumentType, a.Prefix, a.Number).WithCause(err)
			}
			ref, err := e.ledger.FindHeader(ctx, a.DocumentType, a.Prefix, a.Number)
			if err != nil {
				return err
			}
			if ref == nil || ref.NaturalTag != key {
				return apperror.NewNumberingConflict(a.DocumentType, a.Prefix, a.Number).
					WithDetail("reason", "header not visible after insert")
			}
			h.ID = ref.ID
			*header = h
			return nil
		})
	})
	if err != nil {
		return err
	}

	if e.auditor != nil && len(inv.RawDetail) > 0 {
		if err := e.auditor.Record(ctx, key, header.ID, inv.RawDetail); err != nil {
			return stepError("audit", -1, err)
		}
	}

	for i, l := range lines {
		materialID, err := e.ensureMaterial(ctx, l)
		if err != nil {
			return stepError("material", i, err)
		}
		rec := &LineRecord{
			HeaderID:   header.ID,
			LineNo:     i + 1,
			MaterialID: materialID,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
			Discount:   l.Discount,
			TaxCode:    l.TaxCode,
			TaxRate:    l.TaxRate,
			Base:       l.Base(),
			TaxAmount:  l.Tax(),
		}
		if err := e.ledger.InsertLine(ctx, rec); err != nil {
			return stepError("line", i, err)
		}
	}

	ref, err := e.ledger.FindHeader(ctx, docType, prefix, header.Number)
	if err != nil {
		return stepError("header_visibility", -1, err)
	}
	if ref == nil {
		return stepError("header_visibility", -1, errors.New("header not visible before payments"))
	}

	for i, p := range payments {
		rec := &PaymentRecord{HeaderID: header.ID, MethodCode: p.MethodCode, Amount: p.Amount}
		if err := e.ledger.InsertPayment(ctx, rec); err != nil {
			return stepError("payment", i, err)
		}
	}

	if err := e.ledger.RecalculateTotals(ctx, header.ID); err != nil {
		return stepError("totals", -1, err)
	}
	return nil
}

func (e *Engine) ensureMaterial(ctx context.Context, l invoice.Line) (int64, error) {
	m, err := e.ledger.FindMaterial(ctx, l.Code)
	if err != nil {
		return 0, err
	}
	if m != nil {
		return m.ID, nil
	}
	m = &Material{Code: l.Code, Name: firstNonEmpty(l.Name, l.Code), TaxCode: l.TaxCode, TaxRate: l.TaxRate}
	if err := e.ledger.CreateMaterial(ctx, m); err != nil {
		return 0, err
	}
	return m.ID, nil
}

// stepError keeps connection failures and lock contention as they are and wraps
// everything else as WRITE_STEP_FAILURE.
func stepError(step string, index int, err error) error {
	if apperror.Is(err, apperror.CodeConnectionUnavailable) || apperror.Is(err, apperror.CodeLedgerBusy) {
		return err
	}
	return apperror.NewWriteStepFailure(step, index, err)
}

func (e *Engine) finish(log *logger.Logger, key string, receipt *Receipt, err error, start time.Time) {
	elapsed := e.now().Sub(start)
	code := apperror.CodeOf(err)
	if err == nil {
		code = OutcomePosted
	}
	if e.observer != nil {
		e.observer.ObservePost(code, elapsed)
	}

	switch {
	case err == nil:
		log.Infow("invoice posted",
			"ledger_id", receipt.LedgerID,
			"ledger_prefix", receipt.LedgerPrefix,
			"ledger_number", receipt.LedgerNumber,
			"reversed", receipt.Reversed,
			"elapsed", elapsed)
		notify.Notifyf(e.sink, "%s: posted as %s %s-%d", key, receipt.DocumentType, receipt.LedgerPrefix, receipt.LedgerNumber)
	case apperror.IsRetryable(err), apperror.Is(err, apperror.CodeAlreadyPosted):
		log.Infow("invoice skipped", "code", code, "error", err)
		notify.Notifyf(e.sink, "%s: skipped (%s)", key, code)
	case apperror.IsFatal(err):
		log.Errorw("posting halted", "code", code, "error", err)
		notify.Notifyf(e.sink, "%s: FATAL %s", key, code)
	default:
		log.Warnw("invoice posting failed", "code", code, "error", err)
		notify.Notifyf(e.sink, "%s: failed (%s)", key, code)
	}
}
