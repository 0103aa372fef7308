package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/internal/infrastructure/http/v1/dto"
	"ledgerbridge/internal/infrastructure/storage/ledger"
)

// PostingService is the part of posting.Engine the API drives.
type PostingService interface {
	Post(ctx context.Context, inv *invoice.Invoice) (*posting.Receipt, error)
	Exists(ctx context.Context, prefix, number string) (posting.Existence, error)
}

// AuditHistory returns stored raw documents for a natural tag.
type AuditHistory interface {
	History(ctx context.Context, naturalTag string) ([]ledger.AuditEntry, error)
}

// InvoiceHandler posts and inspects invoices.
type InvoiceHandler struct {
	*BaseHandler
	service PostingService
	claims  *posting.ClaimRegistry
	audit   AuditHistory
}

// NewInvoiceHandler creates an invoice handler. audit may be nil.
func NewInvoiceHandler(base *BaseHandler, service PostingService, claims *posting.ClaimRegistry, audit AuditHistory) *InvoiceHandler {
	return &InvoiceHandler{
		BaseHandler: base,
		service:     service,
		claims:      claims,
		audit:       audit,
	}
}

// Post handles POST /invoices
func (h *InvoiceHandler) Post(c *gin.Context) {
	var inv invoice.Invoice
	if !h.BindJSON(c, &inv) {
		return
	}
	inv.Normalize()

	receipt, err := h.service.Post(c.Request.Context(), &inv)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromReceipt(receipt))
}

// Validate handles POST /invoices/validate. It never writes.
func (h *InvoiceHandler) Validate(c *gin.Context) {
	ctx := c.Request.Context()

	var inv invoice.Invoice
	if !h.BindJSON(c, &inv) {
		return
	}
	inv.Normalize()

	resp := dto.ValidateResponse{
		Valid:    true,
		Identity: inv.Identity,
		Total:    inv.Total(),
		Payments: inv.PaymentsTotal(),
	}
	if err := inv.Validate(); err != nil {
		appErr, ok := apperror.AsAppError(err)
		if !ok {
			h.Error(c, err)
			return
		}
		resp.Valid = false
		resp.Errors = appErr.Details
		h.OK(c, resp)
		return
	}

	existing, err := h.service.Exists(ctx, inv.Identity.Prefix, inv.Identity.Number)
	if err != nil {
		h.Error(c, err)
		return
	}
	if existing.Found {
		resp.Posted = &existing
	}
	h.OK(c, resp)
}

// Get handles GET /invoices/:prefix/:number
func (h *InvoiceHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := invoice.Identity{Prefix: c.Param("prefix"), Number: c.Param("number")}.Normalized()

	existing, err := h.service.Exists(ctx, id.Prefix, id.Number)
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.InvoiceStatusResponse{
		Identity: id,
		Ledger:   existing,
		Claimed:  h.claims != nil && h.claims.Held(id.Key()),
	}
	if h.audit != nil && existing.Found {
		entries, err := h.audit.History(ctx, id.Key())
		if err != nil {
			h.Error(c, err)
			return
		}
		resp.Audit = dto.FromAuditEntries(entries)
	}
	h.OK(c, resp)
}

// Exists handles POST /invoices/exists: a read-only batch lookup used to
// reconcile a POS day against the ledger. A ledger failure fails the whole batch.
func (h *InvoiceHandler) Exists(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ExistsBatchRequest
	if !h.BindJSON(c, &req) {
		return
	}

	results := make([]dto.ExistsResult, 0, len(req.Identities))
	for _, raw := range req.Identities {
		id := raw.Normalized()
		existing, err := h.service.Exists(ctx, id.Prefix, id.Number)
		if err != nil {
			h.Error(c, err)
			return
		}
		results = append(results, dto.ExistsResult{
			Identity: id,
			Ledger:   existing,
			Claimed:  h.claims != nil && h.claims.Held(id.Key()),
		})
	}
	h.OK(c, dto.NewExistsBatchResponse(results))
}
