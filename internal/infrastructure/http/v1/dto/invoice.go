package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"ledgerbridge/internal/domain/invoice"
	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/internal/infrastructure/storage/ledger"
)

// ReceiptResponse is returned after a successful post.
type ReceiptResponse struct {
	*posting.Receipt
	Warning string `json:"warning,omitempty"`
}

// FromReceipt converts a posting receipt.
func FromReceipt(r *posting.Receipt) ReceiptResponse {
	resp := ReceiptResponse{Receipt: r}
	if len(r.MetadataDrift) > 0 {
		resp.Warning = "posted; some metadata fields could not be written"
	}
	return resp
}

// ValidateResponse reports a dry-run validation.
type ValidateResponse struct {
	Valid    bool             `json:"valid"`
	Identity invoice.Identity `json:"identity"`
	Total    decimal.Decimal  `json:"total"`
	Payments decimal.Decimal  `json:"payments_total"`
	// Posted is set when the invoice already exists in the ledger.
	Posted *posting.Existence `json:"posted,omitempty"`
	Errors map[string]any     `json:"errors,omitempty"`
}

// AuditEntryResponse is one stored raw POS document.
type AuditEntryResponse struct {
	ID        string          `json:"id"`
	HeaderID  int64           `json:"header_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// FromAuditEntries converts audit rows. Non-JSON payloads are returned as strings.
func FromAuditEntries(entries []ledger.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		payload := json.RawMessage(e.Payload)
		if !json.Valid(payload) {
			payload, _ = json.Marshal(string(e.Payload))
		}
		out = append(out, AuditEntryResponse{
			ID:        e.ID,
			HeaderID:  e.HeaderID,
			CreatedAt: e.CreatedAt,
			Payload:   payload,
		})
	}
	return out
}

// InvoiceStatusResponse answers whether an invoice is in the ledger.
type InvoiceStatusResponse struct {
	Identity invoice.Identity     `json:"identity"`
	Ledger   posting.Existence    `json:"ledger"`
	Claimed  bool                 `json:"claimed"`
	Audit    []AuditEntryResponse `json:"audit,omitempty"`
}

// ExistsBatchRequest lists identities to look up in the ledger.
type ExistsBatchRequest struct {
	Identities []invoice.Identity `json:"identities" binding:"required,min=1,max=500"`
}

// ExistsResult is the ledger state of one identity.
type ExistsResult struct {
	Identity invoice.Identity  `json:"identity"`
	Ledger   posting.Existence `json:"ledger"`
	Claimed  bool              `json:"claimed"`
}

// ExistsBatchResponse carries results in request order plus the missing count.
type ExistsBatchResponse struct {
	ListResponse[ExistsResult]
	Missing int `json:"missing"`
}

// NewExistsBatchResponse counts identities absent from the ledger.
func NewExistsBatchResponse(results []ExistsResult) ExistsBatchResponse {
	resp := ExistsBatchResponse{ListResponse: NewListResponse(results)}
	for _, r := range results {
		if !r.Ledger.Found {
			resp.Missing++
		}
	}
	return resp
}
