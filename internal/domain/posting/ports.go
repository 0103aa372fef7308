// Package posting is the invoice posting engine: it decides whether an invoice is
// already in the ledger, allocates a consecutive number and writes the invoice in
// one ledger transaction, at most once per identity.
package posting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ledgerbridge/internal/core/tx"
)

// Existence is what the ledger holds for an identity.
type Existence struct {
	Found          bool            `json:"found"`
	LedgerID       int64           `json:"ledger_id,omitempty" db:"id"`
	Total          decimal.Decimal `json:"total" db:"total"`
	TaxBase        decimal.Decimal `json:"tax_base" db:"tax_base"`
	VAT            decimal.Decimal `json:"vat" db:"vat"`
	ConsumptionTax decimal.Decimal `json:"consumption_tax" db:"consumption_tax"`
	LedgerPrefix   string          `json:"ledger_prefix,omitempty" db:"prefix"`
	LedgerNumber   int64           `json:"ledger_number,omitempty" db:"number"`
}

// ThirdParty is the ledger's customer record.
type ThirdParty struct {
	ID     int64  `db:"id"`
	TaxID  string `db:"tax_id"`
	Name   string `db:"name"`
	Email  string `db:"email"`
	IDType string `db:"id_type"`
}

// Header is the invoice header row.
type Header struct {
	ID           int64
	DocumentType string
	Prefix       string
	Number       int64
	NaturalTag   string
	ThirdPartyID int64
	IssuedAt     time.Time
}

// HeaderRef identifies a visible header row.
type HeaderRef struct {
	ID         int64  `db:"id"`
	NaturalTag string `db:"natural_tag"`
}

// Material is the ledger's catalog item.
type Material struct {
	ID      int64           `db:"id"`
	Code    string          `db:"code"`
	Name    string          `db:"name"`
	TaxCode string          `db:"tax_code"`
	TaxRate decimal.Decimal `db:"tax_rate"`
}

// LineRecord is one detail row.
type LineRecord struct {
	HeaderID   int64
	LineNo     int
	MaterialID int64
	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	Discount   decimal.Decimal
	TaxCode    string
	TaxRate    decimal.Decimal
	Base       decimal.Decimal
	TaxAmount  decimal.Decimal
}

// PaymentRecord is one payment row.
type PaymentRecord struct {
	HeaderID   int64
	MethodCode string
	Amount     decimal.Decimal
}

// MetadataField is a header column written after commit.
type MetadataField string

const (
	FieldAccountingDate MetadataField = "accounting_date"
	FieldCostCenter     MetadataField = "cost_center"
	FieldPostedAt       MetadataField = "posted_at"
	FieldObservation    MetadataField = "observation"
)

// Ledger is the set of ledger operations the engine needs.
// Lookups return (nil, nil) when nothing matches.
type Ledger interface {
	FindInvoice(ctx context.Context, naturalTag string) (*Existence, error)

	FindThirdParty(ctx context.Context, taxID string) (*ThirdParty, error)
	CreateThirdParty(ctx context.Context, tp *ThirdParty) error
	UpdateThirdPartyEmail(ctx context.Context, id int64, email string) error

	// InsertHeader sets h.ID. A silently dropped insert returns an error; the
	// engine treats any non-connection failure as a numbering conflict.
	InsertHeader(ctx context.Context, h *Header) error
	FindHeader(ctx context.Context, docType, prefix string, number int64) (*HeaderRef, error)

	FindMaterial(ctx context.Context, code string) (*Material, error)
	CreateMaterial(ctx context.Context, m *Material) error
	InsertLine(ctx context.Context, l *LineRecord) error
	InsertPayment(ctx context.Context, p *PaymentRecord) error
	RecalculateTotals(ctx context.Context, headerID int64) error

	UpdateMetadata(ctx context.Context, headerID int64, field MetadataField, value any) error
	NullMetadata(ctx context.Context, headerID int64, fields []MetadataField) ([]MetadataField, error)
}

// Connection is the part of the connection supervisor the engine uses.
type Connection interface {
	EnsureConnected(ctx context.Context) bool
	MarkUnhealthy(cause error)
	tx.SavepointManager
}

// Enrichment is the external third-party lookup used to classify new customers.
type Enrichment interface {
	Lookup(ctx context.Context, taxID string) (*EnrichedParty, error)
}

// EnrichedParty is an enrichment lookup result. Empty fields are unknown.
type EnrichedParty struct {
	Name   string
	Email  string
	IDType string
}

// Auditor stores the raw source document next to the header, inside the transaction.
type Auditor interface {
	Record(ctx context.Context, naturalTag string, headerID int64, raw []byte) error
}

// Observer receives posting outcomes and breaker transitions.
type Observer interface {
	ObservePost(code string, elapsed time.Duration)
	ObserveBreaker(tripped bool)
}
