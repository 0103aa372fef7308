// Package invoice defines the normalized point-of-sale invoice handed to the posting engine.
package invoice

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerbridge/internal/core/types"
)

// Identity names a POS invoice before it is posted.
type Identity struct {
	Prefix string `json:"prefix" validate:"required,alphanum,max=10"`
	Number string `json:"number" validate:"required,numeric,max=20"`
}

// Key is the identity key and the ledger natural tag: prefix + "-" + number.
func (id Identity) Key() string {
	return id.Prefix + "-" + id.Number
}

func (id Identity) String() string {
	return id.Key()
}

// Normalized returns id with the prefix upper-cased and both parts trimmed.
func (id Identity) Normalized() Identity {
	return Identity{
		Prefix: strings.ToUpper(strings.TrimSpace(id.Prefix)),
		Number: strings.TrimSpace(id.Number),
	}
}

// Customer is the buyer. An empty TaxID means an anonymous sale.
type Customer struct {
	TaxID string `json:"tax_id,omitempty" validate:"omitempty,max=20"`
	Name  string `json:"name,omitempty" validate:"max=120"`
	Email string `json:"email,omitempty" validate:"omitempty,email,max=120"`
}

// Line is one sold item.
type Line struct {
	Code      string          `json:"code" validate:"required,max=30"`
	Name      string          `json:"name" validate:"max=120"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	TaxCode   string          `json:"tax_code,omitempty" validate:"max=10"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
}

// Base is quantity * unit price - discount.
func (l Line) Base() types.Money {
	return types.LineBase(l.Quantity, l.UnitPrice, l.Discount)
}

// Tax is Base * TaxRate / 100.
func (l Line) Tax() types.Money {
	return types.PercentOf(l.Base(), l.TaxRate)
}

// Payment is one tender used to pay the invoice.
type Payment struct {
	MethodCode string          `json:"method_code" validate:"required,max=10"`
	Amount     decimal.Decimal `json:"amount"`
}

// Invoice is the normalized POS payload.
type Invoice struct {
	Identity Identity  `json:"identity"`
	IssuedAt time.Time `json:"issued_at"`
	Customer Customer  `json:"customer"`
	Lines    []Line    `json:"lines" validate:"required,min=1,dive"`
	Payments []Payment `json:"payments" validate:"dive"`
	// Tip is optional; nil or zero means no tip.
	Tip *decimal.Decimal `json:"tip,omitempty"`
	// RawDetail is the untouched source document, kept for audit.
	RawDetail json.RawMessage `json:"raw_detail,omitempty"`
}

// HasTip reports whether a positive tip is present.
func (inv *Invoice) HasTip() bool {
	return inv.Tip != nil && inv.Tip.IsPositive()
}

// Anonymous reports whether the sale has no identified customer or uses genericTaxID.
func (inv *Invoice) Anonymous(genericTaxID string) bool {
	return inv.Customer.TaxID == "" || inv.Customer.TaxID == genericTaxID
}

// Total is the sum of line bases, line taxes and the tip.
func (inv *Invoice) Total() types.Money {
	total := decimal.Zero
	for _, l := range inv.Lines {
		total = total.Add(l.Base()).Add(l.Tax())
	}
	if inv.HasTip() {
		total = total.Add(*inv.Tip)
	}
	return total
}

// PaymentsTotal sums all payment amounts.
func (inv *Invoice) PaymentsTotal() types.Money {
	total := decimal.Zero
	for _, p := range inv.Payments {
		total = total.Add(p.Amount)
	}
	return total
}
