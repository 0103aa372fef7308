package invoice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/pkg/nit"
)

var (
	validate   = validator.New()
	maxTaxRate = decimal.NewFromInt(100)
)

// Normalize trims and canonicalizes identifiers in place. It runs once at the boundary.
func (inv *Invoice) Normalize() {
	inv.Identity = inv.Identity.Normalized()

	inv.Customer.TaxID = nit.Normalize(inv.Customer.TaxID)
	inv.Customer.Name = strings.TrimSpace(inv.Customer.Name)
	inv.Customer.Email = strings.ToLower(strings.TrimSpace(inv.Customer.Email))

	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.Code = strings.TrimSpace(l.Code)
		l.Name = strings.TrimSpace(l.Name)
		l.TaxCode = strings.ToUpper(strings.TrimSpace(l.TaxCode))
	}
	for i := range inv.Payments {
		inv.Payments[i].MethodCode = strings.ToUpper(strings.TrimSpace(inv.Payments[i].MethodCode))
	}
}

// Validate checks structural and arithmetic rules. It returns a VALIDATION_ERROR
// whose details name each offending field.
func (inv *Invoice) Validate() error {
	fields := map[string]string{}

	if err := validate.Struct(inv); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperror.NewValidation("invalid invoice").WithCause(err)
		}
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
	}

	if inv.IssuedAt.IsZero() {
		fields["Invoice.IssuedAt"] = "required"
	}
	for i, l := range inv.Lines {
		path := fmt.Sprintf("Invoice.Lines[%d]", i)
		if !l.Quantity.IsPositive() {
			fields[path+".Quantity"] = "gt=0"
		}
		if l.UnitPrice.IsNegative() {
			fields[path+".UnitPrice"] = "gte=0"
		}
		if l.Discount.IsNegative() || l.Discount.GreaterThan(l.Quantity.Mul(l.UnitPrice)) {
			fields[path+".Discount"] = "range"
		}
		if l.TaxRate.IsNegative() || l.TaxRate.GreaterThan(maxTaxRate) {
			fields[path+".TaxRate"] = "range"
		}
	}
	for i, p := range inv.Payments {
		if !p.Amount.IsPositive() {
			fields[fmt.Sprintf("Invoice.Payments[%d].Amount", i)] = "gt=0"
		}
	}
	if inv.Tip != nil && inv.Tip.IsNegative() {
		fields["Invoice.Tip"] = "gte=0"
	}

	if len(fields) == 0 {
		return nil
	}
	return apperror.NewValidation("invalid invoice").
		WithDetail("identity", inv.Identity.Key()).
		WithDetail("fields", fields)
}
