package invoice

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/core/apperror"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validInvoice() Invoice {
	return Invoice{
		Identity: Identity{Prefix: "FV", Number: "1042"},
		IssuedAt: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		Customer: Customer{TaxID: "222222222222"},
		Lines: []Line{
			{Code: "CAFE", Name: "Cafe", Quantity: d("2"), UnitPrice: d("5000"), TaxCode: "INC", TaxRate: d("8")},
		},
		Payments: []Payment{{MethodCode: "EF", Amount: d("10800")}},
	}
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "FV-1042", Identity{Prefix: "FV", Number: "1042"}.Key())
}

func TestNormalize(t *testing.T) {
	inv := validInvoice()
	inv.Identity.Prefix = " fv "
	inv.Customer.TaxID = "900.123.456-8"
	inv.Customer.Email = " Buyer@Example.COM "
	inv.Payments[0].MethodCode = " ef"
	inv.Lines[0].TaxCode = "inc"

	inv.Normalize()

	assert.Equal(t, "FV", inv.Identity.Prefix)
	assert.Equal(t, "900123456", inv.Customer.TaxID)
	assert.Equal(t, "buyer@example.com", inv.Customer.Email)
	assert.Equal(t, "EF", inv.Payments[0].MethodCode)
	assert.Equal(t, "INC", inv.Lines[0].TaxCode)
}

func TestValidate_OK(t *testing.T) {
	inv := validInvoice()
	require.NoError(t, inv.Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *Invoice)
		field  string
	}{
		{"missing prefix", func(inv *Invoice) { inv.Identity.Prefix = "" }, "Invoice.Identity.Prefix"},
		{"non numeric number", func(inv *Invoice) { inv.Identity.Number = "10A" }, "Invoice.Identity.Number"},
		{"no lines", func(inv *Invoice) { inv.Lines = nil }, "Invoice.Lines"},
		{"zero quantity", func(inv *Invoice) { inv.Lines[0].Quantity = decimal.Zero }, "Invoice.Lines[0].Quantity"},
		{"discount above gross", func(inv *Invoice) { inv.Lines[0].Discount = d("20000") }, "Invoice.Lines[0].Discount"},
		{"bad email", func(inv *Invoice) { inv.Customer.Email = "nope" }, "Invoice.Customer.Email"},
		{"zero payment", func(inv *Invoice) { inv.Payments[0].Amount = decimal.Zero }, "Invoice.Payments[0].Amount"},
		{"missing date", func(inv *Invoice) { inv.IssuedAt = time.Time{} }, "Invoice.IssuedAt"},
		{"negative tip", func(inv *Invoice) { tip := d("-1"); inv.Tip = &tip }, "Invoice.Tip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := validInvoice()
			tt.mutate(&inv)

			err := inv.Validate()
			require.Error(t, err)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
			fields := appErr.Details["fields"].(map[string]string)
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestTotals(t *testing.T) {
	inv := validInvoice()
	tip := d("1000")
	inv.Tip = &tip

	assert.True(t, inv.Lines[0].Base().Equal(d("10000")))
	assert.True(t, inv.Lines[0].Tax().Equal(d("800")))
	assert.True(t, inv.Total().Equal(d("11800")))
	assert.True(t, inv.PaymentsTotal().Equal(d("10800")))
	assert.True(t, inv.HasTip())
	assert.True(t, inv.Anonymous("222222222222"))
}
