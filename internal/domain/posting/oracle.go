package posting

import (
	"context"

	"ledgerbridge/internal/core/apperror"
	"ledgerbridge/internal/domain/invoice"
)

// Oracle answers whether the ledger already holds an invoice.
type Oracle struct {
	ledger Ledger
	conn   Connection
}

// NewOracle creates an Oracle.
func NewOracle(ledger Ledger, conn Connection) *Oracle {
	return &Oracle{ledger: ledger, conn: conn}
}

// Exists looks the identity up by its natural tag. It never writes.
//
// On failure it marks the connection unhealthy and returns Found=false with a
// non-nil error; that result is not evidence the invoice is absent.
func (o *Oracle) Exists(ctx context.Context, prefix, number string) (Existence, error) {
	return o.lookup(ctx, invoice.Identity{Prefix: prefix, Number: number})
}

func (o *Oracle) lookup(ctx context.Context, id invoice.Identity) (Existence, error) {
	found, err := o.ledger.FindInvoice(ctx, id.Key())
	if err != nil {
		o.conn.MarkUnhealthy(err)
		if apperror.IsAppError(err) {
			return Existence{}, err
		}
		return Existence{}, apperror.NewConnectionUnavailable(err).WithDetail("identity", id.Key())
	}
	if found == nil {
		return Existence{}, nil
	}
	found.Found = true
	return *found, nil
}
