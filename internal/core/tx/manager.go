// Package tx declares the ledger transaction contract the posting engine is written against.
package tx

import (
	"context"
)

// Manager runs fn inside one ledger transaction carried by ctx.
// fn returning an error rolls everything back; a nested call joins the outer transaction.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SavepointManager additionally isolates one step, such as a header insert attempt
// with a candidate number. A failing step is rolled back to its savepoint and the
// surrounding transaction stays usable for the next candidate.
type SavepointManager interface {
	Manager

	RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error
}
