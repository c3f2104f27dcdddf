// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces, not on pgx, so the deduction
// and return flows can be tested with a pass-through manager.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
// Implementations handle BEGIN, COMMIT, ROLLBACK, and nested transaction
// support. The actual implementation lives in infrastructure/storage/postgres.
//
// Every multi-record inventory mutation (deduction, batch creation, return)
// runs inside RunInTransaction; a deduction that updates a batch but not the
// ledger is data corruption, not an edge case.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager extends Manager with read-only transaction support.
// Use for queries that don't modify data (better performance, no locks).
type ReadOnlyManager interface {
	Manager

	// ReadOnly executes fn in a read-only transaction.
	// Attempts to modify data will fail.
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
