package batch

import (
	"context"
	"time"

	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
)

// Repository defines persistence operations for batches and their shadow
// stock entries. Implementations resolve the querier from the transaction in
// context, so all methods participate in the caller's transaction.
type Repository interface {
	Create(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, batchID id.ID) (*Batch, error)

	// GetByIDForUpdate locks the batch row for the duration of the
	// transaction. Must be called within one.
	GetByIDForUpdate(ctx context.Context, batchID id.ID) (*Batch, error)

	// GetAllocatable returns active, non-depleted batches of the product in
	// the given usage pool, excluding batches past their expiration date as
	// of asOf (lazy expiry).
	GetAllocatable(ctx context.Context, branchID, productID id.ID, usageType UsageType, asOf time.Time) ([]Batch, error)

	// GetAllocatableForUpdate is GetAllocatable with row locks; used by the
	// deduction engine to re-validate remaining quantities at commit time.
	GetAllocatableForUpdate(ctx context.Context, branchID, productID id.ID, usageType UsageType, asOf time.Time) ([]Batch, error)

	// UpdateQuantities persists remaining quantity and status after a
	// consume/restore.
	UpdateQuantities(ctx context.Context, b *Batch) error

	ListByProduct(ctx context.Context, branchID, productID id.ID) ([]Batch, error)
	ListByBranch(ctx context.Context, branchID id.ID, filter ListFilter) ([]Batch, error)

	// ListExpiring returns active batches expiring on or before the cutoff
	// date but not yet expired as of today.
	ListExpiring(ctx context.Context, branchID id.ID, cutoff time.Time) ([]Batch, error)

	// ListExpired returns batches already past expiration as of the given
	// day, whether or not the sweeper has transitioned them yet.
	ListExpired(ctx context.Context, branchID id.ID, asOf time.Time) ([]Batch, error)

	// MarkExpired transitions active batches whose expiration date is
	// strictly before the given day to expired status and returns how many
	// rows changed. Remaining quantities are untouched.
	MarkExpired(ctx context.Context, branchID id.ID, day time.Time) (int64, error)

	// --- Shadow stock entries ---

	CreateEntry(ctx context.Context, e *StockEntry) error
	GetEntry(ctx context.Context, batchID id.ID) (*StockEntry, error)

	// AdjustEntryStock applies a delta to real_time_stock. Positive delta
	// restores, negative deducts.
	AdjustEntryStock(ctx context.Context, batchID id.ID, delta types.Quantity) error

	// SaveCount stores a manual count result on the entry.
	SaveCount(ctx context.Context, e *StockEntry) error
}

// ListFilter narrows branch batch listings.
type ListFilter struct {
	ProductID *id.ID
	Status    *Status
	UsageType *UsageType

	// ActiveOnly excludes depleted and expired batches, applying lazy
	// expiry as of today.
	ActiveOnly bool

	Limit  int
	Offset int
}
