package ledger

import (
	"context"

	"stocklot/internal/core/id"
)

// Repository defines persistence for stock records.
type Repository interface {
	Create(ctx context.Context, r *StockRecord) error
	GetByID(ctx context.Context, recordID id.ID) (*StockRecord, error)
	GetByBranchProduct(ctx context.Context, branchID, productID id.ID) (*StockRecord, error)

	// GetByBranchProductForUpdate locks the record row; must be called
	// within a transaction. Returns NotFound when no record exists yet.
	GetByBranchProductForUpdate(ctx context.Context, branchID, productID id.ID) (*StockRecord, error)

	Update(ctx context.Context, r *StockRecord) error

	ListByBranch(ctx context.Context, branchID id.ID, filter ListFilter) ([]StockRecord, error)
	GetStats(ctx context.Context, branchID id.ID) (Stats, error)
}

// ListFilter narrows branch stock listings.
type ListFilter struct {
	ProductIDs []id.ID
	Status     *Status

	// ExcludeZero drops out-of-stock records from listings.
	ExcludeZero bool

	Limit  int
	Offset int
}
