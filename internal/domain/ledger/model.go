// Package ledger provides the per-branch/product aggregate stock record.
//
// For batch-tracked products the current stock is a materialized view over
// batch remaining quantities; it is recomputed inside the same transaction as
// any batch mutation, never lazily on read.
package ledger

import (
	"context"
	"time"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
)

// Status is the derived stock level classification.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
)

// StockRecord is the aggregate stock count for one product at one branch.
type StockRecord struct {
	ID id.ID `db:"id" json:"id"`

	BranchID  id.ID `db:"branch_id" json:"branchId"`
	ProductID id.ID `db:"product_id" json:"productId"`

	CurrentStock types.Quantity `db:"current_stock" json:"currentStock"`

	MinStock types.Quantity `db:"min_stock" json:"minStock"`
	MaxStock types.Quantity `db:"max_stock" json:"maxStock"`

	UnitCost types.Money `db:"unit_cost" json:"unitCost"`

	Status Status `db:"status" json:"status"`

	LastUpdated   time.Time  `db:"last_updated" json:"lastUpdated"`
	LastRestocked *time.Time `db:"last_restocked" json:"lastRestocked,omitempty"`
}

// NewStockRecord creates a record for a product's first delivery to a branch.
func NewStockRecord(branchID, productID id.ID, initial types.Quantity) *StockRecord {
	r := &StockRecord{
		ID:           id.New(),
		BranchID:     branchID,
		ProductID:    productID,
		CurrentStock: initial,
		LastUpdated:  time.Now().UTC(),
	}
	r.RecomputeStatus()
	return r
}

// Validate implements basic invariant checks.
func (r *StockRecord) Validate(ctx context.Context) error {
	if id.IsNil(r.BranchID) {
		return apperror.NewValidation("branch is required").WithDetail("field", "branchId")
	}
	if id.IsNil(r.ProductID) {
		return apperror.NewValidation("product is required").WithDetail("field", "productId")
	}
	if r.CurrentStock.IsNegative() {
		return apperror.NewValidation("current stock cannot be negative").
			WithDetail("field", "currentStock")
	}
	return nil
}

// RecomputeStatus derives the status from current stock vs min stock.
// Called after every mutation, inside the mutating transaction.
func (r *StockRecord) RecomputeStatus() {
	switch {
	case r.CurrentStock.IsZero():
		r.Status = StatusOutOfStock
	case r.CurrentStock <= r.MinStock:
		r.Status = StatusLowStock
	default:
		r.Status = StatusInStock
	}
}

// Add increases stock and marks the restock time.
func (r *StockRecord) Add(qty types.Quantity) {
	now := time.Now().UTC()
	r.CurrentStock += qty
	r.LastUpdated = now
	r.LastRestocked = &now
	r.RecomputeStatus()
}

// Reduce decreases stock, flooring at zero. Returns the quantity actually
// removed, which may be less than requested.
func (r *StockRecord) Reduce(qty types.Quantity) types.Quantity {
	removed := qty.Min(r.CurrentStock)
	r.CurrentStock -= removed
	r.LastUpdated = time.Now().UTC()
	r.RecomputeStatus()
	return removed
}

// Stats aggregates inventory figures for one branch.
type Stats struct {
	BranchID       id.ID          `json:"branchId"`
	TotalProducts  int64          `json:"totalProducts"`
	TotalStock     types.Quantity `json:"totalStock"`
	LowStockCount  int64          `json:"lowStockCount"`
	OutOfStockCount int64         `json:"outOfStockCount"`
	InventoryValue types.Money    `json:"inventoryValue"`
}
