// Package movement provides the append-only audit trail of stock changes.
// Records are immutable: they are created once and never updated, so
// replaying them in creation order reproduces the ledger aggregate.
package movement

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
)

// Type is the movement direction.
type Type string

const (
	// TypeStockIn increases branch stock (delivery, transfer in, return)
	TypeStockIn Type = "stock_in"
	// TypeStockOut decreases branch stock (sale, salon use, transfer out)
	TypeStockOut Type = "stock_out"
)

// BatchDeduction is one batch's share of a FIFO deduction, embedded in the
// movement record as JSONB.
type BatchDeduction struct {
	BatchID     id.ID          `json:"batchId"`
	BatchNumber string         `json:"batchNumber"`
	Deducted    types.Quantity `json:"deducted"`
	Remaining   types.Quantity `json:"remaining"`
}

// Record is one immutable stock change entry.
type Record struct {
	ID id.ID `db:"id" json:"id"`

	BranchID  id.ID `db:"branch_id" json:"branchId"`
	ProductID id.ID `db:"product_id" json:"productId"`

	Type     Type           `db:"movement_type" json:"type"`
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// Before/after snapshot of the aggregate stock record.
	PreviousStock types.Quantity `db:"previous_stock" json:"previousStock"`
	NewStock      types.Quantity `db:"new_stock" json:"newStock"`

	// Reason is free text kept for audit only; domain decisions never parse
	// it.
	Reason string `db:"reason" json:"reason"`

	// BatchDeductions carries the per-batch breakdown for FIFO deductions;
	// empty for non-batched ledger mutations.
	BatchDeductions BatchDeductions `db:"batch_deductions" json:"batchDeductions,omitempty"`

	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// BatchDeductions is stored as a JSONB column.
type BatchDeductions []BatchDeduction

// Value implements driver.Valuer for JSONB storage.
func (d BatchDeductions) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (d *BatchDeductions) Scan(src any) error {
	if src == nil {
		*d = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("unsupported batch deductions type %T", src)
	}
}

// NewRecord creates a movement record with generated ID and timestamp.
func NewRecord(branchID, productID id.ID, typ Type, qty, previous, next types.Quantity, reason, createdBy string) *Record {
	return &Record{
		ID:            id.New(),
		BranchID:      branchID,
		ProductID:     productID,
		Type:          typ,
		Quantity:      qty,
		PreviousStock: previous,
		NewStock:      next,
		Reason:        reason,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now().UTC(),
	}
}

// SignedQuantity returns the quantity with direction applied.
func (r *Record) SignedQuantity() types.Quantity {
	if r.Type == TypeStockOut {
		return r.Quantity.Neg()
	}
	return r.Quantity
}
