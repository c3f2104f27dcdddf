// Package batch provides the batch catalog: discrete, expiration-aware stock
// lots created from deliveries and inter-branch transfers.
package batch

import (
	"context"
	"time"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
)

// SourceType identifies how a batch entered the branch.
type SourceType string

const (
	// SourcePurchase - received from a purchase order delivery
	SourcePurchase SourceType = "purchase"
	// SourceTransfer - received from another branch
	SourceTransfer SourceType = "transfer"
	// SourceReturn - recreated at the source branch from a returned transfer
	SourceReturn SourceType = "return"
	// SourceReturnNew - return accepted as a substitute product
	SourceReturnNew SourceType = "return_new"
)

// UsageType partitions batches into disjoint allocation pools.
// A request tagged one way never draws from the other pool.
type UsageType string

const (
	// UsageOTC - over-the-counter retail stock
	UsageOTC UsageType = "otc"
	// UsageSalon - stock consumed internally during services
	UsageSalon UsageType = "salon_use"
)

// Valid reports whether the usage type is a known value.
func (u UsageType) Valid() bool {
	return u == UsageOTC || u == UsageSalon
}

// Status is the batch lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusDepleted Status = "depleted"
)

// Batch is a discrete lot of a product received via one delivery or transfer,
// tracked independently for expiration and remaining quantity.
type Batch struct {
	ID id.ID `db:"id" json:"id"`

	// BatchNumber is the human-readable identifier: {sourceId}-BATCH-{seq:03}
	BatchNumber string `db:"batch_number" json:"batchNumber"`

	ProductID id.ID `db:"product_id" json:"productId"`
	BranchID  id.ID `db:"branch_id" json:"branchId"`

	SourceType SourceType `db:"source_type" json:"sourceType"`

	// Originating document references. Exactly one is set depending on
	// source type; both may be empty for return-sourced batches.
	PurchaseOrderID  string `db:"purchase_order_id" json:"purchaseOrderId,omitempty"`
	SourceTransferID string `db:"source_transfer_id" json:"sourceTransferId,omitempty"`

	// Quantity is the received amount; immutable after creation.
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// RemainingQuantity is >= 0 and monotonically non-increasing, except
	// when a returned transfer restores units to the original batch.
	RemainingQuantity types.Quantity `db:"remaining_quantity" json:"remainingQuantity"`

	UnitCost types.Money `db:"unit_cost" json:"unitCost"`

	// ExpirationDate is nil for batches with unknown shelf life.
	ExpirationDate *time.Time `db:"expiration_date" json:"expirationDate,omitempty"`

	ReceivedDate time.Time `db:"received_date" json:"receivedDate"`
	ReceivedBy   string    `db:"received_by" json:"receivedBy,omitempty"`

	UsageType UsageType `db:"usage_type" json:"usageType"`
	Status    Status    `db:"status" json:"status"`

	// Back-reference to the source-branch batch for transfer-sourced lots.
	OriginalBatchID     *id.ID `db:"original_batch_id" json:"originalBatchId,omitempty"`
	OriginalBatchNumber string `db:"original_batch_number" json:"originalBatchNumber,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// New creates an active batch seeded at the received quantity.
func New(productID, branchID id.ID, sourceType SourceType, qty types.Quantity, usageType UsageType) *Batch {
	now := time.Now().UTC()
	return &Batch{
		ID:                id.New(),
		ProductID:         productID,
		BranchID:          branchID,
		SourceType:        sourceType,
		Quantity:          qty,
		RemainingQuantity: qty,
		UsageType:         usageType,
		Status:            StatusActive,
		ReceivedDate:      now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate implements basic invariant checks.
func (b *Batch) Validate(ctx context.Context) error {
	if id.IsNil(b.ProductID) {
		return apperror.NewValidation("product is required").WithDetail("field", "productId")
	}
	if id.IsNil(b.BranchID) {
		return apperror.NewValidation("branch is required").WithDetail("field", "branchId")
	}
	if !b.Quantity.IsPositive() {
		return apperror.NewValidation("quantity must be positive").WithDetail("field", "quantity")
	}
	if b.RemainingQuantity.IsNegative() {
		return apperror.NewValidation("remaining quantity cannot be negative").
			WithDetail("field", "remainingQuantity")
	}
	if !b.UsageType.Valid() {
		return apperror.NewValidation("unknown usage type").WithDetail("field", "usageType")
	}
	return nil
}

// IsExpiredAt reports whether the batch's expiration date is strictly before
// the given day (date-only comparison). Batches without an expiration date
// never expire.
//
// Read paths must use this even for Active batches, so a delayed sweep never
// produces stale results.
func (b *Batch) IsExpiredAt(day time.Time) bool {
	if b.ExpirationDate == nil {
		return false
	}
	exp := DateOnly(*b.ExpirationDate)
	return exp.Before(DateOnly(day))
}

// Allocatable reports whether the batch can serve an allocation at the given
// time: active, not past expiration, with units remaining.
func (b *Batch) Allocatable(now time.Time) bool {
	return b.Status == StatusActive && b.RemainingQuantity.IsPositive() && !b.IsExpiredAt(now)
}

// Consume reduces the remaining quantity and flips status to depleted when it
// reaches zero. The caller must have verified qty <= RemainingQuantity.
func (b *Batch) Consume(qty types.Quantity) {
	b.RemainingQuantity -= qty
	if b.RemainingQuantity.IsZero() {
		b.Status = StatusDepleted
	}
	b.UpdatedAt = time.Now().UTC()
}

// Restore adds returned units back and re-activates a depleted batch.
// Expired batches stay expired; restored units on them remain frozen.
func (b *Batch) Restore(qty types.Quantity) {
	b.RemainingQuantity += qty
	if b.Status == StatusDepleted {
		b.Status = StatusActive
	}
	b.UpdatedAt = time.Now().UTC()
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StockEntry is the shadow per-batch live-balance record used for periodic
// manual counts. RealTimeStock must equal Batch.RemainingQuantity immediately
// after any deduction; the deduction engine updates both in one transaction.
type StockEntry struct {
	BatchID     id.ID `db:"batch_id" json:"batchId"`
	ProductID   id.ID `db:"product_id" json:"productId"`
	BranchID    id.ID `db:"branch_id" json:"branchId"`

	RealTimeStock types.Quantity `db:"real_time_stock" json:"realTimeStock"`

	// Manual count bookkeeping.
	CountedStock  *types.Quantity `db:"counted_stock" json:"countedStock,omitempty"`
	CountVariance types.Quantity  `db:"count_variance" json:"countVariance"`
	LastCountedAt *time.Time      `db:"last_counted_at" json:"lastCountedAt,omitempty"`
	LastCountedBy string          `db:"last_counted_by" json:"lastCountedBy,omitempty"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewStockEntry creates the shadow record for a freshly created batch.
func NewStockEntry(b *Batch) *StockEntry {
	return &StockEntry{
		BatchID:       b.ID,
		ProductID:     b.ProductID,
		BranchID:      b.BranchID,
		RealTimeStock: b.RemainingQuantity,
		UpdatedAt:     time.Now().UTC(),
	}
}
