// Package deduction commits FIFO allocation plans atomically across the
// batch catalog, the shadow stock entries, the stock ledger and the movement
// log.
package deduction

import (
	"context"
	"fmt"
	"time"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/tx"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/activity"
	"stocklot/internal/domain/allocation"
	"stocklot/internal/domain/batch"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
	"stocklot/pkg/logger"
)

// Service is the deduction engine.
type Service struct {
	batches   batch.Repository
	stocks    ledger.Repository
	movements movement.Repository
	txManager tx.Manager
	activity  activity.Sink
}

// NewService creates a new deduction engine.
func NewService(
	batches batch.Repository,
	stocks ledger.Repository,
	movements movement.Repository,
	txManager tx.Manager,
	sink activity.Sink,
) *Service {
	return &Service{
		batches:   batches,
		stocks:    stocks,
		movements: movements,
		txManager: txManager,
		activity:  sink,
	}
}

// Params describes one deduction request.
type Params struct {
	BranchID  id.ID
	ProductID id.ID
	Quantity  types.Quantity
	Reason    string
	UsageType batch.UsageType
	DeductedBy string

	// Plan is an optional advisory plan from a preview. It is validated for
	// shape but the commit always re-plans against row-locked batches, so a
	// stale preview can never over-deduct.
	Plan *allocation.Plan
}

// Result reports a committed deduction.
type Result struct {
	BatchesUsed []movement.BatchDeduction `json:"batchesUsed"`
	NewStock    types.Quantity            `json:"newStock"`
	MovementID  id.ID                     `json:"movementId"`

	// ReconciliationWarning is set when the aggregate stock record was
	// missing and the ledger update was skipped.
	ReconciliationWarning bool `json:"reconciliationWarning,omitempty"`
}

// Deduct commits a FIFO deduction in one atomic transaction.
//
// Inside the transaction the eligible batches are re-read with row locks and
// the plan is recomputed, so two deductions racing for the same batch
// serialize: the second sees the first one's writes and either gets a valid
// smaller plan or fails with InsufficientStock. Any shortfall aborts with
// zero writes.
func (s *Service) Deduct(ctx context.Context, p Params) (*Result, error) {
	if !p.Quantity.IsPositive() {
		return nil, apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", p.Quantity.Float64())
	}
	if !p.UsageType.Valid() {
		return nil, apperror.NewInvalidInput("unknown usage type").
			WithDetail("usage_type", string(p.UsageType))
	}
	if p.Plan != nil && p.Plan.Total != p.Quantity {
		return nil, apperror.NewInvalidInput("plan total does not match requested quantity").
			WithDetail("plan_total", p.Plan.Total.Float64()).
			WithDetail("requested", p.Quantity.Float64())
	}

	var result *Result
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.deductLocked(ctx, p)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock deducted",
		"branch_id", p.BranchID,
		"product_id", p.ProductID,
		"quantity", p.Quantity,
		"batches_used", len(result.BatchesUsed),
	)

	activity.BestEffort(ctx, s.activity, activity.Entry{
		Action:   activity.ActionStockDeducted,
		BranchID: p.BranchID,
		EntityID: result.MovementID,
		Actor:    p.DeductedBy,
		Changes: map[string]any{
			"product_id": p.ProductID.String(),
			"quantity":   p.Quantity.Float64(),
			"reason":     p.Reason,
		},
	})

	return result, nil
}

// deductLocked performs the multi-record commit. Must run inside a
// transaction.
func (s *Service) deductLocked(ctx context.Context, p Params) (*Result, error) {
	now := time.Now().UTC()

	locked, err := s.batches.GetAllocatableForUpdate(ctx, p.BranchID, p.ProductID, p.UsageType, now)
	if err != nil {
		return nil, fmt.Errorf("lock allocatable batches: %w", err)
	}
	if len(locked) == 0 {
		return nil, apperror.NewNoBatchesAvailable(p.ProductID.String(), string(p.UsageType))
	}

	allocation.SortFIFO(locked)
	plan, available := allocation.Greedy(locked, p.Quantity)
	if plan.Total < p.Quantity {
		return nil, apperror.NewInsufficientStock(p.ProductID.String(), p.Quantity.Float64(), available.Float64())
	}

	byID := make(map[id.ID]*batch.Batch, len(locked))
	for i := range locked {
		byID[locked[i].ID] = &locked[i]
	}

	deductions := make([]movement.BatchDeduction, 0, len(plan.Entries))
	for _, entry := range plan.Entries {
		b := byID[entry.BatchID]

		b.Consume(entry.Quantity)
		if err := s.batches.UpdateQuantities(ctx, b); err != nil {
			return nil, fmt.Errorf("update batch %s: %w", b.BatchNumber, err)
		}

		// Shadow entry moves by the identical delta in the same transaction.
		if err := s.batches.AdjustEntryStock(ctx, b.ID, entry.Quantity.Neg()); err != nil {
			return nil, fmt.Errorf("update batch stock entry %s: %w", b.BatchNumber, err)
		}

		deductions = append(deductions, movement.BatchDeduction{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Deducted:    entry.Quantity,
			Remaining:   b.RemainingQuantity,
		})
	}

	result := &Result{BatchesUsed: deductions}

	var previous, next types.Quantity
	record, err := s.stocks.GetByBranchProductForUpdate(ctx, p.BranchID, p.ProductID)
	switch {
	case err == nil:
		previous = record.CurrentStock
		record.Reduce(p.Quantity)
		next = record.CurrentStock
		if err := s.stocks.Update(ctx, record); err != nil {
			return nil, fmt.Errorf("update stock record: %w", err)
		}
		result.NewStock = next
	case apperror.IsNotFound(err):
		// A missing ledger row is a reconciliation gap, not a reason to
		// lose the deduction.
		logger.Warn(ctx, "stock record missing during deduction",
			"branch_id", p.BranchID,
			"product_id", p.ProductID,
		)
		result.ReconciliationWarning = true
	default:
		return nil, fmt.Errorf("get stock record: %w", err)
	}

	rec := movement.NewRecord(
		p.BranchID, p.ProductID,
		movement.TypeStockOut,
		p.Quantity, previous, next,
		p.Reason, p.DeductedBy,
	)
	rec.BatchDeductions = deductions
	if err := s.movements.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("append movement record: %w", err)
	}
	result.MovementID = rec.ID

	return result, nil
}
