package returns

import (
	"context"
	"fmt"
	"time"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/tx"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/activity"
	"stocklot/internal/domain/batch"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
	"stocklot/pkg/logger"
	"stocklot/pkg/numerator"
)

// Service coordinates transfer returns: units leave the destination-branch
// transfer batch and re-enter the source branch via one of three arms.
type Service struct {
	batches   batch.Repository
	stocks    ledger.Repository
	movements movement.Repository
	txManager tx.Manager
	numerator *numerator.Service
	activity  activity.Sink
}

// NewService creates a new return coordinator.
func NewService(
	batches batch.Repository,
	stocks ledger.Repository,
	movements movement.Repository,
	txManager tx.Manager,
	num *numerator.Service,
	sink activity.Sink,
) *Service {
	return &Service{
		batches:   batches,
		stocks:    stocks,
		movements: movements,
		txManager: txManager,
		numerator: num,
		activity:  sink,
	}
}

// Params describes one return request.
type Params struct {
	// TransferBatchID is the destination-branch batch the units came from.
	TransferBatchID id.ID

	// SourceBranchID is the branch the units go back to. Required when the
	// original batch cannot resolve it.
	SourceBranchID id.ID

	// ProductID is the product identity being returned. Zero means "same
	// product as the transfer batch"; a differing value books the return as
	// a substitute product.
	ProductID id.ID

	Quantity   types.Quantity
	Reason     string
	ReturnedBy string

	// UnitCost prices substitute batches. Ignored for the other arms, which
	// inherit cost from the transfer or original batch.
	UnitCost types.Money
}

// Result reports a committed return.
type Result struct {
	Arm Arm `json:"arm"`

	// ReturnedQuantity is the committed amount, clamped to what the transfer
	// batch still held.
	ReturnedQuantity types.Quantity `json:"returnedQuantity"`

	// RestoredBatchID is set for RestoreOriginal.
	RestoredBatchID *id.ID `json:"restoredBatchId,omitempty"`

	// CreatedBatch is set for the two batch-creating arms.
	CreatedBatch *batch.Batch `json:"createdBatch,omitempty"`

	MovementID id.ID `json:"movementId"`

	// ReconciliationWarning is set when a source-branch stock record was
	// missing and the ledger restock was skipped.
	ReconciliationWarning bool `json:"reconciliationWarning,omitempty"`
}

// ReturnStock commits a transfer return in one atomic transaction.
//
// The requested quantity is clamped to the transfer batch's remaining units;
// asking for more than remains returns the whole remainder rather than
// failing. Only transfer-sourced batches can be returned.
func (s *Service) ReturnStock(ctx context.Context, p Params) (*Result, error) {
	if !p.Quantity.IsPositive() {
		return nil, apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", p.Quantity.Float64())
	}
	if id.IsNil(p.TransferBatchID) {
		return nil, apperror.NewValidation("transfer batch id is required")
	}

	var result *Result
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.returnLocked(ctx, p)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "transfer stock returned",
		"transfer_batch_id", p.TransferBatchID,
		"arm", string(result.Arm),
		"quantity", result.ReturnedQuantity,
	)

	activity.BestEffort(ctx, s.activity, activity.Entry{
		Action:   activity.ActionStockReturned,
		BranchID: p.SourceBranchID,
		EntityID: result.MovementID,
		Actor:    p.ReturnedBy,
		Changes: map[string]any{
			"transfer_batch_id": p.TransferBatchID.String(),
			"arm":               string(result.Arm),
			"quantity":          result.ReturnedQuantity.Float64(),
			"reason":            p.Reason,
		},
	})

	return result, nil
}

func (s *Service) returnLocked(ctx context.Context, p Params) (*Result, error) {
	transfer, err := s.batches.GetByIDForUpdate(ctx, p.TransferBatchID)
	if err != nil {
		return nil, err
	}
	if transfer.SourceType != batch.SourceTransfer {
		return nil, apperror.NewConflict("only transfer-sourced batches can be returned").
			WithDetail("batch_id", transfer.ID.String()).
			WithDetail("source_type", string(transfer.SourceType))
	}
	if !transfer.RemainingQuantity.IsPositive() {
		return nil, apperror.NewConflict("transfer batch has no remaining units").
			WithDetail("batch_id", transfer.ID.String())
	}

	qty := p.Quantity.Min(transfer.RemainingQuantity)
	if qty < p.Quantity {
		logger.Warn(ctx, "return quantity clamped to transfer batch remainder",
			"transfer_batch_id", transfer.ID,
			"requested", p.Quantity,
			"clamped", qty,
		)
	}

	// Resolve the original batch while holding the transfer batch lock.
	// Lock ordering is destination batch first, then source batch.
	var original *batch.Batch
	if transfer.OriginalBatchID != nil {
		original, err = s.batches.GetByIDForUpdate(ctx, *transfer.OriginalBatchID)
		if err != nil && !apperror.IsNotFound(err) {
			return nil, fmt.Errorf("lock original batch: %w", err)
		}
	}

	c := Classify(transfer, p.ProductID, original, time.Now().UTC())

	sourceBranchID := p.SourceBranchID
	switch {
	case c.Arm == RestoreOriginal:
		sourceBranchID = c.Original.BranchID
	case id.IsNil(sourceBranchID) && original != nil && original.ProductID == transfer.ProductID:
		// A located but non-restorable original still pins the source branch.
		sourceBranchID = original.BranchID
	}
	if id.IsNil(sourceBranchID) {
		return nil, apperror.NewValidation("source branch id is required when the original batch is not traceable")
	}

	// Units leave the destination transfer batch.
	transfer.Consume(qty)
	if err := s.batches.UpdateQuantities(ctx, transfer); err != nil {
		return nil, fmt.Errorf("update transfer batch: %w", err)
	}
	if err := s.batches.AdjustEntryStock(ctx, transfer.ID, qty.Neg()); err != nil {
		return nil, fmt.Errorf("update transfer stock entry: %w", err)
	}

	result := &Result{Arm: c.Arm, ReturnedQuantity: qty}

	switch c.Arm {
	case RestoreOriginal:
		c.Original.Restore(qty)
		if err := s.batches.UpdateQuantities(ctx, c.Original); err != nil {
			return nil, fmt.Errorf("restore original batch: %w", err)
		}
		if err := s.batches.AdjustEntryStock(ctx, c.Original.ID, qty); err != nil {
			return nil, fmt.Errorf("update original stock entry: %w", err)
		}
		restoredID := c.Original.ID
		result.RestoredBatchID = &restoredID

	case CreateReturnBatch:
		b, err := s.createReturnBatch(ctx, transfer, sourceBranchID, batch.SourceReturn, transfer.ProductID, qty, p)
		if err != nil {
			return nil, err
		}
		b.UnitCost = transfer.UnitCost
		b.ExpirationDate = transfer.ExpirationDate
		b.OriginalBatchNumber = originalReference(transfer)
		if err := s.persistBatch(ctx, b); err != nil {
			return nil, err
		}
		result.CreatedBatch = b

	case CreateSubstituteBatch:
		b, err := s.createReturnBatch(ctx, transfer, sourceBranchID, batch.SourceReturnNew, c.ProductID, qty, p)
		if err != nil {
			return nil, err
		}
		b.UnitCost = p.UnitCost
		if err := s.persistBatch(ctx, b); err != nil {
			return nil, err
		}
		result.CreatedBatch = b
	}

	// Destination branch loses the units.
	outPrev, outNext, _, err := s.adjustLedger(ctx, transfer.BranchID, transfer.ProductID, qty.Neg())
	if err != nil {
		return nil, err
	}

	out := movement.NewRecord(
		transfer.BranchID, transfer.ProductID,
		movement.TypeStockOut,
		qty, outPrev, outNext,
		p.Reason, p.ReturnedBy,
	)
	if err := s.movements.Create(ctx, out); err != nil {
		return nil, fmt.Errorf("append outbound movement: %w", err)
	}

	// Source branch regains them under the classified product identity.
	inPrev, inNext, warned, err := s.adjustLedger(ctx, sourceBranchID, c.ProductID, qty)
	if err != nil {
		return nil, err
	}
	result.ReconciliationWarning = warned

	in := movement.NewRecord(
		sourceBranchID, c.ProductID,
		movement.TypeStockIn,
		qty, inPrev, inNext,
		p.Reason, p.ReturnedBy,
	)
	if err := s.movements.Create(ctx, in); err != nil {
		return nil, fmt.Errorf("append inbound movement: %w", err)
	}
	result.MovementID = in.ID

	return result, nil
}

func (s *Service) createReturnBatch(ctx context.Context, transfer *batch.Batch, branchID id.ID, sourceType batch.SourceType, productID id.ID, qty types.Quantity, p Params) (*batch.Batch, error) {
	number, err := s.numerator.NextBatchNumber(ctx, "RET-"+originalReference(transfer))
	if err != nil {
		return nil, fmt.Errorf("batch number: %w", err)
	}

	b := batch.New(productID, branchID, sourceType, qty, transfer.UsageType)
	b.BatchNumber = number
	b.ReceivedBy = p.ReturnedBy
	return b, nil
}

func (s *Service) persistBatch(ctx context.Context, b *batch.Batch) error {
	if err := b.Validate(ctx); err != nil {
		return err
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return fmt.Errorf("create return batch: %w", err)
	}
	if err := s.batches.CreateEntry(ctx, batch.NewStockEntry(b)); err != nil {
		return fmt.Errorf("create return stock entry: %w", err)
	}
	return nil
}

// adjustLedger moves the aggregate stock record by delta. A missing record is
// a reconciliation gap: logged and flagged, never fatal.
func (s *Service) adjustLedger(ctx context.Context, branchID, productID id.ID, delta types.Quantity) (previous, next types.Quantity, warned bool, err error) {
	record, err := s.stocks.GetByBranchProductForUpdate(ctx, branchID, productID)
	switch {
	case err == nil:
		previous = record.CurrentStock
		if delta.IsNegative() {
			record.Reduce(delta.Abs())
		} else {
			record.Add(delta)
		}
		next = record.CurrentStock
		if err := s.stocks.Update(ctx, record); err != nil {
			return 0, 0, false, fmt.Errorf("update stock record: %w", err)
		}
		return previous, next, false, nil
	case apperror.IsNotFound(err):
		logger.Warn(ctx, "stock record missing during return",
			"branch_id", branchID,
			"product_id", productID,
		)
		return 0, 0, true, nil
	default:
		return 0, 0, false, fmt.Errorf("get stock record: %w", err)
	}
}

// originalReference is the best traceable identifier of the source batch.
func originalReference(transfer *batch.Batch) string {
	if transfer.OriginalBatchNumber != "" {
		return transfer.OriginalBatchNumber
	}
	return transfer.BatchNumber
}
