package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/tx"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/activity"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
	"stocklot/pkg/logger"
	"stocklot/pkg/numerator"
)

// Service provides batch catalog operations: creation from deliveries and
// transfers, expiration sweeps, and manual count bookkeeping.
type Service struct {
	batches   Repository
	stocks    ledger.Repository
	movements movement.Repository
	txManager tx.Manager
	numerator *numerator.Service
	activity  activity.Sink
}

// NewService creates a new batch catalog service.
func NewService(
	batches Repository,
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

// DeliveryItem is one line of a received purchase order.
type DeliveryItem struct {
	ProductID      id.ID
	Quantity       types.Quantity
	UnitCost       types.Money
	ExpirationDate *time.Time
	UsageType      UsageType
}

// DeliveryJob creates batches for a received delivery.
type DeliveryJob struct {
	PurchaseOrderID string
	BranchID        id.ID
	ReceivedBy      string
	Items           []DeliveryItem
}

// SourceBatchLine is the per-source-batch breakdown of a transfer item.
type SourceBatchLine struct {
	BatchID        id.ID
	BatchNumber    string
	Quantity       types.Quantity
	UnitCost       types.Money
	ExpirationDate *time.Time
}

// TransferItem is one line of an inbound inter-branch transfer.
type TransferItem struct {
	ProductID id.ID
	Quantity  types.Quantity
	UnitCost  types.Money
	UsageType UsageType

	// SourceBatches carries the source-branch breakdown when the transfer
	// workflow recorded one. Empty for legacy transfers.
	SourceBatches []SourceBatchLine
}

// TransferJob creates destination-branch batches for an inbound transfer.
type TransferJob struct {
	SourceTransferID string
	BranchID         id.ID
	ReceivedBy       string
	Items            []TransferItem
}

// SkippedItem reports a malformed line that was skipped rather than failing
// the whole job.
type SkippedItem struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// CreateResult reports a completed creation job.
type CreateResult struct {
	Created []Batch       `json:"created"`
	Skipped []SkippedItem `json:"skipped,omitempty"`
}

// CreateFromDelivery creates one batch plus its shadow stock entry per valid
// delivered line item, restocks the branch ledger and appends stock-in
// movements, all in one transaction. Malformed lines are skipped
// individually.
func (s *Service) CreateFromDelivery(ctx context.Context, job DeliveryJob) (*CreateResult, error) {
	if job.PurchaseOrderID == "" {
		return nil, apperror.NewValidation("purchase order id is required")
	}
	if id.IsNil(job.BranchID) {
		return nil, apperror.NewValidation("branch is required")
	}

	result := &CreateResult{}
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var movements []movement.Record
		for i, item := range job.Items {
			if reason, ok := validateLine(item.ProductID, item.Quantity, item.UsageType); !ok {
				logger.Warn(ctx, "skipping malformed delivery line",
					"purchase_order_id", job.PurchaseOrderID,
					"line", i,
					"reason", reason,
				)
				result.Skipped = append(result.Skipped, SkippedItem{Index: i, Reason: reason})
				continue
			}

			number, err := s.numerator.NextBatchNumber(ctx, job.PurchaseOrderID)
			if err != nil {
				return fmt.Errorf("line %d: batch number: %w", i, err)
			}

			b := New(item.ProductID, job.BranchID, SourcePurchase, item.Quantity, item.UsageType)
			b.BatchNumber = number
			b.PurchaseOrderID = job.PurchaseOrderID
			b.UnitCost = item.UnitCost
			b.ExpirationDate = item.ExpirationDate
			b.ReceivedBy = job.ReceivedBy

			rec, err := s.createBatchRecords(ctx, b, job.ReceivedBy, "delivery "+job.PurchaseOrderID)
			if err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
			movements = append(movements, *rec)
			result.Created = append(result.Created, *b)
		}
		if err := s.movements.CreateMany(ctx, movements); err != nil {
			return fmt.Errorf("append movement records: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "batches created from delivery",
		"purchase_order_id", job.PurchaseOrderID,
		"branch_id", job.BranchID,
		"created", len(result.Created),
		"skipped", len(result.Skipped),
	)
	s.logCreation(ctx, job.BranchID, job.ReceivedBy, result)

	return result, nil
}

// CreateFromTransfer creates destination batches for an inbound transfer.
// With a per-source-batch breakdown each source batch gets its own linked
// destination batch inheriting expiration and unit cost; the legacy path
// creates a single batch with unknown expiration.
func (s *Service) CreateFromTransfer(ctx context.Context, job TransferJob) (*CreateResult, error) {
	if job.SourceTransferID == "" {
		return nil, apperror.NewValidation("source transfer id is required")
	}
	if id.IsNil(job.BranchID) {
		return nil, apperror.NewValidation("branch is required")
	}

	result := &CreateResult{}
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var movements []movement.Record
		for i, item := range job.Items {
			if reason, ok := validateLine(item.ProductID, item.Quantity, item.UsageType); !ok {
				logger.Warn(ctx, "skipping malformed transfer line",
					"source_transfer_id", job.SourceTransferID,
					"line", i,
					"reason", reason,
				)
				result.Skipped = append(result.Skipped, SkippedItem{Index: i, Reason: reason})
				continue
			}

			if len(item.SourceBatches) == 0 {
				// Legacy transfers carry no breakdown; expiration unknown.
				b, rec, err := s.createTransferBatch(ctx, job, item, item.Quantity, nil)
				if err != nil {
					return fmt.Errorf("line %d: %w", i, err)
				}
				movements = append(movements, *rec)
				result.Created = append(result.Created, *b)
				continue
			}

			for j := range item.SourceBatches {
				src := item.SourceBatches[j]
				if !src.Quantity.IsPositive() {
					result.Skipped = append(result.Skipped, SkippedItem{
						Index:  i,
						Reason: fmt.Sprintf("source batch %s: non-positive quantity", src.BatchNumber),
					})
					continue
				}
				b, rec, err := s.createTransferBatch(ctx, job, item, src.Quantity, &src)
				if err != nil {
					return fmt.Errorf("line %d: %w", i, err)
				}
				movements = append(movements, *rec)
				result.Created = append(result.Created, *b)
			}
		}
		if err := s.movements.CreateMany(ctx, movements); err != nil {
			return fmt.Errorf("append movement records: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "batches created from transfer",
		"source_transfer_id", job.SourceTransferID,
		"branch_id", job.BranchID,
		"created", len(result.Created),
		"skipped", len(result.Skipped),
	)
	s.logCreation(ctx, job.BranchID, job.ReceivedBy, result)

	return result, nil
}

func (s *Service) createTransferBatch(ctx context.Context, job TransferJob, item TransferItem, qty types.Quantity, src *SourceBatchLine) (*Batch, *movement.Record, error) {
	number, err := s.numerator.NextBatchNumber(ctx, job.SourceTransferID)
	if err != nil {
		return nil, nil, fmt.Errorf("batch number: %w", err)
	}

	b := New(item.ProductID, job.BranchID, SourceTransfer, qty, item.UsageType)
	b.BatchNumber = number
	b.SourceTransferID = job.SourceTransferID
	b.UnitCost = item.UnitCost
	b.ReceivedBy = job.ReceivedBy

	if src != nil {
		srcID := src.BatchID
		b.OriginalBatchID = &srcID
		b.OriginalBatchNumber = src.BatchNumber
		b.ExpirationDate = src.ExpirationDate
		if !src.UnitCost.IsZero() {
			b.UnitCost = src.UnitCost
		}
	}

	rec, err := s.createBatchRecords(ctx, b, job.ReceivedBy, "transfer "+job.SourceTransferID)
	if err != nil {
		return nil, nil, err
	}
	return b, rec, nil
}

// createBatchRecords writes the batch, its shadow entry and the ledger
// restock, and returns the stock-in movement for the caller to bulk-append.
// Must run inside a transaction.
func (s *Service) createBatchRecords(ctx context.Context, b *Batch, actor, reason string) (*movement.Record, error) {
	if err := b.Validate(ctx); err != nil {
		return nil, err
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	if err := s.batches.CreateEntry(ctx, NewStockEntry(b)); err != nil {
		return nil, fmt.Errorf("create stock entry: %w", err)
	}

	var previous, next types.Quantity
	record, err := s.stocks.GetByBranchProductForUpdate(ctx, b.BranchID, b.ProductID)
	switch {
	case err == nil:
		previous = record.CurrentStock
		record.UnitCost = weightedAverageCost(record.CurrentStock, record.UnitCost, b.Quantity, b.UnitCost)
		record.Add(b.Quantity)
		next = record.CurrentStock
		if err := s.stocks.Update(ctx, record); err != nil {
			return nil, fmt.Errorf("update stock record: %w", err)
		}
	case apperror.IsNotFound(err):
		record = ledger.NewStockRecord(b.BranchID, b.ProductID, b.Quantity)
		record.UnitCost = b.UnitCost
		next = record.CurrentStock
		if err := s.stocks.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("create stock record: %w", err)
		}
	default:
		return nil, fmt.Errorf("get stock record: %w", err)
	}

	return movement.NewRecord(
		b.BranchID, b.ProductID,
		movement.TypeStockIn,
		b.Quantity, previous, next,
		reason, actor,
	), nil
}

// weightedAverageCost blends the existing ledger cost with the incoming
// batch cost: ((stock*cost) + (qty*newCost)) / (stock+qty).
func weightedAverageCost(stock types.Quantity, cost types.Money, qty types.Quantity, newCost types.Money) types.Money {
	total := stock + qty
	if !total.IsPositive() {
		return newCost
	}
	stockD := decimal.NewFromFloat(stock.Float64())
	qtyD := decimal.NewFromFloat(qty.Float64())
	num := stockD.Mul(cost).Add(qtyD.Mul(newCost))
	return num.Div(stockD.Add(qtyD))
}

func validateLine(productID id.ID, qty types.Quantity, usage UsageType) (string, bool) {
	switch {
	case id.IsNil(productID):
		return "missing product id", false
	case !qty.IsPositive():
		return "non-positive quantity", false
	case !usage.Valid():
		return "unknown usage type", false
	}
	return "", true
}

func (s *Service) logCreation(ctx context.Context, branchID id.ID, actor string, result *CreateResult) {
	for i := range result.Created {
		b := &result.Created[i]
		activity.BestEffort(ctx, s.activity, activity.Entry{
			Action:   activity.ActionBatchCreated,
			BranchID: branchID,
			EntityID: b.ID,
			Actor:    actor,
			Changes: map[string]any{
				"batch_number": b.BatchNumber,
				"product_id":   b.ProductID.String(),
				"quantity":     b.Quantity.Float64(),
				"source_type":  string(b.SourceType),
			},
		})
	}
}

// --- Queries ---

// GetBatch returns one batch by id.
func (s *Service) GetBatch(ctx context.Context, batchID id.ID) (*Batch, error) {
	return s.batches.GetByID(ctx, batchID)
}

// GetProductBatches lists all batches of a product at a branch.
func (s *Service) GetProductBatches(ctx context.Context, branchID, productID id.ID) ([]Batch, error) {
	return s.batches.ListByProduct(ctx, branchID, productID)
}

// GetBranchBatches lists batches at a branch with optional filtering.
func (s *Service) GetBranchBatches(ctx context.Context, branchID id.ID, filter ListFilter) ([]Batch, error) {
	return s.batches.ListByBranch(ctx, branchID, filter)
}

// GetExpiringBatches lists active batches expiring within daysAhead days.
func (s *Service) GetExpiringBatches(ctx context.Context, branchID id.ID, daysAhead int) ([]Batch, error) {
	if daysAhead < 0 {
		return nil, apperror.NewInvalidInput("daysAhead must not be negative").
			WithDetail("days_ahead", daysAhead)
	}
	cutoff := DateOnly(time.Now().UTC()).AddDate(0, 0, daysAhead)
	return s.batches.ListExpiring(ctx, branchID, cutoff)
}

// GetExpiredBatches lists batches past their expiration date, including
// Active ones the sweeper has not visited yet.
func (s *Service) GetExpiredBatches(ctx context.Context, branchID id.ID) ([]Batch, error) {
	return s.batches.ListExpired(ctx, branchID, time.Now().UTC())
}

// SweepExpired transitions active batches past their expiration date to
// expired. Date-only comparison, remaining quantities untouched, idempotent:
// a second sweep over an unchanged set transitions zero batches.
func (s *Service) SweepExpired(ctx context.Context, branchID id.ID) (int64, error) {
	today := DateOnly(time.Now().UTC())

	var count int64
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		n, err := s.batches.MarkExpired(ctx, branchID, today)
		if err != nil {
			return fmt.Errorf("mark expired: %w", err)
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		logger.Info(ctx, "expired batches transitioned",
			"branch_id", branchID,
			"count", count,
		)
		activity.BestEffort(ctx, s.activity, activity.Entry{
			Action:   activity.ActionBatchExpired,
			BranchID: branchID,
			Changes:  map[string]any{"count": count},
		})
	}

	return count, nil
}

// RecordCount stores a manual count against the batch's shadow entry and
// computes the variance against the live balance.
func (s *Service) RecordCount(ctx context.Context, batchID id.ID, counted types.Quantity, countedBy string) (*StockEntry, error) {
	if counted.IsNegative() {
		return nil, apperror.NewInvalidInput("counted stock cannot be negative").
			WithDetail("counted", counted.Float64())
	}

	var entry *StockEntry
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		e, err := s.batches.GetEntry(ctx, batchID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		c := counted
		e.CountedStock = &c
		e.CountVariance = counted - e.RealTimeStock
		e.LastCountedAt = &now
		e.LastCountedBy = countedBy
		e.UpdatedAt = now

		if err := s.batches.SaveCount(ctx, e); err != nil {
			return fmt.Errorf("save count: %w", err)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}
