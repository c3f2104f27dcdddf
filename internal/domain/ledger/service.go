package ledger

import (
	"context"
	"fmt"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/tx"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/activity"
	"stocklot/internal/domain/movement"
	"stocklot/pkg/logger"
)

// Service provides aggregate stock operations for non-batched adjustments and
// read queries. Batch-tracked flows mutate the ledger through their own
// services; this one covers direct corrections and reporting.
type Service struct {
	stocks    Repository
	movements movement.Repository
	txManager tx.Manager
	activity  activity.Sink
}

// NewService creates a new ledger service.
func NewService(stocks Repository, movements movement.Repository, txManager tx.Manager, sink activity.Sink) *Service {
	return &Service{
		stocks:    stocks,
		movements: movements,
		txManager: txManager,
		activity:  sink,
	}
}

// AdjustParams describes a direct stock adjustment.
type AdjustParams struct {
	BranchID   id.ID
	ProductID  id.ID
	Quantity   types.Quantity
	Reason     string
	AdjustedBy string
}

// AddStock increases the aggregate stock, creating the record on a product's
// first arrival at the branch. Appends a stock-in movement in the same
// transaction.
func (s *Service) AddStock(ctx context.Context, p AdjustParams) (*StockRecord, error) {
	if !p.Quantity.IsPositive() {
		return nil, apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", p.Quantity.Float64())
	}

	var result *StockRecord
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var previous types.Quantity

		record, err := s.stocks.GetByBranchProductForUpdate(ctx, p.BranchID, p.ProductID)
		switch {
		case err == nil:
			previous = record.CurrentStock
			record.Add(p.Quantity)
			if err := s.stocks.Update(ctx, record); err != nil {
				return fmt.Errorf("update stock record: %w", err)
			}
		case apperror.IsNotFound(err):
			record = NewStockRecord(p.BranchID, p.ProductID, p.Quantity)
			if err := s.stocks.Create(ctx, record); err != nil {
				return fmt.Errorf("create stock record: %w", err)
			}
		default:
			return fmt.Errorf("get stock record: %w", err)
		}

		rec := movement.NewRecord(
			p.BranchID, p.ProductID,
			movement.TypeStockIn,
			p.Quantity, previous, record.CurrentStock,
			p.Reason, p.AdjustedBy,
		)
		if err := s.movements.Create(ctx, rec); err != nil {
			return fmt.Errorf("append movement record: %w", err)
		}

		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAdjustment(ctx, p, "add")
	return result, nil
}

// ReduceStock decreases the aggregate stock, flooring at zero. Appends a
// stock-out movement recording what was actually removed.
func (s *Service) ReduceStock(ctx context.Context, p AdjustParams) (*StockRecord, error) {
	if !p.Quantity.IsPositive() {
		return nil, apperror.NewInvalidInput("quantity must be positive").
			WithDetail("quantity", p.Quantity.Float64())
	}

	var result *StockRecord
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		record, err := s.stocks.GetByBranchProductForUpdate(ctx, p.BranchID, p.ProductID)
		if err != nil {
			return err
		}

		previous := record.CurrentStock
		removed := record.Reduce(p.Quantity)
		if removed < p.Quantity {
			logger.Warn(ctx, "stock reduction floored at zero",
				"branch_id", p.BranchID,
				"product_id", p.ProductID,
				"requested", p.Quantity,
				"removed", removed,
			)
		}
		if err := s.stocks.Update(ctx, record); err != nil {
			return fmt.Errorf("update stock record: %w", err)
		}

		rec := movement.NewRecord(
			p.BranchID, p.ProductID,
			movement.TypeStockOut,
			removed, previous, record.CurrentStock,
			p.Reason, p.AdjustedBy,
		)
		if err := s.movements.Create(ctx, rec); err != nil {
			return fmt.Errorf("append movement record: %w", err)
		}

		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAdjustment(ctx, p, "reduce")
	return result, nil
}

// SettingsParams carries the editable stock record settings.
type SettingsParams struct {
	MinStock *types.Quantity
	MaxStock *types.Quantity
	UnitCost *types.Money
}

// UpdateSettings edits min/max thresholds and unit cost. Current stock is
// never writable through this path; the derived status is recomputed against
// the new thresholds.
func (s *Service) UpdateSettings(ctx context.Context, recordID id.ID, p SettingsParams) (*StockRecord, error) {
	var result *StockRecord
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		record, err := s.stocks.GetByID(ctx, recordID)
		if err != nil {
			return err
		}

		if p.MinStock != nil {
			if p.MinStock.IsNegative() {
				return apperror.NewInvalidInput("min stock cannot be negative")
			}
			record.MinStock = *p.MinStock
		}
		if p.MaxStock != nil {
			if p.MaxStock.IsNegative() {
				return apperror.NewInvalidInput("max stock cannot be negative")
			}
			record.MaxStock = *p.MaxStock
		}
		if p.UnitCost != nil {
			record.UnitCost = *p.UnitCost
		}
		record.RecomputeStatus()

		if err := s.stocks.Update(ctx, record); err != nil {
			return fmt.Errorf("update stock record: %w", err)
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetStock returns one stock record by id.
func (s *Service) GetStock(ctx context.Context, recordID id.ID) (*StockRecord, error) {
	return s.stocks.GetByID(ctx, recordID)
}

// GetBranchProductStock returns the stock record for one product at a branch.
func (s *Service) GetBranchProductStock(ctx context.Context, branchID, productID id.ID) (*StockRecord, error) {
	return s.stocks.GetByBranchProduct(ctx, branchID, productID)
}

// GetBranchStocks lists a branch's stock records with optional filtering.
func (s *Service) GetBranchStocks(ctx context.Context, branchID id.ID, filter ListFilter) ([]StockRecord, error) {
	return s.stocks.ListByBranch(ctx, branchID, filter)
}

// GetMovements returns a page of the branch movement history plus the total
// count matching the filter.
func (s *Service) GetMovements(ctx context.Context, branchID id.ID, filter movement.Filter) ([]movement.Record, int64, error) {
	records, err := s.movements.ListByBranch(ctx, branchID, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.movements.CountByBranch(ctx, branchID, filter)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// GetStats returns aggregate inventory figures for a branch.
func (s *Service) GetStats(ctx context.Context, branchID id.ID) (Stats, error) {
	return s.stocks.GetStats(ctx, branchID)
}

func (s *Service) logAdjustment(ctx context.Context, p AdjustParams, direction string) {
	activity.BestEffort(ctx, s.activity, activity.Entry{
		Action:   activity.ActionStockAdjusted,
		BranchID: p.BranchID,
		Actor:    p.AdjustedBy,
		Changes: map[string]any{
			"product_id": p.ProductID.String(),
			"quantity":   p.Quantity.Float64(),
			"direction":  direction,
			"reason":     p.Reason,
		},
	})
}
