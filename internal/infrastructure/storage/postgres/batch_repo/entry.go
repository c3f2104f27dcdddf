package batch_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/batch"
)

var entryColumns = []string{
	"batch_id", "product_id", "branch_id",
	"real_time_stock",
	"counted_stock", "count_variance", "last_counted_at", "last_counted_by",
	"updated_at",
}

// CreateEntry inserts the shadow stock entry for a new batch.
func (r *Repo) CreateEntry(ctx context.Context, e *batch.StockEntry) error {
	q := r.builder.Insert(entriesTable).
		Columns(entryColumns...).
		Values(
			e.BatchID, e.ProductID, e.BranchID,
			e.RealTimeStock,
			e.CountedStock, e.CountVariance, e.LastCountedAt, e.LastCountedBy,
			e.UpdatedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("stock entry", "batch_id", e.BatchID.String())
		}
		return fmt.Errorf("insert stock entry: %w", err)
	}
	return nil
}

// GetEntry returns the shadow entry for a batch.
func (r *Repo) GetEntry(ctx context.Context, batchID id.ID) (*batch.StockEntry, error) {
	q := r.builder.Select(entryColumns...).
		From(entriesTable).
		Where(squirrel.Eq{"batch_id": batchID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var e batch.StockEntry
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &e, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock entry", batchID)
		}
		return nil, fmt.Errorf("get stock entry: %w", err)
	}
	return &e, nil
}

// AdjustEntryStock applies a delta to real_time_stock in one statement, so
// the shadow balance moves atomically with the batch remaining quantity.
func (r *Repo) AdjustEntryStock(ctx context.Context, batchID id.ID, delta types.Quantity) error {
	sql := fmt.Sprintf(`
		UPDATE %s
		SET real_time_stock = real_time_stock + $2,
		    updated_at = $3
		WHERE batch_id = $1
	`, entriesTable)

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, batchID, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adjust entry stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock entry", batchID)
	}
	return nil
}

// SaveCount stores the manual count fields on the entry.
func (r *Repo) SaveCount(ctx context.Context, e *batch.StockEntry) error {
	q := r.builder.Update(entriesTable).
		Set("counted_stock", e.CountedStock).
		Set("count_variance", e.CountVariance).
		Set("last_counted_at", e.LastCountedAt).
		Set("last_counted_by", e.LastCountedBy).
		Set("updated_at", e.UpdatedAt).
		Where(squirrel.Eq{"batch_id": e.BatchID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("save count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock entry", e.BatchID)
	}
	return nil
}
