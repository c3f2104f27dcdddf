// Package ledger_repo provides the PostgreSQL implementation of the stock
// ledger repository.
package ledger_repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/infrastructure/storage/postgres"
)

const stockRecordsTable = "stock_records"

var stockColumns = []string{
	"id", "branch_id", "product_id",
	"current_stock", "min_stock", "max_stock",
	"unit_cost", "status",
	"last_updated", "last_restocked",
}

// Repo implements ledger.Repository.
type Repo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ ledger.Repository = (*Repo)(nil)

// New creates a new stock ledger repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a stock record. One record per branch/product pair.
func (r *Repo) Create(ctx context.Context, rec *ledger.StockRecord) error {
	q := r.builder.Insert(stockRecordsTable).
		Columns(stockColumns...).
		Values(
			rec.ID, rec.BranchID, rec.ProductID,
			rec.CurrentStock, rec.MinStock, rec.MaxStock,
			rec.UnitCost, rec.Status,
			rec.LastUpdated, rec.LastRestocked,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.NewDuplicate("stock record", "branch_id/product_id",
				rec.BranchID.String()+"/"+rec.ProductID.String())
		}
		return fmt.Errorf("insert stock record: %w", err)
	}
	return nil
}

// GetByID returns one stock record.
func (r *Repo) GetByID(ctx context.Context, recordID id.ID) (*ledger.StockRecord, error) {
	q := r.builder.Select(stockColumns...).
		From(stockRecordsTable).
		Where(squirrel.Eq{"id": recordID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rec ledger.StockRecord
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock record", recordID)
		}
		return nil, fmt.Errorf("get stock record: %w", err)
	}
	return &rec, nil
}

// GetByBranchProduct returns the record for a product at a branch.
func (r *Repo) GetByBranchProduct(ctx context.Context, branchID, productID id.ID) (*ledger.StockRecord, error) {
	q := r.builder.Select(stockColumns...).
		From(stockRecordsTable).
		Where(squirrel.Eq{
			"branch_id":  branchID,
			"product_id": productID,
		}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rec ledger.StockRecord
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock record", productID)
		}
		return nil, fmt.Errorf("get stock record: %w", err)
	}
	return &rec, nil
}

// GetByBranchProductForUpdate returns the record with a pessimistic lock.
// Must run inside a transaction.
func (r *Repo) GetByBranchProductForUpdate(ctx context.Context, branchID, productID id.ID) (*ledger.StockRecord, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE branch_id = $1 AND product_id = $2
		FOR UPDATE
	`, strings.Join(stockColumns, ", "), stockRecordsTable)

	var rec ledger.StockRecord
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, branchID, productID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock record", productID)
		}
		return nil, fmt.Errorf("get stock record for update: %w", err)
	}
	return &rec, nil
}

// Update persists a mutated stock record.
func (r *Repo) Update(ctx context.Context, rec *ledger.StockRecord) error {
	q := r.builder.Update(stockRecordsTable).
		Set("current_stock", rec.CurrentStock).
		Set("min_stock", rec.MinStock).
		Set("max_stock", rec.MaxStock).
		Set("unit_cost", rec.UnitCost).
		Set("status", rec.Status).
		Set("last_updated", rec.LastUpdated).
		Set("last_restocked", rec.LastRestocked).
		Where(squirrel.Eq{"id": rec.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update stock record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock record", rec.ID)
	}
	return nil
}

// ListByBranch returns a branch's stock records with optional filtering.
func (r *Repo) ListByBranch(ctx context.Context, branchID id.ID, filter ledger.ListFilter) ([]ledger.StockRecord, error) {
	q := r.builder.Select(stockColumns...).
		From(stockRecordsTable).
		Where(squirrel.Eq{"branch_id": branchID})

	if len(filter.ProductIDs) > 0 {
		q = q.Where(squirrel.Eq{"product_id": filter.ProductIDs})
	}
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.ExcludeZero {
		q = q.Where(squirrel.Gt{"current_stock": int64(0)})
	}

	q = q.OrderBy("product_id")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var records []ledger.StockRecord
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("select stock records: %w", err)
	}
	return records, nil
}

// GetStats aggregates inventory figures for a branch in one query.
func (r *Repo) GetStats(ctx context.Context, branchID id.ID) (ledger.Stats, error) {
	stats := ledger.Stats{BranchID: branchID}

	sql := `
		SELECT
			COUNT(*),
			COALESCE(SUM(current_stock), 0),
			COUNT(*) FILTER (WHERE status = 'low_stock'),
			COUNT(*) FILTER (WHERE status = 'out_of_stock'),
			COALESCE(SUM((current_stock::numeric / 10000) * unit_cost), 0)
		FROM stock_records
		WHERE branch_id = $1
	`

	var totalStockScaled int64
	err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, branchID).Scan(
		&stats.TotalProducts,
		&totalStockScaled,
		&stats.LowStockCount,
		&stats.OutOfStockCount,
		&stats.InventoryValue,
	)
	if err != nil && err != pgx.ErrNoRows {
		return stats, fmt.Errorf("aggregate branch stats: %w", err)
	}
	stats.TotalStock = types.NewQuantityFromInt64Scaled(totalStockScaled)

	return stats, nil
}
