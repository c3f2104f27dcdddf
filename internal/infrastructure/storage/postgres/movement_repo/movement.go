// Package movement_repo provides the PostgreSQL implementation of the
// append-only movement log.
package movement_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stocklot/internal/core/id"
	"stocklot/internal/domain/movement"
	"stocklot/internal/infrastructure/storage/postgres"
)

const movementsTable = "stock_movements"

var movementColumns = []string{
	"id", "branch_id", "product_id",
	"movement_type", "quantity",
	"previous_stock", "new_stock",
	"reason", "batch_deductions",
	"created_by", "created_at",
}

// Repo implements movement.Repository.
type Repo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ movement.Repository = (*Repo)(nil)

// New creates a new movement log repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create appends one movement record.
func (r *Repo) Create(ctx context.Context, rec *movement.Record) error {
	q := r.builder.Insert(movementsTable).
		Columns(movementColumns...).
		Values(
			rec.ID, rec.BranchID, rec.ProductID,
			rec.Type, rec.Quantity,
			rec.PreviousStock, rec.NewStock,
			rec.Reason, rec.BatchDeductions,
			rec.CreatedBy, rec.CreatedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// CreateMany bulk-appends records.
func (r *Repo) CreateMany(ctx context.Context, records []movement.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Fast path: COPY when inside a transaction.
	if tx := r.txm.GetTx(ctx); tx != nil {
		inserter := postgres.NewBatchInserter(r.txm)
		rows := make([][]any, 0, len(records))
		for _, m := range records {
			rows = append(rows, []any{
				m.ID, m.BranchID, m.ProductID,
				m.Type, m.Quantity,
				m.PreviousStock, m.NewStock,
				m.Reason, m.BatchDeductions,
				m.CreatedBy, m.CreatedAt,
			})
		}
		if _, err := inserter.CopyFromSlice(ctx, movementsTable, movementColumns, rows); err != nil {
			return fmt.Errorf("copy movements: %w", err)
		}
		return nil
	}

	// Fallback: multi-row insert. Prefer calling CreateMany within a
	// transaction.
	q := r.builder.Insert(movementsTable).Columns(movementColumns...)
	for _, m := range records {
		q = q.Values(
			m.ID, m.BranchID, m.ProductID,
			m.Type, m.Quantity,
			m.PreviousStock, m.NewStock,
			m.Reason, m.BatchDeductions,
			m.CreatedBy, m.CreatedAt,
		)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert movements: %w", err)
	}
	return nil
}

// ListByBranch returns movement history, newest first.
func (r *Repo) ListByBranch(ctx context.Context, branchID id.ID, filter movement.Filter) ([]movement.Record, error) {
	q := r.builder.Select(movementColumns...).
		From(movementsTable).
		Where(squirrel.Eq{"branch_id": branchID})

	q = applyFilter(q, filter)
	q = q.OrderBy("created_at DESC", "id DESC")

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

	var records []movement.Record
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return records, nil
}

// CountByBranch returns the total number of records matching the filter,
// ignoring pagination.
func (r *Repo) CountByBranch(ctx context.Context, branchID id.ID, filter movement.Filter) (int64, error) {
	q := r.builder.Select("COUNT(*)").
		From(movementsTable).
		Where(squirrel.Eq{"branch_id": branchID})

	q = applyFilter(q, filter)

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var count int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count movements: %w", err)
	}
	return count, nil
}

func applyFilter(q squirrel.SelectBuilder, filter movement.Filter) squirrel.SelectBuilder {
	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.Type != nil {
		q = q.Where(squirrel.Eq{"movement_type": *filter.Type})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"created_at": *filter.ToDate})
	}
	return q
}
