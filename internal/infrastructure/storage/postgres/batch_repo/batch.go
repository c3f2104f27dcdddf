// Package batch_repo provides the PostgreSQL implementation of the batch
// catalog repository.
package batch_repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/domain/batch"
	"stocklot/internal/infrastructure/storage/postgres"
)

const (
	batchesTable = "product_batches"
	entriesTable = "batch_stock_entries"
)

var batchColumns = []string{
	"id", "batch_number", "product_id", "branch_id",
	"source_type", "purchase_order_id", "source_transfer_id",
	"quantity", "remaining_quantity", "unit_cost",
	"expiration_date", "received_date", "received_by",
	"usage_type", "status",
	"original_batch_id", "original_batch_number",
	"created_at", "updated_at",
}

// Repo implements batch.Repository.
type Repo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ batch.Repository = (*Repo)(nil)

// New creates a new batch repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a batch.
func (r *Repo) Create(ctx context.Context, b *batch.Batch) error {
	q := r.builder.Insert(batchesTable).
		Columns(batchColumns...).
		Values(
			b.ID, b.BatchNumber, b.ProductID, b.BranchID,
			b.SourceType, b.PurchaseOrderID, b.SourceTransferID,
			b.Quantity, b.RemainingQuantity, b.UnitCost,
			b.ExpirationDate, b.ReceivedDate, b.ReceivedBy,
			b.UsageType, b.Status,
			b.OriginalBatchID, b.OriginalBatchNumber,
			b.CreatedAt, b.UpdatedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewDuplicate("batch", "batch_number", b.BatchNumber)
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// GetByID returns one batch.
func (r *Repo) GetByID(ctx context.Context, batchID id.ID) (*batch.Batch, error) {
	q := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{"id": batchID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var b batch.Batch
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("batch", batchID)
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

// GetByIDForUpdate returns one batch with a row lock.
func (r *Repo) GetByIDForUpdate(ctx context.Context, batchID id.ID) (*batch.Batch, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
		FOR UPDATE
	`, strings.Join(batchColumns, ", "), batchesTable)

	var b batch.Batch
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, sql, batchID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("batch", batchID)
		}
		return nil, fmt.Errorf("get batch for update: %w", err)
	}
	return &b, nil
}

// GetAllocatable returns active batches of the product in the usage pool with
// units remaining, excluding batches past expiration as of asOf. A batch the
// sweeper has not transitioned yet is still excluded here.
func (r *Repo) GetAllocatable(ctx context.Context, branchID, productID id.ID, usageType batch.UsageType, asOf time.Time) ([]batch.Batch, error) {
	q := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{
			"branch_id":  branchID,
			"product_id": productID,
			"usage_type": usageType,
			"status":     batch.StatusActive,
		}).
		Where(squirrel.Gt{"remaining_quantity": int64(0)}).
		Where(squirrel.Or{
			squirrel.Eq{"expiration_date": nil},
			squirrel.GtOrEq{"expiration_date": batch.DateOnly(asOf)},
		}).
		OrderBy("expiration_date ASC NULLS LAST", "received_date ASC", "batch_number ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []batch.Batch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select allocatable batches: %w", err)
	}
	return batches, nil
}

// GetAllocatableForUpdate is GetAllocatable with row locks, for the deduction
// commit path.
func (r *Repo) GetAllocatableForUpdate(ctx context.Context, branchID, productID id.ID, usageType batch.UsageType, asOf time.Time) ([]batch.Batch, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE branch_id = $1
		  AND product_id = $2
		  AND usage_type = $3
		  AND status = $4
		  AND remaining_quantity > 0
		  AND (expiration_date IS NULL OR expiration_date >= $5)
		ORDER BY expiration_date ASC NULLS LAST, received_date ASC, batch_number ASC
		FOR UPDATE
	`, strings.Join(batchColumns, ", "), batchesTable)

	var batches []batch.Batch
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql,
		branchID, productID, usageType, batch.StatusActive, batch.DateOnly(asOf))
	if err != nil {
		return nil, fmt.Errorf("select allocatable batches for update: %w", err)
	}
	return batches, nil
}

// UpdateQuantities persists remaining quantity and status.
func (r *Repo) UpdateQuantities(ctx context.Context, b *batch.Batch) error {
	q := r.builder.Update(batchesTable).
		Set("remaining_quantity", b.RemainingQuantity).
		Set("status", b.Status).
		Set("updated_at", b.UpdatedAt).
		Where(squirrel.Eq{"id": b.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update batch quantities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("batch", b.ID)
	}
	return nil
}

// ListByProduct lists all batches of a product at a branch, FIFO ordered.
func (r *Repo) ListByProduct(ctx context.Context, branchID, productID id.ID) ([]batch.Batch, error) {
	q := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{
			"branch_id":  branchID,
			"product_id": productID,
		}).
		OrderBy("expiration_date ASC NULLS LAST", "received_date ASC", "batch_number ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []batch.Batch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select product batches: %w", err)
	}
	return batches, nil
}

// ListByBranch lists batches at a branch with optional filtering.
func (r *Repo) ListByBranch(ctx context.Context, branchID id.ID, filter batch.ListFilter) ([]batch.Batch, error) {
	q := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{"branch_id": branchID})

	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.UsageType != nil {
		q = q.Where(squirrel.Eq{"usage_type": *filter.UsageType})
	}
	if filter.ActiveOnly {
		q = q.Where(squirrel.Eq{"status": batch.StatusActive}).
			Where(squirrel.Gt{"remaining_quantity": int64(0)}).
			Where(squirrel.Or{
				squirrel.Eq{"expiration_date": nil},
				squirrel.GtOrEq{"expiration_date": batch.DateOnly(time.Now().UTC())},
			})
	}

	q = q.OrderBy("received_date DESC", "batch_number ASC")

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

	var batches []batch.Batch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select branch batches: %w", err)
	}
	return batches, nil
}

// ListExpiring returns active batches expiring on or before the cutoff date
// but not yet expired as of today.
func (r *Repo) ListExpiring(ctx context.Context, branchID id.ID, cutoff time.Time) ([]batch.Batch, error) {
	today := batch.DateOnly(time.Now().UTC())

	q := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{
			"branch_id": branchID,
			"status":    batch.StatusActive,
		}).
		Where(squirrel.Gt{"remaining_quantity": int64(0)}).
		Where(squirrel.NotEq{"expiration_date": nil}).
		Where(squirrel.GtOrEq{"expiration_date": today}).
		Where(squirrel.LtOrEq{"expiration_date": batch.DateOnly(cutoff)}).
		OrderBy("expiration_date ASC", "batch_number ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []batch.Batch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select expiring batches: %w", err)
	}
	return batches, nil
}

// ListExpired returns batches past expiration as of the given day, including
// Active ones the sweeper has not transitioned yet.
func (r *Repo) ListExpired(ctx context.Context, branchID id.ID, asOf time.Time) ([]batch.Batch, error) {
	q := r.builder.Select(batchColumns...).
		From(batchesTable).
		Where(squirrel.Eq{"branch_id": branchID}).
		Where(squirrel.NotEq{"expiration_date": nil}).
		Where(squirrel.Lt{"expiration_date": batch.DateOnly(asOf)}).
		OrderBy("expiration_date ASC", "batch_number ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []batch.Batch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select expired batches: %w", err)
	}
	return batches, nil
}

// MarkExpired transitions active batches past expiration to expired status.
// Remaining quantities stay untouched.
func (r *Repo) MarkExpired(ctx context.Context, branchID id.ID, day time.Time) (int64, error) {
	q := r.builder.Update(batchesTable).
		Set("status", batch.StatusExpired).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{
			"branch_id": branchID,
			"status":    batch.StatusActive,
		}).
		Where(squirrel.NotEq{"expiration_date": nil}).
		Where(squirrel.Lt{"expiration_date": batch.DateOnly(day)})

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("mark batches expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
