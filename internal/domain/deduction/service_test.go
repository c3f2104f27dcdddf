package deduction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/allocation"
	"stocklot/internal/domain/batch"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
)

// passthroughTx runs the function directly; rollback semantics are covered by
// asserting that failing flows perform zero repository writes.
type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memBatchRepo struct {
	batch.Repository
	batches map[id.ID]*batch.Batch
	entries map[id.ID]types.Quantity

	quantityWrites int
	entryWrites    int
}

func newMemBatchRepo(batches ...*batch.Batch) *memBatchRepo {
	r := &memBatchRepo{
		batches: make(map[id.ID]*batch.Batch),
		entries: make(map[id.ID]types.Quantity),
	}
	for _, b := range batches {
		r.batches[b.ID] = b
		r.entries[b.ID] = b.RemainingQuantity
	}
	return r
}

func (r *memBatchRepo) GetAllocatableForUpdate(_ context.Context, branchID, productID id.ID, usageType batch.UsageType, asOf time.Time) ([]batch.Batch, error) {
	var out []batch.Batch
	for _, b := range r.batches {
		if b.BranchID == branchID && b.ProductID == productID && b.UsageType == usageType && b.Allocatable(asOf) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memBatchRepo) UpdateQuantities(_ context.Context, b *batch.Batch) error {
	stored, ok := r.batches[b.ID]
	if !ok {
		return apperror.NewNotFound("batch", b.ID)
	}
	stored.RemainingQuantity = b.RemainingQuantity
	stored.Status = b.Status
	r.quantityWrites++
	return nil
}

func (r *memBatchRepo) AdjustEntryStock(_ context.Context, batchID id.ID, delta types.Quantity) error {
	if _, ok := r.entries[batchID]; !ok {
		return apperror.NewNotFound("stock entry", batchID)
	}
	r.entries[batchID] += delta
	r.entryWrites++
	return nil
}

type memStockRepo struct {
	ledger.Repository
	record *ledger.StockRecord
	writes int
}

func (r *memStockRepo) GetByBranchProductForUpdate(_ context.Context, branchID, productID id.ID) (*ledger.StockRecord, error) {
	if r.record == nil || r.record.BranchID != branchID || r.record.ProductID != productID {
		return nil, apperror.NewNotFound("stock record", productID)
	}
	cp := *r.record
	return &cp, nil
}

func (r *memStockRepo) Update(_ context.Context, rec *ledger.StockRecord) error {
	r.record = rec
	r.writes++
	return nil
}

type memMovementRepo struct {
	movement.Repository
	records []movement.Record
}

func (r *memMovementRepo) Create(_ context.Context, rec *movement.Record) error {
	r.records = append(r.records, *rec)
	return nil
}

func activeBatch(branchID, productID id.ID, number string, remaining int64, exp *time.Time) *batch.Batch {
	b := batch.New(productID, branchID, batch.SourcePurchase, types.NewQuantity(remaining), batch.UsageOTC)
	b.BatchNumber = number
	b.ExpirationDate = exp
	return b
}

func expDate(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDeduct_MultiBatchFIFO(t *testing.T) {
	branchID, productID := id.New(), id.New()
	far := time.Now().UTC().AddDate(1, 0, 0)
	near := time.Now().UTC().AddDate(0, 1, 0)

	first := activeBatch(branchID, productID, "PO-1-BATCH-001", 5, &near)
	second := activeBatch(branchID, productID, "PO-1-BATCH-002", 10, &far)
	batches := newMemBatchRepo(first, second)

	stocks := &memStockRepo{record: ledger.NewStockRecord(branchID, productID, types.NewQuantity(15))}
	movements := &memMovementRepo{}

	svc := NewService(batches, stocks, movements, passthroughTx{}, nil)

	result, err := svc.Deduct(context.Background(), Params{
		BranchID:   branchID,
		ProductID:  productID,
		Quantity:   types.NewQuantity(7),
		Reason:     "sale",
		UsageType:  batch.UsageOTC,
		DeductedBy: "clerk",
	})
	require.NoError(t, err)

	require.Len(t, result.BatchesUsed, 2)
	assert.Equal(t, "PO-1-BATCH-001", result.BatchesUsed[0].BatchNumber)
	assert.Equal(t, types.NewQuantity(5), result.BatchesUsed[0].Deducted)
	assert.Equal(t, types.NewQuantity(2), result.BatchesUsed[1].Deducted)

	// Earlier-expiring batch fully drained and flipped to depleted.
	assert.Equal(t, types.Quantity(0), batches.batches[first.ID].RemainingQuantity)
	assert.Equal(t, batch.StatusDepleted, batches.batches[first.ID].Status)
	assert.Equal(t, types.NewQuantity(8), batches.batches[second.ID].RemainingQuantity)

	// Shadow entries mirror batch deltas exactly.
	assert.Equal(t, types.Quantity(0), batches.entries[first.ID])
	assert.Equal(t, types.NewQuantity(8), batches.entries[second.ID])

	// Ledger reduced and movement appended with the breakdown.
	assert.Equal(t, types.NewQuantity(8), stocks.record.CurrentStock)
	require.Len(t, movements.records, 1)
	rec := movements.records[0]
	assert.Equal(t, movement.TypeStockOut, rec.Type)
	assert.Equal(t, types.NewQuantity(15), rec.PreviousStock)
	assert.Equal(t, types.NewQuantity(8), rec.NewStock)
	assert.Len(t, rec.BatchDeductions, 2)
	assert.Equal(t, rec.ID, result.MovementID)
}

func TestDeduct_InsufficientStockNoWrites(t *testing.T) {
	branchID, productID := id.New(), id.New()
	b := activeBatch(branchID, productID, "PO-1-BATCH-001", 3, nil)
	batches := newMemBatchRepo(b)
	stocks := &memStockRepo{record: ledger.NewStockRecord(branchID, productID, types.NewQuantity(3))}
	movements := &memMovementRepo{}

	svc := NewService(batches, stocks, movements, passthroughTx{}, nil)

	_, err := svc.Deduct(context.Background(), Params{
		BranchID:  branchID,
		ProductID: productID,
		Quantity:  types.NewQuantity(10),
		UsageType: batch.UsageOTC,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	assert.Zero(t, batches.quantityWrites)
	assert.Zero(t, batches.entryWrites)
	assert.Zero(t, stocks.writes)
	assert.Empty(t, movements.records)
	assert.Equal(t, types.NewQuantity(3), batches.batches[b.ID].RemainingQuantity)
}

func TestDeduct_NoBatchesAvailable(t *testing.T) {
	svc := NewService(newMemBatchRepo(), &memStockRepo{}, &memMovementRepo{}, passthroughTx{}, nil)

	_, err := svc.Deduct(context.Background(), Params{
		BranchID:  id.New(),
		ProductID: id.New(),
		Quantity:  types.NewQuantity(1),
		UsageType: batch.UsageOTC,
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNoBatchesAvailable, appErr.Code)
}

func TestDeduct_UsagePoolIsolation(t *testing.T) {
	branchID, productID := id.New(), id.New()
	salon := batch.New(productID, branchID, batch.SourcePurchase, types.NewQuantity(50), batch.UsageSalon)
	salon.BatchNumber = "PO-1-BATCH-001"
	batches := newMemBatchRepo(salon)

	svc := NewService(batches, &memStockRepo{}, &memMovementRepo{}, passthroughTx{}, nil)

	_, err := svc.Deduct(context.Background(), Params{
		BranchID:  branchID,
		ProductID: productID,
		Quantity:  types.NewQuantity(1),
		UsageType: batch.UsageOTC,
	})
	require.Error(t, err)
	assert.Equal(t, types.NewQuantity(50), batches.batches[salon.ID].RemainingQuantity)
}

func TestDeduct_SkipsExpiredBatches(t *testing.T) {
	branchID, productID := id.New(), id.New()
	past := time.Now().UTC().AddDate(0, 0, -2)
	future := time.Now().UTC().AddDate(0, 6, 0)

	// Expired batch is still Active: the sweeper has not visited it yet.
	expired := activeBatch(branchID, productID, "PO-1-BATCH-001", 5, &past)
	fresh := activeBatch(branchID, productID, "PO-1-BATCH-002", 5, &future)
	batches := newMemBatchRepo(expired, fresh)
	stocks := &memStockRepo{record: ledger.NewStockRecord(branchID, productID, types.NewQuantity(10))}

	svc := NewService(batches, stocks, &memMovementRepo{}, passthroughTx{}, nil)

	result, err := svc.Deduct(context.Background(), Params{
		BranchID:  branchID,
		ProductID: productID,
		Quantity:  types.NewQuantity(5),
		UsageType: batch.UsageOTC,
	})
	require.NoError(t, err)

	require.Len(t, result.BatchesUsed, 1)
	assert.Equal(t, "PO-1-BATCH-002", result.BatchesUsed[0].BatchNumber)
	assert.Equal(t, types.NewQuantity(5), batches.batches[expired.ID].RemainingQuantity)
}

func TestDeduct_MissingLedgerRecordWarns(t *testing.T) {
	branchID, productID := id.New(), id.New()
	b := activeBatch(branchID, productID, "PO-1-BATCH-001", 5, nil)
	batches := newMemBatchRepo(b)
	movements := &memMovementRepo{}

	svc := NewService(batches, &memStockRepo{}, movements, passthroughTx{}, nil)

	result, err := svc.Deduct(context.Background(), Params{
		BranchID:  branchID,
		ProductID: productID,
		Quantity:  types.NewQuantity(2),
		UsageType: batch.UsageOTC,
	})
	require.NoError(t, err)

	assert.True(t, result.ReconciliationWarning)
	// Batch writes and the movement still happen.
	assert.Equal(t, types.NewQuantity(3), batches.batches[b.ID].RemainingQuantity)
	require.Len(t, movements.records, 1)
}

func TestDeduct_AdvisoryPlanMismatch(t *testing.T) {
	svc := NewService(newMemBatchRepo(), &memStockRepo{}, &memMovementRepo{}, passthroughTx{}, nil)

	_, err := svc.Deduct(context.Background(), Params{
		BranchID:  id.New(),
		ProductID: id.New(),
		Quantity:  types.NewQuantity(5),
		UsageType: batch.UsageOTC,
		Plan:      &allocation.Plan{Total: types.NewQuantity(3)},
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidInput, appErr.Code)
}

func TestDeduct_StalePlanReplansAgainstCurrentState(t *testing.T) {
	branchID, productID := id.New(), id.New()
	b := activeBatch(branchID, productID, "PO-1-BATCH-001", 10, nil)
	batches := newMemBatchRepo(b)
	stocks := &memStockRepo{record: ledger.NewStockRecord(branchID, productID, types.NewQuantity(10))}

	svc := NewService(batches, stocks, &memMovementRepo{}, passthroughTx{}, nil)

	// Advisory plan names a batch that no longer exists; the commit re-plans
	// and draws from what is actually there.
	stale := &allocation.Plan{
		Entries: []allocation.Entry{{BatchID: id.New(), BatchNumber: "GONE", Quantity: types.NewQuantity(4)}},
		Total:   types.NewQuantity(4),
	}

	result, err := svc.Deduct(context.Background(), Params{
		BranchID:  branchID,
		ProductID: productID,
		Quantity:  types.NewQuantity(4),
		UsageType: batch.UsageOTC,
		Plan:      stale,
	})
	require.NoError(t, err)

	require.Len(t, result.BatchesUsed, 1)
	assert.Equal(t, b.ID, result.BatchesUsed[0].BatchID)
	assert.Equal(t, types.NewQuantity(6), batches.batches[b.ID].RemainingQuantity)
}
