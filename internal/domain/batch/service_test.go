package batch

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
	"stocklot/pkg/numerator"
)

type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memBatchRepo struct {
	Repository
	batches map[id.ID]*Batch
	entries map[id.ID]*StockEntry
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{
		batches: make(map[id.ID]*Batch),
		entries: make(map[id.ID]*StockEntry),
	}
}

func (r *memBatchRepo) Create(_ context.Context, b *Batch) error {
	r.batches[b.ID] = b
	return nil
}

func (r *memBatchRepo) CreateEntry(_ context.Context, e *StockEntry) error {
	r.entries[e.BatchID] = e
	return nil
}

func (r *memBatchRepo) GetEntry(_ context.Context, batchID id.ID) (*StockEntry, error) {
	e, ok := r.entries[batchID]
	if !ok {
		return nil, apperror.NewNotFound("stock entry", batchID)
	}
	cp := *e
	return &cp, nil
}

func (r *memBatchRepo) SaveCount(_ context.Context, e *StockEntry) error {
	r.entries[e.BatchID] = e
	return nil
}

func (r *memBatchRepo) MarkExpired(_ context.Context, branchID id.ID, day time.Time) (int64, error) {
	var count int64
	for _, b := range r.batches {
		if b.BranchID == branchID && b.Status == StatusActive && b.IsExpiredAt(day) {
			b.Status = StatusExpired
			count++
		}
	}
	return count, nil
}

type stockKey struct{ branch, product id.ID }

type memStockRepo struct {
	ledger.Repository
	records map[stockKey]*ledger.StockRecord
}

func newMemStockRepo(records ...*ledger.StockRecord) *memStockRepo {
	r := &memStockRepo{records: make(map[stockKey]*ledger.StockRecord)}
	for _, rec := range records {
		r.records[stockKey{rec.BranchID, rec.ProductID}] = rec
	}
	return r
}

func (r *memStockRepo) GetByBranchProductForUpdate(_ context.Context, branchID, productID id.ID) (*ledger.StockRecord, error) {
	rec, ok := r.records[stockKey{branchID, productID}]
	if !ok {
		return nil, apperror.NewNotFound("stock record", productID)
	}
	cp := *rec
	return &cp, nil
}

func (r *memStockRepo) Create(_ context.Context, rec *ledger.StockRecord) error {
	r.records[stockKey{rec.BranchID, rec.ProductID}] = rec
	return nil
}

func (r *memStockRepo) Update(_ context.Context, rec *ledger.StockRecord) error {
	r.records[stockKey{rec.BranchID, rec.ProductID}] = rec
	return nil
}

type memMovementRepo struct {
	movement.Repository
	appended    []movement.Record
	bulkCalls   int
}

func (r *memMovementRepo) CreateMany(_ context.Context, records []movement.Record) error {
	r.appended = append(r.appended, records...)
	r.bulkCalls++
	return nil
}

type mockRow struct{ val int64 }

func (m *mockRow) Scan(dest ...any) error {
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

type mockQuerier struct{ seqs map[string]int64 }

func (m *mockQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	if m.seqs == nil {
		m.seqs = make(map[string]int64)
	}
	key, _ := args[0].(string)
	m.seqs[key]++
	return &mockRow{val: m.seqs[key]}
}

type fixture struct {
	batches   *memBatchRepo
	stocks    *memStockRepo
	movements *memMovementRepo
	svc       *Service
}

func newFixture(stocks *memStockRepo) *fixture {
	batches := newMemBatchRepo()
	movements := &memMovementRepo{}
	return &fixture{
		batches:   batches,
		stocks:    stocks,
		movements: movements,
		svc:       NewService(batches, stocks, movements, passthroughTx{}, numerator.New(&mockQuerier{}), nil),
	}
}

func TestCreateFromDelivery_CreatesBatchesAndLedger(t *testing.T) {
	branchID, productID := id.New(), id.New()
	f := newFixture(newMemStockRepo())

	exp := time.Now().UTC().AddDate(0, 6, 0)
	result, err := f.svc.CreateFromDelivery(context.Background(), DeliveryJob{
		PurchaseOrderID: "PO-7",
		BranchID:        branchID,
		ReceivedBy:      "receiver",
		Items: []DeliveryItem{
			{ProductID: productID, Quantity: types.NewQuantity(10), UnitCost: types.MustMoney("5.00"), ExpirationDate: &exp, UsageType: UsageOTC},
			{ProductID: productID, Quantity: types.NewQuantity(4), UnitCost: types.MustMoney("5.00"), UsageType: UsageSalon},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Created, 2)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, "PO-7-BATCH-001", result.Created[0].BatchNumber)
	assert.Equal(t, "PO-7-BATCH-002", result.Created[1].BatchNumber)
	assert.Equal(t, SourcePurchase, result.Created[0].SourceType)
	assert.Equal(t, StatusActive, result.Created[0].Status)

	// Each batch got a shadow entry seeded at the received quantity.
	for _, b := range result.Created {
		entry, ok := f.batches.entries[b.ID]
		require.True(t, ok)
		assert.Equal(t, b.RemainingQuantity, entry.RealTimeStock)
	}

	// First arrival created the ledger record; second line added onto it.
	rec := f.stocks.records[stockKey{branchID, productID}]
	require.NotNil(t, rec)
	assert.Equal(t, types.NewQuantity(14), rec.CurrentStock)

	// One bulk append for the whole job, stock-in per created batch.
	assert.Equal(t, 1, f.movements.bulkCalls)
	require.Len(t, f.movements.appended, 2)
	for _, m := range f.movements.appended {
		assert.Equal(t, movement.TypeStockIn, m.Type)
	}
}

func TestCreateFromDelivery_SkipsMalformedLines(t *testing.T) {
	branchID, productID := id.New(), id.New()
	f := newFixture(newMemStockRepo())

	result, err := f.svc.CreateFromDelivery(context.Background(), DeliveryJob{
		PurchaseOrderID: "PO-8",
		BranchID:        branchID,
		Items: []DeliveryItem{
			{ProductID: id.Nil(), Quantity: types.NewQuantity(5), UsageType: UsageOTC},
			{ProductID: productID, Quantity: types.NewQuantity(0), UsageType: UsageOTC},
			{ProductID: productID, Quantity: types.NewQuantity(5), UsageType: UsageType("bulk")},
			{ProductID: productID, Quantity: types.NewQuantity(5), UsageType: UsageOTC},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Created, 1)
	require.Len(t, result.Skipped, 3)
	assert.Equal(t, 0, result.Skipped[0].Index)
	assert.Equal(t, 1, result.Skipped[1].Index)
	assert.Equal(t, 2, result.Skipped[2].Index)

	// Sequence only advances for lines that materialize.
	assert.Equal(t, "PO-8-BATCH-001", result.Created[0].BatchNumber)
}

func TestCreateFromDelivery_WeightedAverageCost(t *testing.T) {
	branchID, productID := id.New(), id.New()

	existing := ledger.NewStockRecord(branchID, productID, types.NewQuantity(10))
	existing.UnitCost = types.MustMoney("5.00")
	f := newFixture(newMemStockRepo(existing))

	_, err := f.svc.CreateFromDelivery(context.Background(), DeliveryJob{
		PurchaseOrderID: "PO-9",
		BranchID:        branchID,
		Items: []DeliveryItem{
			{ProductID: productID, Quantity: types.NewQuantity(10), UnitCost: types.MustMoney("7.00"), UsageType: UsageOTC},
		},
	})
	require.NoError(t, err)

	rec := f.stocks.records[stockKey{branchID, productID}]
	assert.Equal(t, types.NewQuantity(20), rec.CurrentStock)
	// (10*5 + 10*7) / 20 = 6
	assert.True(t, rec.UnitCost.Equal(types.MustMoney("6.00")), "got %s", rec.UnitCost)
}

func TestCreateFromDelivery_RequiresEnvelope(t *testing.T) {
	f := newFixture(newMemStockRepo())

	_, err := f.svc.CreateFromDelivery(context.Background(), DeliveryJob{BranchID: id.New()})
	assert.Error(t, err)

	_, err = f.svc.CreateFromDelivery(context.Background(), DeliveryJob{PurchaseOrderID: "PO-1"})
	assert.Error(t, err)
}

func TestCreateFromTransfer_SourceBreakdown(t *testing.T) {
	branchID, productID := id.New(), id.New()
	f := newFixture(newMemStockRepo())

	srcA, srcB := id.New(), id.New()
	expA := time.Now().UTC().AddDate(0, 2, 0)

	result, err := f.svc.CreateFromTransfer(context.Background(), TransferJob{
		SourceTransferID: "TR-3",
		BranchID:         branchID,
		ReceivedBy:       "receiver",
		Items: []TransferItem{
			{
				ProductID: productID,
				Quantity:  types.NewQuantity(9),
				UnitCost:  types.MustMoney("4.00"),
				UsageType: UsageOTC,
				SourceBatches: []SourceBatchLine{
					{BatchID: srcA, BatchNumber: "PO-1-BATCH-001", Quantity: types.NewQuantity(6), UnitCost: types.MustMoney("3.50"), ExpirationDate: &expA},
					{BatchID: srcB, BatchNumber: "PO-2-BATCH-001", Quantity: types.NewQuantity(3)},
				},
			},
		},
	})
	require.NoError(t, err)

	// One destination batch per source batch, each linked back.
	require.Len(t, result.Created, 2)

	first := result.Created[0]
	assert.Equal(t, SourceTransfer, first.SourceType)
	assert.Equal(t, types.NewQuantity(6), first.Quantity)
	require.NotNil(t, first.OriginalBatchID)
	assert.Equal(t, srcA, *first.OriginalBatchID)
	assert.Equal(t, "PO-1-BATCH-001", first.OriginalBatchNumber)
	require.NotNil(t, first.ExpirationDate)
	assert.True(t, first.ExpirationDate.Equal(expA))
	// Source batch cost overrides the item-level cost when known.
	assert.True(t, first.UnitCost.Equal(types.MustMoney("3.50")))

	second := result.Created[1]
	assert.Equal(t, types.NewQuantity(3), second.Quantity)
	assert.Nil(t, second.ExpirationDate)
	// No source cost recorded: fall back to the item-level cost.
	assert.True(t, second.UnitCost.Equal(types.MustMoney("4.00")))

	rec := f.stocks.records[stockKey{branchID, productID}]
	assert.Equal(t, types.NewQuantity(9), rec.CurrentStock)
}

func TestCreateFromTransfer_LegacyWithoutBreakdown(t *testing.T) {
	branchID, productID := id.New(), id.New()
	f := newFixture(newMemStockRepo())

	result, err := f.svc.CreateFromTransfer(context.Background(), TransferJob{
		SourceTransferID: "TR-4",
		BranchID:         branchID,
		Items: []TransferItem{
			{ProductID: productID, Quantity: types.NewQuantity(5), UsageType: UsageSalon},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Created, 1)
	b := result.Created[0]
	assert.Nil(t, b.OriginalBatchID)
	assert.Nil(t, b.ExpirationDate)
	assert.Equal(t, "TR-4-BATCH-001", b.BatchNumber)
	assert.Equal(t, UsageSalon, b.UsageType)
}

func TestSweepExpired_Idempotent(t *testing.T) {
	branchID, productID := id.New(), id.New()
	f := newFixture(newMemStockRepo())

	past := time.Now().UTC().AddDate(0, 0, -3)
	future := time.Now().UTC().AddDate(0, 3, 0)

	stale := New(productID, branchID, SourcePurchase, types.NewQuantity(5), UsageOTC)
	stale.ExpirationDate = &past
	fresh := New(productID, branchID, SourcePurchase, types.NewQuantity(5), UsageOTC)
	fresh.ExpirationDate = &future
	undated := New(productID, branchID, SourcePurchase, types.NewQuantity(5), UsageOTC)
	f.batches.batches[stale.ID] = stale
	f.batches.batches[fresh.ID] = fresh
	f.batches.batches[undated.ID] = undated

	count, err := f.svc.SweepExpired(context.Background(), branchID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, StatusExpired, stale.Status)
	assert.Equal(t, StatusActive, fresh.Status)
	assert.Equal(t, StatusActive, undated.Status)
	// Remaining quantity is frozen, not zeroed.
	assert.Equal(t, types.NewQuantity(5), stale.RemainingQuantity)

	count, err = f.svc.SweepExpired(context.Background(), branchID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecordCount_ComputesVariance(t *testing.T) {
	branchID, productID := id.New(), id.New()
	f := newFixture(newMemStockRepo())

	b := New(productID, branchID, SourcePurchase, types.NewQuantity(10), UsageOTC)
	f.batches.batches[b.ID] = b
	f.batches.entries[b.ID] = NewStockEntry(b)

	entry, err := f.svc.RecordCount(context.Background(), b.ID, types.NewQuantity(8), "auditor")
	require.NoError(t, err)

	require.NotNil(t, entry.CountedStock)
	assert.Equal(t, types.NewQuantity(8), *entry.CountedStock)
	assert.Equal(t, types.NewQuantity(-2), entry.CountVariance)
	assert.Equal(t, "auditor", entry.LastCountedBy)
	require.NotNil(t, entry.LastCountedAt)

	_, err = f.svc.RecordCount(context.Background(), b.ID, types.NewQuantity(-1), "auditor")
	assert.Error(t, err)
}

func TestGetExpiringBatches_RejectsNegativeWindow(t *testing.T) {
	f := newFixture(newMemStockRepo())

	_, err := f.svc.GetExpiringBatches(context.Background(), id.New(), -1)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidInput, appErr.Code)
}
