package returns

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
	"stocklot/internal/domain/batch"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
	"stocklot/pkg/numerator"
)

type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memBatchRepo struct {
	batch.Repository
	batches map[id.ID]*batch.Batch
	entries map[id.ID]types.Quantity
	created []*batch.Batch
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

func (r *memBatchRepo) GetByIDForUpdate(_ context.Context, batchID id.ID) (*batch.Batch, error) {
	b, ok := r.batches[batchID]
	if !ok {
		return nil, apperror.NewNotFound("batch", batchID)
	}
	cp := *b
	return &cp, nil
}

func (r *memBatchRepo) UpdateQuantities(_ context.Context, b *batch.Batch) error {
	stored, ok := r.batches[b.ID]
	if !ok {
		return apperror.NewNotFound("batch", b.ID)
	}
	stored.RemainingQuantity = b.RemainingQuantity
	stored.Status = b.Status
	return nil
}

func (r *memBatchRepo) AdjustEntryStock(_ context.Context, batchID id.ID, delta types.Quantity) error {
	if _, ok := r.entries[batchID]; !ok {
		return apperror.NewNotFound("stock entry", batchID)
	}
	r.entries[batchID] += delta
	return nil
}

func (r *memBatchRepo) Create(_ context.Context, b *batch.Batch) error {
	r.batches[b.ID] = b
	r.created = append(r.created, b)
	return nil
}

func (r *memBatchRepo) CreateEntry(_ context.Context, e *batch.StockEntry) error {
	r.entries[e.BatchID] = e.RealTimeStock
	return nil
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

func (r *memStockRepo) Update(_ context.Context, rec *ledger.StockRecord) error {
	r.records[stockKey{rec.BranchID, rec.ProductID}] = rec
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

func newFixture(batches *memBatchRepo, stocks *memStockRepo) *fixture {
	movements := &memMovementRepo{}
	return &fixture{
		batches:   batches,
		stocks:    stocks,
		movements: movements,
		svc:       NewService(batches, stocks, movements, passthroughTx{}, numerator.New(&mockQuerier{}), nil),
	}
}

func newTransferBatch(destBranch, productID id.ID, remaining int64) *batch.Batch {
	b := batch.New(productID, destBranch, batch.SourceTransfer, types.NewQuantity(remaining), batch.UsageOTC)
	b.BatchNumber = "TR-9-BATCH-001"
	b.UnitCost = types.MustMoney("12.50")
	return b
}

func TestReturnStock_RestoreOriginal(t *testing.T) {
	srcBranch, destBranch, productID := id.New(), id.New(), id.New()

	original := batch.New(productID, srcBranch, batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)
	original.BatchNumber = "PO-5-BATCH-001"
	original.RemainingQuantity = 0
	original.Status = batch.StatusDepleted

	transfer := newTransferBatch(destBranch, productID, 10)
	origID := original.ID
	transfer.OriginalBatchID = &origID
	transfer.OriginalBatchNumber = original.BatchNumber

	f := newFixture(
		newMemBatchRepo(transfer, original),
		newMemStockRepo(
			ledger.NewStockRecord(destBranch, productID, types.NewQuantity(10)),
			ledger.NewStockRecord(srcBranch, productID, types.NewQuantity(0)),
		),
	)

	result, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		Quantity:        types.NewQuantity(4),
		Reason:          "damaged shelf",
		ReturnedBy:      "manager",
	})
	require.NoError(t, err)

	assert.Equal(t, RestoreOriginal, result.Arm)
	assert.Equal(t, types.NewQuantity(4), result.ReturnedQuantity)
	require.NotNil(t, result.RestoredBatchID)
	assert.Equal(t, original.ID, *result.RestoredBatchID)
	assert.Nil(t, result.CreatedBatch)

	// Depleted original re-activates with the restored units.
	restored := f.batches.batches[original.ID]
	assert.Equal(t, types.NewQuantity(4), restored.RemainingQuantity)
	assert.Equal(t, batch.StatusActive, restored.Status)
	assert.Equal(t, types.NewQuantity(4), f.batches.entries[original.ID])

	// Transfer batch gave the units up.
	assert.Equal(t, types.NewQuantity(6), f.batches.batches[transfer.ID].RemainingQuantity)
	assert.Equal(t, types.NewQuantity(6), f.batches.entries[transfer.ID])

	// Both branch ledgers moved.
	assert.Equal(t, types.NewQuantity(6), f.stocks.records[stockKey{destBranch, productID}].CurrentStock)
	assert.Equal(t, types.NewQuantity(4), f.stocks.records[stockKey{srcBranch, productID}].CurrentStock)

	// Outbound at the destination, inbound at the source.
	require.Len(t, f.movements.records, 2)
	assert.Equal(t, movement.TypeStockOut, f.movements.records[0].Type)
	assert.Equal(t, destBranch, f.movements.records[0].BranchID)
	assert.Equal(t, movement.TypeStockIn, f.movements.records[1].Type)
	assert.Equal(t, srcBranch, f.movements.records[1].BranchID)
	assert.Equal(t, f.movements.records[1].ID, result.MovementID)
}

func TestReturnStock_ExpiredOriginalGetsReturnBatch(t *testing.T) {
	srcBranch, destBranch, productID := id.New(), id.New(), id.New()

	past := time.Now().UTC().AddDate(0, 0, -10)
	original := batch.New(productID, srcBranch, batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)
	original.BatchNumber = "PO-5-BATCH-001"
	original.RemainingQuantity = types.NewQuantity(9)
	original.ExpirationDate = &past
	original.Status = batch.StatusExpired

	transfer := newTransferBatch(destBranch, productID, 10)
	origID := original.ID
	transfer.OriginalBatchID = &origID
	transfer.OriginalBatchNumber = original.BatchNumber

	f := newFixture(
		newMemBatchRepo(transfer, original),
		newMemStockRepo(
			ledger.NewStockRecord(destBranch, productID, types.NewQuantity(10)),
			ledger.NewStockRecord(srcBranch, productID, types.NewQuantity(0)),
		),
	)

	result, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		Quantity:        types.NewQuantity(4),
		ReturnedBy:      "manager",
	})
	require.NoError(t, err)

	// Units never land on the expired batch; a fresh return batch takes them.
	assert.Equal(t, CreateReturnBatch, result.Arm)
	assert.Nil(t, result.RestoredBatchID)
	require.NotNil(t, result.CreatedBatch)
	created := result.CreatedBatch
	assert.Equal(t, batch.StatusActive, created.Status)
	assert.Equal(t, types.NewQuantity(4), created.RemainingQuantity)
	assert.Equal(t, "PO-5-BATCH-001", created.OriginalBatchNumber)

	stale := f.batches.batches[original.ID]
	assert.Equal(t, batch.StatusExpired, stale.Status)
	assert.Equal(t, types.NewQuantity(9), stale.RemainingQuantity)

	// The source ledger credit is matched by Active-batch remainders.
	currentStock := f.stocks.records[stockKey{srcBranch, productID}].CurrentStock
	assert.Equal(t, types.NewQuantity(4), currentStock)
	var activeSum types.Quantity
	for _, b := range f.batches.batches {
		if b.BranchID == srcBranch && b.Status == batch.StatusActive {
			activeSum += b.RemainingQuantity
		}
	}
	assert.Equal(t, currentStock, activeSum)
}

func TestReturnStock_CreateReturnBatch(t *testing.T) {
	srcBranch, destBranch, productID := id.New(), id.New(), id.New()

	exp := time.Now().UTC().AddDate(0, 3, 0)
	transfer := newTransferBatch(destBranch, productID, 10)
	transfer.ExpirationDate = &exp
	transfer.OriginalBatchNumber = "PO-5-BATCH-001"
	// Original batch id missing entirely: legacy transfer.

	f := newFixture(
		newMemBatchRepo(transfer),
		newMemStockRepo(
			ledger.NewStockRecord(destBranch, productID, types.NewQuantity(10)),
			ledger.NewStockRecord(srcBranch, productID, types.NewQuantity(2)),
		),
	)

	result, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		SourceBranchID:  srcBranch,
		Quantity:        types.NewQuantity(3),
		ReturnedBy:      "manager",
	})
	require.NoError(t, err)

	assert.Equal(t, CreateReturnBatch, result.Arm)
	require.NotNil(t, result.CreatedBatch)
	created := result.CreatedBatch

	assert.Equal(t, batch.SourceReturn, created.SourceType)
	assert.Equal(t, productID, created.ProductID)
	assert.Equal(t, srcBranch, created.BranchID)
	assert.Equal(t, types.NewQuantity(3), created.Quantity)
	// Inherits traceability, cost and expiration from the transfer batch.
	assert.Equal(t, "PO-5-BATCH-001", created.OriginalBatchNumber)
	assert.True(t, created.UnitCost.Equal(transfer.UnitCost))
	require.NotNil(t, created.ExpirationDate)
	assert.True(t, created.ExpirationDate.Equal(exp))
	assert.Equal(t, "RET-PO-5-BATCH-001-BATCH-001", created.BatchNumber)

	// Shadow entry seeded for the new batch.
	assert.Equal(t, types.NewQuantity(3), f.batches.entries[created.ID])
	assert.Equal(t, types.NewQuantity(5), f.stocks.records[stockKey{srcBranch, productID}].CurrentStock)
}

func TestReturnStock_CreateSubstituteBatch(t *testing.T) {
	srcBranch, destBranch, productID := id.New(), id.New(), id.New()
	substituteID := id.New()

	original := batch.New(productID, srcBranch, batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)
	transfer := newTransferBatch(destBranch, productID, 10)
	origID := original.ID
	transfer.OriginalBatchID = &origID

	f := newFixture(
		newMemBatchRepo(transfer, original),
		newMemStockRepo(
			ledger.NewStockRecord(destBranch, productID, types.NewQuantity(10)),
			ledger.NewStockRecord(srcBranch, substituteID, types.NewQuantity(0)),
		),
	)

	cost := types.MustMoney("8.00")
	result, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		SourceBranchID:  srcBranch,
		ProductID:       substituteID,
		Quantity:        types.NewQuantity(2),
		UnitCost:        cost,
		ReturnedBy:      "manager",
	})
	require.NoError(t, err)

	// Substitute wins even though the original batch still exists.
	assert.Equal(t, CreateSubstituteBatch, result.Arm)
	require.NotNil(t, result.CreatedBatch)
	created := result.CreatedBatch

	assert.Equal(t, batch.SourceReturnNew, created.SourceType)
	assert.Equal(t, substituteID, created.ProductID)
	assert.True(t, created.UnitCost.Equal(cost))
	assert.Nil(t, created.ExpirationDate)

	// Original untouched.
	assert.Equal(t, types.NewQuantity(20), f.batches.batches[original.ID].RemainingQuantity)

	// Source ledger moves under the substitute identity.
	assert.Equal(t, types.NewQuantity(2), f.stocks.records[stockKey{srcBranch, substituteID}].CurrentStock)
	// Destination ledger still drops under the transferred product.
	assert.Equal(t, types.NewQuantity(8), f.stocks.records[stockKey{destBranch, productID}].CurrentStock)
}

func TestReturnStock_ClampsToRemainder(t *testing.T) {
	srcBranch, destBranch, productID := id.New(), id.New(), id.New()
	transfer := newTransferBatch(destBranch, productID, 4)

	f := newFixture(
		newMemBatchRepo(transfer),
		newMemStockRepo(
			ledger.NewStockRecord(destBranch, productID, types.NewQuantity(4)),
			ledger.NewStockRecord(srcBranch, productID, types.NewQuantity(0)),
		),
	)

	result, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		SourceBranchID:  srcBranch,
		Quantity:        types.NewQuantity(10),
	})
	require.NoError(t, err)

	assert.Equal(t, types.NewQuantity(4), result.ReturnedQuantity)
	stored := f.batches.batches[transfer.ID]
	assert.Equal(t, types.Quantity(0), stored.RemainingQuantity)
	assert.Equal(t, batch.StatusDepleted, stored.Status)
}

func TestReturnStock_RejectsNonTransferBatch(t *testing.T) {
	branchID, productID := id.New(), id.New()
	purchase := batch.New(productID, branchID, batch.SourcePurchase, types.NewQuantity(10), batch.UsageOTC)

	f := newFixture(newMemBatchRepo(purchase), newMemStockRepo())

	_, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: purchase.ID,
		SourceBranchID:  id.New(),
		Quantity:        types.NewQuantity(1),
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
}

func TestReturnStock_RejectsEmptyTransferBatch(t *testing.T) {
	destBranch, productID := id.New(), id.New()
	transfer := newTransferBatch(destBranch, productID, 5)
	transfer.RemainingQuantity = 0
	transfer.Status = batch.StatusDepleted

	f := newFixture(newMemBatchRepo(transfer), newMemStockRepo())

	_, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		SourceBranchID:  id.New(),
		Quantity:        types.NewQuantity(1),
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeConflict, appErr.Code)
}

func TestReturnStock_RequiresSourceBranchWhenUntraceable(t *testing.T) {
	destBranch, productID := id.New(), id.New()
	transfer := newTransferBatch(destBranch, productID, 5)

	f := newFixture(newMemBatchRepo(transfer), newMemStockRepo())

	_, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		Quantity:        types.NewQuantity(1),
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}

func TestReturnStock_MissingSourceLedgerWarns(t *testing.T) {
	srcBranch, destBranch, productID := id.New(), id.New(), id.New()
	transfer := newTransferBatch(destBranch, productID, 5)

	// Destination ledger exists, source ledger does not.
	f := newFixture(
		newMemBatchRepo(transfer),
		newMemStockRepo(ledger.NewStockRecord(destBranch, productID, types.NewQuantity(5))),
	)

	result, err := f.svc.ReturnStock(context.Background(), Params{
		TransferBatchID: transfer.ID,
		SourceBranchID:  srcBranch,
		Quantity:        types.NewQuantity(2),
	})
	require.NoError(t, err)

	assert.True(t, result.ReconciliationWarning)
	// Batch-side writes and both movements still committed.
	assert.Equal(t, types.NewQuantity(3), f.batches.batches[transfer.ID].RemainingQuantity)
	assert.Len(t, f.movements.records, 2)
}
