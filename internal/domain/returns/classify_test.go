package returns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/batch"
)

func transferBatch(productID id.ID) *batch.Batch {
	b := batch.New(productID, id.New(), batch.SourceTransfer, types.NewQuantity(10), batch.UsageOTC)
	b.BatchNumber = "TR-1-BATCH-001"
	return b
}

var classifyNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func TestClassify_RestoreWhenOriginalExists(t *testing.T) {
	productID := id.New()
	transfer := transferBatch(productID)
	original := batch.New(productID, id.New(), batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)

	c := Classify(transfer, id.Nil(), original, classifyNow)

	assert.Equal(t, RestoreOriginal, c.Arm)
	assert.Same(t, original, c.Original)
	assert.Equal(t, productID, c.ProductID)
}

func TestClassify_ReturnBatchWhenOriginalGone(t *testing.T) {
	productID := id.New()
	transfer := transferBatch(productID)

	c := Classify(transfer, id.Nil(), nil, classifyNow)

	assert.Equal(t, CreateReturnBatch, c.Arm)
	assert.Nil(t, c.Original)
	assert.Equal(t, productID, c.ProductID)
}

func TestClassify_SameProductExplicit(t *testing.T) {
	productID := id.New()
	transfer := transferBatch(productID)

	// Passing the transfer's own product id is the same as passing zero.
	c := Classify(transfer, productID, nil, classifyNow)

	assert.Equal(t, CreateReturnBatch, c.Arm)
}

func TestClassify_SubstituteWinsOverExistingOriginal(t *testing.T) {
	productID := id.New()
	substituteID := id.New()
	transfer := transferBatch(productID)
	original := batch.New(productID, id.New(), batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)

	c := Classify(transfer, substituteID, original, classifyNow)

	assert.Equal(t, CreateSubstituteBatch, c.Arm)
	assert.Nil(t, c.Original)
	assert.Equal(t, substituteID, c.ProductID)
}

func TestClassify_OriginalWithDifferentProductNotRestorable(t *testing.T) {
	transfer := transferBatch(id.New())
	original := batch.New(id.New(), id.New(), batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)

	c := Classify(transfer, id.Nil(), original, classifyNow)

	assert.Equal(t, CreateReturnBatch, c.Arm)
}

func TestClassify_ExpiredOriginalNotRestorable(t *testing.T) {
	productID := id.New()
	transfer := transferBatch(productID)

	swept := batch.New(productID, id.New(), batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)
	swept.Status = batch.StatusExpired

	c := Classify(transfer, id.Nil(), swept, classifyNow)
	assert.Equal(t, CreateReturnBatch, c.Arm)
	assert.Nil(t, c.Original)

	// Still marked active but past its expiration date: same outcome.
	past := classifyNow.AddDate(0, 0, -3)
	unswept := batch.New(productID, id.New(), batch.SourcePurchase, types.NewQuantity(20), batch.UsageOTC)
	unswept.ExpirationDate = &past

	c = Classify(transfer, id.Nil(), unswept, classifyNow)
	assert.Equal(t, CreateReturnBatch, c.Arm)
	assert.Nil(t, c.Original)
}
