// Package returns coordinates sending transferred stock back to its source
// branch.
package returns

import (
	"time"

	"stocklot/internal/core/id"
	"stocklot/internal/domain/batch"
)

// Arm selects how the returned units re-enter the source branch.
type Arm string

const (
	// RestoreOriginal adds the units back onto the still-existing source
	// batch, preserving its expiration date and cost.
	RestoreOriginal Arm = "restore_original"

	// CreateReturnBatch creates a fresh source-branch batch when the
	// original batch is no longer traceable.
	CreateReturnBatch Arm = "create_return_batch"

	// CreateSubstituteBatch creates a batch under a different product
	// identity, for returns accepted as a substitute product.
	CreateSubstituteBatch Arm = "create_substitute_batch"
)

// Classification is the single decision point of a return. All downstream
// writes dispatch on Arm; no later step re-inspects the inputs.
type Classification struct {
	Arm Arm

	// Original is the row-locked source batch. Set only for RestoreOriginal.
	Original *batch.Batch

	// ProductID is the product identity the returned units are booked under.
	ProductID id.ID
}

// Classify resolves the return arm from the destination transfer batch, the
// product the caller is returning, and the source batch lookup result
// (nil when the original no longer exists).
//
// A product identity differing from the transfer batch's always wins: such a
// return is a substitute even when the original batch still exists. An
// expired original is not restorable: Restore keeps expired batches expired,
// so crediting units onto one would strand them outside the Active pool the
// ledger aggregate counts.
func Classify(transfer *batch.Batch, productID id.ID, original *batch.Batch, asOf time.Time) Classification {
	if !id.IsNil(productID) && productID != transfer.ProductID {
		return Classification{Arm: CreateSubstituteBatch, ProductID: productID}
	}

	if restorable(original, transfer, asOf) {
		return Classification{
			Arm:       RestoreOriginal,
			Original:  original,
			ProductID: transfer.ProductID,
		}
	}

	return Classification{Arm: CreateReturnBatch, ProductID: transfer.ProductID}
}

func restorable(original, transfer *batch.Batch, asOf time.Time) bool {
	if original == nil || original.ProductID != transfer.ProductID {
		return false
	}
	if original.Status == batch.StatusExpired || original.IsExpiredAt(asOf) {
		return false
	}
	return true
}
