// Package allocation computes FIFO fulfillment plans over eligible batches.
//
// The planner is pure and read-only: it never mutates state, so callers can
// invoke it speculatively to preview a sale or transfer. The deduction engine
// reuses the same functions against row-locked batches at commit time, which
// guarantees previews and commits order batches identically.
package allocation

import (
	"sort"

	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/batch"
)

// Entry is one batch's share of a plan.
type Entry struct {
	BatchID     id.ID          `json:"batchId"`
	BatchNumber string         `json:"batchNumber"`
	Quantity    types.Quantity `json:"quantity"`
}

// Plan is a computed fulfillment plan. Committing it is the deduction
// engine's job.
type Plan struct {
	Entries []Entry        `json:"entries"`
	Total   types.Quantity `json:"total"`
}

// SortFIFO orders batches for allocation, in place:
// ascending expiration date, batches with no expiration after all dated
// ones, ties broken by ascending received date, then batch number for
// determinism.
func SortFIFO(batches []batch.Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		bi, bj := batches[i], batches[j]

		switch {
		case bi.ExpirationDate == nil && bj.ExpirationDate != nil:
			return false
		case bi.ExpirationDate != nil && bj.ExpirationDate == nil:
			return true
		case bi.ExpirationDate != nil && bj.ExpirationDate != nil:
			ei := batch.DateOnly(*bi.ExpirationDate)
			ej := batch.DateOnly(*bj.ExpirationDate)
			if !ei.Equal(ej) {
				return ei.Before(ej)
			}
		}

		if !bi.ReceivedDate.Equal(bj.ReceivedDate) {
			return bi.ReceivedDate.Before(bj.ReceivedDate)
		}
		return bi.BatchNumber < bj.BatchNumber
	})
}

// Greedy consumes the requested quantity across FIFO-sorted batches.
// Returns the plan and the total quantity available. When available is less
// than requested the returned plan is partial and must not be committed.
func Greedy(batches []batch.Batch, requested types.Quantity) (Plan, types.Quantity) {
	var plan Plan
	var available types.Quantity

	remaining := requested
	for _, b := range batches {
		available += b.RemainingQuantity
		if !remaining.IsPositive() {
			continue
		}

		take := remaining.Min(b.RemainingQuantity)
		plan.Entries = append(plan.Entries, Entry{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Quantity:    take,
		})
		plan.Total += take
		remaining -= take
	}

	return plan, available
}
