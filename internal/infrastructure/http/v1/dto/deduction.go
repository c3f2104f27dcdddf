package dto

import (
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/allocation"
	"stocklot/internal/domain/batch"
	"stocklot/internal/domain/deduction"
)

// PlanEntryRequest is one advisory plan line from a preview.
type PlanEntryRequest struct {
	BatchID     string  `json:"batchId"`
	BatchNumber string  `json:"batchNumber"`
	Quantity    float64 `json:"quantity"`
}

// DeductStockRequest commits a FIFO deduction.
type DeductStockRequest struct {
	ProductID string  `json:"productId" binding:"required"`
	Quantity  float64 `json:"quantity" binding:"required,gt=0"`
	Reason    string  `json:"reason" binding:"required"`
	UsageType string  `json:"usageType" binding:"required"`

	// Plan carries a previewed allocation. Advisory only: the engine always
	// re-plans under row locks before committing.
	Plan []PlanEntryRequest `json:"plan,omitempty"`
}

// ToParams converts the request into deduction params.
func (r DeductStockRequest) ToParams(branchID id.ID, actor string) (deduction.Params, error) {
	productID, err := parseID("productId", r.ProductID)
	if err != nil {
		return deduction.Params{}, err
	}

	p := deduction.Params{
		BranchID:   branchID,
		ProductID:  productID,
		Quantity:   types.NewQuantityFromFloat64(r.Quantity),
		Reason:     r.Reason,
		UsageType:  batch.UsageType(r.UsageType),
		DeductedBy: actor,
	}

	if len(r.Plan) > 0 {
		plan := &allocation.Plan{}
		for _, entry := range r.Plan {
			batchID, err := parseID("plan.batchId", entry.BatchID)
			if err != nil {
				return deduction.Params{}, err
			}
			qty := types.NewQuantityFromFloat64(entry.Quantity)
			plan.Entries = append(plan.Entries, allocation.Entry{
				BatchID:     batchID,
				BatchNumber: entry.BatchNumber,
				Quantity:    qty,
			})
			plan.Total += qty
		}
		p.Plan = plan
	}

	return p, nil
}
