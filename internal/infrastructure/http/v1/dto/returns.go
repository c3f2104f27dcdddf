package dto

import (
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/returns"
)

// ReturnStockRequest sends transferred units back to the source branch.
type ReturnStockRequest struct {
	// SourceBranchID is required when the original batch is no longer
	// traceable from the transfer batch.
	SourceBranchID string `json:"sourceBranchId,omitempty"`

	// ProductID books the return under a different product (substitute).
	// Empty means the transfer batch's own product.
	ProductID string `json:"productId,omitempty"`

	Quantity float64 `json:"quantity" binding:"required,gt=0"`
	Reason   string  `json:"reason" binding:"required"`

	// UnitCost prices substitute batches.
	UnitCost string `json:"unitCost,omitempty"`
}

// ToParams converts the request into return params.
func (r ReturnStockRequest) ToParams(transferBatchID id.ID, actor string) (returns.Params, error) {
	p := returns.Params{
		TransferBatchID: transferBatchID,
		Quantity:        types.NewQuantityFromFloat64(r.Quantity),
		Reason:          r.Reason,
		ReturnedBy:      actor,
	}

	if r.SourceBranchID != "" {
		branchID, err := parseID("sourceBranchId", r.SourceBranchID)
		if err != nil {
			return p, err
		}
		p.SourceBranchID = branchID
	}
	if r.ProductID != "" {
		productID, err := parseID("productId", r.ProductID)
		if err != nil {
			return p, err
		}
		p.ProductID = productID
	}

	cost, err := parseOptionalMoney("unitCost", r.UnitCost)
	if err != nil {
		return p, err
	}
	p.UnitCost = cost

	return p, nil
}
