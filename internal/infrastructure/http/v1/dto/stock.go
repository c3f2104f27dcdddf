package dto

import (
	"stocklot/internal/core/types"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
)

// AdjustStockRequest adds or removes aggregate stock directly.
type AdjustStockRequest struct {
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
	Reason   string  `json:"reason" binding:"required"`
}

// UpdateStockRequest edits stock record settings. Current stock is not
// writable; it only moves through deductions, deliveries and returns.
type UpdateStockRequest struct {
	MinStock *float64 `json:"minStock,omitempty"`
	MaxStock *float64 `json:"maxStock,omitempty"`
	UnitCost *string  `json:"unitCost,omitempty"`
}

// ToParams converts the request into service settings.
func (r UpdateStockRequest) ToParams() (ledger.SettingsParams, error) {
	var p ledger.SettingsParams
	if r.MinStock != nil {
		q := types.NewQuantityFromFloat64(*r.MinStock)
		p.MinStock = &q
	}
	if r.MaxStock != nil {
		q := types.NewQuantityFromFloat64(*r.MaxStock)
		p.MaxStock = &q
	}
	if r.UnitCost != nil {
		m, err := parseOptionalMoney("unitCost", *r.UnitCost)
		if err != nil {
			return p, err
		}
		p.UnitCost = &m
	}
	return p, nil
}

// StockListResponse wraps a branch stock listing.
type StockListResponse struct {
	Items []ledger.StockRecord `json:"items"`
	Count int                  `json:"count"`
}

// MovementListResponse wraps a paginated movement history.
type MovementListResponse struct {
	Items      []movement.Record `json:"items"`
	TotalCount int64             `json:"totalCount"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}
