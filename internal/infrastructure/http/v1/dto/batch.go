package dto

import (
	"stocklot/internal/core/types"
	"stocklot/internal/domain/batch"
)

// DeliveryItemRequest is one line of a delivery intake request.
type DeliveryItemRequest struct {
	ProductID      string  `json:"productId"`
	Quantity       float64 `json:"quantity"`
	UnitCost       string  `json:"unitCost,omitempty"`
	ExpirationDate *string `json:"expirationDate,omitempty"`
	UsageType      string  `json:"usageType"`
}

// CreateFromDeliveryRequest creates batches from a received purchase order.
type CreateFromDeliveryRequest struct {
	PurchaseOrderID string                `json:"purchaseOrderId" binding:"required"`
	BranchID        string                `json:"branchId" binding:"required"`
	ReceivedBy      string                `json:"receivedBy,omitempty"`
	Items           []DeliveryItemRequest `json:"items" binding:"required"`
}

// ToJob converts the request into a delivery job. Line-level problems are
// left for the service to classify and skip; only envelope fields fail here.
func (r CreateFromDeliveryRequest) ToJob() (batch.DeliveryJob, error) {
	branchID, err := parseID("branchId", r.BranchID)
	if err != nil {
		return batch.DeliveryJob{}, err
	}

	job := batch.DeliveryJob{
		PurchaseOrderID: r.PurchaseOrderID,
		BranchID:        branchID,
		ReceivedBy:      r.ReceivedBy,
		Items:           make([]batch.DeliveryItem, 0, len(r.Items)),
	}

	for _, item := range r.Items {
		line := batch.DeliveryItem{
			Quantity:  types.NewQuantityFromFloat64(item.Quantity),
			UsageType: batch.UsageType(item.UsageType),
		}
		// Unparseable per-line values become zero values the service skips.
		line.ProductID, _ = parseID("productId", item.ProductID)
		line.UnitCost, _ = parseOptionalMoney("unitCost", item.UnitCost)
		line.ExpirationDate, _ = parseOptionalDate("expirationDate", item.ExpirationDate)
		job.Items = append(job.Items, line)
	}

	return job, nil
}

// TransferSourceBatchRequest is the per-source-batch breakdown of one
// transfer line.
type TransferSourceBatchRequest struct {
	BatchID        string  `json:"batchId"`
	BatchNumber    string  `json:"batchNumber"`
	Quantity       float64 `json:"quantity"`
	UnitCost       string  `json:"unitCost,omitempty"`
	ExpirationDate *string `json:"expirationDate,omitempty"`
}

// TransferItemRequest is one line of a transfer intake request.
type TransferItemRequest struct {
	ProductID     string                       `json:"productId"`
	Quantity      float64                      `json:"quantity"`
	UnitCost      string                       `json:"unitCost,omitempty"`
	UsageType     string                       `json:"usageType"`
	SourceBatches []TransferSourceBatchRequest `json:"sourceBatches,omitempty"`
}

// CreateFromTransferRequest creates batches from an inbound transfer.
type CreateFromTransferRequest struct {
	SourceTransferID string                `json:"sourceTransferId" binding:"required"`
	BranchID         string                `json:"branchId" binding:"required"`
	ReceivedBy       string                `json:"receivedBy,omitempty"`
	Items            []TransferItemRequest `json:"items" binding:"required"`
}

// ToJob converts the request into a transfer job.
func (r CreateFromTransferRequest) ToJob() (batch.TransferJob, error) {
	branchID, err := parseID("branchId", r.BranchID)
	if err != nil {
		return batch.TransferJob{}, err
	}

	job := batch.TransferJob{
		SourceTransferID: r.SourceTransferID,
		BranchID:         branchID,
		ReceivedBy:       r.ReceivedBy,
		Items:            make([]batch.TransferItem, 0, len(r.Items)),
	}

	for _, item := range r.Items {
		line := batch.TransferItem{
			Quantity:  types.NewQuantityFromFloat64(item.Quantity),
			UsageType: batch.UsageType(item.UsageType),
		}
		line.ProductID, _ = parseID("productId", item.ProductID)
		line.UnitCost, _ = parseOptionalMoney("unitCost", item.UnitCost)

		for _, src := range item.SourceBatches {
			breakdown := batch.SourceBatchLine{
				BatchNumber: src.BatchNumber,
				Quantity:    types.NewQuantityFromFloat64(src.Quantity),
			}
			breakdown.BatchID, _ = parseID("batchId", src.BatchID)
			breakdown.UnitCost, _ = parseOptionalMoney("unitCost", src.UnitCost)
			breakdown.ExpirationDate, _ = parseOptionalDate("expirationDate", src.ExpirationDate)
			line.SourceBatches = append(line.SourceBatches, breakdown)
		}

		job.Items = append(job.Items, line)
	}

	return job, nil
}

// RecordCountRequest stores a manual count against a batch.
type RecordCountRequest struct {
	CountedStock float64 `json:"countedStock" binding:"gte=0"`
	CountedBy    string  `json:"countedBy" binding:"required"`
}

// BatchListResponse wraps a batch listing.
type BatchListResponse struct {
	Items []batch.Batch `json:"items"`
	Count int           `json:"count"`
}

// SweepResponse reports an expiration sweep.
type SweepResponse struct {
	Expired int64 `json:"expired"`
}
