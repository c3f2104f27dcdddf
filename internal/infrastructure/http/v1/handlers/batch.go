package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/allocation"
	"stocklot/internal/domain/batch"
	"stocklot/internal/infrastructure/http/v1/dto"
)

// BatchHandler serves batch catalog and allocation preview endpoints.
type BatchHandler struct {
	*BaseHandler
	service   *batch.Service
	allocator *allocation.Service
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(base *BaseHandler, service *batch.Service, allocator *allocation.Service) *BatchHandler {
	return &BatchHandler{BaseHandler: base, service: service, allocator: allocator}
}

// CreateFromDelivery handles POST /batches/from-delivery.
func (h *BatchHandler) CreateFromDelivery(c *gin.Context) {
	var req dto.CreateFromDeliveryRequest
	if !h.BindJSON(c, &req) {
		return
	}

	job, err := req.ToJob()
	if err != nil {
		h.Error(c, err)
		return
	}
	if job.ReceivedBy == "" {
		job.ReceivedBy = h.Actor(c)
	}

	result, err := h.service.CreateFromDelivery(c.Request.Context(), job)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(201, result)
}

// CreateFromTransfer handles POST /batches/from-transfer.
func (h *BatchHandler) CreateFromTransfer(c *gin.Context) {
	var req dto.CreateFromTransferRequest
	if !h.BindJSON(c, &req) {
		return
	}

	job, err := req.ToJob()
	if err != nil {
		h.Error(c, err)
		return
	}
	if job.ReceivedBy == "" {
		job.ReceivedBy = h.Actor(c)
	}

	result, err := h.service.CreateFromTransfer(c.Request.Context(), job)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(201, result)
}

// GetProductBatches handles GET /branches/:branchId/products/:productId/batches.
func (h *BatchHandler) GetProductBatches(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}
	productID, ok := h.ParseIDParam(c, "productId")
	if !ok {
		return
	}

	batches, err := h.service.GetProductBatches(c.Request.Context(), branchID, productID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.BatchListResponse{Items: batches, Count: len(batches)})
}

// GetBranchBatches handles GET /branches/:branchId/batches.
func (h *BatchHandler) GetBranchBatches(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	filter := batch.ListFilter{
		ActiveOnly: c.Query("activeOnly") == "true",
		Limit:      h.ParseIntQuery(c, "limit", 100),
		Offset:     h.ParseIntQuery(c, "offset", 0),
	}
	if productID := c.Query("productId"); productID != "" {
		if parsed, err := id.Parse(productID); err == nil {
			filter.ProductID = &parsed
		}
	}
	if status := c.Query("status"); status != "" {
		s := batch.Status(status)
		filter.Status = &s
	}
	if usage := c.Query("usageType"); usage != "" {
		u := batch.UsageType(usage)
		filter.UsageType = &u
	}

	batches, err := h.service.GetBranchBatches(c.Request.Context(), branchID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.BatchListResponse{Items: batches, Count: len(batches)})
}

// preview serves the for-sale / for-transfer eligible batch listings; the
// two differ only in usage pool default.
func (h *BatchHandler) preview(c *gin.Context, defaultUsage batch.UsageType) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}
	productID, ok := h.ParseIDParam(c, "productId")
	if !ok {
		return
	}

	usage := defaultUsage
	if q := c.Query("usageType"); q != "" {
		usage = batch.UsageType(q)
	}

	if qty := c.Query("quantity"); qty != "" {
		requested := types.NewQuantityFromFloat64(floatQuery(c, "quantity"))
		plan, err := h.allocator.PlanAllocation(c.Request.Context(), branchID, productID, requested, usage)
		if err != nil {
			h.Error(c, err)
			return
		}
		h.OK(c, plan)
		return
	}

	batches, err := h.allocator.EligibleBatches(c.Request.Context(), branchID, productID, usage)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.BatchListResponse{Items: batches, Count: len(batches)})
}

// GetBatchesForSale handles GET .../batches/for-sale.
func (h *BatchHandler) GetBatchesForSale(c *gin.Context) {
	h.preview(c, batch.UsageOTC)
}

// GetBatchesForTransfer handles GET .../batches/for-transfer.
func (h *BatchHandler) GetBatchesForTransfer(c *gin.Context) {
	h.preview(c, batch.UsageOTC)
}

// GetExpiringBatches handles GET /branches/:branchId/batches/expiring.
func (h *BatchHandler) GetExpiringBatches(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	daysAhead := h.ParseIntQuery(c, "daysAhead", 30)
	batches, err := h.service.GetExpiringBatches(c.Request.Context(), branchID, daysAhead)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.BatchListResponse{Items: batches, Count: len(batches)})
}

// GetExpiredBatches handles GET /branches/:branchId/batches/expired.
func (h *BatchHandler) GetExpiredBatches(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	batches, err := h.service.GetExpiredBatches(c.Request.Context(), branchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.BatchListResponse{Items: batches, Count: len(batches)})
}

// SweepExpired handles POST /branches/:branchId/batches/sweep-expired.
func (h *BatchHandler) SweepExpired(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	count, err := h.service.SweepExpired(c.Request.Context(), branchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.SweepResponse{Expired: count})
}

// RecordCount handles POST /batches/:batchId/count.
func (h *BatchHandler) RecordCount(c *gin.Context) {
	batchID, ok := h.ParseIDParam(c, "batchId")
	if !ok {
		return
	}

	var req dto.RecordCountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	entry, err := h.service.RecordCount(c.Request.Context(), batchID,
		types.NewQuantityFromFloat64(req.CountedStock), req.CountedBy)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, entry)
}

// GetBatch handles GET /batches/:batchId.
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batchID, ok := h.ParseIDParam(c, "batchId")
	if !ok {
		return
	}

	b, err := h.service.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, b)
}

// RegisterRoutes registers batch catalog routes.
func (h *BatchHandler) RegisterRoutes(branches, batches *gin.RouterGroup) {
	branches.GET("/:branchId/products/:productId/batches", h.GetProductBatches)
	branches.GET("/:branchId/products/:productId/batches/for-sale", h.GetBatchesForSale)
	branches.GET("/:branchId/products/:productId/batches/for-transfer", h.GetBatchesForTransfer)
	branches.GET("/:branchId/batches", h.GetBranchBatches)
	branches.GET("/:branchId/batches/expiring", h.GetExpiringBatches)
	branches.GET("/:branchId/batches/expired", h.GetExpiredBatches)
	branches.POST("/:branchId/batches/sweep-expired", h.SweepExpired)

	batches.POST("/from-delivery", h.CreateFromDelivery)
	batches.POST("/from-transfer", h.CreateFromTransfer)
	batches.GET("/:batchId", h.GetBatch)
	batches.POST("/:batchId/count", h.RecordCount)
}

func floatQuery(c *gin.Context, key string) float64 {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	if err != nil {
		return 0
	}
	return v
}
