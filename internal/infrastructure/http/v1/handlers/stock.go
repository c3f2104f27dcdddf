package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/movement"
	"stocklot/internal/infrastructure/http/v1/dto"
)

// StockHandler serves aggregate stock ledger endpoints.
type StockHandler struct {
	*BaseHandler
	service *ledger.Service
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(base *BaseHandler, service *ledger.Service) *StockHandler {
	return &StockHandler{BaseHandler: base, service: service}
}

// GetBranchStocks handles GET /branches/:branchId/stocks.
func (h *StockHandler) GetBranchStocks(c *gin.Context) {
	ctx := c.Request.Context()

	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	filter := ledger.ListFilter{
		ExcludeZero: c.Query("excludeZero") == "true",
		Limit:       h.ParseIntQuery(c, "limit", 100),
		Offset:      h.ParseIntQuery(c, "offset", 0),
	}
	if status := c.Query("status"); status != "" {
		s := ledger.Status(status)
		filter.Status = &s
	}
	if productID := c.Query("productId"); productID != "" {
		if parsed, err := id.Parse(productID); err == nil {
			filter.ProductIDs = []id.ID{parsed}
		}
	}

	records, err := h.service.GetBranchStocks(ctx, branchID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.StockListResponse{Items: records, Count: len(records)})
}

// GetStock handles GET /stocks/:id.
func (h *StockHandler) GetStock(c *gin.Context) {
	recordID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	record, err := h.service.GetStock(c.Request.Context(), recordID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, record)
}

// AddStock handles POST /stocks/:id/add.
func (h *StockHandler) AddStock(c *gin.Context) {
	h.adjust(c, h.service.AddStock)
}

// ReduceStock handles POST /stocks/:id/reduce.
func (h *StockHandler) ReduceStock(c *gin.Context) {
	h.adjust(c, h.service.ReduceStock)
}

func (h *StockHandler) adjust(c *gin.Context, op func(ctx context.Context, p ledger.AdjustParams) (*ledger.StockRecord, error)) {
	ctx := c.Request.Context()

	recordID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.AdjustStockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	record, err := h.service.GetStock(ctx, recordID)
	if err != nil {
		h.Error(c, err)
		return
	}

	updated, err := op(ctx, ledger.AdjustParams{
		BranchID:   record.BranchID,
		ProductID:  record.ProductID,
		Quantity:   types.NewQuantityFromFloat64(req.Quantity),
		Reason:     req.Reason,
		AdjustedBy: h.Actor(c),
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, updated)
}

// UpdateStock handles PUT /stocks/:id.
func (h *StockHandler) UpdateStock(c *gin.Context) {
	recordID, ok := h.ParseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateStockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	params, err := req.ToParams()
	if err != nil {
		h.Error(c, err)
		return
	}

	record, err := h.service.UpdateSettings(c.Request.Context(), recordID, params)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, record)
}

// GetMovements handles GET /branches/:branchId/movements.
func (h *StockHandler) GetMovements(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	filter := movement.Filter{
		Limit:  h.ParseIntQuery(c, "limit", 50),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}
	if productID := c.Query("productId"); productID != "" {
		if parsed, err := id.Parse(productID); err == nil {
			filter.ProductID = &parsed
		}
	}
	if typ := c.Query("type"); typ != "" {
		t := movement.Type(typ)
		filter.Type = &t
	}
	if from := c.Query("dateFrom"); from != "" {
		if parsed, err := time.Parse(time.RFC3339, from); err == nil {
			filter.FromDate = &parsed
		}
	}
	if to := c.Query("dateTo"); to != "" {
		if parsed, err := time.Parse(time.RFC3339, to); err == nil {
			filter.ToDate = &parsed
		}
	}

	records, total, err := h.service.GetMovements(c.Request.Context(), branchID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.MovementListResponse{
		Items:      records,
		TotalCount: total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// GetStats handles GET /branches/:branchId/stats.
func (h *StockHandler) GetStats(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	stats, err := h.service.GetStats(c.Request.Context(), branchID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, stats)
}

// RegisterRoutes registers stock ledger routes.
func (h *StockHandler) RegisterRoutes(branches, stocks *gin.RouterGroup) {
	branches.GET("/:branchId/stocks", h.GetBranchStocks)
	branches.GET("/:branchId/movements", h.GetMovements)
	branches.GET("/:branchId/stats", h.GetStats)

	stocks.GET("/:id", h.GetStock)
	stocks.PUT("/:id", h.UpdateStock)
	stocks.POST("/:id/add", h.AddStock)
	stocks.POST("/:id/reduce", h.ReduceStock)
}
