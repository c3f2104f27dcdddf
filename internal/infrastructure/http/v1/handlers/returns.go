package handlers

import (
	"github.com/gin-gonic/gin"

	"stocklot/internal/domain/returns"
	"stocklot/internal/infrastructure/http/v1/dto"
)

// ReturnsHandler serves the transfer return endpoint.
type ReturnsHandler struct {
	*BaseHandler
	service *returns.Service
}

// NewReturnsHandler creates a new returns handler.
func NewReturnsHandler(base *BaseHandler, service *returns.Service) *ReturnsHandler {
	return &ReturnsHandler{BaseHandler: base, service: service}
}

// Return handles POST /batches/:batchId/return.
func (h *ReturnsHandler) Return(c *gin.Context) {
	batchID, ok := h.ParseIDParam(c, "batchId")
	if !ok {
		return
	}

	var req dto.ReturnStockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	params, err := req.ToParams(batchID, h.Actor(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.ReturnStock(c.Request.Context(), params)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, result)
}

// RegisterRoutes registers return routes.
func (h *ReturnsHandler) RegisterRoutes(batches *gin.RouterGroup) {
	batches.POST("/:batchId/return", h.Return)
}
