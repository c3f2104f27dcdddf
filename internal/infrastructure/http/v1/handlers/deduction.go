package handlers

import (
	"github.com/gin-gonic/gin"

	"stocklot/internal/domain/deduction"
	"stocklot/internal/infrastructure/http/v1/dto"
)

// DeductionHandler serves the FIFO deduction endpoint.
type DeductionHandler struct {
	*BaseHandler
	service *deduction.Service
}

// NewDeductionHandler creates a new deduction handler.
func NewDeductionHandler(base *BaseHandler, service *deduction.Service) *DeductionHandler {
	return &DeductionHandler{BaseHandler: base, service: service}
}

// Deduct handles POST /branches/:branchId/deduct.
func (h *DeductionHandler) Deduct(c *gin.Context) {
	branchID, ok := h.ParseIDParam(c, "branchId")
	if !ok {
		return
	}

	var req dto.DeductStockRequest
	if !h.BindJSON(c, &req) {
		return
	}

	params, err := req.ToParams(branchID, h.Actor(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.service.Deduct(c.Request.Context(), params)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, result)
}

// RegisterRoutes registers deduction routes.
func (h *DeductionHandler) RegisterRoutes(branches *gin.RouterGroup) {
	branches.POST("/:branchId/deduct", h.Deduct)
}
