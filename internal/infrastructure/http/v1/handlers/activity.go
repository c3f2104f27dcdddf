package handlers

import (
	"github.com/gin-gonic/gin"

	"stocklot/internal/domain/activity"
	"stocklot/internal/infrastructure/http/v1/dto"
)

// ActivityHandler serves activity log reads.
type ActivityHandler struct {
	*BaseHandler
	history activity.History
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(base *BaseHandler, history activity.History) *ActivityHandler {
	return &ActivityHandler{BaseHandler: base, history: history}
}

const maxHistoryLimit = 500

// GetEntityHistory handles GET /activity/:entityId.
func (h *ActivityHandler) GetEntityHistory(c *gin.Context) {
	entityID, ok := h.ParseIDParam(c, "entityId")
	if !ok {
		return
	}

	limit := h.ParseIntQuery(c, "limit", 50)
	if limit < 1 || limit > maxHistoryLimit {
		limit = 50
	}

	entries, err := h.history.EntityHistory(c.Request.Context(), entityID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ActivityListResponse{Items: entries, Count: len(entries)})
}

// RegisterRoutes registers activity log routes.
func (h *ActivityHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/activity/:entityId", h.GetEntityHistory)
}
