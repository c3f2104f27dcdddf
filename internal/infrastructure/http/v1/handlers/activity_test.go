package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocklot/internal/core/id"
	"stocklot/internal/domain/activity"
	"stocklot/internal/infrastructure/http/v1/dto"
)

type stubHistory struct {
	entries  []activity.Entry
	entityID id.ID
	limit    int
}

func (s *stubHistory) EntityHistory(_ context.Context, entityID id.ID, limit int) ([]activity.Entry, error) {
	s.entityID = entityID
	s.limit = limit
	return s.entries, nil
}

func newActivityRouter(history activity.History) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewActivityHandler(NewBaseHandler(), history)
	h.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestGetEntityHistory(t *testing.T) {
	entityID := id.New()
	history := &stubHistory{entries: []activity.Entry{
		{Action: activity.ActionStockDeducted, EntityID: entityID, Actor: "cashier"},
		{Action: activity.ActionBatchCreated, EntityID: entityID},
	}}
	router := newActivityRouter(history)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activity/"+entityID.String()+"?limit=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entityID, history.entityID)
	assert.Equal(t, 10, history.limit)

	var resp dto.ActivityListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, activity.ActionStockDeducted, resp.Items[0].Action)
}

func TestGetEntityHistory_ClampsLimit(t *testing.T) {
	history := &stubHistory{}
	router := newActivityRouter(history)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activity/"+id.New().String()+"?limit=9999", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 50, history.limit)
}

func TestGetEntityHistory_BadID(t *testing.T) {
	router := newActivityRouter(&stubHistory{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/activity/not-a-uuid", nil)
	router.ServeHTTP(w, req)

	// Without the error middleware the aborted request stays at 200 with an
	// empty body; the handler must not have reached the history store.
	assert.Empty(t, w.Body.String())
}
