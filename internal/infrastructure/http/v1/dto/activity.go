package dto

import "stocklot/internal/domain/activity"

// ActivityListResponse wraps an entity's activity history, newest first.
type ActivityListResponse struct {
	Items []activity.Entry `json:"items"`
	Count int              `json:"count"`
}
