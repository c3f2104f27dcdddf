// Package dto defines request and response shapes for HTTP API v1.
package dto

import (
	"time"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
)

// IDResponse is the standard create response.
type IDResponse struct {
	ID string `json:"id"`
}

// SuccessResponse is the standard acknowledgement response.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DateLayout is the wire format for date-only fields such as expiration.
const DateLayout = "2006-01-02"

func parseID(field, value string) (id.ID, error) {
	parsed, err := id.Parse(value)
	if err != nil {
		return id.Nil(), apperror.NewValidation("invalid id format").WithDetail("field", field)
	}
	return parsed, nil
}

func parseOptionalDate(field string, value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, *value)
	if err != nil {
		return nil, apperror.NewValidation("invalid date, expected YYYY-MM-DD").
			WithDetail("field", field)
	}
	return &t, nil
}

func parseOptionalMoney(field string, value string) (types.Money, error) {
	if value == "" {
		return types.ZeroMoney(), nil
	}
	m, err := types.NewMoneyFromString(value)
	if err != nil {
		return types.ZeroMoney(), apperror.NewValidation("invalid monetary value").
			WithDetail("field", field)
	}
	return m, nil
}
