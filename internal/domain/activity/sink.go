// Package activity defines the best-effort activity log contract.
//
// Activity entries are operational breadcrumbs for the back office, not the
// audit trail - that is the movement log. Sink failures are logged and
// swallowed; they must never roll back an inventory mutation.
package activity

import (
	"context"

	"stocklot/internal/core/id"
	"stocklot/pkg/logger"
)

// Action classifies the logged operation.
type Action string

const (
	ActionBatchCreated Action = "batch_created"
	ActionStockDeducted Action = "stock_deducted"
	ActionStockReturned Action = "stock_returned"
	ActionStockAdjusted Action = "stock_adjusted"
	ActionBatchExpired  Action = "batch_expired"
)

// Entry is one activity log record.
type Entry struct {
	Action   Action `json:"action"`
	BranchID id.ID  `json:"branchId"`
	EntityID id.ID  `json:"entityId"`
	Actor    string `json:"actor,omitempty"`

	// Changes holds arbitrary structured context, stored compressed when
	// large.
	Changes map[string]any `json:"changes,omitempty"`
}

// Sink records activity entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// History reads back recorded entries for one entity, newest first.
type History interface {
	EntityHistory(ctx context.Context, entityID id.ID, limit int) ([]Entry, error)
}

// BestEffort records the entry and downgrades any failure to a warning.
// Call this after the primary transaction has committed.
func BestEffort(ctx context.Context, sink Sink, e Entry) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, e); err != nil {
		logger.Warn(ctx, "activity log write failed",
			"action", string(e.Action),
			"entity_id", e.EntityID,
			"error", err,
		)
	}
}
