package movement

import (
	"context"
	"time"

	"stocklot/internal/core/id"
)

// Repository persists movement records. There is intentionally no update or
// delete: the log is append-only.
type Repository interface {
	Create(ctx context.Context, r *Record) error

	// CreateMany bulk-appends records, used by multi-line jobs such as
	// delivery intake. Implementations may use the COPY protocol.
	CreateMany(ctx context.Context, records []Record) error

	ListByBranch(ctx context.Context, branchID id.ID, filter Filter) ([]Record, error)
	CountByBranch(ctx context.Context, branchID id.ID, filter Filter) (int64, error)
}

// Filter narrows movement history queries.
type Filter struct {
	ProductID *id.ID
	Type      *Type
	FromDate  *time.Time
	ToDate    *time.Time

	Limit  int
	Offset int
}
