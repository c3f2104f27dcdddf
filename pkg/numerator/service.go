// Package numerator issues sequential batch numbers per source document.
//
// Every delivery or transfer gets its own sequence, so the batches created
// from purchase order PO-123 are numbered PO-123-BATCH-001, PO-123-BATCH-002
// and so on. Numbers must be gap-free within a source, so only the strict
// UPDATE..RETURNING strategy is offered.
package numerator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier interface for database operations.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service provides batch numbering functionality.
type Service struct {
	querier Querier
}

// New creates a new numerator service.
func New(querier Querier) *Service {
	return &Service{querier: querier}
}

// DefaultPadWidth is the minimum sequence width in formatted numbers.
const DefaultPadWidth = 3

// NextBatchNumber reserves the next sequence value for the source document
// and returns the formatted batch number: {sourceID}-BATCH-{seq:03}.
//
// The UPSERT runs in the caller's transaction when one is active, so a
// rolled-back batch creation does not burn numbers.
func (s *Service) NextBatchNumber(ctx context.Context, sourceID string) (string, error) {
	if sourceID == "" {
		return "", fmt.Errorf("source id is required")
	}

	seq, err := s.nextValue(ctx, sourceID)
	if err != nil {
		return "", err
	}

	return FormatBatchNumber(sourceID, seq), nil
}

// nextValue bumps the per-source sequence using UPSERT + RETURNING.
func (s *Service) nextValue(ctx context.Context, key string) (int64, error) {
	var num int64
	err := s.querier.QueryRow(ctx, `
        INSERT INTO batch_sequences (source_id, current_val)
        VALUES ($1, 1)
        ON CONFLICT (source_id) DO UPDATE SET current_val = batch_sequences.current_val + 1
        RETURNING current_val
	`, key).Scan(&num)
	if err != nil {
		return 0, fmt.Errorf("next batch sequence: %w", err)
	}
	return num, nil
}

// FormatBatchNumber renders a batch number from source id and sequence.
func FormatBatchNumber(sourceID string, seq int64) string {
	return fmt.Sprintf("%s-BATCH-%0*d", sourceID, DefaultPadWidth, seq)
}

// ParseSequence extracts the numeric suffix from a formatted batch number.
// Returns -1 if parsing fails.
func ParseSequence(batchNumber string) int64 {
	var num int64
	// Source ids may themselves contain dashes, so scan from the BATCH marker.
	idx := strings.LastIndex(batchNumber, "-BATCH-")
	if idx < 0 {
		return -1
	}
	if _, err := fmt.Sscanf(batchNumber[idx+len("-BATCH-"):], "%d", &num); err != nil {
		return -1
	}
	return num
}
