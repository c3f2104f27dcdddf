package allocation

import (
	"context"
	"fmt"
	"time"

	"stocklot/internal/core/apperror"
	"stocklot/internal/core/id"
	"stocklot/internal/core/types"
	"stocklot/internal/domain/batch"
)

// Service exposes allocation previews over the batch catalog.
type Service struct {
	batches batch.Repository
}

// NewService creates a new allocation service.
func NewService(batches batch.Repository) *Service {
	return &Service{batches: batches}
}

// PlanAllocation computes a FIFO plan for the requested quantity without
// mutating anything. Zero eligible batches yields NoBatchesAvailable; partial
// coverage yields InsufficientStock carrying the total available quantity.
func (s *Service) PlanAllocation(ctx context.Context, branchID, productID id.ID, requested types.Quantity, usageType batch.UsageType) (*Plan, error) {
	if !requested.IsPositive() {
		return nil, apperror.NewInvalidInput("requested quantity must be positive").
			WithDetail("requested", requested.Float64())
	}
	if !usageType.Valid() {
		return nil, apperror.NewInvalidInput("unknown usage type").
			WithDetail("usage_type", string(usageType))
	}

	now := time.Now().UTC()
	eligible, err := s.batches.GetAllocatable(ctx, branchID, productID, usageType, now)
	if err != nil {
		return nil, fmt.Errorf("fetch allocatable batches: %w", err)
	}

	if len(eligible) == 0 {
		// Distinguish "nothing at all" from "nothing in this usage pool".
		other := batch.UsageOTC
		if usageType == batch.UsageOTC {
			other = batch.UsageSalon
		}
		otherPool, err := s.batches.GetAllocatable(ctx, branchID, productID, other, now)
		if err == nil && len(otherPool) > 0 {
			return nil, apperror.NewUsageTypeMismatch(productID.String(), string(usageType))
		}
		return nil, apperror.NewNoBatchesAvailable(productID.String(), string(usageType))
	}

	SortFIFO(eligible)
	plan, available := Greedy(eligible, requested)

	if plan.Total < requested {
		return nil, apperror.NewInsufficientStock(productID.String(), requested.Float64(), available.Float64())
	}

	return &plan, nil
}

// EligibleBatches returns the allocatable batches in FIFO order, for preview
// listings ("which lots would a sale of this product draw from").
func (s *Service) EligibleBatches(ctx context.Context, branchID, productID id.ID, usageType batch.UsageType) ([]batch.Batch, error) {
	if !usageType.Valid() {
		return nil, apperror.NewInvalidInput("unknown usage type").
			WithDetail("usage_type", string(usageType))
	}

	eligible, err := s.batches.GetAllocatable(ctx, branchID, productID, usageType, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("fetch allocatable batches: %w", err)
	}

	SortFIFO(eligible)
	return eligible, nil
}
