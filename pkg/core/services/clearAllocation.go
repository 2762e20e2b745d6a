package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// ClearAllocationStore defines the database operations needed to clear a round
type ClearAllocationStore interface {
	db.RoundStore
	db.AllocationStore
}

// ClearAllocationResult reports what was cleared
type ClearAllocationResult struct {
	RoundID               string
	DeletedSlots          int
	CancelledReservations int
}

// ClearAllocation removes a round's allocation so it can be re-run.
// Slots held by locked options survive. Reservations of deleted slots' series starting at or
// after now are cancelled. Rounds whose results were sent cannot be cleared.
func ClearAllocation(ctx context.Context, store ClearAllocationStore, logger *zap.Logger, roundID string, now time.Time) (*ClearAllocationResult, error) {
	input, err := store.GetRoundInput(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}

	switch input.Round.Status {
	case model.RoundResultsSent:
		return nil, fmt.Errorf("%w: %s", ErrResultsSent, roundID)
	case model.RoundAllocating:
		return nil, fmt.Errorf("%w: %s", ErrRoundLocked, roundID)
	}

	cleared, err := store.ClearAllocation(ctx, roundID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to clear allocation: %w", err)
	}

	logger.Info("Cleared allocation",
		zap.String("round_id", roundID),
		zap.Int("deleted_slots", cleared.DeletedSlots),
		zap.Int("cancelled_reservations", cleared.CancelledReservations))

	return &ClearAllocationResult{
		RoundID:               roundID,
		DeletedSlots:          cleared.DeletedSlots,
		CancelledReservations: cleared.CancelledReservations,
	}, nil
}
