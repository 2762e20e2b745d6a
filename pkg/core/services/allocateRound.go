package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/pkg/clients/notifier"
	"github.com/jakechorley/seasonal-allocation/pkg/clients/roundlock"
	"github.com/jakechorley/seasonal-allocation/pkg/core/allocator"
	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// AllocateRoundStore defines the database operations needed for an allocation run
type AllocateRoundStore interface {
	db.RoundStore
	db.AllocationStore
}

// AllocateRoundOptions tunes one allocation run
type AllocateRoundOptions struct {
	// DryRun runs the engine without taking the round or writing results
	DryRun                  bool
	PlacementStep           time.Duration
	HonorCrossRoundCapacity bool
	// Now stamps the run (defaults to time.Now)
	Now func() time.Time
}

// AllocateRoundResult is the summary of an allocation run
type AllocateRoundResult struct {
	Round   model.ApplicationRound
	Outcome *allocator.AllocationOutcome
	// Slots holds every slot of the round after the run, with IDs
	Slots  []model.AllocatedTimeSlot
	DryRun bool
	// CancelledReservations counts future reservations of replaced slots' series that were cancelled
	CancelledReservations int
}

// AllocateRound runs the allocation engine over a round and persists the outcome.
//
// The run holds the round lock for its duration and marks the round as allocating until the
// outcome is committed. On failure the previous round status is restored and nothing is written.
// An allocation event is published after commit; a publish failure is logged, not returned.
func AllocateRound(
	ctx context.Context,
	store AllocateRoundStore,
	locker roundlock.Locker,
	publisher notifier.Publisher,
	logger *zap.Logger,
	roundID string,
	opts AllocateRoundOptions,
) (*AllocateRoundResult, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With(zap.String("round_id", roundID))
	logger.Debug("Allocating round", zap.Bool("dry_run", opts.DryRun))

	if !opts.DryRun {
		release, err := locker.Acquire(ctx, roundID)
		if errors.Is(err, roundlock.ErrLocked) {
			return nil, fmt.Errorf("%w: %s", ErrRoundLocked, roundID)
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release round lock", zap.Error(err))
			}
		}()
	}

	input, err := store.GetRoundInput(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round input: %w", err)
	}
	previousStatus := input.Round.Status

	switch {
	case previousStatus == model.RoundResultsSent:
		return nil, fmt.Errorf("%w: %s", ErrResultsSent, roundID)
	case previousStatus == model.RoundAllocating:
		return nil, fmt.Errorf("%w: %s is already %s", ErrRoundLocked, roundID, previousStatus)
	case !previousStatus.CanAllocate():
		return nil, fmt.Errorf("round %s cannot be allocated in status %q", roundID, previousStatus)
	}

	logger.Debug("Loaded round input",
		zap.Int("applications", len(input.Applications)),
		zap.Int("sections", len(input.Sections())),
		zap.Int("existing_slots", len(input.ExistingSlots)),
		zap.Int("reserved_slots", len(input.ReservedSlots)))

	if !opts.DryRun {
		err := store.TransitionRoundStatus(ctx, roundID, previousStatus, model.RoundAllocating)
		if errors.Is(err, db.ErrRoundStatusChanged) {
			return nil, fmt.Errorf("%w: %v", ErrRoundLocked, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to mark round as allocating: %w", err)
		}
	}
	restore := func(cause error) error {
		if opts.DryRun {
			return cause
		}
		err := store.TransitionRoundStatus(context.WithoutCancel(ctx), roundID, model.RoundAllocating, previousStatus)
		if err != nil {
			logger.Error("Failed to restore round status",
				zap.String("status", string(previousStatus)),
				zap.Error(err))
		}
		return cause
	}

	outcome, err := allocator.Allocate(allocator.AllocationConfig{
		Round:                   input.Round,
		Applications:            input.Applications,
		ExistingSlots:           input.ExistingSlots,
		ReservedSlots:           input.ReservedSlots,
		HonorCrossRoundCapacity: opts.HonorCrossRoundCapacity,
		PlacementStep:           opts.PlacementStep,
	})
	if err != nil {
		var conflict *allocator.ConflictError
		if errors.As(err, &conflict) {
			logger.Error("Allocation hit a capacity conflict",
				zap.String("reservation_unit_id", conflict.ReservationUnitID),
				zap.String("window", conflict.Window.String()),
				zap.String("owner", conflict.Owner),
				zap.String("conflicting_owner", conflict.ConflictingOwner))
		}
		return nil, restore(fmt.Errorf("allocation failed: %w", err))
	}

	write := buildAllocationWrite(roundID, outcome, opts.Now())
	result := &AllocateRoundResult{
		Round:   input.Round,
		Outcome: outcome,
		Slots:   roundSlots(outcome),
		DryRun:  opts.DryRun,
	}

	logger.Info("Allocation computed",
		zap.Int("allocated", outcome.AllocatedCount()),
		zap.Int("unallocated", outcome.UnallocatedCount()),
		zap.Int("retained", outcome.RetainedCount()),
		zap.Int("new_slots", len(write.Slots)))

	if opts.DryRun {
		return result, nil
	}

	persisted, err := store.PersistAllocation(ctx, write)
	if err != nil {
		return nil, restore(fmt.Errorf("failed to persist allocation: %w", err))
	}
	result.Round.Status = write.RoundStatus
	result.CancelledReservations = persisted.CancelledReservations
	if len(persisted.SkippedSlots) > 0 {
		dropSkippedSlots(result, persisted.SkippedSlots)
		write.Slots = slices.DeleteFunc(write.Slots, func(slot model.AllocatedTimeSlot) bool {
			return slices.ContainsFunc(persisted.SkippedSlots, func(s model.AllocatedTimeSlot) bool { return s.ID == slot.ID })
		})
		for _, slot := range persisted.SkippedSlots {
			logger.Warn("Skipped slot of an option rejected during allocation",
				zap.String("option_id", slot.OptionID),
				zap.String("section_id", slot.SectionID))
		}
	}
	if result.CancelledReservations > 0 {
		logger.Info("Cancelled reservations of replaced slots", zap.Int("cancelled", result.CancelledReservations))
	}

	event := notifier.AllocationCompletedEvent{
		RoundID:            roundID,
		AllocatedSlots:     len(write.Slots),
		RetainedSlots:      len(write.RetainedSlotIDs),
		AllocatedSections:  outcome.AllocatedCount(),
		UnallocatedSection: outcome.UnallocatedCount(),
		CompletedAt:        write.AllocatedAt,
	}
	if err := publisher.PublishAllocationCompleted(ctx, event); err != nil {
		logger.Warn("Failed to publish allocation event", zap.Error(err))
	}

	return result, nil
}

// buildAllocationWrite assigns IDs to newly placed slots and collects the writes for the round.
// The outcome's section results are updated in place with the new IDs.
func buildAllocationWrite(roundID string, outcome *allocator.AllocationOutcome, now time.Time) db.AllocationWrite {
	write := db.AllocationWrite{
		RoundID:         roundID,
		Slots:           []model.AllocatedTimeSlot{},
		RetainedSlotIDs: []string{},
		SectionStatuses: make(map[string]model.SectionStatus, len(outcome.SectionResults)),
		RoundStatus:     model.RoundAllocated,
		AllocatedAt:     now,
		CancelFrom:      now,
	}

	for i, r := range outcome.SectionResults {
		write.SectionStatuses[r.SectionID] = r.Status
		if r.Slot == nil {
			continue
		}
		if r.Retained {
			write.RetainedSlotIDs = append(write.RetainedSlotIDs, r.Slot.ID)
			continue
		}
		slot := *r.Slot
		slot.ID = uuid.New().String()
		outcome.SectionResults[i].Slot = &slot
		write.Slots = append(write.Slots, slot)
	}

	return write
}

// dropSkippedSlots marks sections whose slot was not written as unallocated
func dropSkippedSlots(result *AllocateRoundResult, skipped []model.AllocatedTimeSlot) {
	skippedIDs := make(map[string]bool, len(skipped))
	skippedSections := make(map[string]bool, len(skipped))
	for _, slot := range skipped {
		skippedIDs[slot.ID] = true
		skippedSections[slot.SectionID] = true
	}
	result.Outcome.Slots = slices.DeleteFunc(result.Outcome.Slots, func(slot model.AllocatedTimeSlot) bool {
		return skippedSections[slot.SectionID]
	})

	for i, r := range result.Outcome.SectionResults {
		if r.Slot == nil || !skippedIDs[r.Slot.ID] {
			continue
		}
		result.Outcome.SectionResults[i].Slot = nil
		result.Outcome.SectionResults[i].Status = model.SectionUnallocated
		result.Outcome.SectionResults[i].Reason = allocator.ReasonOptionRejected
	}
	result.Slots = roundSlots(result.Outcome)
}

// roundSlots lists the slots held after the run, in processing order
func roundSlots(outcome *allocator.AllocationOutcome) []model.AllocatedTimeSlot {
	slots := make([]model.AllocatedTimeSlot, 0, len(outcome.SectionResults))
	for _, r := range outcome.SectionResults {
		if r.Slot != nil {
			slots = append(slots, *r.Slot)
		}
	}
	return slots
}
