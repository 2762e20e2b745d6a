package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// RejectOptionResult reports the effect of rejecting an option
type RejectOptionResult struct {
	OptionID              string
	SectionID             string
	SlotDeleted           bool
	CancelledReservations int
}

// RejectOption rejects a reservation unit option.
//
// If the option holds a slot, the slot is deleted, reservations of its series starting at or
// after now are cancelled (past ones are untouched) and the section reverts to unallocated.
// Allocation is not re-run. Rejecting a rejected option is a no-op.
func RejectOption(ctx context.Context, store db.OptionStore, logger *zap.Logger, optionID string, now time.Time) (*RejectOptionResult, error) {
	rec, err := store.GetOption(ctx, optionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load option: %w", err)
	}

	result := &RejectOptionResult{OptionID: optionID, SectionID: rec.Option.SectionID}

	if rec.Option.State == model.OptionRejected {
		logger.Info("Option already rejected", zap.String("option_id", optionID))
		return result, nil
	}
	if err := checkRoundNotAllocating(rec); err != nil {
		return nil, err
	}

	cascade, err := store.RejectOption(ctx, db.RejectionWrite{
		OptionID:   optionID,
		SectionID:  rec.Option.SectionID,
		CancelFrom: now,
	})
	if err != nil {
		return nil, optionWriteError("failed to reject option", optionID, err)
	}
	result.SlotDeleted = cascade.SlotDeleted
	result.CancelledReservations = cascade.CancelledReservations

	logger.Info("Rejected option",
		zap.String("option_id", optionID),
		zap.String("section_id", rec.Option.SectionID),
		zap.Bool("slot_deleted", result.SlotDeleted),
		zap.Int("cancelled_reservations", result.CancelledReservations))

	return result, nil
}

// LockOption locks an option so a re-run keeps its slot and places nothing new on it
func LockOption(ctx context.Context, store db.OptionStore, logger *zap.Logger, optionID string) error {
	return setOptionState(ctx, store, logger, optionID, model.OptionLocked)
}

// UnlockOption reopens a locked option
func UnlockOption(ctx context.Context, store db.OptionStore, logger *zap.Logger, optionID string) error {
	return setOptionState(ctx, store, logger, optionID, model.OptionOpen)
}

func setOptionState(ctx context.Context, store db.OptionStore, logger *zap.Logger, optionID string, state model.OptionState) error {
	rec, err := store.GetOption(ctx, optionID)
	if err != nil {
		return fmt.Errorf("failed to load option: %w", err)
	}

	if rec.Option.State == model.OptionRejected {
		return fmt.Errorf("%w: %s", ErrOptionRejected, optionID)
	}
	if rec.Option.State == state {
		logger.Debug("Option state unchanged", zap.String("option_id", optionID), zap.String("state", string(state)))
		return nil
	}
	if err := checkRoundNotAllocating(rec); err != nil {
		return err
	}

	if err := store.SetOptionState(ctx, optionID, state); err != nil {
		return optionWriteError("failed to update option", optionID, err)
	}

	logger.Info("Updated option state",
		zap.String("option_id", optionID),
		zap.String("from", string(rec.Option.State)),
		zap.String("to", string(state)))
	return nil
}

// checkRoundNotAllocating refuses option changes while the option's round is mid-allocation
func checkRoundNotAllocating(rec *db.OptionRecord) error {
	if rec.RoundStatus == model.RoundAllocating {
		return fmt.Errorf("%w: option %s belongs to round %s", ErrRoundLocked, rec.Option.ID, rec.RoundID)
	}
	return nil
}

// optionWriteError maps a store refusal during allocation onto ErrRoundLocked
func optionWriteError(msg, optionID string, err error) error {
	if errors.Is(err, db.ErrRoundAllocating) {
		return fmt.Errorf("%w: option %s: %v", ErrRoundLocked, optionID, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
