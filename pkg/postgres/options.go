package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// GetOption loads an option with its round, allocated slot and materialized series
func (d *DB) GetOption(ctx context.Context, optionID string) (*db.OptionRecord, error) {
	var rec db.OptionRecord
	var state, roundStatus string
	var slotID, seriesID *string
	var day *int16
	var begin, end *int32

	err := d.pool.QueryRow(ctx, `
		SELECT o.id, o.application_section_id, o.reservation_unit_id, o.preferred_order, o.state,
			r.id, r.status,
			t.id, t.day_of_week, t.begin_minute, t.end_minute,
			rr.id
		FROM reservation_unit_option o
		JOIN application_section s ON s.id = o.application_section_id
		JOIN application a ON a.id = s.application_id
		JOIN application_round r ON r.id = a.application_round_id
		LEFT JOIN allocated_time_slot t ON t.reservation_unit_option_id = o.id
		LEFT JOIN recurring_reservation rr ON rr.allocated_time_slot_id = t.id
		WHERE o.id = $1
	`, optionID).Scan(
		&rec.Option.ID, &rec.Option.SectionID, &rec.Option.ReservationUnitID, &rec.Option.Rank, &state,
		&rec.RoundID, &roundStatus,
		&slotID, &day, &begin, &end,
		&seriesID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", db.ErrOptionNotFound, optionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query option: %w", err)
	}

	rec.Option.State, err = model.ParseOptionState(state)
	if err != nil {
		return nil, fmt.Errorf("option %s: %w", optionID, err)
	}
	rec.RoundStatus = model.RoundStatus(roundStatus)

	if slotID != nil {
		rec.Slot = &model.AllocatedTimeSlot{
			ID:                *slotID,
			OptionID:          rec.Option.ID,
			SectionID:         rec.Option.SectionID,
			ReservationUnitID: rec.Option.ReservationUnitID,
			Window:            windowFromColumns(*day, *begin, *end),
		}
	}
	if seriesID != nil {
		rec.SeriesID = *seriesID
	}

	return &rec, nil
}

// SetOptionState updates an option's state unless its round is being allocated
func (d *DB) SetOptionState(ctx context.Context, optionID string, state model.OptionState) error {
	return d.withTx(ctx, func(tx pgx.Tx) error {
		if err := lockOptionRound(ctx, tx, optionID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE reservation_unit_option SET state = $2 WHERE id = $1
		`, optionID, string(state))
		if err != nil {
			return fmt.Errorf("failed to set option state: %w", err)
		}
		return nil
	})
}

// RejectOption marks the option rejected and cascades in one transaction: reservations of the
// slot's series from CancelFrom onwards are cancelled, the slot is deleted and the section
// reverts to unallocated. The slot and series are resolved under the round lock.
func (d *DB) RejectOption(ctx context.Context, write db.RejectionWrite) (*db.RejectionResult, error) {
	result := &db.RejectionResult{}

	err := d.withTx(ctx, func(tx pgx.Tx) error {
		if err := lockOptionRound(ctx, tx, write.OptionID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE reservation_unit_option SET state = $2 WHERE id = $1
		`, write.OptionID, string(model.OptionRejected))
		if err != nil {
			return fmt.Errorf("failed to reject option: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE reservation r
			SET state = 'cancelled'
			FROM recurring_reservation rr, allocated_time_slot t
			WHERE r.recurring_reservation_id = rr.id
				AND rr.allocated_time_slot_id = t.id
				AND t.reservation_unit_option_id = $1
				AND r.begins_at >= $2
				AND r.state = 'confirmed'
		`, write.OptionID, write.CancelFrom.UTC())
		if err != nil {
			return fmt.Errorf("failed to cancel future reservations: %w", err)
		}
		result.CancelledReservations = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `DELETE FROM allocated_time_slot WHERE reservation_unit_option_id = $1`, write.OptionID)
		if err != nil {
			return fmt.Errorf("failed to delete allocated slot: %w", err)
		}
		result.SlotDeleted = tag.RowsAffected() > 0

		if result.SlotDeleted {
			_, err = tx.Exec(ctx, `
				UPDATE application_section SET status = $2 WHERE id = $1
			`, write.SectionID, string(model.SectionUnallocated))
			if err != nil {
				return fmt.Errorf("failed to reset section status: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockOptionRound takes a row lock on the option's round and refuses rounds mid-allocation
func lockOptionRound(ctx context.Context, tx pgx.Tx, optionID string) error {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT r.status
		FROM application_round r
		JOIN application a ON a.application_round_id = r.id
		JOIN application_section s ON s.application_id = a.id
		JOIN reservation_unit_option o ON o.application_section_id = s.id
		WHERE o.id = $1
		FOR UPDATE OF r
	`, optionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", db.ErrOptionNotFound, optionID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock option round: %w", err)
	}
	if model.RoundStatus(status) == model.RoundAllocating {
		return fmt.Errorf("%w: option %s", db.ErrRoundAllocating, optionID)
	}
	return nil
}
