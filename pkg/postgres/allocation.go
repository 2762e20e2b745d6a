package postgres

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// PersistAllocation replaces a round's allocation in one transaction.
// Slots not listed as retained are deleted and the future reservations of their series are
// cancelled, new slots are inserted, section statuses are written and the round status is
// updated. Readers never observe a half-written round.
func (d *DB) PersistAllocation(ctx context.Context, write db.AllocationWrite) (*db.AllocationWriteResult, error) {
	retained := write.RetainedSlotIDs
	if retained == nil {
		retained = []string{}
	}
	result := &db.AllocationWriteResult{}

	err := d.withTx(ctx, func(tx pgx.Tx) error {
		if err := lockRound(ctx, tx, write.RoundID); err != nil {
			return err
		}

		// Cancel future bookings before their slots disappear
		cancelled, err := cancelReplacedReservations(ctx, tx, write.RoundID, retained, write.CancelFrom)
		if err != nil {
			return err
		}
		result.CancelledReservations = cancelled

		_, err = tx.Exec(ctx, `
			DELETE FROM allocated_time_slot t
			USING reservation_unit_option o, application_section s, application a
			WHERE o.id = t.reservation_unit_option_id
				AND s.id = o.application_section_id
				AND a.id = s.application_id
				AND a.application_round_id = $1
				AND NOT (t.id::text = ANY($2))
		`, write.RoundID, retained)
		if err != nil {
			return fmt.Errorf("failed to delete replaced slots: %w", err)
		}

		// Insert new slots
		statuses := maps.Clone(write.SectionStatuses)
		if statuses == nil {
			statuses = map[string]model.SectionStatus{}
		}
		for _, slot := range write.Slots {
			day, begin, end := windowColumns(slot.Window)
			// Options rejected since the round input was read never receive a slot
			tag, err := tx.Exec(ctx, `
				INSERT INTO allocated_time_slot (id, reservation_unit_option_id, day_of_week, begin_minute, end_minute)
				SELECT $1, o.id, $3, $4, $5
				FROM reservation_unit_option o
				WHERE o.id = $2 AND o.state <> 'rejected'
			`, slot.ID, slot.OptionID, day, begin, end)
			if err != nil {
				return fmt.Errorf("failed to insert slot for section %s: %w", slot.SectionID, err)
			}
			if tag.RowsAffected() == 0 {
				result.SkippedSlots = append(result.SkippedSlots, slot)
				statuses[slot.SectionID] = model.SectionUnallocated
			}
		}

		// Write section statuses
		for sectionID, status := range statuses {
			_, err := tx.Exec(ctx, `
				UPDATE application_section SET status = $2 WHERE id = $1
			`, sectionID, string(status))
			if err != nil {
				return fmt.Errorf("failed to update section %s: %w", sectionID, err)
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE application_round SET status = $2, allocated_at = $3 WHERE id = $1
		`, write.RoundID, string(write.RoundStatus), write.AllocatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to update round status: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClearAllocation deletes the round's slots except those held by locked options, cancels
// reservations of their series from cancelFrom onwards and marks sections without a slot as
// unallocated
func (d *DB) ClearAllocation(ctx context.Context, roundID string, cancelFrom time.Time) (*db.ClearResult, error) {
	result := &db.ClearResult{}
	err := d.withTx(ctx, func(tx pgx.Tx) error {
		if err := lockRound(ctx, tx, roundID); err != nil {
			return err
		}

		// Locked slots survive, so they are the retained set
		rows, err := tx.Query(ctx, `
			SELECT t.id::text
			FROM allocated_time_slot t
			JOIN reservation_unit_option o ON o.id = t.reservation_unit_option_id
			JOIN application_section s ON s.id = o.application_section_id
			JOIN application a ON a.id = s.application_id
			WHERE a.application_round_id = $1 AND o.state = 'locked'
		`, roundID)
		if err != nil {
			return fmt.Errorf("failed to query locked slots: %w", err)
		}
		retained, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to scan locked slots: %w", err)
		}
		if retained == nil {
			retained = []string{}
		}

		cancelled, err := cancelReplacedReservations(ctx, tx, roundID, retained, cancelFrom)
		if err != nil {
			return err
		}
		result.CancelledReservations = cancelled

		tag, err := tx.Exec(ctx, `
			DELETE FROM allocated_time_slot t
			USING reservation_unit_option o, application_section s, application a
			WHERE o.id = t.reservation_unit_option_id
				AND s.id = o.application_section_id
				AND a.id = s.application_id
				AND a.application_round_id = $1
				AND NOT (t.id::text = ANY($2))
		`, roundID, retained)
		if err != nil {
			return fmt.Errorf("failed to delete slots: %w", err)
		}
		result.DeletedSlots = int(tag.RowsAffected())

		_, err = tx.Exec(ctx, `
			UPDATE application_section s
			SET status = $2
			FROM application a
			WHERE a.id = s.application_id
				AND a.application_round_id = $1
				AND NOT EXISTS (
					SELECT 1 FROM allocated_time_slot t
					JOIN reservation_unit_option o ON o.id = t.reservation_unit_option_id
					WHERE o.application_section_id = s.id
				)
		`, roundID, string(model.SectionUnallocated))
		if err != nil {
			return fmt.Errorf("failed to reset section statuses: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE application_round SET status = $2, allocated_at = NULL
			WHERE id = $1 AND status = $3
		`, roundID, string(model.RoundOpen), string(model.RoundAllocated))
		if err != nil {
			return fmt.Errorf("failed to reset round status: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// cancelReplacedReservations cancels confirmed reservations from cancelFrom onwards in series
// materialized from the round's slots that are about to be deleted
func cancelReplacedReservations(ctx context.Context, tx pgx.Tx, roundID string, retained []string, cancelFrom time.Time) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE reservation r
		SET state = 'cancelled'
		FROM recurring_reservation rr, allocated_time_slot t, reservation_unit_option o,
			application_section s, application a
		WHERE r.recurring_reservation_id = rr.id
			AND rr.allocated_time_slot_id = t.id
			AND o.id = t.reservation_unit_option_id
			AND s.id = o.application_section_id
			AND a.id = s.application_id
			AND a.application_round_id = $1
			AND NOT (t.id::text = ANY($2))
			AND r.begins_at >= $3
			AND r.state = 'confirmed'
	`, roundID, retained, cancelFrom.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reservations of replaced slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// lockRound takes a row lock on the round for the rest of the transaction
func lockRound(ctx context.Context, tx pgx.Tx, roundID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM application_round WHERE id = $1 FOR UPDATE`, roundID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", db.ErrRoundNotFound, roundID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock round: %w", err)
	}
	return nil
}
