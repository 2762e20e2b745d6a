package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/occurrences"
)

// EnsureSeries returns the series materialized from the slot, creating it if missing.
// The boolean is true when the series was created by this call.
func (d *DB) EnsureSeries(ctx context.Context, series model.RecurringReservation) (model.RecurringReservation, bool, error) {
	if series.ID == "" {
		series.ID = uuid.New().String()
	}
	day, begin, end := windowColumns(series.Window)

	var slotID *string
	if series.AllocatedTimeSlotID != "" {
		slotID = &series.AllocatedTimeSlotID
	}

	var createdAt time.Time
	err := d.pool.QueryRow(ctx, `
		INSERT INTO recurring_reservation
			(id, allocated_time_slot_id, reservation_unit_id, begin_date, end_date, day_of_week, begin_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (allocated_time_slot_id) DO NOTHING
		RETURNING created_at
	`, series.ID, slotID, series.ReservationUnitID, series.BeginDate, series.EndDate, day, begin, end).Scan(&createdAt)
	if err == nil {
		series.CreatedAt = createdAt
		return series, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.RecurringReservation{}, false, fmt.Errorf("failed to insert series: %w", err)
	}

	existing, err := d.getSeriesBySlot(ctx, series.AllocatedTimeSlotID)
	if err != nil {
		return model.RecurringReservation{}, false, err
	}
	return *existing, false, nil
}

func (d *DB) getSeriesBySlot(ctx context.Context, slotID string) (*model.RecurringReservation, error) {
	var s model.RecurringReservation
	var day int16
	var begin, end int32
	err := d.pool.QueryRow(ctx, `
		SELECT id, allocated_time_slot_id, reservation_unit_id, begin_date, end_date,
			day_of_week, begin_minute, end_minute, created_at
		FROM recurring_reservation
		WHERE allocated_time_slot_id = $1
	`, slotID).Scan(&s.ID, &s.AllocatedTimeSlotID, &s.ReservationUnitID, &s.BeginDate, &s.EndDate,
		&day, &begin, &end, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query series for slot %s: %w", slotID, err)
	}
	s.Window = windowFromColumns(day, begin, end)
	return &s, nil
}

// GetUnitReservations returns reservations on a unit intersecting [from, to), cancelled ones included
func (d *DB) GetUnitReservations(ctx context.Context, unitID string, from, to time.Time) ([]model.Reservation, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, recurring_reservation_id, reservation_unit_id, begins_at, ends_at, state
		FROM reservation
		WHERE reservation_unit_id = $1
			AND begins_at < $3
			AND ends_at > $2
		ORDER BY begins_at, id
	`, unitID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []model.Reservation
	for rows.Next() {
		var r model.Reservation
		var seriesID *string
		var state string
		if err := rows.Scan(&r.ID, &seriesID, &r.ReservationUnitID, &r.Begin, &r.End, &state); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		if seriesID != nil {
			r.SeriesID = *seriesID
		}
		r.State = model.ReservationState(state)
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}
	return reservations, nil
}

// CreateReservations inserts the drafts of one series in a single transaction.
// A draft that overlaps a confirmed reservation on the unit, or that the series already holds,
// is reported as a conflict. Each created reservation gets a statistics row.
// Any database error rolls back the whole series.
func (d *DB) CreateReservations(ctx context.Context, seriesID string, drafts []occurrences.Draft) (*occurrences.SinkResult, error) {
	result := &occurrences.SinkResult{}
	now := d.now().UTC()

	err := d.withTx(ctx, func(tx pgx.Tx) error {
		for _, draft := range drafts {
			var conflicting string
			err := tx.QueryRow(ctx, `
				SELECT id FROM reservation
				WHERE reservation_unit_id = $1
					AND state = 'confirmed'
					AND begins_at < $3
					AND ends_at > $2
				LIMIT 1
			`, draft.ReservationUnitID, draft.Begin.UTC(), draft.End.UTC()).Scan(&conflicting)
			if err == nil {
				result.Outcomes = append(result.Outcomes, occurrences.DateOutcome{
					Date: draft.Date, ReservationID: conflicting, Conflict: true,
				})
				continue
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to check conflicts on %s: %w", draft.Date.Format(time.DateOnly), err)
			}

			id := uuid.New().String()
			tag, err := tx.Exec(ctx, `
				INSERT INTO reservation (id, recurring_reservation_id, reservation_unit_id, begins_at, ends_at, state)
				VALUES ($1, $2, $3, $4, $5, 'confirmed')
				ON CONFLICT (recurring_reservation_id, begins_at) DO NOTHING
			`, id, seriesID, draft.ReservationUnitID, draft.Begin.UTC(), draft.End.UTC())
			if err != nil {
				return fmt.Errorf("failed to insert reservation on %s: %w", draft.Date.Format(time.DateOnly), err)
			}
			if tag.RowsAffected() == 0 {
				result.Outcomes = append(result.Outcomes, occurrences.DateOutcome{Date: draft.Date, Conflict: true})
				continue
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO reservation_statistic (id, reservation_id, created_at) VALUES ($1, $2, $3)
			`, uuid.New().String(), id, now)
			if err != nil {
				return fmt.Errorf("failed to insert reservation statistic: %w", err)
			}

			result.Outcomes = append(result.Outcomes, occurrences.DateOutcome{Date: draft.Date, ReservationID: id})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
