package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// GetRoundInput loads a round with its applications, sections, options, suitable time ranges,
// the round's existing slots and the slots of other allocated rounds with an overlapping
// reservable period
func (d *DB) GetRoundInput(ctx context.Context, roundID string) (*db.RoundInput, error) {
	round, err := d.getRound(ctx, roundID)
	if err != nil {
		return nil, err
	}

	applications, err := d.getApplications(ctx, roundID)
	if err != nil {
		return nil, err
	}

	existing, err := d.GetRoundSlots(ctx, roundID)
	if err != nil {
		return nil, err
	}

	reserved, err := d.getReservedSlots(ctx, round)
	if err != nil {
		return nil, err
	}

	return &db.RoundInput{
		Round:         *round,
		Applications:  applications,
		ExistingSlots: existing,
		ReservedSlots: reserved,
	}, nil
}

// TransitionRoundStatus moves a round from one status to another as a compare-and-set,
// so two runs reading the same status cannot both claim the round
func (d *DB) TransitionRoundStatus(ctx context.Context, roundID string, from, to model.RoundStatus) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE application_round SET status = $3 WHERE id = $1 AND status = $2
	`, roundID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("failed to set round status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either the round is gone or someone else moved it
	var current string
	err = d.pool.QueryRow(ctx, `SELECT status FROM application_round WHERE id = $1`, roundID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", db.ErrRoundNotFound, roundID)
	}
	if err != nil {
		return fmt.Errorf("failed to read round status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s, expected %s", db.ErrRoundStatusChanged, roundID, current, from)
}

func (d *DB) getRound(ctx context.Context, roundID string) (*model.ApplicationRound, error) {
	var r model.ApplicationRound
	var status string
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, application_period_begin, application_period_end,
			reservable_period_begin, reservable_period_end, status
		FROM application_round
		WHERE id = $1
	`, roundID).Scan(
		&r.ID, &r.Name,
		&r.ApplicationPeriod.Start, &r.ApplicationPeriod.End,
		&r.ReservablePeriod.Start, &r.ReservablePeriod.End,
		&status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", db.ErrRoundNotFound, roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query round: %w", err)
	}
	r.Status = model.RoundStatus(status)
	return &r, nil
}

func (d *DB) getApplications(ctx context.Context, roundID string) ([]model.Application, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, applicant_name, submitted_at
		FROM application
		WHERE application_round_id = $1
		ORDER BY submitted_at, id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var applications []model.Application
	for rows.Next() {
		a := model.Application{RoundID: roundID}
		if err := rows.Scan(&a.ID, &a.ApplicantName, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		applications = append(applications, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applications: %w", err)
	}
	rows.Close()

	sections, err := d.getSections(ctx, roundID)
	if err != nil {
		return nil, err
	}
	for i := range applications {
		applications[i].Sections = sections[applications[i].ID]
	}

	return applications, nil
}

// getSections returns the round's sections keyed by application ID
func (d *DB) getSections(ctx context.Context, roundID string) (map[string][]model.ApplicationSection, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT s.id, s.application_id, s.name, s.num_persons, s.applied_reservations_per_week,
			s.min_duration_minutes, s.max_duration_minutes, s.status
		FROM application_section s
		JOIN application a ON a.id = s.application_id
		WHERE a.application_round_id = $1
		ORDER BY s.id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var sections []model.ApplicationSection
	for rows.Next() {
		var s model.ApplicationSection
		var minMinutes, maxMinutes int
		var status string
		if err := rows.Scan(&s.ID, &s.ApplicationID, &s.Name, &s.NumPersons, &s.AppliedReservationsPerWeek,
			&minMinutes, &maxMinutes, &status); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		s.MinDuration = time.Duration(minMinutes) * time.Minute
		s.MaxDuration = time.Duration(maxMinutes) * time.Minute
		s.Status = model.SectionStatus(status)
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sections: %w", err)
	}
	rows.Close()

	options, err := d.getOptions(ctx, roundID)
	if err != nil {
		return nil, err
	}
	ranges, err := d.getRanges(ctx, roundID)
	if err != nil {
		return nil, err
	}

	byApplication := make(map[string][]model.ApplicationSection)
	for _, s := range sections {
		s.Options = options[s.ID]
		s.SuitableTimeRanges = ranges[s.ID]
		byApplication[s.ApplicationID] = append(byApplication[s.ApplicationID], s)
	}
	return byApplication, nil
}

// getOptions returns the round's options keyed by section ID
func (d *DB) getOptions(ctx context.Context, roundID string) (map[string][]model.ReservationUnitOption, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT o.id, o.application_section_id, o.reservation_unit_id, o.preferred_order, o.state
		FROM reservation_unit_option o
		JOIN application_section s ON s.id = o.application_section_id
		JOIN application a ON a.id = s.application_id
		WHERE a.application_round_id = $1
		ORDER BY o.application_section_id, o.preferred_order, o.id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query options: %w", err)
	}
	defer rows.Close()

	options := make(map[string][]model.ReservationUnitOption)
	for rows.Next() {
		var o model.ReservationUnitOption
		var state string
		if err := rows.Scan(&o.ID, &o.SectionID, &o.ReservationUnitID, &o.Rank, &state); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		o.State, err = model.ParseOptionState(state)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", o.ID, err)
		}
		options[o.SectionID] = append(options[o.SectionID], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating options: %w", err)
	}
	return options, nil
}

// getRanges returns the round's suitable time ranges keyed by section ID
func (d *DB) getRanges(ctx context.Context, roundID string) (map[string][]model.SuitableTimeRange, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT r.id, r.application_section_id, r.day_of_week, r.begin_minute, r.end_minute, r.priority
		FROM suitable_time_range r
		JOIN application_section s ON s.id = r.application_section_id
		JOIN application a ON a.id = s.application_id
		WHERE a.application_round_id = $1
		ORDER BY r.application_section_id, r.id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suitable time ranges: %w", err)
	}
	defer rows.Close()

	ranges := make(map[string][]model.SuitableTimeRange)
	for rows.Next() {
		var r model.SuitableTimeRange
		var day, priority int16
		var begin, end int32
		if err := rows.Scan(&r.ID, &r.SectionID, &day, &begin, &end, &priority); err != nil {
			return nil, fmt.Errorf("failed to scan suitable time range: %w", err)
		}
		r.Window = windowFromColumns(day, begin, end)
		r.Priority = model.Priority(priority)
		ranges[r.SectionID] = append(ranges[r.SectionID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suitable time ranges: %w", err)
	}
	return ranges, nil
}

// GetRoundSlots returns the allocated time slots of a round ordered by section
func (d *DB) GetRoundSlots(ctx context.Context, roundID string) ([]model.AllocatedTimeSlot, error) {
	return d.querySlots(ctx, `
		SELECT t.id, o.id, o.application_section_id, o.reservation_unit_id,
			t.day_of_week, t.begin_minute, t.end_minute
		FROM allocated_time_slot t
		JOIN reservation_unit_option o ON o.id = t.reservation_unit_option_id
		JOIN application_section s ON s.id = o.application_section_id
		JOIN application a ON a.id = s.application_id
		WHERE a.application_round_id = $1
		ORDER BY o.application_section_id, t.id
	`, roundID)
}

func (d *DB) getReservedSlots(ctx context.Context, round *model.ApplicationRound) ([]model.AllocatedTimeSlot, error) {
	return d.querySlots(ctx, `
		SELECT t.id, o.id, o.application_section_id, o.reservation_unit_id,
			t.day_of_week, t.begin_minute, t.end_minute
		FROM allocated_time_slot t
		JOIN reservation_unit_option o ON o.id = t.reservation_unit_option_id
		JOIN application_section s ON s.id = o.application_section_id
		JOIN application a ON a.id = s.application_id
		JOIN application_round r ON r.id = a.application_round_id
		WHERE r.id <> $1
			AND r.status IN ('allocated', 'results_sent')
			AND r.reservable_period_begin <= $3
			AND r.reservable_period_end >= $2
		ORDER BY t.id
	`, round.ID, round.ReservablePeriod.Start, round.ReservablePeriod.End)
}

func (d *DB) querySlots(ctx context.Context, query string, args ...any) ([]model.AllocatedTimeSlot, error) {
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocated time slots: %w", err)
	}
	defer rows.Close()

	var slots []model.AllocatedTimeSlot
	for rows.Next() {
		var s model.AllocatedTimeSlot
		var day int16
		var begin, end int32
		if err := rows.Scan(&s.ID, &s.OptionID, &s.SectionID, &s.ReservationUnitID, &day, &begin, &end); err != nil {
			return nil, fmt.Errorf("failed to scan allocated time slot: %w", err)
		}
		s.Window = windowFromColumns(day, begin, end)
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocated time slots: %w", err)
	}
	return slots, nil
}
