package occurrences

import (
	"context"
	"fmt"
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// ClosureOracle reports whether a reservation unit is closed for a window on a date
type ClosureOracle interface {
	IsClosed(ctx context.Context, unitID string, date time.Time, window timewindow.Window) (bool, error)
}

// ReservationReader returns the reservations on a unit that intersect [from, to)
type ReservationReader interface {
	GetUnitReservations(ctx context.Context, unitID string, from, to time.Time) ([]model.Reservation, error)
}

// Sink creates reservations for one series.
// Implementations create every draft in one transaction; on error none are created.
type Sink interface {
	CreateReservations(ctx context.Context, seriesID string, drafts []Draft) (*SinkResult, error)
}

// Disposition is what the generator decided for one date
type Disposition string

const (
	DispositionCreate   Disposition = "create"
	DispositionClosed   Disposition = "closed"
	DispositionExisting Disposition = "already_materialized"
	DispositionConflict Disposition = "conflict"
)

// Draft is a reservation the sink should create
type Draft struct {
	SeriesID          string
	ReservationUnitID string
	Date              time.Time
	Begin             time.Time
	End               time.Time
}

// Occurrence is one planned date of a series
type Occurrence struct {
	Date        time.Time
	Begin       time.Time
	End         time.Time
	Disposition Disposition

	// ReservationID is the existing or conflicting reservation, if any
	ReservationID string
}

// Plan is the classified list of dates for one series
type Plan struct {
	Series      model.RecurringReservation
	Occurrences []Occurrence
}

// Drafts returns the occurrences that should be created
func (p *Plan) Drafts() []Draft {
	drafts := make([]Draft, 0, len(p.Occurrences))
	for _, o := range p.Occurrences {
		if o.Disposition != DispositionCreate {
			continue
		}
		drafts = append(drafts, Draft{
			SeriesID:          p.Series.ID,
			ReservationUnitID: p.Series.ReservationUnitID,
			Date:              o.Date,
			Begin:             o.Begin,
			End:               o.End,
		})
	}
	return drafts
}

// Count returns the number of occurrences with the given disposition
func (p *Plan) Count(d Disposition) int {
	count := 0
	for _, o := range p.Occurrences {
		if o.Disposition == d {
			count++
		}
	}
	return count
}

// DateOutcome is the sink's answer for one draft
type DateOutcome struct {
	Date          time.Time
	ReservationID string
	Conflict      bool
}

// SinkResult reports per-date outcomes of a CreateReservations call
type SinkResult struct {
	Outcomes []DateOutcome
}

// Created returns the number of reservations the sink created
func (r *SinkResult) Created() int {
	count := 0
	for _, o := range r.Outcomes {
		if !o.Conflict {
			count++
		}
	}
	return count
}

// Result summarises the materialization of one series
type Result struct {
	SeriesID            string
	Planned             int
	Created             int
	Closed              int
	AlreadyMaterialized int
	Conflicts           int
}

// Generator plans and materializes occurrences of recurring series
type Generator struct {
	closures     ClosureOracle
	reservations ReservationReader
	location     *time.Location
}

// NewGenerator creates a generator. A nil location means UTC.
func NewGenerator(closures ClosureOracle, reservations ReservationReader, location *time.Location) *Generator {
	if location == nil {
		location = time.UTC
	}
	return &Generator{
		closures:     closures,
		reservations: reservations,
		location:     location,
	}
}

// SeriesFor describes the series a slot materializes into over period.
// The returned series has no ID; persistence assigns one.
func SeriesFor(slot model.AllocatedTimeSlot, period model.Period) model.RecurringReservation {
	return model.RecurringReservation{
		AllocatedTimeSlotID: slot.ID,
		ReservationUnitID:   slot.ReservationUnitID,
		BeginDate:           period.Start,
		EndDate:             period.End,
		Window:              slot.Window,
	}
}

// Plan classifies every date of the series.
//
// A date is closed when the closure oracle says so, already materialized when the series
// holds a live reservation starting at the same instant, a conflict when any other live
// reservation on the unit overlaps, and otherwise a new draft.
func (g *Generator) Plan(ctx context.Context, series model.RecurringReservation) (*Plan, error) {
	if err := series.Window.Validate(); err != nil {
		return nil, fmt.Errorf("series %s: %w", series.ID, err)
	}

	period := model.Period{Start: series.BeginDate, End: series.EndDate}
	from := dateIn(period.Start, g.location)
	to := dateIn(period.End, g.location).AddDate(0, 0, 2)

	existing, err := g.reservations.GetUnitReservations(ctx, series.ReservationUnitID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations for unit %s: %w", series.ReservationUnitID, err)
	}

	plan := &Plan{Series: series, Occurrences: []Occurrence{}}
	for date := range Dates(series.Window.Day, period, g.location) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		begin, end := Project(date, series.Window, g.location)
		occurrence := Occurrence{Date: date, Begin: begin, End: end, Disposition: DispositionCreate}

		closed, err := g.closures.IsClosed(ctx, series.ReservationUnitID, date, series.Window)
		if err != nil {
			return nil, fmt.Errorf("closure check failed for %s on %s: %w",
				series.ReservationUnitID, date.Format(time.DateOnly), err)
		}
		if closed {
			occurrence.Disposition = DispositionClosed
			plan.Occurrences = append(plan.Occurrences, occurrence)
			continue
		}

		occurrence.Disposition, occurrence.ReservationID = classify(series.ID, begin, end, existing)
		plan.Occurrences = append(plan.Occurrences, occurrence)
	}

	return plan, nil
}

func classify(seriesID string, begin, end time.Time, existing []model.Reservation) (Disposition, string) {
	conflict := ""
	for _, r := range existing {
		if r.State == model.ReservationCancelled || !r.Overlaps(begin, end) {
			continue
		}
		if seriesID != "" && r.SeriesID == seriesID && r.Begin.Equal(begin) {
			return DispositionExisting, r.ID
		}
		if conflict == "" {
			conflict = r.ID
		}
	}
	if conflict != "" {
		return DispositionConflict, conflict
	}
	return DispositionCreate, ""
}

// Materialize submits the plan's drafts to the sink in a single call.
// A sink error leaves the series without new reservations and is returned as is.
func (g *Generator) Materialize(ctx context.Context, plan *Plan, sink Sink) (*Result, error) {
	result := &Result{
		SeriesID:            plan.Series.ID,
		Planned:             len(plan.Occurrences),
		Closed:              plan.Count(DispositionClosed),
		AlreadyMaterialized: plan.Count(DispositionExisting),
		Conflicts:           plan.Count(DispositionConflict),
	}

	drafts := plan.Drafts()
	if len(drafts) == 0 {
		return result, nil
	}

	created, err := sink.CreateReservations(ctx, plan.Series.ID, drafts)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservations for series %s: %w", plan.Series.ID, err)
	}

	result.Created = created.Created()
	result.Conflicts += len(created.Outcomes) - result.Created
	return result, nil
}

// Generate plans and materializes one series
func (g *Generator) Generate(ctx context.Context, series model.RecurringReservation, sink Sink) (*Result, error) {
	plan, err := g.Plan(ctx, series)
	if err != nil {
		return nil, err
	}
	return g.Materialize(ctx, plan, sink)
}
