package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/clients/notifier"
	"github.com/jakechorley/seasonal-allocation/pkg/clients/roundlock"
	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/occurrences"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// mockStore implements the service store interfaces in memory for testing
type mockStore struct {
	mu sync.Mutex

	input         *db.RoundInput
	statusHistory []model.RoundStatus
	persisted     []db.AllocationWrite
	clearedRounds []string
	clearDeleted  int

	// concurrentStatus is applied right after GetRoundInput, as if another run moved the round
	concurrentStatus model.RoundStatus
	// rejectedOptions are rejected between reading the round and persisting its allocation
	rejectedOptions map[string]bool

	options       map[string]*db.OptionRecord
	optionStates  map[string]model.OptionState
	rejections    []db.RejectionWrite
	rejectionResp db.RejectionResult

	slots        []model.AllocatedTimeSlot
	series       map[string]model.RecurringReservation // keyed by slot id
	reservations []model.Reservation

	prunableSeries   []string
	expiredStats     []string
	deleted          []string
	notQualifying    map[string]bool
	deleteFailures   map[string]bool
	cancelAfterFirst context.CancelFunc

	getRoundErr     error
	setStatusErr    error
	persistErr      error
	clearErr        error
	rejectErr       error
	optionWriteErr  error
	ensureSeriesErr map[string]error
	createErr       error
	listErr         error
}

func newMockStore(input *db.RoundInput) *mockStore {
	return &mockStore{
		input:        input,
		options:      map[string]*db.OptionRecord{},
		optionStates: map[string]model.OptionState{},
		series:       map[string]model.RecurringReservation{},
	}
}

func (m *mockStore) GetRoundInput(ctx context.Context, roundID string) (*db.RoundInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getRoundErr != nil {
		return nil, m.getRoundErr
	}
	if m.input == nil || m.input.Round.ID != roundID {
		return nil, db.ErrRoundNotFound
	}
	copied := *m.input
	if m.slots != nil {
		copied.ExistingSlots = slices.Clone(m.slots)
	}
	if m.concurrentStatus != "" {
		m.input.Round.Status = m.concurrentStatus
	}
	return &copied, nil
}

func (m *mockStore) TransitionRoundStatus(ctx context.Context, roundID string, from, to model.RoundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setStatusErr != nil {
		return m.setStatusErr
	}
	if m.input.Round.Status != from {
		return fmt.Errorf("%w: %s is %s", db.ErrRoundStatusChanged, roundID, m.input.Round.Status)
	}
	m.statusHistory = append(m.statusHistory, to)
	m.input.Round.Status = to
	return nil
}

func (m *mockStore) PersistAllocation(ctx context.Context, write db.AllocationWrite) (*db.AllocationWriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return nil, m.persistErr
	}

	result := &db.AllocationWriteResult{}
	kept := []model.AllocatedTimeSlot{}
	for _, slot := range m.currentSlots() {
		if slices.Contains(write.RetainedSlotIDs, slot.ID) {
			kept = append(kept, slot)
			continue
		}
		result.CancelledReservations += m.cancelSeries(slot.ID, write.CancelFrom)
	}
	for _, slot := range write.Slots {
		if m.rejectedOptions[slot.OptionID] {
			result.SkippedSlots = append(result.SkippedSlots, slot)
			continue
		}
		kept = append(kept, slot)
	}

	m.slots = kept
	m.persisted = append(m.persisted, write)
	m.input.Round.Status = write.RoundStatus
	return result, nil
}

func (m *mockStore) ClearAllocation(ctx context.Context, roundID string, cancelFrom time.Time) (*db.ClearResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return nil, m.clearErr
	}

	locked := map[string]bool{}
	for _, section := range m.input.Sections() {
		for _, option := range section.Options {
			if option.State == model.OptionLocked {
				locked[option.ID] = true
			}
		}
	}

	result := &db.ClearResult{DeletedSlots: m.clearDeleted}
	kept := []model.AllocatedTimeSlot{}
	for _, slot := range m.currentSlots() {
		if locked[slot.OptionID] {
			kept = append(kept, slot)
			continue
		}
		result.DeletedSlots++
		result.CancelledReservations += m.cancelSeries(slot.ID, cancelFrom)
	}

	m.slots = kept
	m.clearedRounds = append(m.clearedRounds, roundID)
	return result, nil
}

func (m *mockStore) currentSlots() []model.AllocatedTimeSlot {
	if m.slots == nil && m.input != nil {
		return m.input.ExistingSlots
	}
	return m.slots
}

// cancelSeries unlinks the slot's series and cancels its confirmed reservations from from onwards
func (m *mockStore) cancelSeries(slotID string, from time.Time) int {
	series, ok := m.series[slotID]
	if !ok {
		return 0
	}
	delete(m.series, slotID)

	cancelled := 0
	for i, r := range m.reservations {
		if r.SeriesID == series.ID && r.State == model.ReservationConfirmed && !r.Begin.Before(from) {
			m.reservations[i].State = model.ReservationCancelled
			cancelled++
		}
	}
	return cancelled
}

func (m *mockStore) GetOption(ctx context.Context, optionID string) (*db.OptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.options[optionID]
	if !ok {
		return nil, db.ErrOptionNotFound
	}
	copied := *rec
	return &copied, nil
}

func (m *mockStore) SetOptionState(ctx context.Context, optionID string, state model.OptionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.optionWriteErr != nil {
		return m.optionWriteErr
	}
	m.optionStates[optionID] = state
	return nil
}

func (m *mockStore) RejectOption(ctx context.Context, write db.RejectionWrite) (*db.RejectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectErr != nil {
		return nil, m.rejectErr
	}
	if m.optionWriteErr != nil {
		return nil, m.optionWriteErr
	}
	m.rejections = append(m.rejections, write)
	resp := m.rejectionResp
	return &resp, nil
}

func (m *mockStore) GetRoundSlots(ctx context.Context, roundID string) ([]model.AllocatedTimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots, nil
}

func (m *mockStore) EnsureSeries(ctx context.Context, series model.RecurringReservation) (model.RecurringReservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureSeriesErr[series.AllocatedTimeSlotID]; err != nil {
		return model.RecurringReservation{}, false, err
	}
	if existing, ok := m.series[series.AllocatedTimeSlotID]; ok {
		return existing, false, nil
	}
	series.ID = "series-" + series.AllocatedTimeSlotID
	m.series[series.AllocatedTimeSlotID] = series
	return series, true, nil
}

func (m *mockStore) GetUnitReservations(ctx context.Context, unitID string, from, to time.Time) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for _, r := range m.reservations {
		if r.ReservationUnitID == unitID && r.Overlaps(from, to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) CreateReservations(ctx context.Context, seriesID string, drafts []occurrences.Draft) (*occurrences.SinkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	result := &occurrences.SinkResult{}
	for i, d := range drafts {
		id := seriesID + "-" + d.Date.Format(time.DateOnly)
		m.reservations = append(m.reservations, model.Reservation{
			ID:                id,
			SeriesID:          seriesID,
			ReservationUnitID: d.ReservationUnitID,
			Begin:             d.Begin,
			End:               d.End,
			State:             model.ReservationConfirmed,
		})
		result.Outcomes = append(result.Outcomes, occurrences.DateOutcome{Date: drafts[i].Date, ReservationID: id})
	}
	return result, nil
}

func (m *mockStore) ListPrunableSeries(ctx context.Context, cutoff time.Time) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.prunableSeries, nil
}

func (m *mockStore) DeleteSeriesIfEmpty(ctx context.Context, seriesID string, cutoff time.Time) (bool, error) {
	return m.deleteRow(seriesID)
}

func (m *mockStore) ListExpiredStatistics(ctx context.Context, cutoff time.Time) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.expiredStats, nil
}

func (m *mockStore) DeleteStatistic(ctx context.Context, statisticID string, cutoff time.Time) (bool, error) {
	return m.deleteRow(statisticID)
}

func (m *mockStore) deleteRow(id string) (bool, error) {
	if m.cancelAfterFirst != nil {
		defer m.cancelAfterFirst()
	}
	if m.deleteFailures[id] {
		return false, errors.New("delete failed")
	}
	if m.notQualifying[id] {
		return false, nil
	}
	m.deleted = append(m.deleted, id)
	return true, nil
}

// mockLocker records lock calls
type mockLocker struct {
	locked   bool
	acquired int
	released int
	err      error
}

func (m *mockLocker) Acquire(ctx context.Context, roundID string) (roundlock.Release, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.locked {
		return nil, roundlock.ErrLocked
	}
	m.locked = true
	m.acquired++
	return func(context.Context) error {
		m.locked = false
		m.released++
		return nil
	}, nil
}

// mockPublisher records published events
type mockPublisher struct {
	events []notifier.AllocationCompletedEvent
	err    error
}

func (m *mockPublisher) PublishAllocationCompleted(ctx context.Context, event notifier.AllocationCompletedEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

// noClosures never reports a closure
type noClosures struct{}

func (noClosures) IsClosed(context.Context, string, time.Time, timewindow.Window) (bool, error) {
	return false, nil
}

// Fixtures

var baseSubmittedAt = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func window(day timewindow.Weekday, beginHour, endHour int) timewindow.Window {
	end := timewindow.NewTimeOfDay(endHour, 0)
	if endHour == 24 {
		end = timewindow.Midnight
	}
	return timewindow.New(day, timewindow.NewTimeOfDay(beginHour, 0), end)
}

func testSection(id string, options []model.ReservationUnitOption, w timewindow.Window) model.ApplicationSection {
	for i := range options {
		options[i].SectionID = id
	}
	return model.ApplicationSection{
		ID:                         id,
		AppliedReservationsPerWeek: 1,
		Options:                    options,
		SuitableTimeRanges: []model.SuitableTimeRange{
			{ID: "range-" + id, SectionID: id, Window: w, Priority: model.PriorityHigh},
		},
		Status: model.SectionUnallocated,
	}
}

func testApplication(id string, offset int, sections ...model.ApplicationSection) model.Application {
	for i := range sections {
		sections[i].ApplicationID = id
	}
	return model.Application{
		ID:          id,
		RoundID:     "round-1",
		SubmittedAt: baseSubmittedAt.Add(time.Duration(offset) * time.Minute),
		Sections:    sections,
	}
}

func testRound(status model.RoundStatus) model.ApplicationRound {
	return model.ApplicationRound{
		ID:     "round-1",
		Name:   "Spring season",
		Status: status,
		ReservablePeriod: model.Period{
			Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		},
	}
}

// scenarioInput is section A (unit-x rank 1, unit-y rank 2) and section B (unit-x only),
// both wanting Monday 10-12
func scenarioInput(status model.RoundStatus) *db.RoundInput {
	return &db.RoundInput{
		Round: testRound(status),
		Applications: []model.Application{
			testApplication("app-a", 0, testSection("section-a", []model.ReservationUnitOption{
				{ID: "opt-a-x", ReservationUnitID: "unit-x", Rank: 1, State: model.OptionOpen},
				{ID: "opt-a-y", ReservationUnitID: "unit-y", Rank: 2, State: model.OptionOpen},
			}, window(timewindow.Monday, 10, 12))),
			testApplication("app-b", 5, testSection("section-b", []model.ReservationUnitOption{
				{ID: "opt-b-x", ReservationUnitID: "unit-x", Rank: 1, State: model.OptionOpen},
			}, window(timewindow.Monday, 10, 12))),
		},
	}
}
