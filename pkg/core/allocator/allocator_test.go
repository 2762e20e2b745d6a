package allocator

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

func TestAllocate_ScenarioAB(t *testing.T) {
	outcome, err := Allocate(scenarioAB())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, outcome.State)

	resultA, ok := outcome.Result("section-a")
	require.True(t, ok)
	assert.Equal(t, model.SectionAllocated, resultA.Status)
	require.NotNil(t, resultA.Slot)
	assert.Equal(t, "unit-x", resultA.Slot.ReservationUnitID)
	assert.Equal(t, "opt-a-x", resultA.Slot.OptionID)
	assert.Equal(t, window(timewindow.Monday, 10, 12), resultA.Slot.Window)

	resultB, ok := outcome.Result("section-b")
	require.True(t, ok)
	assert.Equal(t, model.SectionUnallocated, resultB.Status)
	assert.Nil(t, resultB.Slot)
	assert.Equal(t, ReasonAllCandidatesTaken, resultB.Reason)

	assert.Equal(t, 1, outcome.AllocatedCount())
	assert.Equal(t, 1, outcome.UnallocatedCount())
	assert.Empty(t, outcome.ValidationErrors)
}

func TestAllocate_RerunIsDeterministic(t *testing.T) {
	first, err := Allocate(scenarioAB())
	require.NoError(t, err)

	second, err := Allocate(scenarioAB())
	require.NoError(t, err)

	assert.Equal(t, first.Slots, second.Slots)
	assert.Equal(t, first.SectionResults, second.SectionResults)
}

func TestAllocate_FallsBackToLowerRankedOption(t *testing.T) {
	// B is submitted first and takes UnitX, so A falls back to UnitY
	config := configFor(
		application("app-b", 0, section("section-b",
			[]model.ReservationUnitOption{option("opt-b-x", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("range-b", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
		)),
		application("app-a", 5, section("section-a",
			[]model.ReservationUnitOption{option("opt-a-x", "unit-x", 1), option("opt-a-y", "unit-y", 2)},
			[]model.SuitableTimeRange{timeRange("range-a", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
		)),
	)

	outcome, err := Allocate(config)
	require.NoError(t, err)

	resultB, _ := outcome.Result("section-b")
	resultA, _ := outcome.Result("section-a")
	require.NotNil(t, resultB.Slot)
	require.NotNil(t, resultA.Slot)
	assert.Equal(t, "unit-x", resultB.Slot.ReservationUnitID)
	assert.Equal(t, "unit-y", resultA.Slot.ReservationUnitID)
	assert.Equal(t, 2, resultA.CandidatesTried)
}

func TestAllocate_RankBeatsWindowPriority(t *testing.T) {
	// The first-ranked option is tried with every window before the second-ranked option
	config := configFor(
		application("app-blocker", 0, section("section-blocker",
			[]model.ReservationUnitOption{option("opt-blocker", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("r-blocker", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
		)),
		application("app-a", 5, section("section-a",
			[]model.ReservationUnitOption{option("opt-a-x", "unit-x", 1), option("opt-a-y", "unit-y", 2)},
			[]model.SuitableTimeRange{
				timeRange("r-high", window(timewindow.Monday, 10, 12), model.PriorityHigh),
				timeRange("r-low", window(timewindow.Thursday, 18, 20), model.PriorityLow),
			},
		)),
	)

	outcome, err := Allocate(config)
	require.NoError(t, err)

	resultA, _ := outcome.Result("section-a")
	require.NotNil(t, resultA.Slot)
	assert.Equal(t, "unit-x", resultA.Slot.ReservationUnitID)
	assert.Equal(t, window(timewindow.Thursday, 18, 20), resultA.Slot.Window)
}

func TestAllocate_HigherPrioritySectionGoesFirst(t *testing.T) {
	// The medium-priority application was submitted first, but high priority sections lead
	config := configFor(
		application("app-medium", 0, section("section-medium",
			[]model.ReservationUnitOption{option("opt-m", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("r-m", window(timewindow.Monday, 10, 12), model.PriorityMedium)},
		)),
		application("app-high", 60, section("section-high",
			[]model.ReservationUnitOption{option("opt-h", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("r-h", window(timewindow.Monday, 11, 13), model.PriorityHigh)},
		)),
	)

	outcome, err := Allocate(config)
	require.NoError(t, err)

	require.Len(t, outcome.SectionResults, 2)
	assert.Equal(t, "section-high", outcome.SectionResults[0].SectionID)
	assert.Equal(t, model.SectionAllocated, outcome.SectionResults[0].Status)
	assert.Equal(t, model.SectionUnallocated, outcome.SectionResults[1].Status)
}

func TestAllocate_SectionIDBreaksTies(t *testing.T) {
	app := application("app-1", 0,
		section("section-2",
			[]model.ReservationUnitOption{option("opt-2", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("r-2", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
		),
		section("section-1",
			[]model.ReservationUnitOption{option("opt-1", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("r-1", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
		),
	)

	outcome, err := Allocate(configFor(app))
	require.NoError(t, err)

	result1, _ := outcome.Result("section-1")
	result2, _ := outcome.Result("section-2")
	assert.Equal(t, model.SectionAllocated, result1.Status)
	assert.Equal(t, model.SectionUnallocated, result2.Status)
}

func TestAllocate_RejectedOptionNeverAllocated(t *testing.T) {
	config := configFor(application("app-a", 0, section("section-a",
		[]model.ReservationUnitOption{withState(option("opt-a-x", "unit-x", 1), model.OptionRejected)},
		[]model.SuitableTimeRange{timeRange("r", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
	)))

	outcome, err := Allocate(config)
	require.NoError(t, err)

	result, _ := outcome.Result("section-a")
	assert.Equal(t, model.SectionUnallocated, result.Status)
	assert.Equal(t, ReasonNoAllocatable, result.Reason)
	assert.Empty(t, outcome.Slots)
}

func TestAllocate_LockedOptionKeepsExistingSlot(t *testing.T) {
	config := scenarioAB()
	// Section B's option is locked and already holds Monday 10-12 on UnitX
	config.Applications[1].Sections[0].Options[0].State = model.OptionLocked
	config.ExistingSlots = []model.AllocatedTimeSlot{{
		ID:                "slot-b",
		OptionID:          "opt-b-x",
		SectionID:         "section-b",
		ReservationUnitID: "unit-x",
		Window:            window(timewindow.Monday, 10, 12),
	}}

	outcome, err := Allocate(config)
	require.NoError(t, err)

	resultB, _ := outcome.Result("section-b")
	assert.Equal(t, model.SectionAllocated, resultB.Status)
	assert.True(t, resultB.Retained)
	assert.Equal(t, "slot-b", resultB.Slot.ID)

	resultA, _ := outcome.Result("section-a")
	require.NotNil(t, resultA.Slot)
	assert.Equal(t, "unit-y", resultA.Slot.ReservationUnitID, "A falls back because B's locked slot keeps its capacity")

	assert.Equal(t, 1, outcome.RetainedCount())
	require.Len(t, outcome.NewSlots(), 1)
	assert.Equal(t, "section-a", outcome.NewSlots()[0].SectionID)
}

func TestAllocate_LockedOptionWithoutSlotTakesNothing(t *testing.T) {
	config := configFor(application("app-a", 0, section("section-a",
		[]model.ReservationUnitOption{withState(option("opt-a-x", "unit-x", 1), model.OptionLocked)},
		[]model.SuitableTimeRange{timeRange("r", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
	)))

	outcome, err := Allocate(config)
	require.NoError(t, err)

	result, _ := outcome.Result("section-a")
	assert.Equal(t, model.SectionUnallocated, result.Status)
}

func TestAllocate_ExistingSlotOnOpenOptionIsRecomputed(t *testing.T) {
	config := scenarioAB()
	config.ExistingSlots = []model.AllocatedTimeSlot{{
		ID:                "old-slot",
		OptionID:          "opt-b-x",
		SectionID:         "section-b",
		ReservationUnitID: "unit-x",
		Window:            window(timewindow.Monday, 10, 12),
	}}

	outcome, err := Allocate(config)
	require.NoError(t, err)

	resultA, _ := outcome.Result("section-a")
	assert.Equal(t, "unit-x", resultA.Slot.ReservationUnitID)
	resultB, _ := outcome.Result("section-b")
	assert.Equal(t, model.SectionUnallocated, resultB.Status)
}

func TestAllocate_MidnightWindow(t *testing.T) {
	config := configFor(
		application("app-a", 0, section("section-a",
			[]model.ReservationUnitOption{option("opt-a", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("r-a", window(timewindow.Friday, 22, 24), model.PriorityHigh)},
		)),
		application("app-b", 5, section("section-b",
			[]model.ReservationUnitOption{option("opt-b", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("r-b", window(timewindow.Friday, 23, 24), model.PriorityHigh)},
		)),
	)

	outcome, err := Allocate(config)
	require.NoError(t, err)

	resultA, _ := outcome.Result("section-a")
	assert.Equal(t, model.SectionAllocated, resultA.Status)
	assert.Equal(t, timewindow.Midnight, resultA.Slot.Window.End)
	resultB, _ := outcome.Result("section-b")
	assert.Equal(t, model.SectionUnallocated, resultB.Status)
}

func TestAllocate_CrossRoundCapacity(t *testing.T) {
	config := scenarioAB()
	config.ReservedSlots = []model.AllocatedTimeSlot{{
		ID:                "other-round-slot",
		ReservationUnitID: "unit-x",
		Window:            window(timewindow.Monday, 9, 11),
	}}

	ignored, err := Allocate(config)
	require.NoError(t, err)
	resultA, _ := ignored.Result("section-a")
	assert.Equal(t, "unit-x", resultA.Slot.ReservationUnitID, "reserved slots are ignored by default")

	config.HonorCrossRoundCapacity = true
	honored, err := Allocate(config)
	require.NoError(t, err)
	resultA, _ = honored.Result("section-a")
	assert.Equal(t, "unit-y", resultA.Slot.ReservationUnitID)
	resultB, _ := honored.Result("section-b")
	assert.Equal(t, model.SectionUnallocated, resultB.Status)
}

func TestAllocate_OverlappingReservedSlotsDoNotFailRun(t *testing.T) {
	config := scenarioAB()
	config.HonorCrossRoundCapacity = true
	config.ReservedSlots = []model.AllocatedTimeSlot{
		{ID: "r1", ReservationUnitID: "unit-z", Window: window(timewindow.Tuesday, 10, 12)},
		{ID: "r2", ReservationUnitID: "unit-z", Window: window(timewindow.Tuesday, 11, 13)},
	}

	outcome, err := Allocate(config)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, outcome.State)

	resultA, _ := outcome.Result("section-a")
	assert.Equal(t, "unit-x", resultA.Slot.ReservationUnitID)
	assert.Len(t, outcome.Ledger.Slots("unit-z"), 2)
}

func TestAllocate_ReservedSlotOverlappingLockedSlot(t *testing.T) {
	config := scenarioAB()
	config.HonorCrossRoundCapacity = true
	config.Applications[1].Sections[0].Options[0].State = model.OptionLocked
	config.ExistingSlots = []model.AllocatedTimeSlot{{
		ID:                "slot-b",
		OptionID:          "opt-b-x",
		SectionID:         "section-b",
		ReservationUnitID: "unit-x",
		Window:            window(timewindow.Monday, 10, 12),
	}}
	config.ReservedSlots = []model.AllocatedTimeSlot{{
		ID:                "other",
		ReservationUnitID: "unit-x",
		Window:            window(timewindow.Monday, 10, 12),
	}}

	outcome, err := Allocate(config)
	require.NoError(t, err)

	resultB, _ := outcome.Result("section-b")
	assert.True(t, resultB.Retained)
	assert.Equal(t, "slot-b", resultB.Slot.ID)

	resultA, _ := outcome.Result("section-a")
	require.NotNil(t, resultA.Slot)
	assert.Equal(t, "unit-y", resultA.Slot.ReservationUnitID)
}

func TestAllocate_StepsRecordLedgerSnapshots(t *testing.T) {
	outcome, err := Allocate(scenarioAB())
	require.NoError(t, err)

	require.Len(t, outcome.Steps, 2)

	first := outcome.Steps[0]
	assert.Equal(t, "section-a", first.SectionID)
	require.NotNil(t, first.Chosen)
	assert.Equal(t, "opt-a-x", first.Chosen.Option.ID)
	assert.Equal(t, 1, first.Ledger.Len())

	second := outcome.Steps[1]
	assert.Equal(t, "section-b", second.SectionID)
	assert.Nil(t, second.Chosen)
	assert.Equal(t, 1, second.Ledger.Len())
	assert.False(t, second.Ledger.CanPlace("unit-x", window(timewindow.Monday, 10, 12)))
}

func TestAllocate_ValidationErrorFailsRun(t *testing.T) {
	config := scenarioAB()
	config.Applications[0].Sections[0].SuitableTimeRanges[0].Window = timewindow.New(timewindow.Monday, hm(12, 0), hm(10, 0))

	engine := NewEngine(config)
	outcome, err := engine.Run()

	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, StateFailed, engine.State())

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "range-a", verr.ID)

	var werr *timewindow.ValidationError
	assert.True(t, errors.As(err, &werr), "the window error is wrapped")
}

func TestAllocate_OverlappingLockedSlotsFailWithConflict(t *testing.T) {
	config := scenarioAB()
	config.Applications[0].Sections[0].Options[0].State = model.OptionLocked
	config.Applications[1].Sections[0].Options[0].State = model.OptionLocked
	config.ExistingSlots = []model.AllocatedTimeSlot{
		{ID: "slot-a", OptionID: "opt-a-x", SectionID: "section-a", ReservationUnitID: "unit-x", Window: window(timewindow.Monday, 10, 12)},
		{ID: "slot-b", OptionID: "opt-b-x", SectionID: "section-b", ReservationUnitID: "unit-x", Window: window(timewindow.Monday, 11, 13)},
	}

	engine := NewEngine(config)
	_, err := engine.Run()

	require.Error(t, err)
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.Equal(t, StateFailed, engine.State())
}

func TestEngine_SingleUse(t *testing.T) {
	engine := NewEngine(scenarioAB())
	assert.Equal(t, StatePending, engine.State())

	_, err := engine.Run()
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, engine.State())

	_, err = engine.Run()
	assert.ErrorIs(t, err, ErrEngineAlreadyRan)
}

func TestAllocate_RoundInTerminalStatus(t *testing.T) {
	config := scenarioAB()
	config.Round.Status = model.RoundResultsSent

	_, err := Allocate(config)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "round", verr.Entity)
}

func TestAllocate_SplitsLongRangesIntoRequestedDuration(t *testing.T) {
	s1 := section("section-1",
		[]model.ReservationUnitOption{option("opt-1", "unit-x", 1)},
		[]model.SuitableTimeRange{timeRange("r-1", window(timewindow.Monday, 10, 14), model.PriorityHigh)},
	)
	s1.MaxDuration = 2 * time.Hour
	s2 := section("section-2",
		[]model.ReservationUnitOption{option("opt-2", "unit-x", 1)},
		[]model.SuitableTimeRange{timeRange("r-2", window(timewindow.Monday, 10, 14), model.PriorityHigh)},
	)
	s2.MaxDuration = 2 * time.Hour

	outcome, err := Allocate(configFor(application("app-1", 0, s1), application("app-2", 5, s2)))
	require.NoError(t, err)

	r1, _ := outcome.Result("section-1")
	r2, _ := outcome.Result("section-2")
	assert.Equal(t, window(timewindow.Monday, 10, 12), r1.Slot.Window)
	assert.Equal(t, window(timewindow.Monday, 12, 14), r2.Slot.Window)
}

// TestAllocate_RandomInputsNeverDoubleBook checks the no-double-booking and rank-respect
// properties over generated rounds
func TestAllocate_RandomInputsNeverDoubleBook(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	units := []string{"unit-a", "unit-b", "unit-c"}
	priorities := []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh}

	for round := 0; round < 20; round++ {
		var applications []model.Application
		for a := 0; a < 15; a++ {
			var options []model.ReservationUnitOption
			for rank, unitIdx := range rng.Perm(len(units))[:1+rng.Intn(len(units))] {
				options = append(options, option(fmt.Sprintf("opt-%d-%d", a, rank), units[unitIdx], rank+1))
			}
			var ranges []model.SuitableTimeRange
			for r := 0; r < 1+rng.Intn(3); r++ {
				begin := 8 + rng.Intn(12)
				ranges = append(ranges, timeRange(
					fmt.Sprintf("range-%d-%d", a, r),
					window(timewindow.Weekday(rng.Intn(2)), begin, begin+1+rng.Intn(3)),
					priorities[rng.Intn(len(priorities))],
				))
			}
			applications = append(applications, application(
				fmt.Sprintf("app-%02d", a), rng.Intn(100),
				section(fmt.Sprintf("section-%02d", a), options, ranges),
			))
		}

		config := configFor(applications...)
		outcome, err := Allocate(config)
		require.NoError(t, err)
		assert.Empty(t, ValidateNoDoubleBooking(outcome.Slots))

		again, err := Allocate(config)
		require.NoError(t, err)
		assert.Equal(t, outcome.Slots, again.Slots)

		// Rank respect: every candidate before the chosen one was blocked at decision time
		sectionsByID := make(map[string]model.ApplicationSection)
		var allSections []model.ApplicationSection
		for _, app := range applications {
			for _, s := range app.Sections {
				sectionsByID[s.ID] = s
				allSections = append(allSections, s)
			}
		}
		index := BuildSuitabilityIndex(allSections)
		previous := NewLedger()
		for _, step := range outcome.Steps {
			if step.Chosen != nil {
				for _, c := range Candidates(index, sectionsByID[step.SectionID], DefaultPlacementStep) {
					if c.Option.ID == step.Chosen.Option.ID && c.Window == step.Chosen.Window {
						break
					}
					assert.False(t, previous.CanPlace(c.Option.ReservationUnitID, c.Window),
						"section %s skipped a free higher-ranked candidate", step.SectionID)
				}
			}
			previous = step.Ledger
		}
	}
}
