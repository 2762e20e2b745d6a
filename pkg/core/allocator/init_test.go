package allocator

import (
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// Test helpers shared by the allocator tests

var baseSubmittedAt = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func hm(hour, minute int) timewindow.TimeOfDay {
	return timewindow.NewTimeOfDay(hour, minute)
}

func window(day timewindow.Weekday, beginHour, endHour int) timewindow.Window {
	end := hm(endHour, 0)
	if endHour == 24 {
		end = timewindow.Midnight
	}
	return timewindow.New(day, hm(beginHour, 0), end)
}

func option(id, unitID string, rank int) model.ReservationUnitOption {
	return model.ReservationUnitOption{ID: id, ReservationUnitID: unitID, Rank: rank, State: model.OptionOpen}
}

func withState(o model.ReservationUnitOption, state model.OptionState) model.ReservationUnitOption {
	o.State = state
	return o
}

func timeRange(id string, w timewindow.Window, priority model.Priority) model.SuitableTimeRange {
	return model.SuitableTimeRange{ID: id, Window: w, Priority: priority}
}

func section(id string, options []model.ReservationUnitOption, ranges []model.SuitableTimeRange) model.ApplicationSection {
	for i := range options {
		options[i].SectionID = id
	}
	for i := range ranges {
		ranges[i].SectionID = id
	}
	return model.ApplicationSection{
		ID:                         id,
		AppliedReservationsPerWeek: 1,
		Options:                    options,
		SuitableTimeRanges:         ranges,
		Status:                     model.SectionUnallocated,
	}
}

// application builds an application submitted offset minutes after baseSubmittedAt
func application(id string, offset int, sections ...model.ApplicationSection) model.Application {
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

func testRound() model.ApplicationRound {
	return model.ApplicationRound{
		ID:     "round-1",
		Name:   "Spring season",
		Status: model.RoundOpen,
		ReservablePeriod: model.Period{
			Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		},
	}
}

func configFor(applications ...model.Application) AllocationConfig {
	return AllocationConfig{
		Round:        testRound(),
		Applications: applications,
	}
}

// scenarioAB is section A (UnitX rank 1, UnitY rank 2) followed by section B (UnitX only),
// both wanting Monday 10-12 at high priority
func scenarioAB() AllocationConfig {
	return configFor(
		application("app-a", 0, section("section-a",
			[]model.ReservationUnitOption{option("opt-a-x", "unit-x", 1), option("opt-a-y", "unit-y", 2)},
			[]model.SuitableTimeRange{timeRange("range-a", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
		)),
		application("app-b", 5, section("section-b",
			[]model.ReservationUnitOption{option("opt-b-x", "unit-x", 1)},
			[]model.SuitableTimeRange{timeRange("range-b", window(timewindow.Monday, 10, 12), model.PriorityHigh)},
		)),
	)
}
