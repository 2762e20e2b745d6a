package model

import (
	"fmt"
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// Period is an inclusive date range
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if date falls on or between Start and End (dates only)
func (p Period) Contains(date time.Time) bool {
	d := truncateDate(date)
	return !d.Before(truncateDate(p.Start)) && !d.After(truncateDate(p.End))
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RoundStatus is the lifecycle state of an application round
type RoundStatus string

const (
	RoundDraft       RoundStatus = "draft"
	RoundOpen        RoundStatus = "open"
	RoundAllocating  RoundStatus = "allocating"
	RoundAllocated   RoundStatus = "allocated"
	RoundResultsSent RoundStatus = "results_sent"
)

func (s RoundStatus) IsValid() bool {
	switch s {
	case RoundDraft, RoundOpen, RoundAllocating, RoundAllocated, RoundResultsSent:
		return true
	}
	return false
}

// CanAllocate returns true if an allocation run may start for a round in this status
func (s RoundStatus) CanAllocate() bool {
	return s == RoundDraft || s == RoundOpen || s == RoundAllocated
}

// ApplicationRound is a bounded period in which applicants request seasonal slots
type ApplicationRound struct {
	ID                string
	Name              string
	ApplicationPeriod Period
	ReservablePeriod  Period
	Status            RoundStatus
}

// ApplicationStatus is derived from the allocation outcome of an application's sections
type ApplicationStatus string

const (
	ApplicationReceived         ApplicationStatus = "received"
	ApplicationUnallocated      ApplicationStatus = "unallocated"
	ApplicationPartiallyHandled ApplicationStatus = "partially_handled"
	ApplicationHandled          ApplicationStatus = "handled"
)

// Application is one applicant's submission for a round
type Application struct {
	ID            string
	RoundID       string
	ApplicantName string
	SubmittedAt   time.Time
	Sections      []ApplicationSection
}

// Status derives the application status from its sections
func (a Application) Status() ApplicationStatus {
	return DeriveApplicationStatus(a.Sections)
}

// DeriveApplicationStatus returns Handled when every section is allocated, Unallocated when none
// is, PartiallyHandled for a mix and Received when there are no sections
func DeriveApplicationStatus(sections []ApplicationSection) ApplicationStatus {
	if len(sections) == 0 {
		return ApplicationReceived
	}
	allocated := 0
	for _, s := range sections {
		if s.Status == SectionAllocated {
			allocated++
		}
	}
	switch allocated {
	case 0:
		return ApplicationUnallocated
	case len(sections):
		return ApplicationHandled
	default:
		return ApplicationPartiallyHandled
	}
}

// SectionStatus is the allocation outcome of a section
type SectionStatus string

const (
	SectionUnallocated SectionStatus = "UNALLOCATED"
	SectionAllocated   SectionStatus = "ALLOCATED"
)

// ApplicationSection is a single recurring-booking request
type ApplicationSection struct {
	ID                         string
	ApplicationID              string
	Name                       string
	NumPersons                 int
	AppliedReservationsPerWeek int
	MinDuration                time.Duration
	MaxDuration                time.Duration
	Options                    []ReservationUnitOption
	SuitableTimeRanges         []SuitableTimeRange
	Status                     SectionStatus
}

// OptionState is the staff decision on a reservation unit option
type OptionState string

const (
	// OptionOpen can receive new allocations
	OptionOpen OptionState = "open"
	// OptionLocked keeps any existing allocation but receives no new ones
	OptionLocked OptionState = "locked"
	// OptionRejected never holds an allocation
	OptionRejected OptionState = "rejected"
)

func (s OptionState) IsValid() bool {
	return s == OptionOpen || s == OptionLocked || s == OptionRejected
}

// ParseOptionState converts a persisted value to an OptionState
func ParseOptionState(s string) (OptionState, error) {
	state := OptionState(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid option state %q", s)
	}
	return state, nil
}

// ReservationUnitOption is a ranked candidate facility for a section
type ReservationUnitOption struct {
	ID                string
	SectionID         string
	ReservationUnitID string
	Rank              int
	State             OptionState
}

// AcceptsNewAllocations returns true if the allocator may place a new slot on this option
func (o ReservationUnitOption) AcceptsNewAllocations() bool {
	return o.State == OptionOpen
}

// Priority is the applicant's preference level for a suitable time range
type Priority int

const (
	PriorityLow    Priority = 100
	PriorityMedium Priority = 200
	PriorityHigh   Priority = 300
)

func (p Priority) IsValid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority parses "low", "medium" or "high"
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, fmt.Errorf("invalid priority %q", s)
}

// SuitableTimeRange is an acceptable weekly window with a priority
type SuitableTimeRange struct {
	ID        string
	SectionID string
	Window    timewindow.Window
	Priority  Priority
}

// AllocatedTimeSlot is the allocator's chosen weekly slot for a section
type AllocatedTimeSlot struct {
	ID                string
	OptionID          string
	SectionID         string
	ReservationUnitID string
	Window            timewindow.Window
}

// RecurringReservation is a materialized weekly series
type RecurringReservation struct {
	ID                  string
	AllocatedTimeSlotID string // empty for series created outside seasonal allocation
	ReservationUnitID   string
	BeginDate           time.Time
	EndDate             time.Time
	Window              timewindow.Window
	CreatedAt           time.Time
}

// ReservationState is the state of a concrete reservation
type ReservationState string

const (
	ReservationConfirmed ReservationState = "confirmed"
	ReservationCancelled ReservationState = "cancelled"
)

// Reservation is one dated booking instance
type Reservation struct {
	ID                string
	SeriesID          string
	ReservationUnitID string
	Begin             time.Time
	End               time.Time
	State             ReservationState
}

// Overlaps returns true if the reservation intersects [begin, end)
func (r Reservation) Overlaps(begin, end time.Time) bool {
	return r.Begin.Before(end) && begin.Before(r.End)
}

// ReservationStatistic is an analytics row kept for a limited time
type ReservationStatistic struct {
	ID            string
	ReservationID string
	CreatedAt     time.Time
}
