package db

import (
	"errors"
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
)

var (
	// ErrRoundNotFound is returned when a round id does not exist
	ErrRoundNotFound = errors.New("application round not found")
	// ErrOptionNotFound is returned when a reservation unit option id does not exist
	ErrOptionNotFound = errors.New("reservation unit option not found")
	// ErrRoundStatusChanged is returned when a status transition finds the round in another status
	ErrRoundStatusChanged = errors.New("application round status changed")
	// ErrRoundAllocating is returned when an option changes while its round is being allocated
	ErrRoundAllocating = errors.New("application round is being allocated")
)

// RoundInput is everything an allocation run reads for one round
type RoundInput struct {
	Round        model.ApplicationRound
	Applications []model.Application

	// ExistingSlots are the round's allocated time slots from a previous run
	ExistingSlots []model.AllocatedTimeSlot

	// ReservedSlots are slots of other allocated rounds whose reservable periods overlap
	ReservedSlots []model.AllocatedTimeSlot
}

// Sections returns every section of every application in the round
func (r *RoundInput) Sections() []model.ApplicationSection {
	var sections []model.ApplicationSection
	for _, app := range r.Applications {
		sections = append(sections, app.Sections...)
	}
	return sections
}

// AllocationWrite is the persisted outcome of one allocation run
type AllocationWrite struct {
	RoundID string

	// Slots are the newly placed slots; each carries its new ID
	Slots []model.AllocatedTimeSlot

	// RetainedSlotIDs are existing slots that survive the run; every other slot of the round is replaced
	RetainedSlotIDs []string

	SectionStatuses map[string]model.SectionStatus
	RoundStatus     model.RoundStatus
	AllocatedAt     time.Time

	// CancelFrom is the instant from which reservations of replaced slots' series are cancelled
	CancelFrom time.Time
}

// AllocationWriteResult reports what persisting an allocation changed besides the new slots
type AllocationWriteResult struct {
	// SkippedSlots are new slots not written because their option was rejected meanwhile
	SkippedSlots []model.AllocatedTimeSlot

	CancelledReservations int
}

// ClearResult reports what clearing a round's allocation removed
type ClearResult struct {
	DeletedSlots          int
	CancelledReservations int
}

// OptionRecord is an option with the round and allocation context needed to change its state
type OptionRecord struct {
	Option      model.ReservationUnitOption
	RoundID     string
	RoundStatus model.RoundStatus

	// Slot is the option's allocated time slot, if any
	Slot *model.AllocatedTimeSlot

	// SeriesID is the recurring reservation materialized from Slot, if any
	SeriesID string
}

// RejectionWrite describes the cascade of rejecting an option.
// The option's slot and series are resolved inside the rejecting transaction.
type RejectionWrite struct {
	OptionID  string
	SectionID string

	// CancelFrom is the instant from which the series' reservations are cancelled
	CancelFrom time.Time
}

// RejectionResult reports what the rejection cascade changed
type RejectionResult struct {
	SlotDeleted           bool
	CancelledReservations int
}
