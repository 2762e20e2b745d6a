package allocator

import (
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
)

// DefaultPlacementStep is how far successive placements advance when a range is split
const DefaultPlacementStep = 30 * time.Minute

// EngineState is the lifecycle state of an allocation run
type EngineState string

const (
	StatePending    EngineState = "pending"
	StateAllocating EngineState = "allocating"
	StateCompleted  EngineState = "completed"
	StateFailed     EngineState = "failed"
)

// AllocationConfig contains the input for one allocation run of one round
type AllocationConfig struct {
	// Round being allocated
	Round model.ApplicationRound

	// Applications in the round, with their sections, options and suitable time ranges
	Applications []model.Application

	// ExistingSlots are the round's slots from a previous run.
	// Slots held by locked options are retained; all others are recomputed.
	ExistingSlots []model.AllocatedTimeSlot

	// ReservedSlots are slots committed by other rounds on the same units.
	// They only take capacity when HonorCrossRoundCapacity is set.
	ReservedSlots []model.AllocatedTimeSlot

	// HonorCrossRoundCapacity seeds the ledger with ReservedSlots
	HonorCrossRoundCapacity bool

	// PlacementStep is how far placements advance when a range is longer than the section's
	// MaxDuration (defaults to DefaultPlacementStep)
	PlacementStep time.Duration
}

// UnallocatedReason explains why a section received no slot
type UnallocatedReason string

const (
	ReasonNone               UnallocatedReason = ""
	ReasonNoAllocatable      UnallocatedReason = "no allocatable reservation unit options"
	ReasonNoSuitableWindows  UnallocatedReason = "no suitable time ranges long enough for the section"
	ReasonAllCandidatesTaken UnallocatedReason = "every candidate slot was already taken"
	ReasonOptionRejected     UnallocatedReason = "reservation unit option was rejected during allocation"
)

// SectionResult is the outcome for one section
type SectionResult struct {
	SectionID     string
	ApplicationID string
	Status        model.SectionStatus

	// Slot is set when Status is Allocated
	Slot *model.AllocatedTimeSlot

	// Retained is true when the slot was kept from a previous run on a locked option
	Retained bool

	// CandidatesTried is the number of (option, window) pairs checked against the ledger
	CandidatesTried int

	Reason UnallocatedReason
}

// Step records the ledger after a section was processed
type Step struct {
	SectionID string
	// Chosen is nil when the section was left unallocated or retained
	Chosen *Candidate
	Ledger Ledger
}

// AllocationOutcome is the result of a completed allocation run
type AllocationOutcome struct {
	State EngineState

	// Slots is the full slot set for the round (retained and new), in processing order
	Slots []model.AllocatedTimeSlot

	// SectionResults holds one result per section, in processing order
	SectionResults []SectionResult

	// Steps holds one entry per processed section, in processing order
	Steps []Step

	// Ledger is the final capacity ledger
	Ledger Ledger

	// ValidationErrors holds any double booking found in the final slot set
	ValidationErrors []SlotValidationError
}

// AllocatedCount returns the number of sections that hold a slot
func (o *AllocationOutcome) AllocatedCount() int {
	count := 0
	for _, r := range o.SectionResults {
		if r.Status == model.SectionAllocated {
			count++
		}
	}
	return count
}

// UnallocatedCount returns the number of sections left without a slot
func (o *AllocationOutcome) UnallocatedCount() int {
	return len(o.SectionResults) - o.AllocatedCount()
}

// RetainedCount returns the number of slots kept from a previous run
func (o *AllocationOutcome) RetainedCount() int {
	count := 0
	for _, r := range o.SectionResults {
		if r.Retained {
			count++
		}
	}
	return count
}

// Result returns the result for a section
func (o *AllocationOutcome) Result(sectionID string) (SectionResult, bool) {
	for _, r := range o.SectionResults {
		if r.SectionID == sectionID {
			return r, true
		}
	}
	return SectionResult{}, false
}

// NewSlots returns the slots placed in this run (excluding retained ones)
func (o *AllocationOutcome) NewSlots() []model.AllocatedTimeSlot {
	slots := make([]model.AllocatedTimeSlot, 0, len(o.Slots))
	for _, r := range o.SectionResults {
		if r.Slot != nil && !r.Retained {
			slots = append(slots, *r.Slot)
		}
	}
	return slots
}
