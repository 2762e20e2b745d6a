package allocator

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
)

// Engine runs one allocation of one round.
//
// The engine is single use: Pending -> Allocating -> Completed, or Allocating -> Failed on
// malformed input or a ledger conflict. It owns its ledger; nothing is shared between runs.
type Engine struct {
	config AllocationConfig
	state  EngineState
	index  *SuitabilityIndex
	ledger Ledger
}

// sectionRef pairs a section with the application it belongs to
type sectionRef struct {
	section     model.ApplicationSection
	application model.Application
	priority    model.Priority
}

// NewEngine creates a Pending engine for the given configuration
func NewEngine(config AllocationConfig) *Engine {
	if config.PlacementStep <= 0 {
		config.PlacementStep = DefaultPlacementStep
	}
	return &Engine{
		config: config,
		state:  StatePending,
		ledger: NewLedger(),
	}
}

// State returns the engine's lifecycle state
func (e *Engine) State() EngineState {
	return e.state
}

// Allocate runs a fresh engine over the configuration
func Allocate(config AllocationConfig) (*AllocationOutcome, error) {
	return NewEngine(config).Run()
}

// Run executes the greedy allocation.
//
// Sections are processed in a stable order (highest range priority desc, application
// submission time asc, section ID asc). For each section the first candidate (option, window)
// pair whose window is free on the option's unit is committed. Earlier placements are never
// revisited.
func (e *Engine) Run() (*AllocationOutcome, error) {
	if e.state != StatePending {
		return nil, ErrEngineAlreadyRan
	}
	e.state = StateAllocating

	if err := ValidateInput(e.config); err != nil {
		e.state = StateFailed
		return nil, err
	}

	sections := make([]model.ApplicationSection, 0)
	for _, application := range e.config.Applications {
		sections = append(sections, application.Sections...)
	}
	e.index = BuildSuitabilityIndex(sections)

	retained, err := e.seedLedger()
	if err != nil {
		e.state = StateFailed
		return nil, err
	}

	outcome := &AllocationOutcome{
		Slots:            []model.AllocatedTimeSlot{},
		SectionResults:   []SectionResult{},
		Steps:            []Step{},
		ValidationErrors: []SlotValidationError{},
	}

	for _, ref := range e.orderSections() {
		result, chosen, err := e.processSection(ref, retained)
		if err != nil {
			e.state = StateFailed
			return nil, err
		}

		if result.Slot != nil {
			outcome.Slots = append(outcome.Slots, *result.Slot)
		}
		outcome.SectionResults = append(outcome.SectionResults, result)
		outcome.Steps = append(outcome.Steps, Step{
			SectionID: ref.section.ID,
			Chosen:    chosen,
			Ledger:    e.ledger,
		})
	}

	outcome.Ledger = e.ledger
	outcome.ValidationErrors = ValidateNoDoubleBooking(outcome.Slots)
	if len(outcome.ValidationErrors) > 0 {
		e.state = StateFailed
		return nil, fmt.Errorf("allocation produced %d double bookings: %s",
			len(outcome.ValidationErrors), outcome.ValidationErrors[0].Description)
	}

	e.state = StateCompleted
	outcome.State = e.state
	return outcome, nil
}

// seedLedger commits slots that keep their capacity before the greedy pass:
// slots on locked options, and reserved slots from other rounds when configured.
// It returns the retained slots keyed by section ID.
func (e *Engine) seedLedger() (map[string]model.AllocatedTimeSlot, error) {
	retained := make(map[string]model.AllocatedTimeSlot)

	existing := slices.Clone(e.config.ExistingSlots)
	slices.SortStableFunc(existing, func(a, b model.AllocatedTimeSlot) int {
		return cmp.Compare(a.SectionID, b.SectionID)
	})

	for _, slot := range existing {
		option, ok := e.index.Option(slot.OptionID)
		if !ok || option.State != model.OptionLocked {
			continue
		}
		if _, dup := retained[slot.SectionID]; dup {
			return nil, &ValidationError{
				Entity: "section",
				ID:     slot.SectionID,
				Reason: "holds more than one allocated time slot on locked options",
			}
		}

		ledger, err := e.ledger.Commit(slot.ReservationUnitID, slot.Window, slot.SectionID)
		if err != nil {
			return nil, fmt.Errorf("failed to retain slot %s: %w", slot.ID, err)
		}
		e.ledger = ledger
		retained[slot.SectionID] = slot
	}

	if e.config.HonorCrossRoundCapacity {
		// Other rounds may overlap each other and our retained slots
		for _, slot := range e.config.ReservedSlots {
			e.ledger = e.ledger.Reserve(slot.ReservationUnitID, slot.Window, "reserved:"+slot.ID)
		}
	}

	return retained, nil
}

// orderSections flattens all sections into processing order
func (e *Engine) orderSections() []sectionRef {
	refs := make([]sectionRef, 0)
	for _, application := range e.config.Applications {
		for _, section := range application.Sections {
			refs = append(refs, sectionRef{
				section:     section,
				application: application,
				priority:    e.index.HighestPriority(section.ID),
			})
		}
	}

	slices.SortStableFunc(refs, func(a, b sectionRef) int {
		return cmp.Or(
			cmp.Compare(b.priority, a.priority),
			a.application.SubmittedAt.Compare(b.application.SubmittedAt),
			cmp.Compare(a.section.ID, b.section.ID),
		)
	})
	return refs
}

// processSection places one section and advances the engine's ledger
func (e *Engine) processSection(ref sectionRef, retained map[string]model.AllocatedTimeSlot) (SectionResult, *Candidate, error) {
	result := SectionResult{
		SectionID:     ref.section.ID,
		ApplicationID: ref.application.ID,
		Status:        model.SectionUnallocated,
	}

	if slot, ok := retained[ref.section.ID]; ok {
		result.Status = model.SectionAllocated
		result.Slot = &slot
		result.Retained = true
		return result, nil, nil
	}

	candidates := Candidates(e.index, ref.section, e.config.PlacementStep)
	if len(candidates) == 0 {
		result.Reason = unplaceableReason(e.index, ref.section.ID)
		return result, nil, nil
	}

	for i := range candidates {
		candidate := candidates[i]
		result.CandidatesTried++

		unitID := candidate.Option.ReservationUnitID
		if !e.ledger.CanPlace(unitID, candidate.Window) {
			continue
		}

		ledger, err := e.ledger.Commit(unitID, candidate.Window, ref.section.ID)
		if err != nil {
			return result, nil, err
		}
		e.ledger = ledger

		result.Status = model.SectionAllocated
		result.Slot = &model.AllocatedTimeSlot{
			OptionID:          candidate.Option.ID,
			SectionID:         ref.section.ID,
			ReservationUnitID: unitID,
			Window:            candidate.Window,
		}
		return result, &candidate, nil
	}

	result.Reason = ReasonAllCandidatesTaken
	return result, nil, nil
}

func unplaceableReason(index *SuitabilityIndex, sectionID string) UnallocatedReason {
	for _, option := range index.CandidateOptions(sectionID) {
		if option.Allocatable {
			return ReasonNoSuitableWindows
		}
	}
	return ReasonNoAllocatable
}
