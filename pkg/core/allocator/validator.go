package allocator

import (
	"fmt"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// SlotValidationError describes a double booking between two slots on one unit
type SlotValidationError struct {
	ReservationUnitID string
	SlotA             model.AllocatedTimeSlot
	SlotB             model.AllocatedTimeSlot
	Description       string
}

// ValidateNoDoubleBooking checks that no two slots on the same reservation unit overlap.
// An empty slice means the slot set is valid.
func ValidateNoDoubleBooking(slots []model.AllocatedTimeSlot) []SlotValidationError {
	errors := []SlotValidationError{}

	byUnit := make(map[string][]model.AllocatedTimeSlot)
	for _, slot := range slots {
		byUnit[slot.ReservationUnitID] = append(byUnit[slot.ReservationUnitID], slot)
	}

	for unitID, unitSlots := range byUnit {
		for i := 0; i < len(unitSlots); i++ {
			for j := i + 1; j < len(unitSlots); j++ {
				a, b := unitSlots[i], unitSlots[j]
				if !timewindow.Overlaps(a.Window, b.Window) {
					continue
				}
				errors = append(errors, SlotValidationError{
					ReservationUnitID: unitID,
					SlotA:             a,
					SlotB:             b,
					Description: fmt.Sprintf("sections %s (%s) and %s (%s) overlap on reservation unit %s",
						a.SectionID, a.Window, b.SectionID, b.Window, unitID),
				})
			}
		}
	}

	return errors
}

// ValidateInput checks the allocation input for malformed data.
// The first problem found is returned as a *ValidationError.
func ValidateInput(config AllocationConfig) error {
	if config.Round.ID == "" {
		return &ValidationError{Entity: "round", Reason: "missing id"}
	}
	if !config.Round.Status.CanAllocate() {
		return &ValidationError{
			Entity: "round",
			ID:     config.Round.ID,
			Reason: fmt.Sprintf("cannot allocate a round in status %q", config.Round.Status),
		}
	}

	seenSections := make(map[string]bool)
	seenOptions := make(map[string]bool)

	for _, application := range config.Applications {
		if application.ID == "" {
			return &ValidationError{Entity: "application", Reason: "missing id"}
		}
		for _, section := range application.Sections {
			if err := validateSection(section, seenSections, seenOptions); err != nil {
				return err
			}
		}
	}

	for _, slot := range config.ExistingSlots {
		if err := slot.Window.Validate(); err != nil {
			return &ValidationError{Entity: "allocated time slot", ID: slot.ID, Reason: "invalid window", Err: err}
		}
	}
	if config.HonorCrossRoundCapacity {
		for _, slot := range config.ReservedSlots {
			if err := slot.Window.Validate(); err != nil {
				return &ValidationError{Entity: "reserved time slot", ID: slot.ID, Reason: "invalid window", Err: err}
			}
		}
	}

	return nil
}

func validateSection(section model.ApplicationSection, seenSections, seenOptions map[string]bool) error {
	if section.ID == "" {
		return &ValidationError{Entity: "section", Reason: "missing id"}
	}
	if seenSections[section.ID] {
		return &ValidationError{Entity: "section", ID: section.ID, Reason: "duplicate id"}
	}
	seenSections[section.ID] = true

	if section.MinDuration < 0 || section.MaxDuration < 0 {
		return &ValidationError{Entity: "section", ID: section.ID, Reason: "durations must not be negative"}
	}
	if section.MinDuration > 0 && section.MaxDuration > 0 && section.MinDuration > section.MaxDuration {
		return &ValidationError{Entity: "section", ID: section.ID, Reason: "min duration exceeds max duration"}
	}

	for _, option := range section.Options {
		if option.ID == "" {
			return &ValidationError{Entity: "reservation unit option", Reason: fmt.Sprintf("missing id in section %s", section.ID)}
		}
		if seenOptions[option.ID] {
			return &ValidationError{Entity: "reservation unit option", ID: option.ID, Reason: "duplicate id"}
		}
		seenOptions[option.ID] = true

		if option.ReservationUnitID == "" {
			return &ValidationError{Entity: "reservation unit option", ID: option.ID, Reason: "missing reservation unit"}
		}
		if !option.State.IsValid() {
			return &ValidationError{Entity: "reservation unit option", ID: option.ID, Reason: fmt.Sprintf("invalid state %q", option.State)}
		}
	}

	for _, r := range section.SuitableTimeRanges {
		if !r.Priority.IsValid() {
			return &ValidationError{Entity: "suitable time range", ID: r.ID, Reason: fmt.Sprintf("invalid priority %d", int(r.Priority))}
		}
		if err := r.Window.Validate(); err != nil {
			return &ValidationError{Entity: "suitable time range", ID: r.ID, Reason: "invalid window", Err: err}
		}
	}

	return nil
}
