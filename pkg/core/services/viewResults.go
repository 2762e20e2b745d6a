package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// SectionView is one section with the slot it holds, if any
type SectionView struct {
	Section model.ApplicationSection
	Slot    *model.AllocatedTimeSlot
	// Option is the option holding Slot
	Option *model.ReservationUnitOption
}

// ApplicationView is one application with its derived status
type ApplicationView struct {
	Application model.Application
	Status      model.ApplicationStatus
	Sections    []SectionView
}

// ViewResultsResult contains a round's allocation results for display
type ViewResultsResult struct {
	Round        model.ApplicationRound
	Applications []ApplicationView

	AllocatedSections   int
	UnallocatedSections int
}

// ViewResults loads a round and pairs each section with its allocated slot.
// Applications are ordered by submission time, then ID.
func ViewResults(ctx context.Context, store db.RoundStore, logger *zap.Logger, roundID string) (*ViewResultsResult, error) {
	input, err := store.GetRoundInput(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}

	slotsBySection := make(map[string]model.AllocatedTimeSlot, len(input.ExistingSlots))
	for _, slot := range input.ExistingSlots {
		slotsBySection[slot.SectionID] = slot
	}

	result := &ViewResultsResult{Round: input.Round}

	applications := make([]model.Application, len(input.Applications))
	copy(applications, input.Applications)
	sort.SliceStable(applications, func(i, j int) bool {
		if !applications[i].SubmittedAt.Equal(applications[j].SubmittedAt) {
			return applications[i].SubmittedAt.Before(applications[j].SubmittedAt)
		}
		return applications[i].ID < applications[j].ID
	})

	for _, app := range applications {
		view := ApplicationView{Application: app, Status: app.Status()}
		for _, section := range app.Sections {
			sv := SectionView{Section: section}
			if slot, ok := slotsBySection[section.ID]; ok {
				sv.Slot = &slot
				for _, opt := range section.Options {
					if opt.ID == slot.OptionID {
						sv.Option = &opt
						break
					}
				}
			}
			if section.Status == model.SectionAllocated {
				result.AllocatedSections++
			} else {
				result.UnallocatedSections++
			}
			view.Sections = append(view.Sections, sv)
		}
		result.Applications = append(result.Applications, view)
	}

	logger.Debug("Loaded round results",
		zap.String("round_id", roundID),
		zap.Int("applications", len(result.Applications)),
		zap.Int("allocated_sections", result.AllocatedSections))

	return result, nil
}
