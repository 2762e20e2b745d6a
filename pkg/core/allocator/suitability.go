package allocator

import (
	"cmp"
	"slices"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// CandidateOption is a reservation unit option as seen by the allocator
type CandidateOption struct {
	Option model.ReservationUnitOption
	Rank   int
	// Allocatable is false for locked options: they stay visible but take no new placements
	Allocatable bool
}

// SuitabilityIndex holds, per section, the ranked options and priority-ordered windows.
// It is built once per allocation run and is read-only afterwards.
type SuitabilityIndex struct {
	options  map[string][]CandidateOption
	ranges   map[string][]model.SuitableTimeRange
	optionBy map[string]model.ReservationUnitOption
}

// BuildSuitabilityIndex indexes the given sections
func BuildSuitabilityIndex(sections []model.ApplicationSection) *SuitabilityIndex {
	index := &SuitabilityIndex{
		options:  make(map[string][]CandidateOption, len(sections)),
		ranges:   make(map[string][]model.SuitableTimeRange, len(sections)),
		optionBy: make(map[string]model.ReservationUnitOption),
	}

	for _, section := range sections {
		candidates := make([]CandidateOption, 0, len(section.Options))
		for _, option := range section.Options {
			index.optionBy[option.ID] = option
			if option.State == model.OptionRejected {
				continue
			}
			candidates = append(candidates, CandidateOption{
				Option:      option,
				Rank:        option.Rank,
				Allocatable: option.AcceptsNewAllocations(),
			})
		}
		slices.SortStableFunc(candidates, func(a, b CandidateOption) int {
			return cmp.Or(cmp.Compare(a.Rank, b.Rank), cmp.Compare(a.Option.ID, b.Option.ID))
		})
		index.options[section.ID] = candidates

		ranges := slices.Clone(section.SuitableTimeRanges)
		slices.SortStableFunc(ranges, compareRanges)
		index.ranges[section.ID] = ranges
	}

	return index
}

// compareRanges orders by priority descending, then weekday, begin and end ascending
func compareRanges(a, b model.SuitableTimeRange) int {
	if a.Priority != b.Priority {
		return cmp.Compare(b.Priority, a.Priority)
	}
	return timewindow.CompareNatural(a.Window, b.Window)
}

// CandidateOptions returns the section's non-rejected options in rank order
func (idx *SuitabilityIndex) CandidateOptions(sectionID string) []CandidateOption {
	return slices.Clone(idx.options[sectionID])
}

// SuitableWindows returns the section's ranges with at least minPriority,
// ordered by priority descending, then weekday and begin time ascending
func (idx *SuitabilityIndex) SuitableWindows(sectionID string, minPriority model.Priority) []model.SuitableTimeRange {
	result := make([]model.SuitableTimeRange, 0, len(idx.ranges[sectionID]))
	for _, r := range idx.ranges[sectionID] {
		if r.Priority >= minPriority {
			result = append(result, r)
		}
	}
	return result
}

// HighestPriority returns the highest priority among the section's ranges, or 0 if it has none
func (idx *SuitabilityIndex) HighestPriority(sectionID string) model.Priority {
	ranges := idx.ranges[sectionID]
	if len(ranges) == 0 {
		return 0
	}
	return ranges[0].Priority
}

// Option looks up any indexed option (including rejected ones) by ID
func (idx *SuitabilityIndex) Option(optionID string) (model.ReservationUnitOption, bool) {
	option, ok := idx.optionBy[optionID]
	return option, ok
}
