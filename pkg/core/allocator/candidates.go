package allocator

import (
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// Candidate is one (option, window) pair the engine may try for a section
type Candidate struct {
	Option model.ReservationUnitOption
	// Range is the applicant's suitable time range the window was derived from
	Range model.SuitableTimeRange
	// Window is the concrete weekly placement
	Window timewindow.Window
}

// Candidates returns, in the order they must be tried, every (option, window) pair for a section.
//
// Ordering:
//   - options by rank (locked and rejected options contribute nothing)
//   - within an option, ranges by priority desc, then weekday and begin time asc
//   - within a range, placements by begin time asc
//
// A range is used as a whole unless the section sets MaxDuration shorter than it, in which case
// it is split into MaxDuration-long placements advancing by step. Ranges shorter than
// MinDuration yield no placements.
func Candidates(index *SuitabilityIndex, section model.ApplicationSection, step time.Duration) []Candidate {
	ranges := index.SuitableWindows(section.ID, model.PriorityLow)

	placements := make([][]timewindow.Window, len(ranges))
	for i, r := range ranges {
		placements[i] = placementsFor(r.Window, section.MinDuration, section.MaxDuration, step)
	}

	var candidates []Candidate
	for _, option := range index.CandidateOptions(section.ID) {
		if !option.Allocatable {
			continue
		}
		for i, r := range ranges {
			for _, window := range placements[i] {
				candidates = append(candidates, Candidate{
					Option: option.Option,
					Range:  r,
					Window: window,
				})
			}
		}
	}
	return candidates
}

func placementsFor(window timewindow.Window, minDuration, maxDuration, step time.Duration) []timewindow.Window {
	if minDuration > 0 && window.Duration() < minDuration {
		return nil
	}
	if maxDuration > 0 && window.Duration() > maxDuration {
		return timewindow.Split(window, maxDuration, step)
	}
	return []timewindow.Window{window}
}
