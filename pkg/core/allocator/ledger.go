package allocator

import (
	"fmt"
	"maps"
	"slices"

	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// LedgerEntry is one committed weekly placement on a reservation unit
type LedgerEntry struct {
	Window timewindow.Window
	// Owner identifies who holds the placement (a section ID, or a slot from another round)
	Owner string
}

// Ledger tracks the committed weekly placements per reservation unit.
//
// A Ledger is a value: Commit and Rollback return a new Ledger and leave the receiver
// unchanged, so earlier snapshots stay valid. Only the touched unit's entries are copied.
type Ledger struct {
	units map[string][]LedgerEntry
}

// NewLedger returns an empty ledger
func NewLedger() Ledger {
	return Ledger{units: map[string][]LedgerEntry{}}
}

// CanPlace returns false iff window overlaps a placement already committed on the unit
func (l Ledger) CanPlace(unitID string, window timewindow.Window) bool {
	_, conflict := l.findConflict(unitID, window)
	return !conflict
}

func (l Ledger) findConflict(unitID string, window timewindow.Window) (LedgerEntry, bool) {
	for _, entry := range l.units[unitID] {
		if timewindow.Overlaps(entry.Window, window) {
			return entry, true
		}
	}
	return LedgerEntry{}, false
}

// Commit returns a ledger with the placement added.
// It fails with a ConflictError if CanPlace would have returned false.
func (l Ledger) Commit(unitID string, window timewindow.Window, owner string) (Ledger, error) {
	if existing, conflict := l.findConflict(unitID, window); conflict {
		return l, &ConflictError{
			ReservationUnitID: unitID,
			Window:            window,
			Owner:             owner,
			ConflictingOwner:  existing.Owner,
			ConflictingWindow: existing.Window,
		}
	}

	next := l.cloneUnits()
	entries := slices.Clone(l.units[unitID])
	next[unitID] = append(entries, LedgerEntry{Window: window, Owner: owner})
	return Ledger{units: next}, nil
}

// Reserve returns a ledger with window blocked on the unit without an overlap check.
// Reserved ground may overlap other reserved or committed placements.
func (l Ledger) Reserve(unitID string, window timewindow.Window, owner string) Ledger {
	next := l.cloneUnits()
	entries := slices.Clone(l.units[unitID])
	next[unitID] = append(entries, LedgerEntry{Window: window, Owner: owner})
	return Ledger{units: next}
}

// Rollback returns a ledger with a previously committed placement removed
func (l Ledger) Rollback(unitID string, window timewindow.Window) (Ledger, error) {
	entries := l.units[unitID]
	idx := slices.IndexFunc(entries, func(e LedgerEntry) bool { return e.Window == window })
	if idx < 0 {
		return l, fmt.Errorf("no placement %s on reservation unit %s to roll back", window, unitID)
	}

	next := l.cloneUnits()
	remaining := slices.Delete(slices.Clone(entries), idx, idx+1)
	if len(remaining) == 0 {
		delete(next, unitID)
	} else {
		next[unitID] = remaining
	}
	return Ledger{units: next}, nil
}

// Slots returns the placements on a unit in natural window order
func (l Ledger) Slots(unitID string) []LedgerEntry {
	entries := slices.Clone(l.units[unitID])
	slices.SortStableFunc(entries, func(a, b LedgerEntry) int {
		return timewindow.CompareNatural(a.Window, b.Window)
	})
	return entries
}

// Units returns the IDs of units holding at least one placement, sorted
func (l Ledger) Units() []string {
	return slices.Sorted(maps.Keys(l.units))
}

// Len returns the total number of placements across all units
func (l Ledger) Len() int {
	total := 0
	for _, entries := range l.units {
		total += len(entries)
	}
	return total
}

func (l Ledger) cloneUnits() map[string][]LedgerEntry {
	if l.units == nil {
		return map[string][]LedgerEntry{}
	}
	return maps.Clone(l.units)
}
