package allocator

import (
	"errors"
	"fmt"

	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// ErrEngineAlreadyRan is returned when Run is called on an engine that is not Pending
var ErrEngineAlreadyRan = errors.New("allocation engine has already run")

// ValidationError reports malformed allocation input. It aborts the run before any placement.
type ValidationError struct {
	// Entity is the kind of record that failed validation (round, section, option, ...)
	Entity string
	// ID identifies the record
	ID     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation failed for %s %s: %s", e.Entity, e.ID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when a placement is committed over an existing one.
// It signals a defect in the caller: Commit must follow a successful CanPlace.
type ConflictError struct {
	ReservationUnitID string
	Window            timewindow.Window
	Owner             string
	ConflictingOwner  string
	ConflictingWindow timewindow.Window
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("capacity conflict on reservation unit %s: %s for %s overlaps %s held by %s",
		e.ReservationUnitID, e.Window, e.Owner, e.ConflictingWindow, e.ConflictingOwner)
}
