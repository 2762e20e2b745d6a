package services

import "errors"

var (
	// ErrRoundLocked is returned when another run holds the round or the round is mid-allocation
	ErrRoundLocked = errors.New("round is being allocated by another run")
	// ErrResultsSent is returned when a round's results were already sent to applicants
	ErrResultsSent = errors.New("round results have already been sent")
	// ErrOptionRejected is returned when locking or unlocking a rejected option
	ErrOptionRejected = errors.New("reservation unit option is rejected")
)
