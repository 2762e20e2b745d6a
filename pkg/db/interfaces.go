package db

import (
	"context"
	"time"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/occurrences"
	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

// RoundStore defines the round read model and status updates
type RoundStore interface {
	GetRoundInput(ctx context.Context, roundID string) (*RoundInput, error)
	// TransitionRoundStatus moves a round from one status to another.
	// It returns ErrRoundStatusChanged if the round is no longer in from.
	TransitionRoundStatus(ctx context.Context, roundID string, from, to model.RoundStatus) error
}

// AllocationStore defines the transactional allocation writes
type AllocationStore interface {
	PersistAllocation(ctx context.Context, write AllocationWrite) (*AllocationWriteResult, error)
	ClearAllocation(ctx context.Context, roundID string, cancelFrom time.Time) (*ClearResult, error)
}

// OptionStore defines staff decisions on reservation unit options.
// Writes return ErrRoundAllocating while the option's round is being allocated.
type OptionStore interface {
	GetOption(ctx context.Context, optionID string) (*OptionRecord, error)
	SetOptionState(ctx context.Context, optionID string, state model.OptionState) error
	RejectOption(ctx context.Context, write RejectionWrite) (*RejectionResult, error)
}

// SeriesStore defines recurring series and reservation operations used by occurrence generation
type SeriesStore interface {
	GetRoundSlots(ctx context.Context, roundID string) ([]model.AllocatedTimeSlot, error)
	EnsureSeries(ctx context.Context, series model.RecurringReservation) (model.RecurringReservation, bool, error)
	GetUnitReservations(ctx context.Context, unitID string, from, to time.Time) ([]model.Reservation, error)
	CreateReservations(ctx context.Context, seriesID string, drafts []occurrences.Draft) (*occurrences.SinkResult, error)
}

// PruneStore defines the row-by-row cleanup operations
type PruneStore interface {
	ListPrunableSeries(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteSeriesIfEmpty(ctx context.Context, seriesID string, cutoff time.Time) (bool, error)
	ListExpiredStatistics(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteStatistic(ctx context.Context, statisticID string, cutoff time.Time) (bool, error)
}

// ClosureStore defines the persisted facility closures
type ClosureStore interface {
	IsClosed(ctx context.Context, unitID string, date time.Time, window timewindow.Window) (bool, error)
}

// Database defines the interface for all database operations.
// postgres.DB implements this interface.
type Database interface {
	RoundStore
	AllocationStore
	OptionStore
	SeriesStore
	PruneStore
	ClosureStore
	RunMigrations(ctx context.Context) error
	Close()
}
