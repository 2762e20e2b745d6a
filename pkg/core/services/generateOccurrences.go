package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/occurrences"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// GenerateOccurrencesStore defines the database operations needed to materialize a round
type GenerateOccurrencesStore interface {
	db.RoundStore
	db.SeriesStore
}

// SeriesReport is the outcome for one allocated slot
type SeriesReport struct {
	SlotID        string
	SeriesID      string
	SeriesCreated bool
	Result        *occurrences.Result
	Err           error
}

// GenerateOccurrencesResult summarises the materialization of a round
type GenerateOccurrencesResult struct {
	RoundID string
	Series  []SeriesReport

	Created             int
	Closed              int
	AlreadyMaterialized int
	Conflicts           int
	Failed              int
}

// GenerateOccurrences materializes every allocated slot of a round into a recurring series
// with one reservation per open date of the reservable period.
//
// Series are processed in parallel, at most workers at a time; each series is written in its
// own transaction. A failing series is reported and does not stop the others. Running it again
// creates nothing new.
func GenerateOccurrences(
	ctx context.Context,
	store GenerateOccurrencesStore,
	closures occurrences.ClosureOracle,
	logger *zap.Logger,
	roundID string,
	workers int,
	location *time.Location,
) (*GenerateOccurrencesResult, error) {
	logger = logger.With(zap.String("round_id", roundID))

	input, err := store.GetRoundInput(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	round := input.Round
	if round.Status != model.RoundAllocated && round.Status != model.RoundResultsSent {
		return nil, fmt.Errorf("round %s has not been allocated (status %q)", roundID, round.Status)
	}

	slots, err := store.GetRoundSlots(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocated slots: %w", err)
	}

	logger.Info("Generating occurrences",
		zap.Int("slots", len(slots)),
		zap.Time("period_start", round.ReservablePeriod.Start),
		zap.Time("period_end", round.ReservablePeriod.End))

	generator := occurrences.NewGenerator(closures, store, location)
	reports := make([]SeriesReport, len(slots))

	if workers <= 0 {
		workers = 1
	}
	g := errgroup.Group{}
	g.SetLimit(workers)

	for i, slot := range slots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reports[i] = materializeSlot(ctx, store, generator, slot, round.ReservablePeriod)
			if reports[i].Err != nil {
				logger.Warn("Failed to materialize series",
					zap.String("slot_id", slot.ID),
					zap.String("series_id", reports[i].SeriesID),
					zap.Error(reports[i].Err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &GenerateOccurrencesResult{RoundID: roundID, Series: reports}
	for _, r := range reports {
		if r.Err != nil {
			result.Failed++
			continue
		}
		result.Created += r.Result.Created
		result.Closed += r.Result.Closed
		result.AlreadyMaterialized += r.Result.AlreadyMaterialized
		result.Conflicts += r.Result.Conflicts
	}

	logger.Info("Generated occurrences",
		zap.Int("created", result.Created),
		zap.Int("closed", result.Closed),
		zap.Int("already_materialized", result.AlreadyMaterialized),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("failed_series", result.Failed))

	return result, nil
}

func materializeSlot(
	ctx context.Context,
	store db.SeriesStore,
	generator *occurrences.Generator,
	slot model.AllocatedTimeSlot,
	period model.Period,
) SeriesReport {
	report := SeriesReport{SlotID: slot.ID}

	series, created, err := store.EnsureSeries(ctx, occurrences.SeriesFor(slot, period))
	if err != nil {
		report.Err = fmt.Errorf("failed to ensure series: %w", err)
		return report
	}
	report.SeriesID = series.ID
	report.SeriesCreated = created

	report.Result, report.Err = generator.Generate(ctx, series, store)
	return report
}
