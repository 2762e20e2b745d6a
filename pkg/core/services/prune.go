package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// PruneResult reports a pruning pass
type PruneResult struct {
	Cutoff     time.Time
	Candidates int
	Deleted    int
	// Skipped rows stopped qualifying between listing and deletion
	Skipped int
	Failed  int
}

// PruneSeries deletes recurring series with no reservations created before now-retention.
// Each row is deleted on its own; failures are logged and skipped. On cancellation the
// partial result is returned with the context error.
func PruneSeries(ctx context.Context, store db.PruneStore, logger *zap.Logger, retention time.Duration, now time.Time) (*PruneResult, error) {
	cutoff := now.Add(-retention)
	ids, err := store.ListPrunableSeries(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list prunable series: %w", err)
	}
	return prune(ctx, logger.With(zap.String("job", "prune_series")), ids, cutoff, store.DeleteSeriesIfEmpty)
}

// PruneStatistics deletes reservation statistics created before now-retention
func PruneStatistics(ctx context.Context, store db.PruneStore, logger *zap.Logger, retention time.Duration, now time.Time) (*PruneResult, error) {
	cutoff := now.Add(-retention)
	ids, err := store.ListExpiredStatistics(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired statistics: %w", err)
	}
	return prune(ctx, logger.With(zap.String("job", "prune_statistics")), ids, cutoff, store.DeleteStatistic)
}

func prune(
	ctx context.Context,
	logger *zap.Logger,
	ids []string,
	cutoff time.Time,
	deleteFn func(ctx context.Context, id string, cutoff time.Time) (bool, error),
) (*PruneResult, error) {
	result := &PruneResult{Cutoff: cutoff, Candidates: len(ids)}
	logger.Debug("Pruning", zap.Time("cutoff", cutoff), zap.Int("candidates", len(ids)))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			logger.Warn("Pruning cancelled", zap.Int("deleted", result.Deleted), zap.Int("remaining", len(ids)-result.Deleted-result.Skipped-result.Failed))
			return result, err
		}

		deleted, err := deleteFn(ctx, id, cutoff)
		if err != nil {
			result.Failed++
			logger.Warn("Failed to prune row", zap.String("id", id), zap.Error(err))
			continue
		}
		if !deleted {
			result.Skipped++
			continue
		}
		result.Deleted++
	}

	logger.Info("Pruning complete",
		zap.Int("deleted", result.Deleted),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}
