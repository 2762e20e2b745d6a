package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/seasonal-allocation/pkg/core/services"
)

// PruneSeriesCmd creates the pruneSeries command
func PruneSeriesCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pruneSeries",
		Short: "Delete empty recurring series older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.PruneSeries(app.Ctx, app.Database, app.Logger, app.Cfg.Pruning.SeriesRetention, time.Now())
			if err != nil {
				return err
			}
			printPruneResult("series", result)
			return nil
		},
	}
}

// PruneStatisticsCmd creates the pruneStatistics command
func PruneStatisticsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pruneStatistics",
		Short: "Delete reservation statistics older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.PruneStatistics(app.Ctx, app.Database, app.Logger, app.Cfg.Pruning.StatisticsRetention, time.Now())
			if err != nil {
				return err
			}
			printPruneResult("statistics", result)
			return nil
		},
	}
}

func printPruneResult(kind string, result *services.PruneResult) {
	fmt.Printf("\nPruned %s created before %s\n", kind, result.Cutoff.Format(time.RFC3339))
	fmt.Printf("  Deleted: %d of %d\n", result.Deleted, result.Candidates)
	if result.Skipped > 0 {
		fmt.Printf("  Skipped: %d (no longer eligible)\n", result.Skipped)
	}
	if result.Failed > 0 {
		fmt.Printf("  Failed:  %d (see log)\n", result.Failed)
	}
	fmt.Println()
}
