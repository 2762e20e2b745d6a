package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/internal/config"
	"github.com/jakechorley/seasonal-allocation/pkg/core/services"
)

// JobsCmd creates the jobs command, which runs the pruning jobs on their cron schedules
// until interrupted
func JobsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "Run the scheduled pruning jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(app.Ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := cron.New(
				cron.WithLocation(app.Location),
				cron.WithChain(cron.SkipIfStillRunning(cronLogger{app.Logger})),
			)

			err := registerPruneJobs(c, app.Cfg.Pruning,
				func() { runPruneSeries(ctx, app) },
				func() { runPruneStatistics(ctx, app) },
			)
			if err != nil {
				return err
			}

			c.Start()
			app.Logger.Info("Scheduler started",
				zap.String("series_schedule", app.Cfg.Pruning.SeriesSchedule),
				zap.String("statistics_schedule", app.Cfg.Pruning.StatisticsSchedule))

			<-ctx.Done()

			app.Logger.Info("Stopping scheduler, waiting for running jobs")
			<-c.Stop().Done()
			return nil
		},
	}
}

// registerPruneJobs adds the series and statistics pruning jobs to c
func registerPruneJobs(c *cron.Cron, pruning config.PruningConfig, pruneSeries, pruneStatistics func()) error {
	if _, err := c.AddFunc(pruning.SeriesSchedule, pruneSeries); err != nil {
		return fmt.Errorf("invalid series pruning schedule %q: %w", pruning.SeriesSchedule, err)
	}
	if _, err := c.AddFunc(pruning.StatisticsSchedule, pruneStatistics); err != nil {
		return fmt.Errorf("invalid statistics pruning schedule %q: %w", pruning.StatisticsSchedule, err)
	}
	return nil
}

func runPruneSeries(ctx context.Context, app *AppContext) {
	if _, err := services.PruneSeries(ctx, app.Database, app.Logger, app.Cfg.Pruning.SeriesRetention, time.Now()); err != nil {
		app.Logger.Error("Series pruning failed", zap.Error(err))
	}
}

func runPruneStatistics(ctx context.Context, app *AppContext) {
	if _, err := services.PruneStatistics(ctx, app.Database, app.Logger, app.Cfg.Pruning.StatisticsRetention, time.Now()); err != nil {
		app.Logger.Error("Statistics pruning failed", zap.Error(err))
	}
}

// cronLogger routes cron's own logging to zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
