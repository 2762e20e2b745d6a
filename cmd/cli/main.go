package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/cmd/cli/commands"
	"github.com/jakechorley/seasonal-allocation/internal/config"
	"github.com/jakechorley/seasonal-allocation/pkg/clients/closures"
	"github.com/jakechorley/seasonal-allocation/pkg/clients/notifier"
	"github.com/jakechorley/seasonal-allocation/pkg/clients/roundlock"
	"github.com/jakechorley/seasonal-allocation/pkg/postgres"
	"github.com/jakechorley/seasonal-allocation/pkg/utils/logging"
)

var (
	env     string
	verbose bool
	app     = &commands.AppContext{}
	closers []func() error
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Seasonal allocation CLI - Allocate application rounds to reservation units",
		Long:  `A CLI tool for allocating seasonal application rounds, materializing reservations and pruning old data.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			shutdown()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to the console")
	rootCmd.MarkPersistentFlagRequired("env")

	rootCmd.AddCommand(commands.AllocateRoundCmd(app))
	rootCmd.AddCommand(commands.ClearAllocationCmd(app))
	rootCmd.AddCommand(commands.RejectOptionCmd(app))
	rootCmd.AddCommand(commands.LockOptionCmd(app))
	rootCmd.AddCommand(commands.UnlockOptionCmd(app))
	rootCmd.AddCommand(commands.GenerateOccurrencesCmd(app))
	rootCmd.AddCommand(commands.ViewResultsCmd(app))
	rootCmd.AddCommand(commands.PruneSeriesCmd(app))
	rootCmd.AddCommand(commands.PruneStatisticsCmd(app))
	rootCmd.AddCommand(commands.JobsCmd(app))

	if err := rootCmd.Execute(); err != nil {
		shutdown()
		os.Exit(1)
	}
}

// initApp sets up logger, config, database, lock, notifier and closure oracle
func initApp() error {
	var err error
	app.Ctx = context.Background()

	app.Logger, err = logging.InitLoggerWithOptions(env, logging.Options{Verbose: verbose})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.Logger.Info("Starting application", zap.String("environment", env))

	app.Logger.Info("Loading configuration")
	app.Cfg, err = config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.Location, err = app.Cfg.Location()
	if err != nil {
		return fmt.Errorf("failed to load timezone: %w", err)
	}
	app.Logger.Debug("Configuration loaded successfully", zap.String("timezone", app.Location.String()))

	app.Logger.Info("Connecting to database")
	database, err := postgres.NewDB(app.Ctx, app.Cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.Database = database
	closers = append(closers, func() error { database.Close(); return nil })

	app.Logger.Info("Running database migrations")
	if err := database.RunMigrations(app.Ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	locker, closeLock, err := roundlock.New(app.Ctx, roundlock.Options{
		Addr:     app.Cfg.Lock.RedisAddr,
		Password: app.Cfg.Lock.RedisPassword,
		DB:       app.Cfg.Lock.RedisDB,
		TTL:      app.Cfg.Lock.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize round lock: %w", err)
	}
	app.Locker = locker
	closers = append(closers, closeLock)
	app.Logger.Debug("Round lock initialized", zap.Bool("redis", app.Cfg.Lock.RedisAddr != ""))

	app.Publisher = notifier.New(app.Cfg.Notifications.AMQPURL, app.Cfg.Notifications.Queue, app.Logger)
	app.Logger.Debug("Notifier initialized", zap.Bool("rabbitmq", app.Cfg.Notifications.AMQPURL != ""))

	calendar, err := closures.FromConfig(app.Cfg.BlackoutRules, app.Location)
	if err != nil {
		return fmt.Errorf("failed to load blackout rules: %w", err)
	}
	app.Closures = closures.Composite{database, calendar}
	app.Logger.Debug("Closure oracle initialized", zap.Int("blackout_rules", calendar.Len()))

	return nil
}

func shutdown() {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && app.Logger != nil {
			app.Logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	closers = nil
	if app.Logger != nil {
		_ = app.Logger.Sync()
	}
}
