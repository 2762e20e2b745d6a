package commands

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/internal/config"
	"github.com/jakechorley/seasonal-allocation/pkg/clients/notifier"
	"github.com/jakechorley/seasonal-allocation/pkg/clients/roundlock"
	"github.com/jakechorley/seasonal-allocation/pkg/core/occurrences"
	"github.com/jakechorley/seasonal-allocation/pkg/db"
)

// AppContext holds the application dependencies shared across all commands
type AppContext struct {
	Cfg       *config.Config
	Database  db.Database
	Locker    roundlock.Locker
	Publisher notifier.Publisher
	Closures  occurrences.ClosureOracle
	Location  *time.Location
	Logger    *zap.Logger
	Ctx       context.Context
}
