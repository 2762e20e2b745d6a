package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"
	"gopkg.in/yaml.v3"
)

const (
	configFileBase = "allocation_config"

	DefaultPlacementStep       = 30 * time.Minute
	DefaultWorkers             = 4
	DefaultTimezone            = "UTC"
	DefaultSeriesRetention     = 24 * time.Hour
	DefaultStatisticsRetention = 5 * 365 * 24 * time.Hour
	DefaultSeriesSchedule      = "0 3 * * *"
	DefaultStatisticsSchedule  = "30 3 * * 0"
	DefaultQueue               = "allocation.completed"
	DefaultLockTTL             = 10 * time.Minute
)

// AllocationConfig tunes the allocation engine
type AllocationConfig struct {
	PlacementStep           time.Duration `yaml:"placementStep" validate:"gte=0"`
	HonorCrossRoundCapacity bool          `yaml:"honorCrossRoundCapacity"`
}

// OccurrencesConfig tunes occurrence generation
type OccurrencesConfig struct {
	Workers  int    `yaml:"workers" validate:"gte=0,lte=64"`
	Timezone string `yaml:"timezone"`
}

// PruningConfig sets retention windows and the cron schedules used by the jobs command
type PruningConfig struct {
	SeriesRetention     time.Duration `yaml:"seriesRetention" validate:"gte=0"`
	StatisticsRetention time.Duration `yaml:"statisticsRetention" validate:"gte=0"`
	SeriesSchedule      string        `yaml:"seriesSchedule"`
	StatisticsSchedule  string        `yaml:"statisticsSchedule"`
}

// NotificationsConfig points at the broker that receives allocation events.
// An empty AMQPURL disables publishing.
type NotificationsConfig struct {
	AMQPURL string `yaml:"amqpURL,omitempty"`
	Queue   string `yaml:"queue"`
}

// LockConfig points at the Redis server holding round locks.
// An empty RedisAddr falls back to an in-process lock.
type LockConfig struct {
	RedisAddr     string        `yaml:"redisAddr,omitempty"`
	RedisPassword string        `yaml:"redisPassword,omitempty"`
	RedisDB       int           `yaml:"redisDB" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
}

// BlackoutRule closes units on every occurrence of an RRULE
type BlackoutRule struct {
	Name  string   `yaml:"name" validate:"required"`
	RRule string   `yaml:"rrule" validate:"required"`
	Units []string `yaml:"units,omitempty"`
	// Duration of each closure (defaults to a whole day)
	Duration time.Duration `yaml:"duration,omitempty" validate:"gte=0"`
}

// Config represents the application configuration
type Config struct {
	DatabaseURL   string              `yaml:"databaseURL" validate:"required"`
	Allocation    AllocationConfig    `yaml:"allocation"`
	Occurrences   OccurrencesConfig   `yaml:"occurrences"`
	Pruning       PruningConfig       `yaml:"pruning"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Lock          LockConfig          `yaml:"lock"`
	BlackoutRules []BlackoutRule      `yaml:"blackoutRules,omitempty" validate:"dive"`
}

// Location returns the configured occurrence timezone
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Occurrences.Timezone)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration from allocation_config.yaml
// It looks for the config file in the current directory first, then in the user's home directory
func Load() (*Config, error) {
	return LoadWithEnv("")
}

// LoadWithEnv loads allocation_config.<env>.yaml, falling back to allocation_config.yaml.
// Variables from an optional .env file and the process environment override secrets.
func LoadWithEnv(env string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	configPath, err := findConfigFile(env)
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv overlays secrets from the environment
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Notifications.AMQPURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Lock.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Lock.RedisPassword = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Allocation.PlacementStep == 0 {
		cfg.Allocation.PlacementStep = DefaultPlacementStep
	}
	if cfg.Occurrences.Workers == 0 {
		cfg.Occurrences.Workers = DefaultWorkers
	}
	if cfg.Occurrences.Timezone == "" {
		cfg.Occurrences.Timezone = DefaultTimezone
	}
	if cfg.Pruning.SeriesRetention == 0 {
		cfg.Pruning.SeriesRetention = DefaultSeriesRetention
	}
	if cfg.Pruning.StatisticsRetention == 0 {
		cfg.Pruning.StatisticsRetention = DefaultStatisticsRetention
	}
	if cfg.Pruning.SeriesSchedule == "" {
		cfg.Pruning.SeriesSchedule = DefaultSeriesSchedule
	}
	if cfg.Pruning.StatisticsSchedule == "" {
		cfg.Pruning.StatisticsSchedule = DefaultStatisticsSchedule
	}
	if cfg.Notifications.Queue == "" {
		cfg.Notifications.Queue = DefaultQueue
	}
	if cfg.Lock.TTL == 0 {
		cfg.Lock.TTL = DefaultLockTTL
	}
}

// Validate validates the configuration struct, the timezone, the cron schedules and rrule syntax
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Occurrences.Timezone); err != nil {
		return fmt.Errorf("invalid occurrences timezone %q: %w", cfg.Occurrences.Timezone, err)
	}

	schedules := map[string]string{
		"pruning.seriesSchedule":     cfg.Pruning.SeriesSchedule,
		"pruning.statisticsSchedule": cfg.Pruning.StatisticsSchedule,
	}
	for field, spec := range schedules {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid cron schedule in %s: %w", field, err)
		}
	}

	for i, rule := range cfg.BlackoutRules {
		if _, err := rrule.StrToRRule(rule.RRule); err != nil {
			return fmt.Errorf("invalid rrule in blackoutRules[%d]: %w", i, err)
		}
	}

	return nil
}

// findConfigFile searches for the env-specific config file, then the default one,
// in the current directory and then the home directory
func findConfigFile(env string) (string, error) {
	var names []string
	if env != "" {
		names = append(names, fmt.Sprintf("%s.%s.yaml", configFileBase, env))
	}
	names = append(names, configFileBase+".yaml")

	homeDir, homeErr := os.UserHomeDir()

	for _, name := range names {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
		if homeErr != nil {
			continue
		}
		homeConfigPath := filepath.Join(homeDir, name)
		if _, err := os.Stat(homeConfigPath); err == nil {
			return homeConfigPath, nil
		}
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}
