package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jcastano/betfleet/internal/domain"
)

// Config is the full configuration for the allocation engine.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Agents   []AgentConfig  `yaml:"agents"`
	Global   GlobalConfig   `yaml:"global"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// EngineConfig controls evaluation and admission behavior.
type EngineConfig struct {
	ProbeSize         float64  `yaml:"probe_size"`
	FeeRate           float64  `yaml:"fee_rate"`
	FetchLimit        int      `yaml:"fetch_limit"`
	TopPerCategory    int      `yaml:"top_per_category"`
	ExcludeCategories []string `yaml:"exclude_categories"`
	StaleTolerance    float64  `yaml:"stale_tolerance"`
	EvalWorkers       int      `yaml:"eval_workers"`
	DryRun            bool     `yaml:"dry_run"`
}

// AgentConfig declares one betting agent.
type AgentConfig struct {
	Name           string  `yaml:"name"`
	Strategy       string  `yaml:"strategy"`
	InitialBalance float64 `yaml:"initial_balance"`
}

// GlobalConfig holds the cross-agent caps enforced by the guard.
type GlobalConfig struct {
	DailyLossCap float64 `yaml:"daily_loss_cap"` // 0 disables
	ExposureCap  float64 `yaml:"exposure_cap"`   // 0 disables
}

// APIConfig holds the base URLs of the external services.
type APIConfig struct {
	VenueBase      string `yaml:"venue_base"`
	ForecasterBase string `yaml:"forecaster_base"`
}

// StorageConfig controls where the ledger persists.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// ScheduleConfig controls the cron-driven loops.
type ScheduleConfig struct {
	CycleSeconds     int    `yaml:"cycle_seconds"`
	ReconcileSeconds int    `yaml:"reconcile_seconds"`
	MetricsAddr      string `yaml:"metrics_addr"` // empty disables the /metrics listener
}

// Load reads configuration from the YAML file plus the .env file if present.
// Environment variables override the YAML for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// CycleInterval returns the allocation cycle period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Schedule.CycleSeconds) * time.Second
}

// ReconcileInterval returns the reconciliation period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Schedule.ReconcileSeconds) * time.Second
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents configured")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: missing name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agent %q: duplicate name", a.Name)
		}
		seen[a.Name] = true
		if a.InitialBalance <= 0 {
			return fmt.Errorf("agent %q: initial_balance must be positive", a.Name)
		}
		if _, err := domain.ParseStrategy(a.Strategy); err != nil {
			return fmt.Errorf("agent %q: %w", a.Name, err)
		}
	}
	return nil
}

// applyEnvOverrides overrides values from environment variables when present.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BETFLEET_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BETFLEET_VENUE_BASE"); v != "" {
		cfg.API.VenueBase = v
	}
	if v := os.Getenv("BETFLEET_FORECASTER_BASE"); v != "" {
		cfg.API.ForecasterBase = v
	}
	if v := os.Getenv("BETFLEET_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.DryRun = b
		}
	}
}

// setDefaults fills required values with sensible defaults.
func setDefaults(cfg *Config) {
	if cfg.Engine.ProbeSize <= 0 {
		cfg.Engine.ProbeSize = 10
	}
	if cfg.Engine.FeeRate <= 0 {
		cfg.Engine.FeeRate = 0.03
	}
	if cfg.Engine.FetchLimit <= 0 {
		cfg.Engine.FetchLimit = 200
	}
	if cfg.Engine.TopPerCategory <= 0 {
		cfg.Engine.TopPerCategory = 5
	}
	if cfg.Engine.StaleTolerance <= 0 {
		cfg.Engine.StaleTolerance = 0.05
	}
	if cfg.API.VenueBase == "" {
		cfg.API.VenueBase = "https://api.betvenue.example.com"
	}
	if cfg.API.ForecasterBase == "" {
		cfg.API.ForecasterBase = "http://localhost:8700"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "betfleet.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Schedule.CycleSeconds <= 0 {
		cfg.Schedule.CycleSeconds = 300
	}
	if cfg.Schedule.ReconcileSeconds <= 0 {
		cfg.Schedule.ReconcileSeconds = 600
	}
}
