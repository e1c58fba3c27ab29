package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/catherinevee/costopt/internal/logger"
	"github.com/catherinevee/costopt/internal/storage"
	"github.com/catherinevee/costopt/internal/webhook"
)

// Config is the top-level application configuration
type Config struct {
	Logging   logger.LogConfig     `yaml:"logging"`
	Database  storage.SQLiteConfig `yaml:"database"`
	Redis     RedisSettings        `yaml:"redis"`
	Webhook   webhook.Config       `yaml:"webhook"`
	Analysis  AnalysisSettings     `yaml:"analysis"`
	Decisions DecisionSettings     `yaml:"decisions"`
	Jobs      JobSettings          `yaml:"jobs"`
}

// RedisSettings controls the optional benchmark cache
type RedisSettings struct {
	Enabled bool                `yaml:"enabled"`
	Cache   storage.RedisConfig `yaml:",inline"`
}

// AnalysisSettings controls the cost analyzer
type AnalysisSettings struct {
	AnomalyThresholdPct float64 `yaml:"anomaly_threshold_pct" validate:"gte=0"`
	TrendGranularity    string  `yaml:"trend_granularity" validate:"omitempty,oneof=daily weekly monthly"`
}

// DecisionSettings controls the decision rule engine
type DecisionSettings struct {
	RulesFile string `yaml:"rules_file"`
	HotReload bool   `yaml:"hot_reload"`
}

// JobSettings controls the background worker pool
type JobSettings struct {
	Workers    int           `yaml:"workers" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

var validate = validator.New()

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Logging: logger.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Database: storage.DefaultSQLiteConfig(),
		Redis: RedisSettings{
			Cache: storage.DefaultRedisConfig(),
		},
		Webhook: webhook.DefaultConfig(),
		Analysis: AnalysisSettings{
			AnomalyThresholdPct: 50,
			TrendGranularity:    "monthly",
		},
		Jobs: JobSettings{
			Workers:    4,
			RetryDelay: 5 * time.Second,
			JobTimeout: 10 * time.Minute,
		},
	}
}

// Load reads configuration from an optional YAML file, applies COSTOPT_*
// environment overrides, and validates the result. A missing file is not
// an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COSTOPT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COSTOPT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("COSTOPT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("COSTOPT_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("COSTOPT_REDIS_ADDR"); v != "" {
		cfg.Redis.Cache.Addr = v
	}
	if v := os.Getenv("COSTOPT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Cache.Password = v
	}
	if v := os.Getenv("COSTOPT_WEBHOOK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Webhook.Timeout = d
		}
	}
	if v := os.Getenv("COSTOPT_WEBHOOK_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.MaxAttempts = n
		}
	}
	if v := os.Getenv("COSTOPT_WEBHOOK_SIGNING_KEY"); v != "" {
		cfg.Webhook.SigningKey = v
	}
	if v := os.Getenv("COSTOPT_WEBHOOK_SIGNATURE_HEADER"); v != "" {
		cfg.Webhook.SignatureHeader = v
	}
	if v := os.Getenv("COSTOPT_ANOMALY_THRESHOLD_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.AnomalyThresholdPct = f
		}
	}
	if v := os.Getenv("COSTOPT_DECISION_RULES_FILE"); v != "" {
		cfg.Decisions.RulesFile = v
	}
	if v := os.Getenv("COSTOPT_JOB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.Workers = n
		}
	}
}
