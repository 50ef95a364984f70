// Package config loads the engine configuration from YAML once at boot.
// Defaults are applied after unmarshal; there is no global mutable state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/admitpath/admitpath/internal/model"
)

// ScoringConfig controls the fit classifier.
type ScoringConfig struct {
	DefaultWeights model.FitWeights `yaml:"default_weights"`
	CacheTTLDays   int              `yaml:"cache_ttl_days"`
}

// ChancingConfig controls the chance calculator.
type ChancingConfig struct {
	ClampMin float64 `yaml:"clamp_min"`
	ClampMax float64 `yaml:"clamp_max"`
}

// RiskConfig controls the deadline-risk engine.
type RiskConfig struct {
	ProductiveHoursPerDay float64 `yaml:"productive_hours_per_day"`
	SafeThreshold         float64 `yaml:"safe_threshold"`
	TightThreshold        float64 `yaml:"tight_threshold"`
}

// SchedulerConfig controls the refresh jobs.
type SchedulerConfig struct {
	MonthlyRefreshBatch   int           `yaml:"monthly_refresh_batch"`
	QuarterlyRefreshBatch int           `yaml:"quarterly_refresh_batch"`
	RequestDelay          time.Duration `yaml:"request_delay"`
	ScrapeTimeout         time.Duration `yaml:"scrape_timeout"`
	ManualReviewFailures  int           `yaml:"manual_review_failures"`
}

// UnmarshalYAML parses duration fields from "3s"-style strings while keeping
// already-set defaults for omitted keys.
func (s *SchedulerConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		MonthlyRefreshBatch   int    `yaml:"monthly_refresh_batch"`
		QuarterlyRefreshBatch int    `yaml:"quarterly_refresh_batch"`
		RequestDelay          string `yaml:"request_delay"`
		ScrapeTimeout         string `yaml:"scrape_timeout"`
		ManualReviewFailures  int    `yaml:"manual_review_failures"`
	}{
		MonthlyRefreshBatch:   s.MonthlyRefreshBatch,
		QuarterlyRefreshBatch: s.QuarterlyRefreshBatch,
		ManualReviewFailures:  s.ManualReviewFailures,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.MonthlyRefreshBatch = raw.MonthlyRefreshBatch
	s.QuarterlyRefreshBatch = raw.QuarterlyRefreshBatch
	s.ManualReviewFailures = raw.ManualReviewFailures
	if err := setDuration(&s.RequestDelay, raw.RequestDelay, "scheduler.request_delay"); err != nil {
		return err
	}
	return setDuration(&s.ScrapeTimeout, raw.ScrapeTimeout, "scheduler.scrape_timeout")
}

// TrainingConfig controls per-college model retraining.
type TrainingConfig struct {
	MinSamples             int     `yaml:"min_samples"`
	GrowthThreshold        float64 `yaml:"growth_threshold"`         // fractional, 0.20 = +20%
	RegressionTolerancePct float64 `yaml:"regression_tolerance_pct"` // accuracy pp the new model may lose
}

// BatchConfig caps batch operations.
type BatchConfig struct {
	MaxColleges int `yaml:"max_colleges"`
}

// ServerConfig holds the HTTP adapter settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	BatchTimeout    time.Duration `yaml:"batch_timeout"`
	ScenarioTimeout time.Duration `yaml:"scenario_timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// UnmarshalYAML parses duration fields from "5s"-style strings while keeping
// already-set defaults for omitted keys.
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		Addr            string  `yaml:"addr"`
		RequestTimeout  string  `yaml:"request_timeout"`
		BatchTimeout    string  `yaml:"batch_timeout"`
		ScenarioTimeout string  `yaml:"scenario_timeout"`
		RateLimitRPS    float64 `yaml:"rate_limit_rps"`
		RateLimitBurst  int     `yaml:"rate_limit_burst"`
	}{
		Addr:           s.Addr,
		RateLimitRPS:   s.RateLimitRPS,
		RateLimitBurst: s.RateLimitBurst,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Addr = raw.Addr
	s.RateLimitRPS = raw.RateLimitRPS
	s.RateLimitBurst = raw.RateLimitBurst
	if err := setDuration(&s.RequestTimeout, raw.RequestTimeout, "server.request_timeout"); err != nil {
		return err
	}
	if err := setDuration(&s.BatchTimeout, raw.BatchTimeout, "server.batch_timeout"); err != nil {
		return err
	}
	return setDuration(&s.ScenarioTimeout, raw.ScenarioTimeout, "server.scenario_timeout")
}

// setDuration parses a duration string into dst; empty keeps the default.
func setDuration(dst *time.Duration, raw, key string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// StorageConfig holds connection settings.
type StorageConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
}

// Config is the root configuration object, constructed once at boot and
// threaded through the engine.
type Config struct {
	Scoring   ScoringConfig   `yaml:"scoring"`
	Chancing  ChancingConfig  `yaml:"chancing"`
	Risk      RiskConfig      `yaml:"risk"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Training  TrainingConfig  `yaml:"training"`
	Batch     BatchConfig     `yaml:"batch"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LogLevel  string          `yaml:"log_level"`
}

// Default returns the shipped configuration.
func Default() Config {
	return Config{
		Scoring: ScoringConfig{
			DefaultWeights: model.DefaultFitWeights(),
			CacheTTLDays:   30,
		},
		Chancing: ChancingConfig{ClampMin: 0.5, ClampMax: 99.5},
		Risk: RiskConfig{
			ProductiveHoursPerDay: 4,
			SafeThreshold:         0.5,
			TightThreshold:        0.2,
		},
		Scheduler: SchedulerConfig{
			MonthlyRefreshBatch:   50,
			QuarterlyRefreshBatch: 20,
			RequestDelay:          3 * time.Second,
			ScrapeTimeout:         10 * time.Second,
			ManualReviewFailures:  3,
		},
		Training: TrainingConfig{
			MinSamples:             30,
			GrowthThreshold:        0.20,
			RegressionTolerancePct: 5,
		},
		Batch: BatchConfig{MaxColleges: 50},
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  5 * time.Second,
			BatchTimeout:    30 * time.Second,
			ScenarioTimeout: 60 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
		},
		Storage: StorageConfig{
			RedisAddr: "localhost:6379",
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. A missing path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Scoring.DefaultWeights.Validate(); err != nil {
		return cfg, fmt.Errorf("scoring.default_weights: %w", err)
	}
	if cfg.Batch.MaxColleges <= 0 {
		cfg.Batch.MaxColleges = 50
	}
	if cfg.Risk.ProductiveHoursPerDay <= 0 {
		cfg.Risk.ProductiveHoursPerDay = 4
	}
	return cfg, nil
}

// CacheTTL converts the configured TTL to a duration.
func (c ScoringConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}
