package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Data     DataConfig     `yaml:"data"`
	Matching MatchingConfig `yaml:"matching"`
	Risk     RiskConfig     `yaml:"risk"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controls the HTTP API surface.
type ServerConfig struct {
	Addr          string  `yaml:"addr"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`
}

// EngineConfig controls run execution.
type EngineConfig struct {
	Workers           int    `yaml:"workers"`
	Backlog           int    `yaml:"backlog"`
	Prefetch          int    `yaml:"prefetch"`
	BatchSize         int    `yaml:"batch_size"`
	StepTimeoutMs     int    `yaml:"step_timeout_ms"`
	CheckpointEvery   uint64 `yaml:"checkpoint_every"`
	ProgressEvery     uint64 `yaml:"progress_every"`
	HistoryDepth      int    `yaml:"history_depth"`
	ScriptMaxAllocs   int64  `yaml:"script_max_allocs"`
	SnapshotIntervalS int    `yaml:"snapshot_interval_seconds"`
}

// DataConfig points at the market data backends.
type DataConfig struct {
	// Backend is duckdb | binary | synthetic.
	Backend    string `yaml:"backend"`
	DuckDBPath string `yaml:"duckdb_path"`
	BinaryDir  string `yaml:"binary_dir"`
	// SyntheticSeed keeps generated runs reproducible.
	SyntheticSeed int64 `yaml:"synthetic_seed"`
}

// MatchingConfig controls fill simulation.
type MatchingConfig struct {
	// SlippageModel is fixed_bps | linear | sqrt.
	SlippageModel  string  `yaml:"slippage_model"`
	SlippageBps    float64 `yaml:"slippage_bps"`
	ImpactCoeff    float64 `yaml:"impact_coefficient"`
	CommissionRate float64 `yaml:"commission_rate"`
	CommissionMin  float64 `yaml:"commission_min"`
	MaxOrderQty    float64 `yaml:"max_order_qty"`
	VolumeCap      float64 `yaml:"volume_cap"`
}

// RiskConfig sets the default validation limits; individual submissions may
// tighten them.
type RiskConfig struct {
	MaxTradeNotional  float64  `yaml:"max_trade_notional"`
	MaxConcentration  float64  `yaml:"max_concentration"`
	MinTradeIntervalS int      `yaml:"min_trade_interval_seconds"`
	MaxDrawdown       float64  `yaml:"max_drawdown"`
	RuleOrder         []string `yaml:"rule_order"`
}

// StorageConfig controls where run records are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and the .env file when present. Environment
// variables override matching YAML keys.
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
	return &cfg, nil
}

// Default returns a configuration usable without any file on disk.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Engine.StepTimeoutMs) * time.Millisecond
}

func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Engine.SnapshotIntervalS) * time.Second
}

func (c *Config) MinTradeInterval() time.Duration {
	return time.Duration(c.Risk.MinTradeIntervalS) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("DATA_BACKEND"); v != "" {
		cfg.Data.Backend = v
	}
	if v := os.Getenv("DUCKDB_PATH"); v != "" {
		cfg.Data.DuckDBPath = v
	}
	if v := os.Getenv("ENGINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = n
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RatePerSecond <= 0 {
		cfg.Server.RatePerSecond = 10
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 20
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Engine.Backlog <= 0 {
		cfg.Engine.Backlog = 64
	}
	if cfg.Engine.Prefetch <= 0 {
		cfg.Engine.Prefetch = 4096
	}
	if cfg.Engine.BatchSize <= 0 {
		cfg.Engine.BatchSize = 1024
	}
	if cfg.Engine.StepTimeoutMs <= 0 {
		cfg.Engine.StepTimeoutMs = 100
	}
	if cfg.Engine.CheckpointEvery == 0 {
		cfg.Engine.CheckpointEvery = 10000
	}
	if cfg.Engine.ProgressEvery == 0 {
		cfg.Engine.ProgressEvery = 1000
	}
	if cfg.Engine.HistoryDepth <= 0 {
		cfg.Engine.HistoryDepth = 512
	}
	if cfg.Engine.ScriptMaxAllocs <= 0 {
		cfg.Engine.ScriptMaxAllocs = 256 * 1024
	}
	if cfg.Engine.SnapshotIntervalS <= 0 {
		cfg.Engine.SnapshotIntervalS = 60
	}
	if cfg.Data.Backend == "" {
		cfg.Data.Backend = "synthetic"
	}
	if cfg.Data.SyntheticSeed == 0 {
		cfg.Data.SyntheticSeed = 42
	}
	if cfg.Matching.SlippageModel == "" {
		cfg.Matching.SlippageModel = "fixed_bps"
	}
	if cfg.Matching.CommissionRate < 0 {
		cfg.Matching.CommissionRate = 0
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "backtest.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
