// Package config loads the service configuration from an optional YAML file
// and HLL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fidde/simple_hll/internal/dataset"
	"github.com/fidde/simple_hll/internal/storage"
	"github.com/fidde/simple_hll/internal/storage/snapshots"
	"github.com/fidde/simple_hll/pkg/hashing"
	"github.com/fidde/simple_hll/pkg/hyperloglog"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Harness   HarnessConfig   `yaml:"harness"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	APIAddr         string        `yaml:"api_addr"`
	PprofAddr       string        `yaml:"pprof_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StorageConfig selects and configures the dataset backend.
type StorageConfig struct {
	Backend    string           `yaml:"backend"`
	SQLitePath string           `yaml:"sqlite_path"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`

	// Mirror names a second backend that receives every write. Reads stay
	// on Backend. Empty disables mirroring.
	Mirror string `yaml:"mirror"`
}

// ClickHouseConfig holds the ClickHouse connection settings.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DatasetConfig controls seeding of the synthetic dataset at start-up.
type DatasetConfig struct {
	Seed      bool   `yaml:"seed"`
	Users     int    `yaml:"users"`
	Days      int    `yaml:"days"`
	BatchSize int    `yaml:"batch_size"`
	RandSeed  uint64 `yaml:"rand_seed"`
}

// SnapshotsConfig configures sketch snapshot persistence.
type SnapshotsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	MaxSize int64  `yaml:"max_size"`
	MaxKeep int    `yaml:"max_keep"`
}

// EstimatorConfig holds defaults for requests that do not name them.
type EstimatorConfig struct {
	Precision uint8  `yaml:"precision"`
	Hasher    string `yaml:"hasher"`
}

// HarnessConfig configures the accuracy harness.
type HarnessConfig struct {
	Samples    int     `yaml:"samples"`
	Precisions []uint8 `yaml:"precisions"`
	Tolerance  float64 `yaml:"tolerance"`
}

// Default returns a configuration that works without any file or environment.
func Default() *Config {
	st := storage.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			APIAddr:         "0.0.0.0:8080",
			PprofAddr:       "localhost:6060",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend:    st.Backend,
			SQLitePath: st.SQLitePath,
			ClickHouse: ClickHouseConfig{
				Addr:     st.ClickHouseAddr,
				Database: st.ClickHouseDatabase,
				Username: st.ClickHouseUsername,
			},
		},
		Dataset: DatasetConfig{
			Users:     dataset.DefaultUsers,
			Days:      dataset.DefaultDays,
			BatchSize: dataset.DefaultBatchSize,
			RandSeed:  1,
		},
		Snapshots: SnapshotsConfig{
			Enabled: true,
			Dir:     snapshots.DefaultDir,
			MaxSize: snapshots.DefaultMaxSnapshotSize,
			MaxKeep: snapshots.DefaultMaxSnapshots,
		},
		Estimator: EstimatorConfig{
			Precision: 12,
			Hasher:    hashing.Default().Name(),
		},
		Harness: HarnessConfig{
			Samples:    10,
			Precisions: []uint8{5, 8, 9, 10, 11, 12},
			Tolerance:  1.5,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.APIAddr = getEnv("HLL_API_ADDR", c.Server.APIAddr)
	c.Server.PprofAddr = getEnv("HLL_PPROF_ADDR", c.Server.PprofAddr)
	c.Log.Level = getEnv("HLL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("HLL_LOG_FORMAT", c.Log.Format)

	c.Storage.Backend = getEnv("HLL_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.SQLitePath = getEnv("HLL_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.Mirror = getEnv("HLL_STORAGE_MIRROR", c.Storage.Mirror)
	c.Storage.ClickHouse.Addr = getEnv("HLL_CLICKHOUSE_ADDR", c.Storage.ClickHouse.Addr)
	c.Storage.ClickHouse.Database = getEnv("HLL_CLICKHOUSE_DATABASE", c.Storage.ClickHouse.Database)
	c.Storage.ClickHouse.Username = getEnv("HLL_CLICKHOUSE_USERNAME", c.Storage.ClickHouse.Username)
	c.Storage.ClickHouse.Password = getEnv("HLL_CLICKHOUSE_PASSWORD", c.Storage.ClickHouse.Password)

	c.Snapshots.Dir = getEnv("HLL_SNAPSHOT_DIR", c.Snapshots.Dir)
	c.Estimator.Hasher = getEnv("HLL_HASHER", c.Estimator.Hasher)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	c.Dataset.Seed, err = getEnvBool("HLL_SEED_DATASET", c.Dataset.Seed)
	collect(err)
	c.Snapshots.Enabled, err = getEnvBool("HLL_SNAPSHOTS_ENABLED", c.Snapshots.Enabled)
	collect(err)
	c.Dataset.Users, err = getEnvInt("HLL_DATASET_USERS", c.Dataset.Users)
	collect(err)
	c.Snapshots.MaxKeep, err = getEnvInt("HLL_MAX_SNAPSHOTS", c.Snapshots.MaxKeep)
	collect(err)

	maxSize, err := getEnvInt("HLL_MAX_SNAPSHOT_SIZE", int(c.Snapshots.MaxSize))
	collect(err)
	c.Snapshots.MaxSize = int64(maxSize)

	precision, err := getEnvInt("HLL_PRECISION", int(c.Estimator.Precision))
	collect(err)
	if precision < 0 || precision > 255 {
		collect(fmt.Errorf("HLL_PRECISION: %d out of range", precision))
	} else {
		c.Estimator.Precision = uint8(precision)
	}

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "memory", "sqlite", "clickhouse":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	switch c.Storage.Mirror {
	case "":
	case c.Storage.Backend:
		errs = append(errs, fmt.Errorf("storage.mirror: %q is already the primary backend", c.Storage.Mirror))
	case "memory", "sqlite", "clickhouse":
	default:
		errs = append(errs, fmt.Errorf("storage.mirror: unknown backend %q", c.Storage.Mirror))
	}
	if c.uses("sqlite") && c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path: required for sqlite backend"))
	}
	if c.uses("clickhouse") && c.Storage.ClickHouse.Addr == "" {
		errs = append(errs, errors.New("storage.clickhouse.addr: required for clickhouse backend"))
	}

	if err := validPrecision(c.Estimator.Precision); err != nil {
		errs = append(errs, fmt.Errorf("estimator.precision: %w", err))
	}
	if _, err := hashing.ByName(c.Estimator.Hasher); err != nil {
		errs = append(errs, fmt.Errorf("estimator.hasher: %w", err))
	}

	if c.Dataset.Users < 0 {
		errs = append(errs, fmt.Errorf("dataset.users: must not be negative, got %d", c.Dataset.Users))
	}
	if c.Dataset.Days <= 0 {
		errs = append(errs, fmt.Errorf("dataset.days: must be positive, got %d", c.Dataset.Days))
	}

	if c.Harness.Samples <= 0 {
		errs = append(errs, fmt.Errorf("harness.samples: must be positive, got %d", c.Harness.Samples))
	}
	if c.Harness.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("harness.tolerance: must be positive, got %v", c.Harness.Tolerance))
	}
	for _, p := range c.Harness.Precisions {
		if err := validPrecision(p); err != nil {
			errs = append(errs, fmt.Errorf("harness.precisions: %w", err))
		}
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (c *Config) uses(backend string) bool {
	return c.Storage.Backend == backend || c.Storage.Mirror == backend
}

func validPrecision(p uint8) error {
	if p < hyperloglog.MinPrecision || p > hyperloglog.MaxPrecision {
		return fmt.Errorf("%w: %d not in [%d, %d]", hyperloglog.ErrInvalidPrecision, p, hyperloglog.MinPrecision, hyperloglog.MaxPrecision)
	}
	return nil
}

// StorageConfig converts the storage section for storage.NewStorage.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend:            c.Storage.Backend,
		SQLitePath:         c.Storage.SQLitePath,
		ClickHouseAddr:     c.Storage.ClickHouse.Addr,
		ClickHouseDatabase: c.Storage.ClickHouse.Database,
		ClickHouseUsername: c.Storage.ClickHouse.Username,
		ClickHousePassword: c.Storage.ClickHouse.Password,
	}
}

// MirrorConfig is StorageConfig for the mirror backend. ok is false when
// mirroring is disabled.
func (c *Config) MirrorConfig() (cfg storage.Config, ok bool) {
	if c.Storage.Mirror == "" {
		return storage.Config{}, false
	}
	cfg = c.StorageConfig()
	cfg.Backend = c.Storage.Mirror
	return cfg, true
}

// SnapshotConfig converts the snapshots section for snapshots.New.
func (c *Config) SnapshotConfig() snapshots.Config {
	return snapshots.Config{
		Dir:             c.Snapshots.Dir,
		MaxSnapshotSize: c.Snapshots.MaxSize,
		MaxSnapshots:    c.Snapshots.MaxKeep,
	}
}

// DatasetConfig converts the dataset section for dataset.New.
func (c *Config) DatasetConfig() dataset.Config {
	cfg := dataset.DefaultConfig()
	cfg.Users = c.Dataset.Users
	cfg.Days = c.Dataset.Days
	cfg.BatchSize = c.Dataset.BatchSize
	cfg.Seed = c.Dataset.RandSeed
	return cfg
}

// Hasher returns the configured default hasher.
func (c *Config) Hasher() hashing.Hasher {
	h, err := hashing.ByName(c.Estimator.Hasher)
	if err != nil {
		return hashing.Default()
	}
	return h
}

// NewLogger builds the structured logger described by the log section.
func (c *Config) NewLogger() *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default fallback.
func getEnvBool(key string, defaultValue bool) (bool, error) {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue, fmt.Errorf("%s: %w", key, err)
		}
		return b, nil
	}
	return defaultValue, nil
}

// getEnvInt gets an integer environment variable with a default fallback.
func getEnvInt(key string, defaultValue int) (int, error) {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue, fmt.Errorf("%s: %w", key, err)
		}
		return i, nil
	}
	return defaultValue, nil
}
