// Package config provides configuration management for the download engine
// using Viper. It supports configuration from files, environment variables,
// and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultSmallRegimeBytes  = 1024 * 1024 * 1024 // 1GiB
	defaultPartSizeBytes     = 500 * 1024 * 1024  // 500MiB
	defaultChunkSizeBytes    = 32 * 1024 * 1024   // 32MiB
	defaultBatchSizeNormal   = 10
	defaultBatchSizeLarge    = 5
	defaultLargeSegmentCount = 800
	defaultHugeSegmentCount  = 1000
	defaultPacingNormalMs    = 100 * time.Millisecond
	defaultPacingLargeMs     = 200 * time.Millisecond
	defaultCancelProbeMs     = 50 * time.Millisecond
	defaultPrimaryAttempts   = 5
	defaultRecoveryAttempts  = 7
	defaultRecoveryStaggerMs = 200 * time.Millisecond
	defaultStallTimeout      = 10 * time.Minute
	defaultHTTPTimeout       = 30 * time.Second
	defaultMaxConcurrentJobs = 2
	defaultCompletenessFloor = 0.98
	defaultMaxConsecutiveGap = 3
	defaultLockTimeout       = 30 * time.Minute
	defaultCleanupAge        = 7 * 24 * time.Hour
	defaultCircuitThreshold  = 5
	defaultCircuitTimeout    = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Assembler AssemblerConfig `mapstructure:"assembler"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Runner    RunnerConfig    `mapstructure:"runner"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
	// BlobDir holds the bbolt-backed spill store for large-regime assembly.
	BlobDir string `mapstructure:"blob_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FetchConfig holds segment-fetching pipeline tunables (components D/E).
type FetchConfig struct {
	// BatchSizeNormal is the concurrent batch size used when the media
	// playlist has <= LargeSegmentThreshold segments.
	BatchSizeNormal int `mapstructure:"batch_size_normal"`
	// BatchSizeLarge is the concurrent batch size used above the threshold.
	BatchSizeLarge int `mapstructure:"batch_size_large"`
	// LargeSegmentThreshold is the segment count above which BatchSizeLarge
	// and PacingLarge apply instead of the normal tunables.
	LargeSegmentThreshold int `mapstructure:"large_segment_threshold"`
	// HugeSegmentThreshold is the segment count above which the Job Runner's
	// "large file in progress" gating rule applies.
	HugeSegmentThreshold int `mapstructure:"huge_segment_threshold"`
	// PacingNormal/PacingLarge are the inter-batch delays.
	PacingNormal time.Duration `mapstructure:"pacing_normal"`
	PacingLarge  time.Duration `mapstructure:"pacing_large"`
	// CancelProbeInterval is how often an in-flight batch wait checks for
	// cooperative cancellation.
	CancelProbeInterval time.Duration `mapstructure:"cancel_probe_interval"`
	// PrimaryAttempts/RecoveryAttempts bound the two fetch passes.
	PrimaryAttempts  int `mapstructure:"primary_attempts"`
	RecoveryAttempts int `mapstructure:"recovery_attempts"`
	// RecoveryStagger is the per-index start delay (i * stagger) applied
	// when launching the recovery pass, to avoid a thundering herd against
	// an origin that just rate-limited the primary pass.
	RecoveryStagger time.Duration `mapstructure:"recovery_stagger"`
	// StallTimeout is the ceiling on the whole fetch phase; a job whose
	// fetch phase runs longer fails as a stall timeout.
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	// HTTPTimeout bounds a single segment or playlist HTTP round trip.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	// CircuitBreakerThreshold/Timeout configure the circuit breaker guarding
	// the resilient HTTP client; one breaker is shared by every host.
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	// UserAgent is the browser-like User-Agent sent with every request.
	UserAgent string `mapstructure:"user_agent"`
	// Referer/Origin are sent to satisfy origins that hotlink-protect
	// segment delivery.
	Referer string `mapstructure:"referer"`
	Origin  string `mapstructure:"origin"`
}

// AssemblerConfig holds output-assembly tunables (component G).
type AssemblerConfig struct {
	// SmallRegimeThreshold is the total payload size, in bytes, below which
	// segments are concatenated entirely in memory. Above it, the
	// assembler spills to the blob store.
	SmallRegimeThresholdBytes ByteSize `mapstructure:"small_regime_threshold_bytes"`
	// ChunkSizeBytes is the size of each spilled chunk written to the blob
	// store during large-regime assembly.
	ChunkSizeBytes ByteSize `mapstructure:"chunk_size_bytes"`
	// PartSizeBytes bounds each output part when part-mode splitting is
	// requested; parts are aligned to whole MPEG-TS packets (188 bytes).
	PartSizeBytes ByteSize `mapstructure:"part_size_bytes"`
}

// ValidatorConfig holds integrity-validation thresholds (component F).
type ValidatorConfig struct {
	// CompletenessFloor is the minimum fraction of segments that must have
	// downloaded successfully for the job to proceed past validation.
	CompletenessFloor float64 `mapstructure:"completeness_floor"`
	// LeadingPrefixCount is how many leading segment indices (0..N-1) must
	// all be present; a gap in the leading prefix fails validation even if
	// the floor is otherwise met.
	LeadingPrefixCount int `mapstructure:"leading_prefix_count"`
	// MaxConsecutiveGap is the longest run of missing segment indices
	// tolerated anywhere in the sequence.
	MaxConsecutiveGap int `mapstructure:"max_consecutive_gap"`
}

// RunnerConfig holds Job Runner tunables (component K).
type RunnerConfig struct {
	// MaxConcurrentJobs is the hard system-wide concurrency cap.
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	CleanupAge        time.Duration `mapstructure:"cleanup_age"`
	CleanupEnabled    bool          `mapstructure:"cleanup_enabled"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSFETCH_ and use underscores
// for nesting. Example: HLSFETCH_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsfetch")
		v.AddConfigPath("$HOME/.hlsfetch")
	}

	v.SetEnvPrefix("HLSFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "hlsfetch.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.blob_dir", "blobs")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Fetch defaults
	v.SetDefault("fetch.batch_size_normal", defaultBatchSizeNormal)
	v.SetDefault("fetch.batch_size_large", defaultBatchSizeLarge)
	v.SetDefault("fetch.large_segment_threshold", defaultLargeSegmentCount)
	v.SetDefault("fetch.huge_segment_threshold", defaultHugeSegmentCount)
	v.SetDefault("fetch.pacing_normal", defaultPacingNormalMs)
	v.SetDefault("fetch.pacing_large", defaultPacingLargeMs)
	v.SetDefault("fetch.cancel_probe_interval", defaultCancelProbeMs)
	v.SetDefault("fetch.primary_attempts", defaultPrimaryAttempts)
	v.SetDefault("fetch.recovery_attempts", defaultRecoveryAttempts)
	v.SetDefault("fetch.recovery_stagger", defaultRecoveryStaggerMs)
	v.SetDefault("fetch.stall_timeout", defaultStallTimeout)
	v.SetDefault("fetch.http_timeout", defaultHTTPTimeout)
	v.SetDefault("fetch.circuit_breaker_threshold", defaultCircuitThreshold)
	v.SetDefault("fetch.circuit_breaker_timeout", defaultCircuitTimeout)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetch.referer", "https://www.dailymotion.com/")
	v.SetDefault("fetch.origin", "https://www.dailymotion.com")

	// Assembler defaults
	v.SetDefault("assembler.small_regime_threshold_bytes", defaultSmallRegimeBytes)
	v.SetDefault("assembler.chunk_size_bytes", defaultChunkSizeBytes)
	v.SetDefault("assembler.part_size_bytes", defaultPartSizeBytes)

	// Validator defaults
	v.SetDefault("validator.completeness_floor", defaultCompletenessFloor)
	v.SetDefault("validator.leading_prefix_count", 5)
	v.SetDefault("validator.max_consecutive_gap", defaultMaxConsecutiveGap)

	// Runner defaults
	v.SetDefault("runner.max_concurrent_jobs", defaultMaxConcurrentJobs)
	v.SetDefault("runner.poll_interval", time.Second)
	v.SetDefault("runner.lock_timeout", defaultLockTimeout)
	v.SetDefault("runner.job_timeout", 2*time.Hour)
	v.SetDefault("runner.cleanup_age", defaultCleanupAge)
	v.SetDefault("runner.cleanup_enabled", true)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Fetch.BatchSizeNormal < 1 {
		return fmt.Errorf("fetch.batch_size_normal must be at least 1")
	}
	if c.Fetch.BatchSizeLarge < 1 {
		return fmt.Errorf("fetch.batch_size_large must be at least 1")
	}
	if c.Validator.CompletenessFloor <= 0 || c.Validator.CompletenessFloor > 1 {
		return fmt.Errorf("validator.completeness_floor must be in (0, 1]")
	}
	if c.Runner.MaxConcurrentJobs < 1 {
		return fmt.Errorf("runner.max_concurrent_jobs must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputPath returns the full path to the output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}

// BlobPath returns the full path to the blob store directory.
func (c *StorageConfig) BlobPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.BlobDir)
}
