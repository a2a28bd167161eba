package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Activation ActivationConfig `yaml:"activation" envconfig:"ACTIVATION"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ActivationConfig controls where and how the activation state is kept
type ActivationConfig struct {
	// StateDir holds the record, its witness and the fallback device id.
	// Empty resolves to the per-user config directory.
	StateDir string `yaml:"state_dir" envconfig:"STATE_DIR"`
	Store    string `yaml:"store" envconfig:"STORE" validate:"oneof=file sqlite"`
	// ClockTolerance is how far the wall clock may fall behind the
	// monotonic clock before the record is flagged as tampered.
	ClockTolerance time.Duration `yaml:"clock_tolerance" envconfig:"CLOCK_TOLERANCE" validate:"min=0,max=24h"`
	// EncryptionPassphrase enables AES-GCM sealing of the record at rest
	EncryptionPassphrase string `yaml:"encryption_passphrase" envconfig:"ENCRYPTION_PASSPHRASE"`
	SigningSecret        string `yaml:"signing_secret" envconfig:"SIGNING_SECRET"`
	// RegistryPath overrides the embedded code bundle
	RegistryPath string `yaml:"registry_path" envconfig:"REGISTRY_PATH"`
	// DeviceID pins the device identity, bypassing hardware derivation
	DeviceID string `yaml:"device_id" envconfig:"DEVICE_ID" validate:"omitempty,max=128"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// ServerConfig contains the local embedding API configuration
type ServerConfig struct {
	// Addr stays on loopback; the API serves the local UI only
	Addr            string          `yaml:"addr" envconfig:"ADDR" validate:"required,hostname_port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	AllowedOrigins  []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	StatusInterval  time.Duration   `yaml:"status_interval" envconfig:"STATUS_INTERVAL" validate:"gt=0"`
}

// RateLimitConfig throttles activation attempts per client
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// TelemetryConfig toggles metrics and tracing
type TelemetryConfig struct {
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
}

// Load builds the configuration from defaults, an optional YAML file and
// KEYGATE_* environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFrom(ConfigFilePath())
}

// LoadFrom is Load with an explicit config file; an empty path skips the file
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg; keys absent from the file keep
// their current values.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

var validate = validator.New()

// Validate checks field constraints
func (c *Config) Validate() error {
	// Always JSON
	c.Logging.Format = "json"

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	return validate.Struct(c)
}

// ConfigFilePath returns KEYGATE_CONFIG or the first config file found
// in the usual locations
func ConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	for _, location := range []string{
		"keygate.yaml",
		"configs/keygate.yaml",
	} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Activation: ActivationConfig{
			Store:          "file",
			ClockTolerance: DefaultClockTolerance,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8757",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:8757", "http://127.0.0.1:8757"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultActivationRPS,
				Burst:   DefaultActivationBurst,
			},
			StatusInterval: DefaultStatusInterval,
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			EnableTracing: false,
			TraceExporter: "none",
			SampleRatio:   1.0,
			Environment:   "production",
		},
	}
}
