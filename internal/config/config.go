// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidProcessTimeout is returned when PROCESS_TIMEOUT_SEC is not positive.
	ErrInvalidProcessTimeout = errors.New("config: PROCESS_TIMEOUT_SEC must be positive")
	// ErrInvalidMaxUpload is returned when MAX_UPLOAD_MB is not positive.
	ErrInvalidMaxUpload = errors.New("config: MAX_UPLOAD_MB must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Media tooling
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/loopgen" json:"temp_dir"`
	// JobDBPath enables the sqlite job store when set; jobs are kept in
	// memory otherwise.
	JobDBPath string `env:"JOB_DB_PATH" json:"job_db_path,omitempty"`

	// Processing settings
	ProcessTimeoutSec int `env:"PROCESS_TIMEOUT_SEC, default=600" json:"process_timeout_sec"`
	MaxUploadMB       int `env:"MAX_UPLOAD_MB, default=512" json:"max_upload_mb"`
	MaxOutputMB       int `env:"MAX_OUTPUT_MB, default=2048" json:"max_output_mb"`

	// Optional S3 publishing settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX, default=loops" json:"s3_key_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	ArtifactTTLMin     int    `env:"ARTIFACT_TTL_MIN, default=15" json:"artifact_ttl_min"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 publishing configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// ProcessTimeout returns the render deadline as a duration.
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.ProcessTimeoutSec) * time.Second
}

// ArtifactTTL returns the presigned URL lifetime as a duration.
func (c *Config) ArtifactTTL() time.Duration {
	return time.Duration(c.ArtifactTTLMin) * time.Minute
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ProcessTimeoutSec <= 0 {
		return ErrInvalidProcessTimeout
	}
	if c.MaxUploadMB <= 0 {
		return ErrInvalidMaxUpload
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, FFmpegPath: %s, ProcessTimeoutSec: %d, MaxUploadMB: %d, MaxOutputMB: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.FFmpegPath,
		c.ProcessTimeoutSec,
		c.MaxUploadMB,
		c.MaxOutputMB,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
