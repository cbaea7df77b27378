package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/extract"
	"github.com/MeKo-Tech/textgrab/internal/recognizer"
)

// Config represents the complete configuration for textgrab. It covers the
// extract and serve commands and is loaded from files, environment variables
// and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction" json:"extraction"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
	S3         S3Config         `mapstructure:"s3" yaml:"s3" json:"s3"`
}

// RecognizerConfig selects and configures the OCR backend.
type RecognizerConfig struct {
	Backend        string            `mapstructure:"backend" yaml:"backend" json:"backend"`
	Languages      []string          `mapstructure:"languages" yaml:"languages" json:"languages"`
	UseAccelerator bool              `mapstructure:"use_accelerator" yaml:"use_accelerator" json:"use_accelerator"`
	ModelsDir      string            `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	Threads        int               `mapstructure:"threads" yaml:"threads" json:"threads"`
	Settings       map[string]string `mapstructure:"settings" yaml:"settings,omitempty" json:"settings,omitempty"`
}

// ExtractionConfig holds pipeline settings.
type ExtractionConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	TimeoutSec    int     `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	Serialize     bool    `mapstructure:"serialize" yaml:"serialize" json:"serialize"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig configures per-client limits.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// OutputConfig contains CLI output settings.
type OutputConfig struct {
	Format      string `mapstructure:"format" yaml:"format" json:"format"`
	File        string `mapstructure:"file" yaml:"file" json:"file"`
	DownloadDir string `mapstructure:"download_dir" yaml:"download_dir" json:"download_dir"`
}

// S3Config configures the s3:// byte source.
type S3Config struct {
	Region         string `mapstructure:"region" yaml:"region" json:"region"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style" json:"force_path_style"`
}

// Output formats understood by the extract command.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatStats = "stats"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	opts := recognizer.DefaultOptions()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Recognizer: RecognizerConfig{
			Backend:        "onnx",
			Languages:      opts.Languages,
			UseAccelerator: opts.UseAccelerator,
			ModelsDir:      opts.ModelsDir,
			Threads:        0,
		},
		Extraction: ExtractionConfig{
			MinConfidence: extract.DefaultThreshold,
			TimeoutSec:    60,
			Serialize:     false,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     5,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
				MaxRequestsPerDay: 0,
				MaxDataPerDayMB:   500,
			},
		},
		Output: OutputConfig{
			Format: FormatText,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{FormatText, FormatJSON, FormatStats}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if c.Recognizer.Backend == "" {
		return errors.New("recognizer.backend must not be empty")
	}
	if err := c.RecognizerOptions().Validate(); err != nil {
		return fmt.Errorf("invalid recognizer options: %w", err)
	}

	if err := validateThreshold(c.Extraction.MinConfidence, "extraction.min_confidence"); err != nil {
		return err
	}
	if c.Extraction.TimeoutSec < 0 {
		return fmt.Errorf("invalid extraction timeout: %d (must be zero or positive)", c.Extraction.TimeoutSec)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d", c.Server.ShutdownTimeout)
	}
	if rl := c.Server.RateLimit; rl.Enabled && (rl.RequestsPerMinute <= 0 || rl.RequestsPerHour <= 0) {
		return fmt.Errorf("rate limits must be positive when enabled (per minute %d, per hour %d)",
			rl.RequestsPerMinute, rl.RequestsPerHour)
	}

	return nil
}

// RecognizerOptions converts the recognizer section to backend options.
func (c *Config) RecognizerOptions() recognizer.Options {
	langs := make([]string, 0, len(c.Recognizer.Languages))
	for _, l := range c.Recognizer.Languages {
		if l = strings.TrimSpace(l); l != "" {
			langs = append(langs, l)
		}
	}
	return recognizer.Options{
		Languages:      langs,
		UseAccelerator: c.Recognizer.UseAccelerator,
		ModelsDir:      c.Recognizer.ModelsDir,
		Threads:        c.Recognizer.Threads,
		Settings:       c.Recognizer.Settings,
	}
}

// ExtractConfig converts the extraction section to pipeline settings.
func (c *Config) ExtractConfig() extract.Config {
	return extract.Config{
		Threshold:        c.Extraction.MinConfidence,
		Timeout:          time.Duration(c.Extraction.TimeoutSec) * time.Second,
		SerializedAccess: c.Extraction.Serialize,
	}
}

// contains checks if a slice contains a specific string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold checks that a threshold value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if math.IsNaN(value) || value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
