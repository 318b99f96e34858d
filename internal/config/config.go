// Package config loads the geowatch configuration from the environment.
//
// Values are resolved in this order, highest first:
//
//	OS environment -> .env file -> struct defaults
//
// A missing required value or an invalid format is reported by Load as a
// *Error so the process can fail before doing any work.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/geowatch/geowatch/internal/database"
)

// Config is the top-level geowatch configuration.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"development" validate:"required"`

	Backend   BackendConfig
	Analysis  AnalysisConfig
	Log       LogConfig
	Alerts    AlertConfig
	Database  database.Config
	Telemetry TelemetryConfig
	Server    ServerConfig
}

// BackendConfig points the Earth Engine client at a project and endpoint.
type BackendConfig struct {
	ProjectID  string        `envconfig:"GEOWATCH_PROJECT_ID" default:"project-ultron-457221" validate:"required"`
	URL        string        `envconfig:"GEOWATCH_BACKEND_URL" default:"https://earthengine-highvolume.googleapis.com" validate:"required,url"`
	Timeout    time.Duration `envconfig:"GEOWATCH_BACKEND_TIMEOUT" default:"10m" validate:"gt=0"`
	MaxRetries int           `envconfig:"GEOWATCH_BACKEND_MAX_RETRIES" default:"0" validate:"gte=0,lte=10"`
}

// AnalysisConfig tunes individual analyses.
type AnalysisConfig struct {
	FirePointBufferMeters int   `envconfig:"GEOWATCH_FIRE_POINT_BUFFER_METERS" default:"10000" validate:"gt=0"`
	GlacierFallbackYears  []int `envconfig:"GEOWATCH_GLACIER_FALLBACK_YEARS" default:"8,9,11,12" validate:"dive,gt=0"`
}

// LogConfig controls the diagnostic logger.
type LogConfig struct {
	Level  string `envconfig:"GEOWATCH_LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error disabled"`
	Format string `envconfig:"GEOWATCH_LOG_FORMAT" default:"json" validate:"oneof=json console"`
}

// AlertConfig configures the Pub/Sub alert publisher. Publishing is off
// while Topic is empty.
type AlertConfig struct {
	Topic string `envconfig:"GEOWATCH_ALERT_TOPIC"`
	// ProjectID defaults to the backend project.
	ProjectID string `envconfig:"GEOWATCH_ALERT_PROJECT_ID"`
}

// Enabled reports whether alerts should be published.
func (c AlertConfig) Enabled() bool { return c.Topic != "" }

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317" validate:"required"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Port            string `envconfig:"APP_PORT" default:"8080" validate:"required,numeric"`
	CredentialsFile string `envconfig:"GEOWATCH_CREDENTIALS_FILE"`
	// JWTSigningKey enables bearer authentication when set.
	JWTSigningKey string `envconfig:"GEOWATCH_JWT_SIGNING_KEY" validate:"omitempty,min=32"`
	// RateLimit is the number of analysis requests allowed per client IP per minute.
	RateLimit int `envconfig:"GEOWATCH_RATE_LIMIT" default:"30" validate:"gt=0"`
}

// ErrorType classifies configuration failures.
type ErrorType string

// Configuration failure types.
const (
	ErrDotenv     ErrorType = "dotenv"
	ErrParsing    ErrorType = "parsing"
	ErrValidation ErrorType = "validation"
)

// Error is returned by Load.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Load reads dotenv files, then the environment, and validates the result.
// Without arguments it loads ./.env if present. Named files must exist.
// Dotenv values never override variables already set in the environment.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil {
		if len(dotenvFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Type: ErrDotenv, Message: "failed to load dotenv file", Err: err}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &Error{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &Error{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}

	if cfg.Alerts.ProjectID == "" {
		cfg.Alerts.ProjectID = cfg.Backend.ProjectID
	}
	return &cfg, nil
}
