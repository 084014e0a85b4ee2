// Package config defines the global configuration structure for the LodgeMail
// service. Configuration is loaded once at process initialization (Lambda Cold
// Start) and is immutable thereafter, following 12-Factor App principles.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails the process immediately
// on startup (fail fast).
package config

import (
	"time"

	"lodgemail/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific config subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"lodgemail"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Email     EmailConfig
	Dispatch  DispatchConfig
	Retention RetentionConfig

	// Build metadata (injected via ldflags, not env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	// Resolved from SSM or Env
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS regional configuration and resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// ArchiveBucket is the cold-storage destination for aged-out dispatch
	// records. Empty disables the archive step of the retention sweep.
	ArchiveBucket string `envconfig:"ARCHIVE_BUCKET"`

	// MetricNamespace is the CloudWatch namespace for dispatch telemetry.
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"LodgeMail"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email transport credentials and sender identity.
type EmailConfig struct {
	// Provider selects the outbound transport: "ses", "sendgrid", or "stub".
	Provider string `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid stub"`

	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	SESConfigSet   string       `envconfig:"SES_CONFIG_SET"`

	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"noreply@lodgemail.app" validate:"email"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"LodgeMail"`

	// DefaultRecipient is the fixed last-resort address used when recipient
	// resolution would otherwise yield zero addresses.
	DefaultRecipient string `envconfig:"EMAIL_DEFAULT_RECIPIENT" validate:"required,email"`
}

// DispatchConfig holds the dispatch tick tuning parameters.
type DispatchConfig struct {
	// BatchLimit caps due records processed per dispatch tick.
	BatchLimit int `envconfig:"DISPATCH_BATCH_LIMIT" default:"50" validate:"min=1"`
}

// RetentionConfig holds the retention sweep tuning parameters.
type RetentionConfig struct {
	// Days is the maximum record age before the sweep deletes it,
	// regardless of state.
	Days int `envconfig:"RETENTION_DAYS" default:"30" validate:"min=1"`

	// BatchLimit caps deletions per sweep run.
	BatchLimit int `envconfig:"RETENTION_BATCH_LIMIT" default:"500" validate:"min=1"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
