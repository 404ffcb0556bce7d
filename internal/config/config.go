// Package config loads the storefront suite configuration from environment variables and
// CLI flag values, validates it, and provides sensible defaults.
//
// Secrets (Gmail client secrets, tokens, S3 keys, Resend key) come from files or the
// environment; behaviour toggles (force recreate, headed browser) may also come from flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultBaseURL   = "https://dmfluxury.com"
	defaultS3Region  = "auto"
	defaultResultDir = "results"

	StateBackendFile = "file"
	StateBackendS3   = "s3"
)

// Config holds all suite configuration. The env tag names the variable a field is
// loaded from; validation errors are reported by that name.
type Config struct {
	// Target storefront
	BaseURL            string `env:"STOREFRONT_BASE_URL" validate:"required,url"`
	LoginPath          string `env:"STOREFRONT_LOGIN_PATH"`
	LandingPath        string `env:"STOREFRONT_LANDING_PATH"`
	LoginEmail         string `env:"STOREFRONT_LOGIN_EMAIL" validate:"required,email"`
	ConfirmURLContains string `env:"STOREFRONT_CONFIRM_URL_CONTAINS"`

	// Session state
	ForceRecreate      bool          `env:"RECREATE_AUTH"`
	ResultsDir         string        `env:"RESULTS_DIR" validate:"required"`
	StateFile          string        `env:"AUTH_STATE_FILE" validate:"required"`
	StateBackend       string        `env:"STATE_BACKEND" validate:"oneof=file s3"`
	StateS3Key         string        `env:"STATE_S3_KEY"`
	StateEncryptionKey string        `env:"STATE_ENCRYPTION_KEY" validate:"omitempty,hexadecimal,len=64"`
	SessionMaxAge      time.Duration `env:"SESSION_MAX_AGE" validate:"min=0"`

	// Gmail mailbox
	GmailCredentialsFile string        `env:"GMAIL_CREDENTIALS_FILE" validate:"required"`
	GmailTokenFile       string        `env:"GMAIL_TOKEN_FILE" validate:"required"`
	GmailExpectedAccount string        `env:"GMAIL_EXPECTED_ACCOUNT" validate:"omitempty,email"`
	OTPQuery             string        `env:"OTP_QUERY" validate:"required"`
	OTPPollInterval      time.Duration `env:"OTP_POLL_INTERVAL" validate:"gt=0"`
	OTPPollTimeout       time.Duration `env:"OTP_POLL_TIMEOUT" validate:"gt=0"`

	// Browser
	Browser     string        `env:"BROWSER" validate:"oneof=chromium firefox webkit"`
	Headless    bool          `env:"HEADLESS"`
	SlowMo      time.Duration `env:"SLOW_MO" validate:"min=0"`
	RecordVideo bool          `env:"RECORD_VIDEO"`
	// Trace records a Playwright trace per session and keeps it only when the session fails.
	Trace bool `env:"TRACE"`

	// Stage timeouts
	NavigationTimeout time.Duration `env:"NAVIGATION_TIMEOUT" validate:"gt=0"`
	FieldTimeout      time.Duration `env:"FIELD_TIMEOUT" validate:"gt=0"`
	OTPFieldTimeout   time.Duration `env:"OTP_FIELD_TIMEOUT" validate:"gt=0"`
	DashboardTimeout  time.Duration `env:"DASHBOARD_TIMEOUT" validate:"gt=0"`

	// S3 (uses the standard AWS_ variables)
	AWSEndpointS3      string `env:"AWS_ENDPOINT_URL_S3" validate:"required_if=StateBackend s3"`
	AWSRegion          string `env:"AWS_REGION"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" validate:"required_if=StateBackend s3"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" validate:"required_if=StateBackend s3"`
	AWSBucketName      string `env:"BUCKET_NAME" validate:"required_if=StateBackend s3"`

	// Operator alerts
	AlertResendAPIKey string `env:"ALERT_RESEND_API_KEY"`
	AlertFrom         string `env:"ALERT_FROM" validate:"omitempty,email"`
	AlertTo           string `env:"ALERT_TO" validate:"omitempty,email"`
}

// Flags are CLI overrides applied on top of the environment. Nil pointers mean "not set".
type Flags struct {
	RecreateAuth *bool
	Headed       *bool
	Browser      string
	RecordVideo  *bool
	Trace        *bool
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadConfig loads configuration from environment variables and applies flag overrides.
func LoadConfig(flags Flags) (*Config, error) {
	cfg := &Config{}

	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("STOREFRONT_BASE_URL", defaultBaseURL), "/")
	cfg.LoginPath = getEnvOrDefault("STOREFRONT_LOGIN_PATH", "")
	cfg.LandingPath = getEnvOrDefault("STOREFRONT_LANDING_PATH", "/pages/configurators")
	cfg.LoginEmail = getEnvOrDefault("STOREFRONT_LOGIN_EMAIL", "")
	cfg.ConfirmURLContains = getEnvOrDefault("STOREFRONT_CONFIRM_URL_CONTAINS", "")

	cfg.ForceRecreate = parseBoolOrDefault("RECREATE_AUTH", false)
	cfg.ResultsDir = getEnvOrDefault("RESULTS_DIR", defaultResultDir)
	cfg.StateFile = getEnvOrDefault("AUTH_STATE_FILE", filepath.Join(cfg.ResultsDir, "auth.json"))
	cfg.StateBackend = strings.ToLower(getEnvOrDefault("STATE_BACKEND", StateBackendFile))
	cfg.StateS3Key = getEnvOrDefault("STATE_S3_KEY", "auth/storage-state.json")
	cfg.StateEncryptionKey = getEnvOrDefault("STATE_ENCRYPTION_KEY", "")
	cfg.SessionMaxAge = parseDurationOrDefault("SESSION_MAX_AGE", 0)

	cfg.GmailCredentialsFile = getEnvOrDefault("GMAIL_CREDENTIALS_FILE", filepath.Join("secrets", "credentials.json"))
	cfg.GmailTokenFile = getEnvOrDefault("GMAIL_TOKEN_FILE", filepath.Join("secrets", "token.json"))
	cfg.GmailExpectedAccount = getEnvOrDefault("GMAIL_EXPECTED_ACCOUNT", "")
	cfg.OTPQuery = getEnvOrDefault("OTP_QUERY", "subject:code")
	cfg.OTPPollInterval = parseDurationOrDefault("OTP_POLL_INTERVAL", 5*time.Second)
	cfg.OTPPollTimeout = parseDurationOrDefault("OTP_POLL_TIMEOUT", 90*time.Second)

	cfg.Browser = strings.ToLower(getEnvOrDefault("BROWSER", "chromium"))
	cfg.Headless = parseBoolOrDefault("HEADLESS", true)
	cfg.SlowMo = parseDurationOrDefault("SLOW_MO", 0)
	cfg.RecordVideo = parseBoolOrDefault("RECORD_VIDEO", false)
	cfg.Trace = parseBoolOrDefault("TRACE", false)

	cfg.NavigationTimeout = parseDurationOrDefault("NAVIGATION_TIMEOUT", 60*time.Second)
	cfg.FieldTimeout = parseDurationOrDefault("FIELD_TIMEOUT", 30*time.Second)
	cfg.OTPFieldTimeout = parseDurationOrDefault("OTP_FIELD_TIMEOUT", 120*time.Second)
	cfg.DashboardTimeout = parseDurationOrDefault("DASHBOARD_TIMEOUT", 60*time.Second)

	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = getEnvOrDefault("BUCKET_NAME", "")

	cfg.AlertResendAPIKey = getEnvOrDefault("ALERT_RESEND_API_KEY", "")
	cfg.AlertFrom = getEnvOrDefault("ALERT_FROM", "")
	cfg.AlertTo = getEnvOrDefault("ALERT_TO", "")

	if flags.RecreateAuth != nil {
		cfg.ForceRecreate = *flags.RecreateAuth
	}
	if flags.Headed != nil {
		cfg.Headless = !*flags.Headed
	}
	if flags.Browser != "" {
		cfg.Browser = strings.ToLower(flags.Browser)
	}
	if flags.RecordVideo != nil {
		cfg.RecordVideo = *flags.RecordVideo
	}
	if flags.Trace != nil {
		cfg.Trace = *flags.Trace
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("env")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks that all required configuration is present and consistent.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, formatFieldError(fe))
		}
	}

	if c.AlertResendAPIKey != "" && (c.AlertFrom == "" || c.AlertTo == "") {
		errs = append(errs, "ALERT_FROM and ALERT_TO are required when ALERT_RESEND_API_KEY is set")
	}
	if c.StateBackend == StateBackendS3 && c.StateS3Key == "" {
		errs = append(errs, "STATE_S3_KEY is required when STATE_BACKEND=s3")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "required_if":
		return fmt.Sprintf("%s is required when %s", fe.Field(), strings.Replace(fe.Param(), "StateBackend ", "STATE_BACKEND=", 1))
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be an absolute URL", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "len", "hexadecimal":
		return fmt.Sprintf("%s must be 64 hex characters (generate with: openssl rand -hex 32)", fe.Field())
	case "gt", "min":
		return fmt.Sprintf("%s must be a positive duration", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// Origin returns scheme://host of the base URL.
func (c *Config) Origin() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return c.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// URL joins a path onto the base URL.
func (c *Config) URL(path string) string {
	if path == "" {
		return c.BaseURL
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// AlertsEnabled reports whether alerts go out through Resend.
func (c *Config) AlertsEnabled() bool {
	return c.AlertResendAPIKey != "" && c.AlertTo != ""
}

// Summary returns a human-readable summary of the configuration without secrets.
func (c *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Target:  %s\n", c.BaseURL)
	if c.StateBackend == StateBackendS3 {
		fmt.Fprintf(&b, "  State:   s3://%s/%s\n", c.AWSBucketName, c.StateS3Key)
	} else {
		fmt.Fprintf(&b, "  State:   %s\n", c.StateFile)
	}
	if c.StateEncryptionKey != "" {
		fmt.Fprintln(&b, "  Sealing: enabled")
	}
	fmt.Fprintf(&b, "  Mailbox: %s (token %s)\n", c.GmailCredentialsFile, c.GmailTokenFile)
	fmt.Fprintf(&b, "  Browser: %s (headless=%t)\n", c.Browser, c.Headless)
	if c.AlertsEnabled() {
		fmt.Fprintf(&b, "  Alerts:  Resend -> %s\n", c.AlertTo)
	} else {
		fmt.Fprintln(&b, "  Alerts:  log only")
	}
	return b.String()
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
