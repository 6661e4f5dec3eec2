// Package config holds the daemon configuration and its validation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Config holds all configuration for taller-server.
type Config struct {
	// ListenAddr serves /healthz and /metrics.
	ListenAddr string

	// Memory runs the daemon against in-memory backends; no external
	// store or lock service is contacted. Demo and test use only.
	Memory bool

	// SpreadsheetID identifies the spreadsheet holding the Operaciones,
	// Uniones and EventLog tables.
	SpreadsheetID string
	// CredentialsFile is the service-account key used to reach the
	// spreadsheet.
	CredentialsFile string

	// RedisAddr is the lock service endpoint, host:port.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// LockTTL bounds how long an occupation lock survives without a
	// refresh. Must cover a multi-hour work session.
	LockTTL time.Duration

	// EnforceMetrologiaRole requires the metrología role on inspection
	// requests.
	EnforceMetrologiaRole bool

	// Verbosity is the log verbosity level (0 = info only).
	Verbosity int
}

// Default returns the configuration defaults before flag and env
// population.
func Default() *Config {
	return &Config{
		ListenAddr: ":9090",
		LockTTL:    12 * time.Hour,
	}
}

// ValidationError represents a single validation error with actionable message
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors
func (errs ValidationErrors) HasErrors() bool {
	return len(errs) > 0
}

// Validate checks the configuration and returns any validation errors.
// It performs all validations and returns all errors at once (not fail-fast).
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "listen-addr",
			Message: "required but not provided",
			Hint:    "set via --listen-addr, e.g., ':9090'",
		})
	}

	if c.LockTTL <= 0 {
		errs = append(errs, ValidationError{
			Field:   "lock-ttl",
			Message: fmt.Sprintf("invalid value '%s'", c.LockTTL),
			Hint:    "must be positive and longer than a work session, e.g., '12h'",
		})
	}

	// Memory mode needs no external backends.
	if c.Memory {
		return errs
	}

	if c.SpreadsheetID == "" {
		errs = append(errs, ValidationError{
			Field:   "spreadsheet-id",
			Message: "required but not provided",
			Hint:    "set via --spreadsheet-id flag or TALLER_SPREADSHEET_ID env var",
		})
	}

	if c.CredentialsFile == "" {
		errs = append(errs, ValidationError{
			Field:   "credentials-file",
			Message: "required but not provided",
			Hint:    "set via --credentials-file flag or TALLER_CREDENTIALS_FILE env var",
		})
	} else if _, err := os.Stat(c.CredentialsFile); err != nil {
		if os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "credentials-file",
				Message: fmt.Sprintf("file not found: %s", c.CredentialsFile),
				Hint:    "check path exists and is readable",
			})
		} else {
			errs = append(errs, ValidationError{
				Field:   "credentials-file",
				Message: fmt.Sprintf("failed to read: %v", err),
				Hint:    "ensure file exists and is accessible",
			})
		}
	}

	if c.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "redis-addr",
			Message: "required but not provided",
			Hint:    "set via --redis-addr flag or TALLER_REDIS_ADDR env var, e.g., 'localhost:6379'",
		})
	} else if !isValidHostPort(c.RedisAddr) {
		errs = append(errs, ValidationError{
			Field:   "redis-addr",
			Message: fmt.Sprintf("invalid value '%s'", c.RedisAddr),
			Hint:    "use host:port form, e.g., 'localhost:6379'",
		})
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		errs = append(errs, ValidationError{
			Field:   "redis-db",
			Message: fmt.Sprintf("invalid value '%d'", c.RedisDB),
			Hint:    "must be 0-15",
		})
	}

	return errs
}

// --- Validation helpers ---

var hostPortPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+:\d{1,5}$`)

func isValidHostPort(addr string) bool {
	return hostPortPattern.MatchString(addr)
}
