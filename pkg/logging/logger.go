// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Common field names used across the client packages.
const (
	FieldComponent = "component"
	FieldService   = "service"
	FieldSubsystem = "subsystem"
	FieldJobID     = "job_id"
	FieldBucket    = "bucket"
	FieldObject    = "object_key"
	FieldURN       = "urn"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str(FieldComponent, component).Logger()
}

// ServiceLogger derives a component logger tagged with an APS service name.
// A nil base uses the global logger.
func ServiceLogger(base *zerolog.Logger, component, service string) zerolog.Logger {
	ctx := log.With()
	if base != nil {
		ctx = base.With()
	}
	return ctx.Str(FieldComponent, component).Str(FieldService, service).Logger()
}

// Subsystem derives the logger of a helper running on behalf of a caller.
// A caller logger keeps its own component and gains a subsystem field. A nil
// logger uses the global logger with name as the component.
func Subsystem(logger *zerolog.Logger, name string) zerolog.Logger {
	if logger == nil {
		return log.With().Str(FieldComponent, name).Logger()
	}
	return logger.With().Str(FieldSubsystem, name).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow and state transitions
//   - Pagination pages, poll attempts, saga steps
//   - Cache hit/miss for job snapshots
//
// Info: completed operations
//   - Committed uploads, terminal job states
//
// Warn: conditions the caller should notice
//   - 429 throttle windows, retries
//   - Abandoned uploads, aborted collections
//
// Error: failures requiring attention
//   - Configuration errors, unreachable Redis at startup
//
// Context Fields:
//   - component: package emitting the entry
//   - service: APS service (oss, da, derivative)
//   - subsystem: pagination, poll or upload running for a component
//   - job_id / urn: work item id or design URN
//   - bucket / object_key: OSS coordinates
//   - status_code, error_class, duration
