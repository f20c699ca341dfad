package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. It discards everything until Init.
var Logger = zerolog.Nop()

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool

	// Output defaults to stdout
	Output io.Writer
}

// ParseLevel converts a configuration string into a Level, defaulting to info
func ParseLevel(s string) Level {
	if _, ok := zerologLevels[Level(s)]; ok {
		return Level(s)
	}
	return InfoLevel
}

// Init replaces Logger according to cfg. Loggers derived before Init
// keep writing to the previous sink.
func Init(cfg Config) {
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).With().Timestamp().Str("service", "xnode").Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithInbound derives a logger with inbound_tag field from parent
func WithInbound(parent zerolog.Logger, tag string) zerolog.Logger {
	return parent.With().Str("inbound_tag", tag).Logger()
}

// WithAttempt derives a logger with attempt_id field from parent.
// Every StartEngine call gets its own attempt id so that the
// restart, supervisor and probe lines of one reconciliation can be
// grouped.
func WithAttempt(parent zerolog.Logger, attemptID string) zerolog.Logger {
	return parent.With().Str("attempt_id", attemptID).Logger()
}
