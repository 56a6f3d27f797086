package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the process logger. component tags every line with the binary
// that wrote it, since the API and the reconciler share log sinks.
func New(component string) zerolog.Logger {
	// For Google Cloud Logging, the level field name should be "severity".
	zerolog.LevelFieldName = "severity"
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var logger zerolog.Logger
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(ParseLevel(os.Getenv("LOG_LEVEL"))).
		With().Timestamp().Str("component", component).Logger()
}

// ParseLevel maps LOG_LEVEL onto a zerolog level, defaulting to debug.
func ParseLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.DebugLevel
	}
	return level
}
