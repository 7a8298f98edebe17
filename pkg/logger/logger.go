// Package logger holds the process-wide zerolog logger shared by the gate, the stores and the binaries.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	Log = New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
}

// New builds a logger for the given environment and level name.
// Outside production it pretty prints to stderr; an unknown or empty level falls back to info.
func New(env, level string) zerolog.Logger {
	var l zerolog.Logger
	if env == "production" {
		l = zerolog.New(os.Stdout)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return l.Level(lvl).With().Timestamp().Logger()
}

// For returns a child of the global logger tagged with a component name.
func For(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

// SetLevel changes the level of the global logger, e.g. from a --verbose flag.
func SetLevel(level zerolog.Level) {
	Log = Log.Level(level)
}
