// Package logging constructs the shared application logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to stderr. Debug level is enabled
// when the DOC_CONVERTER_DEBUG environment variable is set.
func New() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("DOC_CONVERTER_DEBUG") != "" {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewWriter builds a logger targeting an arbitrary writer, used by tests.
func NewWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// Nop returns a disabled logger for components that run without one.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
