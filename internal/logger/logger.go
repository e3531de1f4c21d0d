// Package logger provides a configured zerolog logger.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger tagged with the service name.
// format is "json" or "console"; an unknown level falls back to info.
func New(service, level, format string) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, level, format)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(w io.Writer, service, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	return zerolog.New(out).Level(lvl).With().
		Str("service", service).
		Timestamp().
		Logger()
}
