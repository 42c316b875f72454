// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger for the given level ("debug"|"info"|"warn"|"error") and
// format ("json"|"console"). It never touches the global zerolog logger --
// callers are expected to pass the returned *zerolog.Logger explicitly.
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer = io.Writer(os.Stdout)
	if format == "console" {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}

	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
