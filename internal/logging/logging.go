// Package logging builds the zerolog.Logger every pipeline stage logs
// through, in the pattern of hyperifyio-goresearch's cmd/goresearch
// main.go (zerolog.TimeFieldFormat, a level parsed from config, a
// ConsoleWriter in development and raw JSON otherwise).
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide base logger from the configured level and
// format. Request-scoped sub-loggers (user_id, request_id,
// conversation_id) are built per-request by internal/pipeline and
// internal/httpapi via log.With(), not here.
func New(level, format string) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var out zerolog.Logger
	switch format {
	case "json", "":
		out = zerolog.New(os.Stdout)
	case "console":
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	default:
		return zerolog.Logger{}, fmt.Errorf("unknown log format %q (want json or console)", format)
	}

	return out.Level(lvl).With().Timestamp().Logger(), nil
}
