// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the logger output.
type Options struct {
	Level   string // zerolog level name ("debug", "info", ...); empty means info
	Console bool   // human-readable output instead of JSON lines
	Out     io.Writer
}

// New creates a logger and installs it as the global zerolog logger.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if opts.Console {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		logger = zerolog.New(output).With().Timestamp().Logger().Level(level)
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
		logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
	}

	log.Logger = logger
	return logger
}
