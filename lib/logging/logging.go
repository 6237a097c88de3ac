// Package logging configures the process-wide zerolog logger and hands
// out component-scoped child loggers.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ----------------------------------------------
// Setup
// ----------------------------------------------

// Setup initializes the global logger. format is either "json" or
// "console"; level is any zerolog level name.
func Setup(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(os.Stderr)
	if strings.ToLower(format) == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
	log.Logger = logger.With().Timestamp().Logger()

	return nil
}

// ----------------------------------------------
// Component loggers
// ----------------------------------------------

// Component returns a child of the global logger tagged with the given
// component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
