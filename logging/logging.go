// Package logging configures the process-wide zerolog logger. The
// teacher repo logs with bare log.Printf/fmt.Println; this replaces
// that with structured fields in the same terse spirit, consistent
// with the rest of the retrieval pack's VMS-shaped services.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from format/level strings
// (config.Config.LogFormat / LogLevel). loc is the process-wide
// timezone (config.Config.Location()); every log line's timestamp is
// rendered in it, the same setting chunk filenames and bus message
// timestamps use (spec §6).
func Init(format, level string, loc *time.Location) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(loc) }

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out zerolog.Logger
	if strings.ToLower(format) == "json" {
		out = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	log.Logger = out
}

// For returns a child logger tagged with a component name, e.g.
// logging.For("framehub").With().Str("camera_id", id).Logger().
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
