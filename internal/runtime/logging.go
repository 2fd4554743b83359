package runtime

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds a zerolog.Logger at the given level, writing to stderr
// so it never interleaves with a script's own console output (spec.md §6,
// SPEC_FULL.md §1 "Logging"). An unrecognized or empty level falls back to
// Info rather than failing Configure outright.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}
