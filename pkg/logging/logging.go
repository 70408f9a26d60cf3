package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Settings configures the process-wide logger.
type Settings struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
	// Format is "text" for console output or "json".
	Format string
	// File redirects logs away from stderr when set.
	File string
}

// Init configures the global zerolog logger. Call once at process start;
// everything else logs through the package-level logger.
func Init(s Settings) error {
	level, err := zerolog.ParseLevel(strings.ToLower(s.Level))
	if err != nil {
		return errors.Wrapf(err, "logging: parse level %q", s.Level)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if s.File != "" {
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrapf(err, "logging: open %s", s.File)
		}
		w = f
	}
	if strings.ToLower(s.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return nil
}
