// Package logging builds the CLI's zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls the logger.
type Options struct {
	// Level is a zerolog level name. Empty means warn, or debug when
	// Verbose is set.
	Level   string
	Verbose bool
	// Writer defaults to stderr.
	Writer io.Writer
	// JSON writes one JSON object per line instead of console text.
	JSON bool
	// NoColor disables colors in the console writer.
	NoColor bool
}

// ParseLevel resolves a level name, accepting "warning" for warn.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// New creates a logger from opts.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	if opts.Level != "" {
		lvl, err := ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), err
		}
		level = lvl
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if !opts.JSON {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.TimeOnly,
			NoColor:    opts.NoColor,
		}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
