package models

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Terminals get the console writer (colored when the config
// asks for it), anything else gets JSON lines.
func NewLogger(c *Config, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if c.LogLevel != "" {
		var err error
		if level, err = zerolog.ParseLevel(c.LogLevel); err != nil {
			return zerolog.Nop(), errors.Wrapf(err, "invalid log level %q", c.LogLevel)
		}
	}
	if c.Verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if IsTerminal(w) {
		out := w
		if f, ok := w.(*os.File); ok {
			out = colorable.NewColorable(f)
		}
		w = zerolog.ConsoleWriter{Out: out, NoColor: !c.Color, TimeFormat: time.StampMicro}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
