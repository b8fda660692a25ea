package infrastructure

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/architeacher/svc-queue-consumer/internal/config"
	"github.com/rs/zerolog"
)

const (
	logFormatConsole = "console"
)

// Logger wraps zerolog so the rest of the service depends on a single type.
type Logger struct {
	zerolog.Logger
}

func New(cfg config.LoggingConfig) Logger {
	return newLogger(os.Stdout, cfg)
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() Logger {
	return Logger{Logger: zerolog.Nop()}
}

func newLogger(out io.Writer, cfg config.LoggingConfig) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if strings.EqualFold(cfg.Format, logFormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return Logger{
		Logger: zerolog.New(out).Level(level).With().Timestamp().Logger(),
	}
}

// Component returns a child logger tagged with the component name.
func (l Logger) Component(name string) Logger {
	return Logger{Logger: l.With().Str("component", name).Logger()}
}
