package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output formats accepted by LOG_FORMAT.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

const defaultService = "tripledger"

// Config holds logger configuration.
type Config struct {
	Level   string
	Format  string
	Service string
	Version string
	Output  io.Writer
}

// New builds the process logger. Unknown or empty levels log at info.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: cfg.Output != nil}
	}

	service := cfg.Service
	if service == "" {
		service = defaultService
	}

	fields := zerolog.New(out).Level(Level(cfg.Level)).With().Timestamp().Str("service", service)
	if cfg.Version != "" {
		fields = fields.Str("version", cfg.Version)
	}
	return fields.Logger()
}

// Level parses a level name case-insensitively.
func Level(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Component tags l with the subsystem that owns it.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
