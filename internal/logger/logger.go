package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.Nop()

	logFile *os.File
)

// Options controls where and how log lines are written.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Path   string // optional log file, stderr when empty
}

// InitLogging sets up logging based on configuration. Until it is called every log call is a no-op.
func InitLogging(opts Options) error {
	var (
		out io.Writer = os.Stderr
		f   *os.File
	)

	if opts.Path != "" {
		err := os.MkdirAll(filepath.Dir(opts.Path), 0o755)
		if err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err = os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		out = f
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	if opts.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.DateTime,
			NoColor:    opts.Path != "",
		}
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()

	mu.Lock()
	prev := logFile
	logFile = f
	base = l
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	return nil
}

// SetLogger replaces the base logger, mostly useful to capture output in tests.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()

	base = l
}

// Close closes the log file if open. Logging to a file stops until InitLogging is called again.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
		base = zerolog.Nop()
	}
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return base.With().Str("component", name).Logger()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := base

	return &l
}

func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Errorf logs an error message.
func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}

func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}
