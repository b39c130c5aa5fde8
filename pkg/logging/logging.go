// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
	// Output is stderr, stdout, discard, or a file path rotated by lumberjack.
	Output     string
	MaxSizeMB  int
	MaxBackups int
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSizeMB:  50,
		MaxBackups: 3,
	}
}

var defaultLogger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	defaultLogger.Store(&l)
}

// New builds a logger from cfg.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	w := writer(cfg)
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Configure replaces the default logger.
func Configure(cfg Config) zerolog.Logger {
	l := New(cfg)
	defaultLogger.Store(&l)
	return l
}

// L returns the default logger.
func L() *zerolog.Logger {
	return defaultLogger.Load()
}

// Component returns the default logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}

// Nop discards everything; tests pass it to components.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func writer(cfg Config) io.Writer {
	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	case "discard", "none":
		return io.Discard
	default:
		out = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		// files always get JSON
		return out
	}
	if strings.ToLower(cfg.Format) == "json" {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
}
