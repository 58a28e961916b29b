// Package log provides structured logging for rdrs2go using zerolog.
//
// It wraps zerolog the same way the rest of the repository's ambient stack
// wraps its third-party libraries: a package-level Logger, an Init that
// reads the process configuration, and small helpers for the logging
// patterns the core packages use repeatedly (component tagging, request
// correlation).
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance. Init must run before it is used
// from more than one goroutine if the output target changes at runtime.
var Logger zerolog.Logger

// Level is a string log level, matching the Log.Level config key.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config mirrors the Log.* keys of the JSON configuration (spec.md §6.4).
type Config struct {
	Level      Level
	FilePath   string // empty means stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAge     int // days
	JSONOutput bool
}

// Init initializes the global logger from cfg. When FilePath is set, output
// is rotated via lumberjack according to MaxSizeMB/MaxBackups/MaxAge.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = os.Stdout
	if cfg.FilePath != "" {
		output = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    nonZero(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		}
	}

	if cfg.JSONOutput || cfg.FilePath != "" {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func parseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// WithComponent returns a child logger tagged with a component name, e.g.
// "apikeycache", "fvcache", "ronsql".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithOperationID returns a child logger tagged with a request operation id.
func WithOperationID(opID string) zerolog.Logger {
	return Logger.With().Str("operation_id", opID).Logger()
}

func init() {
	// Safe default so packages that log before main calls Init (tests,
	// library callers) don't panic on a zero-value Logger.
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
