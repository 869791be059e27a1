package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Until Init runs it discards
// everything, so library code can log unconditionally without caring
// whether the host process configured logging at all.
var Logger = zerolog.Nop()

// Level is a log verbosity name as it appears on the command line.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// zerologLevel maps a Level onto zerolog's numeric scale; anything
// unrecognized falls back to info rather than erroring, since a typo'd
// --log-level should not keep a node from starting.
func (l Level) zerologLevel() zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
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

// Config selects the root logger's verbosity, format, and destination.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to stdout
}

// Init replaces the root Logger. JSON output writes one machine-readable
// object per entry; otherwise entries render through zerolog's console
// writer for a human at a terminal. The level is carried on the logger
// itself rather than zerolog's global, so tests can Init a throwaway
// config without affecting each other.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).Level(cfg.Level.zerologLevel()).With().Timestamp().Logger()
}

// Child-logger helpers: each stamps the field a given layer keys its
// entries by, so one request's trail can be followed across the gateway,
// a collection handler, and the replication fan-out.

// WithComponent tags subsystem-level messages not tied to one request.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTxn scopes entries to a single transaction's lifetime.
func WithTxn(txnID string) zerolog.Logger {
	return Logger.With().Str("txn_id", txnID).Logger()
}

// WithPath tags entries with the collection path a handler operates on.
func WithPath(path string) zerolog.Logger {
	return Logger.With().Str("path", path).Logger()
}

// WithCollection tags entries with a collection's kind ("table", "tensor",
// "chain") alongside its path.
func WithCollection(kind, path string) zerolog.Logger {
	return Logger.With().Str("collection", kind).Str("path", path).Logger()
}

// WithCluster tags replication fan-out and membership entries with the
// cluster's own path.
func WithCluster(clusterPath string) zerolog.Logger {
	return Logger.With().Str("cluster", clusterPath).Logger()
}
