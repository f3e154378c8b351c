// Package logging builds the structured zerolog logger shared by every
// server component.
//
// Grounded on ws/internal/shared/monitoring/logger.go, generalized from
// a "ws-server" service tag to "opcua-server" and stripped of the
// WebSocket-specific panic-recovery helpers that have no equivalent in
// a single-logical-thread event loop (spec.md §5: one goroutine drives
// dispatch, so a goroutine panic there is fatal, not something to log
// and keep running).
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level mirrors the server's own log-level enumeration so config.Config
// doesn't have to import zerolog directly.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the sink encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatText   Format = "text"
	FormatPretty Format = "pretty"
)

// Options configures New.
type Options struct {
	Level   Level
	Format  Format
	Service string
}

// New creates a structured logger: JSON by default (Loki-compatible),
// a human-readable console writer when Format is pretty.
func New(opts Options) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch opts.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if opts.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	service := opts.Service
	if service == "" {
		service = "opcua-server"
	}

	return zerolog.New(output).With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()
}

// Init replaces the global zerolog logger, for packages that log
// through the global log.Logger rather than an injected instance.
func Init(opts Options) {
	log.Logger = New(opts)
}

// LogError attaches err plus arbitrary context fields to an Error-level
// event.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogErrorWithStack is for unexpected errors where the call stack
// matters: decode failures deep in the chunk reassembler, codec
// panics recovered at the transport boundary.
func LogErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err).Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
