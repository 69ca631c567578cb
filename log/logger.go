// Package log provides the structured logger used throughout the engine.
// It is a thin, level-aware wrapper around zerolog that keeps the call-site
// API (New, With, Info/Warn/Error/Crit with alternating key-value pairs)
// independent of the concrete logging library underneath it.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the interface every component of the engine takes a dependency
// on. It never takes a concrete zerolog.Logger so that tests can substitute
// a discarding or buffering implementation.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	// Crit logs at the highest severity and terminates the process. Only the
	// sentry loops and the stage loop's top-level entry point call this; a
	// library function should return an error instead.
	Crit(msg string, ctx ...interface{})

	// With returns a child logger that prepends ctx to every subsequent
	// record, without mutating the receiver.
	With(ctx ...interface{}) Logger
}

type zlogger struct {
	z zerolog.Logger
}

// New constructs a root logger writing a human-readable console format to
// os.Stderr, seeded with the given key-value pairs.
func New(ctx ...interface{}) Logger {
	return NewWithWriter(os.Stderr, ctx...)
}

// NewWithWriter constructs a root logger writing to an arbitrary sink; New
// uses it with os.Stderr.
func NewWithWriter(w io.Writer, ctx ...interface{}) Logger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	z := zerolog.New(console).With().Timestamp().Logger()
	return (&zlogger{z: z}).With(ctx...).(*zlogger)
}

func (l *zlogger) with(ev *zerolog.Event, ctx []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, ctx[i+1])
	}
	return ev
}

func (l *zlogger) Trace(msg string, ctx ...interface{}) { l.with(l.z.Trace(), ctx).Msg(msg) }
func (l *zlogger) Debug(msg string, ctx ...interface{}) { l.with(l.z.Debug(), ctx).Msg(msg) }
func (l *zlogger) Info(msg string, ctx ...interface{})  { l.with(l.z.Info(), ctx).Msg(msg) }
func (l *zlogger) Warn(msg string, ctx ...interface{})  { l.with(l.z.Warn(), ctx).Msg(msg) }
func (l *zlogger) Error(msg string, ctx ...interface{}) { l.with(l.z.Error(), ctx).Msg(msg) }

func (l *zlogger) Crit(msg string, ctx ...interface{}) {
	l.with(l.z.Fatal(), ctx).Msg(msg)
	os.Exit(1)
}

func (l *zlogger) With(ctx ...interface{}) Logger {
	c := l.z.With()
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			continue
		}
		c = c.Interface(key, ctx[i+1])
	}
	return &zlogger{z: c.Logger()}
}

// Discard returns a logger that drops every record, used by components
// exercised without a caller-supplied logger in tests.
func Discard() Logger {
	return &zlogger{z: zerolog.Nop()}
}

// Root is the process-wide default logger; SetDefault replaces it, mirroring
// the pattern used by the root command to install verbosity flags.
var root Logger = New()

func SetDefault(l Logger) { root = l }
func Default() Logger     { return root }
