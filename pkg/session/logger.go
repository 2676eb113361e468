package session

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Field is a toolkit-agnostic key/value pair, the same call-site shape
// the teacher's logger.go exposed over its hand-rolled JSON logger; here
// it is backed by zerolog instead.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field   { return Field{key, value} }
func Int(key string, value int) Field  { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Err(err error) Field              { return Field{"error", err} }
func Duration(key string, d time.Duration) Field { return Field{key, d} }
func Any(key string, value any) Field  { return Field{key, value} }

// Logger wraps a zerolog.Logger behind the Field-based call-site API so
// the rest of the package never imports zerolog directly.
type Logger struct {
	z zerolog.Logger
}

// NewLogger builds a Logger writing structured JSON to w at the given
// minimum level, matching the teacher's DefaultLogger output shape.
func NewLogger(w io.Writer, level zerolog.Level) *Logger {
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}
}

// NewDefaultLogger writes to stderr at info level.
func NewDefaultLogger() *Logger {
	return NewLogger(os.Stderr, zerolog.InfoLevel)
}

// NopLogger discards everything; used as the zero value in tests.
func NopLogger() *Logger {
	return &Logger{z: zerolog.Nop()}
}

func (l *Logger) with(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case error:
			e = e.AnErr(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	return e
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.with(l.z.Debug(), fields).Msg(msg)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.with(l.z.Info(), fields).Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.with(l.z.Warn(), fields).Msg(msg)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.with(l.z.Error(), fields).Msg(msg)
}

// With returns a child logger tagged with a component name, mirroring
// the teacher's WithComponent.
func (l *Logger) With(component string) *Logger {
	return &Logger{z: l.z.With().Str("component", component).Logger()}
}

// WithSession returns a child logger tagged with a session id.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{z: l.z.With().Str("session_id", id).Logger()}
}
