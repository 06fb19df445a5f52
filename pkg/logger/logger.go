package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Logger is a zerolog logger with typed fields. Errors can additionally be
// folded into a Digest that ships summaries elsewhere.
type Logger struct {
	zl     zerolog.Logger
	digest *Digest
	fields []Field
}

type Config struct {
	Level      string // debug, info, warn, error; empty means info
	Format     string // json or console
	Output     string // stdout, stderr, or file path; empty means stdout
	TimeFormat string
	Service    string // added to every entry when set
}

func New(cfg *Config) (*Logger, error) {
	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: timeFormat}
	}

	zctx := zerolog.New(output).Level(level).With().Timestamp().CallerWithSkipFrameCount(4)
	if cfg.Service != "" {
		zctx = zctx.Str("service", cfg.Service)
	}
	return &Logger{zl: zctx.Logger()}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that always carries fields. The child reports
// to the parent's digest.
func (l *Logger) With(fields ...Field) *Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		zctx = zctx.Interface(f.Key, f.Value)
	}
	inherited := make([]Field, 0, len(l.fields)+len(fields))
	inherited = append(append(inherited, l.fields...), fields...)
	return &Logger{zl: zctx.Logger(), digest: l.digest, fields: inherited}
}

// AttachDigest starts aggregating error entries into d, replacing and closing
// any digest attached before.
func (l *Logger) AttachDigest(d *Digest) {
	if l.digest != nil && l.digest != d {
		_ = l.digest.Close()
	}
	l.digest = d
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	if l.digest != nil {
		l.digest.Add(zerolog.LevelErrorValue, msg, l.merged(fields), callerOf(1))
	}
}

func (l *Logger) write(event *zerolog.Event, msg string, fields []Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		if f.apply != nil {
			f.apply(event)
		}
	}
	event.Msg(msg)
}

func (l *Logger) merged(fields []Field) map[string]interface{} {
	out := make(map[string]interface{}, len(l.fields)+len(fields))
	for _, f := range l.fields {
		out[f.Key] = f.Value
	}
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// callerOf returns "dir/file.go:line" for the frame skip levels above it.
func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}

// Field is one structured key/value pair. Value is the form used in digests.
type Field struct {
	Key   string
	Value interface{}
	apply func(*zerolog.Event)
}

func String(key, value string) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Str(key, value) }}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Int(key, value) }}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Int64(key, value) }}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Bool(key, value) }}
}

// Error logs err under "error". A nil error is logged as null.
func Error(err error) Field {
	var v interface{}
	if err != nil {
		v = err.Error()
	}
	return Field{Key: zerolog.ErrorFieldName, Value: v, apply: func(e *zerolog.Event) { e.Err(err) }}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value, apply: func(e *zerolog.Event) { e.Interface(key, value) }}
}

// Duration logs d in milliseconds.
func Duration(key string, d time.Duration) Field {
	return Int64(key, d.Milliseconds())
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ","))
}

// Amount logs a token amount as its exact decimal string.
func Amount(key string, value decimal.Decimal) Field {
	return String(key, value.String())
}
