package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logging interface used across the service.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	WithContext(ctx context.Context) Logger
	WithFields(fields ...Field) Logger
	WithError(err error) Logger
	WithIncident(incidentID string) Logger
}

// Field represents a logging field
type Field struct {
	Key   string
	Value interface{}
}

// Config represents logger configuration
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type zeroLogger struct {
	logger zerolog.Logger
	fields []Field
}

var (
	global *zeroLogger
	once   sync.Once
)

// Initialize configures the global logger. Safe to call more than once;
// only the first call wins.
func Initialize(cfg Config) {
	once.Do(func() {
		var output io.Writer
		switch cfg.Output {
		case "", "stderr":
			output = os.Stderr
		case "stdout":
			output = os.Stdout
		default:
			file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				output = os.Stderr
			} else {
				output = file
			}
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
		}

		zerolog.SetGlobalLevel(parseLevel(cfg.Level))
		global = &zeroLogger{logger: zerolog.New(output).With().Timestamp().Logger()}
	})
}

// Get returns the global logger, initializing defaults if needed.
func Get() Logger {
	if global == nil {
		Initialize(Config{Level: "info", Format: "json", Output: "stderr"})
	}
	return global
}

// New returns a logger tagged with a component name.
func New(component string) Logger {
	return Get().WithFields(String("component", component))
}

func (l *zeroLogger) WithContext(ctx context.Context) Logger {
	fields := append([]Field{}, l.fields...)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		fields = append(fields, String("trace_id", span.SpanContext().TraceID().String()))
	}
	return &zeroLogger{logger: l.logger, fields: fields}
}

func (l *zeroLogger) WithFields(fields ...Field) Logger {
	return &zeroLogger{
		logger: l.logger,
		fields: append(append([]Field{}, l.fields...), fields...),
	}
}

func (l *zeroLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithFields(Field{Key: "error", Value: err})
}

// WithIncident tags all subsequent log lines with the incident ID so a
// single incident's workflow can be traced end to end.
func (l *zeroLogger) WithIncident(incidentID string) Logger {
	return l.WithFields(String("incident_id", incidentID))
}

func (l *zeroLogger) Debug(msg string, fields ...Field) { l.emit(l.logger.Debug(), msg, fields) }
func (l *zeroLogger) Info(msg string, fields ...Field)  { l.emit(l.logger.Info(), msg, fields) }
func (l *zeroLogger) Warn(msg string, fields ...Field)  { l.emit(l.logger.Warn(), msg, fields) }
func (l *zeroLogger) Error(msg string, fields ...Field) { l.emit(l.logger.Error(), msg, fields) }

func (l *zeroLogger) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, f := range l.fields {
		event = addField(event, f)
	}
	for _, f := range fields {
		event = addField(event, f)
	}
	event.Msg(msg)
}

func addField(event *zerolog.Event, field Field) *zerolog.Event {
	switch v := field.Value.(type) {
	case string:
		return event.Str(field.Key, v)
	case int:
		return event.Int(field.Key, v)
	case int64:
		return event.Int64(field.Key, v)
	case float64:
		return event.Float64(field.Key, v)
	case bool:
		return event.Bool(field.Key, v)
	case time.Time:
		return event.Time(field.Key, v)
	case time.Duration:
		return event.Dur(field.Key, v)
	case error:
		return event.Err(v)
	default:
		return event.Interface(field.Key, v)
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Field constructors

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}
