package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Logger interface defines the logging methods
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	// With returns a child logger that adds the given key/value pairs to every event.
	With(fields ...interface{}) Logger
}

type loggerImpl struct {
	zl zerolog.Logger
}

// New creates a logger writing to every non-nil writer. With no usable
// writer it writes to stdout.
func New(writers ...io.Writer) Logger {
	var out []io.Writer
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		out = append(out, os.Stdout)
	}

	zl := zerolog.New(io.MultiWriter(out...)).With().Timestamp().Logger().Level(level())
	return &loggerImpl{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &loggerImpl{zl: zerolog.Nop()}
}

// ConsoleWriter returns a console writer
func ConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

// FileWriter returns a file writer with rotation. An empty path disables
// file output.
func FileWriter(path string) io.Writer {
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func (l *loggerImpl) Info(msg string, fields ...interface{}) {
	logWithFields(l.zl.Info(), msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...interface{}) {
	logWithFields(l.zl.Warn(), msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...interface{}) {
	logWithFields(l.zl.Error(), msg, fields...)
}

func (l *loggerImpl) Debug(msg string, fields ...interface{}) {
	logWithFields(l.zl.Debug(), msg, fields...)
}

// Fatal logs a fatal message and exits
func (l *loggerImpl) Fatal(msg string, fields ...interface{}) {
	logWithFields(l.zl.Fatal(), msg, fields...)
}

func (l *loggerImpl) With(fields ...interface{}) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &loggerImpl{zl: ctx.Logger()}
}

var (
	levelMu  sync.RWMutex
	minLevel = zerolog.InfoLevel
	initOnce sync.Once
)

func level() zerolog.Level {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return minLevel
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level           zerolog.Level
	Console         bool
	FilePath        string
	TimeFieldFormat string
}

// InitLogger applies cfg once and returns a logger built from it. Later
// calls return a fresh logger without touching the process-wide settings.
func InitLogger(cfg LoggerConfig) Logger {
	initOnce.Do(func() {
		levelMu.Lock()
		minLevel = cfg.Level
		levelMu.Unlock()
		if cfg.TimeFieldFormat != "" {
			zerolog.TimeFieldFormat = cfg.TimeFieldFormat
		}
	})

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, ConsoleWriter())
	}
	writers = append(writers, FileWriter(cfg.FilePath))
	return New(writers...)
}

// ParseLogLevel maps a level name to a zerolog level, defaulting to info.
func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// logWithFields adds structured fields to the event
func logWithFields(event *zerolog.Event, msg string, fields ...interface{}) {
	if len(fields) == 1 {
		if m, ok := fields[0].(map[string]interface{}); ok {
			event.Fields(m).Msg(msg)
			return
		}
	}
	// fallback: treat as key-value pairs
	if len(fields)%2 == 0 {
		for i := 0; i < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			if key == "error" {
				if err, ok := fields[i+1].(error); ok && err != nil {
					event = event.Err(err)
					continue
				}
			}
			event = event.Interface(key, fields[i+1])
		}
	}
	event.Msg(msg)
}

// DefaultLoggerConfig returns the settings used when nothing is configured.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:           zerolog.InfoLevel,
		Console:         true,
		FilePath:        "tubetrace.log",
		TimeFieldFormat: time.RFC3339,
	}
}
