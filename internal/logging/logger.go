// Package logging provides structured logging for the sync engine.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Logger provides structured JSON logging on top of zap.
type Logger struct {
	zl       *zap.Logger
	minLevel LogLevel
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
	mu     sync.RWMutex
)

// New builds a Logger writing JSON lines to out.
func New(out io.Writer, minLevel LogLevel) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.LevelKey = "level"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(out),
		zap.NewAtomicLevelAt(toZapLevel(minLevel)),
	)

	return &Logger{zl: zap.New(core), minLevel: minLevel}
}

// FromZap wraps an existing zap logger. Used by tests with zaptest/observer.
func FromZap(zl *zap.Logger) *Logger {
	return &Logger{zl: zl, minLevel: LevelDebug}
}

// Init initializes the global logger. Only the first call has effect.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if global == nil {
			global = New(out, minLevel)
		}
	})
}

// Get returns the global logger instance.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	Init(os.Stdout, LevelInfo)

	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Replace swaps the global logger and returns a func restoring the previous one.
func Replace(l *Logger) (restore func()) {
	mu.Lock()
	prev := global
	global = l
	mu.Unlock()

	return func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLevel(s string) LogLevel {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.Named(name), minLevel: l.minLevel}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.zl.Debug(message, fields(nil, context...)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.zl.Info(message, fields(nil, context...)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.zl.Warn(message, fields(nil, context...)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	var head []zap.Field
	if err != nil {
		head = append(head, zap.Error(err))
	}
	l.zl.Error(message, fields(head, context...)...)
}

// ErrorWithCode logs an error message tagged with an error code.
func (l *Logger) ErrorWithCode(message string, code string, err error, context ...map[string]interface{}) {
	head := []zap.Field{zap.String("code", code)}
	if err != nil {
		head = append(head, zap.Error(err))
	}
	l.zl.Error(message, fields(head, context...)...)
}

// fields merges context maps into zap fields nested under "context".
// Keys are sorted so output is stable.
func fields(head []zap.Field, context ...map[string]interface{}) []zap.Field {
	merged := mergeContext(context...)
	if len(merged) == 0 {
		return head
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(head)+len(keys)+1)
	out = append(out, head...)
	out = append(out, zap.Namespace("context"))
	for _, k := range keys {
		out = append(out, zap.Any(k, merged[k]))
	}
	return out
}

func mergeContext(context ...map[string]interface{}) map[string]interface{} {
	if len(context) == 0 {
		return nil
	}
	if len(context) == 1 {
		return context[0]
	}
	merged := make(map[string]interface{})
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message string, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
