/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package utils

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents logging level
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogCallback is called when a log message is generated
type LogCallback func(level LogLevel, message string)

// Logger is a levelled printf logger. Messages go to the callback when one is
// set (the FFI host), otherwise to a zap sink.
type Logger struct {
	mu       sync.RWMutex
	level    LogLevel
	callback LogCallback
	prefix   string
	sink     *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	once          sync.Once

	baseOnce sync.Once
	baseZap  atomic.Pointer[zap.Logger]
)

// base returns the process-wide zap logger used as the default sink.
func base() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableStacktrace = true
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		baseZap.CompareAndSwap(nil, l)
	})
	return baseZap.Load()
}

// SetBaseLogger replaces the zap logger behind every Logger created afterwards.
func SetBaseLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	baseOnce.Do(func() {})
	baseZap.Store(l)
}

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("classroom")
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix
func NewLogger(prefix string) *Logger {
	return &Logger{
		level:  LogLevelInfo,
		prefix: prefix,
		sink:   base().Named(prefix).Sugar(),
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the minimum log level
func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetCallback sets the log callback
func (l *Logger) SetCallback(callback LogCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callback = callback
}

// log is the internal logging function
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.RLock()
	currentLevel := l.level
	callback := l.callback
	prefix := l.prefix
	sink := l.sink
	l.mu.RUnlock()

	if level < currentLevel {
		return
	}

	if callback != nil {
		message := fmt.Sprintf(format, args...)
		callback(level, fmt.Sprintf("[%s] [%s] %s", level.String(), prefix, message))
		return
	}

	switch level {
	case LogLevelDebug:
		sink.Debugf(format, args...)
	case LogLevelInfo:
		sink.Infof(format, args...)
	case LogLevelWarn:
		sink.Warnf(format, args...)
	default:
		sink.Errorf(format, args...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LogLevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LogLevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LogLevelError, format, args...)
}

// Sync flushes the zap sink.
func (l *Logger) Sync() {
	l.mu.RLock()
	sink := l.sink
	l.mu.RUnlock()
	_ = sink.Sync()
}

// Package-level convenience functions

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Info logs an info message using the default logger
func Info(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// SetLevel sets the log level for the default logger
func SetLevel(level LogLevel) {
	GetLogger().SetLevel(level)
}

// SetCallback sets the callback for the default logger
func SetCallback(callback LogCallback) {
	GetLogger().SetCallback(callback)
}
