/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * pion/logging adapter
 * 让 pion 内部日志 (ice, dtls, sctp ...) 走同一个日志出口
 */
package utils

import (
	"github.com/pion/logging"
)

// LoggerFactory implements logging.LoggerFactory on top of Logger.
type LoggerFactory struct {
	// MinLevel filters pion's own chatter independently of the parent level.
	MinLevel LogLevel
}

// NewLoggerFactory returns a factory that only forwards warnings and errors.
func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{MinLevel: LogLevelWarn}
}

// NewLogger implements logging.LoggerFactory
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := NewLogger("pion-" + scope)
	l.SetCallback(GetLogger().callbackSnapshot())
	l.SetLevel(f.MinLevel)
	return &pionLogger{l: l}
}

func (l *Logger) callbackSnapshot() LogCallback {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.callback
}

type pionLogger struct {
	l *Logger
}

func (p *pionLogger) Trace(msg string)                          { p.l.Debug("%s", msg) }
func (p *pionLogger) Tracef(format string, args ...interface{}) { p.l.Debug(format, args...) }
func (p *pionLogger) Debug(msg string)                          { p.l.Debug("%s", msg) }
func (p *pionLogger) Debugf(format string, args ...interface{}) { p.l.Debug(format, args...) }
func (p *pionLogger) Info(msg string)                           { p.l.Info("%s", msg) }
func (p *pionLogger) Infof(format string, args ...interface{})  { p.l.Info(format, args...) }
func (p *pionLogger) Warn(msg string)                           { p.l.Warn("%s", msg) }
func (p *pionLogger) Warnf(format string, args ...interface{})  { p.l.Warn(format, args...) }
func (p *pionLogger) Error(msg string)                          { p.l.Error("%s", msg) }
func (p *pionLogger) Errorf(format string, args ...interface{}) { p.l.Error(format, args...) }
