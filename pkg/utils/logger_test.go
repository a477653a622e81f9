/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package utils

import (
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerLevelFilter(t *testing.T) {
	l := NewLogger("test")

	var mu sync.Mutex
	var got []string
	l.SetCallback(func(level LogLevel, message string) {
		mu.Lock()
		got = append(got, message)
		mu.Unlock()
	})
	l.SetLevel(LogLevelWarn)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Warn("warn %d", 3)
	l.Error("error %d", 4)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "[WARN] [test] warn 3") {
		t.Errorf("Unexpected message: %s", got[0])
	}
	if !strings.Contains(got[1], "[ERROR]") {
		t.Errorf("Unexpected message: %s", got[1])
	}
}

func TestLoggerZapSink(t *testing.T) {
	l := NewLogger("zap-sink")
	l.SetLevel(LogLevelDebug)

	// 没有回调时走 zap，不应 panic
	l.Debug("hello %s", "zap")
	l.Info("hello")
	l.Sync()
}

func TestSetBaseLoggerConcurrent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := base()
	defer SetBaseLogger(prev)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetBaseLogger(zap.New(core))
		}()
		go func() {
			defer wg.Done()
			NewLogger("race").Sync()
		}()
	}
	wg.Wait()

	l := NewLogger("observed")
	l.SetLevel(LogLevelDebug)
	l.Info("after swap")
	if logs.FilterMessage("after swap").Len() != 1 {
		t.Errorf("New loggers should write to the replaced base, got %d entries", logs.Len())
	}

	SetBaseLogger(nil)
	NewLogger("nop").Info("dropped")
}

func TestLogLevelString(t *testing.T) {
	cases := map[LogLevel]string{
		LogLevelDebug: "DEBUG",
		LogLevelInfo:  "INFO",
		LogLevelWarn:  "WARN",
		LogLevelError: "ERROR",
		LogLevel(42):  "UNKNOWN",
	}
	for level, want := range cases {
		if level.String() != want {
			t.Errorf("Expected %s, got %s", want, level.String())
		}
	}
}

func TestPionLoggerFactory(t *testing.T) {
	f := NewLoggerFactory()
	pl := f.NewLogger("ice")

	// Below MinLevel, dropped silently
	pl.Debugf("candidate %s", "host")
	pl.Trace("trace")
	pl.Warnf("warn %d", 1)
	pl.Error("boom")
}
