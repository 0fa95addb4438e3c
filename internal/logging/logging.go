// Package logging provides categorized file-based logging for bookforge.
// Each subsystem writes to its own log file under <ops>/logs/, encoded as
// JSON for downstream analysis. Logging is disabled entirely unless debug
// mode is enabled, in which case every category logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and configuration
	CategoryPipeline Category = "pipeline" // Stage orchestration
	CategoryCache    Category = "cache"    // Shared context cache
	CategoryLLM      Category = "llm"      // LLM API calls, retries, breaker
	CategoryVersions Category = "versions" // Version store operations
	CategoryReport   Category = "report"   // Performance reporting
)

// Logger wraps a zap sugared logger with printf-style methods so call
// sites read the same across the codebase.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	loggers  = make(map[Category]*Logger)
	logsDir  string
	debugOn  bool
	initOnce bool
	nop      = &Logger{sugar: zap.NewNop().Sugar()}
)

// Initialize sets up the logging directory. Should be called once at
// startup with the ops directory. When debug is false every logger is a
// silent no-op and no files are created.
func Initialize(opsDir string, debug bool) error {
	if opsDir == "" {
		return fmt.Errorf("ops directory required")
	}

	mu.Lock()
	defer mu.Unlock()

	logsDir = filepath.Join(opsDir, "logs")
	debugOn = debug
	initOnce = true
	loggers = make(map[Category]*Logger)

	if !debugOn {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	mu.RLock()
	if !initOnce || !debugOn {
		mu.RUnlock()
		return nop
	}
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}

	l, err := newFileLogger(cat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] failed to open %s log: %v\n", cat, err)
		l = nop
	}
	loggers[cat] = l
	return l
}

func newFileLogger(cat Category) (*Logger, error) {
	path := filepath.Join(logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(f),
		zapcore.DebugLevel,
	)
	z := zap.New(core).Named(string(cat))
	return &Logger{sugar: z.Sugar()}, nil
}

// Debug logs at debug level with printf formatting.
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs at info level with printf formatting.
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs at warn level with printf formatting.
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs at error level with printf formatting.
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync flushes all open category loggers.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
}

// Convenience helpers so hot paths stay terse.

func Pipeline(format string, args ...interface{})      { Get(CategoryPipeline).Info(format, args...) }
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }
func Cache(format string, args ...interface{})         { Get(CategoryCache).Info(format, args...) }
func CacheDebug(format string, args ...interface{})    { Get(CategoryCache).Debug(format, args...) }
func LLM(format string, args ...interface{})           { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{})      { Get(CategoryLLM).Debug(format, args...) }
func Versions(format string, args ...interface{})      { Get(CategoryVersions).Info(format, args...) }
func VersionsDebug(format string, args ...interface{}) { Get(CategoryVersions).Debug(format, args...) }

// Timer measures the duration of an operation and logs it on stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing an operation.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Get(t.cat).Debug("%s took %v", t.op, time.Since(t.start))
}

// StopWithInfo logs the elapsed time at info level.
func (t *Timer) StopWithInfo() {
	Get(t.cat).Info("%s took %v", t.op, time.Since(t.start))
}
