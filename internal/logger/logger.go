package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

var (
	Logger          *slog.Logger
	errorSampleRate int32 = 100 // Log 1 out of every 100 errors by default (configurable via ERROR_SAMPLE_RATE)
	programLevel          = new(slog.LevelVar)
)

// Counters for the metrics endpoint (incremented regardless of sampling)
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total400Errors atomic.Int64
	Total404Errors atomic.Int64
	Total422Errors atomic.Int64
	SlowRequests   atomic.Int64

	ClassifierFailures   atomic.Int64
	SettingsSyncFailures atomic.Int64
	AutomationActions    atomic.Int64
)

func init() {
	programLevel.Set(slog.LevelInfo)

	// Get log level from environment variable (default: INFO)
	levelStr := os.Getenv("LOG_LEVEL")
	if levelStr == "" {
		levelStr = "INFO"
	}

	level, err := ParseLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}
	programLevel.Set(level)

	// ERROR_SAMPLE_RATE=1 logs every error/warning, 100 logs 1%
	if sampleStr := os.Getenv("ERROR_SAMPLE_RATE"); sampleStr != "" {
		if rate, err := strconv.Atoi(sampleStr); err == nil && rate > 0 {
			atomic.StoreInt32(&errorSampleRate, int32(rate))
		}
	}

	setupJSONLogging(os.Stdout)
}

// setupJSONLogging configures JSON logging to w
func setupJSONLogging(w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: programLevel,
	}

	handler := slog.NewJSONHandler(w, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	setupJSONLogging(w)
}

// SetLevel sets the minimum log level for the logger
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// SetSampleRate changes how many errors/warnings are dropped per one logged
func SetSampleRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	atomic.StoreInt32(&errorSampleRate, int32(rate))
}

// ParseLevel converts a string level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// shouldSample returns true if we should log this message
func shouldSample() bool {
	rate := atomic.LoadInt32(&errorSampleRate)
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// ============================================================================
// Logging Functions
// ============================================================================

// Debug logs a debug-level message (never sampled)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message (never sampled)
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning-level message WITH SAMPLING.
// The counter is always incremented, only log output is sampled.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs an error-level message WITH SAMPLING.
// The counter is always incremented, only log output is sampled.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs a fatal-level message and exits (never sampled)
func Fatal(msg string, args ...any) {
	slog.Log(context.Background(), LevelFatal, msg, args...)
	os.Exit(1)
}

// ============================================================================
// HTTP-Specific Helpers
// ============================================================================

// ErrorHttp5xx increments the 5xx counters
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx increments the 4xx counters
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	case 422:
		Total422Errors.Add(1)
	}
}

// WarnSlowRequest increments the slow request counter
func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

// ============================================================================
// Domain Helpers
// ============================================================================

// ErrorClassifier records a failed or unparseable classifier call
func ErrorClassifier(msg string, args ...any) {
	ClassifierFailures.Add(1)
	Warn(msg, args...)
}

// settingsSyncByTarget holds one *atomic.Int64 per failed table name.
var settingsSyncByTarget sync.Map

// ErrorSettingsSync records a failed settings write. target names the table
// that failed so shadow-table failures can be told apart from primary ones.
// Sync failures are never sampled.
func ErrorSettingsSync(target string, err error, args ...any) {
	SettingsSyncFailures.Add(1)
	TotalErrors.Add(1)
	c, _ := settingsSyncByTarget.LoadOrStore(target, new(atomic.Int64))
	c.(*atomic.Int64).Add(1)

	Logger.Error("automation settings sync failed", append([]any{"target", target, "error", err}, args...)...)
}

// SettingsSyncFailuresFor returns the failure count for one target table
func SettingsSyncFailuresFor(target string) int64 {
	c, ok := settingsSyncByTarget.Load(target)
	if !ok {
		return 0
	}
	return c.(*atomic.Int64).Load()
}

// Snapshot returns the current counter values keyed by metric name
func Snapshot() map[string]int64 {
	m := map[string]int64{
		"errors_total":                 TotalErrors.Load(),
		"warnings_total":               TotalWarnings.Load(),
		"http_5xx_total":               Total5xxErrors.Load(),
		"http_4xx_total":               Total4xxErrors.Load(),
		"http_400_total":               Total400Errors.Load(),
		"http_404_total":               Total404Errors.Load(),
		"http_422_total":               Total422Errors.Load(),
		"slow_requests_total":          SlowRequests.Load(),
		"classifier_failures_total":    ClassifierFailures.Load(),
		"settings_sync_failures_total": SettingsSyncFailures.Load(),
		"automation_actions_total":     AutomationActions.Load(),
	}
	settingsSyncByTarget.Range(func(k, v any) bool {
		m[fmt.Sprintf("settings_sync_failures_total{target=%q}", k)] = v.(*atomic.Int64).Load()
		return true
	})
	return m
}
