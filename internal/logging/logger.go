// Package logging provides categorized file-based debug logging for
// icplookup. Logs are written to <data-dir>/logs/ with one file per
// category per day. When debug mode is off every call is a silent no-op,
// so library code can log freely without a verbosity check at each site.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config, model loading
	CategoryProtocol Category = "protocol" // Auth/challenge/verify/query exchanges
	CategoryCaptcha  Category = "captcha"  // Detection, scoring, matching
	CategoryStore    Category = "store"    // Result cache operations
	CategoryModels   Category = "models"   // Model files and inference sessions
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	configMu sync.RWMutex
	logsDir  string
	enabled  bool
	logLevel = LevelInfo
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

// Initialize sets up the logging directory. Should be called once at
// startup; debug=false leaves logging disabled (production mode).
func Initialize(dataDir string, debug bool, level string) error {
	configMu.Lock()
	enabled = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	logsDir = filepath.Join(dataDir, "logs")
	configMu.Unlock()

	if !debug {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	Get(CategoryBoot).Info("logging initialized dir=%s level=%s", logsDir, level)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger when debug mode is disabled.
func Get(category Category) *Logger {
	if !IsDebugMode() {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	filename := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	file, err := os.OpenFile(filepath.Join(logsDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file: %v\n", err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// Convenience functions for quick logging without fetching a logger first.

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }
func BootError(format string, args ...interface{}) {
	Get(CategoryBoot).Error(format, args...)
}

func Protocol(format string, args ...interface{}) { Get(CategoryProtocol).Info(format, args...) }
func ProtocolDebug(format string, args ...interface{}) {
	Get(CategoryProtocol).Debug(format, args...)
}
func ProtocolError(format string, args ...interface{}) {
	Get(CategoryProtocol).Error(format, args...)
}

func Captcha(format string, args ...interface{}) { Get(CategoryCaptcha).Info(format, args...) }
func CaptchaDebug(format string, args ...interface{}) {
	Get(CategoryCaptcha).Debug(format, args...)
}

func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

func Models(format string, args ...interface{}) { Get(CategoryModels).Info(format, args...) }
func ModelsDebug(format string, args ...interface{}) {
	Get(CategoryModels).Debug(format, args...)
}
