// Package logging provides categorized file-based logging for volition.
// Logs are written to <state-dir>/logs/ with separate files per category.
// When debug mode is off, every logger is a silent no-op.
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
	CategoryBoot        Category = "boot"        // Startup and shutdown
	CategoryWants       Category = "wants"       // Want lifecycle events
	CategoryPersonality Category = "personality" // Personality evolution
	CategoryIntegration Category = "integration" // Goal amplification, task selection
	CategoryQueue       Category = "queue"       // Spontaneous message queue
	CategoryStore       Category = "store"       // Snapshot persistence
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	stateMu   sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
)

// Initialize sets up the logging directory. Should be called once at
// startup with the engine state directory. When debug is false this is a
// silent no-op and every subsequent Get returns a no-op logger.
func Initialize(stateDir string, debug bool, level string) error {
	if stateDir == "" {
		return fmt.Errorf("state dir required")
	}

	stateMu.Lock()
	debugMode = debug
	logsDir = filepath.Join(stateDir, "logs")
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info", "":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	dir := logsDir
	stateMu.Unlock()

	if !debug {
		return nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== volition logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled.
func Get(category Category) *Logger {
	stateMu.RLock()
	enabled := debugMode
	dir := logsDir
	stateMu.RUnlock()

	if !enabled || dir == "" {
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

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
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

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

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

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Wants logs to the wants category.
func Wants(format string, args ...interface{}) {
	Get(CategoryWants).Info(format, args...)
}

// WantsDebug logs debug to the wants category.
func WantsDebug(format string, args ...interface{}) {
	Get(CategoryWants).Debug(format, args...)
}

// Personality logs to the personality category.
func Personality(format string, args ...interface{}) {
	Get(CategoryPersonality).Info(format, args...)
}

// Integration logs to the integration category.
func Integration(format string, args ...interface{}) {
	Get(CategoryIntegration).Info(format, args...)
}

// IntegrationDebug logs debug to the integration category.
func IntegrationDebug(format string, args ...interface{}) {
	Get(CategoryIntegration).Debug(format, args...)
}

// Queue logs to the queue category.
func Queue(format string, args ...interface{}) {
	Get(CategoryQueue).Info(format, args...)
}

// QueueDebug logs debug to the queue category.
func QueueDebug(format string, args ...interface{}) {
	Get(CategoryQueue).Debug(format, args...)
}

// QueueWarn logs warning to the queue category.
func QueueWarn(format string, args ...interface{}) {
	Get(CategoryQueue).Warn(format, args...)
}

// Store logs to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreError logs error to the store category.
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}
