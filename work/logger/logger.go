package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// LogLevel is the severity threshold for emitted messages.
type LogLevel int

// Severity levels, lowest to highest.
const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger instance. It writes through the stdlib log
// package so output formatting and destination stay configurable in one
// place; the only thing this type adds is level filtering.
type Logger struct {
	level LogLevel
	mu    sync.RWMutex
}

// New creates a Logger with the given level name ("debug", "info", "warn",
// "error"; unknown names fall back to info).
func New(level string) *Logger {
	return &Logger{level: ParseLogLevel(level)}
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{level: INFO}
	})
	return defaultLogger
}

// ParseLogLevel converts a level name to a LogLevel.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the package-level default logger's threshold.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// SetLevel changes this logger's threshold.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

// GetLevel reports this logger's threshold as a string.
func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func logMessage(level string, format string, v ...interface{}) {
	log.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.shouldLog(DEBUG) {
		logMessage("DEBUG", format, v...)
	}
}

// Info logs at info level.
func (l *Logger) Info(format string, v ...interface{}) {
	if l.shouldLog(INFO) {
		logMessage("INFO", format, v...)
	}
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.shouldLog(WARN) {
		logMessage("WARN", format, v...)
	}
}

// Error logs at error level.
func (l *Logger) Error(format string, v ...interface{}) {
	if l.shouldLog(ERROR) {
		logMessage("ERROR", format, v...)
	}
}

// Package-level shortcuts that write through the default logger.

// Debug logs at debug level on the default logger.
func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }

// Info logs at info level on the default logger.
func Info(format string, v ...interface{}) { getDefaultLogger().Info(format, v...) }

// Warn logs at warn level on the default logger.
func Warn(format string, v ...interface{}) { getDefaultLogger().Warn(format, v...) }

// Error logs at error level on the default logger.
func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
