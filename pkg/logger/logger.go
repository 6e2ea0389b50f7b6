// Package logger provides the GORM-style logging interface used across commshub.
// Components accept a Logger and never write to stdout directly, so callers can
// plug in the standard logger, zerolog, or Discard.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// Silent suppresses all log output.
	Silent LogLevel = iota + 1
	// Error only logs error messages.
	Error
	// Warn logs warnings and errors.
	Warn
	// Info logs informational messages, warnings, and errors.
	Info
	// Debug logs all messages including debug information.
	Debug
)

// String returns the lower-case name of the level.
func (l LogLevel) String() string {
	switch l {
	case Silent:
		return "silent"
	case Error:
		return "error"
	case Warn:
		return "warn"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name into a LogLevel. Unknown names fall back to Warn.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent", "off":
		return Silent
	case "error":
		return Error
	case "info":
		return Info
	case "debug":
		return Debug
	default:
		return Warn
	}
}

// Logger is the interface that wraps the basic logging methods.
// Arguments after msg are alternating key/value pairs.
type Logger interface {
	// LogMode sets the log level and returns a new logger instance.
	LogMode(level LogLevel) Logger
	// Info logs an informational message with structured key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning message with structured key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error message with structured key-value pairs.
	Error(msg string, args ...any)
	// Debug logs a debug message with structured key-value pairs.
	Debug(msg string, args ...any)
}

// StandardLogger is the default implementation of the Logger interface, using the standard log package.
type StandardLogger struct {
	logger *log.Logger
	level  LogLevel
	prefix string
}

// NewStandardLogger creates a new logger with the given writer and configuration.
func NewStandardLogger(writer *log.Logger, level LogLevel, prefix string) Logger {
	return &StandardLogger{
		logger: writer,
		level:  level,
		prefix: prefix,
	}
}

// LogMode sets the log level and returns a new logger instance.
func (l *StandardLogger) LogMode(level LogLevel) Logger {
	newLogger := *l
	newLogger.level = level
	return &newLogger
}

// Info logs an informational message.
func (l *StandardLogger) Info(msg string, args ...any) {
	if l.level >= Info {
		l.logger.Print(l.formatLog("INFO", msg, args...))
	}
}

// Warn logs a warning message.
func (l *StandardLogger) Warn(msg string, args ...any) {
	if l.level >= Warn {
		l.logger.Print(l.formatLog("WARN", msg, args...))
	}
}

// Error logs an error message.
func (l *StandardLogger) Error(msg string, args ...any) {
	if l.level >= Error {
		l.logger.Print(l.formatLog("ERROR", msg, args...))
	}
}

// Debug logs a debug message.
func (l *StandardLogger) Debug(msg string, args ...any) {
	if l.level >= Debug {
		l.logger.Print(l.formatLog("DEBUG", msg, args...))
	}
}

func (l *StandardLogger) formatLog(level, msg string, args ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", l.prefix, level, msg)
	for i := 0; i < len(args); i += 2 {
		var val any = "(no value)"
		if i+1 < len(args) {
			val = args[i+1]
		}
		fmt.Fprintf(&b, " %v=%v", args[i], val)
	}
	return b.String()
}

type discardLogger struct{}

func (d *discardLogger) LogMode(LogLevel) Logger { return d }
func (d *discardLogger) Info(string, ...any)     {}
func (d *discardLogger) Warn(string, ...any)     {}
func (d *discardLogger) Error(string, ...any)    {}
func (d *discardLogger) Debug(string, ...any)    {}

// Discard is a logger that discards all output.
var Discard Logger = &discardLogger{}

// New returns a default logger that writes to stdout at Warn level.
func New() Logger {
	return NewStandardLogger(log.New(os.Stdout, "", log.LstdFlags), Warn, "[commshub]")
}

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard
	}
	return l
}
