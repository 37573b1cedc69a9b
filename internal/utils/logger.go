package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

// defaultLevel is used by loggers created without an explicit level.
var defaultLevel atomic.Int64

func init() {
	defaultLevel.Store(int64(Info))
}

// ParseLogLevel maps debug|info|warn|error to a level, falling back to Info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

// SetDefaultLogLevel changes the level picked up by subsequent NewLogger calls.
func SetDefaultLogLevel(level LogLevel) {
	defaultLevel.Store(int64(level))
}

// Logger provides structured logging with context
type Logger struct {
	prefix        string
	logger        *log.Logger
	logLevel      LogLevel
	logLevelMutex sync.Mutex
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	logLevelValue := LogLevel(defaultLevel.Load())
	if len(logLevel) > 0 {
		logLevelValue = logLevel[0]
	}
	return &Logger{
		prefix:   prefix,
		logger:   log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		logLevel: logLevelValue,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	l.logLevel = logLevel
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(Info, "INFO", msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(Error, "ERROR", msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(Warning, "WARN", msg, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(Debug, "DEBUG", msg, keyvals...)
}

// With returns a child logger that prepends the given pairs to every line.
func (l *Logger) With(keyvals ...interface{}) *ContextLogger {
	return &ContextLogger{parent: l, keyvals: keyvals}
}

func (l *Logger) log(level LogLevel, tag, msg string, keyvals ...interface{}) {
	l.logLevelMutex.Lock()
	defer l.logLevelMutex.Unlock()
	if l.logLevel > level {
		return
	}
	l.logger.Println(l.formatMessage(tag, msg, keyvals...))
}

// formatMessage formats a message with key-value pairs
func (l *Logger) formatMessage(level, msg string, keyvals ...interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			fmt.Fprintf(&b, " %v=%v", keyvals[i], keyvals[i+1])
		}
	}
	return b.String()
}

// ContextLogger carries request scoped key/value pairs.
type ContextLogger struct {
	parent  *Logger
	keyvals []interface{}
}

func (c *ContextLogger) merge(keyvals []interface{}) []interface{} {
	out := make([]interface{}, 0, len(c.keyvals)+len(keyvals))
	out = append(out, c.keyvals...)
	return append(out, keyvals...)
}

func (c *ContextLogger) Info(msg string, keyvals ...interface{}) {
	c.parent.Info(msg, c.merge(keyvals)...)
}

func (c *ContextLogger) Error(msg string, keyvals ...interface{}) {
	c.parent.Error(msg, c.merge(keyvals)...)
}

func (c *ContextLogger) Warn(msg string, keyvals ...interface{}) {
	c.parent.Warn(msg, c.merge(keyvals)...)
}

func (c *ContextLogger) Debug(msg string, keyvals ...interface{}) {
	c.parent.Debug(msg, c.merge(keyvals)...)
}
