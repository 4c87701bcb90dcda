// Package logger provides structured logging for the cheese economy.
// Every ledger mutation and bonus event should be traceable through this.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger provides structured logging with context.
type Logger struct {
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
}

const flags = log.Ldate | log.Ltime | log.Lshortfile

// NewLogger creates a new logger instance writing info/warn to stdout and errors to stderr.
func NewLogger() *Logger {
	return &Logger{
		infoLogger:  log.New(os.Stdout, "[CHEESE-INFO] ", flags),
		warnLogger:  log.New(os.Stdout, "[CHEESE-WARN] ", flags),
		errorLogger: log.New(os.Stderr, "[CHEESE-ERROR] ", flags),
	}
}

// NewLoggerTo sends every level to w.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{
		infoLogger:  log.New(w, "[CHEESE-INFO] ", flags),
		warnLogger:  log.New(w, "[CHEESE-WARN] ", flags),
		errorLogger: log.New(w, "[CHEESE-ERROR] ", flags),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return NewLoggerTo(io.Discard)
}

// Info logs informational messages.
func (l *Logger) Info(msg string) {
	l.infoLogger.Output(2, msg)
}

// Warn logs warning messages.
func (l *Logger) Warn(msg string) {
	l.warnLogger.Output(2, msg)
}

// Error logs error messages.
func (l *Logger) Error(msg string) {
	l.errorLogger.Output(2, msg)
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.infoLogger.Output(2, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.warnLogger.Output(2, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.errorLogger.Output(2, fmt.Sprintf(format, args...))
}

// Event logs a specific economy event.
func (l *Logger) Event(eventType string, actorID string, details string) {
	l.infoLogger.Output(2, fmt.Sprintf("[EVENT:%s] Actor:%s | %s", eventType, actorID, details))
}
