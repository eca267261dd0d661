package logger

import (
	"fmt"
	"log"
	"os"
)

// Logger wraps the standard logger with a service prefix and key=value
// context pairs. Persistence and gateway errors are logged here with
// subscription/payment ids so operators can trace them; user-facing
// responses stay generic.
type Logger struct {
	logger *log.Logger
}

// New creates a logger for a service.
func New(service string) *Logger {
	return &Logger{
		logger: log.New(os.Stdout, "["+service+"] ", log.LstdFlags),
	}
}

// Info logs an info message.
func (l *Logger) Info(message string, keyvals ...interface{}) {
	l.logger.Printf("INFO: %s%s", message, formatKeyVals(keyvals...))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, keyvals ...interface{}) {
	l.logger.Printf("WARN: %s%s", message, formatKeyVals(keyvals...))
}

// Error logs an error message.
func (l *Logger) Error(message string, keyvals ...interface{}) {
	l.logger.Printf("ERROR: %s%s", message, formatKeyVals(keyvals...))
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(message string, keyvals ...interface{}) {
	l.logger.Printf("FATAL: %s%s", message, formatKeyVals(keyvals...))
	os.Exit(1)
}

func formatKeyVals(keyvals ...interface{}) string {
	if len(keyvals) == 0 {
		return ""
	}
	result := ""
	for i := 0; i+1 < len(keyvals); i += 2 {
		result += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	return result
}
