// Package diag provides the verifier's leveled logger and user-visible
// failure formatter (spec.md §7). Diagnostic printing of decoded objects
// is explicitly an external collaborator concern (spec.md §1); this
// package only covers the logger and the failure report the core itself
// is required to be able to produce.
package diag

import (
	"fmt"
	"io"
	"log"
	"time"
)

// Level is a logging severity, modeled on the teacher's LogLevel.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a component-tagged, level-gated logger wrapping the standard
// library's *log.Logger.
type Logger struct {
	component string
	level     Level
	logger    *log.Logger
}

// New creates a logger for component, writing to w, gated at level.
func New(component string, level Level, w io.Writer) *Logger {
	return &Logger{component: component, level: level, logger: log.New(w, "", 0)}
}

func (l *Logger) shouldLog(level Level) bool {
	return level >= l.level
}

func (l *Logger) formatMessage(level Level, msg string, fields map[string]interface{}) string {
	formatted := fmt.Sprintf("[%s] %s %s: %s", time.Now().Format(time.RFC3339), level, l.component, msg)
	for k, v := range fields {
		formatted += fmt.Sprintf(" %s=%v", k, v)
	}
	return formatted
}

func (l *Logger) log(level Level, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.logger.Println(l.formatMessage(level, msg, fields))
}

// Debug logs at debug level with optional structured fields.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { l.log(LevelDebug, msg, firstOf(fields)) }

// Info logs at info level with optional structured fields.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) { l.log(LevelInfo, msg, firstOf(fields)) }

// Warn logs at warn level with optional structured fields. Used for the
// one operation spec.md §7 allows the core to silently continue past: an
// unknown top-level TLV type seen during pre-scan.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) { l.log(LevelWarn, msg, firstOf(fields)) }

// Error logs at error level with optional structured fields.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { l.log(LevelError, msg, firstOf(fields)) }

func firstOf(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}
