// Package logging implements the leveled, structured logger used across
// the build and query pipeline. Entries carry a message plus key/value
// fields and are encoded either as JSON lines or as a single
// human-readable line; human-format fields are emitted in sorted key
// order so log output is deterministic.
package logging

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	ckberrors "ckbscip/internal/errors"
)

// LogLevel names a severity threshold.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// severity ranks a level for threshold comparison. An unrecognized level
// ranks as info, so a typo in config never silences the log entirely.
func severity(level LogLevel) int {
	switch level {
	case DebugLevel:
		return 0
	case WarnLevel:
		return 2
	case ErrorLevel:
		return 3
	default:
		return 1
	}
}

// Format selects the output encoding.
type Format string

const (
	JSONFormat  Format = "json"
	HumanFormat Format = "human"
)

// Config configures a Logger. The zero Config logs info and above in
// human format to stdout.
type Config struct {
	Format Format
	Level  LogLevel
	Output io.Writer
}

// Logger writes leveled entries with structured fields to one writer.
type Logger struct {
	format    Format
	threshold int
	out       io.Writer
}

// NewLogger builds a Logger from config.
func NewLogger(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		format:    config.Format,
		threshold: severity(config.Level),
		out:       out,
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.write(DebugLevel, message, fields)
}

// Info logs at info level.
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.write(InfoLevel, message, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.write(WarnLevel, message, fields)
}

// Error logs at error level.
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.write(ErrorLevel, message, fields)
}

// Err logs err at error level. When err is (or wraps) a typed
// *errors.Error, its stable code is surfaced as an error_code field so
// JSON consumers can filter without parsing message text.
func (l *Logger) Err(message string, err error, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	merged["error"] = err.Error()
	var typed *ckberrors.Error
	if stderrors.As(err, &typed) {
		merged["error_code"] = string(typed.Code)
	}
	l.write(ErrorLevel, message, merged)
}

func (l *Logger) write(level LogLevel, message string, fields map[string]interface{}) {
	if severity(level) < l.threshold {
		return
	}
	timestamp := time.Now().UTC().Format(time.RFC3339)

	if l.format == JSONFormat {
		data, err := json.Marshal(struct {
			Timestamp string                 `json:"timestamp"`
			Level     string                 `json:"level"`
			Message   string                 `json:"message"`
			Fields    map[string]interface{} `json:"fields,omitempty"`
		}{timestamp, string(level), message, fields})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode log entry: %v\n", err)
			return
		}
		fmt.Fprintln(l.out, string(data))
		return
	}

	var b strings.Builder
	b.WriteString(timestamp)
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(message)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	fmt.Fprintln(l.out, b.String())
}
