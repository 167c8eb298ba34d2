// Package logging provides structured logging for hypertune.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in
	// production.
	DebugLevel LogLevel = "DEBUG"
	// InfoLevel is the default logging priority.
	InfoLevel LogLevel = "INFO"
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel LogLevel = "WARN"
	// ErrorLevel logs are high-priority. If a study is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel LogLevel = "ERROR"
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel LogLevel = "FATAL"
)

var levelRank = map[LogLevel]int{
	DebugLevel: 0,
	InfoLevel:  1,
	WarnLevel:  2,
	ErrorLevel: 3,
	FatalLevel: 4,
}

// Format selects how entries are rendered.
type Format string

const (
	// JSONFormat writes one JSON object per line.
	JSONFormat Format = "json"
	// TextFormat writes "time LEVEL [name] message key=value ..." lines.
	TextFormat Format = "text"
)

// sink serializes writes of loggers derived from the same root.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// Logger represents an active logging object.
type Logger struct {
	level  LogLevel
	format Format
	name   string
	sink   *sink
	fields map[string]interface{}
	exit   func(int)
}

// New creates a new JSON Logger with the specified log level and output.
func New(level LogLevel, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		format: JSONFormat,
		sink:   &sink{out: output},
		fields: make(map[string]interface{}),
		exit:   os.Exit,
	}
}

// WithFormat returns a copy of the logger rendering entries in format.
func (l *Logger) WithFormat(format Format) *Logger {
	c := l.clone(nil)
	c.format = format
	return c
}

// Level returns the minimum level that is written.
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) clone(extra map[string]interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+len(extra))
	for k, v := range l.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return &Logger{
		level:  l.level,
		format: l.format,
		name:   l.name,
		sink:   l.sink,
		fields: fields,
		exit:   l.exit,
	}
}

// WithFields returns a new Logger with the specified fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.clone(fields)
}

// WithField returns a new Logger with the specified key-value pair.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a new Logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Named returns a logger whose entries carry a dotted component name.
func (l *Logger) Named(name string) *Logger {
	c := l.clone(nil)
	if c.name == "" {
		c.name = name
	} else {
		c.name = c.name + "." + name
	}
	return c
}

// log writes a log entry with the given level and message.
func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}, skip int) {
	if !l.shouldLog(level) {
		return
	}

	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "???"
		line = 0
	} else {
		// Only keep the last two parts of the file path
		parts := strings.Split(file, "/")
		if len(parts) > 2 {
			file = strings.Join(parts[len(parts)-2:], "/")
		}
	}

	entry := make(map[string]interface{}, len(l.fields)+len(fields)+5)
	for k, v := range l.fields {
		entry[k] = sanitize(v)
	}
	for k, v := range fields {
		entry[k] = sanitize(v)
	}

	var data []byte
	if l.format == TextFormat {
		data = l.renderText(level, msg, fmt.Sprintf("%s:%d", file, line), entry)
	} else {
		entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
		entry["level"] = level
		entry["message"] = msg
		if _, set := entry["caller"]; !set {
			entry["caller"] = fmt.Sprintf("%s:%d", file, line)
		}
		if l.name != "" {
			entry["logger"] = l.name
		}

		var err error
		data, err = json.Marshal(entry)
		if err != nil {
			// Fallback to simple log if JSON encoding fails
			data = []byte(fmt.Sprintf("%s [%s] %s: %+v",
				time.Now().Format(time.RFC3339), level, msg, entry))
		}
		data = append(data, '\n')
	}

	l.sink.mu.Lock()
	_, _ = l.sink.out.Write(data)
	l.sink.mu.Unlock()

	if level == FatalLevel {
		l.exit(1)
	}
}

func (l *Logger) renderText(level LogLevel, msg, caller string, fields map[string]interface{}) []byte {
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(string(level))
	if l.name != "" {
		fmt.Fprintf(&b, " [%s]", l.name)
	}
	b.WriteByte(' ')
	b.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	if _, set := fields["caller"]; !set {
		fmt.Fprintf(&b, " caller=%s", caller)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// sanitize replaces values encoding/json rejects.
func sanitize(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return fmt.Sprint(x)
		}
	case float32:
		if math.IsInf(float64(x), 0) || math.IsNaN(float64(x)) {
			return fmt.Sprint(x)
		}
	case error:
		return x.Error()
	case time.Duration:
		return x.String()
	}
	return v
}

// shouldLog returns true if the given level should be logged.
func (l *Logger) shouldLog(level LogLevel) bool {
	rank, exists := levelRank[level]
	if !exists {
		return false
	}
	current, exists := levelRank[l.level]
	if !exists {
		return false
	}
	return rank >= current
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DebugLevel, msg, firstFields(fields), 2)
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(InfoLevel, msg, firstFields(fields), 2)
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WarnLevel, msg, firstFields(fields), 2)
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, msg, firstFields(fields), 2)
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FatalLevel, msg, firstFields(fields), 2)
}

// CtxLogger is a logger that can be used with context.
type CtxLogger struct {
	*Logger
}

// FromContext returns a logger from the context or a new one if none exists.
func FromContext(ctx context.Context) *CtxLogger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*CtxLogger); ok {
		return logger
	}
	return &CtxLogger{New(InfoLevel, os.Stderr)}
}

// WithContext returns a new context with the logger.
func (l *CtxLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

type ctxLoggerKey struct{}
