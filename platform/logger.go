package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// StdLogger is the production Logger implementation: JSON lines when running
// under Kubernetes (detected via KUBERNETES_SERVICE_HOST), human-readable
// text otherwise. Component-aware so each subsystem's log lines can be
// filtered independently.
type StdLogger struct {
	component string
	format    string // "json" or "text"
	level     string
	output    io.Writer
	mu        sync.Mutex
}

// NewStdLogger builds a logger for the given component, auto-detecting
// format from the environment and level from JOBCTL_LOG_LEVEL (default INFO).
func NewStdLogger(component string) *StdLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if v := os.Getenv("JOBCTL_LOG_FORMAT"); v != "" {
		format = v
	}
	level := strings.ToUpper(os.Getenv("JOBCTL_LOG_LEVEL"))
	if level == "" {
		level = "INFO"
	}
	return &StdLogger{
		component: component,
		format:    format,
		level:     level,
		output:    os.Stdout,
	}
}

func (l *StdLogger) WithComponent(component string) Logger {
	return &StdLogger{component: component, format: l.format, level: l.level, output: l.output}
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

func (l *StdLogger) write(level, msg string, fields map[string]interface{}) {
	if levelRank[level] < levelRank[l.level] {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level,
			"component": l.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		enc := json.NewEncoder(l.output)
		_ = enc.Encode(entry)
		return
	}

	fmt.Fprintf(l.output, "%s [%s] %s: %s", time.Now().UTC().Format(time.RFC3339), level, l.component, msg)
	for k, v := range fields {
		fmt.Fprintf(l.output, " %s=%v", k, v)
	}
	fmt.Fprintln(l.output)
}

func (l *StdLogger) Info(msg string, fields map[string]interface{})  { l.write("INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]interface{})  { l.write("WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]interface{}) { l.write("ERROR", msg, fields) }
func (l *StdLogger) Debug(msg string, fields map[string]interface{}) { l.write("DEBUG", msg, fields) }

func withRequestID(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	return fields
}

func (l *StdLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write("INFO", msg, withRequestID(ctx, fields))
}
func (l *StdLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write("WARN", msg, withRequestID(ctx, fields))
}
func (l *StdLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write("ERROR", msg, withRequestID(ctx, fields))
}
func (l *StdLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.write("DEBUG", msg, withRequestID(ctx, fields))
}
