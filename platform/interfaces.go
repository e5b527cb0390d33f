package platform

import (
	"context"
	"time"
)

// Logger is the minimal structured logging interface used across every
// control-plane component. A nil Logger is never required; callers should
// default to NoOpLogger.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger extends Logger with a component tag, so the same base
// logger can be handed to the scheduler, the lease manager, and the HTTP
// layer while keeping log lines attributable.
type ComponentLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Safe zero value for tests and components
// that don't care about logging.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// Clock abstracts time so the Retry Policy, Lease Manager, and Quota Meter
// can be tested without sleeping. RealClock wraps the standard library;
// tests inject a FakeClock instead.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock, backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a mutable Clock for deterministic tests: lease expiry,
// backoff scheduling, and quota-window sliding all depend on wall-clock
// comparisons that are otherwise painful to test.
type FakeClock struct {
	t time.Time
}

// NewFakeClock returns a FakeClock pinned at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{t: t}
}

func (c *FakeClock) Now() time.Time { return c.t }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// Set pins the clock at t.
func (c *FakeClock) Set(t time.Time) {
	c.t = t
}
