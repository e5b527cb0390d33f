// Package retry implements the Retry Policy (next-attempt delay for a
// failed Run) and the bounded-attempt retry helper the Scheduler's
// background loop uses to ride out transient Store errors. The Run
// Lifecycle's operations do not use the helper.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/orbital-run/jobctl/domain"
)

// Policy computes delay = B * 2^(n-1) + uniform(0, J) for attempt n >= 1,
// and decides when a WorkItem's retry budget is exhausted.
type Policy struct {
	MaxRetries         int
	BackoffBaseSeconds float64
	JitterSeconds      float64
}

// Default builds the project/global default Policy from configuration.
func Default(maxRetries int, backoffBase, jitter float64) Policy {
	return Policy{MaxRetries: maxRetries, BackoffBaseSeconds: backoffBase, JitterSeconds: jitter}
}

// ForWorkItem applies a WorkItem's override, falling back to the receiver
// for any field the override leaves unset.
func (p Policy) ForWorkItem(override *domain.RetryPolicy) Policy {
	if override == nil {
		return p
	}
	out := p
	if override.MaxRetries > 0 {
		out.MaxRetries = override.MaxRetries
	}
	if override.BackoffBaseSeconds > 0 {
		out.BackoffBaseSeconds = override.BackoffBaseSeconds
	}
	if override.BackoffJitterSeconds > 0 {
		out.JitterSeconds = override.BackoffJitterSeconds
	}
	return out
}

// ExhaustedAfter reports whether attempt n (the attempt that just failed)
// has used up the retry budget: n failures means no retry beyond
// max_retries.
func (p Policy) ExhaustedAfter(failedAttempts int) bool {
	return failedAttempts > p.MaxRetries
}

// NextDelay computes the delay before the next attempt, for attempt n >= 1
// (the attempt number about to be retried).
func (p Policy) NextDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := p.BackoffBaseSeconds * pow2(n-1)
	jitter := 0.0
	if p.JitterSeconds > 0 {
		jitter = rand.Float64() * p.JitterSeconds
	}
	return time.Duration((base + jitter) * float64(time.Second))
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}
