// Package quota implements the Quota Meter: a windowed per-project counter
// of Run starts (including retries, the adopted reading of the source's
// open question), admitting at most max_runs per rolling window_seconds.
// Kept as an in-memory component rather than a Store query because the
// admission check runs on every Scheduler promotion attempt and must not
// itself contend with the Store's row locks.
package quota

import (
	"sync"
	"time"

	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/platform"
)

// Meter is the Quota Meter.
type Meter struct {
	mu     sync.Mutex
	clock  platform.Clock
	starts map[string][]time.Time // project_id -> recorded Run-start instants
}

// New builds an empty Meter.
func New(clock platform.Clock) *Meter {
	return &Meter{clock: clock, starts: make(map[string][]time.Time)}
}

// Admits reports whether projectID may start another Run right now under q,
// without recording a start. Callers that intend to promote must call
// Record immediately after Admits returns true, inside the same
// promotion attempt.
func (m *Meter) Admits(projectID string, q domain.Quota) bool {
	if q.MaxRuns <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slide(projectID, q)
	return len(m.starts[projectID]) < q.MaxRuns
}

// Record registers a Run start for projectID, consuming quota capacity.
func (m *Meter) Record(projectID string, q domain.Quota, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slide(projectID, q)
	m.starts[projectID] = append(m.starts[projectID], at)
}

// slide drops recorded starts that have aged out of the rolling window,
// restoring their capacity.
func (m *Meter) slide(projectID string, q domain.Quota) {
	if q.WindowSeconds <= 0 {
		return
	}
	cutoff := m.clock.Now().Add(-time.Duration(q.WindowSeconds) * time.Second)
	starts := m.starts[projectID]
	kept := starts[:0]
	for _, t := range starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.starts[projectID] = kept
}

// Usage reports the number of Run starts currently counted within the
// window, for the observability usage snapshot.
func (m *Meter) Usage(projectID string, q domain.Quota) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slide(projectID, q)
	return len(m.starts[projectID])
}
