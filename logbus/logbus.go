// Package logbus is the live fan-out of log and step events for a Run. It
// holds no history; a subscriber only sees events published after it
// subscribes, since replay is the Store's job (ListLogs). Grounded on the
// teacher's websocket transport's per-client send channel and
// disconnect-on-full-buffer handling, generalized from one channel per UI
// session to one channel per (run_id, subscriber).
package logbus

import (
	"sync"

	"github.com/orbital-run/jobctl/domain"
)

// Event is a single fan-out message: a log line or a step transition.
type Event struct {
	Log  *domain.LogEntry
	Step *domain.RunStep
}

// backlog is the bounded per-subscriber buffer size. A publisher never
// blocks on a slow subscriber: if the buffer is full the subscriber is
// dropped instead.
const backlog = 256

// Subscription is a live feed of Events for one Run. The channel is closed
// when Close is called or when the subscriber falls behind and is
// disconnected.
type Subscription struct {
	C <-chan Event

	bus    *Bus
	runID  string
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// Close detaches the subscription from its Bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.runID, s)
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) deliver(e Event) bool {
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// Bus is an in-process pub/sub keyed by run_id.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe opens a live feed for runID.
func (b *Bus) Subscribe(runID string) *Subscription {
	ch := make(chan Event, backlog)
	sub := &Subscription{C: ch, bus: b, runID: runID, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[*Subscription]struct{})
	}
	b.subs[runID][sub] = struct{}{}
	return sub
}

func (b *Bus) unsubscribe(runID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, runID)
		}
	}
}

// PublishLog fans a LogEntry out to every live subscriber of its Run.
// Publish never blocks: a subscriber whose buffer is full is disconnected.
func (b *Bus) PublishLog(entry *domain.LogEntry) {
	b.publish(entry.RunID, Event{Log: entry})
}

// PublishStep fans a RunStep transition out to every live subscriber.
func (b *Bus) PublishStep(step *domain.RunStep) {
	b.publish(step.RunID, Event{Step: step})
}

func (b *Bus) publish(runID string, e Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs[runID]))
	for sub := range b.subs[runID] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.deliver(e) {
			sub.Close()
		}
	}
}

// SubscriberCount reports the number of live subscribers for runID, for
// observability.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}
