// Package bus is the daemon's in-process event feed. Realtime fan-out,
// session changes, scheduler runs and bot replies are mirrored here for the
// admin watch stream and for tests.
package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans events out to prefix-filtered subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event. A nil *Bus
// accepts and discards everything.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

type subscription struct {
	prefix  string
	ch      chan Event
	dropped atomic.Uint64
}

// Stats is a snapshot of bus activity.
type Stats struct {
	Subscribers int
	Published   uint64
	Dropped     uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// A zero Timestamp is set to now.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event of the given kind.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Payload: payload})
}

// Subscribe returns a channel of events whose kind starts with prefix ("" for
// all) and a cancel func. Cancelling closes the channel; it is safe to call
// more than once.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	sub := &subscription{prefix: prefix, ch: make(chan Event, max(bufSize, 1))}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs = slices.DeleteFunc(b.subs, func(s *subscription) bool { return s == sub })
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Stats reports subscriber count and publish/drop totals.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}
