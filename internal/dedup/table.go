// Package dedup collapses concurrent identical requests into a single
// upstream execution and fans the resulting event stream out to every
// attached subscriber in order.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/observability"
)

// errSubscriberLagged terminates the stream of a subscriber evicted for
// falling too far behind the fan-out.
var errSubscriberLagged = errors.New("subscriber evicted: event backlog exceeded buffer")

// Table implements domain.Deduper. At most one in-flight execution exists
// per fingerprint at any instant; entries are removed on settlement or TTL
// force-eviction, whichever comes first.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	buffer  int
}

// NewTable creates a dedup table. ttl bounds how long an unsettled entry may
// live; buffer is the per-subscriber event channel capacity. One extra slot
// beyond buffer is reserved so an evicted subscriber still receives a
// terminal error event.
func NewTable(ttl time.Duration, buffer int) *Table {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if buffer <= 0 {
		buffer = 256
	}

	return &Table{
		entries: make(map[string]*entry),
		ttl:     ttl,
		buffer:  buffer,
	}
}

// Join attaches to the in-flight execution for fingerprint, creating it if
// none exists. The returned Execution is non-nil only for the creator, which
// must drive the pipeline and eventually call Finish.
func (t *Table) Join(fingerprint string) (domain.Subscription, domain.Execution) {
	t.mu.Lock()
	e, exists := t.entries[fingerprint]
	if !exists {
		e = newEntry(t, fingerprint)
		t.entries[fingerprint] = e
	}
	t.mu.Unlock()

	sub := e.attach()

	if exists {
		return sub, nil
	}
	return sub, e
}

func (t *Table) remove(fingerprint string, e *entry) {
	t.mu.Lock()
	if current, ok := t.entries[fingerprint]; ok && current == e {
		delete(t.entries, fingerprint)
	}
	t.mu.Unlock()
}

// entry is one in-flight deduplicated execution.
type entry struct {
	table       *Table
	fingerprint string
	ctx         context.Context
	cancel      context.CancelFunc
	timer       *time.Timer

	mu      sync.Mutex
	subs    map[*subscription]struct{}
	settled bool
}

func newEntry(t *Table, fingerprint string) *entry {
	// The execution context is detached from any one caller: the upstream
	// call must outlive the creator when other subscribers remain.
	ctx, cancel := context.WithCancel(context.Background())

	e := &entry{
		table:       t,
		fingerprint: fingerprint,
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[*subscription]struct{}),
	}
	e.timer = time.AfterFunc(t.ttl, e.forceEvict)
	return e
}

// Context implements domain.Execution.
func (e *entry) Context() context.Context {
	return e.ctx
}

// Publish fans one event out to every attached subscriber, preserving order.
// Sends never block: a subscriber whose buffer is full is evicted as if it
// had disconnected, so one stalled reader cannot stall the fan-out.
func (e *entry) Publish(event domain.SSEEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.settled {
		return
	}

	for sub := range e.subs {
		select {
		case <-sub.done:
			delete(e.subs, sub)
			close(sub.events)
			continue
		default:
		}

		if len(sub.events) >= e.table.buffer {
			// Evict the stalled subscriber, landing a terminal error in
			// the reserved slot so its consumer is not cut off silently.
			delete(e.subs, sub)
			select {
			case sub.events <- domain.ErrorEvent(errSubscriberLagged):
			default:
			}
			close(sub.events)
			continue
		}

		sub.events <- event
	}
}

// Finish settles the entry: subscriber channels close, the entry leaves the
// table, and the execution context is cancelled.
func (e *entry) Finish() {
	e.settle(nil)
}

// forceEvict fires when the TTL elapses before settlement. All subscribers
// see a terminal error event describing the eviction.
func (e *entry) forceEvict() {
	evicted := e.settle(&domain.DedupTimeoutError{Fingerprint: e.fingerprint})
	if evicted {
		observability.FromContext(e.ctx).Warn("dedup entry force-evicted",
			observability.String("fingerprint", e.fingerprint))
	}
}

// settle closes the entry exactly once. A non-nil cause is published as the
// terminal event before the channels close.
func (e *entry) settle(cause error) bool {
	e.mu.Lock()
	if e.settled {
		e.mu.Unlock()
		return false
	}
	e.settled = true

	for sub := range e.subs {
		if cause != nil {
			select {
			case sub.events <- domain.ErrorEvent(cause):
			default:
			}
		}
		close(sub.events)
		delete(e.subs, sub)
	}
	e.mu.Unlock()

	e.timer.Stop()
	e.table.remove(e.fingerprint, e)
	e.cancel()
	return true
}

func (e *entry) attach() *subscription {
	sub := &subscription{
		entry:  e,
		events: make(chan domain.SSEEvent, e.table.buffer+1),
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if e.settled {
		// Raced with settlement; the subscriber gets an immediately-closed
		// stream carrying the eviction error.
		e.mu.Unlock()
		sub.events <- domain.ErrorEvent(&domain.DedupTimeoutError{Fingerprint: e.fingerprint})
		close(sub.events)
		return sub
	}
	e.subs[sub] = struct{}{}
	e.mu.Unlock()

	return sub
}

func (e *entry) detach(sub *subscription) {
	e.mu.Lock()
	if _, attached := e.subs[sub]; !attached {
		e.mu.Unlock()
		return
	}
	delete(e.subs, sub)
	remaining := len(e.subs)
	settled := e.settled
	e.mu.Unlock()

	// Once removed from the fan-out nothing sends on the channel again, so
	// closing here unblocks any reader still ranging over it.
	close(sub.events)

	// Last subscriber gone: nobody benefits from the upstream call anymore.
	if remaining == 0 && !settled {
		e.cancel()
	}
}

// subscription is one caller's ordered copy of the execution's events.
type subscription struct {
	entry    *entry
	events   chan domain.SSEEvent
	done     chan struct{}
	leaveOne sync.Once
}

// Events implements domain.Subscription.
func (s *subscription) Events() <-chan domain.SSEEvent {
	return s.events
}

// Leave detaches this subscriber and closes its events channel. Other
// subscribers continue uninterrupted; if none remain the shared execution
// is cancelled.
func (s *subscription) Leave() {
	s.leaveOne.Do(func() {
		close(s.done)
		s.entry.detach(s)
	})
}
