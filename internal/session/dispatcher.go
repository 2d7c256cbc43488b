// Package session holds the gateway-side plumbing for the external
// session-persistence and background-queue collaborators. Both surfaces are
// fire-and-forget: their failures are logged, never propagated to a chat
// response already delivered.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/davidbz/hestia/internal/domain"
	"github.com/davidbz/hestia/internal/observability"
)

const (
	queueCapacity = 64
	workerIdle    = time.Minute
)

// Dispatcher serializes appends per session so messages reach the
// persistence collaborator in the order the orchestrator accepted them, even
// when upstream responses for different sessions interleave. It implements
// domain.SessionStore; AppendMessages enqueues and returns immediately.
type Dispatcher struct {
	store domain.SessionStore

	mu     sync.Mutex
	queues map[string]chan []domain.Message
}

// NewDispatcher wraps the real persistence collaborator.
func NewDispatcher(store domain.SessionStore) *Dispatcher {
	return &Dispatcher{
		store:  store,
		queues: make(map[string]chan []domain.Message),
	}
}

// AppendMessages implements domain.SessionStore. It never blocks the
// caller: if a session's queue is saturated the batch is dropped and the
// degradation logged.
func (d *Dispatcher) AppendMessages(ctx context.Context, sessionID string, messages []domain.Message) error {
	d.mu.Lock()
	queue, exists := d.queues[sessionID]
	if !exists {
		queue = make(chan []domain.Message, queueCapacity)
		d.queues[sessionID] = queue
		go d.drain(sessionID, queue)
	}
	d.mu.Unlock()

	select {
	case queue <- messages:
	default:
		observability.FromContext(ctx).Warn("session append queue full, dropping batch",
			observability.String("session_id", sessionID),
			observability.Int("batch_size", len(messages)))
	}

	return nil
}

// drain processes one session's queue in FIFO order, exiting after an idle
// period so long-gone sessions do not pin goroutines.
func (d *Dispatcher) drain(sessionID string, queue chan []domain.Message) {
	idle := time.NewTimer(workerIdle)
	defer idle.Stop()

	for {
		select {
		case messages := <-queue:
			ctx := context.Background()
			if err := d.store.AppendMessages(ctx, sessionID, messages); err != nil {
				observability.FromContext(ctx).Warn("session append failed",
					observability.String("session_id", sessionID),
					observability.Error(err))
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(workerIdle)

		case <-idle.C:
			d.mu.Lock()
			// A batch may have raced in; keep draining if so.
			if len(queue) > 0 {
				d.mu.Unlock()
				idle.Reset(workerIdle)
				continue
			}
			delete(d.queues, sessionID)
			d.mu.Unlock()
			return
		}
	}
}

// LogStore is a stand-in persistence collaborator that records appends to
// the log. Deployments wire the real collaborator client in its place.
type LogStore struct{}

// NewLogStore creates a logging session store.
func NewLogStore() *LogStore {
	return &LogStore{}
}

// AppendMessages implements domain.SessionStore.
func (s *LogStore) AppendMessages(ctx context.Context, sessionID string, messages []domain.Message) error {
	observability.FromContext(ctx).Info("session messages appended",
		observability.String("session_id", sessionID),
		observability.Int("count", len(messages)))
	return nil
}
