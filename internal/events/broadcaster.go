// Package events implements the typed lifecycle event emitter of §4.8: one
// Event per state transition and per activity attempt/result, delivered
// at-least-once, best-effort, to whatever sinks are configured.
//
// Broadcaster is adapted from the teacher's internal/server/sse.go: the
// same history-replay-plus-live-fan-out-plus-slow-client-drop design,
// generalized from an untyped map[string]any payload per pipeline run to
// the spec's typed selfheal.Event across the whole engine process.
package events

import (
	"sync"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Broadcaster fans out selfheal.Events to any number of subscribers (for
// example, the httpapi SSE handler). It is process-wide, not per-case.
type Broadcaster struct {
	mu      sync.Mutex
	history []selfheal.Event
	clients map[uint64]chan selfheal.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{}

	// maxHistory bounds memory use; 0 means unbounded (only safe for tests).
	maxHistory int
}

// NewBroadcaster constructs a Broadcaster retaining at most maxHistory
// events for new-subscriber replay (0 = unbounded).
func NewBroadcaster(maxHistory int) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[uint64]chan selfheal.Event),
		doneCh:     make(chan struct{}),
		maxHistory: maxHistory,
	}
}

// Send publishes ev to every live subscriber. A subscriber too slow to
// keep up is dropped rather than allowed to block the engine.
func (b *Broadcaster) Send(ev selfheal.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	if b.maxHistory > 0 && len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns a channel replaying history then streaming live
// events, a done channel closed only on Broadcaster.Close, and an
// unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan selfheal.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan selfheal.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++

	for _, ev := range b.history {
		ch <- ev
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close marks the broadcaster finished: every live subscriber channel is
// closed and doneCh fires, distinguishing an orderly shutdown from a
// slow-client drop.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// History returns a copy of every retained event.
func (b *Broadcaster) History() []selfheal.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]selfheal.Event, len(b.history))
	copy(out, b.history)
	return out
}
