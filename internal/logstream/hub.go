// Package logstream fans out live build output to an arbitrary number of
// subscribers. Publishing never blocks: a subscriber that cannot keep up
// loses individual events, not its subscription.
package logstream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fwforge/fwforge/internal/metrics"
)

// EventKind classifies a log event.
type EventKind string

const (
	KindInfo    EventKind = "info"
	KindCommand EventKind = "command"
	KindStdout  EventKind = "stdout"
	KindStderr  EventKind = "stderr"
	KindSuccess EventKind = "success"
	KindError   EventKind = "error"
)

// Event is one line of the live log for a unit.
type Event struct {
	UnitID string    `json:"unitId"`
	Kind   EventKind `json:"kind"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// DefaultSubscriberBuffer is the per-subscriber channel capacity used when
// the hub is constructed with a non-positive buffer size.
const DefaultSubscriberBuffer = 256

// Hub distributes events to subscribers. Safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]*Subscription
	buffer  int
	closed  bool
	metrics metrics.Recorder
}

// Subscription receives events published after Subscribe was called.
type Subscription struct {
	hub     *Hub
	id      int
	ch      chan Event
	done    chan struct{}
	dropped int
	once    sync.Once
}

func NewHub(buffer int, recorder metrics.Recorder) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Hub{
		subs:    map[int]*Subscription{},
		buffer:  buffer,
		metrics: recorder,
	}
}

// Subscribe registers a new subscriber. Events published before this call
// are not replayed; the ledger holds history. Returns nil once the hub is
// closed.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	sub := &Subscription{
		hub:  h,
		id:   h.nextID,
		ch:   make(chan Event, h.buffer),
		done: make(chan struct{}),
	}
	h.nextID++
	h.subs[sub.id] = sub
	h.metrics.SetSubscribers(len(h.subs))
	return sub
}

// Publish delivers the event to every current subscriber. Full subscriber
// buffers drop this event for that subscriber only.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		snapshot = append(snapshot, sub)
	}
	h.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.ch <- event:
		default:
			sub.noteDrop()
			h.metrics.IncDroppedEvents()
		}
	}
}

// Close retires all subscriptions and rejects future subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = map[int]*Subscription{}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
	h.metrics.SetSubscribers(0)
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		if sub.dropped > 0 {
			slog.Debug("log subscriber closed with dropped events", "subscriber", id, "dropped", sub.dropped)
		}
		h.metrics.SetSubscribers(len(h.subs))
	}
}

// Events is the subscriber's receive channel. It is never closed by the
// hub; select against Done to notice retirement.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription has been retired, either by Close on
// the subscription or by hub shutdown.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports how many events this subscriber has lost to a full buffer.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close releases the hub slot. Idempotent.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) noteDrop() {
	s.hub.mu.Lock()
	s.dropped++
	s.hub.mu.Unlock()
}
