// Package events provides the structured event log of the raffle layer.
// The raffle state machine, the VRF coordinator and the keeper publish their
// notifications here; subscribers (round history, websocket stream, Redis
// forwarder) consume them.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an event.
type EventType string

const (
	// Raffle state machine notifications
	EventRaffleEntered EventType = "raffle.entered"
	EventDrawRequested EventType = "raffle.draw_requested"
	EventWinnerPicked  EventType = "raffle.winner_picked"

	// Coordinator notifications
	EventSubscriptionCreated  EventType = "vrf.subscription_created"
	EventSubscriptionFunded   EventType = "vrf.subscription_funded"
	EventConsumerAdded        EventType = "vrf.consumer_added"
	EventConsumerRemoved      EventType = "vrf.consumer_removed"
	EventRandomWordsRequested EventType = "vrf.random_words_requested"
	EventRandomWordsFulfilled EventType = "vrf.random_words_fulfilled"

	// Keeper notifications
	EventUpkeepPerformed EventType = "keeper.upkeep_performed"
)

// Event is a single notification.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Source     string            `json:"source"`
	Timestamp  time.Time         `json:"timestamp"`
	Round      uint64            `json:"round,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
}

// Attr returns the named attribute or the empty string.
func (e Event) Attr(key string) string {
	return e.Attributes[key]
}

// String returns the JSON encoding of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they are emitted.
type EventHandler func(Event)

// EventFilter decides whether an event should be delivered to a handler.
type EventFilter func(Event) bool

// TypeFilter matches events of any of the given types.
func TypeFilter(types ...EventType) EventFilter {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// RingBuffer keeps the most recent events and fans every new event out to
// the registered handlers. Handlers run synchronously on the emitting
// goroutine, so they must not block.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a buffer holding up to size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Emit stores the event and notifies handlers. Missing ids, timestamps and
// trace ids are filled in.
func (rb *RingBuffer) Emit(ctx context.Context, event Event) {
	if event.TraceID == "" && ctx != nil {
		event.TraceID = TraceIDFromContext(ctx)
	}

	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events and returns its unsubscribe
// function.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only sees events passing filter.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}
	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	for i := 0; i < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		result[i] = rb.events[idx]
	}
	return result
}

// RecentByType returns up to n events of the given type, newest first.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if rb.events[idx].Type == eventType {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace id stored in ctx, if any.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTraceID returns a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// Builder provides a fluent API for creating events.
type Builder struct {
	event Event
}

// NewEvent starts building an event of the given type.
func NewEvent(eventType EventType) *Builder {
	return &Builder{event: Event{Type: eventType}}
}

// Source sets the emitting component.
func (b *Builder) Source(source string) *Builder {
	b.event.Source = source
	return b
}

// Round sets the raffle round number.
func (b *Builder) Round(round uint64) *Builder {
	b.event.Round = round
	return b
}

// RequestID sets the randomness request id.
func (b *Builder) RequestID(id string) *Builder {
	b.event.RequestID = id
	return b
}

// At sets the event timestamp.
func (b *Builder) At(ts time.Time) *Builder {
	b.event.Timestamp = ts.UTC()
	return b
}

// Attr sets a single attribute.
func (b *Builder) Attr(key, value string) *Builder {
	if b.event.Attributes == nil {
		b.event.Attributes = make(map[string]string)
	}
	b.event.Attributes[key] = value
	return b
}

// Build returns the event.
func (b *Builder) Build() Event {
	return b.event
}

// Discard is an emitter that drops every event.
type Discard struct{}

// Emit implements the emitter contract.
func (Discard) Emit(context.Context, Event) {}
