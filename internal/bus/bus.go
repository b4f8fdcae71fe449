// Package bus provides an internal event bus for lip-sync lifecycle notifications
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types published by sessions and the ingest client
const (
	// Segment lifecycle
	EventTypeSegmentArmed    EventType = "segment.armed"
	EventTypePlaybackStarted EventType = "segment.playback_started"
	EventTypePlaybackStopped EventType = "segment.playback_stopped"

	// Timeline events
	EventTypeBatchCurated   EventType = "timeline.batch_curated"
	EventTypeWordsDiscarded EventType = "timeline.words_discarded"

	// Ingest connection events
	EventTypeConnected    EventType = "ingest.connected"
	EventTypeDisconnected EventType = "ingest.disconnected"
)

// Event represents a bus event
type Event struct {
	Type      EventType
	SessionID string
	Data      map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	return handlers
}

// Publish sends an event to all subscribed handlers without waiting for them.
// Safe to call on a nil bus.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	var wg sync.WaitGroup
	for _, handler := range b.snapshot(event.Type) {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
