// Package events provides event management functionality.
package events

import (
	"sync"
	"time"
)

// EventType represents different event types
type EventType string

const (
	JobSubmitted EventType = "JOB_SUBMITTED"
	JobStarted   EventType = "JOB_STARTED"
	JobProgress  EventType = "JOB_PROGRESS"
	JobCompleted EventType = "JOB_COMPLETED"
	JobFailed    EventType = "JOB_FAILED"
	JobCancelled EventType = "JOB_CANCELLED"
	CachePurged  EventType = "CACHE_PURGED"
)

// Event represents a system event with typed data.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// Handler receives published events. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(event *Event)

// Bus is a simple synchronous publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit publishes an event to all handlers registered for its type.
func (b *Bus) Emit(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
