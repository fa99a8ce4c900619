// events.go: In-process typed publish/subscribe for runtime events
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginkit

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// EventType identifies a runtime event category.
type EventType string

const (
	// EventManifestChanged is emitted when a watched manifest file changes.
	EventManifestChanged EventType = "manifest-changed"
	// EventRegistered is emitted after a plugin reaches Registered.
	EventRegistered EventType = "registered"
	// EventRegistrationFailed is emitted after a registration attempt fails.
	EventRegistrationFailed EventType = "registration_failed"
	// EventUnregistered is emitted after a plugin is fully unregistered.
	EventUnregistered EventType = "unregistered"
	// EventErrorReported is emitted when an error record is appended.
	EventErrorReported EventType = "error:reported"
	// EventErrorRecovered is emitted when a recovery strategy resolves an error.
	EventErrorRecovered EventType = "error:recovered"
	// EventAlertTriggered is emitted on breaker trips and offline components.
	EventAlertTriggered EventType = "alert:triggered"
)

// Event is a named runtime event with a payload describing the entity
// it concerns.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Plugin    string         `json:"plugin,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHandler handles a published event.
type EventHandler func(event Event)

// EventBus fans runtime events out to subscribers within the process.
//
// Delivery is at-least-once to every handler registered at publish time.
// Handlers run on the publisher's goroutine in registration order; a panic
// in one handler is recovered and logged, never propagated to the emitter
// or to other handlers. State updates therefore happen-before the events
// describing them: a handler may immediately query the emitting component
// and observe the new state.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	all      []EventHandler
	logger   Logger
}

// NewEventBus creates an event bus. A nil logger is replaced with the
// default silent logger.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a single event type.
func (b *EventBus) Subscribe(t EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish delivers the event to all matching handlers. A zero Timestamp
// is filled in at publish time.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = timecache.CachedTime()
	}

	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[event.Type])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(handler, event)
	}
}

// invoke runs a single handler with panic isolation.
func (b *EventBus) invoke(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				"event_type", string(event.Type),
				"plugin", event.Plugin,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	handler(event)
}
