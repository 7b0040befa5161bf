// Package eventbus delivers session events to subscribers asynchronously.
package eventbus

import (
	"github.com/CoCo-27/chatgpt-api/core/event"
)

// EventBus is the interface for the event bus.
type EventBus interface {
	// Publish queues an event for async dispatch. It never blocks; when the
	// queue is full the event is dropped and counted.
	Publish(e event.Event)

	// Subscribe subscribes to all events and returns a subscription ID.
	Subscribe(handler EventHandler) string

	// SubscribeSession subscribes to events whose SessionID matches sessionID.
	SubscribeSession(sessionID string, handler EventHandler) string

	// SubscribeNames subscribes to events whose EventName is one of names.
	SubscribeNames(handler EventHandler, names ...string) string

	// Unsubscribe removes a subscription by its ID.
	Unsubscribe(subscriptionID string)

	// Dropped returns how many events were dropped because the queue was full.
	Dropped() uint64

	// Close drains pending events and shuts the bus down.
	// After Close is called, Publish will be a no-op.
	Close()
}

// EventHandler is a function that handles an event.
type EventHandler func(e event.Event)
