package eventbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/CoCo-27/chatgpt-api/core/event"
)

// subscription represents a single event subscription.
type subscription struct {
	id        string
	handler   EventHandler
	sessionID string              // empty means any session
	names     map[string]struct{} // nil means any event name
}

func (s *subscription) matches(e event.Event) bool {
	if s.names != nil {
		if _, ok := s.names[e.EventName()]; !ok {
			return false
		}
	}
	if s.sessionID == "" {
		return true
	}
	se, ok := e.(event.SessionEvent)
	return ok && se.SessionID() == s.sessionID
}

// channelEventBus is a channel-based implementation of EventBus.
type channelEventBus struct {
	eventChan     chan event.Event
	subscriptions map[string]*subscription
	mu            sync.RWMutex
	closeMu       sync.RWMutex
	closed        bool
	dropped       atomic.Uint64
	wg            sync.WaitGroup
	logger        *slog.Logger
}

// New creates a new EventBus with the specified buffer size.
func New(bufferSize int, logger *slog.Logger) EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	bus := &channelEventBus{
		eventChan:     make(chan event.Event, bufferSize),
		subscriptions: make(map[string]*subscription),
		logger:        logger.With("component", "eventbus"),
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish publishes an event to all subscribers.
func (b *channelEventBus) Publish(e event.Event) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.eventChan <- e:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event dropped, queue full", "event", e.EventName())
	}
}

// Subscribe subscribes to all events.
func (b *channelEventBus) Subscribe(handler EventHandler) string {
	return b.subscribe(&subscription{handler: handler})
}

// SubscribeSession subscribes to events from a specific session.
func (b *channelEventBus) SubscribeSession(sessionID string, handler EventHandler) string {
	return b.subscribe(&subscription{handler: handler, sessionID: sessionID})
}

// SubscribeNames subscribes to events with the given names.
func (b *channelEventBus) SubscribeNames(handler EventHandler, names ...string) string {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return b.subscribe(&subscription{handler: handler, names: set})
}

func (b *channelEventBus) subscribe(sub *subscription) string {
	sub.id = uuid.NewString()

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub.id
}

// Unsubscribe removes a subscription by its ID.
func (b *channelEventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	delete(b.subscriptions, subscriptionID)
	b.mu.Unlock()
}

// Dropped returns the number of events dropped so far.
func (b *channelEventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts down the event bus.
func (b *channelEventBus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.closeMu.Unlock()

	b.wg.Wait()
}

// dispatch is the main event dispatch loop.
func (b *channelEventBus) dispatch() {
	defer b.wg.Done()

	for e := range b.eventChan {
		b.deliverEvent(e)
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (b *channelEventBus) deliverEvent(e event.Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.matches(e) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Event handler panicked", "event", e.EventName(), "subscription", sub.id, "panic", r)
				}
			}()
			sub.handler(e)
		}()
	}
}
