package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoCo-27/chatgpt-api/core/event"
	"github.com/CoCo-27/chatgpt-api/core/state"
)

// collector records delivered event names.
type collector struct {
	mu    sync.Mutex
	names []string
}

func (c *collector) handle(e event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, e.EventName())
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

// plainEvent carries no session id.
type plainEvent struct{}

func (plainEvent) EventName() string { return "Plain" }

func stateChanged(sessionID string) event.Event {
	return event.NewSessionStateChanged(sessionID, state.StateInitializing, state.StateReady)
}

func eventually(t *testing.T, c *collector, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.got()) == n }, time.Second, 5*time.Millisecond)
}

func TestEventBus_DeliversToEverySubscriber(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	subs := []*collector{{}, {}, {}}
	for _, c := range subs {
		bus.Subscribe(c.handle)
	}

	bus.Publish(stateChanged("alice"))

	for _, c := range subs {
		eventually(t, c, 1)
		assert.Equal(t, []string{"SessionStateChanged"}, c.got())
	}
}

func TestEventBus_SessionFilter(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	alice, bob, all := &collector{}, &collector{}, &collector{}
	bus.SubscribeSession("alice", alice.handle)
	bus.SubscribeSession("bob", bob.handle)
	bus.Subscribe(all.handle)

	bus.Publish(event.NewExchangeStarted("alice", "ex-1", "", 1))
	bus.Publish(plainEvent{})

	eventually(t, all, 2)
	eventually(t, alice, 1)
	assert.Empty(t, bob.got())
	assert.Equal(t, []string{"ExchangeStarted"}, alice.got())
}

func TestEventBus_SubscribeNames(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	c := &collector{}
	bus.SubscribeNames(c.handle, "ExchangeSettled", "CapacityDetected")

	bus.Publish(stateChanged("alice"))
	bus.Publish(event.NewExchangeSettled("alice", "ex-1", "msg-1", time.Second, nil))
	bus.Publish(event.NewCapacityDetected("alice", 1))
	bus.Close()

	assert.Equal(t, []string{"ExchangeSettled", "CapacityDetected"}, c.got())
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10, nil)

	c := &collector{}
	bus.Unsubscribe(bus.Subscribe(c.handle))
	bus.Publish(stateChanged("alice"))
	bus.Close()

	assert.Empty(t, c.got())
}

func TestEventBus_CloseDrainsAndStops(t *testing.T) {
	bus := New(10, nil)

	c := &collector{}
	bus.Subscribe(c.handle)
	bus.Publish(event.NewAuthFailed("alice", "init", errors.New("no token")))
	bus.Close()

	assert.Equal(t, []string{"AuthFailed"}, c.got())

	bus.Publish(stateChanged("alice"))
	assert.NotPanics(t, bus.Close)
	assert.Len(t, c.got(), 1)
}

func TestEventBus_HandlerPanic(t *testing.T) {
	bus := New(10, nil)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe(func(e event.Event) { panic("boom") })
	bus.Subscribe(c.handle)

	bus.Publish(event.NewSessionRecovered("alice", "refresh", nil))

	eventually(t, c, 1)
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := New(200, nil)

	c := &collector{}
	bus.Subscribe(c.handle)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(event.NewCapacityDetected("alice", 1))
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Len(t, c.got(), n)
	assert.Zero(t, bus.Dropped())
}

func TestEventBus_DroppedWhenFull(t *testing.T) {
	bus := New(1, nil)
	defer bus.Close()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(func(e event.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})

	// First event occupies the dispatcher, second fills the buffer.
	bus.Publish(stateChanged("a"))
	<-started
	bus.Publish(stateChanged("b"))
	bus.Publish(stateChanged("c"))

	assert.Equal(t, uint64(1), bus.Dropped())
	close(block)
}
