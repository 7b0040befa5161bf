// Package application provides the application layer for orchestrating sessions.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CoCo-27/chatgpt-api/application/session"
	"github.com/CoCo-27/chatgpt-api/core/event"
	"github.com/CoCo-27/chatgpt-api/core/eventbus"
	"github.com/CoCo-27/chatgpt-api/core/state"
	"github.com/CoCo-27/chatgpt-api/domain/conversation"
	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
)

// Coordinator owns one session per account and routes exchanges to them.
type Coordinator struct {
	// Sessions keyed by credential key
	sessions   map[string]*session.Manager
	sessionsMu sync.RWMutex

	// Dependencies
	eventBus      eventbus.EventBus
	driverFactory DriverFactory
	bridge        session.AuthBridge
	base          session.Config
	logger        *slog.Logger

	subscription string
}

// DriverFactory creates browser drivers.
type DriverFactory func(cfg *browser.DriverConfig) browser.Driver

// CoordinatorConfig holds configuration for the Coordinator.
type CoordinatorConfig struct {
	EventBus      eventbus.EventBus
	DriverFactory DriverFactory
	Bridge        session.AuthBridge
	// Session is the template every session is created from. Its ID, Driver,
	// Bridge, Credentials and EventBus are filled per session.
	Session *session.Config
	Logger  *slog.Logger
}

// NewCoordinator creates a new session coordinator.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := session.DefaultConfig()
	if cfg.Session != nil {
		base = cfg.Session
	}
	factory := cfg.DriverFactory
	if factory == nil {
		factory = func(dc *browser.DriverConfig) browser.Driver {
			return browser.NewChromeDPDriver(dc)
		}
	}

	c := &Coordinator{
		sessions:      make(map[string]*session.Manager),
		eventBus:      cfg.EventBus,
		driverFactory: factory,
		bridge:        cfg.Bridge,
		base:          *base,
		logger:        cfg.Logger,
	}

	if c.eventBus != nil {
		c.subscription = c.eventBus.SubscribeNames(c.handleEvent, "SessionStateChanged")
	}

	return c
}

// Open creates and initializes a session for creds. A session that fails to
// initialize is closed and not kept.
func (c *Coordinator) Open(ctx context.Context, creds credential.Credentials) (*session.Manager, error) {
	key := creds.Key()

	c.sessionsMu.Lock()
	if _, exists := c.sessions[key]; exists {
		c.sessionsMu.Unlock()
		return nil, fmt.Errorf("session already exists for account %s", key)
	}

	cfg := c.base
	cfg.ID = key
	cfg.Credentials = creds
	cfg.Bridge = c.bridge
	cfg.EventBus = c.eventBus
	cfg.Logger = c.logger.With("account", key)
	cfg.Driver = c.driverFactory(cfg.DriverConfig())

	m, err := session.New(&cfg)
	if err != nil {
		c.sessionsMu.Unlock()
		return nil, err
	}
	c.sessions[key] = m
	c.sessionsMu.Unlock()

	c.logger.Info("Session created", "session_id", m.ID())

	if err := m.Init(ctx); err != nil {
		c.remove(key)
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// Get returns a session by ID.
func (c *Coordinator) Get(id string) *session.Manager {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}

// Sessions returns all sessions.
func (c *Coordinator) Sessions() []*session.Manager {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()

	sessions := make([]*session.Manager, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// ReadySessions returns sessions that can run an exchange now.
func (c *Coordinator) ReadySessions() []*session.Manager {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()

	sessions := make([]*session.Manager, 0)
	for _, s := range c.sessions {
		if s.State().CanExchange() {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// SessionCount returns the number of sessions.
func (c *Coordinator) SessionCount() int {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return len(c.sessions)
}

// Send routes a prompt to the session with the given ID.
func (c *Coordinator) Send(ctx context.Context, id, text string, opts *session.SendOptions) (*conversation.Result, error) {
	m := c.Get(id)
	if m == nil {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return m.SendMessage(ctx, text, opts)
}

// CloseSession closes and forgets one session.
func (c *Coordinator) CloseSession(id string) error {
	m := c.remove(id)
	if m == nil {
		return fmt.Errorf("session not found: %s", id)
	}
	err := m.Close()
	c.logger.Info("Session closed", "session_id", id)
	return err
}

// Stop closes every session.
func (c *Coordinator) Stop() {
	if c.eventBus != nil && c.subscription != "" {
		c.eventBus.Unsubscribe(c.subscription)
	}

	c.sessionsMu.Lock()
	sessions := make([]*session.Manager, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = make(map[string]*session.Manager)
	c.sessionsMu.Unlock()

	// Close all sessions in parallel
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(m *session.Manager) {
			defer wg.Done()
			if err := m.Close(); err != nil {
				c.logger.Warn("Failed to close session", "session_id", m.ID(), "error", err)
			}
		}(s)
	}

	// Wait with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Coordinator stop timeout, some sessions may not have closed cleanly")
	}

	c.logger.Info("Coordinator stopped", "sessions", len(sessions))
}

func (c *Coordinator) remove(id string) *session.Manager {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	m := c.sessions[id]
	delete(c.sessions, id)
	return m
}

// handleEvent drops sessions closed outside the coordinator.
func (c *Coordinator) handleEvent(e event.Event) {
	evt, ok := e.(*event.SessionStateChanged)
	if !ok || evt.NewState != state.StateClosed {
		return
	}

	c.sessionsMu.Lock()
	m, exists := c.sessions[evt.SessionID()]
	if exists && m.State() == state.StateClosed {
		delete(c.sessions, evt.SessionID())
	}
	c.sessionsMu.Unlock()

	if exists {
		c.logger.Info("Session removed from coordinator", "session_id", evt.SessionID())
	}
}
