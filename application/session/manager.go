// Package session drives one authenticated chat page: it owns the session
// state machine, the network interceptor and the exchange engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CoCo-27/chatgpt-api/application/guard"
	"github.com/CoCo-27/chatgpt-api/application/intercept"
	"github.com/CoCo-27/chatgpt-api/core/chaterr"
	"github.com/CoCo-27/chatgpt-api/core/event"
	"github.com/CoCo-27/chatgpt-api/core/eventbus"
	"github.com/CoCo-27/chatgpt-api/core/state"
	"github.com/CoCo-27/chatgpt-api/domain/conversation"
	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/domain/site"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
	"github.com/CoCo-27/chatgpt-api/infrastructure/logging"
)

// Manager owns one page and the authentication state captured from it.
// Lifecycle operations are serialized; at most one exchange runs at a time.
type Manager struct {
	id      string
	cfg     Config
	profile *site.Profile
	model   string

	driver      browser.Driver
	bridge      AuthBridge
	page        *PageController
	interceptor *intercept.Interceptor
	guard       *guard.Guard
	snapshots   *credential.Service
	eventBus    eventbus.EventBus
	clock       Clock
	logger      *slog.Logger

	lifecycleMu sync.Mutex
	exchangeMu  sync.Mutex

	mu      sync.RWMutex
	state   state.SessionState
	session *credential.Session
	thread  conversation.Thread
}

// New creates a Manager. The page is not touched until Init.
func New(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := *cfg
	def := DefaultConfig()

	if c.Profile == nil {
		return nil, fmt.Errorf("site profile is required")
	}
	if err := c.Profile.Validate(); err != nil {
		return nil, err
	}
	if c.Driver == nil {
		return nil, fmt.Errorf("browser driver is required")
	}
	if c.Bridge == nil {
		return nil, fmt.Errorf("auth bridge is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = def.NavigationTimeout
	}

	logger := c.Logger.With("session_id", c.ID)

	interceptor, err := intercept.New(intercept.Config{
		ConversationPattern: c.Profile.ConversationPattern,
		BlockResources:      c.BlockResources,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		id:          c.ID,
		cfg:         c,
		profile:     c.Profile,
		model:       c.Profile.Model,
		driver:      c.Driver,
		bridge:      c.Bridge,
		page:        NewPageController(c.Driver, c.Profile, logger),
		interceptor: interceptor,
		snapshots:   c.Snapshots,
		eventBus:    c.EventBus,
		clock:       c.Clock,
		logger:      logger,
		state:       state.StateUninitialized,
	}
	if c.Model != "" {
		m.model = c.Model
	}

	interval := c.Profile.Capacity.Interval
	if c.CapacityInterval > 0 {
		interval = c.CapacityInterval
	}
	retries := c.Profile.Capacity.Retries
	if c.CapacityRetries > 0 {
		retries = c.CapacityRetries
	}
	m.guard = guard.New(m.page.CapacityShown, m.page.Reload, guard.Config{
		Interval: interval,
		Retries:  retries,
		Logger:   logger,
		OnDetect: func(attempt int) {
			m.publish(event.NewCapacityDetected(m.id, attempt))
		},
	})

	return m, nil
}

// ID returns the session identifier.
func (m *Manager) ID() string {
	return m.id
}

// State returns the current state.
func (m *Manager) State() state.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session returns a copy of the current authentication state, or nil.
func (m *Manager) Session() *credential.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Clone()
}

// Thread returns the current conversation thread.
func (m *Manager) Thread() conversation.Thread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thread
}

// ResetThread makes the next exchange start a new conversation.
func (m *Manager) ResetThread() {
	m.mu.Lock()
	m.thread = conversation.Thread{}
	m.mu.Unlock()
}

// Init acquires the page, authenticates and derives an access token.
func (m *Manager) Init(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if err := m.transitionTo(state.StateInitializing); err != nil {
		return chaterr.Wrap(chaterr.KindAuth, err, "cannot initialize session")
	}
	return m.runInit(ctx, "init")
}

// Refresh reloads the page and re-derives the clearance and access tokens,
// keeping the session token.
func (m *Manager) Refresh(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if err := m.transitionTo(state.StateRefreshing); err != nil {
		return chaterr.Wrap(chaterr.KindAuth, err, "cannot refresh session")
	}

	sess, err := m.refresh(ctx)
	if err != nil {
		cerr := chaterr.Classify(err, chaterr.KindAuth, "refresh failed")
		m.logger.Warn("Refresh failed", "error", cerr)
		m.publish(event.NewAuthFailed(m.id, "refresh", cerr))
		m.releaseBrowser()
		_ = m.transitionTo(state.StateUninitialized)
		return cerr
	}

	m.setSession(sess)
	m.saveSnapshot(ctx, sess)
	if err := m.transitionTo(state.StateReady); err != nil {
		return chaterr.Wrap(chaterr.KindAuth, err, "session closed during refresh")
	}
	m.publish(event.NewAuthSucceeded(m.id, false))
	return nil
}

// Reset discards the session and runs initialization again with the
// original credentials on a fresh browser.
func (m *Manager) Reset(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.State() == state.StateUninitialized {
		if err := m.transitionTo(state.StateInitializing); err != nil {
			return chaterr.Wrap(chaterr.KindAuth, err, "cannot reset session")
		}
	} else {
		if err := m.transitionTo(state.StateResetting); err != nil {
			return chaterr.Wrap(chaterr.KindAuth, err, "cannot reset session")
		}

		m.interceptor.Abort(chaterr.New(chaterr.KindAuth, "session reset"))
		m.setSession(nil)
		if err := m.snapshots.Forget(ctx, m.cfg.Credentials.Key()); err != nil {
			m.logger.Warn("Failed to forget session snapshot", "error", err)
		}
		if err := m.driver.Stop(); err != nil {
			m.logger.Warn("Failed to stop browser", "error", err)
		}

		if err := m.transitionTo(state.StateInitializing); err != nil {
			return chaterr.Wrap(chaterr.KindAuth, err, "session closed during reset")
		}
	}

	return m.runInit(ctx, "reset")
}

// Close detaches from the page and releases the browser. Closed is terminal;
// calling Close again is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	old := m.state
	if old == state.StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = state.StateClosed
	m.session = nil
	m.mu.Unlock()

	m.publish(event.NewSessionStateChanged(m.id, old, state.StateClosed))
	m.logger.Info("State changed", "from", old, "to", state.StateClosed)

	m.interceptor.Abort(chaterr.New(chaterr.KindAuth, "session closed"))
	m.interceptor.Uninstall()

	if err := m.driver.Stop(); err != nil {
		return chaterr.Wrap(chaterr.KindAuth, err, "failed to release browser")
	}
	return nil
}

// IsAuthenticated probes the token endpoint once. It never fails; any
// problem reads as unauthenticated.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	if m.State() == state.StateClosed {
		return false
	}
	probe, err := m.page.ProbeToken(ctx)
	if err != nil {
		return false
	}
	_, _, err = probe.accessToken()
	return err == nil
}

// runInit performs initialization from StateInitializing and settles the
// state either way.
func (m *Manager) runInit(ctx context.Context, operation string) error {
	sess, restored, err := m.initialize(ctx)
	if err != nil {
		cerr := chaterr.Classify(err, chaterr.KindAuth, operation+" failed")
		m.logger.Warn("Initialization failed", "operation", operation, "error", cerr)
		if restored {
			if ferr := m.snapshots.Forget(ctx, m.cfg.Credentials.Key()); ferr != nil {
				m.logger.Warn("Failed to forget session snapshot", "error", ferr)
			}
		}
		m.publish(event.NewAuthFailed(m.id, operation, cerr))
		m.releaseBrowser()
		_ = m.transitionTo(state.StateUninitialized)
		return cerr
	}

	m.setSession(sess)
	m.saveSnapshot(ctx, sess)
	if err := m.transitionTo(state.StateReady); err != nil {
		return chaterr.Wrap(chaterr.KindAuth, err, "session closed during "+operation)
	}
	m.publish(event.NewAuthSucceeded(m.id, restored))
	m.logger.Info("Session ready", "operation", operation, "restored", restored)
	return nil
}

// releaseBrowser stops the browser after a failed lifecycle operation so an
// uninitialized session holds no page.
func (m *Manager) releaseBrowser() {
	m.interceptor.Uninstall()
	if err := m.driver.Stop(); err != nil {
		m.logger.Warn("Failed to stop browser", "error", err)
	}
}

func (m *Manager) initialize(ctx context.Context) (*credential.Session, bool, error) {
	if !m.driver.IsRunning() {
		if err := m.driver.Start(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to start browser: %w", err)
		}
	}
	m.interceptor.Install(m.driver)

	restored := m.restoreSnapshot(ctx)

	if err := m.openGuarded(ctx, func(ctx context.Context) error {
		return m.page.Navigate(ctx, m.profile.LoginURL)
	}); err != nil {
		return nil, restored, err
	}

	sess, err := m.bridge.Authenticate(logging.With(ctx, m.logger), m.driver, m.cfg.Credentials)
	if err != nil {
		return nil, restored, chaterr.Classify(err, chaterr.KindAuth, "authentication failed")
	}
	if sess == nil || (!sess.HasSessionToken() && !m.cfg.Credentials.IsEmpty()) {
		return nil, restored, chaterr.New(chaterr.KindAuth, "no session token captured")
	}

	if err := m.deriveAccessToken(ctx, sess); err != nil {
		return nil, restored, err
	}
	return sess, restored, nil
}

func (m *Manager) refresh(ctx context.Context) (*credential.Session, error) {
	sess := m.Session()
	if sess == nil {
		return nil, chaterr.New(chaterr.KindAuth, "no session to refresh")
	}

	if err := m.openGuarded(ctx, m.page.Reload); err != nil {
		return nil, err
	}

	cookies, err := m.page.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	sess.Cookies = credential.CookieMap(cookies)
	sess.ClearanceToken = ""
	if c, ok := sess.Cookies[m.profile.Cookies.Clearance]; ok {
		sess.ClearanceToken = c.Value
	}
	sess.AccessToken = ""

	if err := m.deriveAccessToken(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// openGuarded runs load, then waits for the page to render under the
// capacity guard, all within the navigation timeout.
func (m *Manager) openGuarded(ctx context.Context, load func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := load(ctx); err != nil {
		return err
	}
	return m.guard.Wait(ctx, m.page.WaitLoaded)
}

// deriveAccessToken exchanges the page's session for an access token.
func (m *Manager) deriveAccessToken(ctx context.Context, sess *credential.Session) error {
	probe, err := m.page.ProbeToken(ctx)
	if err != nil {
		return err
	}
	token, expires, err := probe.accessToken()
	if err != nil {
		return err
	}
	sess.AccessToken = token
	sess.ExpiresAt = expires
	return nil
}

func (m *Manager) restoreSnapshot(ctx context.Context) bool {
	if !m.snapshots.Enabled() {
		return false
	}
	snap, err := m.snapshots.Restore(ctx, m.cfg.Credentials.Key())
	if err != nil {
		if !errors.Is(err, credential.ErrSnapshotNotFound) {
			m.logger.Warn("Failed to load session snapshot", "error", err)
		}
		return false
	}
	if err := m.page.SetCookies(ctx, snap.Cookies); err != nil {
		m.logger.Warn("Failed to restore cookies", "error", err)
		return false
	}
	m.logger.Info("Restored session cookies", "count", len(snap.Cookies), "saved_at", snap.UpdatedAt)
	return true
}

func (m *Manager) saveSnapshot(ctx context.Context, sess *credential.Session) {
	if err := m.snapshots.Save(ctx, m.cfg.Credentials.Key(), sess); err != nil {
		m.logger.Warn("Failed to save session snapshot", "error", err)
	}
}

func (m *Manager) setSession(sess *credential.Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
}

// setAccessToken records a freshly derived token on the live session.
func (m *Manager) setAccessToken(token string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.AccessToken = token
		m.session.ExpiresAt = expiresAt
	}
}

func (m *Manager) transitionTo(newState state.SessionState) error {
	m.mu.Lock()
	oldState := m.state

	if !oldState.CanTransitionTo(newState) {
		m.mu.Unlock()
		return state.NewTransitionError(oldState, newState, "invalid transition")
	}

	m.state = newState
	m.mu.Unlock()

	m.publish(event.NewSessionStateChanged(m.id, oldState, newState))
	m.logger.Info("State changed", "from", oldState, "to", newState)

	return nil
}

func (m *Manager) publish(e event.Event) {
	if m.eventBus != nil {
		m.eventBus.Publish(e)
	}
}
