package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/CoCo-27/chatgpt-api/core/eventbus"
	"github.com/CoCo-27/chatgpt-api/domain/conversation"
	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/domain/site"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
)

// DefaultTimeout bounds a single exchange when no timeout is given.
const DefaultTimeout = 2 * time.Minute

// AuthBridge obtains authentication artifacts on a loaded page. It must
// leave the page on the chat surface and return at least a session token,
// unless credentials are empty, in which case a clearance token suffices.
type AuthBridge interface {
	Authenticate(ctx context.Context, d browser.Driver, creds credential.Credentials) (*credential.Session, error)
}

// Clock abstracts time for exchange timeouts.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Config holds configuration for creating a Manager.
type Config struct {
	// ID identifies the session in logs and events. Generated when empty.
	ID string

	Profile     *site.Profile
	Driver      browser.Driver
	Bridge      AuthBridge
	Credentials credential.Credentials

	// Snapshots persists cookies between runs. Optional.
	Snapshots *credential.Service
	// EventBus receives lifecycle and exchange events. Optional.
	EventBus eventbus.EventBus
	Logger   *slog.Logger
	Clock    Clock

	// Timeout is the default per-exchange timeout.
	Timeout time.Duration
	// NavigationTimeout bounds page loads during Init and Refresh.
	NavigationTimeout time.Duration
	// Model overrides the profile's model.
	Model string
	// BlockResources aborts image, font and media requests.
	BlockResources bool
	// Markdown is carried for callers; answers are returned as received.
	Markdown bool
	// ProxyServer and Minimize are forwarded to the browser by DriverConfig.
	ProxyServer string
	Minimize    bool
	// CapacityInterval and CapacityRetries override the profile's capacity settings.
	CapacityInterval time.Duration
	CapacityRetries  int
}

// DefaultConfig returns a configuration with default timeouts. Profile,
// Driver and Bridge must still be set.
func DefaultConfig() *Config {
	return &Config{
		Timeout:           DefaultTimeout,
		NavigationTimeout: time.Minute,
		Markdown:          true,
		BlockResources:    true,
	}
}

// DriverConfig returns browser settings derived from the session config.
func (c *Config) DriverConfig() *browser.DriverConfig {
	dc := browser.DefaultDriverConfig()
	dc.ProxyServer = c.ProxyServer
	dc.Minimize = c.Minimize
	return dc
}

// SendOptions tune a single SendMessage call. Cancellation comes from the
// context passed to SendMessage; a cause set with context.WithCancelCause is
// reported inside the AbortError.
type SendOptions struct {
	// ConversationID and ParentMessageID override the current thread.
	ConversationID  string
	ParentMessageID string
	// Timeout overrides Config.Timeout.
	Timeout time.Duration
	// OnProgress receives the cumulative answer as it streams.
	OnProgress conversation.ProgressFunc
}

func (o *SendOptions) thread(current conversation.Thread) conversation.Thread {
	if o == nil || (o.ConversationID == "" && o.ParentMessageID == "") {
		return current
	}
	return conversation.Thread{ConversationID: o.ConversationID, ParentMessageID: o.ParentMessageID}
}
