// Package intercept watches the page's network traffic: it stamps the
// access token on conversation requests and rebuilds streamed answers from
// the matching responses.
package intercept

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/CoCo-27/chatgpt-api/core/chaterr"
	"github.com/CoCo-27/chatgpt-api/domain/stream"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
)

// ErrBusy is returned by Attach while another exchange is live.
var ErrBusy = errors.New("an exchange is already attached")

// Config configures an Interceptor.
type Config struct {
	// ConversationPattern is a glob matched against full request URLs.
	ConversationPattern string
	// BlockResources aborts image, font and media requests.
	BlockResources bool
	Logger         *slog.Logger
}

// Interceptor owns the request and response hooks of one page. At most one
// Pending is attached at a time.
type Interceptor struct {
	matcher glob.Glob
	block   bool
	logger  *slog.Logger

	mu      sync.Mutex
	driver  browser.Driver
	pending *Pending
	token   string
}

// New creates an interceptor. It fails if the pattern does not compile.
func New(cfg Config) (*Interceptor, error) {
	if cfg.ConversationPattern == "" {
		return nil, fmt.Errorf("conversation pattern is required")
	}
	matcher, err := glob.Compile(cfg.ConversationPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation pattern %q: %w", cfg.ConversationPattern, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Interceptor{
		matcher: matcher,
		block:   cfg.BlockResources,
		logger:  cfg.Logger,
	}, nil
}

// Matches reports whether url is a conversation endpoint.
func (i *Interceptor) Matches(url string) bool {
	return i.matcher.Match(url)
}

// Install registers the hooks on d, replacing any installed earlier.
func (i *Interceptor) Install(d browser.Driver) {
	i.mu.Lock()
	i.driver = d
	i.mu.Unlock()

	d.SetRequestHook(i.onRequest)
	d.SetResponseHook(&browser.ResponseHook{
		Match:  i.Matches,
		Handle: i.onResponse,
	})
}

// Uninstall removes the hooks from the driver they were installed on.
func (i *Interceptor) Uninstall() {
	i.mu.Lock()
	d := i.driver
	i.driver = nil
	i.mu.Unlock()

	if d != nil {
		d.SetRequestHook(nil)
		d.SetResponseHook(nil)
	}
}

// Attach makes p the live exchange. The next conversation request carries
// token and binds its request id to p.
func (i *Interceptor) Attach(p *Pending, token string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending != nil && !i.pending.Settled() {
		return ErrBusy
	}
	i.pending = p
	i.token = token
	return nil
}

// Detach clears p if it is still the live exchange.
func (i *Interceptor) Detach(p *Pending) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending == p {
		i.pending = nil
		i.token = ""
	}
}

// Abort settles the live exchange, if any, with err.
func (i *Interceptor) Abort(err error) {
	i.mu.Lock()
	p := i.pending
	i.mu.Unlock()

	if p != nil {
		p.Settle(nil, err)
	}
}

func (i *Interceptor) live() (*Pending, string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending, i.token
}

func (i *Interceptor) onRequest(req *browser.Request) browser.RequestDecision {
	if i.block {
		switch req.ResourceType {
		case browser.ResourceImage, browser.ResourceFont, browser.ResourceMedia:
			return browser.RequestDecision{Abort: true}
		}
	}

	if req.Method != http.MethodPost || !i.Matches(req.URL) {
		return browser.RequestDecision{}
	}

	p, token := i.live()
	if p == nil || token == "" {
		return browser.RequestDecision{}
	}
	if !p.bind(req.ID) {
		i.logger.Debug("Conversation request not bound", "request_id", req.ID, "exchange_id", p.ID)
	}

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		if strings.EqualFold(k, "authorization") {
			continue
		}
		headers[k] = v
	}
	headers["Authorization"] = "Bearer " + token

	return browser.RequestDecision{Headers: headers}
}

func (i *Interceptor) onResponse(resp *browser.Response) {
	p, _ := i.live()
	if p == nil || !p.owns(resp.RequestID) {
		i.logger.Debug("Discarding unbound conversation response", "request_id", resp.RequestID, "status", resp.Status)
		_ = resp.Body.Close()
		return
	}

	if err := chaterr.FromStatus(resp.Status, "conversation request failed"); err != nil {
		_ = resp.Body.Close()
		p.Settle(nil, err)
		return
	}

	i.consume(p, resp.Body)
}

// consume decodes body into p until the terminal frame, the end of the
// body, or settlement from elsewhere.
func (i *Interceptor) consume(p *Pending, body io.ReadCloser) {
	if !p.attach(body) {
		_ = body.Close()
		return
	}
	defer body.Close()

	dec := stream.NewDecoder(body)
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.Settle(nil, chaterr.Wrap(chaterr.KindProtocol, err, "conversation stream interrupted"))
			return
		}
		if frame.Terminal {
			if dec.Valid() == 0 {
				p.Settle(nil, chaterr.New(chaterr.KindProtocol, "conversation stream ended before any valid frame"))
				return
			}
			p.Settle(p.result(), nil)
			return
		}
		p.apply(frame)
	}

	switch {
	case dec.Valid() == 0:
		p.Settle(nil, chaterr.New(chaterr.KindProtocol, "conversation stream carried no valid frames"))
	case dec.EndedMalformed():
		p.Settle(nil, chaterr.New(chaterr.KindProtocol, "conversation stream ended on a malformed frame"))
	default:
		p.Settle(p.result(), nil)
	}

	if n := dec.Malformed(); n > 0 {
		i.logger.Debug("Skipped malformed frames", "exchange_id", p.ID, "count", n)
	}
}
