package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CoCo-27/chatgpt-api/core/event"
	"github.com/CoCo-27/chatgpt-api/core/eventbus"
	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/domain/site"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
)

const (
	testConversationURL = "https://chat.example.com/backend-api/conversation"
	testSessionURL      = "https://chat.example.com/api/auth/session"
)

func testProfile() *site.Profile {
	return &site.Profile{
		Name:                "test",
		BaseURL:             "https://chat.example.com/",
		LoginURL:            "https://chat.example.com/auth/login",
		SessionURL:          testSessionURL,
		ConversationURL:     testConversationURL,
		ConversationPattern: testConversationURL,
		Model:               "text-davinci-002-render",
		Cookies: site.CookieNames{
			Clearance: "cf_clearance",
			Session:   "__Secure-next-auth.session-token",
		},
		Selectors: site.Selectors{Loaded: "body", Ready: "textarea"},
		Capacity: site.Capacity{
			Text:     "at capacity",
			Interval: 5 * time.Millisecond,
			Retries:  2,
		},
	}
}

// signedToken returns an HS256 token expiring at exp.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func tokenOK(token string) tokenProbe {
	body, _ := json.Marshal(tokenBody{AccessToken: token})
	return tokenProbe{Status: 200, Body: string(body)}
}

// reply is the conversation response delivered for one submit.
type reply struct {
	status int
	body   string
	// hold delays the response until closed.
	hold chan struct{}
	// silent never delivers a response.
	silent bool
}

func sse(frames ...string) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: " + f + "\n\n")
	}
	return b.String()
}

func answer(conv, msg string, texts ...string) string {
	frames := make([]string, 0, len(texts)+1)
	for _, text := range texts {
		frames = append(frames, fmt.Sprintf(
			`{"message":{"id":%q,"content":{"content_type":"text","parts":[%q]}},"conversation_id":%q}`,
			msg, text, conv))
	}
	frames = append(frames, "[DONE]")
	return sse(frames...)
}

// fakeDriver plays the page side of a session. Submitted prompts go
// through the installed request hook and are answered through the
// response hook, the way a real browser reports intercepted traffic.
type fakeDriver struct {
	mu sync.Mutex

	running     bool
	starts      int
	stops       int
	startErr    error
	navigations []string
	reloads     int
	waits       []string
	neverLoads  bool
	capacity    bool
	// clearAfter > 0 hides the capacity banner after that many reloads.
	clearAfter int
	cookies     []browser.Cookie
	setCookies  [][]browser.Cookie

	tokens  []tokenProbe
	replies []reply

	submits     []submitArgs
	authHeaders []string
	submitted   chan struct{}

	requestHook  browser.RequestHook
	responseHook *browser.ResponseHook
	nextID       int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{submitted: make(chan struct{}, 16)}
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.starts++
	d.running = true
	return nil
}

func (d *fakeDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.stops++
	}
	d.running = false
	return nil
}

func (d *fakeDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigations = append(d.navigations, url)
	return nil
}

func (d *fakeDriver) Reload(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reloads++
	if d.clearAfter > 0 && d.reloads >= d.clearAfter {
		d.capacity = false
	}
	return nil
}

func (d *fakeDriver) Evaluate(ctx context.Context, script string, res any) error {
	switch {
	case strings.HasPrefix(script, tokenScript):
		d.mu.Lock()
		probe := tokenProbe{Status: 401, Body: "{}"}
		if len(d.tokens) > 0 {
			probe = d.tokens[0]
			if len(d.tokens) > 1 {
				d.tokens = d.tokens[1:]
			}
		}
		d.mu.Unlock()
		*res.(*tokenProbe) = probe
		return nil

	case strings.HasPrefix(script, capacityScript):
		d.mu.Lock()
		*res.(*bool) = d.capacity
		d.mu.Unlock()
		return nil

	case strings.HasPrefix(script, submitScript):
		raw := strings.TrimSuffix(strings.TrimPrefix(script, submitScript+"("), ")")
		var args submitArgs
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return err
		}
		d.submit(args)
		return nil
	}
	return nil
}

func (d *fakeDriver) submit(args submitArgs) {
	d.mu.Lock()
	d.nextID++
	id := fmt.Sprintf("req-%d", d.nextID)
	d.submits = append(d.submits, args)
	r := reply{status: 500, body: ""}
	if len(d.replies) > 0 {
		r = d.replies[0]
		if len(d.replies) > 1 {
			d.replies = d.replies[1:]
		}
	}
	reqHook, respHook := d.requestHook, d.responseHook
	d.mu.Unlock()

	if reqHook != nil {
		decision := reqHook(&browser.Request{
			ID:           id,
			URL:          args.URL,
			Method:       "POST",
			ResourceType: browser.ResourceFetch,
			Headers:      map[string]string{"Content-Type": "application/json"},
		})
		d.mu.Lock()
		d.authHeaders = append(d.authHeaders, decision.Headers["Authorization"])
		d.mu.Unlock()
	}
	select {
	case d.submitted <- struct{}{}:
	default:
	}

	if r.silent || respHook == nil || !respHook.Match(args.URL) {
		return
	}
	go func() {
		if r.hold != nil {
			<-r.hold
		}
		respHook.Handle(&browser.Response{
			RequestID: id,
			URL:       args.URL,
			Status:    r.status,
			Body:      io.NopCloser(strings.NewReader(r.body)),
		})
	}()
}

func (d *fakeDriver) WaitVisible(ctx context.Context, selector string) error {
	d.mu.Lock()
	d.waits = append(d.waits, selector)
	never := d.neverLoads
	d.mu.Unlock()
	if never {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (d *fakeDriver) SendKeys(ctx context.Context, selector, text string) error { return nil }
func (d *fakeDriver) ClickElement(ctx context.Context, selector string) error   { return nil }

func (d *fakeDriver) GetCookies(ctx context.Context) ([]browser.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]browser.Cookie(nil), d.cookies...), nil
}

func (d *fakeDriver) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setCookies = append(d.setCookies, cookies)
	d.cookies = append(d.cookies, cookies...)
	return nil
}

func (d *fakeDriver) SetRequestHook(h browser.RequestHook) {
	d.mu.Lock()
	d.requestHook = h
	d.mu.Unlock()
}

func (d *fakeDriver) SetResponseHook(h *browser.ResponseHook) {
	d.mu.Lock()
	d.responseHook = h
	d.mu.Unlock()
}

func (d *fakeDriver) stats() (starts, stops, reloads int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, d.reloads
}

func (d *fakeDriver) lastSubmit() submitArgs {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits[len(d.submits)-1]
}

func (d *fakeDriver) waitSubmitted(t *testing.T) {
	t.Helper()
	select {
	case <-d.submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt was not submitted")
	}
}

var _ browser.Driver = (*fakeDriver)(nil)

// fakeBridge returns a canned session.
type fakeBridge struct {
	mu      sync.Mutex
	calls   int
	err     error
	session *credential.Session
}

func (b *fakeBridge) Authenticate(ctx context.Context, d browser.Driver, creds credential.Credentials) (*credential.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.session.Clone(), nil
}

func (b *fakeBridge) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{session: &credential.Session{
		UserAgent:      "Mozilla/5.0",
		SessionToken:   "session-token",
		ClearanceToken: "clearance",
		Cookies: credential.CookieMap([]credential.Cookie{
			{Name: "__Secure-next-auth.session-token", Value: "session-token"},
			{Name: "cf_clearance", Value: "clearance"},
		}),
	}}
}

// fakeClock fires After only when the test says so.
type fakeClock struct {
	now   time.Time
	fired chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		fired: make(chan time.Time, 1),
	}
}

func (c *fakeClock) Now() time.Time                       { return c.now }
func (c *fakeClock) After(time.Duration) <-chan time.Time { return c.fired }
func (c *fakeClock) fire()                                { c.fired <- c.now }

// recordingBus keeps published events in order.
type recordingBus struct {
	eventbus.EventBus

	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Publish(e event.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.events))
	for i, e := range b.events {
		names[i] = e.EventName()
	}
	return names
}

// memoryRepository is an in-memory snapshot store.
type memoryRepository struct {
	mu        sync.Mutex
	snapshots map[string]*credential.Snapshot
}

func (r *memoryRepository) FindByKey(ctx context.Context, key string) (*credential.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[key], nil
}

func (r *memoryRepository) Save(ctx context.Context, s *credential.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.Key] = s
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, key)
	return nil
}

func (d *fakeDriver) setTokens(tokens ...tokenProbe) {
	d.mu.Lock()
	d.tokens = tokens
	d.mu.Unlock()
}

func (d *fakeDriver) setReplies(replies ...reply) {
	d.mu.Lock()
	d.replies = replies
	d.mu.Unlock()
}

func (d *fakeDriver) submitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.submits)
}
