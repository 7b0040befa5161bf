package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	cdpio "github.com/chromedp/cdproto/io"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// ChromeDPDriver implements Driver using chromedp. Interception runs on the
// Fetch domain: every request pauses at the request stage, and Fetch/XHR
// responses pause at the response stage so their bodies can be streamed.
type ChromeDPDriver struct {
	config      *DriverConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.Mutex
	running     bool

	hookMu       sync.RWMutex
	requestHook  RequestHook
	responseHook *ResponseHook
}

// NewChromeDPDriver creates a new ChromeDP-based browser driver.
func NewChromeDPDriver(config *DriverConfig) *ChromeDPDriver {
	if config == nil {
		config = DefaultDriverConfig()
	}
	if config.BodyChunkSize <= 0 {
		config.BodyChunkSize = DefaultDriverConfig().BodyChunkSize
	}
	return &ChromeDPDriver{
		config: config,
	}
}

// buildExecAllocatorOptions builds chromedp options from config.
func (d *ChromeDPDriver) buildExecAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(d.config.WindowWidth, d.config.WindowHeight),
	)

	if d.config.Minimize && !d.config.Headless {
		opts = append(opts, chromedp.Flag("start-minimized", true))
	}
	if d.config.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(d.config.ProxyServer))
	}
	if d.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.config.UserAgent))
	}
	if d.config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(d.config.UserDataDir))
	}
	if d.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.config.ExecPath))
	}

	return opts
}

// Start launches the browser and enables request interception.
func (d *ChromeDPDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("browser already running")
	}

	// Create allocator context from context.Background() to ensure browser lifecycle
	// is independent of the caller's context
	d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(
		context.Background(),
		d.buildExecAllocatorOptions()...,
	)
	d.ctx, d.cancel = chromedp.NewContext(d.allocCtx)

	chromedp.ListenTarget(d.ctx, d.onTargetEvent)

	patterns := []*fetch.RequestPattern{
		{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
		{URLPattern: "*", ResourceType: network.ResourceTypeFetch, RequestStage: fetch.RequestStageResponse},
		{URLPattern: "*", ResourceType: network.ResourceTypeXHR, RequestStage: fetch.RequestStageResponse},
	}
	if err := d.runLocked(ctx, d.ctx, fetch.Enable().WithPatterns(patterns)); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to enable request interception: %w", err)
	}

	d.running = true
	return nil
}

// Stop closes the browser and releases resources.
func (d *ChromeDPDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cleanup()
	return nil
}

func (d *ChromeDPDriver) cleanup() {
	d.running = false
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.ctx = nil
	d.allocCtx = nil
}

// IsRunning returns true if the browser is active.
func (d *ChromeDPDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// browserContext returns the browser context or an error if not running.
func (d *ChromeDPDriver) browserContext() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.ctx == nil {
		return nil, fmt.Errorf("browser not running")
	}
	return d.ctx, nil
}

// run executes actions on the browser context while honoring the caller's
// deadline and cancellation.
func (d *ChromeDPDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	browserCtx, err := d.browserContext()
	if err != nil {
		return err
	}
	return d.runLocked(ctx, browserCtx, actions...)
}

// runLocked is run without the running check. The browser context's own
// lifetime is never tied to ctx.
func (d *ChromeDPDriver) runLocked(ctx, browserCtx context.Context, actions ...chromedp.Action) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	execCtx := browserCtx
	if deadline, ok := ctx.Deadline(); ok {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(browserCtx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(execCtx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate navigates to the specified URL.
func (d *ChromeDPDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

// Reload refreshes the current page.
func (d *ChromeDPDriver) Reload(ctx context.Context) error {
	return d.run(ctx, chromedp.Reload())
}

// Evaluate runs script in the page and awaits a returned promise.
func (d *ChromeDPDriver) Evaluate(ctx context.Context, script string, res any) error {
	if res == nil {
		var ignored any
		res = &ignored
	}
	return d.run(ctx, chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

// WaitVisible waits for an element to become visible.
func (d *ChromeDPDriver) WaitVisible(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// SendKeys sends keystrokes to an element.
func (d *ChromeDPDriver) SendKeys(ctx context.Context, selector, text string) error {
	return d.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// ClickElement clicks on an element by selector.
func (d *ChromeDPDriver) ClickElement(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// GetCookies retrieves all browser cookies.
func (d *ChromeDPDriver) GetCookies(ctx context.Context) ([]Cookie, error) {
	var networkCookies []*network.Cookie
	if err := d.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			networkCookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	cookies := make([]Cookie, len(networkCookies))
	for i, nc := range networkCookies {
		cookies[i] = Cookie{
			Name:     nc.Name,
			Value:    nc.Value,
			Domain:   nc.Domain,
			Path:     nc.Path,
			Expires:  epochToTime(nc.Expires),
			HTTPOnly: nc.HTTPOnly,
			Secure:   nc.Secure,
		}
	}

	return cookies, nil
}

// SetCookies sets browser cookies.
func (d *ChromeDPDriver) SetCookies(ctx context.Context, cookies []Cookie) error {
	actions := make([]chromedp.Action, len(cookies))
	for i, c := range cookies {
		cookie := c // capture for closure
		actions[i] = chromedp.ActionFunc(func(ctx context.Context) error {
			setCookie := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				WithHTTPOnly(cookie.HTTPOnly).
				WithSecure(cookie.Secure)

			if !cookie.Expires.IsZero() {
				expires := cdp.TimeSinceEpoch(cookie.Expires)
				setCookie = setCookie.WithExpires(&expires)
			}

			return setCookie.Do(ctx)
		})
	}

	return d.run(ctx, actions...)
}

// SetRequestHook installs the outgoing request hook.
func (d *ChromeDPDriver) SetRequestHook(hook RequestHook) {
	d.hookMu.Lock()
	d.requestHook = hook
	d.hookMu.Unlock()
}

// SetResponseHook installs the incoming response hook.
func (d *ChromeDPDriver) SetResponseHook(hook *ResponseHook) {
	d.hookMu.Lock()
	d.responseHook = hook
	d.hookMu.Unlock()
}

func (d *ChromeDPDriver) hooks() (RequestHook, *ResponseHook) {
	d.hookMu.RLock()
	defer d.hookMu.RUnlock()
	return d.requestHook, d.responseHook
}

// onTargetEvent must not block; chromedp delivers target events serially.
func (d *ChromeDPDriver) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go d.handlePaused(e)
	}
}

// executor returns a context that can issue CDP commands from any goroutine.
func (d *ChromeDPDriver) executor() context.Context {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()

	if ctx == nil {
		return nil
	}
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return nil
	}
	return cdp.WithExecutor(ctx, c.Target)
}

func (d *ChromeDPDriver) handlePaused(e *fetch.EventRequestPaused) {
	ctx := d.executor()
	if ctx == nil {
		return
	}

	if e.ResponseStatusCode != 0 || e.ResponseErrorReason != "" {
		d.handleResponseStage(ctx, e)
		return
	}
	d.handleRequestStage(ctx, e)
}

func (d *ChromeDPDriver) handleRequestStage(ctx context.Context, e *fetch.EventRequestPaused) {
	requestHook, _ := d.hooks()
	if requestHook == nil {
		_ = fetch.ContinueRequest(e.RequestID).Do(ctx)
		return
	}

	decision := requestHook(&Request{
		ID:           string(e.NetworkID),
		URL:          e.Request.URL,
		Method:       e.Request.Method,
		ResourceType: ResourceType(e.ResourceType),
		Headers:      flattenHeaders(e.Request.Headers),
	})

	if decision.Abort {
		_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
		return
	}

	cont := fetch.ContinueRequest(e.RequestID)
	if decision.Headers != nil {
		cont = cont.WithHeaders(toHeaderEntries(decision.Headers))
	}
	_ = cont.Do(ctx)
}

// handleResponseStage streams a matched body to the hook while buffering it,
// then fulfills the paused request so the page still receives the response.
func (d *ChromeDPDriver) handleResponseStage(ctx context.Context, e *fetch.EventRequestPaused) {
	_, responseHook := d.hooks()
	if e.ResponseErrorReason != "" {
		_ = fetch.ContinueRequest(e.RequestID).Do(ctx)
		return
	}
	if responseHook == nil || responseHook.Match == nil || !responseHook.Match(e.Request.URL) {
		_ = fetch.ContinueResponse(e.RequestID).Do(ctx)
		return
	}

	stream, err := fetch.TakeResponseBodyAsStream(e.RequestID).Do(ctx)
	if err != nil {
		_ = fetch.ContinueResponse(e.RequestID).Do(ctx)
		return
	}

	pr, pw := io.Pipe()
	go responseHook.Handle(&Response{
		RequestID: string(e.NetworkID),
		URL:       e.Request.URL,
		Status:    int(e.ResponseStatusCode),
		Headers:   headerEntriesToMap(e.ResponseHeaders),
		Body:      pr,
	})

	var body bytes.Buffer
	readerGone := false
	for {
		encoded, data, eof, err := cdpio.Read(stream).WithSize(int64(d.config.BodyChunkSize)).Do(ctx)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("failed to read response body: %w", err))
			break
		}

		chunk := []byte(data)
		if encoded {
			if chunk, err = base64.StdEncoding.DecodeString(data); err != nil {
				pw.CloseWithError(fmt.Errorf("failed to decode response chunk: %w", err))
				break
			}
		}
		body.Write(chunk)

		// The consumer may detach early; keep draining so the page is fulfilled.
		if !readerGone && len(chunk) > 0 {
			if _, werr := pw.Write(chunk); werr != nil {
				readerGone = true
			}
		}
		if eof {
			pw.Close()
			break
		}
	}
	_ = cdpio.Close(stream).Do(ctx)

	_ = fetch.FulfillRequest(e.RequestID, e.ResponseStatusCode).
		WithResponseHeaders(e.ResponseHeaders).
		WithBody(base64.StdEncoding.EncodeToString(body.Bytes())).
		Do(ctx)
}

func flattenHeaders(h network.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func toHeaderEntries(h map[string]string) []*fetch.HeaderEntry {
	entries := make([]*fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		entries = append(entries, &fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}

func headerEntriesToMap(entries []*fetch.HeaderEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[strings.ToLower(e.Name)] = e.Value
	}
	return out
}

// epochToTime converts CDP cookie expiry seconds; session cookies report -1.
func epochToTime(seconds float64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	sec := int64(seconds)
	return time.Unix(sec, int64((seconds-float64(sec))*1e9))
}

// Ensure ChromeDPDriver implements Driver
var _ Driver = (*ChromeDPDriver)(nil)
