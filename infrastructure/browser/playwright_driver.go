package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver implements Driver on top of playwright-go. Playwright
// buffers response bodies, so a ResponseHook sees the whole body at once
// rather than as it streams.
type PlaywrightDriver struct {
	config  *DriverConfig
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	running bool

	hookMu       sync.RWMutex
	requestHook  RequestHook
	responseHook *ResponseHook

	idMu sync.Mutex
	ids  map[playwright.Request]string
}

// NewPlaywrightDriver creates a new playwright-based browser driver.
func NewPlaywrightDriver(config *DriverConfig) *PlaywrightDriver {
	if config == nil {
		config = DefaultDriverConfig()
	}
	return &PlaywrightDriver{
		config: config,
		ids:    make(map[playwright.Request]string),
	}
}

func (d *PlaywrightDriver) launchArgs() []string {
	args := []string{"--disable-blink-features=AutomationControlled"}
	if d.config.Minimize && !d.config.Headless {
		args = append(args, "--start-minimized")
	}
	return args
}

func (d *PlaywrightDriver) proxy() *playwright.Proxy {
	if d.config.ProxyServer == "" {
		return nil
	}
	return &playwright.Proxy{Server: d.config.ProxyServer}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return playwright.String(s)
}

// Start launches playwright, the browser and a single page.
func (d *PlaywrightDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("browser already running")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	pw, err := playwright.Run(&playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	d.pw = pw

	viewport := &playwright.Size{Width: d.config.WindowWidth, Height: d.config.WindowHeight}
	if d.config.UserDataDir != "" {
		d.bctx, err = pw.Chromium.LaunchPersistentContext(d.config.UserDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:       playwright.Bool(d.config.Headless),
			Proxy:          d.proxy(),
			ExecutablePath: optionalString(d.config.ExecPath),
			Args:           d.launchArgs(),
			UserAgent:      optionalString(d.config.UserAgent),
			Viewport:       viewport,
		})
		if err != nil {
			d.cleanup()
			return fmt.Errorf("failed to launch browser: %w", err)
		}
	} else {
		d.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless:       playwright.Bool(d.config.Headless),
			Proxy:          d.proxy(),
			ExecutablePath: optionalString(d.config.ExecPath),
			Args:           d.launchArgs(),
		})
		if err != nil {
			d.cleanup()
			return fmt.Errorf("failed to launch browser: %w", err)
		}
		d.bctx, err = d.browser.NewContext(playwright.BrowserNewContextOptions{
			UserAgent: optionalString(d.config.UserAgent),
			Viewport:  viewport,
		})
		if err != nil {
			d.cleanup()
			return fmt.Errorf("failed to create context: %w", err)
		}
	}

	d.page, err = d.bctx.NewPage()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to create page: %w", err)
	}

	if err := d.page.Route("**/*", d.onRoute); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to enable request interception: %w", err)
	}
	d.page.OnResponse(d.onResponse)

	d.running = true
	return nil
}

// Stop closes the browser and releases resources.
func (d *PlaywrightDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.cleanup()
	return nil
}

func (d *PlaywrightDriver) cleanup() {
	d.running = false
	if d.bctx != nil {
		_ = d.bctx.Close()
		d.bctx = nil
	}
	if d.browser != nil {
		_ = d.browser.Close()
		d.browser = nil
	}
	if d.pw != nil {
		_ = d.pw.Stop()
		d.pw = nil
	}
	d.page = nil

	d.idMu.Lock()
	d.ids = make(map[playwright.Request]string)
	d.idMu.Unlock()
}

// IsRunning returns true if the browser is active.
func (d *PlaywrightDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *PlaywrightDriver) currentPage() (playwright.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.page == nil {
		return nil, fmt.Errorf("browser not running")
	}
	return d.page, nil
}

// do runs a blocking playwright call and returns early when ctx ends.
// The call itself keeps running until playwright's own timeout.
func (d *PlaywrightDriver) do(ctx context.Context, fn func() error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timeoutMillis converts the ctx deadline into a playwright timeout.
func timeoutMillis(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return &ms
}

// Navigate navigates to the specified URL.
func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	return d.do(ctx, func() error {
		if _, err := page.Goto(url, playwright.PageGotoOptions{Timeout: timeoutMillis(ctx)}); err != nil {
			return fmt.Errorf("navigation failed: %w", err)
		}
		return nil
	})
}

// Reload refreshes the current page.
func (d *PlaywrightDriver) Reload(ctx context.Context) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	return d.do(ctx, func() error {
		if _, err := page.Reload(playwright.PageReloadOptions{Timeout: timeoutMillis(ctx)}); err != nil {
			return fmt.Errorf("reload failed: %w", err)
		}
		return nil
	})
}

// Evaluate runs script in the page. Playwright awaits returned promises.
func (d *PlaywrightDriver) Evaluate(ctx context.Context, script string, res any) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	return d.do(ctx, func() error {
		v, err := page.Evaluate(script)
		if err != nil {
			return fmt.Errorf("evaluate failed: %w", err)
		}
		if res == nil {
			return nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode evaluate result: %w", err)
		}
		return json.Unmarshal(raw, res)
	})
}

// WaitVisible waits for an element to become visible.
func (d *PlaywrightDriver) WaitVisible(ctx context.Context, selector string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	return d.do(ctx, func() error {
		_, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: timeoutMillis(ctx),
		})
		if err != nil {
			return fmt.Errorf("wait failed: %w", err)
		}
		return nil
	})
}

// SendKeys fills the element matching selector with text.
func (d *PlaywrightDriver) SendKeys(ctx context.Context, selector, text string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	return d.do(ctx, func() error {
		if err := page.Fill(selector, text, playwright.PageFillOptions{Timeout: timeoutMillis(ctx)}); err != nil {
			return fmt.Errorf("fill failed: %w", err)
		}
		return nil
	})
}

// ClickElement clicks on an element by selector.
func (d *PlaywrightDriver) ClickElement(ctx context.Context, selector string) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	return d.do(ctx, func() error {
		if err := page.Click(selector, playwright.PageClickOptions{Timeout: timeoutMillis(ctx)}); err != nil {
			return fmt.Errorf("click failed: %w", err)
		}
		return nil
	})
}

// GetCookies retrieves all browser cookies.
func (d *PlaywrightDriver) GetCookies(ctx context.Context) ([]Cookie, error) {
	page, err := d.currentPage()
	if err != nil {
		return nil, err
	}

	var cookies []Cookie
	err = d.do(ctx, func() error {
		pc, err := page.Context().Cookies()
		if err != nil {
			return fmt.Errorf("failed to get cookies: %w", err)
		}
		cookies = make([]Cookie, len(pc))
		for i, c := range pc {
			cookies[i] = Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  epochToTime(c.Expires),
				HTTPOnly: c.HttpOnly,
				Secure:   c.Secure,
			}
		}
		return nil
	})
	return cookies, err
}

// SetCookies sets browser cookies.
func (d *PlaywrightDriver) SetCookies(ctx context.Context, cookies []Cookie) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}

	optional := make([]playwright.OptionalCookie, len(cookies))
	for i, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if oc.Path == nil || *oc.Path == "" {
			oc.Path = playwright.String("/")
		}
		if !c.Expires.IsZero() {
			oc.Expires = playwright.Float(float64(c.Expires.Unix()))
		}
		optional[i] = oc
	}

	return d.do(ctx, func() error {
		return page.Context().AddCookies(optional)
	})
}

// SetRequestHook installs the outgoing request hook.
func (d *PlaywrightDriver) SetRequestHook(hook RequestHook) {
	d.hookMu.Lock()
	d.requestHook = hook
	d.hookMu.Unlock()
}

// SetResponseHook installs the incoming response hook.
func (d *PlaywrightDriver) SetResponseHook(hook *ResponseHook) {
	d.hookMu.Lock()
	d.responseHook = hook
	d.hookMu.Unlock()
}

func (d *PlaywrightDriver) hooks() (RequestHook, *ResponseHook) {
	d.hookMu.RLock()
	defer d.hookMu.RUnlock()
	return d.requestHook, d.responseHook
}

func (d *PlaywrightDriver) requestID(req playwright.Request, create bool) string {
	d.idMu.Lock()
	defer d.idMu.Unlock()

	if id, ok := d.ids[req]; ok {
		if !create {
			delete(d.ids, req)
		}
		return id
	}
	if !create {
		return ""
	}
	id := uuid.NewString()
	d.ids[req] = id
	return id
}

func (d *PlaywrightDriver) onRoute(route playwright.Route) {
	requestHook, _ := d.hooks()
	if requestHook == nil {
		_ = route.Continue()
		return
	}

	req := route.Request()
	headers, err := req.AllHeaders()
	if err != nil {
		headers = req.Headers()
	}

	decision := requestHook(&Request{
		ID:           d.requestID(req, true),
		URL:          req.URL(),
		Method:       req.Method(),
		ResourceType: normalizeResourceType(req.ResourceType()),
		Headers:      headers,
	})

	if decision.Abort {
		d.requestID(req, false)
		_ = route.Abort("blockedbyclient")
		return
	}
	if decision.Headers != nil {
		_ = route.Continue(playwright.RouteContinueOptions{Headers: decision.Headers})
		return
	}
	_ = route.Continue()
}

func (d *PlaywrightDriver) onResponse(resp playwright.Response) {
	_, responseHook := d.hooks()
	id := d.requestID(resp.Request(), false)
	if responseHook == nil || responseHook.Match == nil || !responseHook.Match(resp.URL()) {
		return
	}

	body, err := resp.Body()
	var reader io.ReadCloser
	if err != nil {
		pr, pw := io.Pipe()
		pw.CloseWithError(fmt.Errorf("failed to read response body: %w", err))
		reader = pr
	} else {
		reader = io.NopCloser(bytes.NewReader(body))
	}

	headers := make(map[string]string)
	for k, v := range resp.Headers() {
		headers[strings.ToLower(k)] = v
	}

	responseHook.Handle(&Response{
		RequestID: id,
		URL:       resp.URL(),
		Status:    resp.Status(),
		Headers:   headers,
		Body:      reader,
	})
}

// normalizeResourceType maps playwright's lowercase names onto ResourceType.
func normalizeResourceType(t string) ResourceType {
	switch strings.ToLower(t) {
	case "document":
		return ResourceDocument
	case "fetch":
		return ResourceFetch
	case "xhr":
		return ResourceXHR
	case "image":
		return ResourceImage
	case "font":
		return ResourceFont
	case "media":
		return ResourceMedia
	default:
		return ResourceOther
	}
}

// Ensure PlaywrightDriver implements Driver
var _ Driver = (*PlaywrightDriver)(nil)
