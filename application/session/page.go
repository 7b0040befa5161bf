package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CoCo-27/chatgpt-api/domain/conversation"
	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/domain/site"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
)

// Page scripts. Arguments are appended as a JSON call so they are never
// interpolated into script text.
const (
	capacityScript = `((text) => !!document.body && document.body.innerText.includes(text))`

	tokenScript = `(async (url) => {
  try {
    const res = await fetch(url, { credentials: "include" });
    return { status: res.status, body: await res.text() };
  } catch (err) {
    return { status: 0, body: String(err) };
  }
})`

	// submitScript starts the conversation request and returns at once. The
	// answer is read from intercepted traffic, not from this fetch.
	submitScript = `((req) => {
  fetch(req.url, {
    method: "POST",
    credentials: "include",
    headers: { "Content-Type": "application/json", "Accept": "text/event-stream" },
    body: JSON.stringify(req.body),
  }).then((res) => res.text()).catch(() => {});
  return true;
})`
)

// call renders fn applied to the JSON encoding of arg.
func call(fn string, arg any) (string, error) {
	raw, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}
	return fn + "(" + string(raw) + ")", nil
}

// submitArgs is the argument of submitScript.
type submitArgs struct {
	URL  string                `json:"url"`
	Body *conversation.Request `json:"body"`
}

// tokenProbe is the raw result of tokenScript.
type tokenProbe struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// PageController wraps the driver with the page operations a session needs.
type PageController struct {
	driver  browser.Driver
	profile *site.Profile
	logger  *slog.Logger
}

// NewPageController creates a new page controller.
func NewPageController(driver browser.Driver, profile *site.Profile, logger *slog.Logger) *PageController {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageController{
		driver:  driver,
		profile: profile,
		logger:  logger,
	}
}

func (c *PageController) ensureRunning() error {
	if !c.driver.IsRunning() {
		return fmt.Errorf("browser not running")
	}
	return nil
}

// Navigate navigates to the specified URL.
func (c *PageController) Navigate(ctx context.Context, url string) error {
	if err := c.ensureRunning(); err != nil {
		return err
	}
	c.logger.Debug("Navigating", "url", url)
	return c.driver.Navigate(ctx, url)
}

// Reload refreshes the current page.
func (c *PageController) Reload(ctx context.Context) error {
	if err := c.ensureRunning(); err != nil {
		return err
	}
	return c.driver.Reload(ctx)
}

// WaitLoaded waits until the current page has rendered.
func (c *PageController) WaitLoaded(ctx context.Context) error {
	if err := c.ensureRunning(); err != nil {
		return err
	}
	return c.driver.WaitVisible(ctx, c.profile.Selectors.Loaded)
}

// CapacityShown reports whether the capacity banner is on the page.
func (c *PageController) CapacityShown(ctx context.Context) (bool, error) {
	if c.profile.Capacity.Text == "" {
		return false, nil
	}
	if err := c.ensureRunning(); err != nil {
		return false, err
	}
	script, err := call(capacityScript, c.profile.Capacity.Text)
	if err != nil {
		return false, err
	}
	var shown bool
	if err := c.driver.Evaluate(ctx, script, &shown); err != nil {
		return false, err
	}
	return shown, nil
}

// Cookies returns the page's cookies.
func (c *PageController) Cookies(ctx context.Context) ([]credential.Cookie, error) {
	if err := c.ensureRunning(); err != nil {
		return nil, err
	}
	cookies, err := c.driver.GetCookies(ctx)
	if err != nil {
		return nil, err
	}
	return browser.ToCredentialCookies(cookies), nil
}

// SetCookies installs cookies on the page.
func (c *PageController) SetCookies(ctx context.Context, cookies []credential.Cookie) error {
	if err := c.ensureRunning(); err != nil {
		return err
	}
	return c.driver.SetCookies(ctx, browser.FromCredentialCookies(cookies))
}

// ProbeToken fetches the token endpoint from inside the page so the request
// carries the page's cookies.
func (c *PageController) ProbeToken(ctx context.Context) (*tokenProbe, error) {
	if err := c.ensureRunning(); err != nil {
		return nil, err
	}
	script, err := call(tokenScript, c.profile.SessionURL)
	if err != nil {
		return nil, err
	}
	var probe tokenProbe
	if err := c.driver.Evaluate(ctx, script, &probe); err != nil {
		return nil, fmt.Errorf("failed to query token endpoint: %w", err)
	}
	return &probe, nil
}

// Submit posts req to the conversation endpoint from inside the page.
func (c *PageController) Submit(ctx context.Context, req *conversation.Request) error {
	if err := c.ensureRunning(); err != nil {
		return err
	}
	script, err := call(submitScript, submitArgs{URL: c.profile.ConversationURL, Body: req})
	if err != nil {
		return fmt.Errorf("failed to encode conversation request: %w", err)
	}
	return c.driver.Evaluate(ctx, script, nil)
}
