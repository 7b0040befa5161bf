// Package browser provides browser automation infrastructure.
package browser

import (
	"context"
	"io"
	"time"
)

// Driver defines the interface for browser automation.
// This abstraction allows for different browser implementations (ChromeDP, Playwright).
// A Driver owns exactly one page.
type Driver interface {
	// Start launches the browser and opens the page.
	Start(ctx context.Context) error

	// Stop closes the browser and releases resources.
	Stop() error

	// IsRunning returns true if the browser is active.
	IsRunning() bool

	// Navigate navigates to the specified URL.
	Navigate(ctx context.Context, url string) error

	// Reload refreshes the current page.
	Reload(ctx context.Context) error

	// Evaluate runs a script in the page, awaits a returned promise and
	// decodes the JSON-serializable result into res (res may be nil).
	Evaluate(ctx context.Context, script string, res any) error

	// WaitVisible waits for an element matching a CSS selector to become visible.
	WaitVisible(ctx context.Context, selector string) error

	// SendKeys types text into the element matching selector.
	SendKeys(ctx context.Context, selector, text string) error

	// ClickElement clicks on the element matching selector.
	ClickElement(ctx context.Context, selector string) error

	// GetCookies retrieves all browser cookies.
	GetCookies(ctx context.Context) ([]Cookie, error)

	// SetCookies sets browser cookies.
	SetCookies(ctx context.Context, cookies []Cookie) error

	// SetRequestHook installs the hook applied to every outgoing request.
	// nil removes it; requests then pass unmodified.
	SetRequestHook(hook RequestHook)

	// SetResponseHook installs the hook for incoming responses.
	// nil removes it.
	SetResponseHook(hook *ResponseHook)
}

// ResourceType is the kind of resource a request loads.
type ResourceType string

// Resource types the interceptor cares about.
const (
	ResourceDocument ResourceType = "Document"
	ResourceFetch    ResourceType = "Fetch"
	ResourceXHR      ResourceType = "XHR"
	ResourceImage    ResourceType = "Image"
	ResourceFont     ResourceType = "Font"
	ResourceMedia    ResourceType = "Media"
	ResourceOther    ResourceType = "Other"
)

// Request is an outgoing request observed on the page.
type Request struct {
	// ID correlates a request with its response.
	ID           string
	URL          string
	Method       string
	ResourceType ResourceType
	Headers      map[string]string
}

// RequestDecision tells the driver what to do with a request.
type RequestDecision struct {
	// Abort fails the request before it leaves the browser.
	Abort bool
	// Headers, when non-nil, replaces the request headers.
	Headers map[string]string
}

// RequestHook decides how an outgoing request proceeds. Hooks run on driver
// goroutines and must not block.
type RequestHook func(req *Request) RequestDecision

// Response is an incoming response observed on the page.
type Response struct {
	RequestID string
	URL       string
	Status    int
	Headers   map[string]string
	// Body streams the response body. The handler must close it.
	Body io.ReadCloser
}

// ResponseHook receives responses whose URL satisfies Match.
// Responses that do not match are never buffered.
type ResponseHook struct {
	Match  func(url string) bool
	Handle func(resp *Response)
}

// Cookie represents a browser cookie.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
}

// DriverConfig holds configuration for browser drivers.
type DriverConfig struct {
	// Headless runs the browser without a visible window.
	Headless bool

	// Minimize starts a visible browser minimized. Ignored when Headless.
	Minimize bool

	// WindowWidth is the browser window width.
	WindowWidth int

	// WindowHeight is the browser window height.
	WindowHeight int

	// ProxyServer is forwarded to the browser, e.g. "http://host:3128".
	ProxyServer string

	// UserAgent overrides the browser user agent when set.
	UserAgent string

	// UserDataDir specifies a custom user data directory.
	UserDataDir string

	// ExecPath points at a specific Chrome/Chromium binary.
	ExecPath string

	// BodyChunkSize is the read size used when streaming response bodies.
	BodyChunkSize int
}

// DefaultDriverConfig returns default browser configuration.
func DefaultDriverConfig() *DriverConfig {
	return &DriverConfig{
		Headless:      false,
		WindowWidth:   1280,
		WindowHeight:  800,
		BodyChunkSize: 16 * 1024,
	}
}
