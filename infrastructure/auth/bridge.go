// Package auth logs a page into the chat service and captures the
// authentication artifacts the session needs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/domain/site"
	"github.com/CoCo-27/chatgpt-api/infrastructure/browser"
	"github.com/CoCo-27/chatgpt-api/infrastructure/logging"
	"github.com/CoCo-27/chatgpt-api/infrastructure/solver"
)

const (
	userAgentScript = `navigator.userAgent`

	challengeScript = `((sel, attr) => {
  const el = document.querySelector(sel);
  return { present: !!el, siteKey: el ? (el.getAttribute(attr) || "") : "", pageURL: location.href };
})`

	answerScript = `((token) => {
  document.querySelectorAll('textarea[name$="-captcha-response"], input[name$="-captcha-response"]')
    .forEach((el) => { el.value = token; });
  return true;
})`
)

var errNoSessionCookie = errors.New("session cookie not set")

// challengeProbe is the result of challengeScript.
type challengeProbe struct {
	Present bool   `json:"present"`
	SiteKey string `json:"siteKey"`
	PageURL string `json:"pageURL"`
}

// BridgeConfig configures a PageBridge.
type BridgeConfig struct {
	Profile *site.Profile
	// Solver answers challenges shown during login. Defaults to a disabled client.
	Solver solver.Client
	Logger *slog.Logger
	// LoginTimeout bounds the whole login flow.
	LoginTimeout time.Duration
	// PollInterval is how often cookies are checked while waiting for the session.
	PollInterval time.Duration
}

// DefaultBridgeConfig returns default timeouts. Profile must still be set.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		LoginTimeout: time.Minute,
		PollInterval: 250 * time.Millisecond,
	}
}

// PageBridge fills the site's login form through the driver.
type PageBridge struct {
	profile *site.Profile
	solver  solver.Client
	logger  *slog.Logger
	timeout time.Duration
	poll    time.Duration
}

// NewPageBridge creates a bridge for cfg.Profile.
func NewPageBridge(cfg BridgeConfig) *PageBridge {
	def := DefaultBridgeConfig()
	if cfg.Solver == nil {
		cfg.Solver = solver.NewNoOpClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = def.LoginTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &PageBridge{
		profile: cfg.Profile,
		solver:  cfg.Solver,
		logger:  cfg.Logger,
		timeout: cfg.LoginTimeout,
		poll:    cfg.PollInterval,
	}
}

// log prefers the caller's context logger so records carry its session id.
func (b *PageBridge) log(ctx context.Context) *slog.Logger {
	return logging.FromOr(ctx, b.logger)
}

// Authenticate logs in unless the page already carries a session cookie,
// then captures cookies and the user agent. With empty credentials only the
// clearance is captured.
func (b *PageBridge) Authenticate(ctx context.Context, d browser.Driver, creds credential.Credentials) (*credential.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cookies, err := d.GetCookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	switch {
	case b.hasSession(cookies):
		b.log(ctx).Info("Session cookie present, skipping login")
	case creds.IsEmpty():
		if err := b.waitReady(ctx, d); err != nil {
			return nil, err
		}
	default:
		if err := b.login(ctx, d, creds); err != nil {
			return nil, b.timeoutError(ctx, err)
		}
		if err := b.waitSession(ctx, d); err != nil {
			return nil, b.timeoutError(ctx, err)
		}
		b.log(ctx).Info("Logged in", "account", creds.Key())
	}

	var ua string
	if err := d.Evaluate(ctx, userAgentScript, &ua); err != nil {
		return nil, fmt.Errorf("failed to read user agent: %w", err)
	}

	cookies, err = d.GetCookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return b.capture(ua, cookies), nil
}

func (b *PageBridge) login(ctx context.Context, d browser.Driver, creds credential.Credentials) error {
	sel := b.profile.Selectors

	if sel.LoginButton != "" {
		if err := b.click(ctx, d, sel.LoginButton); err != nil {
			return fmt.Errorf("login button: %w", err)
		}
	}
	if err := b.fill(ctx, d, sel.Email, creds.Email, sel.EmailSubmit); err != nil {
		return fmt.Errorf("email step: %w", err)
	}
	if err := b.solveChallenge(ctx, d); err != nil {
		return err
	}
	if err := b.fill(ctx, d, sel.Password, creds.Password, sel.PasswordSubmit); err != nil {
		return fmt.Errorf("password step: %w", err)
	}
	return b.solveChallenge(ctx, d)
}

// fill types text into field and clicks submit when one is configured.
func (b *PageBridge) fill(ctx context.Context, d browser.Driver, field, text, submit string) error {
	if err := d.WaitVisible(ctx, field); err != nil {
		return err
	}
	if err := d.SendKeys(ctx, field, text); err != nil {
		return err
	}
	if submit == "" {
		return nil
	}
	return d.ClickElement(ctx, submit)
}

func (b *PageBridge) click(ctx context.Context, d browser.Driver, selector string) error {
	if err := d.WaitVisible(ctx, selector); err != nil {
		return err
	}
	return d.ClickElement(ctx, selector)
}

// solveChallenge hands a visible challenge to the solver and writes the
// answer back into the page.
func (b *PageBridge) solveChallenge(ctx context.Context, d browser.Driver) error {
	sel := b.profile.Selectors
	if sel.Challenge == "" {
		return nil
	}

	script, err := call(challengeScript, sel.Challenge, sel.ChallengeSiteKey)
	if err != nil {
		return err
	}
	var probe challengeProbe
	if err := d.Evaluate(ctx, script, &probe); err != nil {
		return fmt.Errorf("failed to inspect challenge: %w", err)
	}
	if !probe.Present {
		return nil
	}

	b.log(ctx).Info("Challenge shown", "page_url", probe.PageURL)
	token, err := b.solver.Solve(ctx, solver.Challenge{SiteKey: probe.SiteKey, PageURL: probe.PageURL})
	if err != nil {
		return fmt.Errorf("challenge not solved: %w", err)
	}

	script, err = call(answerScript, token)
	if err != nil {
		return err
	}
	return d.Evaluate(ctx, script, nil)
}

// waitSession polls cookies until the session cookie appears.
func (b *PageBridge) waitSession(ctx context.Context, d browser.Driver) error {
	op := func() error {
		cookies, err := d.GetCookies(ctx)
		if err != nil {
			return err
		}
		if !b.hasSession(cookies) {
			return errNoSessionCookie
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(b.poll), ctx))
}

// waitReady waits for the chat surface when no login is attempted.
func (b *PageBridge) waitReady(ctx context.Context, d browser.Driver) error {
	if b.profile.Selectors.Ready == "" {
		return nil
	}
	if err := d.WaitVisible(ctx, b.profile.Selectors.Ready); err != nil {
		return b.timeoutError(ctx, fmt.Errorf("chat page not ready: %w", err))
	}
	return nil
}

func (b *PageBridge) hasSession(cookies []browser.Cookie) bool {
	for _, c := range cookies {
		if c.Name == b.profile.Cookies.Session && c.Value != "" {
			return true
		}
	}
	return false
}

func (b *PageBridge) capture(ua string, cookies []browser.Cookie) *credential.Session {
	jar := credential.CookieMap(browser.ToCredentialCookies(cookies))
	sess := &credential.Session{
		UserAgent: ua,
		Cookies:   jar,
	}
	if c, ok := jar[b.profile.Cookies.Session]; ok {
		sess.SessionToken = c.Value
	}
	if c, ok := jar[b.profile.Cookies.Clearance]; ok {
		sess.ClearanceToken = c.Value
	}
	return sess
}

func (b *PageBridge) timeoutError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("login timeout after %s: %v", b.timeout, err)
	}
	return err
}

// call renders fn applied to the JSON encoding of args.
func call(fn string, args ...any) (string, error) {
	parts := make([]string, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return "", err
		}
		parts[i] = string(raw)
	}
	return fn + "(" + strings.Join(parts, ", ") + ")", nil
}
