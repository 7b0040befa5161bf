// Package site describes the chat service a session drives: its URLs, cookie
// names, page selectors and capacity banner.
package site

import (
	"fmt"
	"time"
)

// Profile describes one chat service.
type Profile struct {
	Name string

	// BaseURL is the page the session keeps open.
	BaseURL string
	// LoginURL is the login surface navigated to by Init.
	LoginURL string
	// SessionURL is the token endpoint that exchanges the session cookie for an access token.
	SessionURL string
	// ConversationURL is the endpoint prompts are posted to.
	ConversationURL string
	// ConversationPattern is a glob matched against request URLs to find
	// conversation traffic. Defaults to ConversationURL.
	ConversationPattern string

	Model string

	Cookies   CookieNames
	Selectors Selectors
	Capacity  Capacity
}

// CookieNames names the cookies that carry authentication artifacts.
type CookieNames struct {
	Clearance string
	Session   string
}

// Selectors are CSS selectors used while authenticating.
type Selectors struct {
	// Loaded is visible once any page of the site has rendered.
	Loaded string
	// Ready is visible once the chat page is usable.
	Ready          string
	LoginButton    string
	Email          string
	EmailSubmit    string
	Password       string
	PasswordSubmit string
	// Challenge is visible while a visual challenge blocks the page.
	Challenge string
	// ChallengeSiteKey is an attribute on the Challenge element holding the site key.
	ChallengeSiteKey string
}

// Capacity configures detection of the "service at capacity" banner.
type Capacity struct {
	// Text is searched for in the page body.
	Text     string
	Interval time.Duration
	Retries  int
}

// Validate checks that the fields the session needs are present.
func (p *Profile) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("site profile: name is required")
	case p.BaseURL == "":
		return fmt.Errorf("site profile %s: base_url is required", p.Name)
	case p.SessionURL == "":
		return fmt.Errorf("site profile %s: session_url is required", p.Name)
	case p.ConversationURL == "":
		return fmt.Errorf("site profile %s: conversation_url is required", p.Name)
	case p.Cookies.Session == "":
		return fmt.Errorf("site profile %s: cookies.session is required", p.Name)
	}
	return nil
}

// applyDefaults fills optional fields.
func (p *Profile) applyDefaults() {
	if p.LoginURL == "" {
		p.LoginURL = p.BaseURL
	}
	if p.ConversationPattern == "" {
		p.ConversationPattern = p.ConversationURL
	}
	if p.Selectors.Loaded == "" {
		p.Selectors.Loaded = "body"
	}
	if p.Capacity.Interval <= 0 {
		p.Capacity.Interval = 500 * time.Millisecond
	}
	if p.Capacity.Retries <= 0 {
		p.Capacity.Retries = 10
	}
}
