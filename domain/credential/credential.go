// Package credential defines login credentials and the authentication state
// captured from the browser.
package credential

import (
	"sort"
	"strings"
	"time"
)

// Credentials are optional login details handed to the authentication bridge.
// Empty credentials only yield a clearance token.
type Credentials struct {
	Email    string
	Password string
	// CaptchaToken is passed opaquely to the challenge solver.
	CaptchaToken string
}

// IsEmpty returns true if no login details were supplied.
func (c Credentials) IsEmpty() bool {
	return c.Email == "" && c.Password == ""
}

// Key identifies the stored snapshot for these credentials.
func (c Credentials) Key() string {
	if c.Email == "" {
		return "anonymous"
	}
	return strings.ToLower(c.Email)
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

// Session is the authentication state of one page.
type Session struct {
	UserAgent      string
	SessionToken   string
	ClearanceToken string
	Cookies        map[string]Cookie
	AccessToken    string
	ExpiresAt      time.Time
}

// IsZero returns true for an uninitialized session.
func (s *Session) IsZero() bool {
	return s == nil || (s.SessionToken == "" && s.ClearanceToken == "" && s.AccessToken == "" && len(s.Cookies) == 0)
}

// HasSessionToken returns true if a session token was captured.
func (s *Session) HasSessionToken() bool {
	return s != nil && s.SessionToken != ""
}

// AccessTokenExpired reports whether the access token is missing or past its expiry.
func (s *Session) AccessTokenExpired(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// CookieList returns the cookies sorted by name.
func (s *Session) CookieList() []Cookie {
	if s == nil {
		return nil
	}
	list := make([]Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Clone creates a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Cookies != nil {
		clone.Cookies = make(map[string]Cookie, len(s.Cookies))
		for k, v := range s.Cookies {
			clone.Cookies[k] = v
		}
	}
	return &clone
}

// CookieMap indexes cookies by name. Later duplicates win.
func CookieMap(cookies []Cookie) map[string]Cookie {
	m := make(map[string]Cookie, len(cookies))
	for _, c := range cookies {
		m[c.Name] = c
	}
	return m
}
