package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CoCo-27/chatgpt-api/core/chaterr"
)

// tokenBody is the token endpoint's JSON answer.
type tokenBody struct {
	AccessToken string `json:"accessToken"`
	Expires     string `json:"expires"`
}

// accessToken validates a probe result. 401 means the session token is
// dead; 403 means the clearance expired and a refresh may help.
func (p *tokenProbe) accessToken() (string, time.Time, error) {
	switch {
	case p.Status == http.StatusUnauthorized:
		return "", time.Time{}, chaterr.New(chaterr.KindAuth, "token endpoint rejected the session")
	case p.Status == http.StatusForbidden:
		return "", time.Time{}, chaterr.New(chaterr.KindForbidden, "token endpoint refused the page")
	case p.Status < 200 || p.Status >= 300:
		return "", time.Time{}, chaterr.New(chaterr.KindAuth, fmt.Sprintf("token endpoint returned status %d", p.Status))
	}

	var body tokenBody
	if err := json.Unmarshal([]byte(p.Body), &body); err != nil {
		return "", time.Time{}, chaterr.Wrap(chaterr.KindAuth, err, "token endpoint returned invalid JSON")
	}
	if body.AccessToken == "" {
		return "", time.Time{}, chaterr.New(chaterr.KindAuth, "no access token for this session")
	}
	return body.AccessToken, tokenExpiry(body.AccessToken, body.Expires), nil
}

// tokenExpiry reads exp from the access token without verifying it, falling
// back to the endpoint's own expiry field. Zero means unknown.
func tokenExpiry(token, fallback string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if fallback != "" {
		if t, err := time.Parse(time.RFC3339, fallback); err == nil {
			return t
		}
	}
	return time.Time{}
}
