package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoCo-27/chatgpt-api/core/chaterr"
	"github.com/CoCo-27/chatgpt-api/domain/conversation"
	"github.com/CoCo-27/chatgpt-api/domain/credential"
	"github.com/CoCo-27/chatgpt-api/infrastructure/logging"
)

func newTestPage(running bool) (*PageController, *fakeDriver) {
	d := newFakeDriver()
	d.running = running
	return NewPageController(d, testProfile(), logging.Discard()), d
}

func TestCall_EncodesArgument(t *testing.T) {
	script, err := call(capacityScript, `it's "at capacity"`)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, capacityScript+"("))
	assert.True(t, strings.HasSuffix(script, `("it's \"at capacity\"")`))
}

func TestPageController_NotRunning(t *testing.T) {
	page, _ := newTestPage(false)
	ctx := context.Background()

	assert.Error(t, page.Navigate(ctx, "https://chat.example.com/"))
	assert.Error(t, page.Reload(ctx))
	assert.Error(t, page.WaitLoaded(ctx))
	assert.Error(t, page.Submit(ctx, conversation.NewRequest("hi", "m", conversation.Thread{})))
	_, err := page.ProbeToken(ctx)
	assert.Error(t, err)
	_, err = page.Cookies(ctx)
	assert.Error(t, err)
	_, err = page.CapacityShown(ctx)
	assert.Error(t, err)
}

func TestPageController_Navigate(t *testing.T) {
	page, d := newTestPage(true)

	require.NoError(t, page.Navigate(context.Background(), "https://chat.example.com/chat"))
	require.NoError(t, page.Reload(context.Background()))

	assert.Equal(t, []string{"https://chat.example.com/chat"}, d.navigations)
	_, _, reloads := d.stats()
	assert.Equal(t, 1, reloads)

	require.NoError(t, page.WaitLoaded(context.Background()))
	assert.Equal(t, []string{"body"}, d.waits)
}

func TestPageController_CapacityShown(t *testing.T) {
	page, d := newTestPage(true)

	shown, err := page.CapacityShown(context.Background())
	require.NoError(t, err)
	assert.False(t, shown)

	d.capacity = true
	shown, err = page.CapacityShown(context.Background())
	require.NoError(t, err)
	assert.True(t, shown)
}

func TestPageController_CapacityWithoutBannerText(t *testing.T) {
	d := newFakeDriver()
	d.capacity = true
	profile := testProfile()
	profile.Capacity.Text = ""
	page := NewPageController(d, profile, nil)

	shown, err := page.CapacityShown(context.Background())
	require.NoError(t, err)
	assert.False(t, shown, "no banner text means nothing to detect")
}

func TestPageController_Cookies(t *testing.T) {
	page, d := newTestPage(true)
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	err := page.SetCookies(context.Background(), []credential.Cookie{
		{Name: "cf_clearance", Value: "c", Domain: ".example.com", Path: "/", Expires: expires, HTTPOnly: true, Secure: true},
	})
	require.NoError(t, err)
	require.Len(t, d.setCookies, 1)

	cookies, err := page.Cookies(context.Background())
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "cf_clearance", cookies[0].Name)
	assert.True(t, cookies[0].Expires.Equal(expires))
	assert.True(t, cookies[0].HTTPOnly)
}

func TestPageController_Submit(t *testing.T) {
	page, d := newTestPage(true)
	req := conversation.NewRequest(`say "hi"`, "model-x", conversation.Thread{ConversationID: "c1", ParentMessageID: "p1"})

	require.NoError(t, page.Submit(context.Background(), req))

	sent := d.lastSubmit()
	assert.Equal(t, testConversationURL, sent.URL)
	require.NotNil(t, sent.Body)
	assert.Equal(t, req.Messages[0].ID, sent.Body.Messages[0].ID)
	assert.Equal(t, []string{`say "hi"`}, sent.Body.Messages[0].Content.Parts)
	assert.Equal(t, "c1", sent.Body.ConversationID)
	assert.Equal(t, "p1", sent.Body.ParentMessageID)
}

func TestPageController_ProbeToken(t *testing.T) {
	page, d := newTestPage(true)
	d.setTokens(tokenProbe{Status: 200, Body: `{"accessToken":"abc"}`})

	probe, err := page.ProbeToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, probe.Status)

	token, _, err := probe.accessToken()
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestTokenProbe_AccessToken(t *testing.T) {
	tests := []struct {
		name   string
		probe  tokenProbe
		target error
	}{
		{"unauthorized", tokenProbe{Status: 401}, chaterr.ErrAuth},
		{"forbidden", tokenProbe{Status: 403}, chaterr.ErrForbidden},
		{"server error", tokenProbe{Status: 500}, chaterr.ErrAuth},
		{"fetch failed", tokenProbe{Status: 0, Body: "TypeError: Failed to fetch"}, chaterr.ErrAuth},
		{"invalid json", tokenProbe{Status: 200, Body: "<html>"}, chaterr.ErrAuth},
		{"no token", tokenProbe{Status: 200, Body: `{"user":{}}`}, chaterr.ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.probe.accessToken()
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2027, 3, 1, 10, 0, 0, 0, time.UTC)
	fallback := "2027-04-01T00:00:00Z"

	t.Run("jwt exp", func(t *testing.T) {
		got := tokenExpiry(signedToken(t, exp), fallback)
		assert.True(t, got.Equal(exp), "got %v", got)
	})

	t.Run("opaque token uses expires field", func(t *testing.T) {
		got := tokenExpiry("opaque", fallback)
		assert.True(t, got.Equal(time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC)), "got %v", got)
	})

	t.Run("unknown", func(t *testing.T) {
		assert.True(t, tokenExpiry("opaque", "soon").IsZero())
		assert.True(t, tokenExpiry("opaque", "").IsZero())
	})
}
