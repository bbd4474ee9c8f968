package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthTools_StaticMode(t *testing.T) {
	s := newStaticFixture(t).server

	for name, h := range map[string]toolHandler{
		"auth_login":          s.handleLogin,
		"auth_complete_login": s.handleCompleteLogin,
		"auth_logout":         s.handleLogout,
		"auth_list_users":     s.handleListUsers,
	} {
		t.Run(name, func(t *testing.T) {
			text, isErr := call(t, h, map[string]any{"code": "c", "state": "s"})
			assert.True(t, isErr)
			assert.Contains(t, text, "static API token")
		})
	}

	text, isErr := call(t, s.handleWhoami, nil)
	require.False(t, isErr)
	whoami := decode(t, text)
	assert.Equal(t, true, whoami["authenticated"])
	assert.Equal(t, "static", whoami["method"])
}

func TestAuthTools_LoginLifecycle(t *testing.T) {
	f := newOAuthFixture(t)
	s := f.server
	const user = "alice@example.com"

	text, isErr := call(t, s.handleLogin, map[string]any{"username": user})
	require.False(t, isErr, text)
	login := decode(t, text)
	authURL, _ := login["authorization_url"].(string)
	assert.True(t, strings.HasPrefix(authURL, f.idp.AuthorizeURL()), authURL)
	assert.Equal(t, float64(60), login["expires_in_seconds"])
	assert.Equal(t, user, login["username"])

	code, state := authorize(t, authURL)
	assert.Equal(t, login["state"], state)

	text, isErr = call(t, s.handleCompleteLogin, map[string]any{"code": code, "state": state})
	require.False(t, isErr, text)
	done := decode(t, text)
	assert.Equal(t, true, done["success"])
	assert.Equal(t, user, done["username"])

	text, isErr = call(t, s.handleWhoami, map[string]any{"username": user})
	require.False(t, isErr, text)
	whoami := decode(t, text)
	assert.Equal(t, true, whoami["authenticated"])
	assert.Equal(t, true, whoami["is_valid"])
	assert.Equal(t, true, whoami["has_refresh_token"])
	assert.NotContains(t, whoami, "warning")

	text, isErr = call(t, s.handleListUsers, nil)
	require.False(t, isErr, text)
	list := decode(t, text)
	assert.Equal(t, float64(1), list["count"])
	assert.Equal(t, []string{user}, toStrings(list["users"]))

	text, isErr = call(t, s.handleLogout, map[string]any{"username": user})
	require.False(t, isErr, text)
	assert.Equal(t, true, decode(t, text)["had_session"])

	text, isErr = call(t, s.handleWhoami, map[string]any{"username": user})
	require.False(t, isErr, text)
	assert.Equal(t, false, decode(t, text)["authenticated"])

	text, isErr = call(t, s.handleLogout, map[string]any{"username": user})
	require.False(t, isErr, text)
	assert.Equal(t, false, decode(t, text)["had_session"])
}

func TestAuthTools_CompleteLoginAsUser(t *testing.T) {
	f := newOAuthFixture(t)

	text, isErr := call(t, f.server.handleLogin, nil)
	require.False(t, isErr, text)
	code, state := authorize(t, decode(t, text)["authorization_url"].(string))

	text, isErr = call(t, f.server.handleCompleteLogin, map[string]any{
		"code":     code,
		"state":    state,
		"username": "bob@example.com",
	})
	require.False(t, isErr, text)
	assert.Equal(t, "bob@example.com", decode(t, text)["username"])
}

func TestAuthTools_CompleteLoginRejectsUnknownState(t *testing.T) {
	f := newOAuthFixture(t)

	text, isErr := call(t, f.server.handleCompleteLogin, map[string]any{"code": "c", "state": "forged"})
	assert.True(t, isErr)
	assert.Contains(t, text, "login state mismatch")
	assert.Zero(t, f.idp.ExchangeCount())

	text, isErr = call(t, f.server.handleCompleteLogin, map[string]any{"state": "s"})
	assert.True(t, isErr)
	assert.Contains(t, text, "code")
}

func TestAuthTools_WhoamiWarnsBeforeExpiry(t *testing.T) {
	f := newOAuthFixture(t)
	f.seed(t, "alice@example.com", 2*time.Minute)

	text, isErr := call(t, f.server.handleWhoami, map[string]any{"username": "alice@example.com"})
	require.False(t, isErr, text)
	whoami := decode(t, text)
	assert.Equal(t, float64(2), whoami["expires_in_minutes"])
	assert.Contains(t, whoami["warning"], "refreshed on the next request")
	// Whoami only reports; it never refreshes.
	assert.Zero(t, f.idp.RefreshCount())
}

func TestAuthTools_NoUser(t *testing.T) {
	f := newOAuthFixture(t)

	text, isErr := call(t, f.server.handleWhoami, nil)
	assert.True(t, isErr)
	assert.Contains(t, text, "CWAY_USERNAME")
}
