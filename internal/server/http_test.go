package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, target string) (int, string) {
	t.Helper()
	resp, err := http.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newStaticFixture(t)
	ts := httptest.NewServer(f.server.Router(RouterOptions{ServeMetrics: true}))
	defer ts.Close()

	status, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)

	status, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "cway_mcp_cached_sessions")

	// Static mode has no login callback.
	status, _ = get(t, ts.URL+"/callback")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouter_MetricsDisabled(t *testing.T) {
	f := newStaticFixture(t)
	ts := httptest.NewServer(f.server.Router(RouterOptions{}))
	defer ts.Close()

	status, _ := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = get(t, ts.URL+MCPEndpointPath)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouter_Callback(t *testing.T) {
	f := newOAuthFixture(t)
	ts := httptest.NewServer(f.server.Router(RouterOptions{CallbackPath: "/oauth/callback"}))
	defer ts.Close()

	req, err := f.server.deps.Login.Begin("alice@example.com")
	require.NoError(t, err)
	code, state := authorize(t, req.URL)

	status, body := get(t, ts.URL+"/oauth/callback?"+url.Values{"code": {code}, "state": {state}}.Encode())
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authentication Successful")
	assert.Contains(t, body, "alice@example.com")

	info, err := f.manager.Info(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, info.Authenticated)

	// The state was consumed by the first callback.
	status, body = get(t, ts.URL+"/oauth/callback?"+url.Values{"code": {code}, "state": {state}}.Encode())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "expired or was already used")

	status, _ = get(t, ts.URL+"/oauth/callback")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRouter_DefaultCallbackPath(t *testing.T) {
	f := newOAuthFixture(t)
	ts := httptest.NewServer(f.server.Router(RouterOptions{}))
	defer ts.Close()

	status, _ := get(t, ts.URL+DefaultCallbackPath+"?error=access_denied")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRouter_StreamableHTTP(t *testing.T) {
	f := newStaticFixture(t)
	ts := httptest.NewServer(f.server.Router(RouterOptions{ServeMCP: true}))
	defer ts.Close()

	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+MCPEndpointPath, strings.NewReader(initialize))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), serverName)
}

func TestUserFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	_, ok := UserFromContext(userFromRequest(context.Background(), r))
	assert.False(t, ok)

	r.Header.Set(UserHeader, "  alice@example.com ")
	u, ok := UserFromContext(userFromRequest(context.Background(), r))
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", u)
}
