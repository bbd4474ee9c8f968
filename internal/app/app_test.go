package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cway-mcp/internal/config"
	"cway-mcp/internal/tokenstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.GetDefaultConfig()
	root := t.TempDir()
	c.Auth.ClientID = "cway-mcp"
	c.Storage.TokenDir = filepath.Join(root, "tokens")
	c.Storage.KeyFile = filepath.Join(root, ".token_key")
	c.Storage.Watch = false
	c.Server.Listen = "127.0.0.1:0"
	c.Server.Metrics = false
	return &c
}

func TestInitializeServices_OAuth(t *testing.T) {
	cfg := &Config{Cway: testConfig(t)}

	s, err := InitializeServices(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Store)
	assert.NotNil(t, s.OAuth)
	assert.NotNil(t, s.Sessions)
	assert.NotNil(t, s.Login)
	assert.NotNil(t, s.Confirm)
	assert.NotNil(t, s.Cway)
	assert.NotNil(t, s.Server)

	_, err = os.Stat(cfg.Cway.Storage.KeyFile)
	assert.NoError(t, err, "key file is created on startup")

	// Close is idempotent.
	s.Close()
}

func TestInitializeServices_Static(t *testing.T) {
	c := testConfig(t)
	c.Auth.Method = config.AuthMethodStatic
	c.Auth.APIToken = "api-token"

	s, err := InitializeServices(context.Background(), &Config{Cway: c}, "test")
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Store)
	assert.Nil(t, s.Sessions)
	assert.NotNil(t, s.Server)
}

func TestInitializeServices_ConfiguredSecretIsStable(t *testing.T) {
	c := testConfig(t)
	c.Confirmation.Secret = "0123456789abcdef0123"

	first, err := InitializeServices(context.Background(), &Config{Cway: c}, "test")
	require.NoError(t, err)
	defer first.Close()
	second, err := InitializeServices(context.Background(), &Config{Cway: c}, "test")
	require.NoError(t, err)
	defer second.Close()

	prepared, err := first.Confirm.Prepare("delete_user", map[string]string{"username": "alice"}, nil, nil)
	require.NoError(t, err)
	_, err = second.Confirm.Confirm(context.Background(), prepared.Token, "delete_user")
	assert.NoError(t, err, "a token from one process verifies in another with the same secret")
}

func TestInitializeServices_EphemeralSecret(t *testing.T) {
	c := testConfig(t)

	first, err := InitializeServices(context.Background(), &Config{Cway: c}, "test")
	require.NoError(t, err)
	defer first.Close()
	second, err := InitializeServices(context.Background(), &Config{Cway: c}, "test")
	require.NoError(t, err)
	defer second.Close()

	prepared, err := first.Confirm.Prepare("delete_user", map[string]string{"username": "alice"}, nil, nil)
	require.NoError(t, err)
	_, err = second.Confirm.Confirm(context.Background(), prepared.Token, "delete_user")
	assert.Error(t, err)
}

func TestInitializeServices_UnreachableRedis(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := testConfig(t)
	c.Confirmation.Secret = "0123456789abcdef0123"
	c.Confirmation.RedisAddr = addr

	_, err = InitializeServices(context.Background(), &Config{Cway: c}, "test")
	assert.ErrorContains(t, err, "redis")
}

func TestInitializeServices_RequiresConfig(t *testing.T) {
	_, err := InitializeServices(context.Background(), &Config{}, "test")
	assert.Error(t, err)
}

func TestNewApplication_LoadsConfigPath(t *testing.T) {
	for _, name := range []string{"CWAY_AZURE_CLIENT_ID", "CWAY_API_TOKEN", "CWAY_AUTH_METHOD", "CWAY_TOKEN_DIR", "CWAY_TRANSPORT", "CWAY_LISTEN", "CWAY_LOG_LEVEL"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
auth:
  clientId: cway-mcp
storage:
  tokenDir: `+filepath.Join(dir, "tokens")+`
  keyFile: `+filepath.Join(dir, "key")+`
logging:
  level: warn
`), 0o600))

	var logs bytes.Buffer
	cfg := NewConfig(false, dir, config.MCPTransportStreamableHTTP)
	cfg.LogOutput = &logs

	application, err := NewApplication(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer application.Close()

	assert.Equal(t, config.MCPTransportStreamableHTTP, application.Services().Config.Server.Transport)
	assert.Equal(t, filepath.Join(dir, "tokens"), application.Services().Store.Dir())
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := &Config{ConfigPath: t.TempDir(), LogOutput: io.Discard}
	t.Setenv("CWAY_AZURE_CLIENT_ID", "")
	os.Unsetenv("CWAY_AZURE_CLIENT_ID")
	t.Setenv("CWAY_API_TOKEN", "")
	os.Unsetenv("CWAY_API_TOKEN")

	_, err := NewApplication(context.Background(), cfg, "test")
	assert.ErrorContains(t, err, "clientId")
}

func TestRun_StdioEndsWithInput(t *testing.T) {
	c := testConfig(t)
	c.Auth.Method = config.AuthMethodStatic
	c.Auth.APIToken = "api-token"

	var out bytes.Buffer
	cfg := &Config{Cway: c, In: strings.NewReader(""), Out: &out, LogOutput: io.Discard}
	application, err := NewApplication(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer application.Close()

	done := make(chan error, 1)
	go func() { done <- application.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stdio server did not exit after stdin closed")
	}
}

func TestRun_StreamableHTTPShutsDownOnCancel(t *testing.T) {
	c := testConfig(t)
	c.Server.Transport = config.MCPTransportStreamableHTTP
	c.Storage.Watch = true

	cfg := &Config{Cway: c, LogOutput: io.Discard}
	application, err := NewApplication(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	// A session written by another process appears on disk while running.
	store := application.Services().Store
	require.NoError(t, store.Save("alice@example.com", &tokenstore.Session{
		AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour),
	}))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeHTTP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, ln, handler) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	assert.NoError(t, <-done)
}

func TestCallbackPath(t *testing.T) {
	assert.Equal(t, "/callback", callbackPath("http://localhost:8765/callback"))
	assert.Equal(t, "/oauth/cb", callbackPath("https://mcp.example.com/oauth/cb"))
	assert.Equal(t, "/callback", callbackPath("http://localhost:8765"))
	assert.Equal(t, "/callback", callbackPath("://bad"))
}
