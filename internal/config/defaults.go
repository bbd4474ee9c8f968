package config

import (
	"time"

	"cway-mcp/internal/confirm"
	"cway-mcp/internal/cway"
	"cway-mcp/internal/oauth"
	"cway-mcp/internal/session"
)

// DefaultListen is where the callback, metrics and MCP HTTP endpoints listen.
const DefaultListen = "localhost:8765"

// GetDefaultConfig returns the configuration used when no file or
// environment overrides are present. Paths are relative to the user's home
// directory and expanded by LoadConfig.
func GetDefaultConfig() Config {
	return Config{
		API: APIConfig{
			URL:        cway.DefaultEndpoint,
			Timeout:    cway.DefaultTimeout,
			MaxRetries: cway.DefaultMaxTries,
		},
		Auth: AuthConfig{
			Method:           AuthMethodOAuth,
			TenantID:         oauth.DefaultTenantID,
			TokenURL:         oauth.DefaultTokenURL,
			RedirectURL:      oauth.DefaultRedirectURL,
			Scopes:           append([]string(nil), oauth.DefaultScopes...),
			HTTPTimeout:      oauth.DefaultHTTPTimeout,
			RefreshThreshold: session.DefaultRefreshThreshold,
			LoginExpiry:      oauth.DefaultLoginExpiry,
		},
		Confirmation: ConfirmationConfig{
			TTL:             confirm.DefaultTTL,
			Retention:       confirm.DefaultRetention,
			JanitorInterval: 5 * time.Minute,
		},
		Storage: StorageConfig{
			TokenDir: "~/" + userConfigDir + "/tokens",
			KeyFile:  "~/" + userConfigDir + "/.token_key",
			Watch:    true,
		},
		Server: ServerConfig{
			Listen:    DefaultListen,
			Transport: MCPTransportStdio,
			Metrics:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
