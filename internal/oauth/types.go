package oauth

import (
	"fmt"
	"time"
)

// Defaults for the Microsoft Entra ID login in front of Cway.
const (
	DefaultTenantID          = "common"
	DefaultTokenURL          = "https://app.cway.se/oauth/token"
	DefaultRedirectURL       = "http://localhost:8765/callback"
	DefaultExchangeGrantType = "azure"
	DefaultHTTPTimeout       = 10 * time.Second

	// DefaultTokenLifetime applies when a response carries neither
	// expires_in nor a parseable exp claim.
	DefaultTokenLifetime = time.Hour

	entraAuthorizeURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/authorize"
	entraTokenURL     = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// DefaultScopes are requested from the identity provider.
var DefaultScopes = []string{"openid", "profile", "email", "User.Read"}

// Config configures the identity provider client.
type Config struct {
	// ClientID is the public client registered with the identity provider.
	ClientID string
	// TenantID selects the Entra tenant. Ignored when both provider URLs are set.
	TenantID string
	// AuthorizeURL overrides the identity provider authorize endpoint.
	AuthorizeURL string
	// IDPTokenURL overrides the identity provider token endpoint.
	IDPTokenURL string
	// TokenURL is the Cway token endpoint used for exchange and refresh.
	TokenURL string
	// RedirectURL receives the authorization callback.
	RedirectURL string
	Scopes      []string
	// ExchangeGrantType is the grant type Cway expects when trading an
	// identity provider credential for its own tokens.
	ExchangeGrantType string
	HTTPTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.TenantID == "" {
		c.TenantID = DefaultTenantID
	}
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = fmt.Sprintf(entraAuthorizeURL, c.TenantID)
	}
	if c.IDPTokenURL == "" {
		c.IDPTokenURL = fmt.Sprintf(entraTokenURL, c.TenantID)
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.RedirectURL == "" {
		c.RedirectURL = DefaultRedirectURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes
	}
	if c.ExchangeGrantType == "" {
		c.ExchangeGrantType = DefaultExchangeGrantType
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	return c
}

// AuthorizationRequest holds what a caller must keep to finish a login.
type AuthorizationRequest struct {
	URL          string
	CodeVerifier RedactedToken
	State        string
	Username     string
	CreatedAt    time.Time
}

// Tokens are Cway tokens normalized to an absolute expiry.
type Tokens struct {
	AccessToken  RedactedToken
	RefreshToken RedactedToken
	TokenType    string
	ExpiresAt    time.Time
	// Identity is read from the access token claims when present.
	Identity Claims
}

// tokenResponse is the wire form of a token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
