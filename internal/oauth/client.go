package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"cway-mcp/pkg/logging"
)

// maxResponseSize caps how much of a token endpoint response is read.
const maxResponseSize = 1 << 20

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Client performs the Authorization Code + PKCE login against the identity
// provider and trades the result for Cway tokens. No client secret is used.
type Client struct {
	cfg        Config
	oauth      *oauth2.Config
	httpClient *http.Client
	clock      Clock
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for all token requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the clock used to compute absolute expiry.
func WithClock(clock Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a client. Missing endpoints default to Entra ID and Cway.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.ClientID == "" {
		return nil, errors.New("oauth client id is required")
	}
	if _, err := url.Parse(cfg.RedirectURL); err != nil {
		return nil, fmt.Errorf("invalid redirect url: %w", err)
	}

	c := &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.IDPTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		clock:      realClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RedirectURL returns the configured callback URL.
func (c *Client) RedirectURL() string { return c.cfg.RedirectURL }

// BuildAuthorizationRequest creates a PKCE verifier, an anti-CSRF state and
// the authorization URL embedding both. username is passed as a login hint.
func (c *Client) BuildAuthorizationRequest(username string) (*AuthorizationRequest, error) {
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	}
	if username != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", username))
	}

	return &AuthorizationRequest{
		URL:          c.oauth.AuthCodeURL(state, opts...),
		CodeVerifier: NewRedactedToken(verifier),
		State:        state,
		Username:     username,
		CreatedAt:    c.clock.Now(),
	}, nil
}

// ExchangeCode checks the callback state, redeems code at the identity
// provider and exchanges the resulting credential for Cway tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, expectedState, receivedState string) (*Tokens, error) {
	if expectedState == "" || subtle.ConstantTimeCompare([]byte(expectedState), []byte(receivedState)) != 1 {
		logging.Audit("oauth_state_mismatch")
		return nil, ErrCSRFValidation
	}
	if code == "" {
		return nil, &ProviderError{Op: "exchange_code", StatusCode: http.StatusBadRequest, Code: "invalid_request",
			Err: errors.New("authorization code is empty")}
	}

	idpToken, err := c.oauth.Exchange(c.withHTTPClient(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, providerErrorFrom("exchange_code", err)
	}

	credential, _ := idpToken.Extra("id_token").(string)
	if credential == "" {
		credential = idpToken.AccessToken
	}

	tokens, err := c.doTokenRequest(ctx, "exchange_token", url.Values{
		"grant_type": {c.cfg.ExchangeGrantType},
		"token":      {credential},
		"state":      {receivedState},
	})
	if err != nil {
		return nil, err
	}
	logging.Info("OAuth", "Completed login for %s", logging.RedactUser(tokens.Identity.Email))
	return tokens, nil
}

// Refresh trades refreshToken for new Cway tokens. The response may carry a
// rotated refresh token; when it does not, RefreshToken is empty and the
// caller keeps the one it sent.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, &ProviderError{Op: "refresh", StatusCode: http.StatusBadRequest, Code: "invalid_grant",
			Err: errors.New("no refresh token available")}
	}
	return c.doTokenRequest(ctx, "refresh", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) doTokenRequest(ctx context.Context, op string, data url.Values) (*Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		// The body may echo credentials, so only the status and code are kept.
		logging.Debug("OAuth", "Token %s failed with status %d (%s)", op, resp.StatusCode, er.Error)
		return nil, &ProviderError{Op: op, StatusCode: resp.StatusCode, Code: er.Error}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("token response has no access_token")}
	}
	return c.normalize(tr), nil
}

// normalize converts a response to absolute expiry. expires_in wins; the
// access token's exp claim is the fallback; DefaultTokenLifetime is the last
// resort.
func (c *Client) normalize(tr tokenResponse) *Tokens {
	now := c.clock.Now()
	claims, isJWT := ParseClaims(tr.AccessToken)

	var expiresAt time.Time
	switch {
	case tr.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	case isJWT && !claims.ExpiresAt.IsZero():
		expiresAt = claims.ExpiresAt
	default:
		expiresAt = now.Add(DefaultTokenLifetime)
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Tokens{
		AccessToken:  NewRedactedToken(tr.AccessToken),
		RefreshToken: NewRedactedToken(tr.RefreshToken),
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		Identity:     claims,
	}
}

func providerErrorFrom(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &ProviderError{Op: op, StatusCode: status, Code: re.ErrorCode}
	}
	return &ProviderError{Op: op, Err: err}
}

// GenerateState returns a random state value for CSRF protection.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
