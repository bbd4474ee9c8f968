package session

import (
	"context"
	"errors"
	"fmt"

	"cway-mcp/internal/metrics"
	"cway-mcp/internal/oauth"
	"cway-mcp/pkg/logging"
)

// AuthCodeClient is the part of the identity provider client used for login.
type AuthCodeClient interface {
	BuildAuthorizationRequest(username string) (*oauth.AuthorizationRequest, error)
	ExchangeCode(ctx context.Context, code, codeVerifier, expectedState, receivedState string) (*oauth.Tokens, error)
}

// LoginFlow runs interactive logins: it keeps the pending half of each
// attempt and stores the session once the callback arrives.
type LoginFlow struct {
	client  AuthCodeClient
	pending *oauth.StateStore
	manager *Manager
	metrics *metrics.Recorder
}

// NewLoginFlow creates a login flow.
func NewLoginFlow(client AuthCodeClient, pending *oauth.StateStore, manager *Manager, rec *metrics.Recorder) *LoginFlow {
	return &LoginFlow{client: client, pending: pending, manager: manager, metrics: rec}
}

// Begin starts a login for username and returns the request holding the URL
// the user must open.
func (f *LoginFlow) Begin(username string) (*oauth.AuthorizationRequest, error) {
	req, err := f.client.BuildAuthorizationRequest(username)
	if err != nil {
		return nil, err
	}
	f.pending.Put(req)
	return req, nil
}

// CompleteLogin finishes the login identified by state. It satisfies
// oauth.LoginCompleter for the HTTP callback.
func (f *LoginFlow) CompleteLogin(ctx context.Context, code, state string) (string, error) {
	return f.complete(ctx, "", code, state)
}

// CompleteLoginAs is CompleteLogin for a caller that names the user. The
// pending login must have been started for the same user.
func (f *LoginFlow) CompleteLoginAs(ctx context.Context, username, code, state string) (string, error) {
	if username == "" {
		return "", errors.New("username is required")
	}
	return f.complete(ctx, username, code, state)
}

func (f *LoginFlow) complete(ctx context.Context, username, code, state string) (string, error) {
	p := f.pending.Take(state)
	if p == nil {
		f.metrics.Login(metrics.OutcomeFailure)
		return "", fmt.Errorf("%w: unknown or expired login", oauth.ErrCSRFValidation)
	}
	if username != "" && p.Username != "" && p.Username != username {
		f.metrics.Login(metrics.OutcomeFailure)
		logging.Audit("login_user_mismatch", "user", logging.RedactUser(username))
		return "", fmt.Errorf("%w: login was started for another user", oauth.ErrCSRFValidation)
	}

	tokens, err := f.client.ExchangeCode(ctx, code, p.CodeVerifier.Value(), p.State, state)
	if err != nil {
		f.metrics.Login(metrics.OutcomeFailure)
		return "", err
	}

	resolved := p.Username
	if resolved == "" {
		resolved = username
	}
	if resolved == "" {
		resolved = tokens.Identity.Email
	}
	if resolved == "" {
		f.metrics.Login(metrics.OutcomeFailure)
		return "", errors.New("could not determine which user logged in")
	}

	if err := f.manager.SaveSession(ctx, resolved, tokens); err != nil {
		f.metrics.Login(metrics.OutcomeFailure)
		return "", err
	}
	f.metrics.Login(metrics.OutcomeSuccess)
	logging.Audit("login_completed", "user", logging.RedactUser(resolved))
	return resolved, nil
}
