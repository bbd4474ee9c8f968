package session

import (
	"context"
	"errors"
)

// TokenSource yields a bearer token for the acting user.
type TokenSource interface {
	Token(ctx context.Context, username string) (string, error)
}

// StaticToken is a TokenSource that returns the same API token for every
// user. It backs the static authentication mode.
type StaticToken string

// Token returns the static token.
func (s StaticToken) Token(context.Context, string) (string, error) {
	if s == "" {
		return "", errors.New("static API token is not configured")
	}
	return string(s), nil
}
