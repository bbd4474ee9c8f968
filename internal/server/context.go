package server

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// actingUserKey is the context key for the Cway username a request acts as.
	actingUserKey contextKey = "cway_acting_user"

	// UserHeader carries the acting username on streamable HTTP requests.
	UserHeader = "X-Cway-Username"
)

// ContextWithUser returns a context whose requests act as username.
func ContextWithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, actingUserKey, username)
}

// UserFromContext returns the acting username, if one was set.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(actingUserKey).(string)
	return u, ok && u != ""
}

// userFromRequest copies UserHeader into the request context. It is installed
// as the streamable HTTP context function.
func userFromRequest(ctx context.Context, r *http.Request) context.Context {
	if u := strings.TrimSpace(r.Header.Get(UserHeader)); u != "" {
		return ContextWithUser(ctx, u)
	}
	return ctx
}
