package cway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cway-mcp/internal/oauth"
)

// ErrUnauthorized is returned when the API rejects the bearer token.
var ErrUnauthorized = errors.New("cway api rejected the access token")

// ErrOutcomeUnknown is returned when a mutation failed in a way that does not
// tell whether Cway applied it. Mutations are never resent.
var ErrOutcomeUnknown = errors.New("outcome unknown, verify before re-preparing")

// APIError describes a failed GraphQL call.
type APIError struct {
	Op         string
	StatusCode int
	Messages   []string
	// Challenge is the WWW-Authenticate challenge of a 401 response.
	Challenge *oauth.Challenge
	Err       error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cway %s failed", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if desc := e.Challenge.String(); desc != "" {
		fmt.Fprintf(&b, " (%s)", desc)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed if repeated. Network errors,
// throttling and server errors are retryable; GraphQL errors are not.
func (e *APIError) Retryable() bool {
	if len(e.Messages) > 0 {
		return false
	}
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// OutcomeUnknown reports whether the request may have been applied even
// though it failed: the connection broke or a gateway answered with 5xx.
func (e *APIError) OutcomeUnknown() bool {
	if len(e.Messages) > 0 || errors.Is(e.Err, ErrUnauthorized) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}
