package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCSRFValidation is returned when the callback state does not match the
// state issued for the login attempt.
var ErrCSRFValidation = errors.New("oauth state mismatch")

// ProviderError describes a failed call to the identity provider or the Cway
// token endpoint. StatusCode is zero for network failures and timeouts.
type ProviderError struct {
	Op         string
	StatusCode int
	// Code is the OAuth error code from the response body, if any.
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	msg := "oauth " + e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later: network
// failures, timeouts, rate limiting and server errors.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// Rejected reports whether the provider refused the grant itself, for example
// because a refresh token expired or was revoked. Other non-retryable
// failures such as an unparsable 200 response or a 404 from a misconfigured
// endpoint say nothing about the token and are not rejections.
func (e *ProviderError) Rejected() bool {
	switch e.Code {
	case "invalid_grant", "invalid_token":
		return true
	}
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnauthorized
}

// IsRejected reports whether err is a provider refusal of the grant.
func IsRejected(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Rejected()
}
