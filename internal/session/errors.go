package session

import "errors"

var (
	// ErrNotAuthenticated means no session exists for the user.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrReauthenticationRequired means the session existed but its refresh
	// token was rejected, so the user must log in again.
	ErrReauthenticationRequired = errors.New("re-authentication required")
)

// IsReauthRequired reports whether err can only be resolved by a new login.
func IsReauthRequired(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrReauthenticationRequired)
}
