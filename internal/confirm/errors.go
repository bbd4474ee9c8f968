package confirm

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedToken is returned for token strings that are not structurally
	// valid: wrong separator count, characters outside the base64url alphabet,
	// or a truncated signature.
	ErrMalformedToken = errors.New("malformed confirmation token")

	// ErrInvalidSignature is returned when the signature does not match the payload.
	ErrInvalidSignature = errors.New("invalid confirmation token signature")

	// ErrTokenExpired is returned when a token is confirmed after its expiry.
	ErrTokenExpired = errors.New("confirmation token has expired")

	// ErrTokenAlreadyUsed is returned when a token's nonce was already consumed.
	ErrTokenAlreadyUsed = errors.New("confirmation token has already been used")

	// ErrActionMismatch is returned when a token is confirmed for a different action.
	ErrActionMismatch = errors.New("confirmation token action mismatch")
)

// ActionMismatchError carries both actions for logging. It matches
// ErrActionMismatch with errors.Is.
type ActionMismatchError struct {
	Expected Action
	Actual   Action
}

func (e *ActionMismatchError) Error() string {
	return fmt.Sprintf("confirmation token was issued for %q, not %q", e.Actual, e.Expected)
}

// Is reports whether target is ErrActionMismatch.
func (e *ActionMismatchError) Is(target error) bool {
	return target == ErrActionMismatch
}

// IsInvalidToken reports whether err means the token string itself cannot be
// trusted, as opposed to a valid token that is expired or spent.
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrMalformedToken) || errors.Is(err, ErrInvalidSignature)
}
