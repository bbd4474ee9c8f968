package server

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"cway-mcp/internal/confirm"
	"cway-mcp/internal/cway"
	"cway-mcp/internal/oauth"
	"cway-mcp/internal/session"
	"cway-mcp/pkg/logging"
)

// errNoUser is returned when a tool call has no acting user.
var errNoUser = errors.New("no Cway user selected")

// errWrongUser is returned when a confirmation token is redeemed by a user
// other than the one it was prepared for.
var errWrongUser = errors.New("confirmation token belongs to another user")

// userMessage turns a domain error into the message shown to the assistant.
// Internal detail stays in the logs.
func userMessage(op string, err error) string {
	var apiErr *cway.APIError

	switch {
	case confirm.IsInvalidToken(err):
		return "invalid confirmation token, call prepare_* again"
	case errors.Is(err, confirm.ErrTokenExpired):
		return "this confirmation has expired, please retry the request"
	case errors.Is(err, confirm.ErrTokenAlreadyUsed):
		return "this confirmation token has already been used"
	case errors.Is(err, confirm.ErrActionMismatch):
		logging.Error("MCP", err, "Confirmation token presented to %s", op)
		return "confirmation token was issued for a different operation"
	case errors.Is(err, errWrongUser):
		logging.Audit("confirmation_user_mismatch", "operation", op)
		return "confirmation token was issued for a different user"
	case errors.Is(err, errNoUser):
		return "no Cway user selected: set CWAY_USERNAME or pass username"
	case session.IsReauthRequired(err):
		return "please log in again (auth_login)"
	case errors.Is(err, oauth.ErrCSRFValidation):
		return "login state mismatch, start login again"
	case oauth.IsRetryable(err):
		return "authentication provider unavailable, retry shortly"
	case errors.Is(err, cway.ErrOutcomeUnknown):
		logging.Audit("mutation_outcome_unknown", "operation", op)
		return "Cway did not confirm the result; check the current state before preparing the operation again"
	case errors.Is(err, cway.ErrUnauthorized):
		return "Cway rejected the access token, please log in again (auth_login)"
	case errors.As(err, &apiErr) && apiErr.Retryable():
		return "Cway API unavailable, retry shortly"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("Cway API error: %s", apiErr.Error())
	default:
		return fmt.Sprintf("%s failed: %v", op, err)
	}
}

// toolError logs err and returns it as a tool result error.
func toolError(op string, err error) *mcp.CallToolResult {
	logging.Warn("MCP", "%s failed: %v", op, err)
	return mcp.NewToolResultError(userMessage(op, err))
}
