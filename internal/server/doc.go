// Package server exposes the Cway trust and session core to AI assistants
// over the Model Context Protocol.
//
// # Tools
//
// Authentication:
//
//   - auth_login starts a browser login and returns the authorization URL
//   - auth_complete_login finishes a login from a pasted code and state
//   - auth_logout deletes a stored session
//   - auth_whoami reports the session state of a user
//   - auth_list_users lists users with a stored session
//
// Destructive operations use a two-phase protocol. A prepare_* tool looks up
// the affected items and returns a preview with a signed, single-use
// confirmation token. The matching confirm_* tool redeems the token and only
// then calls the Cway API:
//
//   - prepare_delete_projects / confirm_delete_projects
//   - prepare_close_projects / confirm_close_projects
//   - prepare_delete_user / confirm_delete_user
//
// Tokens are bound to the action and to the user that prepared them.
//
// # Acting user
//
// A tool call acts for the user named by its username argument, the
// X-Cway-Username header on the streamable HTTP transport, or the configured
// default user, in that order.
//
// # Resources
//
// auth://status lists stored sessions with their expiry and the confirmation
// token settings. It never includes credentials.
//
// # HTTP
//
// Router serves the OAuth redirect callback, /healthz, /metrics and the
// streamable HTTP endpoint at /mcp.
package server
