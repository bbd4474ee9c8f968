// Package logging provides subsystem-tagged structured logging for cway-mcp,
// built on Go's standard slog package.
//
// Every entry carries a subsystem attribute and, for errors, an error
// attribute:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Session", "Refreshed token for %s", logging.RedactUser(username))
//	logging.Error("TokenStore", err, "Failed to persist session")
//
// Security-relevant events go through Audit, which prefixes the message with
// SECURITY_AUDIT so they can be filtered in log pipelines. Credential values
// must never be passed to any function in this package; usernames should be
// passed through RedactUser first.
package logging
