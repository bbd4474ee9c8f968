// Package app bootstraps and runs cway-mcp.
//
// # Bootstrap
//
// NewApplication performs the startup sequence:
//
//  1. Logging is configured for the boot phase, then reconfigured from the
//     loaded logging settings
//  2. Configuration is loaded from config.yaml, .env and CWAY_* variables
//     (see package config)
//  3. InitializeServices creates the components in dependency order
//
// # Services
//
// In oauth mode the token store, identity provider client, pending login
// store, session manager and login flow are created. In static mode a single
// API token from configuration is used for every request and the session
// components are nil.
//
// The confirmation service uses the configured secret, or a random secret
// per process when none is set. Consumed tokens are tracked in memory, or in
// Redis when confirmation.redisAddr is set.
//
// # Run
//
// Application.Run supervises, under one errgroup:
//
//   - the MCP transport: stdio, or streamable HTTP at /mcp
//   - the HTTP listener for the login callback, /healthz and /metrics
//   - the token directory watcher, which drops cached sessions changed by
//     another process such as `cway-mcp auth logout`
//   - the confirmation janitor, which evicts old consumed nonces
//
// SIGINT and SIGTERM trigger a graceful shutdown. In stdio mode the process
// also exits when the client closes stdin. A busy HTTP port in stdio mode is
// logged and tolerated so that several assistants can each run their own
// stdio server.
package app
