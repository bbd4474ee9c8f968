// Package config provides configuration management for cway-mcp.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. built-in defaults (GetDefaultConfig)
//  2. config.yaml in the configuration directory, ~/.config/cway-mcp by
//     default or the directory given with --config-path
//  3. CWAY_* environment variables, optionally loaded from a .env file with
//     LoadDotEnv
//
// The result is validated with go-playground/validator; Validate returns a
// ValidationErrors value naming each offending field by its YAML path.
//
// Example config.yaml:
//
//	username: alice@example.com
//	auth:
//	  clientId: 00000000-0000-0000-0000-000000000000
//	  tenantId: contoso.onmicrosoft.com
//	confirmation:
//	  ttl: 5m
//	  retention: 1h
//	  redisAddr: localhost:6379
//	  secret: change-me-to-something-long
//	server:
//	  transport: streamable-http
//	  listen: localhost:8765
package config
