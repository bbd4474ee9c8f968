// Package tokenstore persists per-user OAuth sessions encrypted at rest.
//
// Each user's session lives in its own file named by a truncated SHA-256 of
// the username, so usernames never appear on disk in the clear. Records are
// sealed with AES-256-GCM under a key derived (HKDF-SHA256) from a random key
// file kept next to, not inside, the token directory. Files are 0600 and the
// directory 0700.
//
// Watcher lets a long-running server notice changes the CLI makes to the
// same directory.
package tokenstore
