// Package session is the single entry point for obtaining a valid Cway
// access token for a named user.
//
// Manager keeps an in-memory cache in front of the encrypted token store
// and refreshes tokens that are within the refresh threshold of expiry. The
// check, refresh and write-back sequence runs under a per-user lock, so
// concurrent calls for one user trigger at most one refresh while different
// users proceed in parallel.
//
// Errors separate the two cases callers must handle differently: session
// problems only a new login can fix (IsReauthRequired) and transient
// provider failures that are safe to retry (oauth.IsRetryable).
//
// LoginFlow runs the interactive login and hands the result to Manager.
package session
