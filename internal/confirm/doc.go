// Package confirm implements the two-step prepare/confirm flow that guards
// destructive operations.
//
// Prepare issues a signed, time-limited token that encodes the action and its
// parameters. Confirm verifies the signature, the expected action, the expiry
// and single use, then returns the parameters so the caller can perform the
// mutation. Consumed nonces live in a Registry: MemoryRegistry by default,
// RedisRegistry when tokens must survive restarts.
package confirm
