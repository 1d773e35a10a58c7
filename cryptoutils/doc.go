// Package cryptoutils provides the cryptographic helpers of the artifact
// vault: deterministic key ids, exporter certificate checks, challenge
// content derivation and signature verification, and per-recipient data-key
// wrapping (ephemeral ECDH + HKDF-SHA256 + AES-256-GCM).
//
// The server only ever wraps nothing and unwraps nothing: wrapped data keys
// pass through it opaquely. Wrap/unwrap functions are here for exporter
// tooling and for tests.
package cryptoutils
