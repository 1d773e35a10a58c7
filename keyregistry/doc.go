// Package keyregistry manages per-recipient wrapped data keys. It gates
// artifact completion on usable key material, resolves recipient access to
// stored content, and runs the rekeying protocol that grants new recipients
// access to existing artifacts without touching the bulk ciphertext.
package keyregistry
