// Package interfaces defines the core types and contracts of the analytics
// artifact vault: artifact and application metadata, per-recipient wrapped
// data keys, certificate-backed exporter identities, typed domain errors, and
// the storage interfaces the coordinators are written against. It provides
// the contract between components without implementation details.
package interfaces
