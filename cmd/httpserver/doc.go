// Package main (cmd/httpserver) implements the analytics vault server.
//
// The server provides HTTP endpoints for artifact ingestion, exporter
// authentication via certificate possession challenges, artifact export with
// per-recipient wrapped data keys, and the rekeying protocol that grants new
// recipients access to existing artifacts.
//
// Metadata lives in Postgres (or in memory for development), artifact
// content in a pluggable store selected by URI: local filesystem, S3,
// HashiCorp Vault, or memory.
//
// Usage:
//
//	vault-server \
//	  --listen-addr 127.0.0.1:8080 \
//	  --artifact-store file:///var/lib/analytics-vault/artifacts \
//	  --database-dsn postgres://vault@localhost/vault \
//	  --token-secret "$TOKEN_SECRET"
package main
