// Package storage implements the artifact content backends. Content is keyed
// by artifact id and published atomically: a concurrent reader observes
// either the previous content or the complete new content, never a partial
// write. For one artifact id, the last write to finish wins.
//
// Backends are created from location URIs via the factory:
//
//	file:///var/lib/vault/artifacts
//	s3://bucket/prefix?region=us-east-1&endpoint=...
//	vault://vault.example.com:8200/secret/artifacts
//	memory://
package storage
