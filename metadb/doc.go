// Package metadb implements metadata persistence for applications, artifact
// metadata, recipient key entries, and registered certificates. The Postgres
// store is the production implementation; the in-memory store backs tests
// and single-process development.
package metadb
