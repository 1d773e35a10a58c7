// Package ingest coordinates artifact uploads: id resolution with collision
// handling, property validation against the application schema, durable
// content storage, and completion gated on recipient key material.
package ingest
