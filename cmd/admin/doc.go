// Package main (cmd/admin) implements the administration client for the
// analytics vault server.
//
// Commands:
//
//	create-app         - Register a new application with its API token and property schema
//	generate-exporter  - Generate an exporter keypair and self-signed certificate
//	register-cert      - Register an exporter certificate for an application
package main
