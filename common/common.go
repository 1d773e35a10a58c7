// Package common holds the package identity and logger setup shared by all
// binaries in this repository.
package common

const (
	PackageName = "analytics-vault-backend"
	Version     = "dev"
)
