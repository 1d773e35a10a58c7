package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// Factory creates artifact store backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a new factory instance.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates an artifact store from a location URI.
// The URI format is [scheme]://[host][/path][?params]
//
// Supported schemes:
//   - file:// - local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//   - memory:// - in-memory storage (tests, development)
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) BackendFor(locationURI string) (interfaces.ArtifactStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid storage location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	case "memory":
		return NewMemoryBackend(f.log), nil
	default:
		return nil, fmt.Errorf("unsupported backend scheme: %s", u.Scheme)
	}
}

// createFileBackend creates a local filesystem backend.
// URI format: file:///var/lib/vault/artifacts
func (f *Factory) createFileBackend(u *url.URL) (interfaces.ArtifactStore, error) {
	f.log.Debug("Creating file backend", slog.String("uri", u.String()))

	baseDir := u.Path
	if u.Host != "" {
		// Relative form: file://dir/path
		baseDir = u.Host + u.Path
	}
	if baseDir == "" {
		return nil, fmt.Errorf("file URI missing directory path")
	}

	return NewFileBackend(baseDir, f.log)
}

// createS3Backend creates an S3 backend.
// URI format: s3://bucket/prefix?region=us-east-1&endpoint=https://...
// Credentials come from AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY or the
// ambient AWS environment.
func (f *Factory) createS3Backend(u *url.URL) (interfaces.ArtifactStore, error) {
	f.log.Debug("Creating S3 backend", slog.String("uri", u.String()))

	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("S3 URI missing bucket name")
	}

	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Backend(
		bucket,
		strings.TrimPrefix(u.Path, "/"),
		region,
		u.Query().Get("endpoint"),
		os.Getenv("AWS_ACCESS_KEY_ID"),
		os.Getenv("AWS_SECRET_ACCESS_KEY"),
		f.log,
	)
}

// createVaultBackend creates a Vault KV v2 backend.
// URI format: vault://vault.example.com:8200/secret/artifacts?insecure=1
// The token comes from the VAULT_TOKEN environment variable.
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.ArtifactStore, error) {
	f.log.Debug("Creating Vault backend", slog.String("uri", u.String()))

	if u.Host == "" {
		return nil, fmt.Errorf("vault URI missing server address")
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("vault URI must be vault://host:port/mount/path")
	}

	scheme := "https"
	if u.Query().Get("insecure") == "1" {
		scheme = "http"
	}

	return NewVaultBackend(
		fmt.Sprintf("%s://%s", scheme, u.Host),
		parts[0],
		parts[1],
		os.Getenv("VAULT_TOKEN"),
		f.log,
	)
}
