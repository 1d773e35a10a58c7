package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// VaultBackend implements an artifact store on HashiCorp Vault's KV v2
// engine. Intended for small, high-sensitivity artifacts; content is stored
// base64-encoded in one KV version per write, so the swap is atomic.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault artifact store using token authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "artifacts")
//   - token: Vault token
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(address, "https://"), mountPath, dataPath),
	}, nil
}

// Store writes artifact content as one KV v2 version.
func (b *VaultBackend) Store(ctx context.Context, id interfaces.ArtifactID, content io.Reader) (int64, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	data, err := io.ReadAll(content)
	if err != nil {
		return 0, fmt.Errorf("failed to read content: %w", err)
	}

	path := b.secretPath(id)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			slog.String("artifactID", id.String()),
			"err", err)
		return 0, fmt.Errorf("failed to write to Vault: %w", err)
	}

	b.log.Debug("Stored artifact content in Vault",
		slog.String("artifactID", id.String()),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return int64(len(data)), nil
}

// Fetch retrieves artifact content from Vault.
// Returns ErrContentNotFound if no version exists under the id.
func (b *VaultBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	path := b.secretPath(id)
	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}

	contentStr, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data")
	}

	content, err := base64.StdEncoding.DecodeString(contentStr)
	if err != nil {
		return nil, fmt.Errorf("invalid content encoding in Vault data: %w", err)
	}

	return content, nil
}

// Delete removes all versions of the artifact's KV entry.
func (b *VaultBackend) Delete(ctx context.Context, id interfaces.ArtifactID) error {
	if err := id.Validate(); err != nil {
		return err
	}

	path := fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.dataPath, id)
	if _, err := b.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete from Vault: %w", err)
	}
	return nil
}

// Available checks Vault health (initialized and unsealed).
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(id interfaces.ArtifactID) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, id)
}
