package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
	"github.com/openmetrica/analytics-vault-backend/keyregistry"
)

// Request carries one upload. Content is streamed; everything else is
// metadata declared by the client.
type Request struct {
	AppName       string
	OwnerUserID   string
	ClientLocalID string

	CreatedAt time.Time
	EndedAt   time.Time

	ContentSuffix   string
	ContentEncoding string

	Encryption    interfaces.EncryptionInfo
	RecipientKeys []*interfaces.RecipientKeyEntry
	Properties    map[string]interfaces.PropertyValue

	Content io.Reader
}

// Coordinator drives the upload flow. All validation happens before any
// state is written, so a rejected request leaves no partial artifact behind.
type Coordinator struct {
	store interfaces.ArtifactStore
	meta  interfaces.MetadataStore
	keys  *keyregistry.Registry
	log   *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewCoordinator wires an upload coordinator.
func NewCoordinator(store interfaces.ArtifactStore, meta interfaces.MetadataStore, keys *keyregistry.Registry, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store: store,
		meta:  meta,
		keys:  keys,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Ingest resolves the artifact id, stores the content, persists the
// recipient key entries, and marks the artifact completed. Retries of the
// same upload converge on the same artifact; a client-local id already
// claimed by a different owner branches to a fresh server-assigned id.
func (c *Coordinator) Ingest(ctx context.Context, req *Request) (*interfaces.ArtifactMetadata, error) {
	app, err := c.meta.ApplicationByName(ctx, req.AppName)
	if err != nil {
		return nil, err
	}

	localID, err := interfaces.NewArtifactID(req.ClientLocalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrInvalidArtifactID, err)
	}
	if err := validateProperties(app.PropertySchema, req.Properties); err != nil {
		return nil, err
	}
	if err := keyregistry.ValidateForCompletion(req.Encryption, req.RecipientKeys); err != nil {
		return nil, err
	}

	artifact, err := c.resolveArtifact(ctx, app, localID, req)
	if err != nil {
		return nil, err
	}
	if artifact.Completed && !encryptionEqual(artifact.Encryption, req.Encryption) {
		return nil, interfaces.ErrEncryptedDataWithoutEncryptionMetadata
	}

	size, err := c.store.Store(ctx, artifact.ID, req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to store artifact content: %w", err)
	}

	if err := c.keys.CommitEntries(ctx, artifact.ID, req.RecipientKeys); err != nil {
		return nil, err
	}

	artifact.CreatedAt = req.CreatedAt
	artifact.EndedAt = req.EndedAt
	artifact.UploadedAt = c.now()
	artifact.ContentSuffix = req.ContentSuffix
	artifact.ContentEncoding = req.ContentEncoding
	artifact.Size = size
	artifact.Encryption = req.Encryption
	artifact.Properties = req.Properties
	artifact.Completed = true

	if err := c.meta.UpdateArtifact(ctx, artifact); err != nil {
		return nil, err
	}

	c.log.Info("artifact ingested",
		"artifact_id", artifact.ID.String(),
		"app", req.AppName,
		"owner", req.OwnerUserID,
		"size", size,
		"encrypted", artifact.Encryption.Encrypted(),
	)
	return artifact, nil
}

// resolveArtifact finds or claims the metadata row for this upload. The
// first claimant of a client-local id adopts it verbatim as the artifact id;
// a later upload of the same id by a different owner gets a server-assigned
// id in a separate row. Retries by the same owner always land on their
// original row.
func (c *Coordinator) resolveArtifact(ctx context.Context, app *interfaces.Application, localID interfaces.ArtifactID, req *Request) (*interfaces.ArtifactMetadata, error) {
	existing, err := c.meta.ArtifactByID(ctx, localID)
	switch {
	case err == nil:
		if existing.AppID == app.ID && existing.OwnerUserID == req.OwnerUserID && existing.ClientLocalID == localID.String() {
			return existing, nil
		}
		// id claimed by someone else, fall through to the owner's own row
	case errors.Is(err, interfaces.ErrArtifactNotFound):
		artifact, claimErr := c.claimArtifact(ctx, app, localID, localID, req)
		if claimErr == nil || !errors.Is(claimErr, interfaces.ErrEntityUniquenessConflict) {
			return artifact, claimErr
		}
		// lost the race for the id, fall through
	default:
		return nil, err
	}

	owned, err := c.findOwnedRow(ctx, app.ID, req.OwnerUserID, localID.String())
	if err != nil {
		return nil, err
	}
	if owned != nil {
		return owned, nil
	}

	serverID := interfaces.ArtifactID(c.newID())
	c.log.Info("client local id already claimed, assigning server id",
		"client_local_id", localID.String(), "artifact_id", serverID.String(), "owner", req.OwnerUserID)

	artifact, err := c.claimArtifact(ctx, app, serverID, localID, req)
	if errors.Is(err, interfaces.ErrEntityUniquenessConflict) {
		// a concurrent retry of the same upload claimed the row first
		owned, lookupErr := c.findOwnedRow(ctx, app.ID, req.OwnerUserID, localID.String())
		if lookupErr != nil {
			return nil, lookupErr
		}
		if owned != nil {
			return owned, nil
		}
		return nil, interfaces.ErrConcurrencyConflict
	}
	return artifact, err
}

func (c *Coordinator) claimArtifact(ctx context.Context, app *interfaces.Application, id, localID interfaces.ArtifactID, req *Request) (*interfaces.ArtifactMetadata, error) {
	artifact := &interfaces.ArtifactMetadata{
		ID:            id,
		AppID:         app.ID,
		OwnerUserID:   req.OwnerUserID,
		ClientLocalID: localID.String(),
		CreatedAt:     req.CreatedAt,
		EndedAt:       req.EndedAt,
		UploadedAt:    c.now(),
	}
	if err := c.meta.CreateArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

func (c *Coordinator) findOwnedRow(ctx context.Context, appID, owner, localID string) (*interfaces.ArtifactMetadata, error) {
	artifacts, err := c.meta.ArtifactsByApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	for _, artifact := range artifacts {
		if artifact.OwnerUserID == owner && artifact.ClientLocalID == localID {
			return artifact, nil
		}
	}
	return nil, nil
}

func validateProperties(schema map[string]interfaces.PropertyKind, props map[string]interfaces.PropertyValue) error {
	for name, value := range props {
		declared, ok := schema[name]
		if !ok {
			return fmt.Errorf("%w: %s", interfaces.ErrUnknownProperty, name)
		}
		if err := value.CheckKind(declared); err != nil {
			return fmt.Errorf("%w: %s declared %s, got %s", interfaces.ErrPropertyKindMismatch, name, declared, value.Kind)
		}
	}
	return nil
}

func encryptionEqual(a, b interfaces.EncryptionInfo) bool {
	return a.Mode == b.Mode &&
		bytes.Equal(a.InitializationVector, b.InitializationVector) &&
		bytes.Equal(a.SharedEphemeralPubkey, b.SharedEphemeralPubkey)
}
