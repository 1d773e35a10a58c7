package keyregistry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// Registry validates and persists recipient key entries and resolves
// recipient access to artifact content. The server never sees a plaintext
// data key; entries carry opaque wrapped bytes produced client-side.
type Registry struct {
	meta  interfaces.MetadataStore
	store interfaces.ArtifactStore
	log   *slog.Logger
}

// NewRegistry wires a registry over the metadata and content stores.
func NewRegistry(meta interfaces.MetadataStore, store interfaces.ArtifactStore, log *slog.Logger) *Registry {
	return &Registry{meta: meta, store: store, log: log}
}

// ValidateForCompletion checks that the declared encryption info and the
// submitted recipient entries are mutually consistent and sufficient for the
// artifact to be marked completed.
//
// An encrypted artifact with zero entries would be permanently unreadable,
// so it is rejected with ErrMissingRecipientDataKeys before any state is
// written.
func ValidateForCompletion(enc interfaces.EncryptionInfo, entries []*interfaces.RecipientKeyEntry) error {
	if !enc.Encrypted() {
		if len(entries) > 0 {
			return interfaces.ErrEncryptedDataWithoutEncryptionMetadata
		}
		return nil
	}

	if len(entries) == 0 {
		return interfaces.ErrMissingRecipientDataKeys
	}
	if len(enc.InitializationVector) == 0 {
		return interfaces.ErrEncryptedDataWithoutEncryptionMetadata
	}

	for _, entry := range entries {
		if entry.Mode != enc.Mode {
			return interfaces.ErrEncryptedDataWithoutEncryptionMetadata
		}
		if len(entry.WrappedDataKey) == 0 {
			return interfaces.ErrEncryptedDataWithoutEncryptionMetadata
		}
		if len(entry.EphemeralPubkey) == 0 && len(enc.SharedEphemeralPubkey) == 0 {
			return interfaces.ErrEncryptedDataWithoutEncryptionMetadata
		}
	}
	return nil
}

// CommitEntries persists the recipient entries of a new or retried upload.
// An entry that already exists with identical bytes is a retry and is
// skipped; an existing entry with different bytes is a conflict, since
// grants are immutable once written.
func (r *Registry) CommitEntries(ctx context.Context, id interfaces.ArtifactID, entries []*interfaces.RecipientKeyEntry) error {
	for _, entry := range entries {
		entry.ArtifactID = id

		err := r.meta.AddRecipientEntry(ctx, entry)
		if err == nil {
			continue
		}
		if !errors.Is(err, interfaces.ErrRekeyAlreadyGranted) {
			return err
		}

		existing, lookupErr := r.meta.RecipientEntry(ctx, id, entry.RecipientKeyID)
		if lookupErr != nil {
			return lookupErr
		}
		if existing == nil || !entriesEqual(existing, entry) {
			return interfaces.ErrConcurrencyConflict
		}
		r.log.Debug("recipient entry already present, retry tolerated",
			"artifact_id", id.String(), "recipient_key_id", entry.RecipientKeyID.String())
	}
	return nil
}

func entriesEqual(a, b *interfaces.RecipientKeyEntry) bool {
	return a.Mode == b.Mode &&
		bytes.Equal(a.WrappedDataKey, b.WrappedDataKey) &&
		bytes.Equal(a.EphemeralPubkey, b.EphemeralPubkey)
}

// GetForRecipient resolves one completed artifact for one recipient key. For
// encrypted artifacts the recipient must hold a key entry; without one the
// caller gets ErrNotAuthorizedForArtifact regardless of whether the content
// exists. Unencrypted artifacts are readable by any authenticated exporter
// of the application.
func (r *Registry) GetForRecipient(ctx context.Context, appID string, id interfaces.ArtifactID, keyID interfaces.KeyID) (*interfaces.ArtifactMetadata, []byte, *interfaces.RecipientKeyEntry, error) {
	artifact, err := r.meta.ArtifactByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if artifact.AppID != appID || !artifact.Completed {
		return nil, nil, nil, interfaces.ErrArtifactNotFound
	}

	var entry *interfaces.RecipientKeyEntry
	if artifact.Encryption.Encrypted() {
		entry, err = r.meta.RecipientEntry(ctx, id, keyID)
		if err != nil {
			return nil, nil, nil, err
		}
		if entry == nil {
			return nil, nil, nil, interfaces.ErrNotAuthorizedForArtifact
		}
	}

	content, err := r.store.Fetch(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return artifact, content, entry, nil
}
