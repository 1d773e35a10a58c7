package keyregistry

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
	"github.com/openmetrica/analytics-vault-backend/metadb"
	"github.com/openmetrica/analytics-vault-backend/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func keyIDOf(seed string) interfaces.KeyID {
	return interfaces.KeyID(sha256.Sum256([]byte(seed)))
}

func encryptedInfo() interfaces.EncryptionInfo {
	return interfaces.EncryptionInfo{
		Mode:                 interfaces.EncryptionModeECDHAESGCM,
		InitializationVector: []byte("twelve-bytes"),
	}
}

func entryFor(id interfaces.ArtifactID, key interfaces.KeyID) *interfaces.RecipientKeyEntry {
	return &interfaces.RecipientKeyEntry{
		ArtifactID:      id,
		RecipientKeyID:  key,
		Mode:            interfaces.EncryptionModeECDHAESGCM,
		WrappedDataKey:  []byte("wrapped-for-" + key.String()[:8]),
		EphemeralPubkey: []byte("ephemeral"),
	}
}

func TestValidateForCompletion(t *testing.T) {
	enc := encryptedInfo()
	entry := entryFor("a1", keyIDOf("r1"))

	t.Run("unencrypted without entries passes", func(t *testing.T) {
		assert.NoError(t, ValidateForCompletion(interfaces.EncryptionInfo{}, nil))
	})

	t.Run("unencrypted with entries is inconsistent", func(t *testing.T) {
		err := ValidateForCompletion(interfaces.EncryptionInfo{}, []*interfaces.RecipientKeyEntry{entry})
		assert.ErrorIs(t, err, interfaces.ErrEncryptedDataWithoutEncryptionMetadata)
	})

	t.Run("encrypted without entries is unreadable", func(t *testing.T) {
		err := ValidateForCompletion(enc, nil)
		assert.ErrorIs(t, err, interfaces.ErrMissingRecipientDataKeys)
	})

	t.Run("encrypted without iv is rejected", func(t *testing.T) {
		noIV := enc
		noIV.InitializationVector = nil
		err := ValidateForCompletion(noIV, []*interfaces.RecipientKeyEntry{entry})
		assert.ErrorIs(t, err, interfaces.ErrEncryptedDataWithoutEncryptionMetadata)
	})

	t.Run("entry mode mismatch is rejected", func(t *testing.T) {
		bad := *entry
		bad.Mode = interfaces.EncryptionModeUnencrypted
		err := ValidateForCompletion(enc, []*interfaces.RecipientKeyEntry{&bad})
		assert.ErrorIs(t, err, interfaces.ErrEncryptedDataWithoutEncryptionMetadata)
	})

	t.Run("empty wrapped key is rejected", func(t *testing.T) {
		bad := *entry
		bad.WrappedDataKey = nil
		err := ValidateForCompletion(enc, []*interfaces.RecipientKeyEntry{&bad})
		assert.ErrorIs(t, err, interfaces.ErrEncryptedDataWithoutEncryptionMetadata)
	})

	t.Run("shared ephemeral key satisfies entries without one", func(t *testing.T) {
		shared := enc
		shared.SharedEphemeralPubkey = []byte("shared-ephemeral")
		bare := *entry
		bare.EphemeralPubkey = nil
		assert.NoError(t, ValidateForCompletion(shared, []*interfaces.RecipientKeyEntry{&bare}))
	})

	t.Run("valid encrypted set passes", func(t *testing.T) {
		assert.NoError(t, ValidateForCompletion(enc, []*interfaces.RecipientKeyEntry{entry}))
	})
}

func TestCommitEntriesToleratesIdenticalRetry(t *testing.T) {
	ctx := context.Background()
	meta := metadb.NewMemoryStore()
	registry := NewRegistry(meta, storage.NewMemoryBackend(testLogger()), testLogger())

	entry := entryFor("a1", keyIDOf("r1"))
	require.NoError(t, registry.CommitEntries(ctx, "a1", []*interfaces.RecipientKeyEntry{entry}))

	// identical retry is a no-op
	retry := *entry
	require.NoError(t, registry.CommitEntries(ctx, "a1", []*interfaces.RecipientKeyEntry{&retry}))

	// a differing wrapped key for the same recipient is a conflict
	conflicting := *entry
	conflicting.WrappedDataKey = []byte("different")
	err := registry.CommitEntries(ctx, "a1", []*interfaces.RecipientKeyEntry{&conflicting})
	assert.ErrorIs(t, err, interfaces.ErrConcurrencyConflict)
}

func seedArtifact(t *testing.T, meta *metadb.MemoryStore, store interfaces.ArtifactStore, id interfaces.ArtifactID, completed bool, enc interfaces.EncryptionInfo, content string) {
	t.Helper()
	require.NoError(t, meta.CreateArtifact(context.Background(), &interfaces.ArtifactMetadata{
		ID:            id,
		AppID:         "app-1",
		OwnerUserID:   "owner",
		ClientLocalID: id.String(),
		Completed:     completed,
		Encryption:    enc,
	}))
	if content != "" {
		_, err := store.Store(context.Background(), id, strings.NewReader(content))
		require.NoError(t, err)
	}
}

func TestGetForRecipient(t *testing.T) {
	ctx := context.Background()
	meta := metadb.NewMemoryStore()
	store := storage.NewMemoryBackend(testLogger())
	registry := NewRegistry(meta, store, testLogger())

	recipient := keyIDOf("r1")
	stranger := keyIDOf("r2")

	seedArtifact(t, meta, store, "enc-1", true, encryptedInfo(), "ciphertext")
	require.NoError(t, meta.AddRecipientEntry(ctx, entryFor("enc-1", recipient)))
	seedArtifact(t, meta, store, "plain-1", true, interfaces.EncryptionInfo{}, "plaintext")
	seedArtifact(t, meta, store, "pending-1", false, encryptedInfo(), "")

	t.Run("recipient with entry gets metadata, content and entry", func(t *testing.T) {
		artifact, content, entry, err := registry.GetForRecipient(ctx, "app-1", "enc-1", recipient)
		require.NoError(t, err)
		assert.Equal(t, interfaces.ArtifactID("enc-1"), artifact.ID)
		assert.Equal(t, []byte("ciphertext"), content)
		require.NotNil(t, entry)
		assert.True(t, entry.RecipientKeyID.Equal(recipient))
	})

	t.Run("recipient without entry is not authorized", func(t *testing.T) {
		_, _, _, err := registry.GetForRecipient(ctx, "app-1", "enc-1", stranger)
		assert.ErrorIs(t, err, interfaces.ErrNotAuthorizedForArtifact)
	})

	t.Run("unencrypted artifact needs no entry", func(t *testing.T) {
		_, content, entry, err := registry.GetForRecipient(ctx, "app-1", "plain-1", stranger)
		require.NoError(t, err)
		assert.Equal(t, []byte("plaintext"), content)
		assert.Nil(t, entry)
	})

	t.Run("incomplete artifact is invisible", func(t *testing.T) {
		_, _, _, err := registry.GetForRecipient(ctx, "app-1", "pending-1", recipient)
		assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
	})

	t.Run("artifact of another app is invisible", func(t *testing.T) {
		_, _, _, err := registry.GetForRecipient(ctx, "other-app", "enc-1", recipient)
		assert.ErrorIs(t, err, interfaces.ErrArtifactNotFound)
	})
}
