package keyregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
	"github.com/openmetrica/analytics-vault-backend/metadb"
	"github.com/openmetrica/analytics-vault-backend/storage"
)

func TestListNeedingRekey(t *testing.T) {
	ctx := context.Background()
	meta := metadb.NewMemoryStore()
	store := storage.NewMemoryBackend(testLogger())
	registry := NewRegistry(meta, store, testLogger())

	original := keyIDOf("original")
	newcomer := keyIDOf("newcomer")

	// two completed encrypted artifacts with a grant for the original key
	seedArtifact(t, meta, store, "enc-1", true, encryptedInfo(), "c1")
	require.NoError(t, meta.AddRecipientEntry(ctx, entryFor("enc-1", original)))
	seedArtifact(t, meta, store, "enc-2", true, encryptedInfo(), "c2")
	require.NoError(t, meta.AddRecipientEntry(ctx, entryFor("enc-2", original)))

	// excluded: already granted to the newcomer, unencrypted, incomplete
	seedArtifact(t, meta, store, "enc-3", true, encryptedInfo(), "c3")
	require.NoError(t, meta.AddRecipientEntry(ctx, entryFor("enc-3", newcomer)))
	seedArtifact(t, meta, store, "plain-1", true, interfaces.EncryptionInfo{}, "p1")
	seedArtifact(t, meta, store, "pending-1", false, encryptedInfo(), "")

	candidates, err := registry.ListNeedingRekey(ctx, "app-1", newcomer)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	ids := map[interfaces.ArtifactID]bool{}
	for _, candidate := range candidates {
		ids[candidate.ArtifactID] = true
		assert.True(t, candidate.Encryption.Encrypted())
		require.Len(t, candidate.Entries, 1)
		assert.True(t, candidate.Entries[0].RecipientKeyID.Equal(original))
	}
	assert.True(t, ids["enc-1"])
	assert.True(t, ids["enc-2"])
}

func TestSubmitRekeyedKeys(t *testing.T) {
	ctx := context.Background()
	meta := metadb.NewMemoryStore()
	store := storage.NewMemoryBackend(testLogger())
	registry := NewRegistry(meta, store, testLogger())

	original := keyIDOf("original")
	newcomer := keyIDOf("newcomer")

	seedArtifact(t, meta, store, "enc-1", true, encryptedInfo(), "c1")
	originalEntry := entryFor("enc-1", original)
	require.NoError(t, meta.AddRecipientEntry(ctx, originalEntry))
	seedArtifact(t, meta, store, "plain-1", true, interfaces.EncryptionInfo{}, "p1")

	results, err := registry.SubmitRekeyedKeys(ctx, "app-1", newcomer, map[interfaces.ArtifactID]RekeyedKey{
		"enc-1":   {WrappedDataKey: []byte("rewrapped"), EphemeralPubkey: []byte("eph")},
		"plain-1": {WrappedDataKey: []byte("rewrapped")},
		"ghost":   {WrappedDataKey: []byte("rewrapped")},
		"empty":   {},
	})
	require.NoError(t, err)

	assert.Equal(t, RekeyGranted, results["enc-1"].Status)
	assert.Equal(t, RekeyRejected, results["plain-1"].Status)
	assert.Equal(t, RekeyRejected, results["ghost"].Status)
	assert.Equal(t, RekeyRejected, results["empty"].Status)

	// the new grant exists and the original one is byte for byte unchanged
	granted, err := meta.RecipientEntry(ctx, "enc-1", newcomer)
	require.NoError(t, err)
	require.NotNil(t, granted)
	assert.Equal(t, []byte("rewrapped"), granted.WrappedDataKey)

	prior, err := meta.RecipientEntry(ctx, "enc-1", original)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, originalEntry.WrappedDataKey, prior.WrappedDataKey)

	// resubmission reports already-granted and does not overwrite
	again, err := registry.SubmitRekeyedKeys(ctx, "app-1", newcomer, map[interfaces.ArtifactID]RekeyedKey{
		"enc-1": {WrappedDataKey: []byte("other-bytes"), EphemeralPubkey: []byte("eph2")},
	})
	require.NoError(t, err)
	assert.Equal(t, RekeyAlreadyGranted, again["enc-1"].Status)

	kept, err := meta.RecipientEntry(ctx, "enc-1", newcomer)
	require.NoError(t, err)
	assert.Equal(t, []byte("rewrapped"), kept.WrappedDataKey)
}
