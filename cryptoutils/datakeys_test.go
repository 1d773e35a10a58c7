package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapDataKey(t *testing.T) {
	pub, priv, err := RandomP256Keypair()
	require.NoError(t, err)

	dataKey, err := GenerateDataKey()
	require.NoError(t, err)
	require.Len(t, dataKey, 32)

	wrapped, ephemeral, err := WrapDataKey(pub, dataKey)
	require.NoError(t, err)
	assert.NotEqual(t, dataKey, wrapped)

	unwrapped, err := UnwrapDataKey(priv, wrapped, ephemeral)
	require.NoError(t, err)
	assert.Equal(t, dataKey, unwrapped)
}

func TestUnwrapWithWrongKeyFails(t *testing.T) {
	pub, _, err := RandomP256Keypair()
	require.NoError(t, err)
	_, otherPriv, err := RandomP256Keypair()
	require.NoError(t, err)

	dataKey, err := GenerateDataKey()
	require.NoError(t, err)

	wrapped, ephemeral, err := WrapDataKey(pub, dataKey)
	require.NoError(t, err)

	_, err = UnwrapDataKey(otherPriv, wrapped, ephemeral)
	assert.Error(t, err)
}

func TestWrapIsNotDeterministic(t *testing.T) {
	pub, priv, err := RandomP256Keypair()
	require.NoError(t, err)

	dataKey, err := GenerateDataKey()
	require.NoError(t, err)

	wrappedA, ephemeralA, err := WrapDataKey(pub, dataKey)
	require.NoError(t, err)
	wrappedB, ephemeralB, err := WrapDataKey(pub, dataKey)
	require.NoError(t, err)

	// fresh ephemeral key per wrap, so both ciphertexts differ yet unwrap
	// to the same data key
	assert.NotEqual(t, wrappedA, wrappedB)
	assert.NotEqual(t, ephemeralA, ephemeralB)

	unwrappedA, err := UnwrapDataKey(priv, wrappedA, ephemeralA)
	require.NoError(t, err)
	unwrappedB, err := UnwrapDataKey(priv, wrappedB, ephemeralB)
	require.NoError(t, err)
	assert.Equal(t, unwrappedA, unwrappedB)
}

func TestEncryptDecryptContent(t *testing.T) {
	dataKey, err := GenerateDataKey()
	require.NoError(t, err)

	plaintext := []byte("session recording bytes")
	iv, ciphertext, err := EncryptContent(dataKey, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptContent(dataKey, iv, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// a tampered ciphertext fails authentication
	ciphertext[0] ^= 0xff
	_, err = DecryptContent(dataKey, iv, ciphertext)
	assert.Error(t, err)
}

func TestUnwrapRejectsTruncatedInput(t *testing.T) {
	_, priv, err := RandomP256Keypair()
	require.NoError(t, err)
	pub, _, err := RandomP256Keypair()
	require.NoError(t, err)

	dataKey, err := GenerateDataKey()
	require.NoError(t, err)
	_, ephemeral, err := WrapDataKey(pub, dataKey)
	require.NoError(t, err)

	_, err = UnwrapDataKey(priv, []byte{1, 2, 3}, ephemeral)
	assert.Error(t, err)
}
