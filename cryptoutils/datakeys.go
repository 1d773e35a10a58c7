package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates key-wrap KEKs from any other use of the same
// ECDH shared secret.
var hkdfInfo = []byte("analytics-vault/data-key-wrap/v1")

// GenerateDataKey creates a fresh 32-byte per-artifact data key.
func GenerateDataKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return key, nil
}

// WrapDataKey encrypts a data key for one recipient. A fresh ephemeral P-256
// key is generated per call; the shared secret from ECDH with the recipient's
// public key is run through HKDF-SHA256 to derive the AES-256-GCM wrapping
// key. Returns the wrapped key (nonce || ciphertext) and the ephemeral public
// key the recipient needs to unwrap.
func WrapDataKey(pub RecipientPubkey, dataKey []byte) (wrapped []byte, ephemeralPubkey []byte, err error) {
	ecdsaPub, err := pub.GetPublicKey()
	if err != nil {
		return nil, nil, err
	}

	recipientKey, err := ecdsaPub.ECDH()
	if err != nil {
		return nil, nil, fmt.Errorf("recipient key not usable for ECDH: %w", err)
	}

	ephemeralKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	sharedSecret, err := ephemeralKey.ECDH(recipientKey)
	if err != nil {
		return nil, nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}

	wrapped, err = sealWithSecret(sharedSecret, dataKey)
	if err != nil {
		return nil, nil, err
	}

	return wrapped, ephemeralKey.PublicKey().Bytes(), nil
}

// UnwrapDataKey recovers a data key wrapped with WrapDataKey using the
// recipient's private key and the ephemeral public key stored alongside the
// entry. This runs in the exporter's trusted environment; the server is a
// blind relay and never calls it on live data.
func UnwrapDataKey(priv RecipientPrivkey, wrapped, ephemeralPubkey []byte) ([]byte, error) {
	ecdsaPriv, err := priv.GetPrivateKey()
	if err != nil {
		return nil, err
	}

	recipientKey, err := ecdsaPriv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("recipient key not usable for ECDH: %w", err)
	}

	ephemeralKey, err := ecdh.P256().NewPublicKey(ephemeralPubkey)
	if err != nil {
		return nil, fmt.Errorf("invalid ephemeral public key: %w", err)
	}

	sharedSecret, err := recipientKey.ECDH(ephemeralKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}

	return openWithSecret(sharedSecret, wrapped)
}

// EncryptContent encrypts artifact content with a data key, returning the
// AEAD nonce (the artifact's initialization vector) and the ciphertext.
func EncryptContent(dataKey, plaintext []byte) (iv, ciphertext []byte, err error) {
	aead, err := newGCM(dataKey)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	return iv, aead.Seal(nil, iv, plaintext, nil), nil
}

// DecryptContent reverses EncryptContent.
func DecryptContent(dataKey, iv, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func sealWithSecret(sharedSecret, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(deriveKEK(sharedSecret))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

func openWithSecret(sharedSecret, sealed []byte) ([]byte, error) {
	aead, err := newGCM(deriveKEK(sharedSecret))
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("wrapped key too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap: %w", err)
	}
	return plaintext, nil
}

func deriveKEK(sharedSecret []byte) []byte {
	kek := make([]byte, 32)
	kdf := hkdf.New(sha256.New, sharedSecret, nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, kek); err != nil {
		// HKDF over SHA-256 cannot fail for a 32-byte read.
		panic(err)
	}
	return kek
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
