package cryptoutils

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

func TestKeyIDAgreesBetweenCertificateAndPubkey(t *testing.T) {
	pub, priv, err := RandomP256Keypair()
	require.NoError(t, err)

	certPEM, err := CreateExporterCertificate(priv, "exporter-1", time.Hour)
	require.NoError(t, err)
	cert, err := certPEM.GetX509Cert()
	require.NoError(t, err)

	fromCert, err := CertificateKeyID(cert)
	require.NoError(t, err)
	fromPubkey, err := PubkeyKeyID(pub)
	require.NoError(t, err)

	// the same key hashes to the same id regardless of the carrier
	assert.True(t, fromCert.Equal(fromPubkey))
}

func TestVerifyExporterCertificate(t *testing.T) {
	_, priv, err := RandomP256Keypair()
	require.NoError(t, err)
	certPEM, err := CreateExporterCertificate(priv, "exporter-1", time.Hour)
	require.NoError(t, err)
	cert, err := certPEM.GetX509Cert()
	require.NoError(t, err)
	keyID, err := CertificateKeyID(cert)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, VerifyExporterCertificate(cert, keyID, time.Now()))
	})

	t.Run("expired", func(t *testing.T) {
		err := VerifyExporterCertificate(cert, keyID, time.Now().Add(2*time.Hour))
		assert.ErrorIs(t, err, interfaces.ErrCertificateViolation)
	})

	t.Run("not yet valid", func(t *testing.T) {
		err := VerifyExporterCertificate(cert, keyID, time.Now().Add(-time.Hour))
		assert.ErrorIs(t, err, interfaces.ErrCertificateViolation)
	})

	t.Run("claimed key id does not match", func(t *testing.T) {
		other := interfaces.KeyID(sha256.Sum256([]byte("someone else")))
		err := VerifyExporterCertificate(cert, other, time.Now())
		assert.ErrorIs(t, err, interfaces.ErrCertificateViolation)
	})
}

func TestChallengeSignatureRoundtrip(t *testing.T) {
	_, priv, err := RandomP256Keypair()
	require.NoError(t, err)
	certPEM, err := CreateExporterCertificate(priv, "exporter-1", time.Hour)
	require.NoError(t, err)
	cert, err := certPEM.GetX509Cert()
	require.NoError(t, err)
	keyID, err := CertificateKeyID(cert)
	require.NoError(t, err)

	nonce := []byte("challenge nonce")
	content := ChallengeContent("Demo", keyID, nonce)

	signature, err := SignChallenge(priv, DigestSHA256, content)
	require.NoError(t, err)
	assert.NoError(t, VerifyChallengeSignature(cert, DigestSHA256, content, signature))

	// signature over different content does not verify
	otherContent := ChallengeContent("Other", keyID, nonce)
	assert.Error(t, VerifyChallengeSignature(cert, DigestSHA256, otherContent, signature))

	// unknown digest algorithms are rejected
	assert.Error(t, VerifyChallengeSignature(cert, "MD5", content, signature))
}

func TestChallengeContentIsUnambiguous(t *testing.T) {
	keyID := interfaces.KeyID(sha256.Sum256([]byte("key")))
	nonce := []byte("nonce")

	a := ChallengeContent("app", keyID, nonce)
	b := ChallengeContent("ap", keyID, nonce)
	assert.NotEqual(t, a, b)

	// the app name is terminated by a zero byte before the key id
	assert.Equal(t, byte(0), a[len("app")])
}
