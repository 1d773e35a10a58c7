package challenge

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmetrica/analytics-vault-backend/cryptoutils"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
	"github.com/openmetrica/analytics-vault-backend/metadb"
)

type authFixture struct {
	meta *metadb.MemoryStore
	auth *Authenticator

	keyID interfaces.KeyID
	priv  cryptoutils.RecipientPrivkey
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	ctx := context.Background()
	meta := metadb.NewMemoryStore()

	require.NoError(t, meta.CreateApplication(ctx, &interfaces.Application{
		ID: "app-1", Name: "Demo", APIToken: "token",
	}))

	_, priv, err := cryptoutils.RandomP256Keypair()
	require.NoError(t, err)
	certPEM, err := cryptoutils.CreateExporterCertificate(priv, "exporter-1", time.Hour)
	require.NoError(t, err)
	cert, err := certPEM.GetX509Cert()
	require.NoError(t, err)
	keyID, err := cryptoutils.CertificateKeyID(cert)
	require.NoError(t, err)

	require.NoError(t, meta.AddCertificate(ctx, &interfaces.CertificateRecord{
		AppID: "app-1",
		Role:  interfaces.RoleExporterAuth,
		Label: "exporter-1",
		KeyID: keyID,
		PEM:   certPEM,
	}))

	cfg := DefaultConfig()
	cfg.NonceSize = 256 // keep test allocations small
	auth := NewAuthenticator(meta, NewStore(testLogger()), cfg, []byte("test-secret"), testLogger())

	return &authFixture{meta: meta, auth: auth, keyID: keyID, priv: priv}
}

func (f *authFixture) sign(t *testing.T, state *State) []byte {
	t.Helper()
	content := cryptoutils.ChallengeContent(state.AppName, state.ClaimedKeyID, state.Nonce)
	signature, err := cryptoutils.SignChallenge(f.priv, state.DigestAlgorithm, content)
	require.NoError(t, err)
	return signature
}

func TestChallengeRoundtrip(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	state, err := f.auth.OpenChallenge(ctx, "Demo", f.keyID)
	require.NoError(t, err)
	assert.Len(t, state.Nonce, 256)
	assert.Equal(t, cryptoutils.DigestSHA256, state.DigestAlgorithm)

	token, completed, err := f.auth.CompleteChallenge(ctx, state.ID, f.sign(t, state))
	require.NoError(t, err)
	assert.Equal(t, state.ID, completed.ID)

	claims, err := f.auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, f.keyID.String(), claims.ExporterKeyID)
	assert.Equal(t, "Demo", claims.AppName)
	assert.Contains(t, claims.ExporterDN, "exporter-1")
}

func TestChallengeIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	state, err := f.auth.OpenChallenge(ctx, "Demo", f.keyID)
	require.NoError(t, err)
	signature := f.sign(t, state)

	_, _, err = f.auth.CompleteChallenge(ctx, state.ID, signature)
	require.NoError(t, err)

	// replaying the exact same valid completion fails
	_, _, err = f.auth.CompleteChallenge(ctx, state.ID, signature)
	assert.ErrorIs(t, err, interfaces.ErrInvalidChallenge)
}

func TestChallengeExpires(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.auth.now = func() time.Time { return current }
	f.auth.store.now = func() time.Time { return current }

	state, err := f.auth.OpenChallenge(ctx, "Demo", f.keyID)
	require.NoError(t, err)
	signature := f.sign(t, state)

	current = current.Add(3 * time.Minute)
	_, _, err = f.auth.CompleteChallenge(ctx, state.ID, signature)
	assert.ErrorIs(t, err, interfaces.ErrInvalidChallenge)
}

func TestChallengeWrongKeySignature(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	state, err := f.auth.OpenChallenge(ctx, "Demo", f.keyID)
	require.NoError(t, err)

	_, otherPriv, err := cryptoutils.RandomP256Keypair()
	require.NoError(t, err)
	content := cryptoutils.ChallengeContent(state.AppName, state.ClaimedKeyID, state.Nonce)
	forged, err := cryptoutils.SignChallenge(otherPriv, state.DigestAlgorithm, content)
	require.NoError(t, err)

	_, _, err = f.auth.CompleteChallenge(ctx, state.ID, forged)
	assert.ErrorIs(t, err, interfaces.ErrChallengeCompletionFailed)

	// the failed attempt did not consume the challenge
	_, _, err = f.auth.CompleteChallenge(ctx, state.ID, f.sign(t, state))
	require.NoError(t, err)
}

func TestChallengeUnregisteredKeyID(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	unknown := interfaces.KeyID(sha256.Sum256([]byte("never registered")))
	state, err := f.auth.OpenChallenge(ctx, "Demo", unknown)
	require.NoError(t, err)

	_, _, err = f.auth.CompleteChallenge(ctx, state.ID, []byte("sig"))
	assert.ErrorIs(t, err, interfaces.ErrNoCertificateForKeyID)
}

func TestChallengeUnknownApplicationIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	state, err := f.auth.OpenChallenge(ctx, "NoSuchApp", f.keyID)
	require.NoError(t, err)

	_, _, err = f.auth.CompleteChallenge(ctx, state.ID, []byte("sig"))
	assert.ErrorIs(t, err, interfaces.ErrNoCertificateForKeyID)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	keyID := interfaces.KeyID(sha256.Sum256([]byte("key")))
	secret := []byte("test-secret")

	token, err := IssueToken(secret, keyID, "Demo", "CN=exporter", time.Now().Add(-time.Hour), 10*time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(secret, token)
	assert.ErrorIs(t, err, interfaces.ErrChallengeCompletionFailed)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	keyID := interfaces.KeyID(sha256.Sum256([]byte("key")))

	token, err := IssueToken([]byte("secret-a"), keyID, "Demo", "CN=exporter", time.Now(), 10*time.Minute)
	require.NoError(t, err)

	_, err = ParseToken([]byte("secret-b"), token)
	assert.ErrorIs(t, err, interfaces.ErrChallengeCompletionFailed)
}
