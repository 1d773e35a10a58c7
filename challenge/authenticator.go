package challenge

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openmetrica/analytics-vault-backend/cryptoutils"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// Config carries the tunable authentication parameters.
type Config struct {
	// ChallengeTTL bounds how long an open challenge may be answered.
	ChallengeTTL time.Duration

	// NonceSize is the challenge nonce length in bytes.
	NonceSize int

	// TokenLifetime bounds issued bearer tokens.
	TokenLifetime time.Duration

	// SweepInterval is how often expired challenges are dropped.
	SweepInterval time.Duration
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		ChallengeTTL:  2 * time.Minute,
		NonceSize:     16 * 1024,
		TokenLifetime: 10 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

// Authenticator runs the possession challenge protocol against the
// certificates registered in the metadata store.
type Authenticator struct {
	meta   interfaces.MetadataStore
	store  *Store
	cfg    Config
	secret []byte
	log    *slog.Logger

	now func() time.Time
}

// NewAuthenticator wires an authenticator. The secret signs bearer tokens.
func NewAuthenticator(meta interfaces.MetadataStore, store *Store, cfg Config, secret []byte, log *slog.Logger) *Authenticator {
	return &Authenticator{
		meta:   meta,
		store:  store,
		cfg:    cfg,
		secret: secret,
		log:    log,
		now:    time.Now,
	}
}

// OpenChallenge creates a pending challenge for the claimed key. The claimed
// key is deliberately not checked against registered certificates here, so
// an unauthenticated caller cannot probe which key ids exist.
func (a *Authenticator) OpenChallenge(_ context.Context, appName string, claimedKeyID interfaces.KeyID) (*State, error) {
	nonce := make([]byte, a.cfg.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	state := &State{
		ID:              uuid.NewString(),
		AppName:         appName,
		ClaimedKeyID:    claimedKeyID,
		DigestAlgorithm: cryptoutils.DigestSHA256,
		Nonce:           nonce,
		ExpiresAt:       a.now().Add(a.cfg.ChallengeTTL),
	}
	a.store.Insert(state)

	a.log.Debug("opened possession challenge",
		"challenge_id", state.ID, "app", appName, "claimed_key_id", claimedKeyID.String())
	return state, nil
}

// CompleteChallenge verifies a signature over the canonical challenge
// content and issues a bearer token. The challenge is single-use: under
// concurrent completions at most one succeeds. Unknown applications and
// unregistered key ids fail identically.
func (a *Authenticator) CompleteChallenge(ctx context.Context, challengeID string, signature []byte) (string, *State, error) {
	state, ok := a.store.Lookup(challengeID)
	if !ok {
		return "", nil, interfaces.ErrInvalidChallenge
	}

	record, err := a.certificateForKey(ctx, state.AppName, state.ClaimedKeyID)
	if err != nil {
		return "", nil, err
	}

	cert, err := cryptoutils.CertPEM(record.PEM).GetX509Cert()
	if err != nil {
		a.log.Error("registered certificate fails to parse",
			"app", state.AppName, "key_id", state.ClaimedKeyID.String(), slog.Any("err", err))
		return "", nil, interfaces.ErrChallengeCompletionFailed
	}
	if err := cryptoutils.VerifyExporterCertificate(cert, state.ClaimedKeyID, a.now()); err != nil {
		return "", nil, interfaces.ErrChallengeCompletionFailed
	}

	content := cryptoutils.ChallengeContent(state.AppName, state.ClaimedKeyID, state.Nonce)
	if err := cryptoutils.VerifyChallengeSignature(cert, state.DigestAlgorithm, content, signature); err != nil {
		return "", nil, interfaces.ErrChallengeCompletionFailed
	}

	// single use: the loser of a concurrent completion fails here
	if !a.store.Remove(challengeID) {
		return "", nil, interfaces.ErrInvalidChallenge
	}

	token, err := IssueToken(a.secret, state.ClaimedKeyID, state.AppName, cert.Subject.String(), a.now(), a.cfg.TokenLifetime)
	if err != nil {
		return "", nil, err
	}

	a.log.Info("challenge completed, token issued",
		"challenge_id", challengeID, "app", state.AppName, "key_id", state.ClaimedKeyID.String())
	return token, state, nil
}

// ParseToken validates a bearer token against the authenticator's secret.
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	return ParseToken(a.secret, tokenString)
}

func (a *Authenticator) certificateForKey(ctx context.Context, appName string, keyID interfaces.KeyID) (*interfaces.CertificateRecord, error) {
	app, err := a.meta.ApplicationByName(ctx, appName)
	if err != nil {
		// indistinguishable from an unregistered key id
		return nil, interfaces.ErrNoCertificateForKeyID
	}

	records, err := a.meta.CertificatesByApp(ctx, app.ID, interfaces.RoleExporterAuth)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.KeyID.Equal(keyID) {
			return record, nil
		}
	}
	return nil, interfaces.ErrNoCertificateForKeyID
}
