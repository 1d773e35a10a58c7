package challenge

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// Claims is the bearer token payload issued after a completed challenge.
type Claims struct {
	jwt.RegisteredClaims

	ExporterKeyID string `json:"exporter_key_id"`
	AppName       string `json:"app_name"`
	ExporterDN    string `json:"exporter_dn"`
}

// IssueToken signs a short-lived HS256 bearer token for an authenticated
// exporter key.
func IssueToken(secret []byte, keyID interfaces.KeyID, appName, exporterDN string, now time.Time, lifetime time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
		ExporterKeyID: keyID.String(),
		AppName:       appName,
		ExporterDN:    exporterDN,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ParseToken validates a bearer token and returns its claims. Expired or
// malformed tokens fail as ErrChallengeCompletionFailed so the transport
// layer surfaces them uniformly.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, interfaces.ErrChallengeCompletionFailed
	}
	return &claims, nil
}
