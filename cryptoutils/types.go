package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// CertPEM represents a certificate in PEM format.
type CertPEM []byte

// NewCertPEM creates a certificate object from PEM-encoded data with validation.
func NewCertPEM(data []byte) (CertPEM, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return CertPEM{}, errors.New("invalid certificate: not in PEM format or not a certificate")
	}

	_, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return CertPEM{}, fmt.Errorf("invalid certificate structure: %w", err)
	}

	return CertPEM(data), nil
}

// Validate checks if the certificate is properly formed.
func (cert CertPEM) Validate() error {
	_, err := NewCertPEM(cert)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (cert CertPEM) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(cert)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// RecipientPubkey represents a recipient's public key in PEM format.
type RecipientPubkey []byte

// NewRecipientPubkey creates a public key object from PEM-encoded data with validation.
func NewRecipientPubkey(data []byte) (RecipientPubkey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return RecipientPubkey{}, errors.New("invalid public key: not in PEM format or not a public key")
	}

	_, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return RecipientPubkey{}, fmt.Errorf("invalid public key structure: %w", err)
	}

	return RecipientPubkey(data), nil
}

// GetPublicKey returns the parsed ECDSA public key.
func (pub RecipientPubkey) GetPublicKey() (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pub)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	return ecdsaKey, nil
}

// RecipientPrivkey represents a recipient's private key in PEM format.
// The server never holds one; it exists for exporter tooling and tests.
type RecipientPrivkey []byte

// GetPrivateKey returns the parsed ECDSA private key.
func (priv RecipientPrivkey) GetPrivateKey() (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(priv)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("failed to parse private key")
	}

	ecdsaKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an ECDSA private key")
	}
	return ecdsaKey, nil
}

// RandomP256Keypair generates a fresh P-256 keypair in PEM encoding.
func RandomP256Keypair() (RecipientPubkey, RecipientPrivkey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privateKeyBytes,
	})

	pubkeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	pubkeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubkeyBytes,
	})

	return RecipientPubkey(pubkeyPEM), RecipientPrivkey(privateKeyPEM), nil
}
