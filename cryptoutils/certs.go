package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// DigestSHA256 is the only digest algorithm currently issued with challenges.
const DigestSHA256 = "SHA-256"

// DERPubkeyHash computes the deterministic hash of a DER-encoded public key.
// The hash is taken over the PEM encoding so that key ids computed from
// certificates and from standalone public key files agree.
func DERPubkeyHash(pubkeyDER []byte) []byte {
	shaHash := sha256.Sum256(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubkeyDER}))
	return shaHash[:]
}

// CertificateKeyID derives the key id of a certificate's public key.
func CertificateKeyID(cert *x509.Certificate) (interfaces.KeyID, error) {
	if len(cert.RawSubjectPublicKeyInfo) == 0 {
		return interfaces.KeyID{}, errors.New("certificate carries no public key info")
	}
	return interfaces.NewKeyIDFromBytes(DERPubkeyHash(cert.RawSubjectPublicKeyInfo))
}

// PubkeyKeyID derives the key id of a PEM-encoded public key.
func PubkeyKeyID(pub RecipientPubkey) (interfaces.KeyID, error) {
	block, _ := pem.Decode(pub)
	if block == nil {
		return interfaces.KeyID{}, errors.New("failed to decode public key PEM block")
	}
	return interfaces.NewKeyIDFromBytes(DERPubkeyHash(block.Bytes))
}

// VerifyExporterCertificate checks that a registered certificate may answer a
// possession challenge for the claimed key id:
//   - it must carry the digital-signature key usage flag,
//   - it must be within its validity window,
//   - its public key must hash to the claimed key id (id spoofing defense).
func VerifyExporterCertificate(cert *x509.Certificate, claimed interfaces.KeyID, now time.Time) error {
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return interfaces.ErrCertificateViolation
	}

	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return interfaces.ErrCertificateViolation
	}

	certKeyID, err := CertificateKeyID(cert)
	if err != nil {
		return interfaces.ErrCertificateViolation
	}
	if !certKeyID.Equal(claimed) {
		return interfaces.ErrCertificateViolation
	}

	return nil
}

// ChallengeContent derives the canonical byte content both sides of a
// challenge sign and verify: the original request parameters followed by the
// nonce, with a zero separator so appName cannot bleed into the key id.
func ChallengeContent(appName string, keyID interfaces.KeyID, nonce []byte) []byte {
	content := make([]byte, 0, len(appName)+1+len(keyID)+len(nonce))
	content = append(content, []byte(appName)...)
	content = append(content, 0x00)
	content = append(content, keyID.Bytes()...)
	content = append(content, nonce...)
	return content
}

// VerifyChallengeSignature verifies an ECDSA signature over the canonical
// challenge content using the certificate's public key and the challenge's
// digest algorithm.
func VerifyChallengeSignature(cert *x509.Certificate, digestAlgorithm string, content, signature []byte) error {
	pubkey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("certificate public key is not ECDSA")
	}

	digest, err := digestContent(digestAlgorithm, content)
	if err != nil {
		return err
	}

	if !ecdsa.VerifyASN1(pubkey, digest, signature) {
		return errors.New("signature does not verify")
	}
	return nil
}

// SignChallenge produces the signature an exporter submits to complete a
// challenge. The server never calls this; it exists for client tooling and
// tests.
func SignChallenge(priv RecipientPrivkey, digestAlgorithm string, content []byte) ([]byte, error) {
	key, err := priv.GetPrivateKey()
	if err != nil {
		return nil, err
	}

	digest, err := digestContent(digestAlgorithm, content)
	if err != nil {
		return nil, err
	}

	return ecdsa.SignASN1(rand.Reader, key, digest)
}

func digestContent(digestAlgorithm string, content []byte) ([]byte, error) {
	switch digestAlgorithm {
	case DigestSHA256:
		digest := sha256.Sum256(content)
		return digest[:], nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s", digestAlgorithm)
	}
}

// CreateExporterCertificate creates a self-signed certificate for the given
// private key, carrying the digital-signature usage flag, suitable for
// registration as an exporter-auth certificate.
func CreateExporterCertificate(priv RecipientPrivkey, commonName string, validity time.Duration) (CertPEM, error) {
	key, err := priv.GetPrivateKey()
	if err != nil {
		return nil, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	}), nil
}
