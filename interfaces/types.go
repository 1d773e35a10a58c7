package interfaces

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ArtifactID identifies one durable artifact. On first contact the server
// adopts the client-chosen local id verbatim; collision branches allocate a
// fresh server id decoupled from any client namespace.
type ArtifactID string

var artifactIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// NewArtifactID validates an id supplied by a client.
func NewArtifactID(id string) (ArtifactID, error) {
	if !artifactIDRegex.MatchString(id) {
		return "", errors.New("invalid artifact id: must be 1-128 chars of [A-Za-z0-9._-], not starting with a separator")
	}
	return ArtifactID(id), nil
}

// String returns the id as a string.
func (id ArtifactID) String() string {
	return string(id)
}

// Validate checks the id format.
func (id ArtifactID) Validate() error {
	_, err := NewArtifactID(string(id))
	return err
}

// KeyID is the 32-byte SHA-256 hash identifying a recipient public key.
type KeyID [32]byte

// NewKeyIDFromBytes creates a key id from a raw 32-byte slice.
func NewKeyIDFromBytes(source []byte) (KeyID, error) {
	if len(source) != 32 {
		return KeyID{}, errors.New("invalid KeyID conversion from bytes: incorrect length")
	}

	var id KeyID
	copy(id[:], source)
	return id, nil
}

// NewKeyIDFromHex creates a key id from a 64-character hex string.
func NewKeyIDFromHex(source string) (KeyID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return KeyID{}, errors.New("invalid key id length: hex string must be 64 characters")
	}

	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return KeyID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id KeyID
	copy(id[:], idBytes)
	return id, nil
}

// String returns hex representation.
func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte hash.
func (id KeyID) Bytes() []byte {
	return id[:]
}

// Equal compares two key ids.
func (id KeyID) Equal(other KeyID) bool {
	return bytes.Equal(id[:], other[:])
}

// MarshalJSON renders the key id as a hex string.
func (id KeyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses a hex string key id.
func (id *KeyID) UnmarshalJSON(data []byte) error {
	var hexID string
	if err := json.Unmarshal(data, &hexID); err != nil {
		return err
	}
	parsed, err := NewKeyIDFromHex(hexID)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// EncryptionMode indicates how an artifact's content is protected.
type EncryptionMode int

const (
	// EncryptionModeUnencrypted for plaintext content.
	EncryptionModeUnencrypted EncryptionMode = iota
	// EncryptionModeECDHAESGCM for AES-GCM content keyed by a per-artifact
	// data key that is wrapped individually for each recipient via ECDH.
	EncryptionModeECDHAESGCM
)

// String returns the mode name.
func (m EncryptionMode) String() string {
	switch m {
	case EncryptionModeUnencrypted:
		return "unencrypted"
	case EncryptionModeECDHAESGCM:
		return "ecdh-aes-gcm"
	default:
		return "unknown"
	}
}

// EncryptionModeFromString parses a mode name as used on the wire.
func EncryptionModeFromString(s string) (EncryptionMode, error) {
	switch s {
	case "unencrypted", "":
		return EncryptionModeUnencrypted, nil
	case "ecdh-aes-gcm":
		return EncryptionModeECDHAESGCM, nil
	default:
		return 0, fmt.Errorf("unknown encryption mode: %s", s)
	}
}

// MarshalJSON renders the mode by name.
func (m EncryptionMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses the mode name.
func (m *EncryptionMode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	mode, err := EncryptionModeFromString(name)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// EncryptionInfo describes the bulk-content encryption of one artifact.
// For unencrypted artifacts all fields beyond Mode are empty.
type EncryptionInfo struct {
	Mode EncryptionMode `json:"mode"`

	// InitializationVector is the AEAD nonce used for the content.
	InitializationVector []byte `json:"initialization_vector,omitempty"`

	// SharedEphemeralPubkey is an optional ephemeral public key shared by
	// all recipient entries (per-entry keys take precedence when set).
	SharedEphemeralPubkey []byte `json:"shared_ephemeral_pubkey,omitempty"`
}

// Encrypted reports whether the artifact content is ciphertext.
func (e EncryptionInfo) Encrypted() bool {
	return e.Mode != EncryptionModeUnencrypted
}

// RecipientKeyEntry grants one recipient access to one artifact by carrying
// the artifact's data key wrapped for that recipient's public key.
// (ArtifactID, RecipientKeyID) is the composite key; entries are append-only.
type RecipientKeyEntry struct {
	ArtifactID     ArtifactID     `json:"artifact_id"`
	RecipientKeyID KeyID          `json:"recipient_key_id"`
	Mode           EncryptionMode `json:"mode"`
	WrappedDataKey []byte         `json:"wrapped_data_key"`

	// EphemeralPubkey is the per-artifact ephemeral public key used to wrap
	// the data key for this recipient, when not shared via EncryptionInfo.
	EphemeralPubkey []byte `json:"ephemeral_pubkey,omitempty"`
}

// ArtifactMetadata is the durable record of one uploaded artifact.
// The id is unique; (app, client local id) may repeat across owners after a
// collision was resolved, never within one owner.
type ArtifactMetadata struct {
	ID            ArtifactID
	AppID         string
	OwnerUserID   string
	ClientLocalID string

	CreatedAt  time.Time
	EndedAt    time.Time
	UploadedAt time.Time

	// Completed is set only after content is durably stored and the
	// recipient key entries were validated. An encrypted artifact is never
	// completed without usable key material.
	Completed bool

	ContentSuffix   string
	ContentEncoding string
	Size            int64

	Encryption EncryptionInfo

	// Properties are client-declared values validated against the
	// application's declared property schema at write time.
	Properties map[string]PropertyValue
}

// Application is a registered analytics application. Uploads authenticate
// with the application's API token.
type Application struct {
	ID       string
	Name     string
	APIToken string

	// PropertySchema declares the kind expected for each property name.
	// Unknown names are rejected at ingestion time.
	PropertySchema map[string]PropertyKind
}

// CertRole tags the purpose of a registered certificate. One record type
// covers all roles; there is no certificate type hierarchy.
type CertRole int

const (
	// RoleSigner marks certificates used to sign uploads or tokens.
	RoleSigner CertRole = iota
	// RoleExporterAuth marks certificates exporters use to answer
	// possession challenges.
	RoleExporterAuth
)

// String returns the role name.
func (r CertRole) String() string {
	switch r {
	case RoleSigner:
		return "signer"
	case RoleExporterAuth:
		return "exporter-auth"
	default:
		return "unknown"
	}
}

// CertificateRecord is a certificate registered for an application,
// parameterized by role rather than subtyped.
type CertificateRecord struct {
	AppID string
	Role  CertRole
	Label string

	// KeyID is the deterministic hash of the certificate's public key.
	KeyID KeyID

	// PEM is the certificate in PEM encoding.
	PEM []byte
}
