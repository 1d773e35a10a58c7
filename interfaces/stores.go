package interfaces

import (
	"context"
	"io"
)

// ArtifactStore provides durable byte storage for artifact content, keyed by
// artifact id. Implementations must publish atomically: a Fetch concurrent
// with a Store observes either the previous content or the complete new
// content, never a partial stream.
type ArtifactStore interface {
	// Store writes content under the given id, replacing any previous
	// content, and returns the number of bytes written.
	Store(ctx context.Context, id ArtifactID, content io.Reader) (int64, error)

	// Fetch retrieves content by id. Returns ErrContentNotFound if absent.
	Fetch(ctx context.Context, id ArtifactID) ([]byte, error)

	// Delete removes content by id. Deleting absent content is not an error.
	Delete(ctx context.Context, id ArtifactID) error

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// MetadataStore persists applications, artifact metadata, recipient key
// entries, and registered certificates. It is a system of record independent
// from the ArtifactStore; the coordinators tolerate one succeeding while the
// other fails (idempotent retry), never requiring a distributed transaction.
type MetadataStore interface {
	// ApplicationByName resolves an application. Returns
	// ErrApplicationDoesNotExist if unknown.
	ApplicationByName(ctx context.Context, name string) (*Application, error)

	// CreateApplication registers an application. Returns
	// ErrEntityUniquenessConflict if the name is taken.
	CreateApplication(ctx context.Context, app *Application) error

	// ArtifactByID fetches artifact metadata. Returns ErrArtifactNotFound
	// if absent.
	ArtifactByID(ctx context.Context, id ArtifactID) (*ArtifactMetadata, error)

	// CreateArtifact inserts a new metadata row. Returns
	// ErrEntityUniquenessConflict if the id is already claimed.
	CreateArtifact(ctx context.Context, artifact *ArtifactMetadata) error

	// UpdateArtifact replaces an existing row. Returns ErrArtifactNotFound
	// if the row vanished.
	UpdateArtifact(ctx context.Context, artifact *ArtifactMetadata) error

	// ArtifactsByApp lists all artifacts of an application.
	ArtifactsByApp(ctx context.Context, appID string) ([]*ArtifactMetadata, error)

	// RecipientEntries lists all recipient key entries of an artifact.
	RecipientEntries(ctx context.Context, id ArtifactID) ([]*RecipientKeyEntry, error)

	// RecipientEntry fetches one entry by composite key, or nil if absent.
	RecipientEntry(ctx context.Context, id ArtifactID, keyID KeyID) (*RecipientKeyEntry, error)

	// AddRecipientEntry appends one entry. Returns ErrRekeyAlreadyGranted
	// if the composite key already exists; existing entries are never
	// overwritten.
	AddRecipientEntry(ctx context.Context, entry *RecipientKeyEntry) error

	// CertificatesByApp lists certificates registered for an application
	// with the given role.
	CertificatesByApp(ctx context.Context, appID string, role CertRole) ([]*CertificateRecord, error)

	// AddCertificate registers a certificate for an application.
	AddCertificate(ctx context.Context, record *CertificateRecord) error
}
