package interfaces

import "errors"

// ErrorClass buckets domain errors so the transport layer can map them to
// status codes without parsing messages.
type ErrorClass int

const (
	// ClassNotFound: client error, never retried internally.
	ClassNotFound ErrorClass = iota
	// ClassConflict: caller may retry the whole operation.
	ClassConflict
	// ClassValidation: request rejected outright, no partial commit.
	ClassValidation
	// ClassSecurity: surfaced only as "authentication failed".
	ClassSecurity
	// ClassTransient: I/O errors, safe for blind client retry.
	ClassTransient
)

// String returns the class name.
func (c ErrorClass) String() string {
	switch c {
	case ClassNotFound:
		return "not-found"
	case ClassConflict:
		return "conflict"
	case ClassValidation:
		return "validation"
	case ClassSecurity:
		return "security"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// DomainError is a tagged domain error. Instances below are compared by
// identity via errors.Is.
type DomainError struct {
	Class ErrorClass
	Code  string
}

// Error returns the stable error code.
func (e *DomainError) Error() string {
	return e.Code
}

var (
	// ErrApplicationDoesNotExist: the named application is not registered.
	ErrApplicationDoesNotExist = &DomainError{ClassNotFound, "application does not exist"}

	// ErrArtifactNotFound: no artifact metadata under the given id.
	ErrArtifactNotFound = &DomainError{ClassNotFound, "artifact not found"}

	// ErrContentNotFound: artifact content missing from the artifact store.
	ErrContentNotFound = &DomainError{ClassNotFound, "artifact content not found"}

	// ErrNoCertificateForKeyID: no exporter-auth certificate registered
	// under the claimed key id.
	ErrNoCertificateForKeyID = &DomainError{ClassNotFound, "no certificate for key id"}

	// ErrInvalidChallenge: the challenge is unknown, expired, or already
	// used. The cases are deliberately indistinguishable.
	ErrInvalidChallenge = &DomainError{ClassNotFound, "invalid challenge"}

	// ErrEntityUniquenessConflict: an insert hit a uniqueness constraint.
	ErrEntityUniquenessConflict = &DomainError{ClassConflict, "entity uniqueness conflict"}

	// ErrConcurrencyConflict: a concurrent mutation won; retry the whole
	// operation.
	ErrConcurrencyConflict = &DomainError{ClassConflict, "concurrency conflict"}

	// ErrRekeyAlreadyGranted: the recipient already holds an entry for the
	// artifact; grants are never silently overwritten.
	ErrRekeyAlreadyGranted = &DomainError{ClassConflict, "recipient already granted for artifact"}

	// ErrMissingRecipientDataKeys: an encrypted artifact was submitted with
	// zero recipient key entries.
	ErrMissingRecipientDataKeys = &DomainError{ClassValidation, "missing recipient data keys for encrypted data"}

	// ErrEncryptedDataWithoutEncryptionMetadata: encryption mode and key
	// material presence are inconsistent.
	ErrEncryptedDataWithoutEncryptionMetadata = &DomainError{ClassValidation, "encrypted data without encryption metadata"}

	// ErrPropertyKindMismatch: a property value does not match the kind the
	// application declared for it.
	ErrPropertyKindMismatch = &DomainError{ClassValidation, "property kind mismatch"}

	// ErrUnknownProperty: a property name absent from the application's
	// declared schema.
	ErrUnknownProperty = &DomainError{ClassValidation, "unknown property name"}

	// ErrInvalidArtifactID: the client-local id fails format validation.
	ErrInvalidArtifactID = &DomainError{ClassValidation, "invalid artifact id"}

	// ErrNotAuthorizedForArtifact: no recipient key entry matches the
	// caller's key id.
	ErrNotAuthorizedForArtifact = &DomainError{ClassSecurity, "not authorized for artifact"}

	// ErrChallengeCompletionFailed: signature or certificate verification
	// failed during challenge completion.
	ErrChallengeCompletionFailed = &DomainError{ClassSecurity, "challenge completion failed"}

	// ErrCertificateViolation: a certificate failed usage-flag or validity
	// checks.
	ErrCertificateViolation = &DomainError{ClassSecurity, "certificate usage or validity violation"}
)

// ClassOf extracts the error class from err. Unclassified errors are treated
// as transient: they propagate to the caller and are safe to retry blindly.
func ClassOf(err error) ErrorClass {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Class
	}
	return ClassTransient
}
