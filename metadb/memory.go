package metadb

import (
	"context"
	"sync"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// MemoryStore is an in-memory MetadataStore for tests and single-process
// development. All returned records are deep copies.
type MemoryStore struct {
	mu sync.RWMutex

	appsByName map[string]*interfaces.Application
	artifacts  map[interfaces.ArtifactID]*interfaces.ArtifactMetadata

	// recipient entries keyed by artifact id, then hex key id
	entries map[interfaces.ArtifactID]map[string]*interfaces.RecipientKeyEntry

	// certificates keyed by app id
	certs map[string][]*interfaces.CertificateRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appsByName: make(map[string]*interfaces.Application),
		artifacts:  make(map[interfaces.ArtifactID]*interfaces.ArtifactMetadata),
		entries:    make(map[interfaces.ArtifactID]map[string]*interfaces.RecipientKeyEntry),
		certs:      make(map[string][]*interfaces.CertificateRecord),
	}
}

func copyApplication(app *interfaces.Application) *interfaces.Application {
	out := *app
	if app.PropertySchema != nil {
		out.PropertySchema = make(map[string]interfaces.PropertyKind, len(app.PropertySchema))
		for name, kind := range app.PropertySchema {
			out.PropertySchema[name] = kind
		}
	}
	return &out
}

func copyArtifact(a *interfaces.ArtifactMetadata) *interfaces.ArtifactMetadata {
	out := *a
	out.Encryption.InitializationVector = append([]byte(nil), a.Encryption.InitializationVector...)
	out.Encryption.SharedEphemeralPubkey = append([]byte(nil), a.Encryption.SharedEphemeralPubkey...)
	if a.Properties != nil {
		out.Properties = make(map[string]interfaces.PropertyValue, len(a.Properties))
		for name, value := range a.Properties {
			out.Properties[name] = value
		}
	}
	return &out
}

func copyEntry(e *interfaces.RecipientKeyEntry) *interfaces.RecipientKeyEntry {
	out := *e
	out.WrappedDataKey = append([]byte(nil), e.WrappedDataKey...)
	out.EphemeralPubkey = append([]byte(nil), e.EphemeralPubkey...)
	return &out
}

func copyCertificate(c *interfaces.CertificateRecord) *interfaces.CertificateRecord {
	out := *c
	out.PEM = append([]byte(nil), c.PEM...)
	return &out
}

func (s *MemoryStore) ApplicationByName(_ context.Context, name string) (*interfaces.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.appsByName[name]
	if !ok {
		return nil, interfaces.ErrApplicationDoesNotExist
	}
	return copyApplication(app), nil
}

func (s *MemoryStore) CreateApplication(_ context.Context, app *interfaces.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.appsByName[app.Name]; ok {
		return interfaces.ErrEntityUniquenessConflict
	}
	s.appsByName[app.Name] = copyApplication(app)
	return nil
}

func (s *MemoryStore) ArtifactByID(_ context.Context, id interfaces.ArtifactID) (*interfaces.ArtifactMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifact, ok := s.artifacts[id]
	if !ok {
		return nil, interfaces.ErrArtifactNotFound
	}
	return copyArtifact(artifact), nil
}

func (s *MemoryStore) CreateArtifact(_ context.Context, a *interfaces.ArtifactMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[a.ID]; ok {
		return interfaces.ErrEntityUniquenessConflict
	}
	for _, existing := range s.artifacts {
		if existing.AppID == a.AppID && existing.OwnerUserID == a.OwnerUserID && existing.ClientLocalID == a.ClientLocalID {
			return interfaces.ErrEntityUniquenessConflict
		}
	}
	s.artifacts[a.ID] = copyArtifact(a)
	return nil
}

func (s *MemoryStore) UpdateArtifact(_ context.Context, a *interfaces.ArtifactMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[a.ID]; !ok {
		return interfaces.ErrArtifactNotFound
	}
	s.artifacts[a.ID] = copyArtifact(a)
	return nil
}

func (s *MemoryStore) ArtifactsByApp(_ context.Context, appID string) ([]*interfaces.ArtifactMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*interfaces.ArtifactMetadata
	for _, artifact := range s.artifacts {
		if artifact.AppID == appID {
			result = append(result, copyArtifact(artifact))
		}
	}
	return result, nil
}

func (s *MemoryStore) RecipientEntries(_ context.Context, id interfaces.ArtifactID) ([]*interfaces.RecipientKeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*interfaces.RecipientKeyEntry
	for _, entry := range s.entries[id] {
		result = append(result, copyEntry(entry))
	}
	return result, nil
}

func (s *MemoryStore) RecipientEntry(_ context.Context, id interfaces.ArtifactID, keyID interfaces.KeyID) (*interfaces.RecipientKeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id][keyID.String()]
	if !ok {
		return nil, nil
	}
	return copyEntry(entry), nil
}

func (s *MemoryStore) AddRecipientEntry(_ context.Context, entry *interfaces.RecipientKeyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.entries[entry.ArtifactID]
	if !ok {
		byKey = make(map[string]*interfaces.RecipientKeyEntry)
		s.entries[entry.ArtifactID] = byKey
	}

	keyHex := entry.RecipientKeyID.String()
	if _, ok := byKey[keyHex]; ok {
		return interfaces.ErrRekeyAlreadyGranted
	}
	byKey[keyHex] = copyEntry(entry)
	return nil
}

func (s *MemoryStore) CertificatesByApp(_ context.Context, appID string, role interfaces.CertRole) ([]*interfaces.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*interfaces.CertificateRecord
	for _, record := range s.certs[appID] {
		if record.Role == role {
			result = append(result, copyCertificate(record))
		}
	}
	return result, nil
}

func (s *MemoryStore) AddCertificate(_ context.Context, record *interfaces.CertificateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.certs[record.AppID] {
		if existing.Role == record.Role && existing.KeyID.Equal(record.KeyID) {
			return interfaces.ErrEntityUniquenessConflict
		}
	}
	s.certs[record.AppID] = append(s.certs[record.AppID], copyCertificate(record))
	return nil
}
