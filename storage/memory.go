package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// MemoryBackend is an in-memory artifact store used in tests and for
// single-process development setups. The swap under one id is atomic: the
// stored byte slice is replaced as a whole under the lock.
type MemoryBackend struct {
	mu      sync.RWMutex
	content map[interfaces.ArtifactID][]byte
	log     *slog.Logger
}

// NewMemoryBackend creates an empty in-memory artifact store.
func NewMemoryBackend(log *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		content: make(map[interfaces.ArtifactID][]byte),
		log:     log,
	}
}

// Store reads the full content before taking the lock, then swaps it in.
func (b *MemoryBackend) Store(ctx context.Context, id interfaces.ArtifactID, content io.Reader) (int64, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return 0, fmt.Errorf("failed to read content: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	b.content[id] = data
	b.mu.Unlock()

	return int64(len(data)), nil
}

// Fetch returns a copy of the stored content.
func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	b.mu.RLock()
	data, ok := b.content[id]
	b.mu.RUnlock()

	if !ok {
		return nil, interfaces.ErrContentNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Delete removes content by id.
func (b *MemoryBackend) Delete(ctx context.Context, id interfaces.ArtifactID) error {
	b.mu.Lock()
	delete(b.content, id)
	b.mu.Unlock()
	return nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns an identifier for logging.
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns the URI that identifies this storage backend.
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
