package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// FileBackend implements an artifact store on the local file system.
// Writes go to a temp file first and are published with a rename, so readers
// never observe a partially written artifact.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file artifact store under the given base directory.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "artifacts"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(baseDir, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create tmp directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Store writes content to a temp file, then publishes it under the artifact
// id with an atomic rename. Any previous content is replaced wholesale.
func (b *FileBackend) Store(ctx context.Context, id interfaces.ArtifactID, content io.Reader) (int64, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}

	tmpPath := filepath.Join(b.baseDir, "tmp", fmt.Sprintf("%s.%s.part", id, uuid.NewString()))
	finalPath := b.artifactPath(id)

	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	size, err := io.Copy(tmpFile, content)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write content: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to sync content: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to publish content: %w", err)
	}

	b.log.Debug("Stored artifact content",
		slog.String("path", finalPath),
		slog.Int64("size", size))

	return size, nil
}

// Fetch retrieves artifact content by id.
// Returns ErrContentNotFound if the file doesn't exist.
func (b *FileBackend) Fetch(ctx context.Context, id interfaces.ArtifactID) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.artifactPath(id))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched artifact content",
		slog.String("artifactID", id.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Delete removes artifact content. Absent content is not an error.
func (b *FileBackend) Delete(ctx context.Context, id interfaces.ArtifactID) error {
	if err := id.Validate(); err != nil {
		return err
	}

	if err := os.Remove(b.artifactPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

// Available checks if the backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) artifactPath(id interfaces.ArtifactID) string {
	return filepath.Join(b.baseDir, "artifacts", id.String())
}
