package metadb

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Migrate applies all pending schema migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresStore implements interfaces.MetadataStore over a DBTX
// (*sql.DB or *sql.Tx).
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore constructs a store bound to the given DBTX.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ApplicationByName resolves an application by its unique name.
func (s *PostgresStore) ApplicationByName(ctx context.Context, name string) (*interfaces.Application, error) {
	query := `SELECT id, name, api_token, property_schema FROM applications WHERE name = $1`

	var app interfaces.Application
	var schemaJSON []byte
	err := s.db.QueryRowContext(ctx, query, name).Scan(&app.ID, &app.Name, &app.APIToken, &schemaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrApplicationDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select application: %w", err)
	}

	if err := json.Unmarshal(schemaJSON, &app.PropertySchema); err != nil {
		return nil, fmt.Errorf("invalid property schema for app %s: %w", name, err)
	}
	return &app, nil
}

// CreateApplication registers a new application.
func (s *PostgresStore) CreateApplication(ctx context.Context, app *interfaces.Application) error {
	schemaJSON, err := json.Marshal(app.PropertySchema)
	if err != nil {
		return fmt.Errorf("failed to encode property schema: %w", err)
	}
	if app.PropertySchema == nil {
		schemaJSON = []byte(`{}`)
	}

	query := `INSERT INTO applications (id, name, api_token, property_schema) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, query, app.ID, app.Name, app.APIToken, schemaJSON); err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrEntityUniquenessConflict
		}
		return fmt.Errorf("failed to insert application: %w", err)
	}
	return nil
}

const artifactColumns = `id, app_id, owner_user_id, client_local_id, created_at, ended_at, uploaded_at,
	completed, content_suffix, content_encoding, size, enc_mode, enc_iv, enc_shared_ephemeral, properties`

func scanArtifact(row interface{ Scan(...any) error }) (*interfaces.ArtifactMetadata, error) {
	var a interfaces.ArtifactMetadata
	var id string
	var encMode int
	var propsJSON []byte

	err := row.Scan(&id, &a.AppID, &a.OwnerUserID, &a.ClientLocalID, &a.CreatedAt, &a.EndedAt, &a.UploadedAt,
		&a.Completed, &a.ContentSuffix, &a.ContentEncoding, &a.Size,
		&encMode, &a.Encryption.InitializationVector, &a.Encryption.SharedEphemeralPubkey, &propsJSON)
	if err != nil {
		return nil, err
	}

	a.ID = interfaces.ArtifactID(id)
	a.Encryption.Mode = interfaces.EncryptionMode(encMode)
	if err := json.Unmarshal(propsJSON, &a.Properties); err != nil {
		return nil, fmt.Errorf("invalid properties for artifact %s: %w", id, err)
	}
	return &a, nil
}

// ArtifactByID fetches one artifact metadata row.
func (s *PostgresStore) ArtifactByID(ctx context.Context, id interfaces.ArtifactID) (*interfaces.ArtifactMetadata, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`

	artifact, err := scanArtifact(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select artifact: %w", err)
	}
	return artifact, nil
}

// CreateArtifact inserts a new metadata row.
func (s *PostgresStore) CreateArtifact(ctx context.Context, a *interfaces.ArtifactMetadata) error {
	propsJSON, err := marshalProperties(a.Properties)
	if err != nil {
		return err
	}

	query := `INSERT INTO artifacts (` + artifactColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err = s.db.ExecContext(ctx, query,
		a.ID.String(), a.AppID, a.OwnerUserID, a.ClientLocalID, a.CreatedAt, a.EndedAt, a.UploadedAt,
		a.Completed, a.ContentSuffix, a.ContentEncoding, a.Size,
		int(a.Encryption.Mode), a.Encryption.InitializationVector, a.Encryption.SharedEphemeralPubkey, propsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrEntityUniquenessConflict
		}
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

// UpdateArtifact replaces an existing metadata row.
func (s *PostgresStore) UpdateArtifact(ctx context.Context, a *interfaces.ArtifactMetadata) error {
	propsJSON, err := marshalProperties(a.Properties)
	if err != nil {
		return err
	}

	query := `UPDATE artifacts SET
		owner_user_id = $2, client_local_id = $3, created_at = $4, ended_at = $5, uploaded_at = $6,
		completed = $7, content_suffix = $8, content_encoding = $9, size = $10,
		enc_mode = $11, enc_iv = $12, enc_shared_ephemeral = $13, properties = $14
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query,
		a.ID.String(), a.OwnerUserID, a.ClientLocalID, a.CreatedAt, a.EndedAt, a.UploadedAt,
		a.Completed, a.ContentSuffix, a.ContentEncoding, a.Size,
		int(a.Encryption.Mode), a.Encryption.InitializationVector, a.Encryption.SharedEphemeralPubkey, propsJSON)
	if err != nil {
		return fmt.Errorf("failed to update artifact: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return interfaces.ErrArtifactNotFound
	}
	return nil
}

// ArtifactsByApp lists all artifacts of an application.
func (s *PostgresStore) ArtifactsByApp(ctx context.Context, appID string) ([]*interfaces.ArtifactMetadata, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE app_id = $1 ORDER BY uploaded_at`

	rows, err := s.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to select artifacts: %w", err)
	}
	defer rows.Close()

	var result []*interfaces.ArtifactMetadata
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RecipientEntries lists all recipient key entries of an artifact.
func (s *PostgresStore) RecipientEntries(ctx context.Context, id interfaces.ArtifactID) ([]*interfaces.RecipientKeyEntry, error) {
	query := `SELECT artifact_id, recipient_key_id, mode, wrapped_data_key, ephemeral_pubkey
		FROM recipient_keys WHERE artifact_id = $1`

	rows, err := s.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to select recipient keys: %w", err)
	}
	defer rows.Close()

	var result []*interfaces.RecipientKeyEntry
	for rows.Next() {
		entry, err := scanRecipientEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RecipientEntry fetches one entry by composite key, or nil if absent.
func (s *PostgresStore) RecipientEntry(ctx context.Context, id interfaces.ArtifactID, keyID interfaces.KeyID) (*interfaces.RecipientKeyEntry, error) {
	query := `SELECT artifact_id, recipient_key_id, mode, wrapped_data_key, ephemeral_pubkey
		FROM recipient_keys WHERE artifact_id = $1 AND recipient_key_id = $2`

	entry, err := scanRecipientEntry(s.db.QueryRowContext(ctx, query, id.String(), keyID.Bytes()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select recipient key: %w", err)
	}
	return entry, nil
}

// AddRecipientEntry appends one entry; existing grants are never overwritten.
func (s *PostgresStore) AddRecipientEntry(ctx context.Context, entry *interfaces.RecipientKeyEntry) error {
	query := `INSERT INTO recipient_keys (artifact_id, recipient_key_id, mode, wrapped_data_key, ephemeral_pubkey)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query,
		entry.ArtifactID.String(), entry.RecipientKeyID.Bytes(), int(entry.Mode), entry.WrappedDataKey, entry.EphemeralPubkey)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrRekeyAlreadyGranted
		}
		return fmt.Errorf("failed to insert recipient key: %w", err)
	}
	return nil
}

// CertificatesByApp lists certificates registered for an application with the
// given role.
func (s *PostgresStore) CertificatesByApp(ctx context.Context, appID string, role interfaces.CertRole) ([]*interfaces.CertificateRecord, error) {
	query := `SELECT app_id, role, label, key_id, pem FROM certificates WHERE app_id = $1 AND role = $2`

	rows, err := s.db.QueryContext(ctx, query, appID, int(role))
	if err != nil {
		return nil, fmt.Errorf("failed to select certificates: %w", err)
	}
	defer rows.Close()

	var result []*interfaces.CertificateRecord
	for rows.Next() {
		var record interfaces.CertificateRecord
		var roleInt int
		var keyIDBytes []byte
		if err := rows.Scan(&record.AppID, &roleInt, &record.Label, &keyIDBytes, &record.PEM); err != nil {
			return nil, err
		}
		record.Role = interfaces.CertRole(roleInt)
		record.KeyID, err = interfaces.NewKeyIDFromBytes(keyIDBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid key id in certificates row: %w", err)
		}
		result = append(result, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AddCertificate registers a certificate for an application.
func (s *PostgresStore) AddCertificate(ctx context.Context, record *interfaces.CertificateRecord) error {
	query := `INSERT INTO certificates (app_id, role, label, key_id, pem) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, query,
		record.AppID, int(record.Role), record.Label, record.KeyID.Bytes(), record.PEM)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrEntityUniquenessConflict
		}
		return fmt.Errorf("failed to insert certificate: %w", err)
	}
	return nil
}

func marshalProperties(props map[string]interfaces.PropertyValue) ([]byte, error) {
	if props == nil {
		return []byte(`{}`), nil
	}
	out, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	return out, nil
}

func scanRecipientEntry(row interface{ Scan(...any) error }) (*interfaces.RecipientKeyEntry, error) {
	var entry interfaces.RecipientKeyEntry
	var artifactID string
	var keyIDBytes []byte
	var mode int

	if err := row.Scan(&artifactID, &keyIDBytes, &mode, &entry.WrappedDataKey, &entry.EphemeralPubkey); err != nil {
		return nil, err
	}

	entry.ArtifactID = interfaces.ArtifactID(artifactID)
	entry.Mode = interfaces.EncryptionMode(mode)

	keyID, err := interfaces.NewKeyIDFromBytes(keyIDBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid key id in recipient_keys row: %w", err)
	}
	entry.RecipientKeyID = keyID
	return &entry, nil
}
