package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openmetrica/analytics-vault-backend/challenge"
	"github.com/openmetrica/analytics-vault-backend/ingest"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
	"github.com/openmetrica/analytics-vault-backend/keyregistry"
	"github.com/openmetrica/analytics-vault-backend/metrics"
)

// Header constants used in HTTP requests and responses.
const (
	// APITokenHeader carries the application API token on ingestion requests.
	APITokenHeader = "X-API-Token"

	// AdminTokenHeader carries the admin token on administration requests.
	AdminTokenHeader = "X-Admin-Token"

	// maxMetadataSize bounds the metadata part of an upload (1MB). Content
	// itself is streamed and not bounded here.
	maxMetadataSize = 1024 * 1024
)

// Handler processes HTTP requests for the analytics vault service.
type Handler struct {
	ingest *ingest.Coordinator
	keys   *keyregistry.Registry
	auth   *challenge.Authenticator
	meta   interfaces.MetadataStore
	store  interfaces.ArtifactStore

	adminToken string
	log        *slog.Logger
}

// NewHandler creates an HTTP request handler with the specified dependencies.
func NewHandler(ingestCoord *ingest.Coordinator, keys *keyregistry.Registry, auth *challenge.Authenticator, meta interfaces.MetadataStore, store interfaces.ArtifactStore, adminToken string, log *slog.Logger) *Handler {
	return &Handler{
		ingest:     ingestCoord,
		keys:       keys,
		auth:       auth,
		meta:       meta,
		store:      store,
		adminToken: adminToken,
		log:        log,
	}
}

// writeDomainError maps the error class to an HTTP status. Security failures
// are surfaced uniformly so the response does not leak what exists.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	class := interfaces.ClassOf(err)

	var status int
	message := err.Error()
	switch class {
	case interfaces.ClassNotFound:
		status = http.StatusNotFound
	case interfaces.ClassConflict:
		status = http.StatusConflict
	case interfaces.ClassValidation:
		status = http.StatusBadRequest
	case interfaces.ClassSecurity:
		status = http.StatusUnauthorized
		message = "authentication failed"
	default:
		status = http.StatusBadGateway
		message = "temporary failure, retry the request"
		h.log.Error("transient failure while serving request", slog.Any("err", err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ingestMetadata is the JSON metadata part of an upload.
type ingestMetadata struct {
	OwnerUserID   string    `json:"owner_user_id"`
	ClientLocalID string    `json:"client_local_id"`
	CreatedAt     time.Time `json:"created_at"`
	EndedAt       time.Time `json:"ended_at"`

	ContentSuffix   string `json:"content_suffix,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`

	Encryption    interfaces.EncryptionInfo           `json:"encryption"`
	RecipientKeys []*interfaces.RecipientKeyEntry     `json:"recipient_keys,omitempty"`
	Properties    map[string]interfaces.PropertyValue `json:"properties,omitempty"`
}

type ingestResponse struct {
	ArtifactID    string `json:"artifact_id"`
	ClientLocalID string `json:"client_local_id"`
	Size          int64  `json:"size"`
	Completed     bool   `json:"completed"`
}

// HandleIngest processes artifact uploads.
//
// URL format: POST /api/ingest/{app_name}
// Required header: X-API-Token with the application's API token.
//
// Request body: multipart/form-data with a "metadata" part (JSON) followed
// by a "content" part (raw bytes). Responds 201 with the resolved artifact
// id.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "app_name")

	app, err := h.meta.ApplicationByName(r.Context(), appName)
	if err != nil {
		// do not reveal whether the application exists to token guessers
		h.writeDomainError(w, interfaces.ErrNotAuthorizedForArtifact)
		return
	}
	token := r.Header.Get(APITokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(app.APIToken)) != 1 {
		h.writeDomainError(w, interfaces.ErrNotAuthorizedForArtifact)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected multipart/form-data body", http.StatusBadRequest)
		return
	}

	meta, content, err := readUploadParts(mr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	artifact, err := h.ingest.Ingest(r.Context(), &ingest.Request{
		AppName:         appName,
		OwnerUserID:     meta.OwnerUserID,
		ClientLocalID:   meta.ClientLocalID,
		CreatedAt:       meta.CreatedAt,
		EndedAt:         meta.EndedAt,
		ContentSuffix:   meta.ContentSuffix,
		ContentEncoding: meta.ContentEncoding,
		Encryption:      meta.Encryption,
		RecipientKeys:   meta.RecipientKeys,
		Properties:      meta.Properties,
		Content:         content,
	})
	if err != nil {
		metrics.Counter("vault_ingest_errors_total").Inc()
		h.writeDomainError(w, err)
		return
	}

	metrics.Counter("vault_ingest_total").Inc()
	writeJSON(w, http.StatusCreated, ingestResponse{
		ArtifactID:    artifact.ID.String(),
		ClientLocalID: artifact.ClientLocalID,
		Size:          artifact.Size,
		Completed:     artifact.Completed,
	})
}

// readUploadParts expects the metadata part before the content part so the
// content can be streamed to storage without buffering.
func readUploadParts(mr *multipart.Reader) (*ingestMetadata, *multipart.Part, error) {
	metaPart, err := mr.NextPart()
	if err != nil {
		return nil, nil, errors.New("missing metadata part")
	}
	if metaPart.FormName() != "metadata" {
		return nil, nil, errors.New("first part must be named metadata")
	}

	var meta ingestMetadata
	if err := json.NewDecoder(http.MaxBytesReader(nil, metaPart, maxMetadataSize)).Decode(&meta); err != nil {
		return nil, nil, errors.New("malformed metadata part")
	}

	contentPart, err := mr.NextPart()
	if err != nil {
		return nil, nil, errors.New("missing content part")
	}
	if contentPart.FormName() != "content" {
		return nil, nil, errors.New("second part must be named content")
	}
	return &meta, contentPart, nil
}

type artifactResponse struct {
	ArtifactID      string                        `json:"artifact_id"`
	ClientLocalID   string                        `json:"client_local_id"`
	CreatedAt       time.Time                     `json:"created_at"`
	EndedAt         time.Time                     `json:"ended_at"`
	UploadedAt      time.Time                     `json:"uploaded_at"`
	ContentSuffix   string                        `json:"content_suffix,omitempty"`
	ContentEncoding string                        `json:"content_encoding,omitempty"`
	Size            int64                         `json:"size"`
	Encryption      interfaces.EncryptionInfo     `json:"encryption"`
	RecipientKey    *interfaces.RecipientKeyEntry `json:"recipient_key,omitempty"`
	Content         []byte                        `json:"content"`
}

// HandleGetArtifact serves one artifact to an authenticated exporter.
//
// URL format: GET /api/artifacts/{artifact_id}
// The bearer token names the exporter key; for encrypted artifacts the
// response includes the data key wrapped for exactly that key.
func (h *Handler) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	artifactID, err := interfaces.NewArtifactID(chi.URLParam(r, "artifact_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	keyID, err := interfaces.NewKeyIDFromHex(claims.ExporterKeyID)
	if err != nil {
		h.writeDomainError(w, interfaces.ErrChallengeCompletionFailed)
		return
	}
	app, err := h.meta.ApplicationByName(r.Context(), claims.AppName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	artifact, content, entry, err := h.keys.GetForRecipient(r.Context(), app.ID, artifactID, keyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	metrics.Counter("vault_export_total").Inc()
	writeJSON(w, http.StatusOK, artifactResponse{
		ArtifactID:      artifact.ID.String(),
		ClientLocalID:   artifact.ClientLocalID,
		CreatedAt:       artifact.CreatedAt,
		EndedAt:         artifact.EndedAt,
		UploadedAt:      artifact.UploadedAt,
		ContentSuffix:   artifact.ContentSuffix,
		ContentEncoding: artifact.ContentEncoding,
		Size:            artifact.Size,
		Encryption:      artifact.Encryption,
		RecipientKey:    entry,
		Content:         content,
	})
}

type openChallengeRequest struct {
	AppName string `json:"app_name"`
	KeyID   string `json:"key_id"`
}

type openChallengeResponse struct {
	ChallengeID     string    `json:"challenge_id"`
	Nonce           []byte    `json:"nonce"`
	DigestAlgorithm string    `json:"digest_algorithm"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// HandleOpenChallenge opens a possession challenge for a claimed key.
//
// URL format: POST /api/auth/challenge
func (h *Handler) HandleOpenChallenge(w http.ResponseWriter, r *http.Request) {
	var req openChallengeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMetadataSize)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	keyID, err := interfaces.NewKeyIDFromHex(req.KeyID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := h.auth.OpenChallenge(r.Context(), req.AppName, keyID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	metrics.Counter("vault_challenges_opened_total").Inc()
	writeJSON(w, http.StatusOK, openChallengeResponse{
		ChallengeID:     state.ID,
		Nonce:           state.Nonce,
		DigestAlgorithm: state.DigestAlgorithm,
		ExpiresAt:       state.ExpiresAt,
	})
}

type completeChallengeRequest struct {
	Signature []byte `json:"signature"`
}

type completeChallengeResponse struct {
	Token string `json:"token"`
}

// HandleCompleteChallenge verifies a challenge signature and issues a
// bearer token.
//
// URL format: POST /api/auth/challenge/{challenge_id}
func (h *Handler) HandleCompleteChallenge(w http.ResponseWriter, r *http.Request) {
	challengeID := chi.URLParam(r, "challenge_id")

	var req completeChallengeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMetadataSize)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	token, _, err := h.auth.CompleteChallenge(r.Context(), challengeID, req.Signature)
	if err != nil {
		metrics.Counter("vault_challenges_failed_total").Inc()
		h.writeDomainError(w, err)
		return
	}

	metrics.Counter("vault_challenges_completed_total").Inc()
	writeJSON(w, http.StatusOK, completeChallengeResponse{Token: token})
}

// HandleListNeedingRekey lists artifacts the given recipient key has no
// grant for yet.
//
// URL format: GET /api/rekey/{app_name}/{key_id}
func (h *Handler) HandleListNeedingRekey(w http.ResponseWriter, r *http.Request) {
	app, newKey, ok := h.rekeyScope(w, r)
	if !ok {
		return
	}

	candidates, err := h.keys.ListNeedingRekey(r.Context(), app.ID, newKey)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type submitRekeyRequest struct {
	Keys map[interfaces.ArtifactID]keyregistry.RekeyedKey `json:"keys"`
}

// HandleSubmitRekeyedKeys persists re-wrapped data keys for a new recipient.
//
// URL format: PUT /api/rekey/{app_name}/{key_id}
func (h *Handler) HandleSubmitRekeyedKeys(w http.ResponseWriter, r *http.Request) {
	app, newKey, ok := h.rekeyScope(w, r)
	if !ok {
		return
	}

	var req submitRekeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	results, err := h.keys.SubmitRekeyedKeys(r.Context(), app.ID, newKey, req.Keys)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	granted := 0
	for _, result := range results {
		if result.Status == keyregistry.RekeyGranted {
			granted++
		}
	}
	metrics.Counter("vault_rekey_grants_total").Add(granted)

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// rekeyScope resolves and authorizes the {app_name}/{key_id} pair of a rekey
// request against the caller's token.
func (h *Handler) rekeyScope(w http.ResponseWriter, r *http.Request) (*interfaces.Application, interfaces.KeyID, bool) {
	claims := claimsFromContext(r.Context())
	appName := chi.URLParam(r, "app_name")

	if claims.AppName != appName {
		h.writeDomainError(w, interfaces.ErrNotAuthorizedForArtifact)
		return nil, interfaces.KeyID{}, false
	}

	newKey, err := interfaces.NewKeyIDFromHex(chi.URLParam(r, "key_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, interfaces.KeyID{}, false
	}

	app, err := h.meta.ApplicationByName(r.Context(), appName)
	if err != nil {
		h.writeDomainError(w, err)
		return nil, interfaces.KeyID{}, false
	}
	return app, newKey, true
}

type claimsContextKey struct{}

func claimsFromContext(ctx context.Context) *challenge.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*challenge.Claims)
	return claims
}

// bearerAuth validates the Authorization header and stores the token claims
// in the request context.
func (h *Handler) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			h.writeDomainError(w, interfaces.ErrChallengeCompletionFailed)
			return
		}

		claims, err := h.auth.ParseToken(token)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuth gates administration endpoints on the configured admin token.
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken == "" {
			h.writeDomainError(w, interfaces.ErrNotAuthorizedForArtifact)
			return
		}
		token := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.writeDomainError(w, interfaces.ErrNotAuthorizedForArtifact)
			return
		}
		next.ServeHTTP(w, r)
	})
}
