package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmetrica/analytics-vault-backend/challenge"
	"github.com/openmetrica/analytics-vault-backend/cryptoutils"
	"github.com/openmetrica/analytics-vault-backend/ingest"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
	"github.com/openmetrica/analytics-vault-backend/keyregistry"
	"github.com/openmetrica/analytics-vault-backend/metadb"
	"github.com/openmetrica/analytics-vault-backend/storage"
)

const (
	testAppName    = "Demo"
	testAPIToken   = "app-api-token"
	testAdminToken = "admin-token"
)

type serverFixture struct {
	router http.Handler
	meta   *metadb.MemoryStore
	auth   *challenge.Authenticator
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)

	meta := metadb.NewMemoryStore()
	store := storage.NewMemoryBackend(log)
	keys := keyregistry.NewRegistry(meta, store, log)
	coordinator := ingest.NewCoordinator(store, meta, keys, log)

	cfg := challenge.DefaultConfig()
	cfg.NonceSize = 256
	auth := challenge.NewAuthenticator(meta, challenge.NewStore(log), cfg, []byte("test-secret"), log)

	handler := NewHandler(coordinator, keys, auth, meta, store, testAdminToken, log)
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err)

	require.NoError(t, meta.CreateApplication(context.Background(), &interfaces.Application{
		ID:       "app-1",
		Name:     testAppName,
		APIToken: testAPIToken,
		PropertySchema: map[string]interfaces.PropertyKind{
			"duration_ms": interfaces.PropertyKindInt,
		},
	}))

	return &serverFixture{router: srv.getRouter(), meta: meta, auth: auth}
}

func (f *serverFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func multipartUpload(t *testing.T, meta ingestMetadata, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaPart, err := writer.CreateFormField("metadata")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(metaPart).Encode(meta))

	contentPart, err := writer.CreateFormField("content")
	require.NoError(t, err)
	_, err = contentPart.Write(content)
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func (f *serverFixture) upload(t *testing.T, meta ingestMetadata, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, meta, content)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/"+testAppName, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(APITokenHeader, testAPIToken)
	return f.do(t, req)
}

func TestIngestEndpoint(t *testing.T) {
	f := newServerFixture(t)

	meta := ingestMetadata{
		OwnerUserID:   "U1",
		ClientLocalID: "run-001",
		CreatedAt:     time.Now().UTC(),
		EndedAt:       time.Now().UTC(),
		ContentSuffix: "zip",
		Properties: map[string]interfaces.PropertyValue{
			"duration_ms": interfaces.IntProperty(1500),
		},
	}

	rec := f.upload(t, meta, []byte("AAAA"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-001", resp.ArtifactID)
	assert.Equal(t, int64(4), resp.Size)
	assert.True(t, resp.Completed)
}

func TestIngestEndpointRejectsBadToken(t *testing.T) {
	f := newServerFixture(t)

	body, contentType := multipartUpload(t, ingestMetadata{OwnerUserID: "U1", ClientLocalID: "run-001"}, []byte("AAAA"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/"+testAppName, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(APITokenHeader, "wrong")

	rec := f.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication failed")
}

func TestIngestEndpointRejectsUnknownProperty(t *testing.T) {
	f := newServerFixture(t)

	meta := ingestMetadata{
		OwnerUserID:   "U1",
		ClientLocalID: "run-001",
		Properties: map[string]interfaces.PropertyValue{
			"undeclared": interfaces.IntProperty(1),
		},
	}
	rec := f.upload(t, meta, []byte("AAAA"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// registerExporter creates a keypair and certificate and registers it via
// the admin endpoint.
func (f *serverFixture) registerExporter(t *testing.T) (cryptoutils.RecipientPrivkey, interfaces.KeyID) {
	t.Helper()

	_, priv, err := cryptoutils.RandomP256Keypair()
	require.NoError(t, err)
	certPEM, err := cryptoutils.CreateExporterCertificate(priv, "exporter-1", time.Hour)
	require.NoError(t, err)

	body, err := json.Marshal(registerCertificateRequest{Role: "exporter-auth", Label: "exporter-1", PEM: certPEM})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/admin/applications/%s/certificates", testAppName), bytes.NewReader(body))
	req.Header.Set(AdminTokenHeader, testAdminToken)
	rec := f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp registerCertificateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	keyID, err := interfaces.NewKeyIDFromHex(resp.KeyID)
	require.NoError(t, err)
	return priv, keyID
}

// bearerToken runs the full challenge flow through the HTTP API.
func (f *serverFixture) bearerToken(t *testing.T, priv cryptoutils.RecipientPrivkey, keyID interfaces.KeyID) string {
	t.Helper()

	openBody, err := json.Marshal(openChallengeRequest{AppName: testAppName, KeyID: keyID.String()})
	require.NoError(t, err)
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/challenge", bytes.NewReader(openBody)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var opened openChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))

	content := cryptoutils.ChallengeContent(testAppName, keyID, opened.Nonce)
	signature, err := cryptoutils.SignChallenge(priv, opened.DigestAlgorithm, content)
	require.NoError(t, err)

	completeBody, err := json.Marshal(completeChallengeRequest{Signature: signature})
	require.NoError(t, err)
	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/challenge/"+opened.ChallengeID, bytes.NewReader(completeBody)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var completed completeChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	return completed.Token
}

func TestExportFlow(t *testing.T) {
	f := newServerFixture(t)
	priv, keyID := f.registerExporter(t)

	// encrypted upload granting the exporter's key
	meta := ingestMetadata{
		OwnerUserID:   "U1",
		ClientLocalID: "run-001",
		Encryption: interfaces.EncryptionInfo{
			Mode:                 interfaces.EncryptionModeECDHAESGCM,
			InitializationVector: []byte("gcm-nonce-12"),
		},
		RecipientKeys: []*interfaces.RecipientKeyEntry{{
			RecipientKeyID:  keyID,
			Mode:            interfaces.EncryptionModeECDHAESGCM,
			WrappedDataKey:  []byte("wrapped"),
			EphemeralPubkey: []byte("ephemeral"),
		}},
	}
	rec := f.upload(t, meta, []byte("ciphertext"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	token := f.bearerToken(t, priv, keyID)

	req := httptest.NewRequest(http.MethodGet, "/api/artifacts/run-001", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp artifactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-001", resp.ArtifactID)
	assert.Equal(t, []byte("ciphertext"), resp.Content)
	require.NotNil(t, resp.RecipientKey)
	assert.Equal(t, []byte("wrapped"), resp.RecipientKey.WrappedDataKey)
}

func TestExportRequiresBearerToken(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/artifacts/run-001", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/artifacts/run-001", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = f.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRekeyFlow(t *testing.T) {
	f := newServerFixture(t)
	privA, keyA := f.registerExporter(t)

	// seed one encrypted artifact granted to exporter A
	meta := ingestMetadata{
		OwnerUserID:   "U1",
		ClientLocalID: "run-001",
		Encryption: interfaces.EncryptionInfo{
			Mode:                 interfaces.EncryptionModeECDHAESGCM,
			InitializationVector: []byte("gcm-nonce-12"),
		},
		RecipientKeys: []*interfaces.RecipientKeyEntry{{
			RecipientKeyID:  keyA,
			Mode:            interfaces.EncryptionModeECDHAESGCM,
			WrappedDataKey:  []byte("wrapped-for-a"),
			EphemeralPubkey: []byte("ephemeral"),
		}},
	}
	rec := f.upload(t, meta, []byte("ciphertext"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// a second exporter joins and needs access
	_, keyB := f.registerExporter(t)
	token := f.bearerToken(t, privA, keyA)

	listURL := fmt.Sprintf("/api/rekey/%s/%s", testAppName, keyB.String())
	req := httptest.NewRequest(http.MethodGet, listURL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var listResp struct {
		Candidates []keyregistry.RekeyCandidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Candidates, 1)
	assert.Equal(t, interfaces.ArtifactID("run-001"), listResp.Candidates[0].ArtifactID)

	submitBody, err := json.Marshal(submitRekeyRequest{
		Keys: map[interfaces.ArtifactID]keyregistry.RekeyedKey{
			"run-001": {WrappedDataKey: []byte("wrapped-for-b"), EphemeralPubkey: []byte("ephemeral-b")},
		},
	})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPut, listURL, bytes.NewReader(submitBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var submitResp struct {
		Results map[interfaces.ArtifactID]keyregistry.RekeyResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	assert.Equal(t, keyregistry.RekeyGranted, submitResp.Results["run-001"].Status)

	// the list is now empty for key B
	req = httptest.NewRequest(http.MethodGet, listURL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Empty(t, listResp.Candidates)
}

func TestRekeyScopeEnforcesTokenApp(t *testing.T) {
	f := newServerFixture(t)
	priv, keyID := f.registerExporter(t)
	token := f.bearerToken(t, priv, keyID)

	req := httptest.NewRequest(http.MethodGet, "/api/rekey/OtherApp/"+keyID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	f := newServerFixture(t)

	body, err := json.Marshal(createApplicationRequest{Name: "New", APIToken: "t"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/applications", bytes.NewReader(body))
	rec := f.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/applications", bytes.NewReader(body))
	req.Header.Set(AdminTokenHeader, testAdminToken)
	rec = f.do(t, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
