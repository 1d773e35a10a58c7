package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openmetrica/analytics-vault-backend/cryptoutils"
	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

type createApplicationRequest struct {
	Name           string            `json:"name"`
	APIToken       string            `json:"api_token"`
	PropertySchema map[string]string `json:"property_schema,omitempty"`
}

type createApplicationResponse struct {
	ID string `json:"id"`
}

// HandleCreateApplication registers a new application.
//
// URL format: POST /api/admin/applications
// Required header: X-Admin-Token.
func (h *Handler) HandleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMetadataSize)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.APIToken == "" {
		http.Error(w, "name and api_token are required", http.StatusBadRequest)
		return
	}

	schema := make(map[string]interfaces.PropertyKind, len(req.PropertySchema))
	for name, kindName := range req.PropertySchema {
		kind, err := interfaces.PropertyKindFromString(kindName)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		schema[name] = kind
	}

	app := &interfaces.Application{
		ID:             uuid.NewString(),
		Name:           req.Name,
		APIToken:       req.APIToken,
		PropertySchema: schema,
	}
	if err := h.meta.CreateApplication(r.Context(), app); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log.Info("application registered", "app", req.Name, "app_id", app.ID)
	writeJSON(w, http.StatusOK, createApplicationResponse{ID: app.ID})
}

type registerCertificateRequest struct {
	Role  string `json:"role"`
	Label string `json:"label,omitempty"`
	PEM   []byte `json:"pem"`
}

type registerCertificateResponse struct {
	KeyID string `json:"key_id"`
}

// HandleRegisterCertificate registers a certificate for an application. The
// key id is derived from the certificate's public key, never taken from the
// request.
//
// URL format: POST /api/admin/applications/{app_name}/certificates
// Required header: X-Admin-Token.
func (h *Handler) HandleRegisterCertificate(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "app_name")

	var req registerCertificateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMetadataSize)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	var role interfaces.CertRole
	switch req.Role {
	case "signer":
		role = interfaces.RoleSigner
	case "exporter-auth":
		role = interfaces.RoleExporterAuth
	default:
		http.Error(w, "role must be signer or exporter-auth", http.StatusBadRequest)
		return
	}

	certPEM, err := cryptoutils.NewCertPEM(req.PEM)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cert, err := certPEM.GetX509Cert()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	keyID, err := cryptoutils.CertificateKeyID(cert)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	app, err := h.meta.ApplicationByName(r.Context(), appName)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	record := &interfaces.CertificateRecord{
		AppID: app.ID,
		Role:  role,
		Label: req.Label,
		KeyID: keyID,
		PEM:   certPEM,
	}
	if err := h.meta.AddCertificate(r.Context(), record); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.log.Info("certificate registered",
		"app", appName, "role", role.String(), "key_id", keyID.String(), "label", req.Label)
	writeJSON(w, http.StatusOK, registerCertificateResponse{KeyID: keyID.String()})
}
