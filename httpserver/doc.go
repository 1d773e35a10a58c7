/*
Package httpserver implements the HTTP API of the analytics vault service.

It exposes endpoints for artifact ingestion, exporter authentication via
certificate possession challenges, artifact export, rekeying, and
administration, plus operational health endpoints.

# API Endpoints

  - POST /api/ingest/{app_name} - Upload an artifact (application API token)
  - POST /api/auth/challenge - Open a possession challenge
  - POST /api/auth/challenge/{challenge_id} - Complete a challenge, get a bearer token
  - GET /api/artifacts/{artifact_id} - Fetch an artifact (bearer token)
  - GET /api/rekey/{app_name}/{key_id} - List artifacts needing a grant for the key (bearer token)
  - PUT /api/rekey/{app_name}/{key_id} - Submit re-wrapped data keys (bearer token)
  - POST /api/admin/applications - Register an application (admin token)
  - POST /api/admin/applications/{app_name}/certificates - Register a certificate (admin token)
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}

	handler := httpserver.NewHandler(coordinator, registry, authenticator, meta, store, adminToken, logger)

	server, err := httpserver.New(cfg, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
