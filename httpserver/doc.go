/*
Package httpserver exposes a certificate registry over HTTP.

Reads are public. Writes must carry the X-Registry-* signature headers from
package auth; the recovered signer is the caller the registry sees, so an
institution registers itself and only the admin key can verify institutions
or hand over the admin role.

# Endpoints

  - POST /api/institutions - register the signer as an institution (JSON or multipart with a "document")
  - GET /api/institutions/{identity} - institution record
  - POST /api/institutions/{identity}/verify - verify an institution (admin)
  - POST /api/certificates - upload a document and register its certificate
  - GET /api/certificates/{hash} - certificate and the relay's record of it
  - GET /api/certificates/{hash}/document - uploaded document
  - GET /api/admin - current admin
  - POST /api/admin/transfer - transfer the admin role (admin)
  - GET /api/events?from=N - registry events from block N
  - GET /livez, /readyz, /drain, /undrain - health and load balancer control

Registry errors map onto statuses: 403 for authorization, 409 for existing
entries, 404 for missing ones and 400 for invalid arguments. The error body
carries the stable code from interfaces.ErrorCode.

# Example Usage

	handler := httpserver.NewHandler(registry, documents, records, verifier, logger)
	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":8090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}, handler)
	if err != nil {
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
