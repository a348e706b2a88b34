package httpserver

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/certificate-registry/api"
	"github.com/ruteri/certificate-registry/auth"
	"github.com/ruteri/certificate-registry/interfaces"
	"github.com/ruteri/certificate-registry/recordstore"
	"github.com/ruteri/certificate-registry/registry"
	"github.com/ruteri/certificate-registry/storage"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var pdfDocument = []byte("%PDF-1.4 diploma of Alice")

// testEnv is a relay backed by an in-process ledger, file storage and an
// in-memory record store.
type testEnv struct {
	t       *testing.T
	server  *Server
	ledger  *registry.Ledger
	records *recordstore.Memory
	admin   *ecdsa.PrivateKey

	// each signed request uses a later second so requests with the same
	// method and path do not collide in the replay guard
	signedAt time.Time
}

func newTestEnv(t *testing.T, policy interfaces.IssuancePolicy) *testEnv {
	t.Helper()

	admin := newKey(t)
	ledger, err := registry.NewLedger(identityOf(admin), policy)
	require.NoError(t, err)

	documents, err := storage.NewFileBackend(t.TempDir(), discardLogger)
	require.NoError(t, err)

	records := recordstore.NewMemory()
	verifier := auth.NewVerifier(auth.DefaultMaxSkew, auth.NewMemoryReplayGuard())

	handler := NewHandler(ledger, documents, records, verifier, discardLogger)
	server, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      discardLogger,
		GracefulShutdownDuration: time.Second,
	}, handler)
	require.NoError(t, err)

	return &testEnv{
		t:        t,
		server:   server,
		ledger:   ledger,
		records:  records,
		admin:    admin,
		signedAt: time.Now().Add(-time.Minute),
	}
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func identityOf(key *ecdsa.PrivateKey) interfaces.Identity {
	return interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey))
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.serve(httptest.NewRequest(http.MethodGet, path, nil))
}

// signed sends a request authenticated as key.
func (e *testEnv) signed(key *ecdsa.PrivateKey, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	e.t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	e.signedAt = e.signedAt.Add(time.Second)
	creds, err := auth.SignRequest(key, method, req.URL.Path, body, e.signedAt)
	require.NoError(e.t, err)
	creds.Apply(req.Header)

	return e.serve(req)
}

func (e *testEnv) postJSON(key *ecdsa.PrivateKey, path string, v any) *httptest.ResponseRecorder {
	e.t.Helper()
	body, err := json.Marshal(v)
	require.NoError(e.t, err)
	return e.signed(key, http.MethodPost, path, "application/json", body)
}

func (e *testEnv) registerInstitution(key *ecdsa.PrivateKey, name string) *httptest.ResponseRecorder {
	return e.postJSON(key, "/api/institutions", api.RegisterInstitutionRequest{
		Name:               name,
		RegistrationNumber: "REG-001",
		Responsible:        "Dean",
	})
}

func (e *testEnv) verifyInstitution(key *ecdsa.PrivateKey, institution interfaces.Identity) *httptest.ResponseRecorder {
	return e.signed(key, http.MethodPost, "/api/institutions/"+institution.String()+"/verify", "", nil)
}

func (e *testEnv) registerCertificate(key *ecdsa.PrivateKey, fields map[string]string, filename string, document []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	body, contentType := multipartBody(e.t, fields, api.FormFile, filename, document)
	return e.signed(key, http.MethodPost, "/api/certificates", contentType, body)
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, data []byte) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func certificateFields(studentName string, issueDate uint64) map[string]string {
	return map[string]string{
		api.FormStudentName: studentName,
		api.FormIssueDate:   strconv.FormatUint(issueDate, 10),
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := decode[api.ErrorResponse](t, w)
	assert.Equal(t, api.StatusError, resp.Status)
	assert.Equal(t, code, resp.Code)
}

func TestCertificateLifecycle(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)
	issuer := newKey(t)

	w := env.registerInstitution(issuer, "University of Tests")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	registered := decode[api.TransactionResponse](t, w)
	require.Len(t, registered.Events, 1)
	assert.Equal(t, interfaces.InstitutionRegistered, registered.Events[0].Kind)
	assert.Equal(t, identityOf(issuer), registered.Events[0].Subject)

	w = env.registerCertificate(issuer, certificateFields("Alice", 1700000000), "diploma.pdf", pdfDocument)
	requireError(t, w, http.StatusForbidden, "not_verified")

	w = env.verifyInstitution(env.admin, identityOf(issuer))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.get("/api/institutions/" + identityOf(issuer).String())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	institution := decode[api.InstitutionResponse](t, w)
	assert.True(t, institution.Institution.Verified)
	assert.Equal(t, "University of Tests", institution.Institution.Name)

	w = env.registerCertificate(issuer, certificateFields("Alice", 1700000000), "diploma.pdf", pdfDocument)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	issued := decode[api.TransactionResponse](t, w)
	require.NotNil(t, issued.CertificateHash)
	require.NotNil(t, issued.DocumentID)
	hash := *issued.CertificateHash
	assert.Equal(t, interfaces.ComputeCertificateHash(pdfDocument), hash)
	assert.Equal(t, uint64(3), issued.Block)

	w = env.get("/api/certificates/" + hash.String())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cert := decode[api.CertificateResponse](t, w)
	assert.Equal(t, interfaces.Certificate{StudentName: "Alice", IssueDate: 1700000000, Issuer: identityOf(issuer)}, cert.Certificate)
	require.NotNil(t, cert.Record)
	assert.Equal(t, "diploma.pdf", cert.Record.DocumentName)
	assert.Equal(t, issued.TransactionHash, cert.Record.TxHash)

	w = env.get("/api/certificates/" + hash.String() + "/document")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "diploma.pdf")
	assert.Equal(t, pdfDocument, w.Body.Bytes())

	w = env.registerCertificate(issuer, certificateFields("Mallory", 1700000001), "diploma.pdf", pdfDocument)
	requireError(t, w, http.StatusConflict, "duplicate_certificate")

	w = env.get("/api/events")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[api.EventsResponse](t, w)
	require.Len(t, all.Events, 3)
	assert.Equal(t, interfaces.InstitutionRegistered, all.Events[0].Kind)
	assert.Equal(t, interfaces.InstitutionVerified, all.Events[1].Kind)
	assert.Equal(t, interfaces.CertificateRegistered, all.Events[2].Kind)

	w = env.get("/api/events?from=3")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[api.EventsResponse](t, w).Events, 1)
}

func TestRegisterCertificate_ExplicitHash(t *testing.T) {
	env := newTestEnv(t, interfaces.OpenIssuance)
	issuer := newKey(t)
	hash := interfaces.CertificateHash{0x48, 0x65}

	fields := certificateFields("Bob", 1690000000)
	fields[api.FormCertificateHash] = hash.String()

	w := env.registerCertificate(issuer, fields, "scan.PNG", []byte("png bytes"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.TransactionResponse](t, w)
	assert.Equal(t, hash, *resp.CertificateHash)

	record, err := env.records.RecordByHash(t.Context(), hash)
	require.NoError(t, err)
	assert.Equal(t, "image/png", record.MediaType)
	assert.Equal(t, identityOf(issuer), record.Issuer)
}

func TestRegisterCertificate_Validation(t *testing.T) {
	env := newTestEnv(t, interfaces.OpenIssuance)
	issuer := newKey(t)

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		document []byte
		status   int
		code     string
	}{
		{
			name:     "disallowed extension",
			fields:   certificateFields("Alice", 1700000000),
			filename: "diploma.exe",
			document: []byte("MZ"),
			status:   http.StatusBadRequest,
			code:     "bad_request",
		},
		{
			name:   "missing file",
			fields: certificateFields("Alice", 1700000000),
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
		{
			name:     "empty student name",
			fields:   certificateFields("", 1700000000),
			filename: "a.pdf",
			document: []byte("a"),
			status:   http.StatusBadRequest,
			code:     "invalid_name",
		},
		{
			name:     "zero issue date",
			fields:   certificateFields("Alice", 0),
			filename: "b.pdf",
			document: []byte("b"),
			status:   http.StatusBadRequest,
			code:     "invalid_date",
		},
		{
			name:     "unparsable issue date",
			fields:   map[string]string{api.FormStudentName: "Alice", api.FormIssueDate: "yesterday"},
			filename: "c.pdf",
			document: []byte("c"),
			status:   http.StatusBadRequest,
			code:     "invalid_date",
		},
		{
			name: "zero hash",
			fields: map[string]string{
				api.FormStudentName:     "Alice",
				api.FormIssueDate:       "1700000000",
				api.FormCertificateHash: interfaces.CertificateHash{}.String(),
			},
			filename: "d.pdf",
			document: []byte("d"),
			status:   http.StatusBadRequest,
			code:     "invalid_hash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.registerCertificate(issuer, tt.fields, tt.filename, tt.document)
			requireError(t, w, tt.status, tt.code)
		})
	}

	events, err := env.ledger.Events(t.Context(), 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRegisterCertificate_UnregisteredIssuer(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)

	w := env.registerCertificate(newKey(t), certificateFields("Alice", 1700000000), "diploma.pdf", pdfDocument)
	requireError(t, w, http.StatusNotFound, "not_registered")
}

func TestRegisterInstitution_Multipart(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)
	institution := newKey(t)

	body, contentType := multipartBody(t, map[string]string{
		api.FormName:               "Multipart College",
		api.FormRegistrationNumber: "MC-7",
		api.FormResponsible:        "Registrar",
	}, api.FormDocument, "charter.pdf", []byte("%PDF charter"))

	w := env.signed(institution, http.MethodPost, "/api/institutions", contentType, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.TransactionResponse](t, w)
	require.NotNil(t, resp.DocumentID)
	assert.Equal(t, interfaces.ComputeID([]byte("%PDF charter")), *resp.DocumentID)

	record, err := env.ledger.Institutions(t.Context(), identityOf(institution))
	require.NoError(t, err)
	assert.Equal(t, interfaces.Institution{Name: "Multipart College", RegistrationNumber: "MC-7", Responsible: "Registrar"}, record)
}

func TestRegisterInstitution_Errors(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)
	institution := newKey(t)

	requireError(t, env.registerInstitution(institution, ""), http.StatusBadRequest, "invalid_name")

	require.Equal(t, http.StatusOK, env.registerInstitution(institution, "First").Code)
	requireError(t, env.registerInstitution(institution, "Second"), http.StatusConflict, "already_registered")

	w := env.signed(institution, http.MethodPost, "/api/institutions", "application/json", []byte("{not json"))
	requireError(t, w, http.StatusBadRequest, "bad_request")

	record, err := env.ledger.Institutions(t.Context(), identityOf(institution))
	require.NoError(t, err)
	assert.Equal(t, "First", record.Name)
}

func TestVerifyInstitution_Errors(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)
	institution := newKey(t)
	require.Equal(t, http.StatusOK, env.registerInstitution(institution, "Uni").Code)

	requireError(t, env.verifyInstitution(institution, identityOf(institution)), http.StatusForbidden, "unauthorized")
	requireError(t, env.verifyInstitution(env.admin, identityOf(newKey(t))), http.StatusNotFound, "not_registered")

	w := env.signed(env.admin, http.MethodPost, "/api/institutions/not-an-address/verify", "", nil)
	requireError(t, w, http.StatusBadRequest, "invalid_identity")
}

func TestGetInstitution_NotRegistered(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)

	requireError(t, env.get("/api/institutions/"+identityOf(newKey(t)).String()), http.StatusNotFound, "not_registered")
}

func TestGetCertificate_Errors(t *testing.T) {
	env := newTestEnv(t, interfaces.OpenIssuance)

	requireError(t, env.get("/api/certificates/"+interfaces.CertificateHash{0x01}.String()), http.StatusNotFound, "not_found")
	requireError(t, env.get("/api/certificates/0x1234"), http.StatusBadRequest, "invalid_hash")
	requireError(t, env.get("/api/certificates/"+interfaces.CertificateHash{0x01}.String()+"/document"), http.StatusNotFound, "record_not_found")
}

func TestTransferAdmin(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)
	successor := newKey(t)

	w := env.postJSON(successor, "/api/admin/transfer", api.TransferAdminRequest{NewAdmin: identityOf(successor)})
	requireError(t, w, http.StatusForbidden, "unauthorized")

	w = env.postJSON(env.admin, "/api/admin/transfer", api.TransferAdminRequest{})
	requireError(t, w, http.StatusBadRequest, "invalid_identity")

	w = env.postJSON(env.admin, "/api/admin/transfer", api.TransferAdminRequest{NewAdmin: identityOf(successor)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.TransactionResponse](t, w)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, identityOf(env.admin), resp.Events[0].OldAdmin)
	assert.Equal(t, identityOf(successor), resp.Events[0].NewAdmin)

	w = env.get("/api/admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, identityOf(successor), decode[api.AdminResponse](t, w).Admin)

	// the previous admin lost its rights
	institution := newKey(t)
	require.Equal(t, http.StatusOK, env.registerInstitution(institution, "Uni").Code)
	requireError(t, env.verifyInstitution(env.admin, identityOf(institution)), http.StatusForbidden, "unauthorized")
	require.Equal(t, http.StatusOK, env.verifyInstitution(successor, identityOf(institution)).Code)
}

func TestRequireSignature(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)
	key := newKey(t)
	body := []byte(`{"name":"Uni"}`)

	t.Run("missing credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/institutions", bytes.NewReader(body))
		requireError(t, env.serve(req), http.StatusUnauthorized, "authentication_failed")
	})

	t.Run("signed for another path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/institutions", bytes.NewReader(body))
		creds, err := auth.SignRequest(key, http.MethodPost, "/api/admin/transfer", body, time.Now())
		require.NoError(t, err)
		creds.Apply(req.Header)
		requireError(t, env.serve(req), http.StatusUnauthorized, "authentication_failed")
	})

	t.Run("stale", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/institutions", bytes.NewReader(body))
		creds, err := auth.SignRequest(key, http.MethodPost, "/api/institutions", body, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		creds.Apply(req.Header)
		requireError(t, env.serve(req), http.StatusUnauthorized, "authentication_failed")
	})

	t.Run("replayed", func(t *testing.T) {
		creds, err := auth.SignRequest(key, http.MethodPost, "/api/institutions", body, time.Now())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/institutions", bytes.NewReader(body))
		creds.Apply(req.Header)
		require.Equal(t, http.StatusOK, env.serve(req).Code)

		req = httptest.NewRequest(http.MethodPost, "/api/institutions", bytes.NewReader(body))
		creds.Apply(req.Header)
		requireError(t, env.serve(req), http.StatusUnauthorized, "authentication_failed")
	})

	t.Run("swapped body", func(t *testing.T) {
		other := newKey(t)
		creds, err := auth.SignRequest(other, http.MethodPost, "/api/institutions", body, time.Now())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/institutions", bytes.NewReader([]byte(`{"name":"Forged"}`)))
		req.Header.Set("Content-Type", "application/json")
		creds.Apply(req.Header)
		requireError(t, env.serve(req), http.StatusUnauthorized, "authentication_failed")
	})

	t.Run("oversized body", func(t *testing.T) {
		huge := bytes.Repeat([]byte{'a'}, MaxDocumentSize+maxBodySize+1)
		creds, err := auth.SignRequest(key, http.MethodPost, "/api/certificates", huge, time.Now())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/certificates", bytes.NewReader(huge))
		creds.Apply(req.Header)
		requireError(t, env.serve(req), http.StatusRequestEntityTooLarge, "too_large")
	})

	t.Run("distinct bodies in the same second", func(t *testing.T) {
		issuer := newKey(t)
		now := time.Now()
		for i, payload := range [][]byte{[]byte(`{"name":"First"}`), []byte(`{"name":"Second"}`)} {
			creds, err := auth.SignRequest(issuer, http.MethodPost, "/api/institutions", payload, now)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/api/institutions", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			creds.Apply(req.Header)
			w := env.serve(req)
			if i == 0 {
				require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			} else {
				// authenticated, then rejected by the registry
				requireError(t, w, http.StatusConflict, "already_registered")
			}
		}
	})

	events, err := env.ledger.Events(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestHandleEvents_InvalidFrom(t *testing.T) {
	env := newTestEnv(t, interfaces.VerifiedIssuance)

	requireError(t, env.get("/api/events?from=abc"), http.StatusBadRequest, "bad_request")

	w := env.get("/api/events")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","events":[]}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{interfaces.ErrUnauthorized, http.StatusForbidden},
		{interfaces.ErrNotVerified, http.StatusForbidden},
		{registry.ErrNoTransactOpts, http.StatusForbidden},
		{interfaces.ErrAlreadyRegistered, http.StatusConflict},
		{interfaces.ErrDuplicateCertificate, http.StatusConflict},
		{interfaces.ErrNotRegistered, http.StatusNotFound},
		{interfaces.ErrNotFound, http.StatusNotFound},
		{interfaces.ErrContentNotFound, http.StatusNotFound},
		{interfaces.ErrInvalidHash, http.StatusBadRequest},
		{interfaces.ErrInvalidIdentity, http.StatusBadRequest},
		{interfaces.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{auth.ErrReplayedRequest, http.StatusUnauthorized},
		{&RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: io.ErrUnexpectedEOF}, http.StatusRequestEntityTooLarge},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
