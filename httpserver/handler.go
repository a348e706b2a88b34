package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ruteri/certificate-registry/api"
	"github.com/ruteri/certificate-registry/auth"
	"github.com/ruteri/certificate-registry/interfaces"
	"github.com/ruteri/certificate-registry/metrics"
	"github.com/ruteri/certificate-registry/registry"
)

const (
	// maxBodySize limits JSON request bodies (1MB).
	maxBodySize = 1024 * 1024

	// MaxDocumentSize limits uploaded documents (10MiB).
	MaxDocumentSize = 10 << 20
)

// documentTypes maps the accepted document extensions to their media types.
var documentTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"pdf":  "application/pdf",
}

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(format string, args ...any) error {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

type callerKey struct{}

// Handler serves the registry API. Reads are public; writes run as the
// identity that signed the request.
type Handler struct {
	registry  interfaces.CertificateRegistry
	documents interfaces.StorageBackend
	records   interfaces.RecordStore
	verifier  *auth.Verifier
	log       *slog.Logger
	tracer    trace.Tracer
}

// NewHandler creates a new HTTP request handler with the specified dependencies.
//
// Parameters:
//   - reg: the registry operations are applied to
//   - documents: storage for uploaded certificate and institution documents
//   - records: store for the relay's certificate records
//   - verifier: authenticates signed write requests
//   - log: Structured logger for operational insights
func NewHandler(reg interfaces.CertificateRegistry, documents interfaces.StorageBackend, records interfaces.RecordStore, verifier *auth.Verifier, log *slog.Logger) *Handler {
	return &Handler{
		registry:  reg,
		documents: documents,
		records:   records,
		verifier:  verifier,
		log:       log,
		tracer:    otel.Tracer("github.com/ruteri/certificate-registry/httpserver"),
	}
}

// RequireSignature authenticates the request, body included, and makes the
// signer available to the wrapped handler.
func (h *Handler) RequireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxDocumentSize+maxBodySize)
		caller, err := h.verifier.VerifyRequest(r)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: err})
			return
		}
		if err != nil {
			metrics.AuthFailures.WithLabelValues(authFailureReason(err)).Inc()
			h.log.Warn("Rejected request signature",
				slog.String("path", r.URL.Path),
				slog.String("identity", r.Header.Get(auth.HeaderIdentity)),
				"err", err)
			h.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(ctx context.Context) interfaces.Identity {
	caller, _ := ctx.Value(callerKey{}).(interfaces.Identity)
	return caller
}

// HandleRegisterInstitution registers the signer as an institution.
//
// URL format: POST /api/institutions
// Body: RegisterInstitutionRequest as JSON, or the same fields as a multipart
// form with an optional "document" file.
func (h *Handler) HandleRegisterInstitution(w http.ResponseWriter, r *http.Request) {
	var (
		req      api.RegisterInstitutionRequest
		document *interfaces.ContentID
	)

	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxDocumentSize+maxBodySize)
		if err := r.ParseMultipartForm(MaxDocumentSize); err != nil {
			h.writeError(w, badRequest("invalid multipart form: %v", err))
			return
		}
		defer r.MultipartForm.RemoveAll()
		req.Name = r.FormValue(api.FormName)
		req.RegistrationNumber = r.FormValue(api.FormRegistrationNumber)
		req.Responsible = r.FormValue(api.FormResponsible)

		if len(r.MultipartForm.File[api.FormDocument]) > 0 {
			data, _, _, err := readDocument(r, api.FormDocument)
			if err != nil {
				h.writeError(w, err)
				return
			}
			id, err := h.documents.Store(r.Context(), data, interfaces.InstitutionDocumentType)
			if err != nil {
				h.log.Error("Failed to store institution document", "err", err)
				h.writeError(w, err)
				return
			}
			document = &id
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	caller := callerFrom(r.Context())
	receipt, err := h.observe(r.Context(), "registerInstitution", func(ctx context.Context) (*interfaces.Receipt, error) {
		return h.registry.RegisterInstitution(ctx, caller, req.Name, req.RegistrationNumber, req.Responsible)
	}, attribute.String("caller", caller.String()))
	if err != nil {
		h.log.Info("Institution registration rejected",
			slog.String("caller", caller.String()),
			"err", err)
		h.writeError(w, err)
		return
	}

	resp := transactionResponse(receipt)
	resp.DocumentID = document
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleGetInstitution returns the institution record of an identity.
//
// URL format: GET /api/institutions/{identity}
func (h *Handler) HandleGetInstitution(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.NewIdentityFromHex(chi.URLParam(r, "identity"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	institution, err := h.registry.Institutions(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !institution.Registered() {
		h.writeError(w, interfaces.ErrNotRegistered)
		return
	}

	h.writeJSON(w, http.StatusOK, api.InstitutionResponse{
		Status:      api.StatusSuccess,
		Identity:    id,
		Institution: institution,
	})
}

// HandleVerifyInstitution marks an institution as verified. Admin only.
//
// URL format: POST /api/institutions/{identity}/verify
func (h *Handler) HandleVerifyInstitution(w http.ResponseWriter, r *http.Request) {
	institution, err := interfaces.NewIdentityFromHex(chi.URLParam(r, "identity"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	caller := callerFrom(r.Context())
	receipt, err := h.observe(r.Context(), "verifyInstitution", func(ctx context.Context) (*interfaces.Receipt, error) {
		return h.registry.VerifyInstitution(ctx, caller, institution)
	}, attribute.String("caller", caller.String()), attribute.String("institution", institution.String()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, transactionResponse(receipt))
}

// HandleRegisterCertificate stores the uploaded document, registers the
// certificate as the signer and records what was submitted.
//
// URL format: POST /api/certificates
// Body: multipart form with student_name, issue_date (unix seconds), file and
// an optional certificate_hash. Without a hash the keccak256 of the file is used.
func (h *Handler) HandleRegisterCertificate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxDocumentSize+maxBodySize)
	if err := r.ParseMultipartForm(MaxDocumentSize); err != nil {
		h.writeError(w, badRequest("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	document, documentName, mediaType, err := readDocument(r, api.FormFile)
	if err != nil {
		h.writeError(w, err)
		return
	}

	hash := interfaces.ComputeCertificateHash(document)
	if raw := r.FormValue(api.FormCertificateHash); raw != "" {
		if hash, err = interfaces.NewCertificateHashFromHex(raw); err != nil {
			h.writeError(w, err)
			return
		}
	}

	issueDate, err := strconv.ParseUint(r.FormValue(api.FormIssueDate), 10, 64)
	if err != nil {
		h.writeError(w, fmt.Errorf("%w: %q", interfaces.ErrInvalidDate, r.FormValue(api.FormIssueDate)))
		return
	}
	studentName := r.FormValue(api.FormStudentName)

	documentID, err := h.documents.Store(r.Context(), document, interfaces.CertificateDocumentType)
	if err != nil {
		h.log.Error("Failed to store certificate document",
			slog.String("certificate_hash", hash.String()),
			"err", err)
		h.writeError(w, err)
		return
	}
	metrics.DocumentBytes.Observe(float64(len(document)))

	caller := callerFrom(r.Context())
	receipt, err := h.observe(r.Context(), "registerCertificate", func(ctx context.Context) (*interfaces.Receipt, error) {
		return h.registry.RegisterCertificate(ctx, caller, hash, studentName, issueDate)
	}, attribute.String("caller", caller.String()), attribute.String("certificate_hash", hash.String()))
	if err != nil {
		h.log.Info("Certificate registration rejected",
			slog.String("caller", caller.String()),
			slog.String("certificate_hash", hash.String()),
			"err", err)
		h.writeError(w, err)
		return
	}

	// the registry write is applied, a failed record is only logged
	err = h.records.SaveRecord(r.Context(), interfaces.CertificateRecord{
		Hash:         hash,
		StudentName:  studentName,
		IssueDate:    issueDate,
		Issuer:       caller,
		TxHash:       receipt.TxHash,
		DocumentID:   documentID,
		DocumentName: documentName,
		MediaType:    mediaType,
	})
	if err != nil {
		h.log.Error("Failed to save certificate record",
			slog.String("certificate_hash", hash.String()),
			slog.String("tx_hash", receipt.TxHash.Hex()),
			"err", err)
	}

	resp := transactionResponse(receipt)
	resp.CertificateHash = &hash
	resp.DocumentID = &documentID
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleGetCertificate returns a registered certificate.
//
// URL format: GET /api/certificates/{hash}
func (h *Handler) HandleGetCertificate(w http.ResponseWriter, r *http.Request) {
	hash, err := interfaces.NewCertificateHashFromHex(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	certificate, err := h.registry.GetCertificate(r.Context(), hash)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := api.CertificateResponse{
		Status:          api.StatusSuccess,
		CertificateHash: hash,
		Certificate:     certificate,
	}

	record, err := h.records.RecordByHash(r.Context(), hash)
	switch {
	case err == nil:
		resp.Record = &record
	case !errors.Is(err, interfaces.ErrRecordNotFound):
		h.log.Error("Failed to load certificate record",
			slog.String("certificate_hash", hash.String()),
			"err", err)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleGetDocument streams the document uploaded with a certificate.
//
// URL format: GET /api/certificates/{hash}/document
func (h *Handler) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	hash, err := interfaces.NewCertificateHashFromHex(chi.URLParam(r, "hash"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	record, err := h.records.RecordByHash(r.Context(), hash)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := h.documents.Fetch(r.Context(), record.DocumentID, interfaces.CertificateDocumentType)
	if err != nil {
		h.log.Error("Failed to fetch certificate document",
			slog.String("certificate_hash", hash.String()),
			slog.String("document_id", record.DocumentID.String()),
			"err", err)
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", record.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.DocumentName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleGetAdmin returns the current admin.
//
// URL format: GET /api/admin
func (h *Handler) HandleGetAdmin(w http.ResponseWriter, r *http.Request) {
	admin, err := h.registry.Admin(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.AdminResponse{Status: api.StatusSuccess, Admin: admin})
}

// HandleTransferAdmin hands the admin role to another identity. Admin only.
//
// URL format: POST /api/admin/transfer
// Body: TransferAdminRequest
func (h *Handler) HandleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	var req api.TransferAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	caller := callerFrom(r.Context())
	receipt, err := h.observe(r.Context(), "transferAdmin", func(ctx context.Context) (*interfaces.Receipt, error) {
		return h.registry.TransferAdmin(ctx, caller, req.NewAdmin)
	}, attribute.String("caller", caller.String()), attribute.String("new_admin", req.NewAdmin.String()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("Admin transferred",
		slog.String("old_admin", caller.String()),
		slog.String("new_admin", req.NewAdmin.String()))
	h.writeJSON(w, http.StatusOK, transactionResponse(receipt))
}

// HandleEvents lists registry events from a block on.
//
// URL format: GET /api/events?from=N
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		var err error
		if from, err = strconv.ParseUint(raw, 10, 64); err != nil {
			h.writeError(w, badRequest("invalid from block %q", raw))
			return
		}
	}

	events, err := h.registry.Events(r.Context(), from)
	if err != nil {
		h.log.Error("Failed to list events", slog.Uint64("from", from), "err", err)
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []interfaces.Event{}
	}

	h.writeJSON(w, http.StatusOK, api.EventsResponse{Status: api.StatusSuccess, Events: events})
}

// observe runs a registry write inside a span and records its metrics.
func (h *Handler) observe(ctx context.Context, operation string, fn func(context.Context) (*interfaces.Receipt, error), attrs ...attribute.KeyValue) (*interfaces.Receipt, error) {
	ctx, span := h.tracer.Start(ctx, "registry."+operation, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	receipt, err := fn(ctx)
	metrics.ObserveOperation(operation, start, err)

	if err != nil {
		span.SetStatus(codes.Error, interfaces.ErrorCode(err))
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("tx_hash", receipt.TxHash.Hex()),
		attribute.Int64("block", int64(receipt.Block)),
	)
	return receipt, nil
}

func transactionResponse(receipt *interfaces.Receipt) api.TransactionResponse {
	events := receipt.Events
	if events == nil {
		events = []interfaces.Event{}
	}
	return api.TransactionResponse{
		Status:          api.StatusSuccess,
		TransactionHash: receipt.TxHash,
		Block:           receipt.Block,
		Events:          events,
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// readDocument reads an uploaded file, checking its extension and size.
func readDocument(r *http.Request, field string) (data []byte, name, mediaType string, err error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", "", badRequest("missing %q file", field)
	}
	if err != nil {
		return nil, "", "", badRequest("invalid %q file: %v", field, err)
	}
	defer file.Close()

	name, mediaType, err = documentMeta(header)
	if err != nil {
		return nil, "", "", err
	}

	data, err = io.ReadAll(io.LimitReader(file, MaxDocumentSize+1))
	if err != nil {
		return nil, "", "", badRequest("failed to read %q file: %v", field, err)
	}
	if len(data) > MaxDocumentSize {
		return nil, "", "", &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: fmt.Errorf("document exceeds %d bytes", MaxDocumentSize)}
	}
	if len(data) == 0 {
		return nil, "", "", badRequest("empty document")
	}
	return data, name, mediaType, nil
}

func documentMeta(header *multipart.FileHeader) (name, mediaType string, err error) {
	name = filepath.Base(header.Filename)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	mediaType, ok := documentTypes[ext]
	if !ok {
		return "", "", badRequest("file type %q not allowed, use png, jpg, jpeg or pdf", ext)
	}
	return name, mediaType, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}
	code := interfaces.ErrorCode(err)
	switch {
	case status == http.StatusUnauthorized:
		code = "authentication_failed"
	case errors.Is(err, registry.ErrNoTransactOpts):
		code = "no_transactor"
	case code == "internal" && status == http.StatusBadRequest:
		code = "bad_request"
	case code == "internal" && status == http.StatusRequestEntityTooLarge:
		code = "too_large"
	}

	h.writeJSON(w, status, api.ErrorResponse{
		Status:  api.StatusError,
		Message: err.Error(),
		Code:    code,
	})
}

// statusFor maps errors onto HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}

	switch {
	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrStaleRequest),
		errors.Is(err, auth.ErrReplayedRequest):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrUnauthorized),
		errors.Is(err, interfaces.ErrNotVerified),
		errors.Is(err, registry.ErrNoTransactOpts):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrAlreadyRegistered),
		errors.Is(err, interfaces.ErrDuplicateCertificate),
		errors.Is(err, interfaces.ErrRecordExists):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrNotRegistered),
		errors.Is(err, interfaces.ErrNotFound),
		errors.Is(err, interfaces.ErrRecordNotFound),
		errors.Is(err, interfaces.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidHash),
		errors.Is(err, interfaces.ErrInvalidName),
		errors.Is(err, interfaces.ErrInvalidDate),
		errors.Is(err, interfaces.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return "missing"
	case errors.Is(err, auth.ErrStaleRequest):
		return "stale"
	case errors.Is(err, auth.ErrReplayedRequest):
		return "replayed"
	default:
		return "invalid_signature"
	}
}
