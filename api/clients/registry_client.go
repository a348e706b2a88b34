package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/certificate-registry/api"
	"github.com/ruteri/certificate-registry/auth"
	"github.com/ruteri/certificate-registry/interfaces"
)

// ErrNoSigningKey is returned by write methods of a client created without a key.
var ErrNoSigningKey = errors.New("client has no signing key")

// APIError is a non-2xx response of the relay. It unwraps to the registry
// error named by Code, so callers can use errors.Is with the interfaces errors.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("registry relay returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("registry relay returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return interfaces.ErrorForCode(e.Code)
}

// Document is a downloaded certificate document.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// RegistryClient calls the registry relay. Writes are signed with key.
type RegistryClient struct {
	baseURL    string
	key        *ecdsa.PrivateKey
	httpClient *http.Client

	mu         sync.Mutex
	lastSigned int64
	now        func() time.Time
}

// NewRegistryClient creates a client for the relay at baseURL
// (e.g. "http://localhost:8080"). key may be nil for a read-only client.
// The optional timeout defaults to 30 seconds.
func NewRegistryClient(baseURL string, key *ecdsa.PrivateKey, timeout ...time.Duration) *RegistryClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &RegistryClient{
		baseURL:    baseURL,
		key:        key,
		httpClient: &http.Client{Timeout: clientTimeout},
		now:        time.Now,
	}
}

// Identity returns the address requests are signed as.
func (c *RegistryClient) Identity() interfaces.Identity {
	if c.key == nil {
		return interfaces.Identity{}
	}
	return interfaces.Identity(crypto.PubkeyToAddress(c.key.PublicKey))
}

// RegisterInstitution registers the client identity as an institution.
func (c *RegistryClient) RegisterInstitution(ctx context.Context, req api.RegisterInstitutionRequest) (*api.TransactionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var resp api.TransactionResponse
	if err := c.doSigned(ctx, http.MethodPost, "/api/institutions", "application/json", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterInstitutionWithDocument registers the client identity and uploads
// a supporting document (png, jpg, jpeg or pdf).
func (c *RegistryClient) RegisterInstitutionWithDocument(ctx context.Context, req api.RegisterInstitutionRequest, documentName string, document []byte) (*api.TransactionResponse, error) {
	body, contentType, err := multipartBody(map[string]string{
		api.FormName:               req.Name,
		api.FormRegistrationNumber: req.RegistrationNumber,
		api.FormResponsible:        req.Responsible,
	}, api.FormDocument, documentName, document)
	if err != nil {
		return nil, err
	}

	var resp api.TransactionResponse
	if err := c.doSigned(ctx, http.MethodPost, "/api/institutions", contentType, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyInstitution verifies a registered institution. The client must hold the admin key.
func (c *RegistryClient) VerifyInstitution(ctx context.Context, institution interfaces.Identity) (*api.TransactionResponse, error) {
	var resp api.TransactionResponse
	path := "/api/institutions/" + institution.String() + "/verify"
	if err := c.doSigned(ctx, http.MethodPost, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterCertificate uploads a certificate document and registers it with
// the client identity as issuer.
func (c *RegistryClient) RegisterCertificate(ctx context.Context, upload api.CertificateUpload) (*api.TransactionResponse, error) {
	fields := map[string]string{
		api.FormStudentName: upload.StudentName,
		api.FormIssueDate:   strconv.FormatUint(upload.IssueDate, 10),
	}
	if !upload.Hash.IsZero() {
		fields[api.FormCertificateHash] = upload.Hash.String()
	}

	body, contentType, err := multipartBody(fields, api.FormFile, upload.DocumentName, upload.Document)
	if err != nil {
		return nil, err
	}

	var resp api.TransactionResponse
	if err := c.doSigned(ctx, http.MethodPost, "/api/certificates", contentType, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TransferAdmin hands the admin role to newAdmin. The client must hold the admin key.
func (c *RegistryClient) TransferAdmin(ctx context.Context, newAdmin interfaces.Identity) (*api.TransactionResponse, error) {
	body, err := json.Marshal(api.TransferAdminRequest{NewAdmin: newAdmin})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var resp api.TransactionResponse
	if err := c.doSigned(ctx, http.MethodPost, "/api/admin/transfer", "application/json", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RegistryClient) Institution(ctx context.Context, identity interfaces.Identity) (*api.InstitutionResponse, error) {
	var resp api.InstitutionResponse
	if err := c.get(ctx, "/api/institutions/"+identity.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RegistryClient) Certificate(ctx context.Context, hash interfaces.CertificateHash) (*api.CertificateResponse, error) {
	var resp api.CertificateResponse
	if err := c.get(ctx, "/api/certificates/"+hash.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RegistryClient) Admin(ctx context.Context) (interfaces.Identity, error) {
	var resp api.AdminResponse
	if err := c.get(ctx, "/api/admin", &resp); err != nil {
		return interfaces.Identity{}, err
	}
	return resp.Admin, nil
}

// Events lists registry events from block from on.
func (c *RegistryClient) Events(ctx context.Context, from uint64) ([]interfaces.Event, error) {
	var resp api.EventsResponse
	if err := c.get(ctx, "/api/events?from="+strconv.FormatUint(from, 10), &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Document downloads the document uploaded with a certificate.
func (c *RegistryClient) Document(ctx context.Context, hash interfaces.CertificateHash) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/certificates/"+hash.String()+"/document", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc := &Document{MediaType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		doc.Name = params["filename"]
	}
	return doc, nil
}

func (c *RegistryClient) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

func (c *RegistryClient) doSigned(ctx context.Context, method, path, contentType string, body []byte, target any) error {
	if c.key == nil {
		return ErrNoSigningKey
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	creds, err := auth.SignRequest(c.key, method, req.URL.Path, body, c.signingTime())
	if err != nil {
		return err
	}
	creds.Apply(req.Header)

	return c.do(req, target)
}

// signingTime returns a time at least one second after the previous signed
// request, so resending an identical body never reuses a signed message.
func (c *RegistryClient) signingTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().Unix()
	if ts <= c.lastSigned {
		ts = c.lastSigned + 1
	}
	c.lastSigned = ts
	return time.Unix(ts, 0)
}

func (c *RegistryClient) do(req *http.Request, target any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", req.URL.Path, err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var parsed api.ErrorResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Message == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &APIError{StatusCode: resp.StatusCode, Code: parsed.Code, Message: parsed.Message}
}

func multipartBody(fields map[string]string, fileField, filename string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	fw, err := mw.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

