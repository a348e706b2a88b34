package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/certificate-registry/interfaces"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorResponse is returned with every non-2xx status. Code is the
// interfaces.ErrorCode of the failure.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RegisterInstitutionRequest is the JSON body of POST /api/institutions.
// The same fields are accepted as multipart form values together with an
// optional "document" file.
type RegisterInstitutionRequest struct {
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number"`
	Responsible        string `json:"responsible"`
}

// TransferAdminRequest is the JSON body of POST /api/admin/transfer.
type TransferAdminRequest struct {
	NewAdmin interfaces.Identity `json:"new_admin_address"`
}

// TransactionResponse describes an applied registry write.
type TransactionResponse struct {
	Status          string             `json:"status"`
	TransactionHash common.Hash        `json:"transaction_hash"`
	Block           uint64             `json:"block"`
	Events          []interfaces.Event `json:"events"`

	// Set by certificate and institution registration when a document was uploaded.
	CertificateHash *interfaces.CertificateHash `json:"certificate_hash,omitempty"`
	DocumentID      *interfaces.ContentID       `json:"document_id,omitempty"`
}

type InstitutionResponse struct {
	Status      string                 `json:"status"`
	Identity    interfaces.Identity    `json:"identity"`
	Institution interfaces.Institution `json:"institution"`
}

// CertificateResponse carries the registry entry and, when this relay
// submitted the certificate, its stored record.
type CertificateResponse struct {
	Status          string                        `json:"status"`
	CertificateHash interfaces.CertificateHash    `json:"certificate_hash"`
	Certificate     interfaces.Certificate        `json:"certificate"`
	Record          *interfaces.CertificateRecord `json:"record,omitempty"`
}

type AdminResponse struct {
	Status string              `json:"status"`
	Admin  interfaces.Identity `json:"admin"`
}

type EventsResponse struct {
	Status string             `json:"status"`
	Events []interfaces.Event `json:"events"`
}

// CertificateUpload is what a client submits to POST /api/certificates.
// A zero Hash asks the relay to use the keccak256 of the document.
type CertificateUpload struct {
	Hash         interfaces.CertificateHash
	StudentName  string
	IssueDate    uint64
	DocumentName string
	Document     []byte
}

// Multipart field names of POST /api/certificates and POST /api/institutions.
const (
	FormCertificateHash    = "certificate_hash"
	FormStudentName        = "student_name"
	FormIssueDate          = "issue_date"
	FormFile               = "file"
	FormName               = "name"
	FormRegistrationNumber = "registration_number"
	FormResponsible        = "responsible"
	FormDocument           = "document"
)
