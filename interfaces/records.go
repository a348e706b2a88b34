package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrRecordExists is returned when a record for the certificate hash is already stored.
	ErrRecordExists = errors.New("certificate record already exists")

	// ErrRecordNotFound is returned when no record is stored for the certificate hash.
	ErrRecordNotFound = errors.New("certificate record not found")
)

// CertificateRecord is what the relay keeps about a certificate it submitted:
// the registry fields, the transaction that registered it and the uploaded document.
type CertificateRecord struct {
	Hash         CertificateHash `json:"certificate_hash"`
	StudentName  string          `json:"student_name"`
	IssueDate    uint64          `json:"issue_date"`
	Issuer       Identity        `json:"issuer"`
	TxHash       common.Hash     `json:"transaction_hash"`
	DocumentID   ContentID       `json:"document_id"`
	DocumentName string          `json:"document_name"`
	MediaType    string          `json:"media_type"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RecordStore persists certificate records keyed by certificate hash.
type RecordStore interface {
	// SaveRecord stores a new record; ErrRecordExists if the hash is taken.
	SaveRecord(ctx context.Context, record CertificateRecord) error

	// RecordByHash returns the record for hash or ErrRecordNotFound.
	RecordByHash(ctx context.Context, hash CertificateHash) (CertificateRecord, error)

	Close() error
}
