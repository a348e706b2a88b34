package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names the registry event types.
type EventKind string

const (
	InstitutionRegistered EventKind = "InstitutionRegistered"
	InstitutionVerified   EventKind = "InstitutionVerified"
	CertificateRegistered EventKind = "CertificateRegistered"
	AdminTransferred      EventKind = "AdminTransferred"
)

// Event is a registry event. Only the fields relevant to Kind are set:
//
//   - InstitutionRegistered: Subject, Name
//   - InstitutionVerified: Subject, Verified
//   - CertificateRegistered: CertificateHash, Issuer
//   - AdminTransferred: OldAdmin, NewAdmin
type Event struct {
	Kind   EventKind   `json:"kind"`
	Block  uint64      `json:"block"`
	Index  uint        `json:"index"`
	TxHash common.Hash `json:"tx_hash"`

	Subject         Identity        `json:"subject,omitzero"`
	Name            string          `json:"name,omitempty"`
	Verified        bool            `json:"verified,omitempty"`
	CertificateHash CertificateHash `json:"certificate_hash,omitzero"`
	Issuer          Identity        `json:"issuer,omitzero"`
	OldAdmin        Identity        `json:"old_admin,omitzero"`
	NewAdmin        Identity        `json:"new_admin,omitzero"`
}

// Key returns the identifier events are grouped by: the certificate hash for
// certificate events, the new admin for admin transfers and the institution otherwise.
func (e Event) Key() string {
	switch e.Kind {
	case CertificateRegistered:
		return e.CertificateHash.String()
	case AdminTransferred:
		return e.NewAdmin.String()
	default:
		return e.Subject.String()
	}
}

// Receipt describes an applied write.
type Receipt struct {
	TxHash common.Hash `json:"tx_hash"`
	Block  uint64      `json:"block"`
	Events []Event     `json:"events"`
}

// CertificateRegistry is the registry state machine: a singleton admin,
// institutions keyed by identity and certificates keyed by hash.
//
// Writes take the authenticated caller explicitly. Each operation either
// applies fully, returning a receipt, or fails with one of the registry
// errors and changes nothing.
type CertificateRegistry interface {
	// RegisterInstitution records the caller as an unverified institution.
	RegisterInstitution(ctx context.Context, caller Identity, name, registrationNumber, responsible string) (*Receipt, error)

	// VerifyInstitution marks a registered institution as verified. Admin only.
	VerifyInstitution(ctx context.Context, caller Identity, institution Identity) (*Receipt, error)

	// RegisterCertificate binds hash to (studentName, issueDate, caller) forever.
	RegisterCertificate(ctx context.Context, caller Identity, hash CertificateHash, studentName string, issueDate uint64) (*Receipt, error)

	// GetCertificate returns the certificate bound to hash or ErrNotFound.
	GetCertificate(ctx context.Context, hash CertificateHash) (Certificate, error)

	// TransferAdmin hands the admin role to newAdmin. Admin only.
	TransferAdmin(ctx context.Context, caller Identity, newAdmin Identity) (*Receipt, error)

	// Admin returns the current admin.
	Admin(ctx context.Context) (Identity, error)

	// Institutions returns the record for identity, the zero record when absent.
	Institutions(ctx context.Context, identity Identity) (Institution, error)

	// Certificates returns the record for hash, the zero record when absent.
	Certificates(ctx context.Context, hash CertificateHash) (Certificate, error)

	// Policy returns the issuance policy the registry enforces.
	Policy() IssuancePolicy

	// Events returns emitted events in order, starting at fromBlock.
	Events(ctx context.Context, fromBlock uint64) ([]Event, error)
}

// RegistryFactory creates registry clients for deployed contracts.
type RegistryFactory interface {
	RegistryFor(address Identity) (CertificateRegistry, error)
}

// EventSink receives registry events in emission order.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}
