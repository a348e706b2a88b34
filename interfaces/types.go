// Package interfaces defines the core interfaces and types for the certificate registry.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a 20-byte account address: an institution, an issuer or the admin.
type Identity [20]byte

// NewIdentityFromBytes creates an identity from a 20-byte slice.
func NewIdentityFromBytes(addr []byte) (Identity, error) {
	if len(addr) != 20 {
		return Identity{}, fmt.Errorf("%w: expected 20 bytes, got %d", ErrInvalidIdentity, len(addr))
	}

	var id Identity
	copy(id[:], addr)
	return id, nil
}

// NewIdentityFromHex parses a 40-character hex address, with or without the 0x prefix.
func NewIdentityFromHex(s string) (Identity, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(clean) != 40 {
		return Identity{}, fmt.Errorf("%w: hex address must be 40 characters", ErrInvalidIdentity)
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return NewIdentityFromBytes(raw)
}

// IsZero reports whether the identity is the zero address.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Address converts the identity into a go-ethereum address.
func (id Identity) Address() common.Address {
	return common.Address(id)
}

// String returns the EIP-55 checksummed hex form.
func (id Identity) String() string {
	return common.Address(id).Hex()
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := NewIdentityFromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// CertificateHash is the 32-byte content hash a certificate is registered under.
type CertificateHash [32]byte

// NewCertificateHashFromHex parses a 64-character hex hash, with or without the 0x prefix.
func NewCertificateHashFromHex(s string) (CertificateHash, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(clean) != 64 {
		return CertificateHash{}, fmt.Errorf("%w: hex hash must be 64 characters", ErrInvalidHash)
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return CertificateHash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}

	var h CertificateHash
	copy(h[:], raw)
	return h, nil
}

// ComputeCertificateHash returns the keccak256 hash of a certificate document.
func ComputeCertificateHash(document []byte) CertificateHash {
	return CertificateHash(crypto.Keccak256Hash(document))
}

// IsZero reports whether the hash is all zero bytes.
func (h CertificateHash) IsZero() bool {
	return h == CertificateHash{}
}

// String returns the 0x-prefixed hex form.
func (h CertificateHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h CertificateHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *CertificateHash) UnmarshalText(text []byte) error {
	parsed, err := NewCertificateHashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Institution is the record kept for a registered identity.
type Institution struct {
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number"`
	Responsible        string `json:"responsible"`
	Verified           bool   `json:"verified"`
}

// Registered reports whether the record describes a registered institution.
// Registration requires a non-empty name, so the zero record is never registered.
func (i Institution) Registered() bool {
	return i.Name != ""
}

// Certificate is the immutable record bound to a certificate hash.
type Certificate struct {
	StudentName string   `json:"student_name"`
	IssueDate   uint64   `json:"issue_date"`
	Issuer      Identity `json:"issuer"`
}

// Exists reports whether the record describes a registered certificate.
func (c Certificate) Exists() bool {
	return !c.Issuer.IsZero()
}

// IssuancePolicy selects who may register certificates.
type IssuancePolicy int

const (
	// VerifiedIssuance restricts registration to registered, admin-verified institutions.
	VerifiedIssuance IssuancePolicy = iota
	// OpenIssuance lets any caller register certificates.
	OpenIssuance
)

func (p IssuancePolicy) String() string {
	switch p {
	case OpenIssuance:
		return "open"
	case VerifiedIssuance:
		return "verified"
	default:
		return "unknown"
	}
}

// ParseIssuancePolicy parses "open" or "verified". The empty string selects VerifiedIssuance.
func ParseIssuancePolicy(s string) (IssuancePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "verified":
		return VerifiedIssuance, nil
	case "open":
		return OpenIssuance, nil
	default:
		return 0, errors.New("unknown issuance policy: " + s)
	}
}
