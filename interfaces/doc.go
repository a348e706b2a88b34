// Package interfaces defines the core types and interfaces of the certificate
// registry, separating contracts between components from their implementations.
//
// # Registry
//
// CertificateRegistry is the registry state machine: a singleton admin,
// institutions keyed by Identity and certificates keyed by CertificateHash.
// It is implemented in-process by registry.Ledger and against the deployed
// contract by registry.OnchainRegistryClient.
//
// IssuancePolicy selects whether any caller may register certificates
// (OpenIssuance) or only admin-verified institutions (VerifiedIssuance).
//
// # Events
//
// Writes emit Events (InstitutionRegistered, InstitutionVerified,
// CertificateRegistered, AdminTransferred) which are returned in a Receipt
// and forwarded to EventSinks.
//
// # Storage
//
//   - StorageBackend: content-addressed storage for certificate documents
//   - StorageBackendFactory: creates storage backends from URI strings
//   - RecordStore: relay records keyed by certificate hash
//
// # Errors
//
// Registry operations fail with ErrUnauthorized, ErrAlreadyRegistered,
// ErrDuplicateCertificate, ErrNotRegistered, ErrNotFound, ErrNotVerified,
// ErrInvalidHash, ErrInvalidName, ErrInvalidDate or ErrInvalidIdentity.
// ErrorCode maps any error to a short code for metrics and API responses.
package interfaces
