// Package registry implements the certificate registry state machine.
//
// Two implementations of interfaces.CertificateRegistry are provided:
//
//   - Ledger keeps the admin, institution and certificate tables in memory and
//     serializes every operation behind a single mutex. Events are journaled
//     and forwarded to an optional interfaces.EventSink.
//   - OnchainRegistryClient talks to the registry contract through go-ethereum
//     bindings built from the embedded ABI. Contract reverts are mapped onto
//     the interfaces error taxonomy.
//
// Both enforce the same validation order: for certificate registration the
// issuance gate (ErrNotRegistered, ErrNotVerified) is checked before the
// arguments (ErrInvalidHash, ErrInvalidName, ErrInvalidDate) and the
// uniqueness guard (ErrDuplicateCertificate).
//
// # Transaction Operations
//
// The contract authenticates callers by transaction sender. Before a write can
// be performed on behalf of an identity, SetTransactOpts must be called with a
// transactor for that identity; otherwise ErrNoTransactOpts is returned.
//
// Read-only operations do not require transaction options and can be used
// immediately after creating a client instance.
package registry
