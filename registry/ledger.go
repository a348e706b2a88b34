package registry

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/certificate-registry/interfaces"
)

// Ledger is an in-process CertificateRegistry. A single mutex serializes all
// operations, so each one observes the state left by the previous one and
// no reader sees a partial write.
//
// Every applied write is assigned the next block number and a transaction hash
// derived from (block, caller, operation). Its events are appended to the
// journal and forwarded to the event sink before the lock is released.
type Ledger struct {
	mu sync.Mutex

	admin        interfaces.Identity
	policy       interfaces.IssuancePolicy
	institutions map[interfaces.Identity]interfaces.Institution
	certificates map[interfaces.CertificateHash]interfaces.Certificate

	block   uint64
	journal []interfaces.Event

	sink interfaces.EventSink
	log  *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithEventSink forwards every emitted event to sink.
func WithEventSink(sink interfaces.EventSink) LedgerOption {
	return func(l *Ledger) {
		l.sink = sink
	}
}

// WithLogger sets the ledger logger.
func WithLogger(log *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.log = log
	}
}

// NewLedger creates a registry whose admin is the creator.
func NewLedger(admin interfaces.Identity, policy interfaces.IssuancePolicy, opts ...LedgerOption) (*Ledger, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("initial admin: %w", interfaces.ErrInvalidIdentity)
	}

	l := &Ledger{
		admin:        admin,
		policy:       policy,
		institutions: make(map[interfaces.Identity]interfaces.Institution),
		certificates: make(map[interfaces.CertificateHash]interfaces.Certificate),
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) RegisterInstitution(ctx context.Context, caller interfaces.Identity, name, registrationNumber, responsible string) (*interfaces.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller.IsZero() {
		return nil, interfaces.ErrInvalidIdentity
	}
	if l.institutions[caller].Registered() {
		return nil, interfaces.ErrAlreadyRegistered
	}
	if name == "" {
		return nil, interfaces.ErrInvalidName
	}

	l.institutions[caller] = interfaces.Institution{
		Name:               name,
		RegistrationNumber: registrationNumber,
		Responsible:        responsible,
	}

	l.log.Info("Institution registered",
		slog.String("institution", caller.String()),
		slog.String("name", name))

	return l.commit(ctx, caller, "registerInstitution", interfaces.Event{
		Kind:    interfaces.InstitutionRegistered,
		Subject: caller,
		Name:    name,
	}), nil
}

func (l *Ledger) VerifyInstitution(ctx context.Context, caller interfaces.Identity, institution interfaces.Identity) (*interfaces.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return nil, interfaces.ErrUnauthorized
	}
	record, ok := l.institutions[institution]
	if !ok || !record.Registered() {
		return nil, interfaces.ErrNotRegistered
	}

	record.Verified = true
	l.institutions[institution] = record

	l.log.Info("Institution verified", slog.String("institution", institution.String()))

	return l.commit(ctx, caller, "verifyInstitution", interfaces.Event{
		Kind:     interfaces.InstitutionVerified,
		Subject:  institution,
		Verified: true,
	}), nil
}

func (l *Ledger) RegisterCertificate(ctx context.Context, caller interfaces.Identity, hash interfaces.CertificateHash, studentName string, issueDate uint64) (*interfaces.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.policy == interfaces.VerifiedIssuance {
		issuer := l.institutions[caller]
		if !issuer.Registered() {
			return nil, interfaces.ErrNotRegistered
		}
		if !issuer.Verified {
			return nil, interfaces.ErrNotVerified
		}
	} else if caller.IsZero() {
		return nil, interfaces.ErrInvalidIdentity
	}
	if err := validateCertificate(hash, studentName, issueDate); err != nil {
		return nil, err
	}
	if _, ok := l.certificates[hash]; ok {
		return nil, interfaces.ErrDuplicateCertificate
	}

	l.certificates[hash] = interfaces.Certificate{
		StudentName: studentName,
		IssueDate:   issueDate,
		Issuer:      caller,
	}

	l.log.Info("Certificate registered",
		slog.String("hash", hash.String()),
		slog.String("issuer", caller.String()))

	return l.commit(ctx, caller, "registerCertificate", interfaces.Event{
		Kind:            interfaces.CertificateRegistered,
		CertificateHash: hash,
		Issuer:          caller,
	}), nil
}

func (l *Ledger) GetCertificate(ctx context.Context, hash interfaces.CertificateHash) (interfaces.Certificate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cert, ok := l.certificates[hash]
	if !ok {
		return interfaces.Certificate{}, interfaces.ErrNotFound
	}
	return cert, nil
}

func (l *Ledger) TransferAdmin(ctx context.Context, caller interfaces.Identity, newAdmin interfaces.Identity) (*interfaces.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.admin {
		return nil, interfaces.ErrUnauthorized
	}
	if newAdmin.IsZero() {
		return nil, interfaces.ErrInvalidIdentity
	}

	old := l.admin
	l.admin = newAdmin

	l.log.Info("Admin transferred",
		slog.String("old", old.String()),
		slog.String("new", newAdmin.String()))

	return l.commit(ctx, caller, "transferAdmin", interfaces.Event{
		Kind:     interfaces.AdminTransferred,
		OldAdmin: old,
		NewAdmin: newAdmin,
	}), nil
}

func (l *Ledger) Admin(ctx context.Context) (interfaces.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admin, nil
}

func (l *Ledger) Institutions(ctx context.Context, identity interfaces.Identity) (interfaces.Institution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.institutions[identity], nil
}

func (l *Ledger) Certificates(ctx context.Context, hash interfaces.CertificateHash) (interfaces.Certificate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.certificates[hash], nil
}

func (l *Ledger) Policy() interfaces.IssuancePolicy {
	return l.policy
}

func (l *Ledger) Events(ctx context.Context, fromBlock uint64) ([]interfaces.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]interfaces.Event, 0, len(l.journal))
	for _, ev := range l.journal {
		if ev.Block >= fromBlock {
			events = append(events, ev)
		}
	}
	return events, nil
}

// commit assigns the next block to an applied write, journals its events and
// forwards them to the sink. Must be called with l.mu held.
func (l *Ledger) commit(ctx context.Context, caller interfaces.Identity, operation string, events ...interfaces.Event) *interfaces.Receipt {
	l.block++
	txHash := ledgerTxHash(l.block, caller, operation)

	for i := range events {
		events[i].Block = l.block
		events[i].Index = uint(len(l.journal))
		events[i].TxHash = txHash
		l.journal = append(l.journal, events[i])
	}

	if l.sink != nil {
		for _, ev := range events {
			if err := l.sink.Publish(ctx, ev); err != nil {
				l.log.Error("Failed to publish event",
					slog.String("kind", string(ev.Kind)),
					slog.Uint64("block", ev.Block),
					"err", err)
			}
		}
	}

	return &interfaces.Receipt{
		TxHash: txHash,
		Block:  l.block,
		Events: events,
	}
}

func ledgerTxHash(block uint64, caller interfaces.Identity, operation string) common.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], block)
	return crypto.Keccak256Hash(b[:], caller[:], []byte(operation))
}

// validateCertificate checks the certificate arguments in the order the
// registry reports them.
func validateCertificate(hash interfaces.CertificateHash, studentName string, issueDate uint64) error {
	if hash.IsZero() {
		return interfaces.ErrInvalidHash
	}
	if studentName == "" {
		return interfaces.ErrInvalidName
	}
	if issueDate == 0 {
		return interfaces.ErrInvalidDate
	}
	return nil
}
