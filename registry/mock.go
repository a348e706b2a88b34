package registry

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ruteri/certificate-registry/interfaces"
)

// MockRegistry mocks the CertificateRegistry interface
type MockRegistry struct {
	mock.Mock
}

func receiptArg(args mock.Arguments) (*interfaces.Receipt, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Receipt), args.Error(1)
}

// RegisterInstitution mocks the RegisterInstitution method
func (m *MockRegistry) RegisterInstitution(ctx context.Context, caller interfaces.Identity, name, registrationNumber, responsible string) (*interfaces.Receipt, error) {
	return receiptArg(m.Called(ctx, caller, name, registrationNumber, responsible))
}

// VerifyInstitution mocks the VerifyInstitution method
func (m *MockRegistry) VerifyInstitution(ctx context.Context, caller interfaces.Identity, institution interfaces.Identity) (*interfaces.Receipt, error) {
	return receiptArg(m.Called(ctx, caller, institution))
}

// RegisterCertificate mocks the RegisterCertificate method
func (m *MockRegistry) RegisterCertificate(ctx context.Context, caller interfaces.Identity, hash interfaces.CertificateHash, studentName string, issueDate uint64) (*interfaces.Receipt, error) {
	return receiptArg(m.Called(ctx, caller, hash, studentName, issueDate))
}

// GetCertificate mocks the GetCertificate method
func (m *MockRegistry) GetCertificate(ctx context.Context, hash interfaces.CertificateHash) (interfaces.Certificate, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(interfaces.Certificate), args.Error(1)
}

// TransferAdmin mocks the TransferAdmin method
func (m *MockRegistry) TransferAdmin(ctx context.Context, caller interfaces.Identity, newAdmin interfaces.Identity) (*interfaces.Receipt, error) {
	return receiptArg(m.Called(ctx, caller, newAdmin))
}

// Admin mocks the Admin method
func (m *MockRegistry) Admin(ctx context.Context) (interfaces.Identity, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.Identity), args.Error(1)
}

// Institutions mocks the Institutions method
func (m *MockRegistry) Institutions(ctx context.Context, identity interfaces.Identity) (interfaces.Institution, error) {
	args := m.Called(ctx, identity)
	return args.Get(0).(interfaces.Institution), args.Error(1)
}

// Certificates mocks the Certificates method
func (m *MockRegistry) Certificates(ctx context.Context, hash interfaces.CertificateHash) (interfaces.Certificate, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(interfaces.Certificate), args.Error(1)
}

// Policy mocks the Policy method
func (m *MockRegistry) Policy() interfaces.IssuancePolicy {
	args := m.Called()
	return args.Get(0).(interfaces.IssuancePolicy)
}

// Events mocks the Events method
func (m *MockRegistry) Events(ctx context.Context, fromBlock uint64) ([]interfaces.Event, error) {
	args := m.Called(ctx, fromBlock)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Event), args.Error(1)
}

var (
	_ interfaces.CertificateRegistry = (*MockRegistry)(nil)
	_ interfaces.CertificateRegistry = (*Ledger)(nil)
	_ interfaces.CertificateRegistry = (*OnchainRegistryClient)(nil)
	_ interfaces.RegistryFactory     = (*RegistryFactory)(nil)
)
