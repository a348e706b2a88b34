package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ruteri/certificate-registry/interfaces"
)

// ErrNoTransactOpts is returned when a transaction is attempted for a caller without a registered transactor.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

// OnchainRegistryClient implements interfaces.CertificateRegistry against the
// registry contract deployed on a blockchain.
//
// The contract authenticates callers by transaction sender, so every write is
// signed by the transactor registered for the caller identity.
type OnchainRegistryClient struct {
	contract *bind.BoundContract
	abi      abi.ABI
	client   bind.ContractBackend
	backend  bind.DeployBackend
	address  common.Address
	policy   interfaces.IssuancePolicy
	log      *slog.Logger

	// confirmTimeout bounds the wait for a transaction to be mined; zero waits
	// as long as the request context allows.
	confirmTimeout time.Duration

	mu          sync.RWMutex
	transactors map[common.Address]*bind.TransactOpts
}

// NewOnchainRegistryClient creates a new client for interacting with the registry contract
// at the specified address. It requires a ContractBackend for reading from the blockchain
// and a DeployBackend for waiting on transactions.
func NewOnchainRegistryClient(client bind.ContractBackend, backend bind.DeployBackend, address common.Address, policy interfaces.IssuancePolicy, log *slog.Logger) (*OnchainRegistryClient, error) {
	parsed, err := ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &OnchainRegistryClient{
		contract:    bind.NewBoundContract(address, parsed, client, client, client),
		abi:         parsed,
		client:      client,
		backend:     backend,
		address:     address,
		policy:      policy,
		log:         log,
		transactors: make(map[common.Address]*bind.TransactOpts),
	}, nil
}

// SetTransactOpts registers the transactor used for writes by auth.From.
func (c *OnchainRegistryClient) SetTransactOpts(auth *bind.TransactOpts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactors[auth.From] = auth
}

// SetConfirmTimeout bounds how long writes wait for their transaction to be mined.
func (c *OnchainRegistryClient) SetConfirmTimeout(d time.Duration) {
	c.confirmTimeout = d
}

// Address returns the contract address.
func (c *OnchainRegistryClient) Address() common.Address {
	return c.address
}

func (c *OnchainRegistryClient) RegisterInstitution(ctx context.Context, caller interfaces.Identity, name, registrationNumber, responsible string) (*interfaces.Receipt, error) {
	return c.transact(ctx, caller, "registerInstitution", name, registrationNumber, responsible)
}

func (c *OnchainRegistryClient) VerifyInstitution(ctx context.Context, caller interfaces.Identity, institution interfaces.Identity) (*interfaces.Receipt, error) {
	return c.transact(ctx, caller, "verifyInstitution", institution.Address())
}

func (c *OnchainRegistryClient) RegisterCertificate(ctx context.Context, caller interfaces.Identity, hash interfaces.CertificateHash, studentName string, issueDate uint64) (*interfaces.Receipt, error) {
	return c.transact(ctx, caller, "registerCertificate", [32]byte(hash), studentName, new(big.Int).SetUint64(issueDate))
}

func (c *OnchainRegistryClient) TransferAdmin(ctx context.Context, caller interfaces.Identity, newAdmin interfaces.Identity) (*interfaces.Receipt, error) {
	return c.transact(ctx, caller, "transferAdmin", newAdmin.Address())
}

// GetCertificate calls the contract getter, which reverts for unknown hashes.
func (c *OnchainRegistryClient) GetCertificate(ctx context.Context, hash interfaces.CertificateHash) (interfaces.Certificate, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCertificate", [32]byte(hash)); err != nil {
		return interfaces.Certificate{}, mapContractError(err)
	}
	return certificateFromOutputs(out)
}

func (c *OnchainRegistryClient) Admin(ctx context.Context) (interfaces.Identity, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "admin"); err != nil {
		return interfaces.Identity{}, err
	}
	admin := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	return interfaces.Identity(admin), nil
}

func (c *OnchainRegistryClient) Institutions(ctx context.Context, identity interfaces.Identity) (interfaces.Institution, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "institutions", identity.Address()); err != nil {
		return interfaces.Institution{}, err
	}
	if len(out) != 4 {
		return interfaces.Institution{}, fmt.Errorf("unexpected institutions output length %d", len(out))
	}

	return interfaces.Institution{
		Name:               *abi.ConvertType(out[0], new(string)).(*string),
		RegistrationNumber: *abi.ConvertType(out[1], new(string)).(*string),
		Responsible:        *abi.ConvertType(out[2], new(string)).(*string),
		Verified:           *abi.ConvertType(out[3], new(bool)).(*bool),
	}, nil
}

func (c *OnchainRegistryClient) Certificates(ctx context.Context, hash interfaces.CertificateHash) (interfaces.Certificate, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "certificates", [32]byte(hash)); err != nil {
		return interfaces.Certificate{}, err
	}
	return certificateFromOutputs(out)
}

func (c *OnchainRegistryClient) Policy() interfaces.IssuancePolicy {
	return c.policy
}

// Events returns the registry events logged by the contract from fromBlock onwards.
func (c *OnchainRegistryClient) Events(ctx context.Context, fromBlock uint64) ([]interfaces.Event, error) {
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.address},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter registry logs: %w", err)
	}

	ptrs := make([]*types.Log, len(logs))
	for i := range logs {
		ptrs[i] = &logs[i]
	}
	return c.decodeLogs(ptrs)
}

func (c *OnchainRegistryClient) transactorFor(caller interfaces.Identity) (*bind.TransactOpts, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	auth, ok := c.transactors[caller.Address()]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoTransactOpts, caller)
	}
	return auth, nil
}

// transact sends a contract transaction signed for caller, waits until it is
// mined and decodes the registry events it emitted.
func (c *OnchainRegistryClient) transact(ctx context.Context, caller interfaces.Identity, method string, params ...interface{}) (*interfaces.Receipt, error) {
	auth, err := c.transactorFor(caller)
	if err != nil {
		return nil, err
	}

	opts := *auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, mapContractError(err)
	}

	c.log.Debug("Registry transaction sent",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.String("from", caller.String()))

	waitCtx := ctx
	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s transaction %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s transaction %s reverted", method, tx.Hash().Hex())
	}

	events, err := c.decodeLogs(receipt.Logs)
	if err != nil {
		return nil, err
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	return &interfaces.Receipt{
		TxHash: tx.Hash(),
		Block:  block,
		Events: events,
	}, nil
}

type institutionRegisteredLog struct {
	Institution common.Address
	Name        string
}

type institutionVerifiedLog struct {
	Institution common.Address
	Verified    bool
}

type certificateRegisteredLog struct {
	CertificateHash [32]byte
	Issuer          common.Address
}

type adminTransferredLog struct {
	OldAdmin common.Address
	NewAdmin common.Address
}

// decodeLogs converts contract logs into registry events. Logs from other
// contracts or with unknown signatures are skipped.
func (c *OnchainRegistryClient) decodeLogs(logs []*types.Log) ([]interfaces.Event, error) {
	events := make([]interfaces.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Address != c.address || len(lg.Topics) == 0 {
			continue
		}
		abiEvent, err := c.abi.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}

		ev := interfaces.Event{
			Kind:   interfaces.EventKind(abiEvent.Name),
			Block:  lg.BlockNumber,
			Index:  lg.Index,
			TxHash: lg.TxHash,
		}

		switch ev.Kind {
		case interfaces.InstitutionRegistered:
			var out institutionRegisteredLog
			err = c.contract.UnpackLog(&out, abiEvent.Name, *lg)
			ev.Subject, ev.Name = interfaces.Identity(out.Institution), out.Name
		case interfaces.InstitutionVerified:
			var out institutionVerifiedLog
			err = c.contract.UnpackLog(&out, abiEvent.Name, *lg)
			ev.Subject, ev.Verified = interfaces.Identity(out.Institution), out.Verified
		case interfaces.CertificateRegistered:
			var out certificateRegisteredLog
			err = c.contract.UnpackLog(&out, abiEvent.Name, *lg)
			ev.CertificateHash, ev.Issuer = interfaces.CertificateHash(out.CertificateHash), interfaces.Identity(out.Issuer)
		case interfaces.AdminTransferred:
			var out adminTransferredLog
			err = c.contract.UnpackLog(&out, abiEvent.Name, *lg)
			ev.OldAdmin, ev.NewAdmin = interfaces.Identity(out.OldAdmin), interfaces.Identity(out.NewAdmin)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s log: %w", abiEvent.Name, err)
		}

		events = append(events, ev)
	}
	return events, nil
}

func certificateFromOutputs(out []interface{}) (interfaces.Certificate, error) {
	if len(out) != 3 {
		return interfaces.Certificate{}, fmt.Errorf("unexpected certificate output length %d", len(out))
	}

	issueDate := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	if !issueDate.IsUint64() {
		return interfaces.Certificate{}, fmt.Errorf("issue date %s overflows uint64", issueDate)
	}

	return interfaces.Certificate{
		StudentName: *abi.ConvertType(out[0], new(string)).(*string),
		IssueDate:   issueDate.Uint64(),
		Issuer:      interfaces.Identity(*abi.ConvertType(out[2], new(common.Address)).(*common.Address)),
	}, nil
}

// RegistryFactory creates OnchainRegistryClient instances for contract addresses,
// sharing backends and transactors between them.
type RegistryFactory struct {
	client  bind.ContractBackend
	backend bind.DeployBackend
	policy  interfaces.IssuancePolicy
	log     *slog.Logger

	confirmTimeout time.Duration
	transactors    []*bind.TransactOpts
}

// NewRegistryFactory creates a new factory using the given backends.
func NewRegistryFactory(client bind.ContractBackend, backend bind.DeployBackend, policy interfaces.IssuancePolicy, log *slog.Logger) *RegistryFactory {
	return &RegistryFactory{
		client:  client,
		backend: backend,
		policy:  policy,
		log:     log,
	}
}

// AddTransactor registers a transactor installed on every client the factory creates.
func (f *RegistryFactory) AddTransactor(auth *bind.TransactOpts) {
	f.transactors = append(f.transactors, auth)
}

// SetConfirmTimeout is applied to every client the factory creates.
func (f *RegistryFactory) SetConfirmTimeout(d time.Duration) {
	f.confirmTimeout = d
}

// RegistryFor returns a registry client for the contract at address.
func (f *RegistryFactory) RegistryFor(address interfaces.Identity) (interfaces.CertificateRegistry, error) {
	c, err := NewOnchainRegistryClient(f.client, f.backend, address.Address(), f.policy, f.log)
	if err != nil {
		return nil, err
	}
	c.SetConfirmTimeout(f.confirmTimeout)
	for _, auth := range f.transactors {
		c.SetTransactOpts(auth)
	}
	return c, nil
}
