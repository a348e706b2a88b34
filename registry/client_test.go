package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/certificate-registry/interfaces"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")

// fakeChain is a minimal contract backend answering calls from canned outputs
// and mining every sent transaction immediately.
type fakeChain struct {
	bind.ContractBackend

	abi     abi.ABI
	outputs map[string][]interface{}
	callErr map[string]error
	sendErr error
	status  uint64
	logs    func(tx *types.Transaction) []*types.Log

	sent     []*types.Transaction
	filtered []types.Log
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	parsed, err := ParsedABI()
	require.NoError(t, err)
	return &fakeChain{
		abi:     parsed,
		outputs: make(map[string][]interface{}),
		callErr: make(map[string]error),
		status:  types.ReceiptStatusSuccessful,
	}
}

func (f *fakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if err := f.callErr[method.Name]; err != nil {
		return nil, err
	}
	return method.Outputs.Pack(f.outputs[method.Name]...)
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(7)}, nil
}

func (f *fakeChain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100000, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for _, tx := range f.sent {
		if tx.Hash() != txHash {
			continue
		}
		var logs []*types.Log
		if f.logs != nil {
			logs = f.logs(tx)
		}
		return &types.Receipt{
			Status:      f.status,
			TxHash:      txHash,
			BlockNumber: big.NewInt(7),
			Logs:        logs,
		}, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.filtered, nil
}

func (f *fakeChain) eventLog(t *testing.T, name string, topics []common.Hash, data ...interface{}) types.Log {
	t.Helper()
	ev := f.abi.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return types.Log{
		Address:     testContract,
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        packed,
		BlockNumber: 7,
	}
}

func newTestClient(t *testing.T, chain *fakeChain) (*OnchainRegistryClient, *bind.TransactOpts) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	require.NoError(t, err)
	auth.GasPrice = big.NewInt(1)
	auth.GasLimit = 300000

	c, err := NewOnchainRegistryClient(chain, chain, testContract, interfaces.VerifiedIssuance, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	c.SetTransactOpts(auth)
	return c, auth
}

func TestOnchainRegistryClient_Reads(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(t)
	c, _ := newTestClient(t, chain)

	issuer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	chain.outputs["admin"] = []interface{}{common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")}
	chain.outputs["institutions"] = []interface{}{"ABC", "123", "X", true}
	chain.outputs["certificates"] = []interface{}{"", big.NewInt(0), common.Address{}}
	chain.outputs["getCertificate"] = []interface{}{"Bob", big.NewInt(1000), issuer}

	admin, err := c.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Identity(common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")), admin)

	inst, err := c.Institutions(ctx, interfaces.Identity(issuer))
	require.NoError(t, err)
	assert.Equal(t, interfaces.Institution{Name: "ABC", RegistrationNumber: "123", Responsible: "X", Verified: true}, inst)

	absent, err := c.Certificates(ctx, hashH)
	require.NoError(t, err)
	assert.False(t, absent.Exists())

	cert, err := c.GetCertificate(ctx, hashH)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Certificate{StudentName: "Bob", IssueDate: 1000, Issuer: interfaces.Identity(issuer)}, cert)

	assert.Equal(t, interfaces.VerifiedIssuance, c.Policy())
}

func TestOnchainRegistryClient_GetCertificateNotFound(t *testing.T) {
	chain := newFakeChain(t)
	c, _ := newTestClient(t, chain)
	chain.callErr["getCertificate"] = errors.New("execution reverted: Certificado nao encontrado.")

	_, err := c.GetCertificate(context.Background(), hashH)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestOnchainRegistryClient_RegisterCertificate(t *testing.T) {
	chain := newFakeChain(t)
	c, auth := newTestClient(t, chain)

	chain.logs = func(tx *types.Transaction) []*types.Log {
		lg := chain.eventLog(t, "CertificateRegistered", []common.Hash{
			common.Hash(hashH),
			common.BytesToHash(auth.From.Bytes()),
		})
		lg.TxHash = tx.Hash()
		return []*types.Log{&lg}
	}

	receipt, err := c.RegisterCertificate(context.Background(), interfaces.Identity(auth.From), hashH, "Bob", 1000)
	require.NoError(t, err)
	require.Len(t, chain.sent, 1)

	tx := chain.sent[0]
	assert.Equal(t, testContract, *tx.To())
	method, err := chain.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "registerCertificate", method.Name)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, [32]byte(hashH), args[0])
	assert.Equal(t, "Bob", args[1])
	assert.Equal(t, uint64(1000), args[2].(*big.Int).Uint64())

	assert.Equal(t, tx.Hash(), receipt.TxHash)
	assert.Equal(t, uint64(7), receipt.Block)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, interfaces.Event{
		Kind:            interfaces.CertificateRegistered,
		Block:           7,
		TxHash:          tx.Hash(),
		CertificateHash: hashH,
		Issuer:          interfaces.Identity(auth.From),
	}, receipt.Events[0])
}

func TestOnchainRegistryClient_RegisterInstitutionEvent(t *testing.T) {
	chain := newFakeChain(t)
	c, auth := newTestClient(t, chain)

	chain.logs = func(tx *types.Transaction) []*types.Log {
		lg := chain.eventLog(t, "InstitutionRegistered", []common.Hash{common.BytesToHash(auth.From.Bytes())}, "ABC")
		return []*types.Log{&lg}
	}

	receipt, err := c.RegisterInstitution(context.Background(), interfaces.Identity(auth.From), "ABC", "123", "X")
	require.NoError(t, err)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, interfaces.InstitutionRegistered, receipt.Events[0].Kind)
	assert.Equal(t, interfaces.Identity(auth.From), receipt.Events[0].Subject)
	assert.Equal(t, "ABC", receipt.Events[0].Name)
}

func TestOnchainRegistryClient_WriteErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no transactor for caller", func(t *testing.T) {
		chain := newFakeChain(t)
		c, _ := newTestClient(t, chain)
		_, err := c.VerifyInstitution(ctx, instJ, instI)
		assert.ErrorIs(t, err, ErrNoTransactOpts)
		assert.Empty(t, chain.sent)
	})

	t.Run("revert maps to registry error", func(t *testing.T) {
		chain := newFakeChain(t)
		c, auth := newTestClient(t, chain)
		chain.sendErr = errors.New("execution reverted: Apenas o administrador pode executar esta funcao.")
		_, err := c.TransferAdmin(ctx, interfaces.Identity(auth.From), instJ)
		assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	})

	t.Run("failed receipt", func(t *testing.T) {
		chain := newFakeChain(t)
		c, auth := newTestClient(t, chain)
		chain.status = types.ReceiptStatusFailed
		_, err := c.RegisterInstitution(ctx, interfaces.Identity(auth.From), "ABC", "123", "X")
		assert.ErrorContains(t, err, "reverted")
	})
}

func TestOnchainRegistryClient_Events(t *testing.T) {
	chain := newFakeChain(t)
	c, _ := newTestClient(t, chain)

	verified := chain.eventLog(t, "InstitutionVerified", []common.Hash{common.BytesToHash(instI[:])}, true)
	transferred := chain.eventLog(t, "AdminTransferred", []common.Hash{
		common.BytesToHash(adminA[:]),
		common.BytesToHash(instJ[:]),
	})
	transferred.Index = 1
	foreign := chain.eventLog(t, "InstitutionVerified", []common.Hash{common.BytesToHash(instJ[:])}, true)
	foreign.Address = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	chain.filtered = []types.Log{verified, foreign, transferred}

	events, err := c.Events(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, interfaces.InstitutionVerified, events[0].Kind)
	assert.Equal(t, instI, events[0].Subject)
	assert.True(t, events[0].Verified)

	assert.Equal(t, interfaces.AdminTransferred, events[1].Kind)
	assert.Equal(t, adminA, events[1].OldAdmin)
	assert.Equal(t, instJ, events[1].NewAdmin)
	assert.Equal(t, uint(1), events[1].Index)
}

type revertDataError struct {
	data string
}

func (e revertDataError) Error() string          { return "execution reverted" }
func (e revertDataError) ErrorData() interface{} { return e.data }

func TestMapContractError(t *testing.T) {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	payload, err := abi.Arguments{{Type: stringType}}.Pack("Certificado ja registrado.")
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	data := hexutil.Encode(append(selector, payload...))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rpc revert data", revertDataError{data: data}, interfaces.ErrDuplicateCertificate},
		{"hash", errors.New("execution reverted: Hash do certificado invalido."), interfaces.ErrInvalidHash},
		{"name", errors.New("execution reverted: Nome do aluno e obrigatorio."), interfaces.ErrInvalidName},
		{"date", errors.New("execution reverted: Data de emissao invalida."), interfaces.ErrInvalidDate},
		{"admin address", errors.New("execution reverted: Endereco invalido para o novo admin."), interfaces.ErrInvalidIdentity},
		{"not verified", errors.New("execution reverted: Instituicao nao verificada."), interfaces.ErrNotVerified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapContractError(tt.err), tt.want)
		})
	}

	plain := errors.New("connection refused")
	assert.Equal(t, plain, mapContractError(plain))
	assert.NoError(t, mapContractError(nil))
}

func TestRegistryFactory(t *testing.T) {
	chain := newFakeChain(t)
	f := NewRegistryFactory(chain, chain, interfaces.OpenIssuance, slog.New(slog.NewTextHandler(io.Discard, nil)))

	f.SetConfirmTimeout(time.Minute)

	reg, err := f.RegistryFor(interfaces.Identity(testContract))
	require.NoError(t, err)
	assert.Equal(t, interfaces.OpenIssuance, reg.Policy())
	assert.Equal(t, testContract, reg.(*OnchainRegistryClient).Address())
	assert.Equal(t, time.Minute, reg.(*OnchainRegistryClient).confirmTimeout)
}
