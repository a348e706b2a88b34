package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/certificate-registry/api"
	"github.com/ruteri/certificate-registry/auth"
	"github.com/ruteri/certificate-registry/interfaces"
	"github.com/ruteri/certificate-registry/recordstore"
	"github.com/ruteri/certificate-registry/registry"
	"github.com/ruteri/certificate-registry/storage"
)

func newMockEnv(t *testing.T, reg *registry.MockRegistry) *testEnv {
	t.Helper()

	documents, err := storage.NewFileBackend(t.TempDir(), discardLogger)
	require.NoError(t, err)
	records := recordstore.NewMemory()

	handler := NewHandler(reg, documents, records,
		auth.NewVerifier(auth.DefaultMaxSkew, auth.NewMemoryReplayGuard()), discardLogger)
	server, err := New(&HTTPServerConfig{Log: discardLogger}, handler)
	require.NoError(t, err)

	return &testEnv{
		t:        t,
		server:   server,
		records:  records,
		admin:    newKey(t),
		signedAt: time.Now().Add(-time.Minute),
	}
}

func TestRegisterCertificate_NoTransactor(t *testing.T) {
	reg := new(registry.MockRegistry)
	env := newMockEnv(t, reg)
	issuer := newKey(t)
	hash := interfaces.ComputeCertificateHash(pdfDocument)

	reg.On("RegisterCertificate", mock.Anything, identityOf(issuer), hash, "Alice", uint64(1700000000)).
		Return(nil, registry.ErrNoTransactOpts)

	w := env.registerCertificate(issuer, certificateFields("Alice", 1700000000), "diploma.pdf", pdfDocument)
	requireError(t, w, http.StatusForbidden, "no_transactor")

	_, err := env.records.RecordByHash(context.Background(), hash)
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
	reg.AssertExpectations(t)
}

func TestRegisterCertificate_RecordFailureIsNotFatal(t *testing.T) {
	reg := new(registry.MockRegistry)
	env := newMockEnv(t, reg)
	issuer := newKey(t)
	hash := interfaces.ComputeCertificateHash(pdfDocument)

	// a stale record left by an earlier relay run
	require.NoError(t, env.records.SaveRecord(context.Background(), interfaces.CertificateRecord{Hash: hash, StudentName: "Old"}))

	receipt := &interfaces.Receipt{
		TxHash: common.HexToHash("0xabc"),
		Block:  17,
		Events: []interfaces.Event{{Kind: interfaces.CertificateRegistered, Block: 17, CertificateHash: hash, Issuer: identityOf(issuer)}},
	}
	reg.On("RegisterCertificate", mock.Anything, identityOf(issuer), hash, "Alice", uint64(1700000000)).Return(receipt, nil)

	w := env.registerCertificate(issuer, certificateFields("Alice", 1700000000), "diploma.pdf", pdfDocument)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.TransactionResponse](t, w)
	assert.Equal(t, receipt.TxHash, resp.TransactionHash)
	assert.Equal(t, uint64(17), resp.Block)

	record, err := env.records.RecordByHash(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, "Old", record.StudentName)
	reg.AssertExpectations(t)
}

func TestHandleEvents_RegistryFailure(t *testing.T) {
	reg := new(registry.MockRegistry)
	env := newMockEnv(t, reg)
	reg.On("Events", mock.Anything, uint64(5)).Return(nil, errors.New("node unreachable"))

	requireError(t, env.get("/api/events?from=5"), http.StatusInternalServerError, "internal")
	reg.AssertExpectations(t)
}

func TestGetCertificate_WithoutRecord(t *testing.T) {
	reg := new(registry.MockRegistry)
	env := newMockEnv(t, reg)
	hash := interfaces.CertificateHash{0x42}
	cert := interfaces.Certificate{StudentName: "Carol", IssueDate: 1600000000, Issuer: interfaces.Identity{0x07}}
	reg.On("GetCertificate", mock.Anything, hash).Return(cert, nil)

	w := env.get("/api/certificates/" + hash.String())
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[api.CertificateResponse](t, w)
	assert.Equal(t, cert, resp.Certificate)
	assert.Nil(t, resp.Record)
}
