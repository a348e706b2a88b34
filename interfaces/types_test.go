package interfaces

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentityFromHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"with prefix", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"without prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"too short", "0x1234", true},
		{"not hex", "0xzzAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewIdentityFromHex(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", id.String())
		})
	}
}

func TestCertificateHash(t *testing.T) {
	h := ComputeCertificateHash([]byte("diploma.pdf contents"))
	assert.False(t, h.IsZero())
	assert.True(t, CertificateHash{}.IsZero())

	parsed, err := NewCertificateHashFromHex(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = NewCertificateHashFromHex("0xabc")
	assert.ErrorIs(t, err, ErrInvalidHash)

	// keccak256("")
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", ComputeCertificateHash(nil).String())
}

func TestCertificateJSON(t *testing.T) {
	issuer, err := NewIdentityFromHex("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)

	data, err := json.Marshal(Certificate{StudentName: "Ana", IssueDate: 1700000000, Issuer: issuer})
	require.NoError(t, err)
	assert.JSONEq(t, `{"student_name":"Ana","issue_date":1700000000,"issuer":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`, string(data))
}

func TestParseIssuancePolicy(t *testing.T) {
	p, err := ParseIssuancePolicy("")
	require.NoError(t, err)
	assert.Equal(t, VerifiedIssuance, p)

	p, err = ParseIssuancePolicy("OPEN")
	require.NoError(t, err)
	assert.Equal(t, OpenIssuance, p)
	assert.Equal(t, "open", p.String())

	_, err = ParseIssuancePolicy("anyone")
	assert.Error(t, err)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "ok", ErrorCode(nil))
	assert.Equal(t, "not_verified", ErrorCode(fmt.Errorf("register certificate: %w", ErrNotVerified)))
	assert.Equal(t, "duplicate_certificate", ErrorCode(ErrDuplicateCertificate))
	assert.Equal(t, "internal", ErrorCode(fmt.Errorf("boom")))
}

func TestErrorForCode(t *testing.T) {
	assert.Equal(t, ErrNotVerified, ErrorForCode("not_verified"))
	assert.Equal(t, ErrRecordNotFound, ErrorForCode(ErrorCode(ErrRecordNotFound)))
	assert.Nil(t, ErrorForCode("internal"))
	assert.Nil(t, ErrorForCode(""))
}

func TestEventKey(t *testing.T) {
	subject := Identity{1}
	hash := CertificateHash{2}
	assert.Equal(t, subject.String(), Event{Kind: InstitutionVerified, Subject: subject}.Key())
	assert.Equal(t, hash.String(), Event{Kind: CertificateRegistered, CertificateHash: hash, Issuer: subject}.Key())
	assert.Equal(t, Identity{3}.String(), Event{Kind: AdminTransferred, OldAdmin: subject, NewAdmin: Identity{3}}.Key())
}
