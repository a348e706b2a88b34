// Package auth authenticates relay requests by Ethereum signature.
//
// A caller signs "<METHOD> <PATH> <UNIX SECONDS> <BODY KECCAK256>" with
// personal_sign (EIP-191) and sends its address, the timestamp and the
// 65-byte signature in the X-Registry-* headers. The recovered signer is the
// identity the registry sees as the caller. The body digest binds the
// signature to one payload, so a captured header set cannot authorize another
// body.
package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/certificate-registry/interfaces"
)

const (
	HeaderIdentity  = "X-Registry-Identity"
	HeaderTimestamp = "X-Registry-Timestamp"
	HeaderSignature = "X-Registry-Signature"

	DefaultMaxSkew = 5 * time.Minute
)

var (
	ErrMissingCredentials = errors.New("missing request credentials")
	ErrInvalidSignature   = errors.New("invalid request signature")
	ErrStaleRequest       = errors.New("request timestamp outside the accepted window")
	ErrReplayedRequest    = errors.New("request was already used")
)

// Credentials are the authentication headers of one request.
type Credentials struct {
	Identity  interfaces.Identity
	Timestamp int64
	Signature []byte
}

// BodyHash is the digest of a request body that goes into the signed
// message. An empty body hashes like any other.
func BodyHash(body []byte) common.Hash {
	return crypto.Keccak256Hash(body)
}

// Message returns the text a caller signs for a request.
func Message(method, path string, timestamp int64, bodyHash common.Hash) string {
	return fmt.Sprintf("%s %s %d %s", strings.ToUpper(method), path, timestamp, bodyHash.Hex())
}

// SignRequest signs method, path and body at time now with key.
func SignRequest(key *ecdsa.PrivateKey, method, path string, body []byte, now time.Time) (Credentials, error) {
	ts := now.Unix()
	hash := accounts.TextHash([]byte(Message(method, path, ts, BodyHash(body))))

	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("sign request: %w", err)
	}
	// wallets emit v as 27/28
	sig[crypto.RecoveryIDOffset] += 27

	return Credentials{
		Identity:  interfaces.Identity(crypto.PubkeyToAddress(key.PublicKey)),
		Timestamp: ts,
		Signature: sig,
	}, nil
}

// Apply sets the credential headers on h.
func (c Credentials) Apply(h http.Header) {
	h.Set(HeaderIdentity, c.Identity.String())
	h.Set(HeaderTimestamp, strconv.FormatInt(c.Timestamp, 10))
	h.Set(HeaderSignature, hexutil.Encode(c.Signature))
}

// CredentialsFromHeader parses the credential headers. Requests without any
// of them fail with ErrMissingCredentials.
func CredentialsFromHeader(h http.Header) (Credentials, error) {
	identity, ts, sig := h.Get(HeaderIdentity), h.Get(HeaderTimestamp), h.Get(HeaderSignature)
	if identity == "" || ts == "" || sig == "" {
		return Credentials{}, ErrMissingCredentials
	}

	var (
		c   Credentials
		err error
	)
	if c.Identity, err = interfaces.NewIdentityFromHex(identity); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if c.Timestamp, err = strconv.ParseInt(ts, 10, 64); err != nil {
		return Credentials{}, fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, ts)
	}
	if c.Signature, err = hexutil.Decode(sig); err != nil {
		return Credentials{}, fmt.Errorf("%w: bad signature encoding", ErrInvalidSignature)
	}
	return c, nil
}

// Verifier checks signatures, timestamps and replays.
type Verifier struct {
	maxSkew time.Duration
	replay  ReplayGuard
	now     func() time.Time
}

// NewVerifier creates a verifier accepting timestamps within maxSkew of the
// local clock. A nil replay guard disables replay protection.
func NewVerifier(maxSkew time.Duration, replay ReplayGuard) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Verifier{maxSkew: maxSkew, replay: replay, now: time.Now}
}

// Verify returns the identity that signed method, path and body.
func (v *Verifier) Verify(ctx context.Context, method, path string, body []byte, c Credentials) (interfaces.Identity, error) {
	if len(c.Signature) != crypto.SignatureLength {
		return interfaces.Identity{}, fmt.Errorf("%w: signature must be %d bytes", ErrInvalidSignature, crypto.SignatureLength)
	}

	age := v.now().Sub(time.Unix(c.Timestamp, 0))
	if age > v.maxSkew || age < -v.maxSkew {
		return interfaces.Identity{}, ErrStaleRequest
	}

	sig := make([]byte, len(c.Signature))
	copy(sig, c.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	r, s := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, true) {
		return interfaces.Identity{}, ErrInvalidSignature
	}

	message := Message(method, path, c.Timestamp, BodyHash(body))
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer := interfaces.Identity(crypto.PubkeyToAddress(*pub))
	if signer != c.Identity {
		return interfaces.Identity{}, ErrInvalidSignature
	}

	if v.replay != nil {
		key := crypto.Keccak256Hash(signer[:], []byte(message)).Hex()
		if err := v.replay.Claim(ctx, key, 2*v.maxSkew); err != nil {
			return interfaces.Identity{}, err
		}
	}

	return signer, nil
}

// VerifyRequest authenticates r by its headers, URL path and body. The body
// is read in full and replaced, so handlers can still consume it; callers
// bound its size (http.MaxBytesReader) before calling.
func (v *Verifier) VerifyRequest(r *http.Request) (interfaces.Identity, error) {
	c, err := CredentialsFromHeader(r.Header)
	if err != nil {
		return interfaces.Identity{}, err
	}

	var body []byte
	if r.Body != nil {
		if body, err = io.ReadAll(r.Body); err != nil {
			return interfaces.Identity{}, fmt.Errorf("read request body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	return v.Verify(r.Context(), r.Method, r.URL.Path, body, c)
}
