// Package keychain provides the signing capability the transaction
// builder depends on without ever holding or inspecting a private key
// itself: "sign a 32-byte digest, expose a 32-byte x-only public key".
// Every implementation must refuse to leak its secret through an
// accessor, a %v/%#v format, or any serialization hook — the same
// secret-ownership discipline the reference daemon applies to its TLS
// key material in the cert package, generalized here to a signing key.
package keychain

import (
	"context"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/brcapelao/sap/internal/build"
	"github.com/brcapelao/sap/saperr"
)

var log = build.NewSubLogger(build.SubsystemKeychain)

// Signer is the capability contract the transaction builder drives: it
// never receives or stores a secret, only a digest to sign and the
// signer's claimed public key.
type Signer interface {
	// PublicKey returns the signer's 32-byte x-only public key.
	PublicKey() [32]byte

	// Sign returns a 64-byte Schnorr signature over digest.
	Sign(ctx context.Context, digest [32]byte) ([64]byte, error)
}

// MemorySigner holds a secp256k1 private key in process memory and signs
// with the embedded Schnorr primitive. Its secret field is unexported and
// its String/GoString are overridden so no logging or debugging path can
// print it.
type MemorySigner struct {
	priv *btcec.PrivateKey
}

// NewMemorySigner constructs a MemorySigner from a 32-byte secret.
func NewMemorySigner(secret [32]byte) (*MemorySigner, error) {
	priv, pub := btcec.PrivKeyFromBytes(secret[:])
	if pub == nil {
		return nil, &saperr.Configuration{Reason: "secret does not decode to a valid private key"}
	}
	return &MemorySigner{priv: priv}, nil
}

// GenerateMemorySigner creates a MemorySigner from a freshly drawn random
// secret, for tests and scratch deployments.
func GenerateMemorySigner() (*MemorySigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &MemorySigner{priv: priv}, nil
}

// PublicKey returns the 32-byte x-only public key.
func (s *MemorySigner) PublicKey() [32]byte {
	var out [32]byte
	copy(out[:], schnorr.SerializePubKey(s.priv.PubKey()))
	return out
}

// Sign produces a 64-byte Schnorr signature over digest. It uses
// schnorr.Sign's default nonce derivation, which is deterministic: no
// auxiliary randomness is drawn, and the same key and digest always yield
// the same signature.
func (s *MemorySigner) Sign(ctx context.Context, digest [32]byte) ([64]byte, error) {
	var out [64]byte

	sig, err := schnorr.Sign(s.priv, digest[:])
	if err != nil {
		return out, &saperr.SignerError{Err: err}
	}

	copy(out[:], sig.Serialize())
	return out, nil
}

// String deliberately never prints key material.
func (s *MemorySigner) String() string { return "keychain.MemorySigner(<redacted>)" }

// GoString deliberately never prints key material.
func (s *MemorySigner) GoString() string { return s.String() }

// EnvSigner reads its secret from a named environment variable at sign
// time rather than holding it across calls, trading a little latency for
// a smaller window in which the secret lives in the struct.
type EnvSigner struct {
	varName string
	pub     [32]byte
}

// NewEnvSigner constructs an EnvSigner that reads its 32-byte hex secret
// from the named environment variable on every Sign call.
func NewEnvSigner(varName string) (*EnvSigner, error) {
	signer, err := loadEnvSigner(varName)
	if err != nil {
		return nil, err
	}
	return &EnvSigner{varName: varName, pub: signer.PublicKey()}, nil
}

func loadEnvSigner(varName string) (*MemorySigner, error) {
	hexSecret, ok := os.LookupEnv(varName)
	if !ok {
		return nil, &saperr.Configuration{Reason: fmt.Sprintf("environment variable %s is not set", varName)}
	}

	var secret [32]byte
	n, err := decodeHex32(hexSecret, secret[:])
	if err != nil || n != 32 {
		return nil, &saperr.Configuration{Reason: fmt.Sprintf("environment variable %s is not 64 hex chars", varName)}
	}

	return NewMemorySigner(secret)
}

// PublicKey returns the 32-byte x-only public key, cached at construction
// to avoid re-reading the environment on every status query.
func (s *EnvSigner) PublicKey() [32]byte { return s.pub }

// Sign re-reads the secret from the environment and signs digest.
func (s *EnvSigner) Sign(ctx context.Context, digest [32]byte) ([64]byte, error) {
	signer, err := loadEnvSigner(s.varName)
	if err != nil {
		var out [64]byte
		return out, &saperr.SignerError{Err: err}
	}
	return signer.Sign(ctx, digest)
}

// String deliberately never prints the environment variable's value.
func (s *EnvSigner) String() string {
	return fmt.Sprintf("keychain.EnvSigner(var=%s, secret=<redacted>)", s.varName)
}

// GoString deliberately never prints the environment variable's value.
func (s *EnvSigner) GoString() string { return s.String() }

// ErrExternalSignerRequiresFinalize is returned by ExternalSigner.Sign:
// an external signer never signs in-process, it only participates via
// the prepare/finalize protocol.
var ErrExternalSignerRequiresFinalize = fmt.Errorf(
	"keychain: external signer cannot sign in-process; use prepare/finalize")

// ExternalSigner represents a signer whose private key never enters this
// process — a hardware wallet, a multisig quorum, or a policy engine. Its
// public key is supplied at construction (it is published out-of-band);
// Sign always fails, steering callers onto the PreparedTransaction /
// Finalize path described in the transaction builder.
type ExternalSigner struct {
	pub [32]byte
}

// NewExternalSigner constructs an ExternalSigner claiming the given
// x-only public key.
func NewExternalSigner(pub [32]byte) *ExternalSigner {
	return &ExternalSigner{pub: pub}
}

// PublicKey returns the externally supplied x-only public key.
func (s *ExternalSigner) PublicKey() [32]byte { return s.pub }

// Sign always fails; the external signer is expected to be driven via
// the prepare/finalize boundary instead.
func (s *ExternalSigner) Sign(ctx context.Context, digest [32]byte) ([64]byte, error) {
	var out [64]byte
	log.Debugf("rejecting in-process sign request for external signer")
	return out, ErrExternalSignerRequiresFinalize
}

func decodeHex32(s string, dst []byte) (int, error) {
	if len(s) != 64 {
		return 0, fmt.Errorf("keychain: want 64 hex chars, got %d", len(s))
	}
	for i := 0; i < 32; i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return 0, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return 0, err
		}
		dst[i] = hi<<4 | lo
	}
	return 32, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("keychain: invalid hex character %q", c)
	}
}
