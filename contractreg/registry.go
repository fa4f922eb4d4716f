// Package contractreg holds the compiled vault and certificate contracts
// for a single deployment: address, script, commitment hash, program
// bytes, and the shared network parameters. It is read-only after
// construction, the way the reference daemon's chainRegistry is built
// once at startup and then only ever looked up, never mutated, though
// here there is exactly one vault and one certificate contract rather
// than a multi-chain registry — this protocol pins a single deployment
// per registry instance.
package contractreg

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// Contract is the shared attribute shape of both the vault and the
// certificate covenant: a script address, its pubkey script, the
// commitment hash of the compiled program, and the program bytes
// themselves. The core trusts the compiled program's commitment hash and
// does not re-validate the covenant's semantics.
type Contract struct {
	Address        btcutil.Address
	ScriptPubKey   []byte
	CommitmentHash [32]byte
	Program        []byte
}

// Registry holds the pinned contracts and network parameters for a
// single deployment.
type Registry struct {
	NetworkID   string
	AssetID     [32]byte
	InternalKey *btcec.PublicKey

	Vault       Contract
	Certificate Contract

	// AdminPubKey and DelegatePubKey are the two x-only keys authorized
	// to satisfy a spending path under either covenant. They are part of
	// the deployment's network parameters (spec §6 configuration object)
	// rather than of either Contract, since both contracts share the
	// same two authorized keys.
	AdminPubKey    [32]byte
	DelegatePubKey [32]byte
}

// New constructs a read-only Registry. There is no mutator: changing any
// field requires constructing a new Registry, which mirrors the data
// model invariant that a contract's address is a pure function of
// (program commitment, internal key, network).
func New(networkID string, assetID [32]byte, internalKey *btcec.PublicKey, vault, certificate Contract,
	adminPubKey, delegatePubKey [32]byte) *Registry {

	return &Registry{
		NetworkID:      networkID,
		AssetID:        assetID,
		InternalKey:    internalKey,
		Vault:          vault,
		Certificate:    certificate,
		AdminPubKey:    adminPubKey,
		DelegatePubKey: delegatePubKey,
	}
}

// PubKeyForRole returns the authorized x-only public key for role
// ("admin" or "delegate").
func (r *Registry) PubKeyForRole(role string) ([32]byte, bool) {
	switch role {
	case "admin":
		return r.AdminPubKey, true
	case "delegate":
		return r.DelegatePubKey, true
	default:
		return [32]byte{}, false
	}
}

// Lookup returns the contract registered under name ("vault" or
// "certificate"), or false if name is not recognized.
func (r *Registry) Lookup(name string) (Contract, bool) {
	switch name {
	case "vault":
		return r.Vault, true
	case "certificate":
		return r.Certificate, true
	default:
		return Contract{}, false
	}
}
