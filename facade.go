// Package sap is the role-scoped entry point of the SDK: a Client holds a
// Signer and a contract Registry for its lifetime (spec §3 Ownership)
// and wraps the transaction builder and confirmation tracker behind two
// narrow constructors, AsAdmin and AsDelegate, following the per-method
// permission-gating style of the reference daemon's rpcserver.go
// translated from gRPC handlers returning (*Response, error) to plain Go
// methods returning (*chainrpc.TransactionResult, error).
package sap

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/brcapelao/sap/chainntnfs"
	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/config"
	"github.com/brcapelao/sap/contractreg"
	"github.com/brcapelao/sap/internal/build"
	"github.com/brcapelao/sap/keychain"
	"github.com/brcapelao/sap/payload"
	"github.com/brcapelao/sap/saperr"
	"github.com/brcapelao/sap/txbuilder"
	"github.com/brcapelao/sap/witness"
)

var log = build.NewSubLogger(build.SubsystemFacade)

// Ledger is the full surface the facade needs from a ledger client: the
// read paths (verify/list/get), the write path the builder drives, and
// the status queries the confirmation tracker drives. Declared as an
// interface, like txbuilder.LedgerClient and chainntnfs.StatusSource,
// so tests can substitute a stub instead of a live chainrpc.Client.
type Ledger interface {
	GetUTXOs(ctx context.Context, address string) ([]chainrpc.UTXO, error)
	GetTransaction(ctx context.Context, txid chainhash.Hash) (*chainrpc.Transaction, error)
	GetOutspend(ctx context.Context, txid chainhash.Hash, vout uint32) (*chainrpc.OutspendStatus, error)
	GetTxStatus(ctx context.Context, txid chainhash.Hash) (*chainrpc.TxStatus, error)
	GetTipHeight(ctx context.Context) (uint32, error)
	Broadcast(ctx context.Context, rawHex string) (*chainrpc.TransactionResult, error)
}

var _ Ledger = (*chainrpc.Client)(nil)

// Client is the facade's role-scoped handle: it owns exactly one Signer
// and one Registry for its lifetime (spec §3), plus the builder, ledger
// reader, and codec those operations are composed from.
type Client struct {
	role     txbuilder.Role
	signer   keychain.Signer
	registry *contractreg.Registry
	builder  *txbuilder.Builder
	ledger   Ledger
	codec    *payload.Codec
	tracker  *chainntnfs.Tracker

	// StrictDelegateRevoke, when true, layers an off-chain-only policy
	// check onto Client.RevokeCertificate: a delegate may not revoke a
	// certificate whose issuing spend used the admin-issue path. The
	// on-chain contract itself permits either authorized key to revoke
	// any certificate at the certificate address (spec §9 Open
	// Questions); this knob exists only for deployers who want a
	// stricter rule than the covenant enforces.
	StrictDelegateRevoke bool
}

// Deps bundles the external collaborators (spec §1's "deliberately out
// of scope" list) a Client needs: the ledger client, the contract
// engine, and the dust/fee policy. Constructing these is the caller's
// responsibility — the facade never reaches for a default HTTP endpoint
// or subprocess binary on its own.
type Deps struct {
	Engine        txbuilder.EngineClient
	Ledger        Ledger
	Codec         *payload.Codec
	Fee, CertDust int64
}

func newClient(cfg *config.Config, secret [32]byte, role txbuilder.Role, deps Deps) (*Client, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	signer, err := keychain.NewMemorySigner(secret)
	if err != nil {
		return nil, err
	}

	want, ok := registry.PubKeyForRole(string(role))
	if !ok {
		return nil, &saperr.Configuration{Reason: fmt.Sprintf("unrecognized role %q", role)}
	}
	if signer.PublicKey() != want {
		return nil, &saperr.Configuration{Reason: "private key does not match config"}
	}

	params, err := cfg.NetParams()
	if err != nil {
		return nil, err
	}

	codec := deps.Codec
	if codec == nil {
		codec = payload.NewCodec([3]byte{'S', 'A', 'P'})
	}

	builder := txbuilder.New(deps.Engine, deps.Ledger, registry, codec, params,
		btcutil.Amount(deps.Fee), btcutil.Amount(deps.CertDust))

	return &Client{
		role:     role,
		signer:   signer,
		registry: registry,
		builder:  builder,
		ledger:   deps.Ledger,
		codec:    codec,
		tracker:  chainntnfs.New(deps.Ledger, 0),
	}, nil
}

// AsAdmin constructs a Client authorized to issue, revoke, and drain. It
// asserts that the x-only public key derived from adminSecret equals
// cfg.AdminPubKey, failing with saperr.Configuration on mismatch — this
// prevents silent impersonation even when a correct signature could
// technically satisfy the digest (spec §4.J).
func AsAdmin(cfg *config.Config, adminSecret [32]byte, deps Deps) (*Client, error) {
	return newClient(cfg, adminSecret, txbuilder.RoleAdmin, deps)
}

// AsDelegate constructs a Client authorized to issue and revoke, but
// never to drain the vault.
func AsDelegate(cfg *config.Config, delegateSecret [32]byte, deps Deps) (*Client, error) {
	return newClient(cfg, delegateSecret, txbuilder.RoleDelegate, deps)
}

// IssueCertificate issues a new certificate bound to cid. Both admin and
// delegate may call this.
func (c *Client) IssueCertificate(ctx context.Context, cid string) (*chainrpc.TransactionResult, error) {
	log.Infof("issue_certificate role=%s cid=%s", c.role, cid)
	return c.builder.Issue(ctx, c.role, c.signer, cid)
}

// PrepareIssueCertificate runs steps 1-4 of issuance and returns a
// PreparedTransaction for an external signer to complete.
func (c *Client) PrepareIssueCertificate(ctx context.Context, cid string) (*txbuilder.PreparedTransaction, error) {
	return c.builder.PrepareIssue(ctx, c.role, cid)
}

// RevokeCertificate revokes the certificate at (txid, vout). When
// StrictDelegateRevoke is set and this Client is a delegate, it first
// checks the certificate's issuing spend and refuses with
// saperr.PermissionDenied if an admin issued it — an off-chain-only rule
// layered atop a covenant that itself permits either key to revoke any
// certificate.
func (c *Client) RevokeCertificate(ctx context.Context, txid chainhash.Hash, vout uint32, opts txbuilder.RevokeOptions) (*chainrpc.TransactionResult, error) {
	if err := c.checkStrictRevoke(ctx, txid); err != nil {
		return nil, err
	}
	log.Infof("revoke_certificate role=%s target=%v:%d", c.role, txid, vout)
	return c.builder.Revoke(ctx, c.role, c.signer, txid, vout, opts)
}

// PrepareRevokeCertificate runs steps 1-4 of revocation.
func (c *Client) PrepareRevokeCertificate(ctx context.Context, txid chainhash.Hash, vout uint32, opts txbuilder.RevokeOptions) (*txbuilder.PreparedTransaction, error) {
	if err := c.checkStrictRevoke(ctx, txid); err != nil {
		return nil, err
	}
	var raw [32]byte
	copy(raw[:], txid[:])
	return c.builder.PrepareRevoke(ctx, c.role, raw, vout, opts)
}

// checkStrictRevoke enforces StrictDelegateRevoke by recovering the
// spending path that created the certificate UTXO at txid: it fetches
// txid's own transaction and decodes input 0's witness (the vault-spend
// that produced this certificate) via witness.DecodeVaultPath.
func (c *Client) checkStrictRevoke(ctx context.Context, txid chainhash.Hash) error {
	if !c.StrictDelegateRevoke || c.role != txbuilder.RoleDelegate {
		return nil
	}

	tx, err := c.ledger.GetTransaction(ctx, txid)
	if err != nil {
		return err
	}
	if tx == nil || len(tx.Vin) == 0 || len(tx.Vin[0].Witness) == 0 {
		// Cannot determine the issuing path; fail open toward the
		// covenant's own permissive rule rather than guessing.
		return nil
	}

	path, err := witness.DecodeVaultPath(tx.Vin[0].Witness[len(tx.Vin[0].Witness)-1])
	if err != nil {
		return nil
	}
	if path == witness.PathAdminIssue {
		return &saperr.PermissionDenied{Role: string(c.role), Op: "revoke_certificate (admin-issued, strict mode)"}
	}
	return nil
}

// DrainVault sweeps the vault's first available UTXO to recipient.
// Admin-only: a delegate calling this always fails with
// saperr.PermissionDenied before any ledger or engine call (spec §9 /
// testable property S9).
func (c *Client) DrainVault(ctx context.Context, recipient string) (*chainrpc.TransactionResult, error) {
	log.Infof("drain_vault role=%s recipient=%s", c.role, recipient)
	return c.builder.Drain(ctx, c.role, c.signer, recipient)
}

// PrepareDrainVault runs steps 1-4 of the admin-only drain operation.
func (c *Client) PrepareDrainVault(ctx context.Context, recipient string) (*txbuilder.PreparedTransaction, error) {
	return c.builder.PrepareDrain(ctx, c.role, recipient)
}

// Tracker returns the confirmation tracker wrapping this Client's
// ledger, for callers that want to poll or register a callback for a
// transaction this Client produced (spec §4.I).
func (c *Client) Tracker() *chainntnfs.Tracker {
	return c.tracker
}

// Finalize resumes a PreparedTransaction at step 6 with sig and
// broadcasts the result.
func (c *Client) Finalize(ctx context.Context, prepared *txbuilder.PreparedTransaction, sig []byte) (*chainrpc.TransactionResult, error) {
	return prepared.Finalize(ctx, sig)
}

// VerifyCertificate reports whether the certificate UTXO (txid, vout) is
// currently unspent. It returns txbuilder.StatusUnknown — never an error
// — when the ledger is unreachable, per spec §7's "ternary read path
// stays cheap for observers" design.
func (c *Client) VerifyCertificate(ctx context.Context, txid chainhash.Hash, vout uint32) txbuilder.CertificateStatus {
	status, err := c.ledger.GetOutspend(ctx, txid, vout)
	if err != nil {
		log.Warnf("verify_certificate %v:%d: ledger unreachable: %v", txid, vout, err)
		return txbuilder.StatusUnknown
	}
	if status == nil {
		return txbuilder.StatusUnknown
	}
	if status.Spent {
		return txbuilder.StatusRevoked
	}
	return txbuilder.StatusValid
}

// ListCertificates enumerates every UTXO currently sitting at the
// certificate address and decodes each one's content-id from its
// issuing transaction's ATTEST (or UPDATE) null-data output.
func (c *Client) ListCertificates(ctx context.Context) ([]txbuilder.Certificate, error) {
	utxos, err := c.ledger.GetUTXOs(ctx, c.registry.Certificate.Address.String())
	if err != nil {
		return nil, err
	}

	certs := make([]txbuilder.Certificate, 0, len(utxos))
	for _, u := range utxos {
		cert, err := c.describeCertificate(ctx, u.TxID, u.Vout)
		if err != nil {
			log.Warnf("skipping certificate %v:%d: %v", u.TxID, u.Vout, err)
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// GetCertificate looks up a single certificate by its UTXO identity.
func (c *Client) GetCertificate(ctx context.Context, txid chainhash.Hash, vout uint32) (*txbuilder.Certificate, error) {
	cert, err := c.describeCertificate(ctx, txid, vout)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (c *Client) describeCertificate(ctx context.Context, txid chainhash.Hash, vout uint32) (txbuilder.Certificate, error) {
	status := c.VerifyCertificate(ctx, txid, vout)

	tx, err := c.ledger.GetTransaction(ctx, txid)
	if err != nil {
		return txbuilder.Certificate{}, err
	}

	cert := txbuilder.Certificate{TxID: txid, Vout: vout, Status: status}
	if tx == nil {
		return cert, nil
	}

	for _, out := range tx.Vout {
		if out.ScriptPubKeyType != "nulldata" && out.ScriptPubKeyType != "op_return" {
			continue
		}
		pushes, err := txscript.PushedData(out.ScriptPubKey)
		if err != nil || len(pushes) == 0 {
			continue
		}
		rec, ok := c.codec.Decode(pushes[0])
		if !ok {
			continue
		}
		if rec.Opcode == payload.OpAttest || rec.Opcode == payload.OpUpdate {
			cert.CID = string(rec.Body)
		}
	}

	return cert, nil
}
