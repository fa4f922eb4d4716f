package txbuilder

import (
	"context"
	"sync"
	"time"

	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/contractreg"
	"github.com/brcapelao/sap/saperr"
	"github.com/brcapelao/sap/simplicityrpc"
	"github.com/brcapelao/sap/witness"
)

// DefaultPrepareExpiry bounds how long a PreparedTransaction remains
// finalizable before an external signer must be re-driven from scratch.
const DefaultPrepareExpiry = 15 * time.Minute

// PreparedTransaction is the continuation object returned by
// Prepare{Issue,Revoke,Drain}: it carries the signature digest steps 1–4
// produced, the role and public key the spend must satisfy, and enough
// carrier state (the bound PST, the contract to finalize against, the
// spending path) to resume at step 6 once an external signer supplies a
// signature. It is the Go realization of the prepare/finalize pattern of
// spec §9: single-use, enforced here with a mutex-guarded "consumed"
// flag rather than true move semantics, since Go has no compiler-checked
// linear types — the nearest equivalent to the keyed-slot-and-delete
// scheme spec §9 calls out for shared-state servers.
type PreparedTransaction struct {
	mu        sync.Mutex
	consumed  bool
	createdAt time.Time
	expiresAt time.Time

	operation     string
	requiredRole  Role
	requiredPub   [32]byte
	digest        [32]byte
	details       map[string]string

	// carrier state, needed only to resume at step 6.
	builder  *Builder
	pst      *simplicityrpc.PST
	contract contractreg.Contract
	path     witness.Path
}

// Digest returns the 32-byte signature-all-hash the external signer
// must sign.
func (p *PreparedTransaction) Digest() [32]byte { return p.digest }

// RequiredRole returns the role (admin or delegate) this prepared
// transaction's spending path is bound to.
func (p *PreparedTransaction) RequiredRole() Role { return p.requiredRole }

// RequiredPubKey returns the x-only public key whose signature the
// covenant path expects.
func (p *PreparedTransaction) RequiredPubKey() [32]byte { return p.requiredPub }

// ExpiresAt returns the timestamp past which Finalize will fail with
// saperr.Expired.
func (p *PreparedTransaction) ExpiresAt() time.Time { return p.expiresAt }

// Summary returns the review-safe projection of this prepared
// transaction: role, digest, human-readable details, and expiry. It
// never exposes the carrier PST, program bytes, or any internal engine
// state — the subset spec §3 allows exporting to an out-of-process
// approval UI.
func (p *PreparedTransaction) Summary() map[string]string {
	out := make(map[string]string, len(p.details)+4)
	for k, v := range p.details {
		out[k] = v
	}
	out["operation"] = p.operation
	out["required_role"] = string(p.requiredRole)
	out["digest"] = hexEncode(p.digest[:])
	out["expires_at"] = p.expiresAt.Format(time.RFC3339)
	return out
}

// Finalize resumes the pipeline at step 6: it encodes the witness around
// sig, verify-runs the program, finalizes the PST, extracts the raw
// transaction, and broadcasts it. It is single-use: a second call on the
// same PreparedTransaction fails with saperr.AlreadyFinalized, and a call
// past expiresAt fails with saperr.Expired without touching the engine
// or ledger.
func (p *PreparedTransaction) Finalize(ctx context.Context, sig []byte) (*chainrpc.TransactionResult, error) {
	if len(sig) != witness.SignatureSize {
		return nil, &saperr.InvalidSignature{Reason: "signature must be 64 bytes"}
	}

	p.mu.Lock()
	if p.consumed {
		p.mu.Unlock()
		return nil, &saperr.AlreadyFinalized{}
	}
	if time.Now().After(p.expiresAt) {
		p.mu.Unlock()
		return nil, &saperr.Expired{TxType: p.operation}
	}
	p.consumed = true
	pst, contract, path := p.pst, p.contract, p.path
	p.pst = nil
	p.mu.Unlock()

	rawHex, err := p.builder.signVerifyFinalize(ctx, pst, contract, path, sig)
	if err != nil {
		return nil, err
	}

	return p.builder.Ledger.Broadcast(ctx, rawHex)
}

// prepare runs steps 1–4 and wraps the resulting digest and carrier
// state into a PreparedTransaction.
func (b *Builder) prepare(ctx context.Context, operation string, role Role,
	contract contractreg.Contract, input chainrpc.UTXO, outputs []plannedOutput,
	path witness.Path, details map[string]string, expiry time.Duration) (*PreparedTransaction, error) {

	pst, digest, err := b.runToDigest(ctx, pipelineParams{
		contract: contract, input: input, outputs: outputs, path: path,
	})
	if err != nil {
		return nil, err
	}

	pub, ok := b.Registry.PubKeyForRole(string(role))
	if !ok {
		return nil, &saperr.PermissionDenied{Role: string(role), Op: operation}
	}

	if expiry == 0 {
		expiry = DefaultPrepareExpiry
	}
	now := time.Now()

	return &PreparedTransaction{
		createdAt:    now,
		expiresAt:    now.Add(expiry),
		operation:    operation,
		requiredRole: role,
		requiredPub:  pub,
		digest:       digest,
		details:      details,
		builder:      b,
		pst:          pst,
		contract:     contract,
		path:         path,
	}, nil
}

// PrepareIssue runs steps 1–4 of the issue operation and returns a
// PreparedTransaction for an external signer to complete.
func (b *Builder) PrepareIssue(ctx context.Context, role Role, cid string) (*PreparedTransaction, error) {
	if !role.valid() {
		return nil, &saperr.PermissionDenied{Role: string(role), Op: "prepare_issue_certificate"}
	}

	vaultUTXO, err := b.firstVaultUTXO(ctx)
	if err != nil {
		return nil, err
	}

	outputs, err := b.composeIssueOutputs(vaultUTXO.Value, cid)
	if err != nil {
		return nil, err
	}

	details := map[string]string{
		"content_id": cid,
		"input":      vaultUTXO.TxID.String(),
	}

	return b.prepare(ctx, "issue_certificate", role, b.Registry.Vault, vaultUTXO, outputs,
		pathForIssue(role), details, 0)
}

// PrepareRevoke runs steps 1–4 of the revoke operation.
func (b *Builder) PrepareRevoke(ctx context.Context, role Role,
	txid [32]byte, vout uint32, opts RevokeOptions) (*PreparedTransaction, error) {

	if !role.valid() {
		return nil, &saperr.PermissionDenied{Role: string(role), Op: "prepare_revoke_certificate"}
	}

	hash, err := chainHashFromBytes(txid)
	if err != nil {
		return nil, err
	}

	certUTXO, err := b.findCertificateUTXO(ctx, hash, vout)
	if err != nil {
		return nil, err
	}

	outputs, err := b.composeRevokeOutputs(certUTXO, opts)
	if err != nil {
		return nil, err
	}

	details := map[string]string{
		"target": certUTXO.TxID.String(),
	}

	return b.prepare(ctx, "revoke_certificate", role, b.Registry.Certificate, certUTXO, outputs,
		pathForRevoke(role), details, 0)
}

// PrepareDrain runs steps 1–4 of the admin-only drain operation.
func (b *Builder) PrepareDrain(ctx context.Context, role Role, recipient string) (*PreparedTransaction, error) {
	if role != RoleAdmin {
		return nil, &saperr.PermissionDenied{Role: string(role), Op: "prepare_drain_vault"}
	}

	vaultUTXO, err := b.firstVaultUTXO(ctx)
	if err != nil {
		return nil, err
	}
	if vaultUTXO.Value <= b.Fee {
		return nil, &saperr.InsufficientFunds{Required: int64(b.Fee) + 1, Available: int64(vaultUTXO.Value)}
	}

	recipientScript, err := b.decodeAddressScript(recipient)
	if err != nil {
		return nil, err
	}

	outputs := []plannedOutput{
		spendableOutput(vaultUTXO.Value-b.Fee, recipientScript),
		feeOutput(b.Fee),
	}

	details := map[string]string{"recipient": recipient}

	return b.prepare(ctx, "drain_vault", role, b.Registry.Vault, vaultUTXO, outputs,
		witness.PathAdminUnconditional, details, 0)
}
