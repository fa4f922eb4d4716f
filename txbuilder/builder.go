// Package txbuilder orchestrates the payload codec, witness encoder,
// contract engine adapter, contract registry, and ledger client into the
// three high-level operations (issue / revoke / drain), following the
// "compose, bind, dry-run, sign, verify, finalize, extract, broadcast"
// staging of lnwallet/reservation.go's multi-step channel-funding
// assembly and the weight-then-sign pipeline shape of
// sweep/txgenerator.go, generalized here to a Simplicity-PST flow
// instead of raw wire.MsgTx signing.
package txbuilder

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/contractreg"
	"github.com/brcapelao/sap/internal/build"
	"github.com/brcapelao/sap/keychain"
	"github.com/brcapelao/sap/payload"
	"github.com/brcapelao/sap/saperr"
	"github.com/brcapelao/sap/simplicityrpc"
	"github.com/brcapelao/sap/witness"
)

var log = build.NewSubLogger(build.SubsystemTxBuilder)

// Builder drives the eight-step pipeline of spec §4.G. It exclusively
// owns intermediate PST state across the steps of a single call — it
// never hands out interior references — but holds no secret and no
// per-call mutable state of its own, so one Builder may be shared across
// concurrent read paths (see the concurrency note in chainrpc.Client and
// spec §5: write calls against the same vault UTXO still race at
// broadcast).
type Builder struct {
	Engine   EngineClient
	Ledger   LedgerClient
	Registry *contractreg.Registry
	Codec    *payload.Codec
	Params   *chaincfg.Params

	Fee      btcutil.Amount
	CertDust btcutil.Amount
}

// New constructs a Builder with the given dust/fee policy. Fee and
// certDust default to txbuilder.DefaultFeeSats/DefaultCertDustSats when
// zero. params governs how recipient address strings are decoded into
// scriptPubKeys.
func New(engine EngineClient, ledger LedgerClient, registry *contractreg.Registry,
	codec *payload.Codec, params *chaincfg.Params, fee, certDust btcutil.Amount) *Builder {

	if fee == 0 {
		fee = DefaultFeeSats
	}
	if certDust == 0 {
		certDust = DefaultCertDustSats
	}
	return &Builder{
		Engine: engine, Ledger: ledger, Registry: registry, Codec: codec, Params: params,
		Fee: fee, CertDust: certDust,
	}
}

// pipelineParams is the operation-specific input to the shared
// compose→bind→dry-run staging every one of issue/revoke/drain drives
// identically.
type pipelineParams struct {
	contract contractreg.Contract
	input    chainrpc.UTXO
	outputs  []plannedOutput
	path     witness.Path
}

// internalKeyXOnly returns the registry's internal taproot key as a
// 32-byte x-only public key.
func (b *Builder) internalKeyXOnly() [32]byte {
	var out [32]byte
	copy(out[:], schnorr.SerializePubKey(b.Registry.InternalKey))
	return out
}

func toEngineOutputs(outs []plannedOutput) []simplicityrpc.Output {
	eo := make([]simplicityrpc.Output, len(outs))
	for i, o := range outs {
		eo[i] = simplicityrpc.Output{
			ScriptPubKey: hexEncode(o.ScriptPubKey),
			Value:        int64(o.Value),
		}
	}
	return eo
}

// runToDigest executes steps 2–4 of the pipeline: create the PST, bind
// the spent input's metadata, and dry-run the program against a dummy
// witness to recover the signature-all-hash the real signature must
// bind to.
func (b *Builder) runToDigest(ctx context.Context, p pipelineParams) (*simplicityrpc.PST, [32]byte, error) {
	var digest [32]byte

	pst, err := b.Engine.PSTCreate(ctx,
		[]simplicityrpc.Input{{TxID: p.input.TxID.String(), Vout: p.input.Vout}},
		toEngineOutputs(p.outputs))
	if err != nil {
		return nil, digest, err
	}

	pst, err = b.Engine.PSTBindInput(ctx, pst, 0, p.contract.ScriptPubKey,
		b.Registry.AssetID, int64(p.input.Value), p.contract.CommitmentHash, b.internalKeyXOnly())
	if err != nil {
		return nil, digest, err
	}

	dummy := witness.Dummy(p.path)
	result, err := b.Engine.PSTRun(ctx, "dry-run", pst, 0, p.contract.Program, dummy[:])
	if err != nil {
		return nil, digest, err
	}

	return pst, result.SigAllHash, nil
}

// signVerifyFinalize executes steps 6–8: encode the witness around the
// caller-supplied 64-byte signature, verify-run the program (step 7
// requires every jet to succeed), finalize, and extract the
// broadcast-ready raw transaction.
func (b *Builder) signVerifyFinalize(ctx context.Context, pst *simplicityrpc.PST,
	contract contractreg.Contract, path witness.Path, sig []byte) (string, error) {

	w, err := witness.Encode(path, sig)
	if err != nil {
		return "", &saperr.SignerError{Err: err}
	}

	if _, err := b.Engine.PSTRun(ctx, "verify-run", pst, 0, contract.Program, w[:]); err != nil {
		return "", err
	}

	pst, err = b.Engine.PSTFinalize(ctx, pst, 0, contract.Program, w[:])
	if err != nil {
		return "", err
	}

	rawHex, err := b.Engine.PSTExtract(ctx, pst)
	if err != nil {
		return "", err
	}
	return rawHex, nil
}

// runPipeline executes the full eight-step pipeline in-process: compose
// (by the caller), create/bind/dry-run, sign, verify/finalize/extract,
// broadcast. Pre-broadcast failures leave no on-chain state, per spec
// §4.G's failure taxonomy.
func (b *Builder) runPipeline(ctx context.Context, p pipelineParams, signer keychain.Signer) (*chainrpc.TransactionResult, error) {
	pst, digest, err := b.runToDigest(ctx, p)
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(ctx, digest)
	if err != nil {
		return nil, &saperr.SignerError{Err: err}
	}

	rawHex, err := b.signVerifyFinalize(ctx, pst, p.contract, p.path, sig[:])
	if err != nil {
		return nil, err
	}

	result, err := b.Ledger.Broadcast(ctx, rawHex)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// firstVaultUTXO selects "the first available vault UTXO" per spec
// §4.G, i.e. whichever the ledger lists first — this builder imposes no
// selection policy beyond the ledger's own ordering.
func (b *Builder) firstVaultUTXO(ctx context.Context) (chainrpc.UTXO, error) {
	utxos, err := b.Ledger.GetUTXOs(ctx, b.Registry.Vault.Address.String())
	if err != nil {
		return chainrpc.UTXO{}, err
	}
	if len(utxos) == 0 {
		return chainrpc.UTXO{}, &saperr.VaultEmpty{Address: b.Registry.Vault.Address.String()}
	}
	return utxos[0], nil
}

// findCertificateUTXO looks up the certificate UTXO identified by
// (txid, vout) among the outputs currently sitting at the certificate
// address.
func (b *Builder) findCertificateUTXO(ctx context.Context, txid chainhash.Hash, vout uint32) (chainrpc.UTXO, error) {
	utxos, err := b.Ledger.GetUTXOs(ctx, b.Registry.Certificate.Address.String())
	if err != nil {
		return chainrpc.UTXO{}, err
	}
	for _, u := range utxos {
		if u.TxID == txid && u.Vout == vout {
			return u, nil
		}
	}
	return chainrpc.UTXO{}, &saperr.CertificateNotFound{TxID: txid.String(), Vout: vout}
}

func pathForIssue(role Role) witness.Path {
	if role == RoleAdmin {
		return witness.PathAdminIssue
	}
	return witness.PathDelegateIssue
}

func pathForRevoke(role Role) witness.Path {
	if role == RoleAdmin {
		return witness.PathCertAdminRevoke
	}
	return witness.PathCertDelegateRevoke
}

// composeIssueOutputs builds the four covenant-enforced outputs of spec
// §4.G's issue operation: vault change, certificate dust, the ATTEST
// null-data record, and the fee.
func (b *Builder) composeIssueOutputs(vaultValue btcutil.Amount, cid string) ([]plannedOutput, error) {
	minIssue := MinIssueSats(b.Fee, b.CertDust)
	if vaultValue < minIssue {
		return nil, &saperr.InsufficientFunds{Required: int64(minIssue), Available: int64(vaultValue)}
	}

	attest, err := b.Codec.EncodeAttest(cid)
	if err != nil {
		return nil, err
	}

	change := vaultValue - b.CertDust - b.Fee
	nullOut, err := nullDataOutput(attest)
	if err != nil {
		return nil, err
	}

	return []plannedOutput{
		spendableOutput(change, b.Registry.Vault.ScriptPubKey),
		spendableOutput(b.CertDust, b.Registry.Certificate.ScriptPubKey),
		nullOut,
		feeOutput(b.Fee),
	}, nil
}

// Issue implements the issue operation of spec §4.G in-process: it
// selects the first available vault UTXO, composes the four covenant
// outputs, runs the pipeline to the signature digest, signs with signer,
// and broadcasts.
func (b *Builder) Issue(ctx context.Context, role Role, signer keychain.Signer, cid string) (*chainrpc.TransactionResult, error) {
	if !role.valid() {
		return nil, &saperr.PermissionDenied{Role: string(role), Op: "issue_certificate"}
	}

	vaultUTXO, err := b.firstVaultUTXO(ctx)
	if err != nil {
		return nil, err
	}

	outputs, err := b.composeIssueOutputs(vaultUTXO.Value, cid)
	if err != nil {
		return nil, err
	}

	path := pathForIssue(role)
	log.Infof("issuing certificate cid=%s path=%v input=%v:%d", cid, path, vaultUTXO.TxID, vaultUTXO.Vout)

	return b.runPipeline(ctx, pipelineParams{
		contract: b.Registry.Vault,
		input:    vaultUTXO,
		outputs:  outputs,
		path:     path,
	}, signer)
}

// composeRevokeOutputs builds the revoke operation's outputs per spec
// §4.G: a payout to Recipient when given and the UTXO value exceeds the
// fee, otherwise the whole value is burned as fee; an optional REVOKE
// null-data record is inserted between the payout and the fee output
// whenever a reason code or replacement txid is supplied.
func (b *Builder) composeRevokeOutputs(certUTXO chainrpc.UTXO, opts RevokeOptions) ([]plannedOutput, error) {
	var revokePayload []byte
	if opts.ReasonCode != nil || opts.ReplacementTxID != nil {
		payloadBytes, err := b.Codec.EncodeRevoke(
			certUTXO.TxID.String(), uint16(certUTXO.Vout), opts.ReasonCode, opts.ReplacementTxID)
		if err != nil {
			return nil, err
		}
		revokePayload = payloadBytes
	}

	var outs []plannedOutput
	feeValue := certUTXO.Value

	if opts.Recipient != "" && certUTXO.Value > b.Fee {
		recipientScript, err := b.decodeAddressScript(opts.Recipient)
		if err != nil {
			return nil, err
		}
		outs = append(outs, spendableOutput(certUTXO.Value-b.Fee, recipientScript))
		feeValue = b.Fee
	}

	if revokePayload != nil {
		nullOut, err := nullDataOutput(revokePayload)
		if err != nil {
			return nil, err
		}
		outs = append(outs, nullOut)
	}

	outs = append(outs, feeOutput(feeValue))
	return outs, nil
}

// Revoke implements the revoke operation of spec §4.G in-process.
func (b *Builder) Revoke(ctx context.Context, role Role, signer keychain.Signer,
	txid chainhash.Hash, vout uint32, opts RevokeOptions) (*chainrpc.TransactionResult, error) {

	if !role.valid() {
		return nil, &saperr.PermissionDenied{Role: string(role), Op: "revoke_certificate"}
	}

	certUTXO, err := b.findCertificateUTXO(ctx, txid, vout)
	if err != nil {
		return nil, err
	}

	outputs, err := b.composeRevokeOutputs(certUTXO, opts)
	if err != nil {
		return nil, err
	}

	path := pathForRevoke(role)
	log.Infof("revoking certificate %v:%d path=%v", txid, vout, path)

	return b.runPipeline(ctx, pipelineParams{
		contract: b.Registry.Certificate,
		input:    certUTXO,
		outputs:  outputs,
		path:     path,
	}, signer)
}

// Drain implements the admin-only drain operation of spec §4.G.
// Delegates calling Drain always fail with PermissionDenied before any
// ledger or engine call, per testable property S9/the role-gating
// invariant.
func (b *Builder) Drain(ctx context.Context, role Role, signer keychain.Signer, recipient string) (*chainrpc.TransactionResult, error) {
	if role != RoleAdmin {
		return nil, &saperr.PermissionDenied{Role: string(role), Op: "drain_vault"}
	}

	vaultUTXO, err := b.firstVaultUTXO(ctx)
	if err != nil {
		return nil, err
	}

	recipientScript, err := b.decodeAddressScript(recipient)
	if err != nil {
		return nil, err
	}

	if vaultUTXO.Value <= b.Fee {
		return nil, &saperr.InsufficientFunds{Required: int64(b.Fee) + 1, Available: int64(vaultUTXO.Value)}
	}

	outputs := []plannedOutput{
		spendableOutput(vaultUTXO.Value-b.Fee, recipientScript),
		feeOutput(b.Fee),
	}

	log.Infof("draining vault to %s input=%v:%d", recipient, vaultUTXO.TxID, vaultUTXO.Vout)

	return b.runPipeline(ctx, pipelineParams{
		contract: b.Registry.Vault,
		input:    vaultUTXO,
		outputs:  outputs,
		path:     witness.PathAdminUnconditional,
	}, signer)
}

// decodeAddressScript turns a recipient address string into its
// scriptPubKey, the same decode-then-PayToAddrScript step the reference
// wallet's transaction construction paths use throughout lnwallet.
func (b *Builder) decodeAddressScript(addr string) ([]byte, error) {
	if addr == "" {
		return nil, &saperr.InvalidArgument{Field: "recipient", Reason: "must not be empty"}
	}

	decoded, err := btcutil.DecodeAddress(addr, b.Params)
	if err != nil {
		return nil, &saperr.InvalidArgument{Field: "recipient", Reason: fmt.Sprintf("not a valid address: %v", err)}
	}

	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, &saperr.InvalidArgument{Field: "recipient", Reason: fmt.Sprintf("cannot build script: %v", err)}
	}
	return script, nil
}
