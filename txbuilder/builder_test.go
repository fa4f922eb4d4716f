package txbuilder

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/contractreg"
	"github.com/brcapelao/sap/payload"
	"github.com/brcapelao/sap/saperr"
	"github.com/brcapelao/sap/simplicityrpc"
)

// stubLedger is a hand-rolled mock ledger client, in the style of
// htlcswitch/mock.go's mock channel link: canned responses per address,
// a broadcast callback, and nothing else.
type stubLedger struct {
	utxosByAddr map[string][]chainrpc.UTXO
	broadcasts  []string
	broadcastFn func(rawHex string) (*chainrpc.TransactionResult, error)
}

func (s *stubLedger) GetUTXOs(ctx context.Context, address string) ([]chainrpc.UTXO, error) {
	return s.utxosByAddr[address], nil
}

func (s *stubLedger) Broadcast(ctx context.Context, rawHex string) (*chainrpc.TransactionResult, error) {
	s.broadcasts = append(s.broadcasts, rawHex)
	if s.broadcastFn != nil {
		return s.broadcastFn(rawHex)
	}
	txid, _ := chainhash.NewHashFromStr("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"[:64])
	return &chainrpc.TransactionResult{Success: true, TxID: *txid, RawHex: rawHex}, nil
}

// stubEngine is a hand-rolled mock contract engine: every sub-command
// just returns a canned result, optionally failing on a configured step.
type stubEngine struct {
	sigAllHash  [32]byte
	failStep    string
	failedJets  []string
	rawHex      string
	verifyCalls int
}

func (s *stubEngine) PSTCreate(ctx context.Context, inputs []simplicityrpc.Input, outputs []simplicityrpc.Output) (*simplicityrpc.PST, error) {
	if s.failStep == "pst_create" {
		return nil, &saperr.EngineError{Step: "pst_create", Diagnostic: "stub failure"}
	}
	return &simplicityrpc.PST{}, nil
}

func (s *stubEngine) PSTBindInput(ctx context.Context, pst *simplicityrpc.PST, index int, script []byte,
	asset [32]byte, amount int64, cmr [32]byte, internalKey [32]byte) (*simplicityrpc.PST, error) {
	if s.failStep == "pst_bind_input" {
		return nil, &saperr.EngineError{Step: "pst_bind_input", Diagnostic: "stub failure"}
	}
	return pst, nil
}

func (s *stubEngine) PSTRun(ctx context.Context, step string, pst *simplicityrpc.PST, index int, program, witness []byte) (*simplicityrpc.RunResult, error) {
	if step == "verify-run" {
		s.verifyCalls++
	}
	if s.failStep == step {
		return &simplicityrpc.RunResult{}, &saperr.EngineError{
			Step: step, Diagnostic: "stub failure", FailedJets: s.failedJets,
		}
	}
	return &simplicityrpc.RunResult{
		Jets:       []simplicityrpc.JetResult{{Name: "sig_all_hash", Success: true}},
		SigAllHash: s.sigAllHash,
	}, nil
}

func (s *stubEngine) PSTFinalize(ctx context.Context, pst *simplicityrpc.PST, index int, program, witness []byte) (*simplicityrpc.PST, error) {
	if s.failStep == "pst_finalize" {
		return nil, &saperr.EngineError{Step: "pst_finalize", Diagnostic: "stub failure"}
	}
	return pst, nil
}

func (s *stubEngine) PSTExtract(ctx context.Context, pst *simplicityrpc.PST) (string, error) {
	if s.failStep == "pst_extract" {
		return "", &saperr.EngineError{Step: "pst_extract", Diagnostic: "stub failure"}
	}
	if s.rawHex != "" {
		return s.rawHex, nil
	}
	return "deadbeef", nil
}

// stubSigner returns a fixed 64-byte signature, and otherwise never
// touches a real secret.
type stubSigner struct {
	pub [32]byte
	sig [64]byte
	err error
}

func (s *stubSigner) PublicKey() [32]byte { return s.pub }
func (s *stubSigner) Sign(ctx context.Context, digest [32]byte) ([64]byte, error) {
	return s.sig, s.err
}

func testRegistry(t *testing.T) (*contractreg.Registry, string, string) {
	t.Helper()
	params := &chaincfg.RegressionNetParams

	vaultAddr, err := btcutil.NewAddressScriptHash([]byte("vault-script"), params)
	require.NoError(t, err)
	certAddr, err := btcutil.NewAddressScriptHash([]byte("cert-script"), params)
	require.NoError(t, err)

	internalPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	reg := contractreg.New("regtest", [32]byte{0xaa}, internalPriv.PubKey(),
		contractreg.Contract{Address: vaultAddr, ScriptPubKey: []byte{0x51}, Program: []byte("vault-program")},
		contractreg.Contract{Address: certAddr, ScriptPubKey: []byte{0x52}, Program: []byte("cert-program")},
		[32]byte{0x01}, [32]byte{0x02})

	return reg, vaultAddr.EncodeAddress(), certAddr.EncodeAddress()
}

func mustHash(t *testing.T, s string) chainhash.Hash {
	t.Helper()
	h, err := chainhash.NewHashFromStr(s)
	require.NoError(t, err)
	return *h
}

// TestIssue_DelegateSuccess is scenario S1.
func TestIssue_DelegateSuccess(t *testing.T) {
	reg, vaultAddr, _ := testRegistry(t)
	vaultTxID := mustHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	ledger := &stubLedger{utxosByAddr: map[string][]chainrpc.UTXO{
		vaultAddr: {{TxID: vaultTxID, Vout: 0, Value: 100000}},
	}}
	engine := &stubEngine{sigAllHash: [32]byte{0xcc}, rawHex: "11" + "00"}
	params := &chaincfg.RegressionNetParams

	b := New(engine, ledger, reg, payload.NewCodec([3]byte{'S', 'A', 'P'}), params, 0, 0)
	signer := &stubSigner{sig: [64]byte{0x11}}

	result, err := b.Issue(context.Background(), RoleDelegate, signer,
		"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, ledger.broadcasts, 1)
}

// TestIssue_InsufficientFunds is scenario S2.
func TestIssue_InsufficientFunds(t *testing.T) {
	reg, vaultAddr, _ := testRegistry(t)
	vaultTxID := mustHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	ledger := &stubLedger{utxosByAddr: map[string][]chainrpc.UTXO{
		vaultAddr: {{TxID: vaultTxID, Vout: 0, Value: 1591}},
	}}
	engine := &stubEngine{}
	params := &chaincfg.RegressionNetParams

	b := New(engine, ledger, reg, payload.NewCodec([3]byte{'S', 'A', 'P'}), params, 0, 0)
	signer := &stubSigner{}

	_, err := b.Issue(context.Background(), RoleAdmin, signer, "cid")
	require.Error(t, err)

	var insufficient *saperr.InsufficientFunds
	require.ErrorAs(t, err, &insufficient)
	require.EqualValues(t, 1592, insufficient.Required)
	require.EqualValues(t, 1591, insufficient.Available)
	require.Empty(t, ledger.broadcasts)
}

// TestDrain_DelegatePermissionDenied is scenario S3.
func TestDrain_DelegatePermissionDenied(t *testing.T) {
	reg, _, _ := testRegistry(t)
	ledger := &stubLedger{}
	engine := &stubEngine{}
	params := &chaincfg.RegressionNetParams

	b := New(engine, ledger, reg, payload.NewCodec([3]byte{'S', 'A', 'P'}), params, 0, 0)
	signer := &stubSigner{}

	_, err := b.Drain(context.Background(), RoleDelegate, signer, "bcrt1qrecipient")
	require.Error(t, err)

	var denied *saperr.PermissionDenied
	require.ErrorAs(t, err, &denied)
	require.Empty(t, ledger.broadcasts)
}

// TestRevoke_ReasonAndReplacement is scenario S4.
func TestRevoke_ReasonAndReplacement(t *testing.T) {
	reg, _, certAddr := testRegistry(t)
	certTxID := mustHash(t, "dddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd")

	ledger := &stubLedger{utxosByAddr: map[string][]chainrpc.UTXO{
		certAddr: {{TxID: certTxID, Vout: 1, Value: 546}},
	}}
	engine := &stubEngine{sigAllHash: [32]byte{0xee}}
	params := &chaincfg.RegressionNetParams
	codec := payload.NewCodec([3]byte{'S', 'A', 'P'})

	b := New(engine, ledger, reg, codec, params, 0, 0)
	signer := &stubSigner{sig: [64]byte{0x22}}

	reason := uint8(6)
	repl := "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

	outputs, err := b.composeRevokeOutputs(chainrpc.UTXO{TxID: certTxID, Vout: 1, Value: 546},
		RevokeOptions{ReasonCode: &reason, ReplacementTxID: &repl})
	require.NoError(t, err)

	require.Len(t, outputs, 2)
	require.EqualValues(t, 546, outputs[1].Value) // fee output burns the whole value

	result, err := b.Revoke(context.Background(), RoleAdmin, signer, certTxID, 1,
		RevokeOptions{ReasonCode: &reason, ReplacementTxID: &repl})
	require.NoError(t, err)
	require.True(t, result.Success)
}

// TestPrepareFinalize_RoundTrip is scenario S5.
func TestPrepareFinalize_RoundTrip(t *testing.T) {
	reg, vaultAddr, _ := testRegistry(t)
	vaultTxID := mustHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	ledger := &stubLedger{utxosByAddr: map[string][]chainrpc.UTXO{
		vaultAddr: {{TxID: vaultTxID, Vout: 0, Value: 100000}},
	}}
	engine := &stubEngine{sigAllHash: [32]byte{0xcc}}
	params := &chaincfg.RegressionNetParams

	b := New(engine, ledger, reg, payload.NewCodec([3]byte{'S', 'A', 'P'}), params, 0, 0)

	prepared, err := b.PrepareIssue(context.Background(), RoleDelegate, "QmTest")
	require.NoError(t, err)
	require.Equal(t, [32]byte{0xcc}, prepared.Digest())
	require.Equal(t, reg.DelegatePubKey, prepared.RequiredPubKey())

	sig := make([]byte, 64)
	result, err := prepared.Finalize(context.Background(), sig)
	require.NoError(t, err)
	require.True(t, result.Success)

	// Second finalize on the same object must fail.
	_, err = prepared.Finalize(context.Background(), sig)
	require.Error(t, err)
	var already *saperr.AlreadyFinalized
	require.ErrorAs(t, err, &already)
}

// TestFinalize_InvalidSignatureLength is scenario S6.
func TestFinalize_InvalidSignatureLength(t *testing.T) {
	reg, vaultAddr, _ := testRegistry(t)
	vaultTxID := mustHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	ledger := &stubLedger{utxosByAddr: map[string][]chainrpc.UTXO{
		vaultAddr: {{TxID: vaultTxID, Vout: 0, Value: 100000}},
	}}
	engine := &stubEngine{sigAllHash: [32]byte{0xcc}}
	params := &chaincfg.RegressionNetParams

	b := New(engine, ledger, reg, payload.NewCodec([3]byte{'S', 'A', 'P'}), params, 0, 0)

	prepared, err := b.PrepareIssue(context.Background(), RoleDelegate, "QmTest")
	require.NoError(t, err)

	_, err = prepared.Finalize(context.Background(), make([]byte, 63))
	require.Error(t, err)
	var invalid *saperr.InvalidSignature
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 0, engine.verifyCalls)
}

// TestPrepareFinalize_Expired exercises the expiry enforcement of spec
// §4.H/§9.
func TestPrepareFinalize_Expired(t *testing.T) {
	reg, vaultAddr, _ := testRegistry(t)
	vaultTxID := mustHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	ledger := &stubLedger{utxosByAddr: map[string][]chainrpc.UTXO{
		vaultAddr: {{TxID: vaultTxID, Vout: 0, Value: 100000}},
	}}
	engine := &stubEngine{sigAllHash: [32]byte{0xcc}}
	params := &chaincfg.RegressionNetParams

	b := New(engine, ledger, reg, payload.NewCodec([3]byte{'S', 'A', 'P'}), params, 0, 0)

	prepared, err := b.prepare(context.Background(), "issue_certificate", RoleAdmin,
		reg.Vault, chainrpc.UTXO{TxID: vaultTxID, Vout: 0, Value: 100000}, nil,
		0, map[string]string{}, -1*time.Minute)
	require.NoError(t, err)

	_, err = prepared.Finalize(context.Background(), make([]byte, 64))
	require.Error(t, err)
	var expired *saperr.Expired
	require.ErrorAs(t, err, &expired)
}

// TestPreBroadcastAtomicity is testable property #8: a step-7 engine
// fault must prevent any broadcast call.
func TestPreBroadcastAtomicity(t *testing.T) {
	reg, vaultAddr, _ := testRegistry(t)
	vaultTxID := mustHash(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	ledger := &stubLedger{utxosByAddr: map[string][]chainrpc.UTXO{
		vaultAddr: {{TxID: vaultTxID, Vout: 0, Value: 100000}},
	}}
	engine := &stubEngine{sigAllHash: [32]byte{0xcc}, failStep: "verify-run", failedJets: []string{"jet_sig_verify"}}
	params := &chaincfg.RegressionNetParams

	b := New(engine, ledger, reg, payload.NewCodec([3]byte{'S', 'A', 'P'}), params, 0, 0)
	signer := &stubSigner{sig: [64]byte{0x11}}

	_, err := b.Issue(context.Background(), RoleAdmin, signer, "cid")
	require.Error(t, err)

	var engErr *saperr.EngineError
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, "verify-run", engErr.Step)
	require.Equal(t, []string{"jet_sig_verify"}, engErr.FailedJets)
	require.Empty(t, ledger.broadcasts)
}
