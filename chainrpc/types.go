package chainrpc

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// UTXO is an unspent transaction output as reported by the ledger,
// uniquely identified by (TxID, Vout).
type UTXO struct {
	TxID    chainhash.Hash
	Vout    uint32
	Value   btcutil.Amount
	AssetID [32]byte
	Script  []byte
}

// OutPoint returns the (TxID, Vout) pair identifying this UTXO.
func (u UTXO) OutPoint() (chainhash.Hash, uint32) { return u.TxID, u.Vout }

// TxOutput is one output of a transaction as reported by the ledger.
type TxOutput struct {
	ScriptPubKey     []byte
	ScriptPubKeyType string
	Value            btcutil.Amount
}

// TxInput is the subset of a transaction input's detail the facade needs
// to recover which spending path satisfied a covenant: its witness
// stack, the last item of which is the bit-aligned payload
// witness.DecodeVaultPath inspects.
type TxInput struct {
	Witness [][]byte
}

// Transaction is the subset of transaction detail the builder and
// facade need: enough to recover a null-data payload, locate an output's
// script, and (via Vin) recover the spending path of a past input.
type Transaction struct {
	TxID chainhash.Hash
	Vin  []TxInput
	Vout []TxOutput
}

// TxStatus is a transaction's confirmation state as reported by the
// ledger.
type TxStatus struct {
	Confirmed   bool
	BlockHeight *uint32
	BlockHash   *chainhash.Hash
}

// OutspendStatus reports whether a given output has been spent, and by
// which transaction.
type OutspendStatus struct {
	Spent        bool
	SpendingTxID *chainhash.Hash
}

// TransactionResult is the outcome of an attempt to broadcast a raw
// transaction, or of a higher-level facade operation once it reaches the
// broadcast step.
type TransactionResult struct {
	Success bool
	TxID    chainhash.Hash
	RawHex  string

	ErrKind    string
	Diagnostic string
}
