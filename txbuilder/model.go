package txbuilder

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// CertificateStatus is the lifecycle state of a certificate UTXO, per
// spec §3: created VALID by issuance, REVOKED once its UTXO is spent,
// UNKNOWN while the ledger has not yet confirmed the issuance (or is
// unreachable).
type CertificateStatus int

const (
	StatusUnknown CertificateStatus = iota
	StatusValid
	StatusRevoked
)

// String renders the status the way a list/status CLI table wants it.
func (s CertificateStatus) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusRevoked:
		return "REVOKED"
	default:
		return "UNKNOWN"
	}
}

// Certificate is the logical object a caller reasons about: the UTXO
// identifying it, the content-id recovered from its issuance payload,
// its current status, and the block heights bracketing its lifecycle
// when known.
type Certificate struct {
	TxID   chainhash.Hash
	Vout   uint32
	CID    string
	Status CertificateStatus

	IssuedHeight   *int32
	RevokedHeight  *int32
}

// RevokeOptions carries the optional parts of a revoke call: a payout
// recipient, and/or a reason code and replacement txid recorded in an
// on-chain REVOKE payload.
type RevokeOptions struct {
	// Recipient, if non-empty, receives (value - fee); otherwise the
	// whole UTXO value is burned as fee.
	Recipient string

	// ReasonCode and ReplacementTxID are optional REVOKE payload fields.
	// ReplacementTxID may only be set together with ReasonCode, per
	// payload.Codec.EncodeRevoke.
	ReasonCode      *uint8
	ReplacementTxID *string
}
