// Package saperr defines the closed set of error kinds the SDK can return,
// following the failure taxonomy of the specification this module
// implements. Each kind is a distinct type so callers can recover structured
// detail with errors.As instead of parsing message strings.
package saperr

import "fmt"

// Configuration signals a malformed config object or a role/key mismatch
// detected at facade construction time.
type Configuration struct {
	Reason string
}

func (e *Configuration) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// InvalidArgument signals a malformed txid/hex/CID/reason-code, or a
// replacement-txid supplied without a reason-code.
type InvalidArgument struct {
	Field  string
	Reason string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

// PayloadTooLarge signals an attestation body that exceeds the 75-byte
// null-data body limit.
type PayloadTooLarge struct {
	Size, Max int
}

func (e *PayloadTooLarge) Error() string {
	return fmt.Sprintf("payload body too large: %d bytes, max %d", e.Size, e.Max)
}

// InsufficientFunds signals a vault balance below the minimum required to
// issue a certificate.
type InsufficientFunds struct {
	Required, Available int64
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: need %d, have %d", e.Required, e.Available)
}

// VaultEmpty signals that the vault address has no UTXOs to spend.
type VaultEmpty struct {
	Address string
}

func (e *VaultEmpty) Error() string {
	return fmt.Sprintf("vault %s has no spendable outputs", e.Address)
}

// CertificateNotFound signals that the (txid, vout) named does not
// correspond to a known certificate UTXO.
type CertificateNotFound struct {
	TxID string
	Vout uint32
}

func (e *CertificateNotFound) Error() string {
	return fmt.Sprintf("certificate not found: %s:%d", e.TxID, e.Vout)
}

// PermissionDenied signals that role is not authorized to perform op.
type PermissionDenied struct {
	Role, Op string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Op)
}

// SignerError wraps any failure surfaced by a keychain.Signer, including
// signatures of the wrong length.
type SignerError struct {
	Err error
}

func (e *SignerError) Error() string { return fmt.Sprintf("signer error: %v", e.Err) }
func (e *SignerError) Unwrap() error { return e.Err }

// EngineError wraps a contract-engine adapter failure. FailedJets is
// populated only for verify-run (step 7) failures, per the specification.
type EngineError struct {
	Step       string
	Diagnostic string
	FailedJets []string
}

func (e *EngineError) Error() string {
	if len(e.FailedJets) > 0 {
		return fmt.Sprintf("engine error at %s: %s (failed jets: %v)",
			e.Step, e.Diagnostic, e.FailedJets)
	}
	return fmt.Sprintf("engine error at %s: %s", e.Step, e.Diagnostic)
}

// EngineNotInstalled signals that the contract-engine binary could not be
// located by explicit path, PATH, or cache directory.
type EngineNotInstalled struct {
	Searched []string
}

func (e *EngineNotInstalled) Error() string {
	return fmt.Sprintf("contract engine binary not found, searched: %v", e.Searched)
}

// Broadcast signals that the ledger rejected a raw transaction.
type Broadcast struct {
	TxHexExcerpt   string
	LedgerMessage string
}

func (e *Broadcast) Error() string {
	return fmt.Sprintf("broadcast rejected (%s...): %s", e.TxHexExcerpt, e.LedgerMessage)
}

// Network signals a transport-level failure talking to the ledger.
type Network struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *Network) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error at %s: HTTP %d: %v", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("network error at %s: %v", e.Endpoint, e.Err)
}
func (e *Network) Unwrap() error { return e.Err }

// TransactionNotFound signals that the ledger has no record of txid even
// after tolerating a bounded number of transient not-found polls.
type TransactionNotFound struct {
	TxID string
}

func (e *TransactionNotFound) Error() string {
	return fmt.Sprintf("transaction not found: %s", e.TxID)
}

// ConfirmationTimeout signals that wait-for-confirmation exceeded its
// deadline before reaching the target confirmation depth.
type ConfirmationTimeout struct {
	TxID             string
	Elapsed          string
	LastConfirmations uint32
}

func (e *ConfirmationTimeout) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s to confirm (last saw %d confirmations)",
		e.Elapsed, e.TxID, e.LastConfirmations)
}

// Expired signals that a PreparedTransaction was finalized after its
// expiry timestamp.
type Expired struct {
	TxType string
}

func (e *Expired) Error() string {
	return fmt.Sprintf("prepared %s transaction has expired", e.TxType)
}

// InvalidSignature signals a signature of the wrong length at finalize
// time, or a signature that failed to verify against the expected pubkey.
type InvalidSignature struct {
	Reason string
}

func (e *InvalidSignature) Error() string {
	return fmt.Sprintf("invalid signature: %s", e.Reason)
}

// AlreadyFinalized signals a second finalize call against a
// PreparedTransaction whose carrier state has already been consumed.
type AlreadyFinalized struct{}

func (e *AlreadyFinalized) Error() string {
	return "prepared transaction has already been finalized"
}
