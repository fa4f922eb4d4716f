package txbuilder

import "github.com/btcsuite/btcd/btcutil"

// Dust/fee policy defaults. These are policy, not protocol: New applies
// them only when its fee/certDust arguments are zero, so a deployer's
// Builder can override them by passing non-zero values, the way the
// reference wallet's StaticFeeEstimator is a value a caller constructs
// rather than a compiled-in constant.
const (
	// DefaultFeeSats is the flat fee applied to every transaction this
	// builder assembles.
	DefaultFeeSats = btcutil.Amount(500)

	// DefaultCertDustSats is the value of a certificate UTXO and the
	// floor below which a change output is not produced.
	DefaultCertDustSats = btcutil.Amount(546)
)

// MinIssueSats is the minimum vault balance required to issue a
// certificate: change dust + fee + certificate dust.
func MinIssueSats(fee, certDust btcutil.Amount) btcutil.Amount {
	return certDust + fee + certDust
}
