package txbuilder

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// plannedOutput is one output of a transaction this builder is
// assembling, before it has been handed to the contract engine. A
// null-data output is represented the same as any other spendable
// output, with Value zero and ScriptPubKey already wrapped in the
// OP_RETURN carrier script; a fee output is the one case with a nil
// ScriptPubKey (see feeOutput).
type plannedOutput struct {
	Value        btcutil.Amount
	ScriptPubKey []byte
}

// nullDataOutput wraps payload in an OP_RETURN script, the way
// txscript.NullDataScript is used throughout the reference wallet to
// build zero-value data carriers.
func nullDataOutput(payload []byte) (plannedOutput, error) {
	script, err := txscript.NullDataScript(payload)
	if err != nil {
		return plannedOutput{}, err
	}
	return plannedOutput{Value: 0, ScriptPubKey: script}, nil
}

func spendableOutput(value btcutil.Amount, scriptPubKey []byte) plannedOutput {
	return plannedOutput{Value: value, ScriptPubKey: scriptPubKey}
}

// feeOutput builds the explicit fee output every transaction this
// builder assembles carries: a value with no spendable script, the
// confidential-ledger convention for "this amount is miner fee" (the
// Elements/Liquid fee-output idiom, distinct from Bitcoin's implicit
// input-minus-output fee).
func feeOutput(value btcutil.Amount) plannedOutput {
	return plannedOutput{Value: value}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
