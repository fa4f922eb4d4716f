package txbuilder

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// chainHashFromBytes wraps a raw 32-byte txid in a chainhash.Hash,
// surfacing chainhash's own length check rather than re-implementing it.
func chainHashFromBytes(b [32]byte) (chainhash.Hash, error) {
	return chainhash.NewHash(b[:])
}
