package txbuilder

import (
	"context"

	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/simplicityrpc"
)

// LedgerClient is the subset of chainrpc.Client the builder drives.
// Declaring it as an interface — rather than depending on the concrete
// client directly — lets tests substitute a stub, the same seam
// htlcswitch/mock.go uses for its hand-rolled mock channel link.
type LedgerClient interface {
	GetUTXOs(ctx context.Context, address string) ([]chainrpc.UTXO, error)
	Broadcast(ctx context.Context, rawHex string) (*chainrpc.TransactionResult, error)
}

// EngineClient is the subset of simplicityrpc.Engine the builder drives.
type EngineClient interface {
	PSTCreate(ctx context.Context, inputs []simplicityrpc.Input, outputs []simplicityrpc.Output) (*simplicityrpc.PST, error)
	PSTBindInput(ctx context.Context, pst *simplicityrpc.PST, index int, script []byte,
		asset [32]byte, amount int64, cmr [32]byte, internalKey [32]byte) (*simplicityrpc.PST, error)
	PSTRun(ctx context.Context, step string, pst *simplicityrpc.PST, index int, program, witness []byte) (*simplicityrpc.RunResult, error)
	PSTFinalize(ctx context.Context, pst *simplicityrpc.PST, index int, program, witness []byte) (*simplicityrpc.PST, error)
	PSTExtract(ctx context.Context, pst *simplicityrpc.PST) (string, error)
}

var (
	_ LedgerClient = (*chainrpc.Client)(nil)
	_ EngineClient = (*simplicityrpc.Engine)(nil)
)
