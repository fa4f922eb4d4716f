package chainntnfs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/saperr"
)

// stubSource is a hand-rolled mock status source with a scripted
// sequence of responses, one per call, the last repeating.
type stubSource struct {
	mu       sync.Mutex
	statuses []*chainrpc.TxStatus
	call     int
	tip      uint32
}

func (s *stubSource) GetTxStatus(ctx context.Context, txid chainhash.Hash) (*chainrpc.TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.call
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	s.call++
	return s.statuses[idx], nil
}

func (s *stubSource) GetTipHeight(ctx context.Context) (uint32, error) {
	return s.tip, nil
}

func testTxID(t *testing.T) chainhash.Hash {
	t.Helper()
	h, err := chainhash.NewHashFromStr("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	return *h
}

// TestConfirmationTracker_Timeout is scenario S7.
func TestConfirmationTracker_Timeout(t *testing.T) {
	src := &stubSource{statuses: []*chainrpc.TxStatus{{Confirmed: false}}, tip: 100}
	tracker := New(src, 50*time.Millisecond)
	txid := testTxID(t)

	start := time.Now()
	_, err := tracker.WaitForConfirmation(context.Background(), txid, 1, 200*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	var timeout *saperr.ConfirmationTimeout
	require.ErrorAs(t, err, &timeout)
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	require.EqualValues(t, 0, timeout.LastConfirmations)
}

// TestConfirmationProgression is testable property #13: status
// transitions monotonically NOT_FOUND -> PENDING -> CONFIRMED ->
// DEEP_CONFIRMED with non-decreasing confirmations.
func TestConfirmationProgression(t *testing.T) {
	height := uint32(100)
	src := &stubSource{
		statuses: []*chainrpc.TxStatus{
			nil,
			{Confirmed: false},
			{Confirmed: true, BlockHeight: &height},
		},
		tip: 100,
	}
	tracker := New(src, time.Millisecond)
	txid := testTxID(t)

	s1, err := tracker.GetStatus(context.Background(), txid)
	require.NoError(t, err)
	require.Equal(t, StateNotFound, s1.State)

	s2, err := tracker.GetStatus(context.Background(), txid)
	require.NoError(t, err)
	require.Equal(t, StatePending, s2.State)

	src.tip = 100
	s3, err := tracker.GetStatus(context.Background(), txid)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, s3.State)
	require.EqualValues(t, 1, s3.Confirmations)

	src.mu.Lock()
	src.call = len(src.statuses) - 1
	src.mu.Unlock()
	src.tip = 100 + DeepConfirmDepth
	s4, err := tracker.GetStatus(context.Background(), txid)
	require.NoError(t, err)
	require.Equal(t, StateDeepConfirmed, s4.State)
	require.GreaterOrEqual(t, s4.Confirmations, s3.Confirmations)
}

func TestRegisterCallback_FiresOnceAndStops(t *testing.T) {
	height := uint32(100)
	src := &stubSource{statuses: []*chainrpc.TxStatus{{Confirmed: true, BlockHeight: &height}}, tip: 100}
	tracker := New(src, 20*time.Millisecond)
	txid := testTxID(t)

	done := make(chan ConfirmationStatus, 1)
	tracker.RegisterCallback(txid, 1, func(s ConfirmationStatus) { done <- s })

	select {
	case s := <-done:
		require.Equal(t, StateConfirmed, s.State)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	tracker.Stop()
}
