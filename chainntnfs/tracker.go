// Package chainntnfs exposes the observable confirmation states of a
// submitted transaction, adapting lnd's chainntfs.ChainNotifier — a
// push-notification interface built around btcd's websocket feed — to a
// polling idiom appropriate for an HTTP explorer backend: its
// RegisterConfirmationsNtfn becomes WaitForConfirmation and
// RegisterCallback, with a single worker goroutine stopped through a
// stop channel and joined through a done channel by Stop().
package chainntnfs

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/internal/build"
	"github.com/brcapelao/sap/saperr"
)

var log = build.NewSubLogger(build.SubsystemChainNtnfs)

// State is one of the observable confirmation states of spec §4.I.
type State int

const (
	StatePending State = iota
	StateConfirmed
	StateDeepConfirmed
	StateNotFound
	StateReplaced
)

// String renders the state the way a status CLI table wants it.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateConfirmed:
		return "CONFIRMED"
	case StateDeepConfirmed:
		return "DEEP_CONFIRMED"
	case StateNotFound:
		return "NOT_FOUND"
	case StateReplaced:
		return "REPLACED"
	default:
		return "UNKNOWN"
	}
}

// ConfirmationStatus is the observable state of a tracked transaction.
type ConfirmationStatus struct {
	TxID          chainhash.Hash
	State         State
	Confirmations uint32
	BlockHeight   *uint32
	BlockHash     *chainhash.Hash
}

// StatusSource is the subset of chainrpc.Client the tracker drives —
// declared as an interface so tests can substitute a stub, matching the
// same seam txbuilder.LedgerClient uses.
type StatusSource interface {
	GetTxStatus(ctx context.Context, txid chainhash.Hash) (*chainrpc.TxStatus, error)
	GetTipHeight(ctx context.Context) (uint32, error)
}

var _ StatusSource = (*chainrpc.Client)(nil)

// DeepConfirmDepth is the confirmation count at which a transaction's
// state graduates from CONFIRMED to DEEP_CONFIRMED. This is a policy
// choice, not a protocol constant — six confirmations is the
// conventional "safe from a typical reorg" depth, the same default the
// reference daemon's ChainNotifier callers use for
// RegisterConfirmationsNtfn on high-value channel opens.
const DeepConfirmDepth = 6

// DefaultPollInterval is how often WaitForConfirmation and the
// background callback worker re-query the ledger, per spec §4.I.
const DefaultPollInterval = 10 * time.Second

// maxNotFoundStreak is how many consecutive NOT_FOUND polls
// WaitForConfirmation tolerates before giving up, per spec §4.I.
const maxNotFoundStreak = 3

// Tracker polls a ledger for the confirmation status of submitted
// transactions. One background worker runs per Tracker instance,
// lazily started when the first callback is registered and terminated
// when the callback list empties, per spec §5.
type Tracker struct {
	ledger       StatusSource
	pollInterval time.Duration

	mu        sync.Mutex
	callbacks map[chainhash.Hash][]func(ConfirmationStatus)
	workerOn  bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs a Tracker polling ledger. A zero pollInterval selects
// DefaultPollInterval.
func New(ledger StatusSource, pollInterval time.Duration) *Tracker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Tracker{
		ledger:       ledger,
		pollInterval: pollInterval,
		callbacks:    make(map[chainhash.Hash][]func(ConfirmationStatus)),
	}
}

// GetStatus performs a single query against the ledger and translates it
// into a ConfirmationStatus, per spec §4.I's get_status entry point.
func (t *Tracker) GetStatus(ctx context.Context, txid chainhash.Hash) (*ConfirmationStatus, error) {
	status, err := t.ledger.GetTxStatus(ctx, txid)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return &ConfirmationStatus{TxID: txid, State: StateNotFound}, nil
	}
	if !status.Confirmed {
		return &ConfirmationStatus{TxID: txid, State: StatePending}, nil
	}

	tip, err := t.ledger.GetTipHeight(ctx)
	if err != nil {
		return nil, err
	}

	var confirmations uint32
	if status.BlockHeight != nil && tip >= *status.BlockHeight {
		confirmations = tip - *status.BlockHeight + 1
	} else {
		confirmations = 1
	}

	state := StateConfirmed
	if confirmations >= DeepConfirmDepth {
		state = StateDeepConfirmed
	}

	return &ConfirmationStatus{
		TxID: txid, State: state, Confirmations: confirmations,
		BlockHeight: status.BlockHeight, BlockHash: status.BlockHash,
	}, nil
}

// WaitForConfirmation blocks until txid reaches target confirmations (a
// zero target selects 1), polling every Tracker.pollInterval. A
// transient NOT_FOUND is tolerated up to maxNotFoundStreak consecutive
// polls; beyond that it fails with saperr.TransactionNotFound. Exceeding
// timeout (a zero/negative value selects 600s) without reaching target
// fails with saperr.ConfirmationTimeout.
func (t *Tracker) WaitForConfirmation(ctx context.Context, txid chainhash.Hash, target uint32, timeout time.Duration) (*ConfirmationStatus, error) {
	if target == 0 {
		target = 1
	}
	if timeout <= 0 {
		timeout = 600 * time.Second
	}

	start := time.Now()
	deadline := start.Add(timeout)
	notFoundStreak := 0
	var lastConfirmations uint32

	for {
		status, err := t.GetStatus(ctx, txid)
		if err != nil {
			return nil, err
		}

		switch status.State {
		case StateNotFound:
			notFoundStreak++
			if notFoundStreak > maxNotFoundStreak {
				return nil, &saperr.TransactionNotFound{TxID: txid.String()}
			}
		default:
			notFoundStreak = 0
			lastConfirmations = status.Confirmations
			if status.Confirmations >= target {
				return status, nil
			}
		}

		if !time.Now().Before(deadline) {
			return nil, &saperr.ConfirmationTimeout{
				TxID: txid.String(), Elapsed: time.Since(start).String(),
				LastConfirmations: lastConfirmations,
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
}

// RegisterCallback arranges for fn to be invoked exactly once, from the
// background worker, when txid reaches target confirmations. The worker
// is started lazily on the first registration and stopped once the
// callback list empties. A panic inside fn is recovered so one
// misbehaving callback cannot crash the worker, per spec §7's one named
// exception to "no error is swallowed silently".
func (t *Tracker) RegisterCallback(txid chainhash.Hash, target uint32, fn func(ConfirmationStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wrapped := func(status ConfirmationStatus) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("confirmation callback for %v panicked: %v", txid, r)
			}
		}()
		fn(status)
	}

	t.callbacks[txid] = append(t.callbacks[txid], wrapped)
	t.ensureWorkerLocked(target)
}

func (t *Tracker) ensureWorkerLocked(target uint32) {
	if t.workerOn {
		return
	}
	t.workerOn = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	go t.worker(target)
}

// worker polls every pollInterval and fires callbacks once their target
// is reached, removing them from the registry afterward. It terminates
// when no callbacks remain.
func (t *Tracker) worker(target uint32) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if len(t.callbacks) == 0 {
			t.workerOn = false
			t.mu.Unlock()
			return
		}
		pending := make(map[chainhash.Hash][]func(ConfirmationStatus), len(t.callbacks))
		for txid, fns := range t.callbacks {
			pending[txid] = fns
		}
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.pollInterval)
		for txid, fns := range pending {
			status, err := t.GetStatus(ctx, txid)
			if err != nil {
				log.Warnf("confirmation poll for %v failed: %v", txid, err)
				continue
			}
			if status.Confirmations < target {
				continue
			}
			for _, fn := range fns {
				fn(*status)
			}
			t.mu.Lock()
			delete(t.callbacks, txid)
			t.mu.Unlock()
		}
		cancel()
	}
}

// Stop signals the background worker to exit and joins it with a short
// timeout, leaving any still-pending callbacks un-invoked.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.workerOn {
		t.mu.Unlock()
		return
	}
	stopCh, doneCh := t.stopCh, t.doneCh
	t.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		log.Warnf("confirmation tracker worker did not exit within timeout")
	}
}
