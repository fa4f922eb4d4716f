// Package chainrpc is the ledger client: a thin, bounded-latency HTTP
// client for an Esplora-style chain explorer API. It owns its own HTTP
// session and a request timeout, the way the reference daemon's RPC
// client (chainview.NewBtcdFilteredChainView / rpcclient.ConnConfig) owns
// its websocket connection and is not mutated after construction.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/brcapelao/sap/internal/build"
	"github.com/brcapelao/sap/saperr"
)

var log = build.NewSubLogger(build.SubsystemChainRPC)

// DefaultTimeout is the per-operation deadline applied to every ledger
// call when the caller does not impose a tighter one via ctx, per the
// 30-second default the specification assigns to ledger I/O.
const DefaultTimeout = 30 * time.Second

// Client talks to an Esplora-style explorer over HTTPS. A Client is safe
// for concurrent use by multiple goroutines for read-only operations once
// constructed; it is never mutated afterward.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client rooted at baseURL (e.g. "https://blockstream.info/api")
// with the given per-request timeout. A zero timeout selects DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &saperr.Network{Endpoint: path, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &saperr.Network{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &saperr.Network{Endpoint: path, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &saperr.Network{
			Endpoint: path,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	return body, nil
}

type utxoWire struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
	Asset string `json:"asset,omitempty"`
}

// GetUTXOs returns the unspent outputs currently sitting at address.
func (c *Client) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	body, err := c.get(ctx, "/address/"+address+"/utxo")
	if err != nil {
		return nil, err
	}

	var wire []utxoWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &saperr.Network{Endpoint: "/address/utxo", Err: err}
	}

	out := make([]UTXO, 0, len(wire))
	for _, w := range wire {
		txid, err := chainhash.NewHashFromStr(w.TxID)
		if err != nil {
			return nil, &saperr.Network{Endpoint: "/address/utxo", Err: err}
		}

		u := UTXO{TxID: *txid, Vout: w.Vout, Value: btcutil.Amount(w.Value)}
		if w.Asset != "" {
			assetBytes, err := hex.DecodeString(w.Asset)
			if err == nil && len(assetBytes) == 32 {
				copy(u.AssetID[:], assetBytes)
			}
		}
		out = append(out, u)
	}

	return out, nil
}

// GetBalance returns the total value of address's unspent outputs.
func (c *Client) GetBalance(ctx context.Context, address string) (btcutil.Amount, error) {
	utxos, err := c.GetUTXOs(ctx, address)
	if err != nil {
		return 0, err
	}

	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Value
	}
	return total, nil
}

type txOutWire struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type"`
	Value            int64  `json:"value"`
}

type txInWire struct {
	Witness []string `json:"witness"`
}

type txWire struct {
	TxID string      `json:"txid"`
	Vin  []txInWire  `json:"vin"`
	Vout []txOutWire `json:"vout"`
}

// GetTransaction returns tx's detail, or (nil, nil) if the ledger has no
// record of it.
func (c *Client) GetTransaction(ctx context.Context, txid chainhash.Hash) (*Transaction, error) {
	body, err := c.get(ctx, "/tx/"+txid.String())
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var w txWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &saperr.Network{Endpoint: "/tx", Err: err}
	}

	outs := make([]TxOutput, len(w.Vout))
	for i, o := range w.Vout {
		script, _ := hex.DecodeString(o.ScriptPubKey)
		outs[i] = TxOutput{
			ScriptPubKey:     script,
			ScriptPubKeyType: o.ScriptPubKeyType,
			Value:            btcutil.Amount(o.Value),
		}
	}

	ins := make([]TxInput, len(w.Vin))
	for i, in := range w.Vin {
		witness := make([][]byte, 0, len(in.Witness))
		for _, item := range in.Witness {
			b, err := hex.DecodeString(item)
			if err != nil {
				continue
			}
			witness = append(witness, b)
		}
		ins[i] = TxInput{Witness: witness}
	}

	return &Transaction{TxID: txid, Vin: ins, Vout: outs}, nil
}

// GetTipHeight returns the current chain tip height, used by the
// confirmation tracker to turn a transaction's block height into a
// confirmation depth. Esplora-style backends expose this at
// /blocks/tip/height as a bare decimal integer.
func (c *Client) GetTipHeight(ctx context.Context) (uint32, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, &saperr.Network{Endpoint: "/blocks/tip/height", Err: err}
	}
	return uint32(height), nil
}

type txStatusWire struct {
	Confirmed   bool    `json:"confirmed"`
	BlockHeight *uint32 `json:"block_height,omitempty"`
	BlockHash   string  `json:"block_hash,omitempty"`
}

// GetTxStatus returns txid's confirmation status, or (nil, nil) if the
// ledger has no record of it.
func (c *Client) GetTxStatus(ctx context.Context, txid chainhash.Hash) (*TxStatus, error) {
	body, err := c.get(ctx, "/tx/"+txid.String()+"/status")
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var w txStatusWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &saperr.Network{Endpoint: "/tx/status", Err: err}
	}

	status := &TxStatus{Confirmed: w.Confirmed, BlockHeight: w.BlockHeight}
	if w.BlockHash != "" {
		h, err := chainhash.NewHashFromStr(w.BlockHash)
		if err == nil {
			status.BlockHash = h
		}
	}

	return status, nil
}

// IsUTXOSpent reports whether (txid, vout) has been spent.
func (c *Client) IsUTXOSpent(ctx context.Context, txid chainhash.Hash, vout uint32) (bool, error) {
	status, err := c.GetOutspend(ctx, txid, vout)
	if err != nil {
		return false, err
	}
	if status == nil {
		return false, nil
	}
	return status.Spent, nil
}

type outspendWire struct {
	Spent  bool   `json:"spent"`
	TxID   string `json:"txid,omitempty"`
	Status struct {
		BlockHeight *uint32 `json:"block_height,omitempty"`
	} `json:"status"`
}

// GetOutspend returns the spend status of (txid, vout).
func (c *Client) GetOutspend(ctx context.Context, txid chainhash.Hash, vout uint32) (*OutspendStatus, error) {
	body, err := c.get(ctx, fmt.Sprintf("/tx/%s/outspend/%d", txid.String(), vout))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var w outspendWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &saperr.Network{Endpoint: "/tx/outspend", Err: err}
	}

	out := &OutspendStatus{Spent: w.Spent}
	if w.TxID != "" {
		h, err := chainhash.NewHashFromStr(w.TxID)
		if err == nil {
			out.SpendingTxID = h
		}
	}

	return out, nil
}

// Broadcast submits rawHex to the ledger's transaction relay endpoint.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (*TransactionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tx",
		bytes.NewReader([]byte(rawHex)))
	if err != nil {
		return nil, &saperr.Network{Endpoint: "/tx", Err: err}
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &saperr.Network{Endpoint: "/tx", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &saperr.Network{Endpoint: "/tx", Status: resp.StatusCode, Err: err}
	}
	text := strings.TrimSpace(string(body))

	if resp.StatusCode/100 != 2 {
		return &TransactionResult{
			Success:    false,
			ErrKind:    "Broadcast",
			Diagnostic: text,
		}, nil
	}

	txid, err := chainhash.NewHashFromStr(text)
	if err != nil || len(text) != 64 {
		return &TransactionResult{
			Success:    false,
			ErrKind:    "Broadcast",
			Diagnostic: text,
		}, nil
	}

	log.Infof("broadcast accepted txid=%v", txid)

	return &TransactionResult{Success: true, TxID: *txid, RawHex: rawHex}, nil
}

// isNotFound reports whether err represents an HTTP 404 from the ledger,
// which this client treats as "no record of this resource" rather than
// an error, for the optional-return endpoints.
func isNotFound(err error) bool {
	var netErr *saperr.Network
	if !asNetwork(err, &netErr) {
		return false
	}
	return netErr.Status == http.StatusNotFound
}

func asNetwork(err error, target **saperr.Network) bool {
	ne, ok := err.(*saperr.Network)
	if !ok {
		return false
	}
	*target = ne
	return true
}
