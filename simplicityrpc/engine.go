// Package simplicityrpc is a thin typed adapter over the external
// Simplicity command-line toolchain. The engine is a subprocess, not a
// library — a correctness/compliance choice carried over unchanged from
// the reference implementation (see the design notes on "external
// process as a dependency"). This package's only job is to shell out to
// five JSON-over-stdio sub-commands and translate a non-zero exit into a
// saperr.EngineError; it never interprets the covenant program itself.
package simplicityrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/brcapelao/sap/internal/build"
	"github.com/brcapelao/sap/saperr"
)

var log = build.NewSubLogger(build.SubsystemSimplicityRPC)

// PST is an opaque handle to a partially-signed transaction under
// construction. Its contents are whatever the engine's own exchange
// format uses; this package never parses them, only threads them through
// successive sub-commands.
type PST struct {
	raw json.RawMessage
}

// JetResult reports one jet's execution outcome during a dry-run or
// verify-run.
type JetResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}

// RunResult is the outcome of pst_run: per-jet success flags and the
// signature-all-hash digest the contract requires a Schnorr signature to
// bind to.
type RunResult struct {
	Jets       []JetResult `json:"jets"`
	SigAllHash [32]byte    `json:"-"`
}

// FailedJets returns the names of jets that did not succeed.
func (r *RunResult) FailedJets() []string {
	var failed []string
	for _, j := range r.Jets {
		if !j.Success {
			failed = append(failed, j.Name)
		}
	}
	return failed
}

// AllSucceeded reports whether every jet in the run succeeded.
func (r *RunResult) AllSucceeded() bool {
	return len(r.FailedJets()) == 0
}

// Input describes one transaction input for pst_create.
type Input struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// Output describes one transaction output for pst_create.
type Output struct {
	ScriptPubKey string `json:"script_pubkey"`
	Value        int64  `json:"value"`
	// NullData holds the hex payload for a zero-value null-data output;
	// mutually exclusive with ScriptPubKey/Value carrying a spendable
	// amount.
	NullData string `json:"null_data,omitempty"`
}

// Engine drives one instance of the Simplicity toolchain binary.
type Engine struct {
	binaryPath string
}

// defaultCacheDir is where a previously-downloaded toolchain binary is
// expected to live if it isn't on PATH, mirroring the tool-binary cache
// directory the reference Python SDK's tools.py consults; binary
// downloading itself is out of scope for this core (see spec §1).
func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", "sap", "bin")
}

// Locate finds the Simplicity engine binary: explicitPath if non-empty,
// else the first "simcli" found on PATH, else a "simcli" inside the
// default cache directory. It fails with saperr.EngineNotInstalled if
// none is executable.
func Locate(explicitPath string) (*Engine, error) {
	var searched []string

	if explicitPath != "" {
		searched = append(searched, explicitPath)
		if isExecutable(explicitPath) {
			return &Engine{binaryPath: explicitPath}, nil
		}
	}

	if p, err := exec.LookPath("simcli"); err == nil {
		return &Engine{binaryPath: p}, nil
	}
	searched = append(searched, "$PATH/simcli")

	if dir := defaultCacheDir(); dir != "" {
		candidate := filepath.Join(dir, "simcli")
		searched = append(searched, candidate)
		if isExecutable(candidate) {
			return &Engine{binaryPath: candidate}, nil
		}
	}

	return nil, &saperr.EngineNotInstalled{Searched: searched}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

// run shells out to "<binary> <subcommand>", feeding reqBody as its
// stdin and unmarshalling stdout JSON into resp. A non-zero exit becomes
// a saperr.EngineError carrying stderr as the diagnostic.
func (e *Engine) run(ctx context.Context, step, subcommand string, reqBody, resp any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return &saperr.EngineError{Step: step, Diagnostic: err.Error()}
	}

	cmd := exec.CommandContext(ctx, e.binaryPath, subcommand)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := stderr.String()
		if diag == "" {
			diag = err.Error()
		}
		log.Errorf("engine step=%s subcommand=%s failed: %s", step, subcommand, diag)
		return &saperr.EngineError{Step: step, Diagnostic: diag}
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(stdout.Bytes(), resp); err != nil {
		return &saperr.EngineError{
			Step:       step,
			Diagnostic: fmt.Sprintf("malformed engine response: %v", err),
		}
	}

	return nil
}

// PSTCreate creates a new PST from a flat list of inputs and outputs.
func (e *Engine) PSTCreate(ctx context.Context, inputs []Input, outputs []Output) (*PST, error) {
	req := struct {
		Inputs  []Input  `json:"inputs"`
		Outputs []Output `json:"outputs"`
	}{inputs, outputs}

	var raw json.RawMessage
	if err := e.run(ctx, "pst_create", "pst-create", req, &raw); err != nil {
		return nil, err
	}
	return &PST{raw: raw}, nil
}

type bindInputReq struct {
	PST         json.RawMessage `json:"pst"`
	Index       int             `json:"index"`
	Script      string          `json:"script"`
	Asset       string          `json:"asset"`
	Amount      int64           `json:"amount"`
	CMR         string          `json:"cmr"`
	InternalKey string          `json:"internal_key"`
}

// PSTBindInput attaches the spent output's metadata (script, asset,
// amount, contract commitment hash, internal key) to input index.
func (e *Engine) PSTBindInput(ctx context.Context, pst *PST, index int, script []byte,
	asset [32]byte, amount int64, cmr [32]byte, internalKey [32]byte) (*PST, error) {

	req := bindInputReq{
		PST:         pst.raw,
		Index:       index,
		Script:      hexEncode(script),
		Asset:       hexEncode(asset[:]),
		Amount:      amount,
		CMR:         hexEncode(cmr[:]),
		InternalKey: hexEncode(internalKey[:]),
	}

	var raw json.RawMessage
	if err := e.run(ctx, "pst_bind_input", "pst-bind-input", req, &raw); err != nil {
		return nil, err
	}
	return &PST{raw: raw}, nil
}

type runReq struct {
	PST     json.RawMessage `json:"pst"`
	Index   int             `json:"index"`
	Program string          `json:"program"`
	Witness string          `json:"witness"`
}

type runResp struct {
	Jets       []JetResult `json:"jets"`
	SigAllHash string      `json:"sig_all_hash"`
}

// PSTRun executes program against input index with witness attached,
// returning per-jet status and the 32-byte signature-all-hash digest.
func (e *Engine) PSTRun(ctx context.Context, step string, pst *PST, index int, program, witness []byte) (*RunResult, error) {
	req := runReq{
		PST:     pst.raw,
		Index:   index,
		Program: hexEncode(program),
		Witness: hexEncode(witness),
	}

	var resp runResp
	if err := e.run(ctx, step, "pst-run", req, &resp); err != nil {
		return nil, err
	}

	result := &RunResult{Jets: resp.Jets}
	hashBytes, err := hexDecode(resp.SigAllHash)
	if err != nil || len(hashBytes) != 32 {
		return nil, &saperr.EngineError{
			Step:       step,
			Diagnostic: "engine did not return a 32-byte sig_all_hash",
		}
	}
	copy(result.SigAllHash[:], hashBytes)

	if step == "verify-run" && !result.AllSucceeded() {
		return result, &saperr.EngineError{
			Step:       step,
			Diagnostic: "one or more jets failed",
			FailedJets: result.FailedJets(),
		}
	}

	return result, nil
}

// PSTFinalize attaches the final witness to input index, completing the
// PST.
func (e *Engine) PSTFinalize(ctx context.Context, pst *PST, index int, program, witness []byte) (*PST, error) {
	req := runReq{
		PST:     pst.raw,
		Index:   index,
		Program: hexEncode(program),
		Witness: hexEncode(witness),
	}

	var raw json.RawMessage
	if err := e.run(ctx, "pst_finalize", "pst-finalize", req, &raw); err != nil {
		return nil, err
	}
	return &PST{raw: raw}, nil
}

type extractResp struct {
	RawHex string `json:"raw_hex"`
}

// PSTExtract extracts the broadcast-ready raw transaction hex from a
// finalized PST.
func (e *Engine) PSTExtract(ctx context.Context, pst *PST) (string, error) {
	req := struct {
		PST json.RawMessage `json:"pst"`
	}{pst.raw}

	var resp extractResp
	if err := e.run(ctx, "pst_extract", "pst-extract", req, &resp); err != nil {
		return "", err
	}
	return resp.RawHex, nil
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

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexVal(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexVal(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}
