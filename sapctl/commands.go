package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/brcapelao/sap"
	"github.com/brcapelao/sap/chainrpc"
	"github.com/brcapelao/sap/config"
	"github.com/brcapelao/sap/simplicityrpc"
	"github.com/brcapelao/sap/txbuilder"
)

// secretEnvVar names the environment variable a role's signing secret is
// read from — never a command-line flag, since flags end up in shell
// history and process listings.
func secretEnvVar(role string) string {
	if role == "admin" {
		return "SAP_ADMIN_SECRET"
	}
	return "SAP_DELEGATE_SECRET"
}

func loadSecret(role string) ([32]byte, error) {
	var secret [32]byte
	varName := secretEnvVar(role)

	raw, ok := os.LookupEnv(varName)
	if !ok {
		return secret, fmt.Errorf("environment variable %s is not set", varName)
	}

	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return secret, fmt.Errorf("environment variable %s must be 64 hex chars", varName)
	}
	copy(secret[:], b)
	return secret, nil
}

// buildClient assembles a sap.Client for this invocation: it loads the
// deployment config, dials the ledger and contract engine named by the
// process flags, and constructs a role-scoped Client matching
// --role. Every command shares this single construction path so an
// unauthorized drain fails for the same reason every time.
func buildClient(ctx *cli.Context) (*sap.Client, error) {
	pf, ok := ctx.App.Metadata["flags"].(*config.ProcessFlags)
	if !ok {
		return nil, fmt.Errorf("sapctl: process flags not initialized")
	}

	cfg, err := config.Load(pf.ConfigPath)
	if err != nil {
		return nil, err
	}

	ledger := chainrpc.New(pf.LedgerURL, 0)

	engine, err := simplicityrpc.Locate(pf.EnginePath)
	if err != nil {
		return nil, err
	}

	role := ctx.GlobalString("role")
	secret, err := loadSecret(role)
	if err != nil {
		return nil, err
	}

	deps := sap.Deps{
		Engine:   engine,
		Ledger:   ledger,
		Fee:      pf.FeeSats,
		CertDust: pf.CertDustSats,
	}

	if role == "admin" {
		return sap.AsAdmin(cfg, secret, deps)
	}
	return sap.AsDelegate(cfg, secret, deps)
}

func parseOutpoint(ctx *cli.Context, txidArg, voutArg string) (chainhash.Hash, uint32, error) {
	txid, err := chainhash.NewHashFromStr(txidArg)
	if err != nil {
		return chainhash.Hash{}, 0, fmt.Errorf("invalid txid %q: %w", txidArg, err)
	}
	vout, err := strconv.ParseUint(voutArg, 10, 32)
	if err != nil {
		return chainhash.Hash{}, 0, fmt.Errorf("invalid vout %q: %w", voutArg, err)
	}
	return *txid, uint32(vout), nil
}

var issueCommand = cli.Command{
	Name:      "issue",
	Usage:     "issue a new certificate bound to a content-id",
	ArgsUsage: "cid",
	Action:    issue,
}

func issue(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "issue")
	}

	client, err := buildClient(ctx)
	if err != nil {
		return err
	}

	result, err := client.IssueCertificate(context.Background(), ctx.Args().Get(0))
	if err != nil {
		return err
	}

	fmt.Printf("txid: %s\n", result.TxID)
	return nil
}

var revokeCommand = cli.Command{
	Name:      "revoke",
	Usage:     "revoke a certificate by its UTXO identity",
	ArgsUsage: "txid vout",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "recipient", Usage: "address to receive the remaining value; omit to burn it as fee"},
		cli.IntFlag{Name: "reason", Value: -1, Usage: "optional revocation reason code (0-255)"},
		cli.StringFlag{Name: "replacement", Usage: "optional replacement certificate txid; requires --reason"},
	},
	Action: revoke,
}

func revoke(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "revoke")
	}

	txid, vout, err := parseOutpoint(ctx, ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}

	client, err := buildClient(ctx)
	if err != nil {
		return err
	}

	opts := txbuilder.RevokeOptions{Recipient: ctx.String("recipient")}
	if ctx.IsSet("reason") {
		reason := uint8(ctx.Int("reason"))
		opts.ReasonCode = &reason
	}
	if ctx.IsSet("replacement") {
		repl := ctx.String("replacement")
		opts.ReplacementTxID = &repl
	}

	result, err := client.RevokeCertificate(context.Background(), txid, vout, opts)
	if err != nil {
		return err
	}

	fmt.Printf("txid: %s\n", result.TxID)
	return nil
}

var drainCommand = cli.Command{
	Name:      "drain",
	Usage:     "sweep the vault's first available UTXO to recipient (admin-only)",
	ArgsUsage: "recipient",
	Action:    drain,
}

func drain(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "drain")
	}

	client, err := buildClient(ctx)
	if err != nil {
		return err
	}

	result, err := client.DrainVault(context.Background(), ctx.Args().Get(0))
	if err != nil {
		return err
	}

	fmt.Printf("txid: %s\n", result.TxID)
	return nil
}

var verifyCommand = cli.Command{
	Name:      "verify",
	Usage:     "report a certificate's current on-chain status",
	ArgsUsage: "txid vout",
	Action:    verify,
}

func verify(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "verify")
	}

	txid, vout, err := parseOutpoint(ctx, ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}

	client, err := buildClient(ctx)
	if err != nil {
		return err
	}

	status := client.VerifyCertificate(context.Background(), txid, vout)
	fmt.Println(status.String())
	return nil
}

var listCommand = cli.Command{
	Name:   "list",
	Usage:  "list every certificate currently at the certificate address",
	Action: list,
}

func list(ctx *cli.Context) error {
	client, err := buildClient(ctx)
	if err != nil {
		return err
	}

	certs, err := client.ListCertificates(context.Background())
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"TXID", "VOUT", "CID", "STATUS"})
	for _, cert := range certs {
		t.AppendRow(table.Row{cert.TxID, cert.Vout, cert.CID, cert.Status.String()})
	}
	t.Render()
	return nil
}

var statusCommand = cli.Command{
	Name:      "status",
	Usage:     "report the confirmation state of a submitted transaction",
	ArgsUsage: "txid",
	Action:    status,
}

func status(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "status")
	}

	txid, err := chainhash.NewHashFromStr(ctx.Args().Get(0))
	if err != nil {
		return fmt.Errorf("invalid txid %q: %w", ctx.Args().Get(0), err)
	}

	client, err := buildClient(ctx)
	if err != nil {
		return err
	}

	conf, err := client.Tracker().GetStatus(context.Background(), *txid)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"TXID", "STATE", "CONFIRMATIONS"})
	t.AppendRow(table.Row{conf.TxID, conf.State.String(), conf.Confirmations})
	t.Render()
	return nil
}
