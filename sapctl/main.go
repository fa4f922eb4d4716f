// Command sapctl is a control-plane CLI for a deployed attestation
// vault, modeled on cmd/lncli/main.go: a go-flags-parsed set of
// process-level overrides (config path, engine binary, ledger URL, log
// directory, fee policy) followed by urfave/cli command dispatch. Unlike
// lncli it never dials a gRPC server — every command constructs a
// sap.Client in-process against the same ledger and contract engine any
// other caller of this module would use.
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/urfave/cli"

	"github.com/brcapelao/sap/config"
	"github.com/brcapelao/sap/internal/build"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[sapctl] %v\n", err)
	os.Exit(1)
}

func main() {
	var pf config.ProcessFlags
	parser := flags.NewParser(&pf, flags.Default)
	remaining, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fatal(err)
	}

	if pf.LogDir != "" {
		writer, err := build.NewRotatingLogWriter(pf.LogDir+"/sapctl.log", 10, 3)
		if err != nil {
			fatal(fmt.Errorf("opening log directory %s: %w", pf.LogDir, err))
		}
		build.SetLogWriter(writer)
	}

	app := cli.NewApp()
	app.Name = "sapctl"
	app.Version = "0.1.0"
	app.Usage = "control plane for a simplicity-attestation vault deployment"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "role",
			Value: "delegate",
			Usage: "role to act as: admin or delegate",
		},
	}
	app.Metadata = map[string]interface{}{
		"flags": &pf,
	}
	app.Commands = []cli.Command{
		issueCommand,
		revokeCommand,
		drainCommand,
		verifyCommand,
		listCommand,
		statusCommand,
	}

	args := append([]string{os.Args[0]}, remaining...)
	if err := app.Run(args); err != nil {
		fatal(err)
	}
}
