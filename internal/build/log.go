// Package build wires up the subsystem loggers shared by every package in
// this module, mirroring the way the reference daemon assembles its
// per-subsystem btclog.Logger instances behind a single rotating backend.
package build

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// The Subsystem* constants are the short, fixed-width identifiers that prefix every
// log line, keyed by the package that owns the logger. New subsystems
// should add an entry here rather than invent an ad-hoc tag inline.
const (
	SubsystemPayload       = "PAYL"
	SubsystemWitness       = "WTNS"
	SubsystemKeychain      = "KCHN"
	SubsystemChainRPC      = "CRPC"
	SubsystemSimplicityRPC = "SMPL"
	SubsystemContractReg   = "CREG"
	SubsystemTxBuilder     = "TXBD"
	SubsystemChainNtnfs    = "NTFN"
	SubsystemFacade        = "SAPC"
	SubsystemCLI           = "SPCT"
)

// redirectWriter forwards every write to whichever writer SetLogWriter
// last installed, so loggers created before the switch follow it too.
type redirectWriter struct {
	w io.Writer
}

func (r *redirectWriter) Write(p []byte) (int, error) { return r.w.Write(p) }

var logOutput = &redirectWriter{w: os.Stderr}

var backend = btclog.NewBackend(logOutput)

// NewSubLogger returns a logger tagged with subsystem, backed by the
// package-wide backend. Callers keep the returned logger in a package-level
// var and may later redirect it with SetLogWriter.
func NewSubLogger(subsystem string) btclog.Logger {
	return backend.Logger(subsystem)
}

// SetLogWriter redirects all subsystem loggers created via NewSubLogger to
// w instead of stderr. Intended for cmd/sapctl, which wires in a rotating
// log file the way the reference daemon's lndMain does with backendLog.
func SetLogWriter(w io.Writer) {
	logOutput.w = w
}

// NewRotatingLogWriter opens (creating parent directories as needed) a log
// file at path that rotates once it exceeds maxSizeMB, keeping at most
// maxFiles old rotations around.
func NewRotatingLogWriter(path string, maxSizeMB, maxFiles int) (*rotator.Rotator, error) {
	dir := dirOf(path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	return rotator.New(path, int64(maxSizeMB*1024), false, maxFiles)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
