// Package config loads the on-disk deployment configuration described in
// spec §6: network tag, asset id, taproot internal key, the two compiled
// contracts, and the two authorized public keys. Secrets are never part
// of this object — they are supplied separately to the facade
// constructors, per spec §6's explicit note that secrets are never part
// of the configuration object.
//
// Loading follows the reference daemon's loadConfig split in lnd.go: a
// go-flags-parsed struct carries process-level overrides (engine binary
// path, ledger base URL, log directory, fee/dust policy) while the deployment
// object itself — network, contracts, keys — is unmarshalled from JSON,
// since that object is deployment data, not a command-line knob.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"

	"github.com/brcapelao/sap/contractreg"
	"github.com/brcapelao/sap/saperr"
)

// ContractConfig is the on-disk shape of one compiled covenant: its
// network-prefixed address, commitment hash, script-pubkey, and program
// bytes, exactly per spec §6.
type ContractConfig struct {
	Address        string `json:"address"`
	CommitmentHash string `json:"commitment_hash"`
	ScriptPubKey   string `json:"script_pubkey"`
	Program        string `json:"program"`
}

// Config is the JSON configuration object of spec §6. It never carries
// secret material; admin_secret/delegate_secret are supplied to the
// facade constructors out of band.
type Config struct {
	NetworkTag  string          `json:"network"`
	AssetID     string          `json:"asset_id"`
	InternalKey string          `json:"internal_key"`
	Vault       ContractConfig  `json:"vault_contract"`
	Certificate ContractConfig  `json:"certificate_contract"`
	AdminPubKey string          `json:"admin_pubkey"`
	DelegatePubKey string       `json:"delegate_pubkey"`
}

// Load reads and parses a Config object from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &saperr.Configuration{Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &saperr.Configuration{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	return &cfg, nil
}

// NetParams maps Config.NetworkTag onto the corresponding chaincfg
// network parameters, following the same "liquid"/"liquidtestnet"-style
// tag the reference daemon uses to select chaincfg.MainNetParams versus
// its test counterparts.
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.NetworkTag {
	case "mainnet", "liquid":
		return &chaincfg.MainNetParams, nil
	case "testnet", "liquidtestnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest", "liquidregtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, &saperr.Configuration{Reason: fmt.Sprintf("unrecognized network tag %q", c.NetworkTag)}
	}
}

// pubKey32 decodes a 32-byte x-only hex public key.
func pubKey32(field, s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out, &saperr.Configuration{Reason: fmt.Sprintf("%s must be 64 hex chars (32 bytes), got %q", field, s)}
	}
	copy(out[:], b)
	return out, nil
}

func (c ContractConfig) toContract(params *chaincfg.Params) (contractreg.Contract, error) {
	addr, err := btcutil.DecodeAddress(c.Address, params)
	if err != nil {
		return contractreg.Contract{}, &saperr.Configuration{Reason: fmt.Sprintf("decoding contract address %q: %v", c.Address, err)}
	}

	script, err := hex.DecodeString(c.ScriptPubKey)
	if err != nil {
		return contractreg.Contract{}, &saperr.Configuration{Reason: fmt.Sprintf("decoding contract script_pubkey: %v", err)}
	}

	program, err := hex.DecodeString(c.Program)
	if err != nil {
		return contractreg.Contract{}, &saperr.Configuration{Reason: fmt.Sprintf("decoding contract program: %v", err)}
	}

	cmr, err := pubKey32("commitment_hash", c.CommitmentHash)
	if err != nil {
		return contractreg.Contract{}, err
	}

	return contractreg.Contract{
		Address:        addr,
		ScriptPubKey:   script,
		CommitmentHash: cmr,
		Program:        program,
	}, nil
}

// Registry builds a contractreg.Registry from the loaded configuration.
func (c *Config) Registry() (*contractreg.Registry, error) {
	params, err := c.NetParams()
	if err != nil {
		return nil, err
	}

	assetID, err := pubKey32("asset_id", c.AssetID)
	if err != nil {
		return nil, err
	}

	internalKeyBytes, err := pubKey32("internal_key", c.InternalKey)
	if err != nil {
		return nil, err
	}
	internalKey, err := schnorrParsePubKey(internalKeyBytes)
	if err != nil {
		return nil, &saperr.Configuration{Reason: fmt.Sprintf("internal_key is not a valid x-only point: %v", err)}
	}

	vault, err := c.Vault.toContract(params)
	if err != nil {
		return nil, err
	}
	cert, err := c.Certificate.toContract(params)
	if err != nil {
		return nil, err
	}

	adminPub, err := pubKey32("admin_pubkey", c.AdminPubKey)
	if err != nil {
		return nil, err
	}
	delegatePub, err := pubKey32("delegate_pubkey", c.DelegatePubKey)
	if err != nil {
		return nil, err
	}

	return contractreg.New(c.NetworkTag, assetID, internalKey, vault, cert, adminPub, delegatePub), nil
}

// schnorrParsePubKey lifts a 32-byte x-only key into a *btcec.PublicKey
// with the implicit-even-y convention BIP-340 x-only keys use.
func schnorrParsePubKey(x [32]byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(append([]byte{0x02}, x[:]...))
}

// ProcessFlags is the go-flags-parsed set of process-level overrides the
// sapctl binary accepts on its command line, mirroring the split lnd.go
// draws between flags-parsed runtime knobs and the file-loaded
// deployment object above.
type ProcessFlags struct {
	ConfigPath string `long:"config" description:"path to the deployment configuration JSON file" default:"sap.json"`
	EnginePath string `long:"engine" description:"path to the simcli contract-engine binary (otherwise searched on PATH and in the cache dir)"`
	LedgerURL  string `long:"ledger" description:"base URL of the Esplora-style ledger explorer API" default:"https://blockstream.info/liquid/api"`
	LogDir     string `long:"logdir" description:"directory for rotating log files; empty logs to stderr"`
	FeeSats    int64  `long:"fee" description:"flat fee, in base units, applied to every assembled transaction"`
	CertDustSats int64 `long:"cert-dust" description:"value, in base units, of a certificate UTXO"`
}

// ParseFlags parses os.Args into a ProcessFlags, following the same
// flags.NewParser(&cfg, flags.Default) idiom the reference daemon uses
// in loadConfig.
func ParseFlags(args []string) (*ProcessFlags, error) {
	var pf ProcessFlags
	parser := flags.NewParser(&pf, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &pf, nil
}
