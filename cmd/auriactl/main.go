// Command auriactl administers an AURIA node: keys, licenses, shard blobs,
// bundles, the usage ledger, and one-off executions.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auria.dev/core/config"
	"auria.dev/core/keys"
	"auria.dev/core/logging"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// usageError marks failures caused by bad invocation; they exit with 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func run(args []string, out, errOut io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(errOut, "error:", err)
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

// cli carries the persistent flags and what PersistentPreRunE builds from
// them.
type cli struct {
	configPath string
	keyDir     string
	logLevel   string
	logJSON    bool

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "auriactl",
		Short:         "Administer AURIA shard licensing and expert execution",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(c.logLevel, c.logJSON)
			if err != nil {
				return usageError{err}
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "node config file (YAML)")
	pf.StringVar(&c.keyDir, "key-dir", "", "key store directory (default ~/.auria/keys)")
	pf.StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.BoolVar(&c.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		newKeyCmd(c),
		newLicenseCmd(c),
		newShardCmd(c),
		newBundleCmd(c),
		newLedgerCmd(c),
		newExecCmd(c),
		newServeCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print the auriactl version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func (c *cli) loadConfig() (config.Config, error) {
	if c.configPath == "" {
		return config.Config{}, usagef("missing --config")
	}
	return config.Load(c.configPath)
}

func (c *cli) keyStore() (*keys.KeyStore, error) { return keys.OpenKeyStore(c.keyDir) }

// signerFlags select a signing seed the way keys.Source does.
type signerFlags struct {
	seedHex string
	file    string
	name    string
	role    string
}

func (s *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.seedHex, "seed-hex", "", "ed25519 seed as 64 hex chars")
	cmd.Flags().StringVar(&s.file, "key-file", "", "file holding a hex seed")
	cmd.Flags().StringVar(&s.name, "signer", "", "key store name")
	cmd.Flags().StringVar(&s.role, "signer-role", "", "derived role under --signer")
}

func (s *signerFlags) set() bool { return s.seedHex != "" || s.file != "" || s.name != "" }

func (s *signerFlags) signer(c *cli) (keys.Signer, error) {
	ks, err := c.keyStore()
	if err != nil {
		return nil, err
	}
	seed, err := ks.Load(keys.Source{SeedHex: s.seedHex, File: s.file, Name: s.name, Role: s.role})
	if err != nil {
		return nil, usageError{err}
	}
	return keys.NewEd25519Signer(seed)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
