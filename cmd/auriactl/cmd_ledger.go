package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"auria.dev/core/auria"
	"auria.dev/core/config"
	"auria.dev/core/internal/node"
	"auria.dev/core/ledger"
	"auria.dev/core/model"
)

func newLedgerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and audit settlement receipts",
	}
	cmd.AddCommand(newLedgerNodesCmd(c), newLedgerReceiptsCmd(c), newLedgerUsageCmd(c), newLedgerAuditCmd(c))
	return cmd
}

// openLedger opens the configured receipt store and the node whose chain
// is read (the --node flag, else the configured node).
func (c *cli) openLedger(nodeFlag string) (*ledger.Ledger, auria.NodeID, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, "", err
	}
	store, err := node.OpenLedgerStore(cfg.Ledger, c.logger)
	if err != nil {
		return nil, "", err
	}
	return ledger.New(store, ledger.Options{Logger: c.logger}), pickNode(cfg, nodeFlag), nil
}

func pickNode(cfg config.Config, flag string) auria.NodeID {
	if flag != "" {
		return auria.NodeID(flag)
	}
	return cfg.Node.ID
}

func newLedgerNodesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List nodes with settled receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, err := c.openLedger("")
			if err != nil {
				return err
			}
			defer l.Close()
			nodes, err := l.Nodes(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range nodes {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newLedgerReceiptsCmd(c *cli) *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Print a node's receipts in sequence order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, n, err := c.openLedger(nodeID)
			if err != nil {
				return err
			}
			defer l.Close()
			rs, err := l.Receipts(cmd.Context(), n)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), model.FromReceipts(rs))
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "node id (default: the configured node)")
	return cmd
}

func newLedgerUsageCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <license>...",
		Short: "Print settled units, requests and tokens per license",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, err := c.openLedger("")
			if err != nil {
				return err
			}
			defer l.Close()
			out := make([]model.LicenseUsage, 0, len(args))
			for _, id := range args {
				u, err := l.Usage(cmd.Context(), auria.LicenseID(id))
				if err != nil {
					return err
				}
				out = append(out, model.FromUsage(u))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

var errAuditFailed = errors.New("receipt chain failed audit")

func newLedgerAuditCmd(c *cli) *cobra.Command {
	var nodeID, trustedKey string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify a node's receipt chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, n, err := c.openLedger(nodeID)
			if err != nil {
				return err
			}
			defer l.Close()
			rs, err := l.Receipts(cmd.Context(), n)
			if err != nil {
				return err
			}
			rep := model.Audit(string(n), rs, trustedKey)
			if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if !rep.OK {
				return errAuditFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeID, "node", "", "node id (default: the configured node)")
	cmd.Flags().StringVar(&trustedKey, "trusted-key", "", "require every receipt to be signed by this key")
	return cmd
}
