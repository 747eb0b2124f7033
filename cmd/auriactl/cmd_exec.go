package main

import (
	"os"

	"github.com/spf13/cobra"

	"auria.dev/core/internal/node"
	"auria.dev/core/model"
)

func newExecCmd(c *cli) *cobra.Command {
	var (
		expert, tier, input, inputFile string
	)
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Assemble, run and settle one expert execution on the configured node",
		Long: `exec opens the node described by --config, runs one request through
the engine with the echo executor, and prints the settlement receipt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			req := model.ExecutionRequest{Expert: expert, Node: string(cfg.Node.ID), Tier: tier, Inputs: []byte(input)}
			if inputFile != "" {
				if req.Inputs, err = os.ReadFile(inputFile); err != nil {
					return err
				}
			}
			n, err := node.Open(cfg, node.Options{Executor: node.Echo, KeyDir: c.keyDir, Logger: c.logger})
			if err != nil {
				return err
			}
			defer n.Close()

			resp, err := model.Execute(cmd.Context(), n.Engine, req)
			if err != nil {
				_ = writeJSON(cmd.ErrOrStderr(), err)
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	f := cmd.Flags()
	f.StringVar(&expert, "expert", "", "expert id")
	f.StringVar(&tier, "tier", "standard", "requested tier")
	f.StringVar(&input, "input", "", "request input")
	f.StringVar(&inputFile, "input-file", "", "read the request input from a file")
	return cmd
}
