package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"auria.dev/core/auria"
	"auria.dev/core/license"
)

func newLicenseCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Issue and verify shard licenses",
	}
	cmd.AddCommand(newLicenseIssueCmd(c), newLicenseVerifyCmd(c))
	return cmd
}

func newLicenseIssueCmd(c *cli) *cobra.Command {
	var (
		id, shardID, bundle string
		nodes, tiers        []string
		notBefore, notAfter string
		quota               uint64
		outPath             string
		sf                  signerFlags
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Write a license document, signed when a signer is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lic := &license.License{
				ID:     auria.LicenseID(id),
				Shard:  auria.ShardID(shardID),
				Bundle: auria.BundleID(bundle),
				Quota:  quota,
			}
			for _, n := range nodes {
				lic.Scope.Nodes = append(lic.Scope.Nodes, auria.NodeID(n))
			}
			for _, s := range tiers {
				t, err := auria.ParseTier(s)
				if err != nil {
					return usageError{err}
				}
				lic.Scope.Tiers = append(lic.Scope.Tiers, t)
			}
			var err error
			if lic.NotBefore, err = parseTime(notBefore); err != nil {
				return usagef("invalid --not-before: %v", err)
			}
			if lic.NotAfter, err = parseTime(notAfter); err != nil {
				return usagef("invalid --not-after: %v", err)
			}
			if err := lic.Check(); err != nil {
				return usageError{err}
			}
			if sf.set() {
				signer, err := sf.signer(c)
				if err != nil {
					return err
				}
				if err := license.Sign(lic, signer); err != nil {
					return err
				}
			}
			b, err := license.Encode(lic)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(outPath, b, 0o644)
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "license id")
	f.StringVar(&shardID, "shard", "", "licensed shard id")
	f.StringVar(&bundle, "bundle", "", "bundle id shared by licenses sold together")
	f.StringSliceVar(&nodes, "node", nil, "node in scope (repeatable)")
	f.StringSliceVar(&tiers, "tier", nil, "tier in scope (repeatable; default any)")
	f.StringVar(&notBefore, "not-before", "now", "start of validity (RFC 3339 or \"now\")")
	f.StringVar(&notAfter, "not-after", "", "end of validity, exclusive (RFC 3339 or a duration from now such as 720h)")
	f.Uint64Var(&quota, "quota", 0, "settled executions paid for (0 = unbounded)")
	f.StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	sf.register(cmd)
	return cmd
}

// parseTime accepts RFC 3339, "now", or a duration relative to now.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("value required")
	}
	if s == "now" {
		return time.Now().UTC().Truncate(time.Second), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().UTC().Truncate(time.Second).Add(d), nil
	}
	return time.Parse(time.RFC3339, s)
}

func newLicenseVerifyCmd(c *cli) *cobra.Command {
	var issuers []string
	cmd := &cobra.Command{
		Use:   "verify <license.json>",
		Short: "Check a license's structure and issuer signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(issuers) == 0 {
				return usagef("at least one --issuer is required")
			}
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			lic, err := license.Decode(b)
			if err != nil {
				return err
			}
			v, err := license.NewVerifier(issuers...)
			if err != nil {
				return usageError{err}
			}
			if err := v.Verify(lic); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK %s (shard %s, issuer %s)\n", lic.ID, lic.Shard, lic.Issuer)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&issuers, "issuer", nil, "trusted issuer public key \"alg:base64\" (repeatable)")
	return cmd
}
