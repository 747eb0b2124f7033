package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"auria.dev/core/keys"
)

func newKeyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage local signing keys",
	}
	cmd.AddCommand(newKeyInitCmd(c), newKeyDeriveCmd(c), newKeyListCmd(c), newKeyExportCmd(c))
	return cmd
}

func newKeyInitCmd(c *cli) *cobra.Command {
	var name, seedHex string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a root key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return usagef("missing --name")
			}
			if err := keys.CheckKeyName(name); err != nil {
				return usagef("invalid --name: %v", err)
			}
			ks, err := c.keyStore()
			if err != nil {
				return err
			}
			var seed []byte
			if seedHex != "" {
				if seed, err = keys.ParseSeedHex(seedHex); err != nil {
					return usagef("invalid --seed-hex: %v", err)
				}
			} else {
				seed = make([]byte, ed25519.SeedSize)
				if _, err := rand.Read(seed); err != nil {
					return fmt.Errorf("rand: %w", err)
				}
			}
			pub, path, err := ks.InitRoot(name, seed, force)
			if err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created root key: %s\n", pub)
			fmt.Fprintf(cmd.OutOrStdout(), "Stored at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&seedHex, "seed-hex", "", "optional ed25519 seed as 64 hex chars")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key")
	return cmd
}

func newKeyDeriveCmd(c *cli) *cobra.Command {
	var from, role string
	var force bool
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a role key from a root key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || role == "" {
				return usagef("--from and --role are required")
			}
			if err := keys.CheckKeyName(from); err != nil {
				return usagef("invalid --from: %v", err)
			}
			if err := keys.CheckRole(role); err != nil {
				return usagef("invalid --role: %v", err)
			}
			ks, err := c.keyStore()
			if err != nil {
				return err
			}
			pub, path, err := ks.DeriveRole(from, role, force)
			if err != nil {
				return fmt.Errorf("derive role key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created role key: %s\n", pub)
			fmt.Fprintf(cmd.OutOrStdout(), "Stored at: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "root key name")
	cmd.Flags().StringVar(&role, "role", "", "role identifier (e.g. issuer, ledger)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing role key")
	return cmd
}

func newKeyListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys and their roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := c.keyStore()
			if err != nil {
				return err
			}
			entries, err := ks.List()
			if err != nil {
				return err
			}
			for _, e := range entries {
				if len(e.Roles) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), e.Name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Name, strings.Join(e.Roles, ","))
			}
			return nil
		},
	}
}

func newKeyExportCmd(c *cli) *cobra.Command {
	var name, role string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return usagef("missing --name")
			}
			ks, err := c.keyStore()
			if err != nil {
				return err
			}
			pub, err := ks.PublicKey(name, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pub)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&role, "role", "", "optional derived role")
	return cmd
}
