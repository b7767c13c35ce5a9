package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"pulsar/internal/crypto"
	"pulsar/internal/node"
)

func newKeygenCommand(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the node keypair",
		Long:  "Create the X25519 keypair in the key directory, or print the existing one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			var pub crypto.PublicKey
			if force {
				var priv crypto.PrivateKey
				pub, priv, err = crypto.GenerateKeypair()
				if err != nil {
					return err
				}
				if err := crypto.SaveKeypair(cfg.KeyDir, pub, priv); err != nil {
					return err
				}
			} else {
				var created bool
				pub, _, created, err = crypto.LoadOrCreateKeypair(cfg.KeyDir)
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintln(cmd.OutOrStdout(), "keypair already exists (use --force to replace it)")
				}
			}
			id := node.DeriveNodeID(pub)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key_dir: %s\n", cfg.KeyDir)
			fmt.Fprintf(out, "public_key: %s\n", hex.EncodeToString(pub[:]))
			fmt.Fprintf(out, "node_id: %s\n", hex.EncodeToString(id[:]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing keypair")
	return cmd
}
