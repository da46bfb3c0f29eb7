package main

import (
	"fmt"

	"github.com/Shugur-Network/publisher/internal/identity"

	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create or show the signing key",
		Long:  "Create the configured key file if it does not exist and print the public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.Identity.KeyFile
			force, _ := cmd.Flags().GetBool("force")

			var (
				keys    *identity.Keys
				created bool
				err     error
			)
			if force {
				if keys, err = identity.Generate(); err == nil {
					err = identity.Save(keys, path)
				}
				created = true
			} else {
				keys, created, err = identity.LoadOrCreate(path)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "wrote new key to %s\n", path)
			}
			fmt.Fprintf(out, "pubkey: %s\nid:     %s\n", keys.PublicKey, keys.ID())
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing key file")
	return cmd
}
