package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealedmsg/internal/jwtsigner"
	"sealedmsg/pkg/sealclient"
)

func init() {
	identityInitCmd.Flags().Bool("force", false, "replace an existing identity")
	identityCmd.AddCommand(identityInitCmd, identityShowCmd)
	rootCmd.AddCommand(identityCmd)
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the local signing identity",
}

var identityInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a new identity key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		s, err := jwtsigner.Generate("")
		if err != nil {
			return err
		}
		path := sealclient.IdentityPath(cfg)
		if err := sealclient.SaveIdentity(path, s, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Identity: %s\nStored in: %s\n", s.Identity(), path)
		return nil
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the local identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadIdentity()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.Identity())
		return nil
	},
}
