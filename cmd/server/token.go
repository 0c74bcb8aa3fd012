package main

import (
	"fmt"

	"paycore/config"
	"paycore/internal/auth"
	"paycore/internal/domain"

	"github.com/spf13/cobra"
)

// tokenCmd mints an access token for local testing against the API.
func tokenCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token [donor-id]",
		Short: "Print a signed access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != domain.RoleDonor && role != domain.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", domain.RoleDonor, domain.RoleAdmin)
			}
			cfg := config.Load()
			for _, w := range cfg.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "config:", w)
			}
			if cfg.JWT.AccessSecret == "" {
				return fmt.Errorf("JWT_ACCESS_SECRET is not set")
			}
			tok, err := auth.GenerateAccessToken(&cfg.JWT, args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", domain.RoleDonor, "DONOR or ADMIN")
	return cmd
}
