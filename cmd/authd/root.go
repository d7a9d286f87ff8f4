package main

import "github.com/spf13/cobra"

func commandRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authd",
		Short:         "Multi-tenant OIDC/OAuth2 authorization server core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(commandServe())
	cmd.AddCommand(commandVersion())
	return cmd
}
