package main

import (
	"fmt"

	"dq-engine/internal/app"

	"github.com/spf13/cobra"
)

func newAPIKeyCmd(open appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newAPIKeyCreateCmd(open), newAPIKeyListCmd(open), newAPIKeyRevokeCmd(open))
	return cmd
}

func newAPIKeyCreateCmd(open appFactory) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				key, plain, err := a.Keys.CreateAPIKey(name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:   %s\n", key.GlobalID)
				fmt.Fprintf(out, "name: %s\n", key.Name)
				fmt.Fprintf(out, "key:  %s\n", plain)
				_, err = fmt.Fprintln(cmd.ErrOrStderr(), "store this key now, it cannot be shown again")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAPIKeyListCmd(open appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				keys, err := a.Keys.ListAPIKeys()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), keys)
			})
		},
	}
}

func newAPIKeyRevokeCmd(open appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <global-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				if err := a.Keys.RevokeAPIKey(args[0]); err != nil {
					return fmt.Errorf("revoke %s: %w", args[0], err)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "revoked")
				return err
			})
		},
	}
}
