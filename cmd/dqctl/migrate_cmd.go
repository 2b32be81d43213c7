package main

import (
	"fmt"

	"dq-engine/internal/app"

	"github.com/spf13/cobra"
)

func newMigrateCmd(open appFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the metadata schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(*app.App) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			})
		},
	}
}
