package main

import (
	"context"
	"os/signal"
	"syscall"

	"dq-engine/internal/app"
	"dq-engine/internal/pipeline"

	"github.com/spf13/cobra"
)

func newRunCmd(open appFactory) *cobra.Command {
	var (
		sourceID uint
		date     string
		force    bool
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for one data source, or for all of them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && sourceID == 0 {
				return cmd.Usage()
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return withApp(open, func(a *app.App) error {
				if all {
					return runAll(ctx, cmd, a)
				}
				res, err := a.Pipelines.TriggerRun(ctx, pipeline.RunRequest{
					DataSourceID: sourceID,
					RunDate:      date,
					Force:        force,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Status != pipeline.RunSucceeded {
					return errRunFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().UintVar(&sourceID, "source", 0, "data source id")
	cmd.Flags().StringVar(&date, "date", "", "run date, YYYY-MM-DD (default today, UTC)")
	cmd.Flags().BoolVar(&force, "force", false, "apply an empty, non-confident discovery")
	cmd.Flags().BoolVar(&all, "all", false, "run every active data source")
	cmd.MarkFlagsMutuallyExclusive("source", "all")
	return cmd
}

func runAll(ctx context.Context, cmd *cobra.Command, a *app.App) error {
	summary, err := a.Scheduler.RunAll(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return errRunFailed
	}
	return nil
}
