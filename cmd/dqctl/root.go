package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"dq-engine/config"
	"dq-engine/internal/app"
	"dq-engine/internal/logging"

	"github.com/spf13/cobra"
)

// errRunFailed marks a command that completed but reports failure through
// the exit status only.
var errRunFailed = errors.New("pipeline run failed")

type appFactory func() (*app.App, error)

func defaultFactory(logOut io.Writer) appFactory {
	return func() (*app.App, error) {
		cfg := config.LoadConfig()
		return app.New(cfg, logging.NewWithWriter(logOut, cfg.LogLevel))
	}
}

func execute(args []string) int {
	root := newRootCmd(defaultFactory(os.Stderr))
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(open appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "dqctl",
		Short:         "Metadata reconciliation and data quality engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(open), newMigrateCmd(open), newAPIKeyCmd(open))
	return root
}

// withApp opens the application, applies migrations and closes it after fn.
func withApp(open appFactory, fn func(a *app.App) error) error {
	a, err := open()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Migrate(); err != nil {
		return err
	}
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
