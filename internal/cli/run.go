package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

type RunCmd struct {
	*BaseCmd
}

func NewRunCmd(base *BaseCmd) *cobra.Command {
	c := &RunCmd{BaseCmd: base}

	return &cobra.Command{
		Use:   "run",
		Short: "Run a single monitoring pass",
		Long: `Probes every configured endpoint once, reconciles the results with the
stored snapshot, persists the new snapshot and sends any resulting
notification. Intended to be invoked from cron.

Exits non-zero when the snapshot cannot be persisted.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}
}

func (c *RunCmd) run(cmd *cobra.Command, _ []string) error {
	mgr, err := c.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	store, closeStore, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer closeStore()

	runner := c.runnerFactory(store, cmd.OutOrStdout())(cfg)
	report, err := runner.RunPass(cmd.Context())
	if err != nil {
		slog.Error("monitoring pass failed", "error", err)
		return err
	}

	slog.Info("monitoring pass complete",
		"run_id", report.RunID,
		"endpoints", len(report.Probes),
		"messages", len(report.Result.Messages),
		"delivered", report.Delivered,
	)
	return nil
}
