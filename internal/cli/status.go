package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
	"github.com/NSLS-II/sirepo-healthcheck/internal/storage"
)

type StatusCmd struct {
	*BaseCmd
	asJSON bool
}

func NewStatusCmd(base *BaseCmd) *cobra.Command {
	c := &StatusCmd{BaseCmd: base}

	cobraCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stored snapshot",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	cobraCmd.Flags().BoolVar(&c.asJSON, "json", false, "print the snapshot in its persisted JSON form")
	return cobraCmd
}

func (c *StatusCmd) run(cmd *cobra.Command, _ []string) error {
	mgr, err := c.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	loc := cfg.System.Location()

	store, closeStore, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer closeStore()

	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	out := cmd.OutOrStdout()
	if snap == nil {
		_, err := fmt.Fprintln(out, "No snapshot recorded yet.")
		return err
	}

	if c.asJSON {
		data, err := storage.EncodeSnapshot(snap, loc)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tSTATE\tCHECKED\tLAST SEEN UP\tLAST NOTIFIED")
	for _, id := range snap.Keys() {
		rec := snap[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			id,
			status.State(rec.Up),
			status.FormatTime(rec.CheckedAt, loc),
			formatOptional(rec.LastSeen, loc),
			formatOptional(rec.LastNotified, loc),
		)
	}
	return tw.Flush()
}

func formatOptional(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "never"
	}
	return status.FormatTime(*t, loc)
}
