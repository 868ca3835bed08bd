package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/NSLS-II/sirepo-healthcheck/internal/monitor"
	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
)

type CheckCmd struct {
	*BaseCmd
	signature string
	timeout   time.Duration
}

func NewCheckCmd(base *BaseCmd) *cobra.Command {
	c := &CheckCmd{BaseCmd: base}

	cobraCmd := &cobra.Command{
		Use:   "check <url>...",
		Short: "Probe URLs once without touching the snapshot or notifying",
		Long: `Probes each URL with the configured liveness rule and prints the result.
Exits non-zero when any URL is down.`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}
	cobraCmd.Flags().StringVar(&c.signature, "signature", "", "override probe.signature")
	cobraCmd.Flags().DurationVar(&c.timeout, "timeout", 0, "override probe.timeout")
	return cobraCmd
}

func (c *CheckCmd) run(cmd *cobra.Command, args []string) error {
	mgr, err := c.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	signature := cfg.Probe.Signature
	if c.signature != "" {
		signature = c.signature
	}
	timeout := cfg.Probe.TimeoutDuration()
	if c.timeout > 0 {
		timeout = c.timeout
	}
	prober := monitor.NewHTTPProber(signature, cfg.Probe.AcceptStatus, cfg.Probe.IgnoreTLS)

	down := 0
	for _, target := range args {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		res := prober.Probe(ctx, target)
		cancel()

		line := fmt.Sprintf("%s: %s (%s)", target, status.State(res.Up), res.Latency.Round(time.Millisecond))
		if res.StatusCode != 0 {
			line += fmt.Sprintf(" HTTP %d", res.StatusCode)
		}
		if res.Error != "" {
			line += ": " + res.Error
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return err
		}
		if !res.Up {
			down++
		}
	}

	if down > 0 {
		return fmt.Errorf("%d of %d endpoints down", down, len(args))
	}
	return nil
}
