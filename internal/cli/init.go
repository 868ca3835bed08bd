package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
)

type InitCmd struct {
	*BaseCmd
	force     bool
	email     []string
	storePath string
	reminder  int
	timezone  string
}

func NewInitCmd(base *BaseCmd) *cobra.Command {
	c := &InitCmd{BaseCmd: base}

	cobraCmd := &cobra.Command{
		Use:   "init <endpoint>...",
		Short: "Write a new config file monitoring the given endpoints",
		Long: `Writes a config file with defaults for everything not given on the command
line. The encoding follows the file extension of --config.`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.run,
	}
	f := cobraCmd.Flags()
	f.BoolVar(&c.force, "force", false, "overwrite an existing config file")
	f.StringSliceVar(&c.email, "email", nil, "email recipients to notify")
	f.StringVar(&c.storePath, "store-path", "", "snapshot file path")
	f.IntVar(&c.reminder, "reminder-period", 0, "minutes between reminders for a down endpoint")
	f.StringVar(&c.timezone, "timezone", "", "IANA timezone used to render datetimes")
	return cobraCmd
}

func (c *InitCmd) run(cmd *cobra.Command, args []string) error {
	setupLogger(c.LogLevel, cmd.ErrOrStderr())

	if _, err := os.Stat(c.ConfigPath); err == nil {
		if !c.force {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", c.ConfigPath)
		}
		if err := os.Remove(c.ConfigPath); err != nil {
			return fmt.Errorf("remove existing config: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	cfg.Endpoints = args
	if c.storePath != "" {
		cfg.Store.Path = c.storePath
	}
	if c.reminder > 0 {
		cfg.System.ReminderPeriod = c.reminder
	}
	if c.timezone != "" {
		cfg.System.Timezone = c.timezone
	}
	if len(c.email) > 0 {
		cfg.Notifiers = append(cfg.Notifiers, config.NotifierConfig{
			ID:         "email",
			Type:       config.NotifierEmail,
			Recipients: c.email,
		})
	}

	mgr, err := config.NewManager(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := mgr.Save(cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s monitoring %d endpoint(s)\n", c.ConfigPath, len(cfg.Endpoints))
	return err
}
