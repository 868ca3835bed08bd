package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev" // Set at build time using -ldflags

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	base := &BaseCmd{}

	rootCmd := &cobra.Command{
		Use:   "healthcheck <command> [args]",
		Short: "Periodic liveness monitor for Sirepo deployments",
		Long: `healthcheck probes a set of Sirepo endpoints, keeps their last known state
in a snapshot and notifies email and chat channels when an endpoint goes up or
down, is still down after the reminder period, or is added to or removed from
monitoring.`,
		SilenceUsage: true,
		Version:      version,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&base.ConfigPath, "config", "c", defaultConfigPath(), "path to the config file (.json, .yaml or .toml), or set "+EnvConfigFile)
	pf.StringVar(&base.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides system.log_level")
	pf.BoolVar(&base.DryRun, "dry-run", false, "print notifications to stdout instead of sending them")

	rootCmd.AddCommand(NewRunCmd(base))
	rootCmd.AddCommand(NewWatchCmd(base))
	rootCmd.AddCommand(NewStatusCmd(base))
	rootCmd.AddCommand(NewCheckCmd(base))
	rootCmd.AddCommand(NewInitCmd(base))

	return rootCmd
}
