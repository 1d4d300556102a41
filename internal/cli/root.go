package cli

import (
	"log/slog"

	"github.com/Deepreo/jobsys/config"
	"github.com/Deepreo/jobsys/modules/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string

	cfg    *config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the jobsys binary.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobsys",
		Short: "Dependency-aware job scheduler",
		Long:  "jobsys runs short jobs on a worker pool, honours parent/child dependencies and delivers callbacks on a single frame loop.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if flagLogLevel != "" {
				loaded.Log.Level = flagLogLevel
				if err := loaded.Log.Validate(); err != nil {
					return err
				}
			}
			cfg = loaded
			logger = logging.NewLogger(cfg.Log)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a yaml, json or toml config file (env overrides use the JOBSYS_ prefix)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}
