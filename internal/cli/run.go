package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Deepreo/jobsys"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		interval time.Duration
		fanout   int
		depth    int
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the job system with a demo dependency-tree workload",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := jobsys.New(cfg, logger)
			if err != nil {
				return err
			}

			w := &treeWorkload{
				system: app.System(),
				fanout: fanout,
				depth:  depth,
				logger: logger.With("component", "workload"),
			}
			if interval > 0 {
				if err := app.Scheduler().Every("demo.tree", interval, w.Spawn); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			logger.Info("jobsys running",
				"system_id", app.System().ID(),
				"workers", app.System().WorkerCount(),
				"debug_server", cfg.Debug.Enabled,
			)
			runErr := app.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown failed", "error", err)
			}
			logger.Info("jobsys stopped", "trees_completed", w.Completed())
			return runErr
		},
	}

	cmd.Flags().DurationVar(&interval, "workload-interval", time.Second, "How often a new job tree is spawned (0 disables the workload)")
	cmd.Flags().IntVar(&fanout, "fanout", 4, "Children per node of each job tree")
	cmd.Flags().IntVar(&depth, "depth", 2, "Depth of each job tree")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}
