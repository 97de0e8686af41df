package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"settlement-service/internal/config"
	"settlement-service/internal/repository"
	"settlement-service/internal/server"
	"settlement-service/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	config.LoadDotEnv()

	rootCmd := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Operator commands for the settlement engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log at debug level")

	rootCmd.AddCommand(jobCmd("tick", "Charge every due recurring payment once", worker.JobRecurringTick))
	rootCmd.AddCommand(jobCmd("sweep", "Verify DIRECT payments left in PROCESSING", worker.JobVerificationSweep))
	rootCmd.AddCommand(jobCmd("overdue", "Mark unpaid bills past their due date as overdue", worker.JobBillOverdue))
	rootCmd.AddCommand(jobCmd("reminders", "Send bill and recurring payment reminders", worker.JobReminders))
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(jobsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// jobCmd runs one scheduler job under the same distributed lock the service
// uses, so it is safe to run next to live instances.
func jobCmd(use, short, job string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			app, err := server.New(ctx, config.Load(), logger)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Scheduler.RunOnce(ctx, job); err != nil {
				return fmt.Errorf("%s: %w", job, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s completed\n", job)
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the periodic jobs and their intervals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			jobs := worker.SettlementJobs(worker.JobConfig{
				TickInterval:     cfg.TickInterval,
				SweepInterval:    cfg.SweepInterval,
				ReminderInterval: cfg.ReminderInterval,
			}, nil, nil, nil, zap.NewNop())
			for _, j := range jobs {
				interval := j.Interval.String()
				if j.Interval <= 0 {
					interval = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", j.Name, interval)
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctx, cancel := signalContext()
			defer cancel()

			pool, err := config.ConnectDB(ctx, config.LoadDB(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
