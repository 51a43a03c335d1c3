package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GPTx-global/crank/oracle/daemon"
	"github.com/GPTx-global/crank/oracle/retry"
	"github.com/GPTx-global/crank/oracle/telemetry"
)

func runCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crank the feed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			cfg.Print()

			c, _, err := newCrank(cfg)
			if err != nil {
				return err
			}

			outcome, err := c.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("run %s stopped at %s: %w", outcome.RunID, outcome.Stage, err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), outcome.Signature)
			return nil
		},
	}
}

func daemonCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Crank the feed on an interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			cfg.Print()

			c, rpcClient, err := newCrank(cfg)
			if err != nil {
				return err
			}

			metrics, err := telemetry.Init()
			if err != nil {
				return fmt.Errorf("failed to init telemetry: %w", err)
			}

			commitment, _ := cfg.Commitment()
			interval := cfg.DaemonInterval()

			d := daemon.New(c, rpcClient, daemon.Options{
				Interval:   interval,
				Listen:     cfg.Daemon.Listen,
				Commitment: commitment,
				Retry: &retry.Config{
					MaxAttempts: max(cfg.Daemon.MaxAttempts, 1),
					BaseDelay:   2 * time.Second,
					MaxDelay:    interval / 2,
					Multiplier:  2.0,
				},
				Metrics: metrics,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return d.Start(ctx)
		},
	}
}

func configCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, creating the default file when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			cfg.Print()
			return nil
		},
	}
}
