package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Run a single recalculation pass and print its summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		a.dispatcher.Start(ctx)
		summary, err := a.scheduler.RunOnce(ctx)
		a.dispatcher.Close()
		if err != nil {
			return fmt.Errorf("recalculation pass: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "entities:    %d (changed %d, skipped %d, failed %d)\n", summary.Entities, summary.Changed, summary.Skipped, summary.Failed)
		fmt.Fprintf(out, "requests:    %d\n", summary.Requests)
		fmt.Fprintf(out, "escalations: %d\n", summary.Escalations)
		fmt.Fprintf(out, "breaches:    %d\n", summary.Breaches)
		return nil
	},
}
