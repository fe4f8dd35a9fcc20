// cmd/history.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xanthous9/intentflow/internal/history"
	"github.com/xanthous9/intentflow/internal/observability"
)

var (
	historyLimit int
	historyTask  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent executions from the history store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.History.Enabled {
			return fmt.Errorf("history is disabled; enable it and set INTENTFLOW_DATABASE_URL")
		}
		ctx := cmd.Context()
		logger := observability.GetLogger()

		store, err := history.Connect(ctx, cfg.History.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect history store: %w", err)
		}
		defer store.Close()

		records, err := store.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no executions recorded")
			return nil
		}

		for _, r := range records {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Printf("%-20s %-6s %8s  errors=%d  %s\n",
				r.CreatedAt.Format(time.DateTime), status,
				(time.Duration(r.DurationMS) * time.Millisecond).Round(time.Millisecond),
				r.ErrorCount, r.Task)
		}

		if historyTask != "" {
			rate, err := store.SuccessRate(ctx, historyTask, historyLimit)
			if err != nil {
				return err
			}
			fmt.Printf("\nsuccess rate for %q: %.0f%%\n", historyTask, rate*100)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of executions to show")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "also report the success rate for tasks containing this text")
	rootCmd.AddCommand(historyCmd)
}
