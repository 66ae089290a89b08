package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"patchmind/pkg/metrics"
)

func newUsageCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <task-id>",
		Short: "Query Prometheus for a task's token usage by stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			// Prefixes are resolved against local history.
			if store, err := c.openStore(); err == nil {
				if task, getErr := store.GetTask(cmd.Context(), taskID); getErr == nil {
					taskID = task.ID
				}
				_ = store.Close()
			}

			service, err := metrics.NewQueryService(c.cfg.Metrics.PrometheusURL)
			if err != nil {
				return err //nolint:wrapcheck // descriptive
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			total, err := service.GetTaskMetrics(ctx, taskID)
			if err != nil {
				return err //nolint:wrapcheck // descriptive
			}
			stages, err := service.GetTaskTokensByStage(ctx, taskID)
			if err != nil {
				return err //nolint:wrapcheck // descriptive
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task %s\n", total.TaskID)
			fmt.Fprintf(out, "  prompt tokens:     %d\n", total.PromptTokens)
			fmt.Fprintf(out, "  completion tokens: %d\n", total.CompletionTokens)
			fmt.Fprintf(out, "  total tokens:      %d\n", total.TotalTokens)
			fmt.Fprintf(out, "  cost:              $%.4f\n", total.TotalCost)
			names := make([]string, 0, len(stages))
			for name := range stages {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  stage %-12s %d tokens\n", name+":", stages[name])
			}
			return nil
		},
	}
}
