package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"patchmind/pkg/persistence"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [task-id]",
		Short: "Show recent tasks, or one task in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				task, err := store.GetTask(cmd.Context(), args[0])
				if err != nil {
					return err //nolint:wrapcheck // names the id
				}
				printTask(cmd.OutOrStdout(), &task)
				return nil
			}
			tasks, err := store.ListTasks(cmd.Context(), limit)
			if err != nil {
				return err //nolint:wrapcheck // persistence errors are descriptive
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of tasks to show")
	return cmd
}

// openStore opens the history database under a fresh read-side session.
func (c *cli) openStore() (*persistence.Store, error) {
	return persistence.Open(c.resolve(c.cfg.Persistence.DBPath), uuid.NewString()) //nolint:wrapcheck // descriptive
}

func printTasks(out io.Writer, tasks []persistence.TaskRow) {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no tasks recorded")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFINISHED\tSTATE\tWORKFLOW\tMODEL\tTOKENS\tEDITS")
	for i := range tasks {
		t := &tasks[i]
		state := string(t.State)
		if t.ErrorKind != "" {
			state += " (" + t.ErrorKind + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n", shortID(t.ID), t.FinishedAt.Local().Format(time.DateTime),
			state, t.Workflow, t.Model, t.PromptTokens+t.CompletionTokens, t.Edits)
	}
	_ = w.Flush()
}

func printTask(out io.Writer, t *persistence.TaskRow) {
	fmt.Fprintf(out, "Task:       %s\n", t.ID)
	fmt.Fprintf(out, "Session:    %s\n", t.SessionID)
	fmt.Fprintf(out, "Model:      %s\n", t.Model)
	fmt.Fprintf(out, "Workflow:   %s\n", t.Workflow)
	fmt.Fprintf(out, "State:      %s\n", t.State)
	if t.ErrorKind != "" {
		fmt.Fprintf(out, "Error:      %s: %s\n", t.ErrorKind, t.Message)
	}
	fmt.Fprintf(out, "Started:    %s\n", t.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Duration:   %s\n", t.FinishedAt.Sub(t.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "Tokens:     %d prompt, %d completion\n", t.PromptTokens, t.CompletionTokens)
	fmt.Fprintf(out, "Cost:       $%.4f\n", t.Cost)
	fmt.Fprintf(out, "Edits:      %d\n", t.Edits)
}
