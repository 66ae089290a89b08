package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"patchmind/pkg/tokens"
	"patchmind/pkg/workspace"
)

func newEstimateCmd(c *cli) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "estimate FILE...",
		Short: "Show budget estimates and tiktoken counts for files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				model = c.cfg.Model.Default
			}
			family := tokens.FamilyForModel(model)

			ws, err := workspace.New(c.projectDir, c.cfg.Context)
			if err != nil {
				return err //nolint:wrapcheck // names the root
			}
			ids, err := ws.Expand(args)
			if err != nil {
				return err //nolint:wrapcheck // names the path
			}
			counter, err := tokens.NewCounter()
			if err != nil {
				return err //nolint:wrapcheck // descriptive
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintf(w, "FILE\tESTIMATE (%s)\tTIKTOKEN\t\n", family)
			var totalEstimate, totalCount int
			for _, id := range ids {
				text, err := ws.Read(cmd.Context(), id)
				if err != nil {
					fmt.Fprintf(w, "%s\tskipped: %v\t\t\n", id, err)
					continue
				}
				if workspace.IsBinary([]byte(text)) {
					fmt.Fprintf(w, "%s\tskipped: binary\t\t\n", id)
					continue
				}
				estimate, count := tokens.Estimate(text, family), counter.Count(text)
				totalEstimate += estimate
				totalCount += count
				fmt.Fprintf(w, "%s\t%d\t%d\t\n", id, estimate, count)
			}
			fmt.Fprintf(w, "total\t%d\t%d\t\n", totalEstimate, totalCount)
			return w.Flush() //nolint:wrapcheck // writer error passes through
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model whose estimator to use (default from config)")
	return cmd
}
