package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"patchmind/pkg/config"
	"patchmind/pkg/llm/providers"
)

func newModelsCmd(_ *cli) *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:         "models",
		Short:       "List known models, or the models installed on the Ollama server",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSecrets: "unlock"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			if provider == config.ProviderOllama {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				names, err := providers.ListOllamaModels(ctx)
				if err != nil {
					return err //nolint:wrapcheck // names the host
				}
				fmt.Fprintln(w, "MODEL\tCONTEXT")
				for _, name := range names {
					fmt.Fprintf(w, "%s\t%d\n", name, providers.ContextLimit(ctx, name))
				}
				return nil
			}

			names := make([]string, 0, len(config.KnownModels))
			for name, info := range config.KnownModels {
				if provider == "" || info.Provider == provider {
					names = append(names, name)
				}
			}
			sort.Strings(names)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tCONTEXT\tOUTPUT\t$IN/M\t$OUT/M")
			for _, name := range names {
				info := config.KnownModels[name]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.2f\t%.2f\n", name, info.Provider, info.MaxContextTokens,
					info.MaxOutputTokens, info.InputCPM, info.OutputCPM)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider; ollama queries the local server")
	return cmd
}
