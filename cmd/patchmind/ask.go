package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"patchmind/pkg/changequeue"
	"patchmind/pkg/errkind"
	"patchmind/pkg/llm/providers"
	"patchmind/pkg/orchestrator"
	"patchmind/pkg/proto"
)

type askFlags struct {
	files       []string
	snippets    []string
	active      string
	workflow    string
	model       string
	query       string
	budget      int
	apply       bool
	yes         bool
	noRetrieval bool
	stdinBuffer bool
}

func newAskCmd(c *cli) *cobra.Command {
	f := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask the model for changes and queue the edits it proposes",
		Example: `  patchmind ask "add a String method to Point" -f geom/point.go
  patchmind ask "split the handler" --active server/handler.go --workflow pce --apply`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{annotationSecrets: "unlock"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAsk(cmd, f, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringArrayVarP(&f.files, "file", "f", nil, "File or directory to include (repeatable)")
	cmd.Flags().StringVar(&f.active, "active", "", "Focused file, included first")
	cmd.Flags().StringArrayVar(&f.snippets, "snippet", nil, "Snippet id from .patchmind/snippets.yaml (repeatable)")
	cmd.Flags().StringVar(&f.workflow, "workflow", "", "Workflow: direct or pce (default from config)")
	cmd.Flags().StringVar(&f.model, "model", "", "Model name (default from config)")
	cmd.Flags().StringVar(&f.query, "query", "", "Retrieval query (default derived from the prompt)")
	cmd.Flags().IntVar(&f.budget, "budget", 0, "Context token budget (default derived from the model)")
	cmd.Flags().BoolVar(&f.apply, "apply", false, "Apply proposed edits after the task completes")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Apply without asking")
	cmd.Flags().BoolVar(&f.noRetrieval, "no-retrieval", false, "Skip passage retrieval")
	cmd.Flags().BoolVar(&f.stdinBuffer, "stdin-buffer", false, "Read the unsaved contents of --active from stdin")
	return cmd
}

func (c *cli) buildRequest(ctx context.Context, rt *runtime, f *askFlags, kind proto.WorkflowKind, prompt string) (*proto.GenerationRequest, error) {
	model := f.model
	if model == "" {
		model = c.cfg.Model.Default
	}
	budget := f.budget
	if budget <= 0 {
		budget = c.budgetFor(ctx, model)
	}

	files, err := rt.workspace.Expand(f.files)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidRequest, err, "expand files")
	}
	opts := []proto.RequestOption{proto.WithFiles(files...), proto.WithSnippets(f.snippets...)}
	if f.active != "" {
		opts = append(opts, proto.WithActiveFile(f.active))
	}
	if f.query != "" {
		opts = append(opts, proto.WithRetrievalQuery(f.query))
	}
	return proto.NewGenerationRequest(prompt, kind, model, budget, opts...) //nolint:wrapcheck // classified
}

// budgetFor applies the configured budget, asking Ollama for the window of local models.
func (c *cli) budgetFor(ctx context.Context, model string) int {
	b := c.cfg.Budget
	if b.Default > 0 {
		return b.Default
	}
	limit := providers.ContextLimit(ctx, model)
	budget := limit - b.OutputReserve
	if b.Max > 0 && budget > b.Max {
		budget = b.Max
	}
	if budget <= 0 {
		budget = limit / 2
	}
	return budget
}

func (c *cli) runAsk(cmd *cobra.Command, f *askFlags, prompt string) error {
	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if f.stdinBuffer && f.active == "" {
		return errkind.New(errkind.InvalidRequest, "--stdin-buffer requires --active")
	}

	kind, err := proto.ParseWorkflowKind(firstNonEmpty(f.workflow, c.cfg.Workflow.Default))
	if err != nil {
		return err //nolint:wrapcheck // classified
	}
	rt, err := c.newRuntime(ctx, runtimeOptions{workflow: kind, retrieval: !f.noRetrieval, watch: true})
	if err != nil {
		return err
	}
	defer rt.close()

	if f.stdinBuffer {
		data, err := io.ReadAll(c.in)
		if err != nil {
			return fmt.Errorf("read buffer from stdin: %w", err)
		}
		if err := rt.workspace.SetBuffer(f.active, string(data)); err != nil {
			return err //nolint:wrapcheck // names the file
		}
	}
	if c.cfg.Metrics.Enabled {
		if err := rt.serveMetrics(ctx, c.cfg.Metrics.ListenAddr); err != nil {
			rt.logger.Warn("metrics endpoint disabled: %v", err)
		}
	}

	req, err := c.buildRequest(ctx, rt, f, kind, prompt)
	if err != nil {
		return err
	}
	h, err := rt.orch.Start(ctx, req)
	if err != nil {
		return err //nolint:wrapcheck // classified
	}
	fmt.Fprintf(errOut, "task %s: %s via %s, budget %d tokens\n", shortID(h.ID), req.Model, req.Workflow, req.Budget)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
		case <-h.Done():
			return
		}
		fmt.Fprintln(errOut, "\ncancelling (interrupt again to exit)...")
		rt.orch.Cancel(h)
		select {
		case <-signals:
			fmt.Fprintln(errOut, "interrupted")
			os.Exit(130)
		case <-h.Done():
		}
	}()

	final := c.consume(ctx, h, rt.queue, out, errOut)
	<-h.Done()

	usage := h.Usage()
	fmt.Fprintf(errOut, "tokens: %d prompt, %d completion, $%.4f\n", usage.PromptTokens, usage.CompletionTokens, usage.TotalCost)

	switch final.Kind {
	case proto.EventCancelled:
		return errCancelled
	case proto.EventFailed:
		return errkind.New(final.ErrorKind, "%s", final.Message)
	}

	printSnapshot(out, rt.queue.Snapshot())
	if f.apply {
		return c.applyPending(ctx, rt.queue, f.yes, out)
	}
	return nil
}

// consume drains the task's events: tokens to out, stage banners to errOut, edits into the
// queue. It returns the terminal event.
func (c *cli) consume(ctx context.Context, h *orchestrator.TaskHandle, queue *changequeue.Queue, out, errOut io.Writer) proto.StreamEvent {
	var final proto.StreamEvent
	for ev := range h.Events() {
		switch ev.Kind {
		case proto.EventToken:
			fmt.Fprint(out, ev.Text)
		case proto.EventStageChanged:
			fmt.Fprintf(errOut, "\n== %s ==\n", ev.Stage)
		case proto.EventProposedEdit:
			queue.Enqueue(ctx, *ev.Edit)
		case proto.EventCompleted:
			fmt.Fprintln(out)
			final = ev
		case proto.EventFailed:
			fmt.Fprintf(errOut, "\nfailed (%s): %s\n", ev.ErrorKind, ev.Message)
			final = ev
		case proto.EventCancelled:
			fmt.Fprintln(errOut, "\ncancelled")
			final = ev
		}
	}
	return final
}

// applyPending applies every pending entry, asking first unless yes is set.
func (c *cli) applyPending(ctx context.Context, queue *changequeue.Queue, yes bool, out io.Writer) error {
	pending := queue.Pending()
	if len(pending) == 0 {
		return nil
	}
	if !yes && !stdinIsTerminal() {
		fmt.Fprintln(out, "not a terminal: pass --yes to apply without confirmation")
		return nil
	}

	reader := bufio.NewReader(c.in)
	failed := 0
	for _, id := range pending {
		entry, ok := queue.Get(id)
		if !ok {
			continue
		}
		if !yes && !confirm(reader, out, fmt.Sprintf("apply %s to %s?", shortID(id), entry.Edit.File)) {
			if err := queue.Reject(ctx, id); err != nil {
				return err //nolint:wrapcheck // queue errors name the entry
			}
			fmt.Fprintf(out, "rejected %s\n", shortID(id))
			continue
		}
		result, err := queue.Apply(ctx, id)
		if err != nil {
			failed++
			fmt.Fprintf(out, "failed %s: %v\n", shortID(id), err)
			continue
		}
		fmt.Fprintf(out, "applied %s to %s (%s match, confidence %.2f)\n",
			shortID(id), entry.Edit.File, result.Method, result.Confidence)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d edits could not be applied", failed, len(pending))
	}
	return nil
}

// printSnapshot lists queue entries with their previews.
func printSnapshot(out io.Writer, entries []changequeue.EntryView) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no edits proposed")
		return
	}
	fmt.Fprintf(out, "\n%d proposed edit(s):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "\n[%s] %s %s\n", shortID(e.ID), e.Status, e.File)
		if e.Diagnostic != "" {
			fmt.Fprintf(out, "  %s: %s\n", e.ErrorKind, e.Diagnostic)
		}
		fmt.Fprint(out, e.Preview)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
