package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"patchmind/pkg/changequeue"
	"patchmind/pkg/contextmgr"
	"patchmind/pkg/llm"
	"patchmind/pkg/llm/middleware/metrics"
	"patchmind/pkg/llm/providers"
	"patchmind/pkg/logx"
	"patchmind/pkg/orchestrator"
	"patchmind/pkg/persistence"
	"patchmind/pkg/proto"
	"patchmind/pkg/retrieval"
	"patchmind/pkg/snippets"
	"patchmind/pkg/tokens"
	"patchmind/pkg/workflow"
	"patchmind/pkg/workspace"
)

// runtime is everything one ask invocation needs.
type runtime struct {
	workspace *workspace.Workspace
	store     *persistence.Store
	queue     *changequeue.Queue
	orch      *orchestrator.Orchestrator
	registry  *prometheus.Registry
	logger    *logx.Logger
}

type runtimeOptions struct {
	workflow  proto.WorkflowKind
	retrieval bool
	watch     bool
}

// newRuntime wires the workspace, snippet library, retriever, client factory, history store,
// change queue and orchestrator from the loaded config.
func (c *cli) newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg := c.cfg
	logger := logx.NewLogger("patchmind")

	ws, err := workspace.New(c.projectDir, cfg.Context)
	if err != nil {
		return nil, err //nolint:wrapcheck // workspace errors name the root
	}
	if opts.watch {
		if err := ws.Watch(ctx); err != nil {
			logger.Warn("file watching disabled: %v", err)
		}
	}

	library, err := snippets.Load(snippets.DefaultPath(c.projectDir))
	if err != nil {
		return nil, err //nolint:wrapcheck // already names the file
	}

	store, err := persistence.Open(c.resolve(cfg.Persistence.DBPath), uuid.NewString())
	if err != nil {
		return nil, err //nolint:wrapcheck // persistence errors are descriptive
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	usage := metrics.NewInternalRecorder()

	var counter metrics.UsageCounter
	if tc, err := tokens.NewCounter(); err == nil {
		counter = tc
	} else {
		logger.Warn("token counter unavailable, usage uses estimates: %v", err)
	}
	factory := providers.NewFactory(
		providers.WithRecorder(metrics.Tee(metrics.NewPrometheusRecorder(registry), usage)),
		providers.WithCounter(counter),
	)

	deps := orchestrator.Deps{
		Assembler: contextmgr.NewAssembler(
			contextmgr.WithFraming(workflow.Framing(opts.workflow)),
			contextmgr.WithReserve(workflow.PlanReserve(opts.workflow)),
			contextmgr.WithMaxPassages(cfg.Retrieval.MaxPassages),
			contextmgr.WithMaxFileBytes(cfg.Context.MaxFileBytes),
		),
		Files:    ws,
		Snippets: library,
		Clients:  func(model string) (llm.LLMClient, error) { return factory.CreateClient(model) },
		History:  store,
		Usage:    usage,
	}
	if opts.retrieval && cfg.Retrieval.Enabled {
		retriever := retrieval.FromConfig(&cfg.Retrieval, c.projectDir)
		if len(retriever.Sources()) > 0 {
			deps.Retrieval = retriever
		}
	}

	orch, err := orchestrator.New(deps,
		orchestrator.WithWorkflowOptions(workflow.Options{
			PollInterval: time.Duration(cfg.Workflow.PollIntervalMS) * time.Millisecond,
			MaxTokens:    cfg.Model.MaxOutputTokens,
			Temperature:  float32(cfg.Model.Temperature),
		}),
		orchestrator.WithQueryRewrite(cfg.Retrieval.RewriteQuery),
	)
	if err != nil {
		_ = store.Close()
		return nil, err //nolint:wrapcheck // construction error is descriptive
	}

	return &runtime{
		workspace: ws,
		store:     store,
		queue:     changequeue.New(ws, changequeue.WithThreshold(cfg.Matcher.Threshold), changequeue.WithRecorder(store)),
		orch:      orch,
		registry:  registry,
		logger:    logger,
	}, nil
}

func (r *runtime) close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close history: %v", err)
	}
}

// serveMetrics exposes the registry on addr until ctx ends.
func (r *runtime) serveMetrics(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err //nolint:wrapcheck // listen errors name the address
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Warn("metrics server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	r.logger.Info("serving metrics on %s/metrics", listener.Addr())
	return nil
}
