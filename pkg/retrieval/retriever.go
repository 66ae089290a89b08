// Package retrieval fetches external passages for the context assembler.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"patchmind/pkg/config"
	"patchmind/pkg/logx"
)

const (
	httpTimeout = 30 * time.Second
	maxParallel = 8
)

// Passage is one retrieved text fragment.
type Passage struct {
	Source string  `json:"source"`
	Title  string  `json:"title"`
	URL    string  `json:"url,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// Source is one search backend.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Passage, error)
}

// Retriever fans a query out to its sources in parallel.
type Retriever struct {
	logger         *logx.Logger
	sources        []Source
	perSourceLimit int
}

// NewRetriever creates a retriever over sources. perSourceLimit <= 0 uses the config default.
func NewRetriever(perSourceLimit int, sources ...Source) *Retriever {
	if perSourceLimit <= 0 {
		perSourceLimit = config.DefaultPerSourceLimit
	}
	return &Retriever{sources: sources, perSourceLimit: perSourceLimit, logger: logx.NewLogger("retrieval")}
}

// FromConfig builds the sources named in cfg. Google is skipped with a warning when its
// credentials are missing. Local sources resolve relative to projectDir.
func FromConfig(cfg *config.RetrievalConfig, projectDir string) *Retriever {
	logger := logx.NewLogger("retrieval")
	client := &http.Client{Timeout: httpTimeout}

	var sources []Source
	for _, name := range cfg.Sources {
		switch name {
		case config.SourceGoogle:
			key, keyErr := config.GetSecret(cfg.GoogleKeyName)
			cx, cxErr := config.GetSecret(cfg.GoogleCXName)
			if keyErr != nil || cxErr != nil {
				logger.Warn("google search disabled: set %s and %s", cfg.GoogleKeyName, cfg.GoogleCXName)
				continue
			}
			sources = append(sources, NewGoogleSource(client, key, cx))
		case config.SourceDuckDuckGo:
			sources = append(sources, NewDuckDuckGoSource(client))
		case config.SourceLocal:
			sources = append(sources, NewLocalSource(projectDir, cfg.LocalDirs...))
		default:
			logger.Warn("unknown retrieval source %q ignored", name)
		}
	}
	return NewRetriever(cfg.PerSourceLimit, sources...)
}

// Sources returns the names of the configured sources.
func (r *Retriever) Sources() []string {
	names := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		names = append(names, s.Name())
	}
	return names
}

// Fetch queries every source concurrently and returns up to limit passages, deduplicated and
// ranked by overlap with the query terms. A failing source only removes its own results;
// the error is non-nil only when every source failed.
func (r *Retriever) Fetch(ctx context.Context, query string, limit int) ([]Passage, error) {
	if limit <= 0 || len(r.sources) == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	results := make([][]Passage, len(r.sources))
	errs := make([]error, len(r.sources))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, source := range r.sources {
		g.Go(func() error {
			passages, err := source.Search(ctx, query, r.perSourceLimit)
			if err != nil {
				r.logger.Warn("source %s failed: %v", source.Name(), err)
				errs[i] = fmt.Errorf("%s: %w", source.Name(), err)
				return nil
			}
			if len(passages) > r.perSourceLimit {
				passages = passages[:r.perSourceLimit]
			}
			r.logger.Debug("source %s returned %d passages", source.Name(), len(passages))
			results[i] = passages
			return nil
		})
	}
	_ = g.Wait() // goroutines report through errs

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(r.sources) {
		return nil, fmt.Errorf("all retrieval sources failed: %w", errors.Join(errs...))
	}

	var all []Passage
	for _, passages := range results {
		all = append(all, passages...)
	}
	ranked := rank(query, dedupe(all))
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func dedupe(passages []Passage) []Passage {
	seen := make(map[string]bool, len(passages))
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		key := p.URL
		if key == "" {
			key = p.Source + "\x00" + p.Title
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func terms(text string) map[string]bool {
	out := make(map[string]bool)
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(field) > 2 {
			out[field] = true
		}
	}
	return out
}

// rank scores each passage by the fraction of query terms it contains. Ties keep source order.
func rank(query string, passages []Passage) []Passage {
	queryTerms := terms(query)
	for i := range passages {
		if len(queryTerms) == 0 {
			continue
		}
		have := terms(passages[i].Title + " " + passages[i].Text)
		var hits int
		for term := range queryTerms {
			if have[term] {
				hits++
			}
		}
		passages[i].Score = float64(hits) / float64(len(queryTerms))
	}
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	return passages
}
