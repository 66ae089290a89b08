// Package contextmgr assembles token-bounded prompt context from files, snippets and
// retrieved passages.
package contextmgr

import (
	"context"
	"errors"

	"patchmind/pkg/config"
	"patchmind/pkg/errkind"
	"patchmind/pkg/logx"
	"patchmind/pkg/proto"
	"patchmind/pkg/retrieval"
	"patchmind/pkg/snippets"
	"patchmind/pkg/tokens"
	"patchmind/pkg/workspace"
)

// FileProvider reads file text by id.
type FileProvider interface {
	Read(ctx context.Context, id string) (string, error)
}

// SnippetProvider resolves snippet ids in order.
type SnippetProvider interface {
	Resolve(ids []string) ([]snippets.Snippet, error)
}

// RetrievalProvider fetches external passages. Partial failure returns fewer passages.
type RetrievalProvider interface {
	Fetch(ctx context.Context, query string, limit int) ([]retrieval.Passage, error)
}

// Assembler builds Bundles. It holds configuration only and is safe for concurrent use.
type Assembler struct {
	logger       *logx.Logger
	framing      string
	reserve      int
	maxPassages  int
	maxFileBytes int64
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithFraming sets the fixed system text that accompanies every prompt. Its cost is charged
// to the instruction segment.
func WithFraming(text string) Option {
	return func(a *Assembler) { a.framing = text }
}

// WithReserve charges n more tokens to the instruction segment, for prompt text the
// workflow only produces at run time such as a generated plan.
func WithReserve(n int) Option {
	return func(a *Assembler) { a.reserve = max(0, n) }
}

// WithMaxPassages caps retrieved passages; 0 disables retrieval.
func WithMaxPassages(n int) Option {
	return func(a *Assembler) { a.maxPassages = n }
}

// WithMaxFileBytes skips files larger than n bytes.
func WithMaxFileBytes(n int64) Option {
	return func(a *Assembler) { a.maxFileBytes = n }
}

func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		logger:       logx.NewLogger("context"),
		maxPassages:  config.DefaultMaxPassages,
		maxFileBytes: config.DefaultMaxFileBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// builder carries the running state of one Build call.
type builder struct {
	bundle *Bundle
	family tokens.Family
	done   bool
}

// add includes seg whole if it fits. Otherwise truncatable segments are cut to the remaining
// budget, and assembly stops. It reports whether scanning should continue.
func (b *builder) add(seg Segment, header, body, footer string) bool {
	if b.done {
		return false
	}
	if b.bundle.Total+seg.Tokens <= b.bundle.Budget {
		b.bundle.Segments = append(b.bundle.Segments, seg)
		b.bundle.Total += seg.Tokens
		return true
	}

	b.done = true
	b.bundle.Truncated = true
	if !seg.Kind.truncatable() {
		return false
	}
	remaining := b.bundle.Budget - b.bundle.Total
	// ceil(a+b) <= ceil(a)+ceil(b), so the wrapped prefix never exceeds remaining.
	bodyLimit := remaining - tokens.Estimate(header+footer, b.family)
	prefix := tokens.TruncateToTokens(body, bodyLimit, b.family)
	if prefix == "" {
		return false
	}
	seg.Text = header + prefix + footer
	seg.Tokens = tokens.Estimate(seg.Text, b.family)
	seg.Truncated = true
	b.bundle.Segments = append(b.bundle.Segments, seg)
	b.bundle.Total += seg.Tokens
	return false
}

func (b *builder) addFile(id, text string, kind SegmentKind) bool {
	header, footer := fileMarkers(id)
	wrapped := header + text + footer
	return b.add(Segment{Source: id, Kind: kind, Text: wrapped, Tokens: tokens.Estimate(wrapped, b.family)}, header, text, footer)
}

// Build assembles the context for req. Segments are taken in priority order (active file,
// checked files, snippets, passages) and the first one that does not fit ends the scan.
// It fails with BudgetExceeded when the instruction alone does not fit.
func (a *Assembler) Build(ctx context.Context, req *proto.GenerationRequest, files FileProvider,
	snippetLib SnippetProvider, retriever RetrievalProvider,
) (*Bundle, error) {
	family := tokens.FamilyForModel(req.Model)
	instructionCost := tokens.Estimate(req.Prompt, family)
	if a.framing != "" {
		instructionCost = tokens.Estimate(a.framing+"\n\n"+req.Prompt, family)
	}
	instructionCost += a.reserve
	if instructionCost > req.Budget {
		return nil, errkind.New(errkind.BudgetExceeded,
			"instruction needs %d tokens but the budget is %d", instructionCost, req.Budget)
	}

	b := &builder{
		family: family,
		bundle: &Bundle{
			Budget:   req.Budget,
			Total:    instructionCost,
			Segments: []Segment{{Source: "prompt", Kind: KindInstruction, Text: req.Prompt, Tokens: instructionCost}},
		},
	}

	if req.ActiveFile != "" {
		text, err := files.Read(ctx, req.ActiveFile)
		switch {
		case errors.Is(err, workspace.ErrTooLarge):
			a.skip(b.bundle, req.ActiveFile, "too large")
		case err != nil:
			return nil, errkind.Wrap(errkind.InvalidRequest, err, "read active file")
		case !a.usable(b.bundle, req.ActiveFile, text):
		default:
			b.addFile(req.ActiveFile, text, KindActiveFile)
		}
	}

	for _, id := range req.Files {
		if b.done {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // context errors pass through
		}
		if id == req.ActiveFile {
			continue
		}
		text, err := files.Read(ctx, id)
		if err != nil {
			a.skip(b.bundle, id, err.Error())
			continue
		}
		if a.usable(b.bundle, id, text) {
			b.addFile(id, text, KindFile)
		}
	}

	if !b.done && len(req.Snippets) > 0 && snippetLib != nil {
		resolved, err := snippetLib.Resolve(req.Snippets)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidRequest, err, "resolve snippets")
		}
		for _, s := range resolved {
			seg := Segment{Source: "snippet:" + s.ID, Kind: KindSnippet, Text: s.Text, Tokens: tokens.Estimate(s.Text, family)}
			if !b.add(seg, "", s.Text, "") {
				break
			}
		}
	}

	if !b.done && retriever != nil && a.maxPassages > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // context errors pass through
		}
		query := req.RetrievalQuery
		if query == "" {
			query = req.Prompt
		}
		passages, err := retriever.Fetch(ctx, query, a.maxPassages)
		if err != nil {
			a.logger.Warn("retrieval failed, continuing without passages: %v", err)
		}
		for i := range passages {
			p := &passages[i]
			header, footer := passageMarkers(p)
			wrapped := header + p.Text + footer
			seg := Segment{Source: p.URL, Kind: KindPassage, Text: wrapped, Tokens: tokens.Estimate(wrapped, family)}
			if seg.Source == "" {
				seg.Source = p.Source + ": " + p.Title
			}
			if !b.add(seg, header, p.Text, footer) {
				break
			}
		}
	}

	logx.Debug(ctx, "context", "built %d segments, %d/%d tokens", len(b.bundle.Segments), b.bundle.Total, b.bundle.Budget)
	if b.bundle.Truncated {
		a.logger.Info("context truncated at %d/%d tokens", b.bundle.Total, b.bundle.Budget)
	}
	return b.bundle, nil
}

// usable filters binary and oversized text. Skipped files do not count as truncation.
func (a *Assembler) usable(bundle *Bundle, id, text string) bool {
	if int64(len(text)) > a.maxFileBytes {
		a.skip(bundle, id, "too large")
		return false
	}
	if workspace.IsBinary([]byte(text)) {
		a.skip(bundle, id, "binary")
		return false
	}
	return true
}

func (a *Assembler) skip(bundle *Bundle, id, reason string) {
	a.logger.Debug("skipping %s: %s", id, reason)
	bundle.Skipped = append(bundle.Skipped, id)
}
