// Package changequeue holds proposed edits until the user applies or rejects them.
//
// Entries are independent. An entry leaves pending exactly once, and its file offsets are
// resolved against the file's current text on every apply.
package changequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"patchmind/pkg/errkind"
	"patchmind/pkg/logx"
	"patchmind/pkg/patch"
	"patchmind/pkg/proto"
	"patchmind/pkg/workspace"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

var (
	// ErrUnknownEntry is returned for ids not in the queue.
	ErrUnknownEntry = errors.New("unknown queue entry")
	// ErrNotPending is returned when applying or rejecting an entry that already left pending.
	ErrNotPending = errors.New("entry is not pending")
)

// FileStore reads and writes file text by id.
type FileStore interface {
	Read(ctx context.Context, id string) (string, error)
	Write(ctx context.Context, id, text string) error
}

// Recorder observes entry changes, typically for history persistence.
type Recorder interface {
	RecordEntry(ctx context.Context, view EntryView) error
}

// Entry is a queued edit. Start and End are the span resolved by the last successful apply.
type Entry struct {
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Edit       proto.ProposedEdit
	ID         string
	Status     Status
	Preview    string
	Diagnostic string
	Start      int
	End        int
	Confidence float64
	Kind       errkind.Kind // set when Status is failed
}

// EntryView is the read-only projection handed to the UI.
type EntryView struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ID         string    `json:"id"`
	File       string    `json:"file"`
	Status     Status    `json:"status"`
	Preview    string    `json:"preview"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Confidence float64   `json:"confidence"`
}

func (e *Entry) view() EntryView {
	v := EntryView{
		ID:         e.ID,
		File:       e.Edit.File,
		Status:     e.Status,
		Preview:    e.Preview,
		Confidence: e.Confidence,
		Diagnostic: e.Diagnostic,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	if e.Status == StatusFailed {
		v.ErrorKind = e.Kind.String()
	}
	return v
}

// Queue is an ordered set of entries. It is safe for concurrent use.
type Queue struct {
	files     FileStore
	recorder  Recorder
	clock     func() time.Time
	logger    *logx.Logger
	byID      map[string]*Entry
	order     []string
	threshold float64
	mu        sync.Mutex
	applyMu   sync.Mutex // serializes read-splice-write cycles
}

// Option configures a Queue.
type Option func(*Queue)

// WithThreshold sets the minimum match confidence for apply.
func WithThreshold(t float64) Option {
	return func(q *Queue) {
		if t > 0 && t <= 1 {
			q.threshold = t
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(q *Queue) { q.recorder = r }
}

func WithClock(clock func() time.Time) Option {
	return func(q *Queue) { q.clock = clock }
}

func New(files FileStore, opts ...Option) *Queue {
	q := &Queue{
		files:     files,
		clock:     time.Now,
		logger:    logx.NewLogger("queue"),
		byID:      make(map[string]*Entry),
		threshold: patch.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Threshold returns the acceptance threshold.
func (q *Queue) Threshold() float64 {
	return q.threshold
}

// Enqueue appends a pending entry and returns its id.
func (q *Queue) Enqueue(ctx context.Context, edit proto.ProposedEdit) string {
	now := q.clock()
	e := &Entry{
		ID:        uuid.NewString(),
		Edit:      edit,
		Status:    StatusPending,
		Preview:   Preview(edit.File, edit.Anchor, edit.Replacement),
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.byID[e.ID] = e
	q.order = append(q.order, e.ID)
	view := e.view()
	q.mu.Unlock()

	logx.DebugState(ctx, "queue", "enqueue", string(StatusPending), e.ID+" "+edit.File)
	q.record(ctx, view)
	return e.ID
}

// Apply locates the entry's anchor in the current file text and splices the replacement in.
// Failures mark the entry failed and leave the file untouched.
func (q *Queue) Apply(ctx context.Context, id string) (patch.MatchResult, error) {
	q.applyMu.Lock()
	defer q.applyMu.Unlock()

	edit, err := q.pendingEdit(id)
	if err != nil {
		return patch.NotFound(err.Error()), err
	}

	text, err := q.files.Read(ctx, edit.File)
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		text = ""
		if edit.Fragment {
			edit.Anchor = ""
		}
	case err != nil:
		q.fail(ctx, id, errkind.Internal, 0, "read: "+err.Error())
		return patch.NotFound("read failed"), fmt.Errorf("read %s: %w", edit.File, err)
	}

	// Search at the lower of the two thresholds so sub-threshold regions are reported as
	// low confidence rather than not found.
	result := patch.LocateWith(text, &edit, patch.Options{Threshold: min(q.threshold, patch.DefaultThreshold)})
	if !result.Found() {
		q.fail(ctx, id, errkind.MatchNotFound, 0, result.Reason)
		return result, errkind.New(errkind.MatchNotFound, "%s: %s", edit.File, result.Reason)
	}
	if result.Confidence < q.threshold {
		msg := fmt.Sprintf("best match %.2f below threshold %.2f", result.Confidence, q.threshold)
		q.fail(ctx, id, errkind.LowConfidenceMatch, result.Confidence, msg)
		return result, errkind.New(errkind.LowConfidenceMatch, "%s: %s", edit.File, msg)
	}

	updated := patch.Splice(text, result.Start, result.End, edit.Replacement)
	if err := q.files.Write(ctx, edit.File, updated); err != nil {
		q.fail(ctx, id, errkind.Internal, result.Confidence, "write: "+err.Error())
		return result, fmt.Errorf("write %s: %w", edit.File, err)
	}

	q.mu.Lock()
	e := q.byID[id]
	var view EntryView
	if e != nil {
		e.Status = StatusApplied
		e.Start, e.End = result.Start, result.End
		e.Confidence = result.Confidence
		e.Diagnostic = ""
		e.UpdatedAt = q.clock()
		view = e.view()
	}
	q.mu.Unlock()

	logx.DebugState(ctx, "queue", "transition", "pending -> applied", id+" "+result.String())
	if e != nil {
		q.record(ctx, view)
	}
	return result, nil
}

// Reject marks a pending entry rejected.
func (q *Queue) Reject(ctx context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrUnknownEntry)
	}
	if e.Status != StatusPending {
		status := e.Status
		q.mu.Unlock()
		return fmt.Errorf("%s is %s: %w", id, status, ErrNotPending)
	}
	e.Status = StatusRejected
	e.UpdatedAt = q.clock()
	view := e.view()
	q.mu.Unlock()

	logx.DebugState(ctx, "queue", "transition", "pending -> rejected", id)
	q.record(ctx, view)
	return nil
}

// Remove deletes an entry in any state.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownEntry)
	}
	delete(q.byID, id)
	for i, other := range q.order {
		if other == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a copy of the entry.
func (q *Queue) Get(id string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns the entries in queue order.
func (q *Queue) Snapshot() []EntryView {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]EntryView, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.byID[id].view())
	}
	return out
}

// Pending returns the ids of pending entries in queue order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, id := range q.order {
		if q.byID[id].Status == StatusPending {
			out = append(out, id)
		}
	}
	return out
}

func (q *Queue) pendingEdit(id string) (proto.ProposedEdit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return proto.ProposedEdit{}, fmt.Errorf("%s: %w", id, ErrUnknownEntry)
	}
	if e.Status != StatusPending {
		return proto.ProposedEdit{}, fmt.Errorf("%s is %s: %w", id, e.Status, ErrNotPending)
	}
	return e.Edit, nil
}

func (q *Queue) fail(ctx context.Context, id string, kind errkind.Kind, confidence float64, diagnostic string) {
	q.mu.Lock()
	e, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	e.Status = StatusFailed
	e.Kind = kind
	e.Confidence = confidence
	e.Diagnostic = diagnostic
	e.UpdatedAt = q.clock()
	view := e.view()
	q.mu.Unlock()

	logx.DebugState(ctx, "queue", "transition", "pending -> failed", id+" "+kind.String())
	q.logger.Warn("apply %s to %s failed: %s", id, e.Edit.File, diagnostic)
	q.record(ctx, view)
}

func (q *Queue) record(ctx context.Context, view EntryView) {
	if q.recorder == nil {
		return
	}
	if err := q.recorder.RecordEntry(ctx, view); err != nil {
		q.logger.Warn("record entry %s: %v", view.ID, err)
	}
}
