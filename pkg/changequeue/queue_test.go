package changequeue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchmind/internal/mocks"
	"patchmind/pkg/errkind"
	"patchmind/pkg/patch"
	"patchmind/pkg/proto"
)

const calc = `package calc

func inc(x int) int {
	return x + 1
}

func dec(x int) int {
	return x - 1
}
`

type recorded struct {
	views []EntryView
	mu    sync.Mutex
}

func (r *recorded) RecordEntry(_ context.Context, view EntryView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
	return nil
}

func newQueue(t *testing.T, files map[string]string, opts ...Option) (*Queue, *mocks.MemFiles) {
	t.Helper()
	store := mocks.NewMemFiles(files)
	return New(store, opts...), store
}

func TestApplyExactMatch(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc})
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "return x + 1", Replacement: "return x + 2"})

	result, err := q.Apply(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, patch.ExactConfidence, result.Confidence, 1e-9)

	text, _ := store.Get("calc.go")
	assert.Contains(t, text, "return x + 2")
	assert.NotContains(t, text, "return x + 1")

	entry, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusApplied, entry.Status)
	assert.Equal(t, result.Start, entry.Start)
	assert.Equal(t, result.End, entry.End)
	assert.Empty(t, q.Pending())
}

func TestApplyDriftedAnchor(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc})
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{
		File:        "calc.go",
		Anchor:      "func inc(value int) int {\n\treturn value + 1\n}\n",
		Replacement: "func inc(x int) int {\n\treturn x + 2\n}\n",
	})

	result, err := q.Apply(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, patch.MethodSimilarity, result.Method)
	assert.GreaterOrEqual(t, result.Confidence, patch.DefaultThreshold)

	text, _ := store.Get("calc.go")
	assert.Contains(t, text, "return x + 2")
	assert.Contains(t, text, "return x - 1")
	assert.Equal(t, StatusApplied, q.Snapshot()[0].Status)
}

func TestApplyNotFoundLeavesFileUntouched(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc})
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "SELECT * FROM users", Replacement: "x"})

	result, err := q.Apply(ctx, id)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.MatchNotFound))
	assert.False(t, result.Found())

	text, _ := store.Get("calc.go")
	assert.Equal(t, calc, text)
	assert.Empty(t, store.Writes())

	view := q.Snapshot()[0]
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, "match_not_found", view.ErrorKind)
	assert.NotEmpty(t, view.Diagnostic)
}

func TestApplyLowConfidence(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc}, WithThreshold(0.99))
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "func inc(value int) int {\n\treturn value + 1\n}\n"})

	result, err := q.Apply(ctx, id)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.LowConfidenceMatch))
	assert.True(t, result.Found())
	assert.Empty(t, store.Writes())

	entry, _ := q.Get(id)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Equal(t, errkind.LowConfidenceMatch, entry.Kind)
	assert.InDelta(t, result.Confidence, entry.Confidence, 1e-9)
}

func TestApplyWriteFailure(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc})
	store.FailWrites("calc.go", errors.New("disk full"))
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "return x + 1", Replacement: "return x + 2"})

	_, err := q.Apply(ctx, id)
	require.Error(t, err)

	entry, _ := q.Get(id)
	assert.Equal(t, StatusFailed, entry.Status)
	assert.Contains(t, entry.Diagnostic, "disk full")
	text, _ := store.Get("calc.go")
	assert.Equal(t, calc, text)
}

func TestApplyCreatesMissingFile(t *testing.T) {
	q, store := newQueue(t, nil)
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "new.go", Replacement: "package fresh\n"})

	_, err := q.Apply(ctx, id)
	require.NoError(t, err)
	text, ok := store.Get("new.go")
	require.True(t, ok)
	assert.Equal(t, "package fresh\n", text)
}

func TestApplyFragmentCreatesMissingFile(t *testing.T) {
	q, store := newQueue(t, nil)
	ctx := context.Background()
	content := "package util\n\nfunc Helper() int { return 1 }\n"
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "util/new.go", Anchor: content, Replacement: content, Fragment: true})

	result, err := q.Apply(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, patch.MethodExact, result.Method)
	text, ok := store.Get("util/new.go")
	require.True(t, ok)
	assert.Equal(t, content, text)
	assert.Equal(t, StatusApplied, q.Snapshot()[0].Status)
}

func TestApplyFragmentOnExistingFileMatchesContent(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc})
	ctx := context.Background()
	fragment := "func inc(x int) int {\n\treturn x + 1\n}\n"
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: fragment, Replacement: fragment, Fragment: true})

	_, err := q.Apply(ctx, id)
	require.NoError(t, err)
	text, _ := store.Get("calc.go")
	assert.Equal(t, calc, text, "an unchanged fragment leaves the file as it was")
}

func TestApplyInsertAtHintLine(t *testing.T) {
	q, store := newQueue(t, map[string]string{"list.txt": "one\ntwo\nthree\n"})
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "list.txt", Replacement: "inserted\n", Line: 2})

	result, err := q.Apply(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, patch.MethodInsert, result.Method)
	text, _ := store.Get("list.txt")
	assert.Equal(t, "one\ninserted\ntwo\nthree\n", text)
}

func TestApplyOnlyPending(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc})
	ctx := context.Background()
	id := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "return x + 1", Replacement: "return x + 2"})
	require.NoError(t, q.Reject(ctx, id))

	_, err := q.Apply(ctx, id)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.ErrorIs(t, q.Reject(ctx, id), ErrNotPending)
	assert.Empty(t, store.Writes())

	entry, _ := q.Get(id)
	assert.Equal(t, StatusRejected, entry.Status)

	_, err = q.Apply(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownEntry)
}

func TestApplyTwoEditsSameFile(t *testing.T) {
	q, store := newQueue(t, map[string]string{"calc.go": calc})
	ctx := context.Background()
	first := q.Enqueue(ctx, proto.ProposedEdit{
		File:        "calc.go",
		Anchor:      "func inc(x int) int {\n\treturn x + 1\n}\n",
		Replacement: "// inc adds one.\nfunc inc(x int) int {\n\ty := x\n\treturn y + 1\n}\n",
	})
	second := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "return x - 1", Replacement: "return x - 2", Line: 8})

	_, err := q.Apply(ctx, first)
	require.NoError(t, err)
	result, err := q.Apply(ctx, second)
	require.NoError(t, err)

	text, _ := store.Get("calc.go")
	assert.Equal(t, "return x - 2", text[result.Start:result.Start+len("return x - 2")])
	assert.Contains(t, text, "// inc adds one.")
	assert.Contains(t, text, "return y + 1")
	assert.NotContains(t, text, "return x - 1")
}

func TestApplyFailureIsolated(t *testing.T) {
	q, _ := newQueue(t, map[string]string{"calc.go": calc})
	ctx := context.Background()
	bad := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "nothing like this at all"})
	good := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "return x + 1", Replacement: "return 1 + x"})

	_, err := q.Apply(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, []string{good}, q.Pending())

	_, err = q.Apply(ctx, good)
	require.NoError(t, err)
}

func TestRemoveAndSnapshotOrder(t *testing.T) {
	q, _ := newQueue(t, nil)
	ctx := context.Background()
	a := q.Enqueue(ctx, proto.ProposedEdit{File: "a"})
	b := q.Enqueue(ctx, proto.ProposedEdit{File: "b"})
	c := q.Enqueue(ctx, proto.ProposedEdit{File: "c"})

	require.NoError(t, q.Remove(b))
	assert.ErrorIs(t, q.Remove(b), ErrUnknownEntry)

	snap := q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, a, snap[0].ID)
	assert.Equal(t, c, snap[1].ID)
	assert.Equal(t, []string{a, c}, q.Pending())
}

func TestRecorderAndClock(t *testing.T) {
	rec := &recorded{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q, _ := newQueue(t, map[string]string{"calc.go": calc}, WithRecorder(rec), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	id := q.Enqueue(ctx, proto.ProposedEdit{File: "calc.go", Anchor: "return x + 1", Replacement: "return x"})
	_, err := q.Apply(ctx, id)
	require.NoError(t, err)

	require.Len(t, rec.views, 2)
	assert.Equal(t, StatusPending, rec.views[0].Status)
	assert.Equal(t, StatusApplied, rec.views[1].Status)
	assert.Equal(t, fixed, rec.views[1].UpdatedAt)
}

func TestWithThresholdIgnoresOutOfRange(t *testing.T) {
	q, _ := newQueue(t, nil, WithThreshold(1.5))
	assert.InDelta(t, patch.DefaultThreshold, q.Threshold(), 1e-9)
	q, _ = newQueue(t, nil, WithThreshold(0.8))
	assert.InDelta(t, 0.8, q.Threshold(), 1e-9)
}

func TestPreview(t *testing.T) {
	got := Preview("calc.go", "a\nb\nc\n", "a\nB\nc\n")
	assert.Equal(t, "--- calc.go\n+++ calc.go\n a\n-b\n+B\n c\n", got)
}

func TestConcurrentApplyAndSnapshot(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d"} {
		files[name] = "value := 1\n"
	}
	q, store := newQueue(t, files)
	ctx := context.Background()
	var ids []string
	for name := range files {
		ids = append(ids, q.Enqueue(ctx, proto.ProposedEdit{File: name, Anchor: "value := 1", Replacement: "value := 2"}))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Apply(ctx, id)
			assert.NoError(t, err)
			_ = q.Snapshot()
		}()
	}
	wg.Wait()

	for name := range files {
		text, _ := store.Get(name)
		assert.Equal(t, "value := 2\n", text)
	}
}
