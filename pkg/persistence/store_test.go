package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchmind/internal/mocks"
	"patchmind/pkg/changequeue"
	"patchmind/pkg/orchestrator"
	"patchmind/pkg/proto"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", "session-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func taskRecord(id string, finished time.Time) *orchestrator.TaskRecord {
	return &orchestrator.TaskRecord{
		ID:               id,
		Model:            "gpt-4o",
		Workflow:         "direct",
		State:            orchestrator.StateCompleted,
		PromptTokens:     120,
		CompletionTokens: 30,
		Cost:             0.0006,
		Edits:            2,
		StartedAt:        finished.Add(-time.Second),
		FinishedAt:       finished,
	}
}

func TestSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	version, err := GetSchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestReopenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	first, err := Open(path, "run-a")
	require.NoError(t, err)
	require.NoError(t, first.RecordTask(ctx, taskRecord("task-a", time.Now())))
	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "second close is a no-op")

	second, err := Open(path, "run-b")
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	tasks, err := second.ListTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "run-a", tasks[0].SessionID)
}

func TestRecordAndListTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordTask(ctx, taskRecord("aaaa-1", base)))
	failed := taskRecord("bbbb-2", base.Add(time.Minute))
	failed.State = orchestrator.StateFailed
	failed.ErrorKind = "transport_error"
	failed.Message = "stream: connection reset"
	require.NoError(t, s.RecordTask(ctx, failed))

	tasks, err := s.ListTasks(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "bbbb-2", tasks[0].ID, "newest first")
	assert.Equal(t, orchestrator.StateFailed, tasks[0].State)
	assert.Equal(t, "transport_error", tasks[0].ErrorKind)
	assert.Equal(t, "session-1", tasks[0].SessionID)
	assert.Equal(t, int64(120), tasks[1].PromptTokens)
	assert.InDelta(t, 0.0006, tasks[1].Cost, 1e-12)
	assert.True(t, base.Equal(tasks[1].FinishedAt))

	limited, err := s.ListTasks(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetTaskByPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.RecordTask(ctx, taskRecord("abc-123", now)))
	require.NoError(t, s.RecordTask(ctx, taskRecord("abd-456", now)))

	got, err := s.GetTask(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got.ID)

	_, err = s.GetTask(ctx, "ab")
	assert.Error(t, err, "ambiguous prefix")

	_, err = s.GetTask(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestRecordEntryUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	view := changequeue.EntryView{
		ID:        "e1",
		File:      "main.go",
		Status:    changequeue.StatusPending,
		Preview:   "--- main.go\n+++ main.go\n",
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, s.RecordEntry(ctx, view))

	view.Status = changequeue.StatusFailed
	view.ErrorKind = "match_not_found"
	view.Diagnostic = "anchor not found"
	view.UpdatedAt = created.Add(time.Second)
	require.NoError(t, s.RecordEntry(ctx, view))

	second := changequeue.EntryView{ID: "e2", File: "util.go", Status: changequeue.StatusApplied,
		Confidence: 0.93, CreatedAt: created.Add(time.Minute), UpdatedAt: created.Add(time.Minute)}
	require.NoError(t, s.RecordEntry(ctx, second))

	entries, err := s.ListEntries(ctx, s.SessionID())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, changequeue.StatusFailed, entries[0].Status)
	assert.Equal(t, "match_not_found", entries[0].ErrorKind)
	assert.Equal(t, "--- main.go\n+++ main.go\n", entries[0].Preview, "preview kept from first write")
	assert.InDelta(t, 0.93, entries[1].Confidence, 1e-9)

	other, err := s.ListEntries(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestQueueRecordsThroughStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	files := mocks.NewMemFiles(map[string]string{"a.txt": "alpha\nbeta\n"})
	q := changequeue.New(files, changequeue.WithRecorder(s))

	id := q.Enqueue(ctx, proto.ProposedEdit{File: "a.txt", Anchor: "beta\n", Replacement: "gamma\n"})
	_, err := q.Apply(ctx, id)
	require.NoError(t, err)

	entries, err := s.ListEntries(ctx, s.SessionID())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, changequeue.StatusApplied, entries[0].Status)
	text, _ := files.Get("a.txt")
	assert.Equal(t, "alpha\ngamma\n", text)
}
