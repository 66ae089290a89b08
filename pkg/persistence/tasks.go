package persistence

import (
	"context"
	"fmt"

	"patchmind/pkg/orchestrator"
)

// TaskRow is a stored task with its session.
type TaskRow struct {
	orchestrator.TaskRecord
	SessionID string
}

// RecordTask implements orchestrator.History.
func (s *Store) RecordTask(ctx context.Context, rec *orchestrator.TaskRecord) error {
	return s.exec(ctx, `INSERT OR REPLACE INTO tasks
		(id, session_id, model, workflow, state, error_kind, message, prompt_tokens, completion_tokens,
		 cost_usd, edits, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, s.sessionID, rec.Model, rec.Workflow, string(rec.State), rec.ErrorKind, rec.Message,
		rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.Edits, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
}

const taskColumns = `id, session_id, model, workflow, state, error_kind, message, prompt_tokens,
	completion_tokens, cost_usd, edits, started_at, finished_at`

func scanTask(row interface{ Scan(...any) error }) (TaskRow, error) {
	var t TaskRow
	var state string
	err := row.Scan(&t.ID, &t.SessionID, &t.Model, &t.Workflow, &state, &t.ErrorKind, &t.Message,
		&t.PromptTokens, &t.CompletionTokens, &t.Cost, &t.Edits, &t.StartedAt, &t.FinishedAt)
	t.State = orchestrator.State(state)
	return t, err //nolint:wrapcheck // callers wrap
}

// ListTasks returns the most recently finished tasks across sessions, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]TaskRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TaskRow
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return out, nil
}

// GetTask looks one task up by id or unique id prefix.
func (s *Store) GetTask(ctx context.Context, idOrPrefix string) (TaskRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? OR id LIKE ? || '%' LIMIT 2`, idOrPrefix, idOrPrefix)
	if err != nil {
		return TaskRow{}, fmt.Errorf("failed to query task: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var found []TaskRow
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return TaskRow{}, fmt.Errorf("failed to scan task: %w", err)
		}
		found = append(found, t)
	}
	if err := rows.Err(); err != nil {
		return TaskRow{}, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	switch len(found) {
	case 0:
		return TaskRow{}, fmt.Errorf("task %s: %w", idOrPrefix, ErrNoRows)
	case 1:
		return found[0], nil
	default:
		if found[0].ID == idOrPrefix {
			return found[0], nil
		}
		return TaskRow{}, fmt.Errorf("task prefix %s is ambiguous", idOrPrefix)
	}
}
