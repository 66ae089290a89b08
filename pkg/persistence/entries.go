package persistence

import (
	"context"
	"fmt"

	"patchmind/pkg/changequeue"
)

// RecordEntry implements changequeue.Recorder. Later states overwrite earlier ones.
func (s *Store) RecordEntry(ctx context.Context, v changequeue.EntryView) error {
	return s.exec(ctx, `INSERT INTO queue_entries
		(id, session_id, file, status, preview, confidence, diagnostic, error_kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			confidence = excluded.confidence,
			diagnostic = excluded.diagnostic,
			error_kind = excluded.error_kind,
			updated_at = excluded.updated_at`,
		v.ID, s.sessionID, v.File, string(v.Status), v.Preview, v.Confidence, v.Diagnostic, v.ErrorKind,
		v.CreatedAt.UTC(), v.UpdatedAt.UTC())
}

// ListEntries returns a session's queue entries in creation order.
func (s *Store) ListEntries(ctx context.Context, sessionID string) ([]changequeue.EntryView, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file, status, preview, confidence, diagnostic, error_kind,
		created_at, updated_at FROM queue_entries WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []changequeue.EntryView
	for rows.Next() {
		var v changequeue.EntryView
		var status string
		if err := rows.Scan(&v.ID, &v.File, &status, &v.Preview, &v.Confidence, &v.Diagnostic, &v.ErrorKind,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		v.Status = changequeue.Status(status)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return out, nil
}
