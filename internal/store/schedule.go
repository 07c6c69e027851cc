package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledCall is a plugin function to be invoked once DueAt has passed.
type ScheduledCall struct {
	ID        string
	FuncName  string
	Args      map[string]any
	DueAt     time.Time
	CreatedAt time.Time
	DoneAt    *time.Time
}

// ScheduleCall persists a deferred call and returns its ID.
func (s *Store) ScheduleCall(ctx context.Context, funcName string, due time.Time, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("schedule call: marshal args: %w", err)
	}

	id := s.newID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_calls (id, func_name, args, due_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, funcName, string(argsJSON), toMillis(due), toMillis(s.now()))
	if err != nil {
		return "", fmt.Errorf("schedule call: %w", err)
	}
	return id, nil
}

// DueCalls returns pending calls whose due time is at or before now,
// ordered by due time then id.
func (s *Store) DueCalls(ctx context.Context, now time.Time) ([]ScheduledCall, error) {
	return s.queryCalls(ctx, `
		SELECT id, func_name, args, due_at, created_at, done_at
		FROM scheduled_calls
		WHERE done_at IS NULL AND due_at <= ?
		ORDER BY due_at ASC, id ASC
	`, toMillis(now))
}

// PendingCalls returns every call not yet run.
func (s *Store) PendingCalls(ctx context.Context) ([]ScheduledCall, error) {
	return s.queryCalls(ctx, `
		SELECT id, func_name, args, due_at, created_at, done_at
		FROM scheduled_calls
		WHERE done_at IS NULL
		ORDER BY due_at ASC, id ASC
	`)
}

// MarkCallDone records that a scheduled call ran. Marking an already
// finished call is a no-op.
func (s *Store) MarkCallDone(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_calls SET done_at = ?
		WHERE id = ? AND done_at IS NULL
	`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("mark call done: %w", err)
	}
	return nil
}

func (s *Store) queryCalls(ctx context.Context, query string, args ...any) ([]ScheduledCall, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scheduled calls: %w", err)
	}
	defer rows.Close()

	var out []ScheduledCall
	for rows.Next() {
		var (
			c        ScheduledCall
			argsJSON string
			due      int64
			created  int64
			done     sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.FuncName, &argsJSON, &due, &created, &done); err != nil {
			return nil, fmt.Errorf("scan scheduled call: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &c.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args of %s: %w", c.ID, err)
		}
		c.DueAt = fromMillis(due)
		c.CreatedAt = fromMillis(created)
		if done.Valid {
			t := fromMillis(done.Int64)
			c.DoneAt = &t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled calls: %w", err)
	}
	return out, nil
}
