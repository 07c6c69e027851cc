package bot

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoDatabase is returned by ScheduleCall when the manager has no
// database.
var ErrNoDatabase = errors.New("no database configured")

// ScheduleCall persists a call of the registered function funcName, to be
// made on the first tick after when with args as extra arguments.
func (m *Manager) ScheduleCall(ctx context.Context, funcName string, when time.Time, args map[string]any) error {
	if m.db == nil {
		return ErrNoDatabase
	}
	id, err := m.db.ScheduleCall(ctx, funcName, when, args)
	if err != nil {
		return err
	}
	m.log.Debugw("call scheduled", "id", id, "func", funcName, "due", when)
	return nil
}

// runDueCalls invokes every scheduled call due at now. A call is marked
// done before it runs, so a failing call is not retried.
func (m *Manager) runDueCalls(ctx context.Context, now time.Time) error {
	if m.db == nil {
		return nil
	}
	calls, err := m.db.DueCalls(ctx, now)
	if err != nil {
		return fmt.Errorf("load due calls: %w", err)
	}
	for _, c := range calls {
		if err := m.db.MarkCallDone(ctx, c.ID, now); err != nil {
			return err
		}
		fn, ok := m.registry.Lookup(c.FuncName)
		if !ok {
			m.log.Warnw("scheduled function not registered, dropping call", "id", c.ID, "func", c.FuncName)
			continue
		}
		call := m.baseCall()
		call.WithAll(c.Args)
		if sub, ok := c.Args["subreddit"].(string); ok {
			call.Subreddit = sub
		}
		m.invoke(ctx, fn, call)
	}
	return nil
}
