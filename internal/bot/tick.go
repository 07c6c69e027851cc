package bot

import (
	"context"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// Tick runs one pass of the periodic work: the inbox poll when its window
// expired, the feeders, due periodic hooks and scheduled calls, and the
// background wiki and subreddit refreshes.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	pollInbox := now.Sub(m.lastInbox) >= m.cfg.InboxInterval
	refreshSubs := !m.started.IsZero() && now.Sub(m.lastSubsRefresh) >= m.cfg.SubredditRefresh
	if refreshSubs {
		m.lastSubsRefresh = now
	}
	m.mu.Unlock()

	if pollInbox && m.inboxBusy.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.lastInbox = now
		m.mu.Unlock()
		m.spawn(func() {
			defer m.inboxBusy.Store(false)
			if err := m.pollInbox(ctx); err != nil {
				m.log.Warnw("inbox poll failed", "error", err)
				m.resetClient()
			}
		})
	}

	m.submissions.Feed(ctx)
	if m.cfg.WatchComments {
		m.comments.Feed(ctx)
	}

	for _, due := range m.disp.DuePeriodic(now) {
		call := m.baseCall()
		call.Subreddit = due.Subreddit
		m.invoke(ctx, due.Func, call)
	}

	if err := m.runDueCalls(ctx, now); err != nil {
		m.log.Errorw("scheduled calls failed", "error", err)
	}

	if m.wikiBusy.CompareAndSwap(false, true) {
		m.spawn(func() {
			defer m.wikiBusy.Store(false)
			m.refreshWikis(ctx)
		})
	}

	if refreshSubs {
		m.spawn(func() {
			m.session.InvalidateCaches()
			m.refreshSubreddits(ctx)
		})
	}
}

// pollInbox moves unread messages to the message queue and marks them
// read.
func (m *Manager) pollInbox(ctx context.Context) error {
	msgs, err := m.client.UnreadMessages(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	if err := m.client.MarkRead(ctx, ids); err != nil {
		return err
	}
	for _, msg := range msgs {
		m.log.Debugw("inbox message", "id", msg.ID, "author", msg.Author, "subject", msg.Subject)
		m.Deliver(msg)
	}
	return nil
}

func (m *Manager) resetClient() {
	if r, ok := m.client.(platform.Resetter); ok {
		m.log.Infow("resetting platform session")
		r.Reset()
	}
}
