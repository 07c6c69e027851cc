package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gbionescu/reddit-moderator-bot/internal/feeder"
	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// ErrAlreadyStarted is returned by Start and Run on a second call.
var ErrAlreadyStarted = errors.New("manager already started")

// Start sets up every moderated subreddit (tables, wiki pages and control
// panel) and runs the on-start hooks: global ones once, subreddit ones once
// per subreddit.
func (m *Manager) Start(ctx context.Context) error {
	now := m.now()
	m.mu.Lock()
	if !m.started.IsZero() {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = now
	m.lastSubsRefresh = now
	m.mu.Unlock()

	subs, err := m.session.ModeratedSubreddits(ctx)
	if err != nil {
		return fmt.Errorf("list moderated subreddits: %w", err)
	}
	for _, sub := range subs {
		m.ensureSubreddit(sub)
	}
	m.log.Infow("starting", "subreddits", len(subs), "master", m.cfg.MasterSubreddit)

	for _, sub := range subs {
		if _, err := m.ControlPanel(ctx, sub); err != nil {
			m.log.Errorw("could not set up control panel", "subreddit", sub, "error", err)
		}
	}

	for _, fn := range m.disp.Global().Callbacks(hook.KindOnStart) {
		m.invoke(ctx, fn, m.baseCall())
	}
	for _, sub := range subs {
		m.startSubreddit(ctx, sub)
	}
	return nil
}

// startSubreddit runs the on-start hooks of one subreddit.
func (m *Manager) startSubreddit(ctx context.Context, subreddit string) {
	table, ok := m.disp.Subreddit(subreddit)
	if !ok {
		return
	}
	for _, fn := range table.Callbacks(hook.KindOnStart) {
		call := m.baseCall()
		call.Subreddit = subreddit
		m.invoke(ctx, fn, call)
	}
}

// Run starts the manager and blocks running the tick loop, the watchers,
// the message loop and the extra runners until ctx is cancelled or a
// runner fails.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.tickLoop(gctx) })
	g.Go(func() error { return m.watchFirehose(gctx, m.submissions) })
	if m.cfg.WatchComments {
		g.Go(func() error { return m.watchFirehose(gctx, m.comments) })
	}
	g.Go(func() error {
		return m.watch(gctx, "reports", m.cfg.ReportInterval, m.pollReports)
	})
	g.Go(func() error {
		return m.watch(gctx, "modlog", m.cfg.ModlogInterval, m.pollModlog)
	})
	g.Go(func() error { return m.messageLoop(gctx) })
	for _, r := range m.runners {
		g.Go(func() error { return r(gctx) })
	}

	err := g.Wait()
	m.WaitIdle()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	m.log.Infow("stopped")
	return nil
}

// Poll performs one synchronous round of every watcher followed by a tick
// and a message drain. Scenario runs drive the manager with it.
func (m *Manager) Poll(ctx context.Context) {
	m.pollFirehose(ctx, m.submissions)
	if m.cfg.WatchComments {
		m.pollFirehose(ctx, m.comments)
	}
	if err := m.pollReports(ctx); err != nil {
		m.log.Warnw("reports poll failed", "error", err)
	}
	if err := m.pollModlog(ctx); err != nil {
		m.log.Warnw("modlog poll failed", "error", err)
	}
	now := m.now()
	m.Tick(ctx, now)
	m.submissions.Wait()
	m.comments.Wait()
	m.DrainMessages(ctx)
}

func (m *Manager) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx, m.now())
		}
	}
}

func (m *Manager) messageLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-m.inbox.Wait():
			if !ok {
				return nil
			}
			m.DrainMessages(ctx)
		}
	}
}

// watchFirehose follows the newest ID of the feeder's kind. Until the
// first ID is known it retries at the short initial cadence.
func (m *Manager) watchFirehose(ctx context.Context, f *feeder.Feeder) error {
	for {
		wait := m.cfg.FirehoseInterval
		if err := m.pollFirehose(ctx, f); err != nil && !f.Initialized() {
			wait = m.cfg.InitialRetry
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (m *Manager) pollFirehose(ctx context.Context, f *feeder.Feeder) error {
	id, err := m.client.NewestID(ctx, f.Kind())
	if err != nil {
		m.log.Warnw("firehose poll failed", "kind", string(f.Kind()), "error", err)
		m.resetClient()
		return err
	}
	if err := f.Observe(id); err != nil {
		m.log.Warnw("bad firehose id", "kind", string(f.Kind()), "id", id, "error", err)
		return err
	}
	f.Feed(ctx)
	return nil
}

// watch calls poll every interval. Errors reset the client and wait one
// interval.
func (m *Manager) watch(ctx context.Context, name string, interval time.Duration, poll func(context.Context) error) error {
	for {
		if err := poll(ctx); err != nil && ctx.Err() == nil {
			m.log.Warnw("watcher failed", "watcher", name, "error", err)
			m.resetClient()
		}
		if !sleep(ctx, interval) {
			return nil
		}
	}
}

func (m *Manager) pollReports(ctx context.Context) error {
	reports, err := m.client.Reports(ctx)
	if err != nil {
		return err
	}
	for _, r := range reports {
		m.FeedReport(ctx, r)
	}
	return nil
}

// pollModlog feeds modlog entries oldest first.
func (m *Manager) pollModlog(ctx context.Context) error {
	entries, err := m.client.Modlog(ctx)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		m.FeedModlog(ctx, entries[i])
	}
	return nil
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
