package bot

import (
	"context"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/notify"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// feedThing is the feeder callback.
func (m *Manager) feedThing(ctx context.Context, t platform.Thing) {
	switch {
	case t.Submission != nil:
		m.FeedSubmission(ctx, *t.Submission)
	case t.Comment != nil:
		m.FeedComment(ctx, *t.Comment)
	}
}

// FeedSubmission dispatches a new submission.
func (m *Manager) FeedSubmission(ctx context.Context, s platform.Submission) {
	m.notify(ctx, notify.Event{
		Kind:      notify.KindSubmission,
		Subreddit: s.Subreddit,
		Author:    s.Author,
		Title:     s.Title,
		URL:       s.Shortlink,
		Time:      s.Created,
	})
	for _, fn := range m.disp.Targets(hook.KindSubmission, s.Subreddit) {
		call := m.baseCall()
		call.Subreddit = s.Subreddit
		sub := s
		call.Submission = &sub
		m.invoke(ctx, fn, call)
	}
}

// FeedComment dispatches a new comment.
func (m *Manager) FeedComment(ctx context.Context, c platform.Comment) {
	m.notify(ctx, notify.Event{
		Kind:      notify.KindComment,
		Subreddit: c.Subreddit,
		Author:    c.Author,
		Body:      c.Body,
		URL:       "https://www.reddit.com" + c.Permalink,
		Time:      c.Created,
	})
	for _, fn := range m.disp.Targets(hook.KindComment, c.Subreddit) {
		call := m.baseCall()
		call.Subreddit = c.Subreddit
		com := c
		call.Comment = &com
		m.invoke(ctx, fn, call)
	}
}

// FeedModlog dispatches a modlog entry unless it was seen before.
func (m *Manager) FeedModlog(ctx context.Context, e platform.ModlogEntry) {
	if !m.newModlogEntry(e) {
		return
	}
	m.notify(ctx, notify.Event{
		Kind:      notify.KindModlog,
		Subreddit: e.Subreddit,
		Author:    e.Moderator,
		Action:    e.Action,
		Body:      e.Details,
		URL:       e.TargetPermalink,
		Time:      e.Created,
	})
	for _, fn := range m.disp.Targets(hook.KindModlog, e.Subreddit) {
		call := m.baseCall()
		call.Subreddit = e.Subreddit
		entry := e
		call.Modlog = &entry
		m.invoke(ctx, fn, call)
	}
}

// FeedReport dispatches the report lines of an item that were not seen
// before. Moderator reports starting with the command prefix run as
// commands from the reporting moderator.
func (m *Manager) FeedReport(ctx context.Context, r platform.Report) {
	lines := m.newReportLines(r)
	if len(lines) == 0 {
		return
	}

	for _, l := range lines {
		m.notify(ctx, notify.Event{
			Kind:      notify.KindReport,
			Subreddit: r.Subreddit,
			Author:    l.Reporter,
			Body:      l.Reason,
			URL:       "https://www.reddit.com" + r.Permalink,
			Time:      r.Created,
		})
	}

	for _, fn := range m.disp.Targets(hook.KindReport, r.Subreddit) {
		call := m.baseCall()
		call.Subreddit = r.Subreddit
		rep := r
		call.Report = &rep
		call.IsReport = true
		m.invoke(ctx, fn, call)
	}

	for _, l := range lines {
		if l.Reporter == "" || !strings.HasPrefix(l.Reason, m.cfg.CommandPrefix) {
			continue
		}
		msg := platform.InboxMessage{
			ID:      r.Fullname,
			Author:  l.Reporter,
			Subject: "report",
			Body:    l.Reason,
			Created: r.Created,
		}
		rep := r
		m.handleMessage(ctx, msg, &rep)
	}
}

// Deliver queues an inbound message for the message loop.
func (m *Manager) Deliver(msg platform.InboxMessage) bool {
	return m.inbox.Enqueue(msg)
}

// DrainMessages handles every queued message and returns how many there
// were.
func (m *Manager) DrainMessages(ctx context.Context) int {
	n := 0
	for {
		msg, ok := m.inbox.TryDequeue()
		if !ok {
			return n
		}
		m.FeedMessage(ctx, msg)
		n++
	}
}

// FeedMessage handles an inbox message: raw command hooks see it, and a
// body starting with the command prefix runs the named command if the
// author is allowed to.
func (m *Manager) FeedMessage(ctx context.Context, msg platform.InboxMessage) {
	m.handleMessage(ctx, msg, nil)
}

func (m *Manager) handleMessage(ctx context.Context, msg platform.InboxMessage, report *platform.Report) {
	isReport := report != nil
	for _, fn := range m.registry.RawCommands() {
		call := m.baseCall()
		message := msg
		call.Message = &message
		call.Report = report
		call.IsReport = isReport
		if report != nil {
			call.Subreddit = report.Subreddit
		}
		m.invoke(ctx, fn, call)
	}

	name, args, ok := m.parseCommand(msg.Body)
	if !ok {
		return
	}
	fn, ok := m.registry.CommandFunc(name)
	if !ok {
		m.log.Debugw("unknown command", "command", name, "author", msg.Author)
		return
	}
	if !m.permitted(ctx, fn.Permission, msg.Author) {
		m.log.Infow("command not permitted", "command", name, "author", msg.Author, "permission", fn.Permission.String())
		return
	}

	call := m.baseCall()
	message := msg
	call.Message = &message
	call.Command = name
	call.Args = args
	call.Report = report
	call.IsReport = isReport
	if report != nil {
		call.Subreddit = report.Subreddit
	}
	m.invoke(ctx, fn, call)
}

// parseCommand splits "<prefix>name arg1 arg2" into its name and
// arguments.
func (m *Manager) parseCommand(body string) (string, []string, bool) {
	body = strings.TrimSpace(norm.NFC.String(body))
	if !strings.HasPrefix(body, m.cfg.CommandPrefix) {
		return "", nil, false
	}
	fields := strings.Fields(body[len(m.cfg.CommandPrefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

// permitted reports whether user may run a command needing perm.
func (m *Manager) permitted(ctx context.Context, perm hook.Permission, user string) bool {
	switch perm {
	case hook.PermAny:
		return true
	case hook.PermOwner:
		return m.isOwner(user)
	case hook.PermMod:
		if m.isOwner(user) {
			return true
		}
		mods, err := m.session.ModeratorUsers(ctx)
		if err != nil {
			m.log.Warnw("could not list moderators", "error", err)
			return false
		}
		for _, mod := range mods {
			if strings.EqualFold(mod, user) {
				return true
			}
		}
	}
	return false
}

func (m *Manager) isOwner(user string) bool {
	return m.cfg.Owner != "" && strings.EqualFold(user, m.cfg.Owner)
}
