package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
)

// Cache windows for moderator lookups.
const (
	ModeratedSubsExpiry  = 30 * time.Minute
	ModeratorUsersExpiry = 30 * time.Minute
)

// Signature returns the footer appended to messages the bot sends.
func Signature(owner string) string {
	return "\n\n***\n^^This ^^message ^^was ^^sent ^^by ^^a ^^bot. ^^For ^^more ^^details " +
		"[^^send ^^a ^^message](https://www.reddit.com/message/compose?to=" + owner +
		"&subject=Bot&message=) ^^to ^^its ^^author."
}

// Session wraps a Client with the conveniences plugins use for mutating
// calls. Every mutation is written to the audit log.
type Session struct {
	client    Client
	signature string
	posted    *docstore.Document
	audit     *zap.SugaredLogger
	now       func() time.Time

	meMu sync.Mutex
	me   string

	modSubs    *expiring[[]string]
	moderators *expiring[[]string]
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSignature sets the footer appended to PMs and modmail.
func WithSignature(sig string) SessionOption {
	return func(s *Session) { s.signature = sig }
}

// WithPostedStore sets the document remembering the last body the bot
// posted for each item.
func WithPostedStore(doc *docstore.Document) SessionOption {
	return func(s *Session) { s.posted = doc }
}

// WithAuditLogger sets the logger mutations are recorded to.
func WithAuditLogger(log *zap.SugaredLogger) SessionOption {
	return func(s *Session) { s.audit = log }
}

// WithClock sets the time source used for caches and date placeholders.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession returns a Session over client.
func NewSession(client Client, opts ...SessionOption) *Session {
	s := &Session{
		client:     client,
		audit:      zap.NewNop().Sugar(),
		now:        time.Now,
		modSubs:    newExpiring[[]string](ModeratedSubsExpiry),
		moderators: newExpiring[[]string](ModeratorUsersExpiry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying platform client.
func (s *Session) Client() Client {
	return s.client
}

// Me returns the bot account name. The first successful lookup is cached.
func (s *Session) Me(ctx context.Context) (string, error) {
	s.meMu.Lock()
	defer s.meMu.Unlock()
	if s.me != "" {
		return s.me, nil
	}
	me, err := s.client.Me(ctx)
	if err != nil {
		return "", fmt.Errorf("identify bot account: %w", err)
	}
	s.me = me
	return me, nil
}

// ModeratedSubreddits returns the moderated subreddits, skipping user
// profile pseudo-subreddits.
func (s *Session) ModeratedSubreddits(ctx context.Context) ([]string, error) {
	return s.modSubs.get("", s.now(), func() ([]string, error) {
		subs, err := s.client.ModeratedSubreddits(ctx)
		if err != nil {
			return nil, fmt.Errorf("moderated subreddits: %w", err)
		}
		out := subs[:0:0]
		for _, sub := range subs {
			if strings.HasPrefix(sub, "u_") {
				continue
			}
			out = append(out, sub)
		}
		return out, nil
	})
}

// Moderators returns the moderators of subreddit.
func (s *Session) Moderators(ctx context.Context, subreddit string) ([]string, error) {
	return s.moderators.get(strings.ToLower(subreddit), s.now(), func() ([]string, error) {
		mods, err := s.client.Moderators(ctx, subreddit)
		if err != nil {
			return nil, fmt.Errorf("moderators of %s: %w", subreddit, err)
		}
		return mods, nil
	})
}

// IsModerator reports whether user moderates subreddit.
func (s *Session) IsModerator(ctx context.Context, subreddit, user string) (bool, error) {
	mods, err := s.Moderators(ctx, subreddit)
	if err != nil {
		return false, err
	}
	for _, m := range mods {
		if strings.EqualFold(m, user) {
			return true, nil
		}
	}
	return false, nil
}

// ModeratorUsers returns every moderator of every subreddit the bot
// moderates.
func (s *Session) ModeratorUsers(ctx context.Context) ([]string, error) {
	subs, err := s.ModeratedSubreddits(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, sub := range subs {
		mods, err := s.Moderators(ctx, sub)
		if err != nil {
			return nil, err
		}
		for _, m := range mods {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

// InvalidateCaches drops the moderator caches.
func (s *Session) InvalidateCaches() {
	s.modSubs.invalidate()
	s.moderators.invalidate()
}

// SendPM sends a private message. Messages to the bot itself are dropped.
func (s *Session) SendPM(ctx context.Context, to, subject, body string, skipSignature bool) error {
	me, err := s.Me(ctx)
	if err != nil {
		return err
	}
	if strings.EqualFold(to, me) {
		s.audit.Debugw("skipping message to self", "subject", subject)
		return nil
	}
	if !skipSignature {
		body += s.signature
	}
	s.audit.Infow("send pm", "to", to, "subject", subject)
	if err := s.client.SendMessage(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send pm to %s: %w", to, err)
	}
	return nil
}

// SendModmail sends a message to a subreddit's moderators.
func (s *Session) SendModmail(ctx context.Context, subreddit, subject, body string, skipSignature bool) error {
	if !skipSignature {
		body += s.signature
	}
	s.audit.Infow("send modmail", "subreddit", subreddit, "subject", subject)
	if err := s.client.SendMessage(ctx, "/r/"+subreddit, subject, body); err != nil {
		return fmt.Errorf("send modmail to %s: %w", subreddit, err)
	}
	return nil
}

// Report reports an item with the given reason.
func (s *Session) Report(ctx context.Context, fullname, reason string) error {
	s.audit.Infow("report", "item", fullname, "reason", reason)
	if err := s.client.ReportItem(ctx, fullname, reason); err != nil {
		return fmt.Errorf("report %s: %w", fullname, err)
	}
	return nil
}

// SetFlair applies a flair template to a submission.
func (s *Session) SetFlair(ctx context.Context, subreddit, fullname, templateID string) error {
	s.audit.Infow("set flair", "item", fullname, "template", templateID)
	if err := s.client.SelectFlair(ctx, subreddit, fullname, templateID); err != nil {
		return fmt.Errorf("set flair on %s: %w", fullname, err)
	}
	return nil
}

// Edit replaces the text of an item the bot posted. The call is skipped when
// body equals the body last posted for that item.
func (s *Session) Edit(ctx context.Context, fullname, body string) error {
	if s.posted != nil {
		if prev, ok := s.posted.Get(fullname); ok && prev == body {
			s.audit.Debugw("edit skipped, body unchanged", "item", fullname)
			return nil
		}
	}
	s.audit.Infow("edit", "item", fullname)
	if err := s.client.EditText(ctx, fullname, body); err != nil {
		return fmt.Errorf("edit %s: %w", fullname, err)
	}
	s.remember(fullname, body)
	return nil
}

// PostText submits a self post. Date placeholders in title and body are
// expanded. A post the platform filtered on arrival is approved, and the
// post is stickied to the bottom slot when sticky is set. Approve and sticky
// failures are logged, not returned.
func (s *Session) PostText(ctx context.Context, subreddit, title, body string, sticky bool) (Submission, error) {
	title = s.FormatString(title)
	body = s.FormatString(body)

	s.audit.Infow("submit", "subreddit", subreddit, "title", title)
	sub, err := s.client.SubmitText(ctx, subreddit, title, body)
	if err != nil {
		return Submission{}, fmt.Errorf("submit to %s: %w", subreddit, err)
	}

	if !sub.IsCrosspostable {
		if err := s.client.Approve(ctx, sub.Fullname()); err != nil {
			s.audit.Errorw("error approving post", "item", sub.Fullname(), "error", err)
		}
	}
	if sticky {
		if err := s.client.Sticky(ctx, sub.Fullname(), true); err != nil {
			s.audit.Errorw("error stickying post", "item", sub.Fullname(), "error", err)
		}
	}

	s.remember(sub.Fullname(), body)
	return sub, nil
}

func (s *Session) remember(fullname, body string) {
	if s.posted == nil {
		return
	}
	if err := s.posted.Set(fullname, body); err != nil {
		s.audit.Errorw("could not store posted body", "item", fullname, "error", err)
	}
}

// FormatString expands ${DAY}, ${MONTH} and ${YEAR} using the current UTC
// date. Day and month are zero padded.
func (s *Session) FormatString(in string) string {
	return FormatDate(in, s.now().UTC())
}

// FormatDate expands the date placeholders for t.
func FormatDate(in string, t time.Time) string {
	return strings.NewReplacer(
		"${DAY}", fmt.Sprintf("%02d", t.Day()),
		"${MONTH}", fmt.Sprintf("%02d", int(t.Month())),
		"${YEAR}", fmt.Sprintf("%d", t.Year()),
	).Replace(in)
}
