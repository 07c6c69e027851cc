package plugins

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/notify"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/wiki"
)

const webhookDoc = `The plugin sends submissions or modlog items to given discord webhooks.

Configurable parameters are:
- modlog - sends modlog items to the webhook
- submissions - sends new submissions to the webhook

Example configuration:
[Setup]
modlog = http://webhook1
submissions = http://webhook2
`

// webhookTargets is the [Setup] section of one subreddit's page.
type webhookTargets struct {
	submissions *notify.Webhook
	modlog      *notify.Webhook
}

// streamer keeps the webhook targets per subreddit.
type streamer struct {
	opts Options
	log  *zap.SugaredLogger

	mu      sync.RWMutex
	targets map[string]webhookTargets
}

func registerWebhooks(r *hook.Registry, opts Options) error {
	s := &streamer{
		opts:    opts,
		log:     opts.Log.Named("webhook"),
		targets: make(map[string]webhookTargets),
	}
	page, err := r.RegisterWikiPage("webhook_streamer", "Stream items to webhooks",
		hook.WithDocumentation(webhookDoc),
		hook.WithNotifier(s.configure),
		hook.WikiSource(SourcePrefix+"webhook"),
	)
	if err != nil {
		return err
	}
	if _, err := r.Submission("webhook_submission", s.submission,
		hook.WithWiki(page), source("webhook")); err != nil {
		return err
	}
	_, err = r.Modlog("webhook_modlog", s.modlog, hook.WithWiki(page), source("webhook"))
	return err
}

func (s *streamer) configure(ctx context.Context, call *hook.Call) error {
	change := call.Change
	f, err := wiki.Parse(change.Content)
	if err != nil {
		if change.Author != "" {
			msg := fmt.Sprintf("Error parsing the updated wiki page on %s", change.Subreddit)
			if perr := call.Bot.Session().SendPM(ctx, change.Author, msg, err.Error(), false); perr != nil {
				s.log.Warnw("could not report wiki error", "to", change.Author, "error", perr)
			}
		}
		return err
	}

	var t webhookTargets
	if f.HasSection("Setup") {
		setup := f.Section("Setup")
		if url := setup.Key("submissions").String(); url != "" {
			t.submissions = notify.NewWebhook(url, s.opts.HTTPClient)
		}
		if url := setup.Key("modlog").String(); url != "" {
			t.modlog = notify.NewWebhook(url, s.opts.HTTPClient)
		}
	}

	s.mu.Lock()
	s.targets[strings.ToLower(change.Subreddit)] = t
	s.mu.Unlock()
	s.log.Debugw("webhook targets updated", "subreddit", change.Subreddit,
		"submissions", t.submissions != nil, "modlog", t.modlog != nil)
	return nil
}

func (s *streamer) lookup(subreddit string) webhookTargets {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targets[strings.ToLower(subreddit)]
}

func (s *streamer) submission(ctx context.Context, call *hook.Call) error {
	t := s.lookup(call.Subreddit)
	if t.submissions == nil || call.Submission == nil {
		return nil
	}
	return t.submissions.Post(ctx, submissionLine(*call.Submission))
}

func (s *streamer) modlog(ctx context.Context, call *hook.Call) error {
	t := s.lookup(call.Subreddit)
	if t.modlog == nil || call.Modlog == nil {
		return nil
	}
	return t.modlog.Post(ctx, modlogLine(*call.Modlog))
}

func submissionLine(sub platform.Submission) string {
	kind := "**Link post**"
	if sub.IsSelf {
		kind = "**Self post**"
	}
	link := sub.Shortlink
	if link == "" {
		link = "https://reddit.com" + sub.Permalink
	}
	return fmt.Sprintf("%s: %s by %s <%s>", kind, sub.Title, sub.Author, link)
}

func modlogLine(e platform.ModlogEntry) string {
	var b strings.Builder
	if e.TargetAuthor == "" {
		fmt.Fprintf(&b, "`[%s][%s] %s` ", e.Moderator, e.Action, e.Details)
	} else {
		fmt.Fprintf(&b, "`[%s][%s][%s] %s` ", e.Moderator, e.Action, e.TargetAuthor, e.Details)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "`%s`", e.Description)
	}
	if e.TargetPermalink != "" {
		fmt.Fprintf(&b, "<https://reddit.com%s>", e.TargetPermalink)
	}
	return b.String()
}
