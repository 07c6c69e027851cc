package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

const (
	startupPage = "bot_startup"
	// startupKeep is how many startup lines the page keeps.
	startupKeep = 1000
	dateLayout  = "2006-01-02 15:04:05"
)

func registerStartup(r *hook.Registry, opts Options) error {
	page, err := r.RegisterWikiPage(startupPage, "Marks when the bot has started up (always enabled)",
		hook.WikiSubreddits(hook.MasterSubreddit),
		hook.EnabledByDefault(),
		hook.WikiSource(SourcePrefix+"status"),
	)
	if err != nil {
		return err
	}
	log := opts.Log.Named("audit")
	_, err = r.OnStart("mark_startup", func(ctx context.Context, call *hook.Call) error {
		line := fmt.Sprintf("Bot startup: %s; Plugin startup: %s",
			call.Bot.Started().UTC().Format(dateLayout), call.Bot.Now().UTC().Format(dateLayout))
		log.Info(line)

		current, err := call.Bot.WikiContent(ctx, call.Subreddit, startupPage)
		if err != nil {
			return fmt.Errorf("read %s: %w", startupPage, err)
		}
		return call.Bot.SetWikiContent(ctx, call.Subreddit, startupPage, prependLine(current, line, startupKeep))
	}, hook.WithWiki(page), hook.Requires(hook.ArgSubreddit), source("status"))
	return err
}

// prependLine puts line on top of content and keeps at most keep lines.
func prependLine(content, line string, keep int) string {
	lines := []string{line}
	if content = strings.TrimRight(content, "\n"); content != "" {
		lines = append(lines, strings.Split(content, "\n")...)
	}
	if len(lines) > keep {
		lines = lines[:keep]
	}
	return strings.Join(lines, "\n")
}
