package plugins

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

func registerControlPanel(r *hook.Registry, opts Options) error {
	log := opts.Log.Named("wiki")
	_, err := r.Command("update_control_panel", func(ctx context.Context, call *hook.Call) error {
		flags := pflag.NewFlagSet("update_control_panel", pflag.ContinueOnError)
		flags.SetOutput(io.Discard)
		sub := flags.String("subreddit", "", "Subreddit that should have its control panel updated")
		if err := flags.Parse(call.Args); err != nil || *sub == "" {
			return reply(ctx, call, "Usage", "update_control_panel --subreddit <name>")
		}

		ok, err := moderates(ctx, call, *sub)
		if err != nil {
			return err
		}
		if !ok {
			return reply(ctx, call, "You're not a moderator for that sub", "You can only post on moderated subreddits")
		}

		log.Infow("updating control panel", "subreddit", *sub, "by", sender(call))
		if err := call.Bot.UpdateControlPanel(ctx, *sub); err != nil {
			return fmt.Errorf("update control panel of %s: %w", *sub, err)
		}
		return nil
	},
		hook.WithPermission(hook.PermMod),
		hook.WithDoc("Update the control panel for a subreddit: update_control_panel --subreddit <name>"),
		source("control_panel"),
	)
	return err
}

// moderates reports whether both the bot and the command sender moderate
// subreddit.
func moderates(ctx context.Context, call *hook.Call, subreddit string) (bool, error) {
	subs, err := call.Bot.ModeratedSubreddits(ctx)
	if err != nil {
		return false, err
	}
	found := false
	for _, s := range subs {
		if strings.EqualFold(s, subreddit) {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}
	return call.Bot.Session().IsModerator(ctx, subreddit, sender(call))
}
