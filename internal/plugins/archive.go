package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// registerArchive stores every fed submission and comment. Without a
// database the hooks do nothing.
func registerArchive(r *hook.Registry, _ Options) error {
	if _, err := r.Submission("archive_submission", func(ctx context.Context, call *hook.Call) error {
		if db := call.Bot.DB(); db != nil && call.Submission != nil {
			return db.RecordSubmission(ctx, *call.Submission)
		}
		return nil
	}, source("archive")); err != nil {
		return err
	}
	_, err := r.Comment("archive_comment", func(ctx context.Context, call *hook.Call) error {
		if db := call.Bot.DB(); db != nil && call.Comment != nil {
			return db.RecordComment(ctx, *call.Comment)
		}
		return nil
	}, source("archive"))
	return err
}

// registerForward sends messages that are not commands to the owner.
func registerForward(r *hook.Registry, _ Options) error {
	_, err := r.Command("fwd_inbox", func(ctx context.Context, call *hook.Call) error {
		msg := call.Message
		if msg == nil || call.IsReport {
			return nil
		}
		if strings.HasPrefix(strings.TrimSpace(msg.Body), call.Bot.CommandPrefix()) {
			return nil
		}
		return call.Bot.Session().SendPM(ctx, call.Bot.Owner(),
			fmt.Sprintf("Message received from %s", msg.Author),
			fmt.Sprintf("Content: %s", msg.Body), false)
	}, hook.Raw(), hook.WithDoc("Forwards incoming messages to the bot owner"), source("fwd_inbox"))
	return err
}
