package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

func registerHelp(r *hook.Registry, _ Options) error {
	if _, err := r.Command("help", help,
		hook.WithDoc("Returns help options through a PM"), source("inbox_help")); err != nil {
		return err
	}
	_, err := r.Command("ping", func(ctx context.Context, call *hook.Call) error {
		return reply(ctx, call, "pong", fmt.Sprintf("Hey %s! Pong!", sender(call)))
	}, hook.WithDoc("Sends 'pong' back"), source("inbox_help"))
	return err
}

// help lists the commands the sender may run.
func help(ctx context.Context, call *hook.Call) error {
	level := rights(ctx, call.Bot, sender(call))
	prefix := call.Bot.CommandPrefix()

	var b strings.Builder
	for _, fn := range call.Bot.Registry().Commands() {
		if fn.Permission > level {
			continue
		}
		fmt.Fprintf(&b, "%s%s", prefix, fn.Name)
		if fn.Doc != "" {
			fmt.Fprintf(&b, ": %s", fn.Doc)
		}
		b.WriteString("\n\n")
	}
	return reply(ctx, call, "Help", b.String())
}
