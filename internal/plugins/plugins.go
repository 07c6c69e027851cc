// Package plugins holds the plugins compiled into the bot: startup
// marking, control panel updates, inbox help, system status, webhook
// streaming, archiving and inbox forwarding.
package plugins

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// SourcePrefix prefixes the source of every built-in hook.
const SourcePrefix = "builtin:"

// Options configures the built-in plugins.
type Options struct {
	Log *zap.SugaredLogger
	// HTTPClient posts webhook messages; nil uses a default client.
	HTTPClient *http.Client
	// Archive records fed submissions and comments in the database.
	Archive bool
	// Forward sends non-command messages to the owner.
	Forward bool
}

type registrar struct {
	name string
	fn   func(*hook.Registry, Options) error
}

// Register adds every built-in plugin to r.
func Register(r *hook.Registry, opts Options) error {
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	steps := []registrar{
		{"status", registerStartup},
		{"control_panel", registerControlPanel},
		{"inbox_help", registerHelp},
		{"system", registerSystem},
		{"webhook", registerWebhooks},
	}
	if opts.Archive {
		steps = append(steps, registrar{"archive", registerArchive})
	}
	if opts.Forward {
		steps = append(steps, registrar{"fwd_inbox", registerForward})
	}
	for _, s := range steps {
		if err := s.fn(r, opts); err != nil {
			return fmt.Errorf("register %s: %w", s.name, err)
		}
	}
	return nil
}

func source(name string) hook.Option {
	return hook.FromSource(SourcePrefix + name)
}

// sender returns who sent the message of a command call.
func sender(call *hook.Call) string {
	if call.Message == nil {
		return ""
	}
	return call.Message.Author
}

// reply sends a PM back to the sender of a command.
func reply(ctx context.Context, call *hook.Call, subject, body string) error {
	to := sender(call)
	if to == "" {
		return nil
	}
	return call.Bot.Session().SendPM(ctx, to, subject, body, false)
}

// rights returns the highest permission user holds.
func rights(ctx context.Context, bot hook.Bot, user string) hook.Permission {
	if strings.EqualFold(user, bot.Owner()) {
		return hook.PermOwner
	}
	mods, err := bot.Session().ModeratorUsers(ctx)
	if err != nil {
		return hook.PermAny
	}
	for _, m := range mods {
		if strings.EqualFold(m, user) {
			return hook.PermMod
		}
	}
	return hook.PermAny
}
