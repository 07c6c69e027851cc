package hook

import (
	"context"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/store"
)

// Bot is the set of services the manager exposes to plugins.
type Bot interface {
	Session() *platform.Session
	Registry() *Registry
	Storage(scope, name string) (*docstore.Document, error)
	DB() *store.Store
	ScheduleCall(ctx context.Context, funcName string, when time.Time, args map[string]any) error
	// WikiContent returns the content of a wiki page, served from the cache
	// when fresh.
	WikiContent(ctx context.Context, subreddit, page string) (string, error)
	SetWikiContent(ctx context.Context, subreddit, page, content string) error
	UpdateControlPanel(ctx context.Context, subreddit string) error
	ModeratedSubreddits(ctx context.Context) ([]string, error)
	Owner() string
	MasterSubreddit() string
	CommandPrefix() string
	Started() time.Time
	Now() time.Time
}

// Argument names resolved from Call fields.
const (
	ArgBot        = "bot"
	ArgSubreddit  = "subreddit"
	ArgSubmission = "submission"
	ArgComment    = "comment"
	ArgMessage    = "message"
	ArgReport     = "report"
	ArgModlog     = "modlog"
	ArgChange     = "change"
	ArgCmdArgs    = "cmd_args"
	ArgIsReport   = "is_report"
)

// Call is the argument bag passed to a Handler.
type Call struct {
	Func       *Func
	Bot        Bot
	Subreddit  string
	Submission *platform.Submission
	Comment    *platform.Comment
	Message    *platform.InboxMessage
	Report     *platform.Report
	Modlog     *platform.ModlogEntry
	Change     *WikiChange
	// Command is the command name and Args its arguments, split on
	// whitespace.
	Command  string
	Args     []string
	IsReport bool

	extra map[string]any
}

// With sets a named extra argument and returns the call.
func (c *Call) With(name string, value any) *Call {
	if c.extra == nil {
		c.extra = make(map[string]any)
	}
	c.extra[name] = value
	return c
}

// WithAll sets every entry of args as an extra argument.
func (c *Call) WithAll(args map[string]any) *Call {
	for k, v := range args {
		c.With(k, v)
	}
	return c
}

// Arg resolves an argument by name. Typed fields take precedence over
// extras; unset fields are reported absent.
func (c *Call) Arg(name string) (any, bool) {
	switch name {
	case ArgBot:
		if c.Bot != nil {
			return c.Bot, true
		}
	case ArgSubreddit:
		if c.Subreddit != "" {
			return c.Subreddit, true
		}
	case ArgSubmission:
		if c.Submission != nil {
			return c.Submission, true
		}
	case ArgComment:
		if c.Comment != nil {
			return c.Comment, true
		}
	case ArgMessage:
		if c.Message != nil {
			return c.Message, true
		}
	case ArgReport:
		if c.Report != nil {
			return c.Report, true
		}
	case ArgModlog:
		if c.Modlog != nil {
			return c.Modlog, true
		}
	case ArgChange:
		if c.Change != nil {
			return c.Change, true
		}
	case ArgCmdArgs:
		if c.Command != "" {
			return c.Args, true
		}
	case ArgIsReport:
		return c.IsReport, true
	}
	v, ok := c.extra[name]
	return v, ok
}

// StringArg returns a string argument, or "" when absent.
func (c *Call) StringArg(name string) string {
	v, _ := c.Arg(name)
	s, _ := v.(string)
	return s
}

// Missing returns the required arguments of fn that the call lacks.
func (c *Call) Missing(fn *Func) []string {
	var missing []string
	for _, name := range fn.Requires {
		if _, ok := c.Arg(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Clone returns a shallow copy with its own extras map.
func (c *Call) Clone() *Call {
	out := *c
	out.extra = make(map[string]any, len(c.extra))
	for k, v := range c.extra {
		out.extra[k] = v
	}
	return &out
}
