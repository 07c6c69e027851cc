// Package hook holds the registry of plugin callbacks.
//
// A plugin registers a Func for an event kind, optionally scoped to a set of
// subreddits or bound to a wiki page. The manager subscribes to the registry
// and routes every Func into its dispatch tables; unloading a plugin file
// removes its Funcs again. Callbacks receive a Call, the argument bag holding
// the event and the services the manager exposes.
package hook

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the event a Func is invoked for.
type Kind int

const (
	KindSubmission Kind = iota + 1
	KindComment
	KindPeriodic
	KindOnLoad
	KindOnStart
	KindCommand
	KindModlog
	KindReport
)

var kindNames = map[Kind]string{
	KindSubmission: "submission",
	KindComment:    "comment",
	KindPeriodic:   "periodic",
	KindOnLoad:     "on_load",
	KindOnStart:    "on_start",
	KindCommand:    "command",
	KindModlog:     "modlog",
	KindReport:     "report",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses the name of a kind, e.g. "submission".
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown hook kind %q", s)
}

// Permission is the level a user needs to run a command.
type Permission int

const (
	PermAny Permission = iota
	PermMod
	PermOwner
)

func (p Permission) String() string {
	switch p {
	case PermMod:
		return "mod"
	case PermOwner:
		return "owner"
	default:
		return "any"
	}
}

// ParsePermission parses "any", "mod" or "owner".
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return PermAny, nil
	case "mod", "moderator":
		return PermMod, nil
	case "owner":
		return PermOwner, nil
	}
	return PermAny, fmt.Errorf("unknown permission %q", s)
}

// Handler is a plugin callback.
type Handler func(ctx context.Context, call *Call) error

// Func is a registered callback.
type Func struct {
	Name    string
	Kind    Kind
	Handler Handler
	// Source is the plugin the Func came from; unloading it removes the Func.
	Source string
	Doc    string

	// Subreddits limits the Func to the listed subreddits. Empty means every
	// subreddit. Ignored when Wiki is set.
	Subreddits []string
	// Wiki binds the Func to a wiki page. The Func then only fires where the
	// page is enabled and inherits the page's subreddit scope.
	Wiki *WikiPage

	// Periodic triggers.
	Period time.Duration
	First  time.Duration
	Cron   string

	// Command settings.
	Permission Permission
	Raw        bool

	// Requires lists Call arguments that must be present for the Func to run.
	Requires []string
	// Threaded runs the Func on its own goroutine.
	Threaded bool
}

// Scope returns the subreddits the Func applies to; nil means all.
func (f *Func) Scope() []string {
	if f.Wiki != nil {
		return f.Wiki.Subreddits
	}
	return f.Subreddits
}

func (f *Func) String() string {
	if f.Source == "" {
		return f.Kind.String() + ":" + f.Name
	}
	return f.Source + ":" + f.Kind.String() + ":" + f.Name
}

// Option configures a Func at registration.
type Option func(*Func)

// WithSubreddits scopes the Func to the given subreddits.
func WithSubreddits(subs ...string) Option {
	return func(f *Func) { f.Subreddits = append(f.Subreddits, subs...) }
}

// WithWiki binds the Func to a wiki page.
func WithWiki(w *WikiPage) Option {
	return func(f *Func) { f.Wiki = w }
}

// Every fires a periodic Func at a fixed interval.
func Every(d time.Duration) Option {
	return func(f *Func) { f.Period = d }
}

// After fires a periodic Func once, d after start.
func After(d time.Duration) Option {
	return func(f *Func) { f.First = d }
}

// Cron fires a periodic Func on a standard five-field cron schedule.
func Cron(expr string) Option {
	return func(f *Func) { f.Cron = expr }
}

// WithPermission sets the level needed to run a command.
func WithPermission(p Permission) Option {
	return func(f *Func) { f.Permission = p }
}

// Raw makes a command receive every inbox message.
func Raw() Option {
	return func(f *Func) { f.Raw = true }
}

// Requires declares arguments that must be present.
func Requires(names ...string) Option {
	return func(f *Func) { f.Requires = append(f.Requires, names...) }
}

// Threaded runs the Func on its own goroutine.
func Threaded() Option {
	return func(f *Func) { f.Threaded = true }
}

// WithDoc sets the help text.
func WithDoc(doc string) Option {
	return func(f *Func) { f.Doc = doc }
}

// FromSource records the plugin the Func belongs to.
func FromSource(source string) Option {
	return func(f *Func) { f.Source = source }
}
