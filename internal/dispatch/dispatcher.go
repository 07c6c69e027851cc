// Package dispatch routes registered Funcs into per-subreddit tables and
// decides which of them an event or a tick should invoke.
//
// The global table holds Funcs with no subreddit scope and no wiki binding;
// they see every event. Each subreddit table holds the Funcs scoped to that
// subreddit, either explicitly or through a wiki page. Targets for an event
// are the global Funcs followed by the subreddit's enabled ones.
package dispatch

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// Due is a periodic Func to invoke, with the subreddit it fired for ("" for
// global Funcs).
type Due struct {
	Func      *hook.Func
	Subreddit string
}

// Dispatcher owns the global table and the subreddit tables.
type Dispatcher struct {
	master string
	now    func() time.Time
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	all   *Table
	subs  map[string]*Subreddit
	funcs []*hook.Func
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source periodic triggers start from.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New returns a Dispatcher. master is the subreddit hook.MasterSubreddit
// resolves to.
func New(master string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		master: master,
		now:    time.Now,
		log:    zap.NewNop().Sugar(),
		all:    NewTable(""),
		subs:   make(map[string]*Subreddit),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func key(sub string) string {
	return strings.ToLower(sub)
}

// Global returns the global table.
func (d *Dispatcher) Global() *Table {
	return d.all
}

// AddSubreddit creates the table of a subreddit, if missing, and routes
// every known Func that applies to it.
func (d *Dispatcher) AddSubreddit(name string) *Subreddit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureLocked(name)
}

func (d *Dispatcher) ensureLocked(name string) *Subreddit {
	if s, ok := d.subs[key(name)]; ok {
		return s
	}
	s := NewSubreddit(name)
	d.subs[key(name)] = s
	now := d.now()
	for _, fn := range d.funcs {
		if d.isGlobal(fn) || !d.applies(fn, name) {
			continue
		}
		if err := s.Add(fn, now); err != nil {
			d.log.Errorw("could not route hook", "hook", fn.String(), "subreddit", name, "error", err)
		}
	}
	return s
}

// Subreddit returns the table of a subreddit.
func (d *Dispatcher) Subreddit(name string) (*Subreddit, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.subs[key(name)]
	return s, ok
}

// Subreddits returns every subreddit table sorted by name.
func (d *Dispatcher) Subreddits() []*Subreddit {
	d.mu.RLock()
	out := make([]*Subreddit, 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, s)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return key(out[i].Name()) < key(out[j].Name()) })
	return out
}

func (d *Dispatcher) isGlobal(fn *hook.Func) bool {
	return fn.Wiki == nil && len(fn.Subreddits) == 0
}

// resolve maps scope entries to subreddit names.
func (d *Dispatcher) resolve(scope []string) []string {
	out := make([]string, 0, len(scope))
	for _, s := range scope {
		if s == hook.MasterSubreddit {
			if d.master == "" {
				continue
			}
			s = d.master
		}
		out = append(out, s)
	}
	return out
}

func (d *Dispatcher) applies(fn *hook.Func, sub string) bool {
	scope := fn.Scope()
	if len(scope) == 0 {
		// Wiki page without a scope exists on every subreddit.
		return fn.Wiki != nil
	}
	for _, s := range d.resolve(scope) {
		if strings.EqualFold(s, sub) {
			return true
		}
	}
	return false
}

// Register routes fn into the tables it applies to. Subreddits named in its
// scope get a table even if they are not moderated, so scoped submission
// hooks see firehose items from anywhere.
func (d *Dispatcher) Register(fn *hook.Func) error {
	if !routedKinds[fn.Kind] {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, known := range d.funcs {
		if known == fn {
			return nil
		}
	}
	d.funcs = append(d.funcs, fn)

	now := d.now()
	if d.isGlobal(fn) {
		return d.all.Add(fn, now)
	}

	for _, name := range d.resolve(fn.Scope()) {
		d.ensureLocked(name)
	}
	for _, s := range d.subs {
		if !d.applies(fn, s.Name()) {
			continue
		}
		if err := s.Add(fn, now); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes fn from every table.
func (d *Dispatcher) Unregister(fn *hook.Func) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, known := range d.funcs {
		if known == fn {
			d.funcs = append(d.funcs[:i:i], d.funcs[i+1:]...)
			break
		}
	}
	d.all.Remove(fn)
	for _, s := range d.subs {
		s.Remove(fn)
	}
}

// HandleEvent applies a registry change. It is meant to be passed to
// hook.Registry.Subscribe.
func (d *Dispatcher) HandleEvent(ev hook.Event) {
	if ev.Func == nil {
		return
	}
	switch ev.Op {
	case hook.Added:
		if err := d.Register(ev.Func); err != nil {
			d.log.Errorw("could not register hook", "hook", ev.Func.String(), "error", err)
		}
	case hook.Removed:
		d.Unregister(ev.Func)
	}
}

// Targets returns the Funcs an event of kind in subreddit is delivered to:
// global Funcs first, then the subreddit's enabled ones.
func (d *Dispatcher) Targets(kind hook.Kind, subreddit string) []*hook.Func {
	out := d.all.Callbacks(kind)
	if s, ok := d.Subreddit(subreddit); ok {
		out = append(out, s.Callbacks(kind)...)
	}
	return out
}

// DuePeriodic returns every periodic Func due at now across all tables and
// marks them fired.
func (d *Dispatcher) DuePeriodic(now time.Time) []Due {
	var out []Due
	for _, fn := range d.all.Due(now) {
		out = append(out, Due{Func: fn})
	}
	for _, s := range d.Subreddits() {
		for _, fn := range s.Due(now) {
			out = append(out, Due{Func: fn, Subreddit: s.Name()})
		}
	}
	return out
}
