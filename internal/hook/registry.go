package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrDuplicateCommand is returned when a command name is already taken.
	ErrDuplicateCommand = errors.New("duplicate command")
	// ErrInvalidFunc is returned for a Func that cannot be dispatched.
	ErrInvalidFunc = errors.New("invalid hook")
)

// EventOp is the kind of registry change.
type EventOp int

const (
	Added EventOp = iota + 1
	Removed
)

// Event describes a registry change. Exactly one of Func and Wiki is set.
type Event struct {
	Op   EventOp
	Func *Func
	Wiki *WikiPage
}

// Registry is the table of registered Funcs and wiki pages. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	funcs       []*Func
	wikis       []*WikiPage
	commands    map[string]*Func
	subscribers map[int]func(Event)
	nextSub     int
	loadCall    func() *Call
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands:    make(map[string]*Func),
		subscribers: make(map[int]func(Event)),
	}
}

// SetLoadCall sets the factory for the Call passed to on-load hooks.
func (r *Registry) SetLoadCall(fn func() *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadCall = fn
}

// Add validates and registers f, then notifies subscribers.
func (r *Registry) Add(f *Func) error {
	if err := validate(f); err != nil {
		return err
	}

	r.mu.Lock()
	if f.Kind == KindCommand && !f.Raw {
		key := strings.ToLower(f.Name)
		if prev, ok := r.commands[key]; ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %q already registered by %s", ErrDuplicateCommand, f.Name, prev.Source)
		}
		r.commands[key] = f
	}
	r.funcs = append(r.funcs, f)
	subs := r.subscriberList()
	loadCall := r.loadCall
	r.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Op: Added, Func: f})
	}

	if f.Kind == KindOnLoad {
		call := &Call{}
		if loadCall != nil {
			call = loadCall()
		}
		call.Func = f
		if err := f.Handler(context.Background(), call); err != nil {
			return fmt.Errorf("on_load %s: %w", f.Name, err)
		}
	}
	return nil
}

func validate(f *Func) error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFunc)
	}
	if f.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidFunc, f.Name)
	}
	if _, ok := kindNames[f.Kind]; !ok {
		return fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidFunc, f.Name, f.Kind)
	}
	if f.Kind == KindPeriodic && f.Period <= 0 && f.First <= 0 && f.Cron == "" {
		return fmt.Errorf("%w: periodic %s needs a period, first delay or cron schedule", ErrInvalidFunc, f.Name)
	}
	return nil
}

func (r *Registry) register(kind Kind, name string, h Handler, opts []Option) (*Func, error) {
	f := &Func{Name: name, Kind: kind, Handler: h}
	for _, opt := range opts {
		opt(f)
	}
	if err := r.Add(f); err != nil {
		return nil, err
	}
	return f, nil
}

// Submission registers a callback for new submissions.
func (r *Registry) Submission(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindSubmission, name, h, opts)
}

// Comment registers a callback for new comments.
func (r *Registry) Comment(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindComment, name, h, opts)
}

// Periodic registers a timed callback. Use Every, After or Cron to set when
// it fires.
func (r *Registry) Periodic(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindPeriodic, name, h, opts)
}

// OnLoad registers a callback that runs immediately.
func (r *Registry) OnLoad(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindOnLoad, name, h, opts)
}

// OnStart registers a callback run once the bot has connected.
func (r *Registry) OnStart(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindOnStart, name, h, opts)
}

// Command registers an inbox command. The name is matched case-insensitively
// after the command prefix.
func (r *Registry) Command(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindCommand, name, h, opts)
}

// Modlog registers a callback for new modlog entries.
func (r *Registry) Modlog(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindModlog, name, h, opts)
}

// Report registers a callback for new reports.
func (r *Registry) Report(name string, h Handler, opts ...Option) (*Func, error) {
	return r.register(KindReport, name, h, opts)
}

// RegisterWikiPage registers a wiki page plugins are configured through.
// Several plugins may register the same page name.
func (r *Registry) RegisterWikiPage(name, description string, opts ...WikiOption) (*WikiPage, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: wiki page without a name", ErrInvalidFunc)
	}
	w := &WikiPage{
		Name:            name,
		Description:     description,
		RefreshInterval: DefaultRefreshInterval,
		Mode:            "rw",
	}
	for _, opt := range opts {
		opt(w)
	}

	r.mu.Lock()
	r.wikis = append(r.wikis, w)
	subs := r.subscriberList()
	r.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Op: Added, Wiki: w})
	}
	return w, nil
}

// RemoveSource unregisters every Func and wiki page from source and returns
// how many entries were removed.
func (r *Registry) RemoveSource(source string) int {
	r.mu.Lock()
	var removed []Event
	keptFuncs := r.funcs[:0]
	for _, f := range r.funcs {
		if f.Source == source {
			removed = append(removed, Event{Op: Removed, Func: f})
			if f.Kind == KindCommand && r.commands[strings.ToLower(f.Name)] == f {
				delete(r.commands, strings.ToLower(f.Name))
			}
			continue
		}
		keptFuncs = append(keptFuncs, f)
	}
	clear(r.funcs[len(keptFuncs):])
	r.funcs = keptFuncs

	keptWikis := r.wikis[:0]
	for _, w := range r.wikis {
		if w.Source == source {
			removed = append(removed, Event{Op: Removed, Wiki: w})
			continue
		}
		keptWikis = append(keptWikis, w)
	}
	clear(r.wikis[len(keptWikis):])
	r.wikis = keptWikis
	subs := r.subscriberList()
	r.mu.Unlock()

	for _, ev := range removed {
		for _, fn := range subs {
			fn(ev)
		}
	}
	return len(removed)
}

// Subscribe calls fn for every registered entry, then for every later
// change. The returned function cancels the subscription.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subscribers[id] = fn
	wikis := append([]*WikiPage(nil), r.wikis...)
	funcs := append([]*Func(nil), r.funcs...)
	r.mu.Unlock()

	// Wiki pages first so bound Funcs find their page.
	for _, w := range wikis {
		fn(Event{Op: Added, Wiki: w})
	}
	for _, f := range funcs {
		fn(Event{Op: Added, Func: f})
	}

	return func() {
		r.mu.Lock()
		delete(r.subscribers, id)
		r.mu.Unlock()
	}
}

func (r *Registry) subscriberList() []func(Event) {
	ids := make([]int, 0, len(r.subscribers))
	for id := range r.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subscribers[id])
	}
	return out
}

// Funcs returns every registered Func in registration order.
func (r *Registry) Funcs() []*Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Func(nil), r.funcs...)
}

// ByKind returns the registered Funcs of one kind.
func (r *Registry) ByKind(kind Kind) []*Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Func
	for _, f := range r.funcs {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Lookup returns the first Func registered under name, of any kind.
func (r *Registry) Lookup(name string) (*Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.funcs {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// CommandFunc returns the non-raw command registered under name.
func (r *Registry) CommandFunc(name string) (*Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.commands[strings.ToLower(name)]
	return f, ok
}

// Commands returns the non-raw commands sorted by name.
func (r *Registry) Commands() []*Func {
	r.mu.RLock()
	out := make([]*Func, 0, len(r.commands))
	for _, f := range r.commands {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RawCommands returns commands that receive every message.
func (r *Registry) RawCommands() []*Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Func
	for _, f := range r.funcs {
		if f.Kind == KindCommand && f.Raw {
			out = append(out, f)
		}
	}
	return out
}

// WikiPages returns every registered wiki page.
func (r *Registry) WikiPages() []*WikiPage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*WikiPage(nil), r.wikis...)
}
