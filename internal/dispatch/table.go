package dispatch

import (
	"sync"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// routedKinds are the kinds kept in dispatch tables. Commands are looked up
// through the registry and on-load hooks run at registration.
var routedKinds = map[hook.Kind]bool{
	hook.KindSubmission: true,
	hook.KindComment:    true,
	hook.KindPeriodic:   true,
	hook.KindOnStart:    true,
	hook.KindModlog:     true,
	hook.KindReport:     true,
}

// Table buckets Funcs by kind and keeps periodic trigger state.
type Table struct {
	name string

	mu      sync.RWMutex
	buckets map[hook.Kind][]*entry
}

type entry struct {
	fn   *hook.Func
	trig *trigger
}

// NewTable returns an empty table. name is the subreddit, or "" for the
// global table.
func NewTable(name string) *Table {
	return &Table{name: name, buckets: make(map[hook.Kind][]*entry)}
}

// Name returns the subreddit the table serves.
func (t *Table) Name() string {
	return t.name
}

// Add inserts fn. Adding the same Func twice is a no-op. Periodic Funcs get
// their trigger started at now.
func (t *Table) Add(fn *hook.Func, now time.Time) error {
	if !routedKinds[fn.Kind] {
		return nil
	}
	e := &entry{fn: fn}
	if fn.Kind == hook.KindPeriodic {
		trig, err := newTrigger(fn, now)
		if err != nil {
			return err
		}
		e.trig = trig
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.buckets[fn.Kind] {
		if existing.fn == fn {
			return nil
		}
	}
	t.buckets[fn.Kind] = append(t.buckets[fn.Kind], e)
	return nil
}

// Remove deletes fn and reports whether it was present.
func (t *Table) Remove(fn *hook.Func) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	bucket := t.buckets[fn.Kind]
	for i, e := range bucket {
		if e.fn == fn {
			t.buckets[fn.Kind] = append(bucket[:i:i], bucket[i+1:]...)
			return true
		}
	}
	return false
}

// Callbacks returns the Funcs of one kind in registration order.
func (t *Table) Callbacks(kind hook.Kind) []*hook.Func {
	return t.callbacks(kind, nil)
}

func (t *Table) callbacks(kind hook.Kind, allow func(*hook.Func) bool) []*hook.Func {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*hook.Func
	for _, e := range t.buckets[kind] {
		if allow == nil || allow(e.fn) {
			out = append(out, e.fn)
		}
	}
	return out
}

// Due returns the periodic Funcs due at now and marks them fired.
func (t *Table) Due(now time.Time) []*hook.Func {
	return t.due(now, nil)
}

func (t *Table) due(now time.Time, allow func(*hook.Func) bool) []*hook.Func {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*hook.Func
	for _, e := range t.buckets[hook.KindPeriodic] {
		if allow != nil && !allow(e.fn) {
			continue
		}
		if e.trig.due(now) {
			e.trig.fired(now)
			out = append(out, e.fn)
		}
	}
	return out
}

// LastFired returns when fn last fired in this table.
func (t *Table) LastFired(fn *hook.Func) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.buckets[hook.KindPeriodic] {
		if e.fn == fn {
			return e.trig.Last(), true
		}
	}
	return time.Time{}, false
}

// Len returns the number of Funcs in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b)
	}
	return n
}

// Subreddit is the dispatch table of one subreddit. Wiki-bound Funcs only
// fire while their page is enabled in the subreddit's control panel.
type Subreddit struct {
	*Table

	emu     sync.RWMutex
	enabled map[string]bool
}

// NewSubreddit returns an empty subreddit table.
func NewSubreddit(name string) *Subreddit {
	return &Subreddit{Table: NewTable(name), enabled: make(map[string]bool)}
}

// Enable turns on the Funcs bound to a wiki page.
func (s *Subreddit) Enable(page string) {
	s.emu.Lock()
	defer s.emu.Unlock()
	s.enabled[page] = true
}

// Disable turns off the Funcs bound to a wiki page.
func (s *Subreddit) Disable(page string) {
	s.emu.Lock()
	defer s.emu.Unlock()
	delete(s.enabled, page)
}

// Enabled reports whether a wiki page is enabled.
func (s *Subreddit) Enabled(page string) bool {
	s.emu.RLock()
	defer s.emu.RUnlock()
	return s.enabled[page]
}

func (s *Subreddit) allow(fn *hook.Func) bool {
	return fn.Wiki == nil || s.Enabled(fn.Wiki.Name)
}

// Callbacks returns the Funcs of one kind that may fire.
func (s *Subreddit) Callbacks(kind hook.Kind) []*hook.Func {
	return s.callbacks(kind, s.allow)
}

// Due returns the enabled periodic Funcs due at now and marks them fired.
// Disabled Funcs keep their trigger state untouched.
func (s *Subreddit) Due(now time.Time) []*hook.Func {
	return s.due(now, s.allow)
}
