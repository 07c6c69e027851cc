package wiki

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// Set is the wiki view of one moderated subreddit: its watched pages, which
// of them are enabled and its control panel.
type Set struct {
	subreddit string
	cache     *Cache

	mu      sync.Mutex
	pages   map[string][]*WatchedPage
	enabled map[string]bool
	panel   string
}

// NewSet returns an empty set for subreddit.
func NewSet(subreddit string, cache *Cache) *Set {
	return &Set{
		subreddit: subreddit,
		cache:     cache,
		pages:     make(map[string][]*WatchedPage),
		enabled:   make(map[string]bool),
	}
}

func (s *Set) Subreddit() string { return s.subreddit }

// Add starts watching def. Only the first writable registration of a page
// name is writable; later ones are watched read-only. Adding the same
// registration twice returns the existing page.
func (s *Set) Add(ctx context.Context, def *hook.WikiPage) (*WatchedPage, error) {
	s.mu.Lock()
	mode := "r"
	if def.Writable() {
		mode = "rw"
	}
	for _, p := range s.pages[def.Name] {
		if p.def == def {
			s.mu.Unlock()
			return p, nil
		}
		if mode == "rw" && p.Writable() {
			s.cache.log.Debugw("page already has a writer, watching read-only", "subreddit", s.subreddit, "page", def.Name)
			mode = "r"
		}
	}
	s.mu.Unlock()

	page, err := Watch(ctx, s.cache, s.subreddit, def, mode)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[def.Name] = append(s.pages[def.Name], page)
	return page, nil
}

// Remove stops watching def.
func (s *Set) Remove(def *hook.WikiPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.pages[def.Name]
	for i, p := range list {
		if p.def == def {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.pages, def.Name)
		return
	}
	s.pages[def.Name] = list
}

// Has reports whether any registration of name is watched.
func (s *Set) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages[name]) > 0
}

// Watching reports whether def itself is watched.
func (s *Set) Watching(def *hook.WikiPage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages[def.Name] {
		if p.def == def {
			return true
		}
	}
	return false
}

// Page returns every watched registration of name.
func (s *Set) Page(name string) []*WatchedPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*WatchedPage(nil), s.pages[name]...)
}

// Writer returns the writable registration of name, if any.
func (s *Set) Writer(name string) (*WatchedPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages[name] {
		if p.Writable() {
			return p, true
		}
	}
	return nil, false
}

// Pages returns every watched page ordered by name.
func (s *Set) Pages() []*WatchedPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WatchedPage
	for _, list := range s.pages {
		out = append(out, list...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (s *Set) Enable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[name] = true
}

func (s *Set) Disable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enabled, name)
}

func (s *Set) Enabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[name]
}

// ControlPanel reads the control panel live. A missing panel reads as
// empty.
func (s *Set) ControlPanel(ctx context.Context) (string, error) {
	page, err := s.cache.Page(ctx, s.subreddit, ControlPanelPage, true)
	if errors.Is(err, platform.ErrNotFound) {
		page.Content = ""
	} else if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.panel = page.Content
	s.mu.Unlock()
	return page.Content, nil
}

// SetControlPanel writes the control panel when content differs from the
// last read.
func (s *Set) SetControlPanel(ctx context.Context, content string) error {
	s.mu.Lock()
	unchanged := equalText(s.panel, content)
	s.mu.Unlock()
	if unchanged {
		return nil
	}
	s.cache.log.Debugw("editing control panel", "subreddit", s.subreddit)
	if err := s.cache.Edit(ctx, s.subreddit, ControlPanelPage, content, "control panel update"); err != nil {
		return err
	}
	s.mu.Lock()
	s.panel = content
	s.mu.Unlock()
	return nil
}
