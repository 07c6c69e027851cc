package wiki

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// WatchedPage is a plugin's wiki page on one subreddit.
type WatchedPage struct {
	subreddit string
	def       *hook.WikiPage
	mode      string
	cache     *Cache

	mu         sync.Mutex
	content    string
	previous   string
	author     string
	revision   time.Time
	lastUpdate time.Time
}

// Watch starts watching def on subreddit with the given mode ("rw" or "r").
// A page the platform does not have is created empty.
func Watch(ctx context.Context, cache *Cache, subreddit string, def *hook.WikiPage, mode string) (*WatchedPage, error) {
	w := &WatchedPage{subreddit: subreddit, def: def, mode: mode, cache: cache}

	page, err := cache.Page(ctx, subreddit, def.Name, true)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		cache.log.Debugw("creating missing wiki page", "subreddit", subreddit, "page", def.Name)
		if err := cache.Edit(ctx, subreddit, def.Name, "", "create "+def.Name); err != nil {
			return nil, fmt.Errorf("create wiki %s/%s: %w", subreddit, def.Name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("watch wiki %s/%s: %w", subreddit, def.Name, err)
	default:
		w.content = page.Content
		w.author = page.Author
		w.revision = page.RevisionDate
	}
	w.previous = w.content
	w.lastUpdate = cache.now()
	return w, nil
}

func (w *WatchedPage) Subreddit() string { return w.subreddit }

func (w *WatchedPage) Name() string { return w.def.Name }

// Def returns the registration the page was created from.
func (w *WatchedPage) Def() *hook.WikiPage { return w.def }

func (w *WatchedPage) Mode() string { return w.mode }

func (w *WatchedPage) Writable() bool {
	return w.mode == "rw" || w.mode == "w"
}

// Content returns the last read content.
func (w *WatchedPage) Content() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.content
}

// LastUpdate returns when the page was last read.
func (w *WatchedPage) LastUpdate() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUpdate
}

func (w *WatchedPage) interval() time.Duration {
	if w.def.RefreshInterval > 0 {
		return w.def.RefreshInterval
	}
	return hook.DefaultRefreshInterval
}

// Due reports whether the refresh interval has elapsed since the last read.
func (w *WatchedPage) Due(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUpdate.Add(w.interval()).Before(now)
}

// UpdateContent re-reads the page and reports whether its content changed.
func (w *WatchedPage) UpdateContent(ctx context.Context) (bool, error) {
	page, err := w.cache.Page(ctx, w.subreddit, w.def.Name, true)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.previous = w.content
	w.content = page.Content
	w.author = page.Author
	w.revision = page.RevisionDate
	w.lastUpdate = w.cache.now()
	return !equalText(w.previous, w.content), nil
}

// SetContent edits the page. Read-only pages are left alone.
func (w *WatchedPage) SetContent(ctx context.Context, content string) error {
	if !w.Writable() {
		w.cache.log.Debugw("not editing read-only page", "subreddit", w.subreddit, "page", w.def.Name)
		return nil
	}
	if err := w.cache.Edit(ctx, w.subreddit, w.def.Name, content, "update "+w.def.Name); err != nil {
		return err
	}
	w.mu.Lock()
	w.content = content
	w.mu.Unlock()
	return nil
}

// Change builds the notifier payload for the current content.
func (w *WatchedPage) Change(now time.Time) hook.WikiChange {
	w.mu.Lock()
	defer w.mu.Unlock()
	return hook.WikiChange{
		Subreddit:    w.subreddit,
		Page:         w.def.Name,
		Content:      w.content,
		Author:       w.author,
		RevisionDate: w.revision,
		RecentEdit:   !w.revision.IsZero() && now.Sub(w.revision) < w.interval(),
	}
}

// equalText compares two texts after NFC normalisation.
func equalText(a, b string) bool {
	return norm.NFC.String(a) == norm.NFC.String(b)
}
