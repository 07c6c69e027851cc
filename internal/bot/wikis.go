package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/wiki"
)

// wikiPagesFor returns the registered pages that exist on subreddit.
func (m *Manager) wikiPagesFor(subreddit string) []*hook.WikiPage {
	var out []*hook.WikiPage
	for _, def := range m.registry.WikiPages() {
		if m.wikiApplies(def, subreddit) {
			out = append(out, def)
		}
	}
	return out
}

func (m *Manager) wikiApplies(def *hook.WikiPage, subreddit string) bool {
	if len(def.Subreddits) == 0 {
		return true
	}
	for _, s := range def.Subreddits {
		if s == hook.MasterSubreddit {
			s = m.cfg.MasterSubreddit
		}
		if s != "" && strings.EqualFold(s, subreddit) {
			return true
		}
	}
	return false
}

// ControlPanel regenerates the control panel of subreddit and applies the
// plugin switches it lists. Plugins that become enabled have their
// notifier called with the current page content.
func (m *Manager) ControlPanel(ctx context.Context, subreddit string) ([]string, error) {
	set, _ := m.ensureSubreddit(subreddit)

	content, err := set.ControlPanel(ctx)
	if err != nil {
		return nil, fmt.Errorf("read control panel of %s: %w", subreddit, err)
	}
	current, err := wiki.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("control panel of %s: %w", subreddit, err)
	}
	me, err := m.session.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve bot name: %w", err)
	}

	pages := m.wikiPagesFor(subreddit)
	rendered, enabled := wiki.Render(wiki.Panel{
		Subreddit:     subreddit,
		BotName:       me,
		CommandPrefix: m.cfg.CommandPrefix,
		Pages:         pages,
	}, current)
	if err := set.SetControlPanel(ctx, rendered); err != nil {
		return nil, fmt.Errorf("write control panel of %s: %w", subreddit, err)
	}

	m.applyPanel(ctx, set, pages, enabled)
	return enabled, nil
}

// UpdateControlPanel is ControlPanel for plugins.
func (m *Manager) UpdateControlPanel(ctx context.Context, subreddit string) error {
	_, err := m.ControlPanel(ctx, subreddit)
	return err
}

// applyPanel switches the plugins of a subreddit on or off. Enabled pages
// are watched, and created when missing.
func (m *Manager) applyPanel(ctx context.Context, set *wiki.Set, pages []*hook.WikiPage, enabled []string) {
	on := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		on[name] = true
	}
	table := m.disp.AddSubreddit(set.Subreddit())

	for _, def := range pages {
		wasEnabled := set.Enabled(def.Name)
		if !on[def.Name] {
			if wasEnabled {
				m.log.Infow("plugin disabled", "subreddit", set.Subreddit(), "plugin", def.Name)
			}
			set.Disable(def.Name)
			table.Disable(def.Name)
			continue
		}

		wasWatched := set.Watching(def)
		page, err := set.Add(ctx, def)
		if err != nil {
			m.log.Errorw("could not watch wiki page", "subreddit", set.Subreddit(), "page", def.Name, "error", err)
			continue
		}
		set.Enable(def.Name)
		table.Enable(def.Name)
		if !wasEnabled {
			m.log.Infow("plugin enabled", "subreddit", set.Subreddit(), "plugin", def.Name)
		}
		if !wasEnabled || !wasWatched {
			m.notifyWiki(ctx, page)
		}
	}
}

// notifyWiki calls the page's notifier with its current content.
func (m *Manager) notifyWiki(ctx context.Context, page *wiki.WatchedPage) {
	def := page.Def()
	if def.Notifier == nil {
		return
	}
	change := page.Change(m.now())
	call := m.baseCall()
	call.Subreddit = page.Subreddit()
	call.Change = &change
	m.invoke(ctx, m.notifierFunc(def), call)
}

// refreshWikis re-reads the enabled pages whose refresh interval elapsed
// and notifies their plugins of changes. Control panels are regenerated
// first when plugins registered pages since the last pass.
func (m *Manager) refreshWikis(ctx context.Context) {
	if m.panelsDirty.Swap(false) {
		for _, sub := range m.Subreddits() {
			if _, err := m.ControlPanel(ctx, sub); err != nil {
				m.log.Errorw("could not update control panel", "subreddit", sub, "error", err)
			}
		}
	}

	now := m.now()
	m.mu.Lock()
	sets := make([]*wiki.Set, 0, len(m.sets))
	for _, s := range m.sets {
		sets = append(sets, s)
	}
	m.mu.Unlock()

	for _, set := range sets {
		for _, page := range set.Pages() {
			if ctx.Err() != nil {
				return
			}
			if !set.Enabled(page.Name()) || !page.Due(now) {
				continue
			}
			changed, err := page.UpdateContent(ctx)
			if err != nil {
				m.log.Warnw("could not refresh wiki page", "subreddit", page.Subreddit(), "page", page.Name(), "error", err)
				continue
			}
			if changed {
				m.log.Infow("wiki page changed", "subreddit", page.Subreddit(), "page", page.Name())
				m.notifyWiki(ctx, page)
			}
		}
	}
}

// refreshSubreddits picks up newly moderated subreddits: each gets its
// tables and control panel, and its on-start hooks run.
func (m *Manager) refreshSubreddits(ctx context.Context) {
	subs, err := m.session.ModeratedSubreddits(ctx)
	if err != nil {
		m.log.Warnw("could not list moderated subreddits", "error", err)
		return
	}
	for _, sub := range subs {
		if _, added := m.ensureSubreddit(sub); !added {
			continue
		}
		m.log.Infow("new moderated subreddit", "subreddit", sub)
		if _, err := m.ControlPanel(ctx, sub); err != nil {
			m.log.Errorw("could not set up control panel", "subreddit", sub, "error", err)
		}
		m.startSubreddit(ctx, sub)
	}
}
