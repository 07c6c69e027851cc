package hook

import "time"

// MasterSubreddit stands in for the configured master subreddit in a wiki
// page's scope.
const MasterSubreddit = "$master"

// DefaultRefreshInterval is how often a watched wiki page is re-read.
const DefaultRefreshInterval = 60 * time.Second

// WikiPage is a wiki page a plugin is configured through.
type WikiPage struct {
	Name          string
	Description   string
	Documentation string
	// Notifier is called with Call.Change set whenever the page content
	// changes, and once when the plugin is enabled.
	Notifier Handler
	// Subreddits the page exists on; nil means every moderated subreddit.
	Subreddits      []string
	RefreshInterval time.Duration
	// Mode is "rw" or "r".
	Mode           string
	DefaultEnabled bool
	Source         string
}

// Writable reports whether the bot may edit the page.
func (w *WikiPage) Writable() bool {
	for _, c := range w.Mode {
		if c == 'w' {
			return true
		}
	}
	return false
}

// WikiOption configures a WikiPage at registration.
type WikiOption func(*WikiPage)

// WithNotifier sets the change notifier.
func WithNotifier(h Handler) WikiOption {
	return func(w *WikiPage) { w.Notifier = h }
}

// WikiSubreddits scopes the page to the given subreddits. Use
// MasterSubreddit for the configured master subreddit.
func WikiSubreddits(subs ...string) WikiOption {
	return func(w *WikiPage) { w.Subreddits = append(w.Subreddits, subs...) }
}

// RefreshEvery sets how often the page is re-read.
func RefreshEvery(d time.Duration) WikiOption {
	return func(w *WikiPage) { w.RefreshInterval = d }
}

// ReadOnly prevents the bot from editing the page.
func ReadOnly() WikiOption {
	return func(w *WikiPage) { w.Mode = "r" }
}

// EnabledByDefault adds the page to new control panels.
func EnabledByDefault() WikiOption {
	return func(w *WikiPage) { w.DefaultEnabled = true }
}

// WithDocumentation sets the long description shown in the control panel.
func WithDocumentation(doc string) WikiOption {
	return func(w *WikiPage) { w.Documentation = doc }
}

// WikiSource records the plugin the page belongs to.
func WikiSource(source string) WikiOption {
	return func(w *WikiPage) { w.Source = source }
}

// WikiChange is the notifier payload.
type WikiChange struct {
	Subreddit    string
	Page         string
	Content      string
	Author       string
	RevisionDate time.Time
	// RecentEdit is set when the revision is younger than the refresh
	// interval, i.e. a human just edited it.
	RecentEdit bool
}
