// Package bot is the plugin manager: it owns the platform session, the
// storage layers, the hook registry subscription, the dispatcher and the
// feeders, and runs the watchers that feed platform events to plugins.
package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/dispatch"
	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/feeder"
	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/notify"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/store"
	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
	"github.com/gbionescu/reddit-moderator-bot/internal/wiki"
)

// Default cadences.
const (
	DefaultTickInterval     = time.Second
	DefaultInboxInterval    = 10 * time.Second
	DefaultFirehoseInterval = 30 * time.Second
	DefaultInitialRetry     = time.Second
	DefaultReportInterval   = 5 * time.Second
	DefaultModlogInterval   = 30 * time.Second
	DefaultCommandPrefix    = "/"
)

// Config holds the manager settings.
type Config struct {
	Owner           string
	MasterSubreddit string
	CommandPrefix   string

	MaxWorkers     int
	ItemsPerWorker int64
	WatchComments  bool

	TickInterval     time.Duration
	InboxInterval    time.Duration
	FirehoseInterval time.Duration
	InitialRetry     time.Duration
	ReportInterval   time.Duration
	ModlogInterval   time.Duration
	SubredditRefresh time.Duration
}

func (c *Config) applyDefaults() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = DefaultCommandPrefix
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = feeder.DefaultMaxWorkers
	}
	if c.ItemsPerWorker <= 0 {
		c.ItemsPerWorker = feeder.DefaultItemsPerWorker
	}
	setDefault(&c.TickInterval, DefaultTickInterval)
	setDefault(&c.InboxInterval, DefaultInboxInterval)
	setDefault(&c.FirehoseInterval, DefaultFirehoseInterval)
	setDefault(&c.InitialRetry, DefaultInitialRetry)
	setDefault(&c.ReportInterval, DefaultReportInterval)
	setDefault(&c.ModlogInterval, DefaultModlogInterval)
	setDefault(&c.SubredditRefresh, platform.ModeratedSubsExpiry)
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d <= 0 {
		*d = v
	}
}

// Runner is an extra long-lived task started by Run, such as the plugin
// reloader or the console server.
type Runner func(ctx context.Context) error

// Observer is told about every hook invocation.
type Observer func(fn *hook.Func, call *hook.Call, err error)

// Manager is the plugin manager.
type Manager struct {
	cfg      Config
	log      *zap.SugaredLogger
	client   platform.Client
	session  *platform.Session
	docs     *docstore.Store
	db       *store.Store
	registry *hook.Registry
	disp     *dispatch.Dispatcher
	wikis    *wiki.Cache
	sink     notify.Sink
	now      func() time.Time
	spawn    func(func())
	observer Observer
	runners  []Runner
	args     map[string]any

	submissions *feeder.Feeder
	comments    *feeder.Feeder
	inbox       *messageQueue

	reportsDoc *docstore.Document
	modlogDoc  *docstore.Document

	wg          sync.WaitGroup
	unsubscribe func()

	mu              sync.Mutex
	started         time.Time
	sets            map[string]*wiki.Set
	lastExec        map[*hook.Func]time.Time
	notifiers       map[*hook.WikiPage]*hook.Func
	lastInbox       time.Time
	lastSubsRefresh time.Time

	inboxBusy   atomic.Bool
	wikiBusy    atomic.Bool
	panelsDirty atomic.Bool
}

var _ hook.Bot = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Components get named children.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSink mirrors fed events to sink.
func WithSink(sink notify.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithSpawn sets how threaded hooks and background tasks are started. Tests
// pass a function that runs its argument inline.
func WithSpawn(spawn func(func())) Option {
	return func(m *Manager) { m.spawn = spawn }
}

// WithObserver sets a callback told about every hook invocation.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithRunner adds a task Run starts alongside the watchers.
func WithRunner(r Runner) Option {
	return func(m *Manager) { m.runners = append(m.runners, r) }
}

// WithArg registers an extra argument every hook call carries.
func WithArg(name string, value any) Option {
	return func(m *Manager) { m.args[name] = value }
}

// New wires a manager. The registry is subscribed immediately, so plugins
// may be loaded before or after New.
func New(cfg Config, client platform.Client, docs *docstore.Store, db *store.Store, registry *hook.Registry, opts ...Option) (*Manager, error) {
	cfg.applyDefaults()
	m := &Manager{
		cfg:       cfg,
		log:       zap.NewNop().Sugar(),
		client:    client,
		docs:      docs,
		db:        db,
		registry:  registry,
		now:       time.Now,
		args:      make(map[string]any),
		inbox:     newMessageQueue(),
		sets:      make(map[string]*wiki.Set),
		lastExec:  make(map[*hook.Func]time.Time),
		notifiers: make(map[*hook.WikiPage]*hook.Func),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.spawn == nil {
		m.spawn = m.goSpawn
	}

	posted, err := docs.Document("all", "posted")
	if err != nil {
		return nil, fmt.Errorf("open posted store: %w", err)
	}
	m.session = platform.NewSession(client,
		platform.WithSignature(platform.Signature(cfg.Owner)),
		platform.WithPostedStore(posted),
		platform.WithAuditLogger(m.log.Named("audit")),
		platform.WithClock(m.now),
	)

	if m.reportsDoc, err = docs.Document("mod", "cmds"); err != nil {
		return nil, fmt.Errorf("open report history: %w", err)
	}
	if m.modlogDoc, err = docs.Document("mod", "modlog"); err != nil {
		return nil, fmt.Errorf("open modlog history: %w", err)
	}

	lastSeen, err := docs.Document("all", "last_seen")
	if err != nil {
		return nil, fmt.Errorf("open feeder state: %w", err)
	}
	fetch := feeder.InfoFetcher{Client: client}
	flog := m.log.Named("feeder")
	m.submissions = feeder.New(feeder.Config{
		Kind:           thingid.Link,
		MaxWorkers:     cfg.MaxWorkers,
		ItemsPerWorker: cfg.ItemsPerWorker,
	}, fetch, m.feedThing, feeder.WithStore(lastSeen), feeder.WithLogger(flog))
	m.comments = feeder.New(feeder.Config{
		Kind:           thingid.Comment,
		MaxWorkers:     cfg.MaxWorkers,
		ItemsPerWorker: cfg.ItemsPerWorker,
	}, fetch, m.feedThing, feeder.WithStore(lastSeen), feeder.WithLogger(flog))

	m.wikis = wiki.NewCache(client, docs, m.now, m.log.Named("wiki"))
	m.disp = dispatch.New(cfg.MasterSubreddit, dispatch.WithClock(m.now), dispatch.WithLogger(m.log.Named("dispatch")))

	registry.SetLoadCall(m.baseCall)
	m.unsubscribe = registry.Subscribe(m.handleRegistryEvent)
	return m, nil
}

func (m *Manager) goSpawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Close detaches the manager from the registry.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.inbox.Close()
}

// WaitIdle blocks until feeder workers and spawned tasks have finished.
func (m *Manager) WaitIdle() {
	m.submissions.Wait()
	m.comments.Wait()
	m.wg.Wait()
}

func (m *Manager) handleRegistryEvent(ev hook.Event) {
	m.disp.HandleEvent(ev)
	if ev.Wiki == nil {
		return
	}
	switch ev.Op {
	case hook.Removed:
		m.mu.Lock()
		sets := make([]*wiki.Set, 0, len(m.sets))
		for _, s := range m.sets {
			sets = append(sets, s)
		}
		if fn, ok := m.notifiers[ev.Wiki]; ok {
			delete(m.lastExec, fn)
			delete(m.notifiers, ev.Wiki)
		}
		m.mu.Unlock()
		for _, s := range sets {
			s.Remove(ev.Wiki)
		}
	case hook.Added:
		// Pages registered after start show up on the next panel refresh.
		if !m.Started().IsZero() {
			m.panelsDirty.Store(true)
		}
	}
}

// baseCall returns a Call carrying the manager and the registered extra
// arguments.
func (m *Manager) baseCall() *hook.Call {
	call := &hook.Call{Bot: m}
	call.With("bot_owner", m.cfg.Owner)
	call.With("plugin_manager", m)
	call.With("storage", m.docs)
	if m.db != nil {
		call.With("db", m.db)
	}
	call.With("schedule_call", m.ScheduleCall)
	call.WithAll(m.args)
	return call
}

// Dispatcher exposes the dispatch tables.
func (m *Manager) Dispatcher() *dispatch.Dispatcher { return m.disp }

// Feeders returns the submission and comment feeders.
func (m *Manager) Feeders() (submissions, comments *feeder.Feeder) {
	return m.submissions, m.comments
}

// Config returns the effective settings.
func (m *Manager) Config() Config { return m.cfg }

// LastExec returns when fn last ran.
func (m *Manager) LastExec(fn *hook.Func) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastExec[fn]
	return t, ok
}

func (m *Manager) Session() *platform.Session { return m.session }

func (m *Manager) Registry() *hook.Registry { return m.registry }

func (m *Manager) Storage(scope, name string) (*docstore.Document, error) {
	return m.docs.Document(scope, name)
}

func (m *Manager) DB() *store.Store { return m.db }

func (m *Manager) Owner() string { return m.cfg.Owner }

func (m *Manager) MasterSubreddit() string { return m.cfg.MasterSubreddit }

func (m *Manager) CommandPrefix() string { return m.cfg.CommandPrefix }

func (m *Manager) Now() time.Time { return m.now() }

// Started returns when Run started, or the zero time.
func (m *Manager) Started() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Manager) ModeratedSubreddits(ctx context.Context) ([]string, error) {
	return m.session.ModeratedSubreddits(ctx)
}

// WikiContent returns a wiki page's content, served from the local copy
// while it is fresh.
func (m *Manager) WikiContent(ctx context.Context, subreddit, page string) (string, error) {
	p, err := m.wikis.Page(ctx, subreddit, page, false)
	if err != nil {
		return "", err
	}
	return p.Content, nil
}

// SetWikiContent edits a wiki page. Pages registered on the subreddit are
// written through their writable registration; read-only registrations
// refuse the edit.
func (m *Manager) SetWikiContent(ctx context.Context, subreddit, page, content string) error {
	if set, ok := m.wikiSet(subreddit); ok && set.Has(page) {
		w, ok := set.Writer(page)
		if !ok {
			return fmt.Errorf("%s/%s: %w", subreddit, page, ErrReadOnlyWiki)
		}
		return w.SetContent(ctx, content)
	}
	return m.wikis.Edit(ctx, subreddit, page, content, "update "+page)
}

func (m *Manager) wikiSet(subreddit string) (*wiki.Set, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[strings.ToLower(subreddit)]
	return s, ok
}

// ensureSubreddit creates the wiki set and dispatch table of a moderated
// subreddit. It reports whether the subreddit is new.
func (m *Manager) ensureSubreddit(subreddit string) (*wiki.Set, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(subreddit)
	if s, ok := m.sets[key]; ok {
		return s, false
	}
	s := wiki.NewSet(subreddit, m.wikis)
	m.sets[key] = s
	m.disp.AddSubreddit(subreddit)
	return s, true
}

// Subreddits returns the moderated subreddits the manager set up.
func (m *Manager) Subreddits() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets))
	for _, s := range m.sets {
		out = append(out, s.Subreddit())
	}
	return out
}

func (m *Manager) notify(ctx context.Context, ev notify.Event) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Notify(ctx, ev); err != nil {
		m.log.Warnw("sink failed", "kind", ev.Kind, "error", err)
	}
}

// Status summarises a running manager.
type Status struct {
	Started         time.Time    `json:"started"`
	Subreddits      []string     `json:"subreddits"`
	Submissions     feeder.State `json:"submissions"`
	Comments        feeder.State `json:"comments"`
	PendingMessages int          `json:"pending_messages"`
	Hooks           int          `json:"hooks"`
}

// Status returns the feeder progress and queue sizes.
func (m *Manager) Status() Status {
	subs := m.Subreddits()
	sort.Strings(subs)
	return Status{
		Started:         m.Started(),
		Subreddits:      subs,
		Submissions:     m.submissions.Snapshot(),
		Comments:        m.comments.Snapshot(),
		PendingMessages: m.inbox.Len(),
		Hooks:           len(m.registry.Funcs()),
	}
}

// Modqueue returns the moderation queue of a subreddit.
func (m *Manager) Modqueue(ctx context.Context, subreddit string) ([]platform.Report, error) {
	return m.client.Modqueue(ctx, subreddit)
}
