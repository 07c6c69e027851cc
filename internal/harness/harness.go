package harness

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/bot"
	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/feeder"
	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/luaplugin"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform/fake"
	"github.com/gbionescu/reddit-moderator-bot/internal/plugins"
	"github.com/gbionescu/reddit-moderator-bot/internal/store"
	"github.com/gbionescu/reddit-moderator-bot/internal/testutil"
)

// StartTime is the clock reading every scenario starts at.
var StartTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	log *zap.SugaredLogger
}

// WithLogger routes bot logs to log. Runs are silent by default.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *runConfig) { c.log = log }
}

// Harness holds the state of one scenario run.
type Harness struct {
	scenario *Scenario
	clock    *testutil.ManualClock
	platform *fake.Platform
	docs     *docstore.Store
	mgr      *bot.Manager
	result   *Result

	mu       sync.Mutex
	step     int
	lastPost string
	msgSeq   int
}

// Run plays scenario and evaluates its assertions. The returned error is
// for setup problems; failed assertions are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir, err := os.MkdirTemp("", "modbot-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewManualClock(StartTime),
		result:   newResult(),
	}
	ctx := context.Background()

	botName := scenario.Bot
	if botName == "" {
		botName = "modbot"
	}
	h.platform = fake.New(botName)
	h.platform.SetClock(h.clock.Now)
	for _, sub := range scenario.Subreddits {
		h.platform.AddSubreddit(sub.Name, sub.Mods...)
	}
	for _, w := range scenario.Wiki {
		h.platform.SetWiki(w.Subreddit, w.Page, w.Content, w.Author)
	}

	if h.docs, err = docstore.Open(dir, cfg.log.Named("storage")); err != nil {
		return nil, err
	}
	db, err := store.Open(":memory:", store.WithClock(h.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	registry := hook.NewRegistry()
	if scenario.Builtins {
		if err := plugins.Register(registry, plugins.Options{Log: cfg.log.Named("plugins"), Archive: true}); err != nil {
			return nil, err
		}
	}
	loader := luaplugin.NewLoader(registry, cfg.log.Named("lua"))
	defer loader.Close()
	for _, path := range scenario.Plugins {
		if err := loader.LoadFile(path); err != nil {
			return nil, err
		}
	}

	owner := scenario.Owner
	if owner == "" {
		owner = "owner"
	}
	master := scenario.Master
	if master == "" {
		master = scenario.Subreddits[0].Name
	}
	h.mgr, err = bot.New(bot.Config{
		Owner:           owner,
		MasterSubreddit: master,
		CommandPrefix:   scenario.Prefix,
		WatchComments:   true,
	}, h.platform, h.docs, db, registry,
		bot.WithLogger(cfg.log.Named("bot")),
		bot.WithClock(h.clock.Now),
		bot.WithSpawn(func(fn func()) { fn() }),
		bot.WithObserver(h.observe),
	)
	if err != nil {
		return nil, err
	}
	defer h.mgr.Close()

	if err := h.mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	// Items posted by the steps are new even when the platform starts
	// empty, so the feeders start at the current head.
	subs, comments := h.mgr.Feeders()
	for _, f := range []*feeder.Feeder{subs, comments} {
		if err := f.SetInitial(h.platform.Head(f.Kind())); err != nil {
			return nil, err
		}
	}
	h.mgr.Poll(ctx)

	for i, st := range scenario.Steps {
		h.mu.Lock()
		h.step = i + 1
		h.mu.Unlock()
		if err := h.apply(ctx, st); err != nil {
			h.result.fail(fmt.Sprintf("steps[%d]: %v", i, err))
			continue
		}
		h.mgr.Poll(ctx)
	}

	h.result.Sent = h.platform.AllSent()
	for i, a := range scenario.Asserts {
		if err := h.check(a); err != nil {
			h.result.fail(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return h.result, nil
}

func (h *Harness) observe(fn *hook.Func, call *hook.Call, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kind := fn.Kind.String()
	if fn.Kind == 0 && fn.Wiki != nil {
		kind = "notifier"
	}
	ev := TraceEvent{
		Seq:       len(h.result.Trace) + 1,
		Hook:      fn.Name,
		Kind:      kind,
		Subreddit: call.Subreddit,
		Step:      h.step,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) apply(ctx context.Context, st Step) error {
	switch {
	case st.Submit != nil:
		s := h.platform.AddSubmission(st.Submit.Subreddit, st.Submit.Author, st.Submit.Title, st.Submit.Body)
		h.lastPost = s.Fullname()

	case st.Comment != nil:
		link := st.Comment.Link
		if link == "" {
			link = h.lastPost
		}
		if link == "" {
			return fmt.Errorf("comment: no submission to reply to")
		}
		h.platform.AddComment(st.Comment.Subreddit, st.Comment.Author, link, st.Comment.Body)

	case st.Message != nil:
		h.msgSeq++
		ok := h.mgr.Deliver(platform.InboxMessage{
			ID:      fmt.Sprintf("scenario_%d", h.msgSeq),
			Author:  st.Message.Author,
			Subject: st.Message.Subject,
			Body:    st.Message.Body,
			Created: h.clock.Now(),
		})
		if !ok {
			return fmt.Errorf("message: queue closed")
		}

	case st.Report != nil:
		item := st.Report.Item
		if item == "" {
			item = h.lastPost
		}
		if item == "" {
			return fmt.Errorf("report: no item to report")
		}
		r := platform.Report{
			Fullname:  item,
			Subreddit: st.Report.Subreddit,
			Author:    st.Report.Author,
		}
		for _, e := range st.Report.Mod {
			r.ModReports = append(r.ModReports, platform.ReportLine{Reason: e.Reason, Reporter: e.Reporter})
		}
		for _, e := range st.Report.User {
			r.UserReports = append(r.UserReports, platform.ReportLine{Reason: e.Reason, Count: max(e.Count, 1)})
		}
		h.platform.AddReport(r)

	case st.Modlog != nil:
		h.platform.AddModlog(platform.ModlogEntry{
			Subreddit:    st.Modlog.Subreddit,
			Moderator:    st.Modlog.Mod,
			Action:       st.Modlog.Action,
			TargetAuthor: st.Modlog.TargetAuthor,
			Details:      st.Modlog.Details,
		})

	case st.SetWiki != nil:
		h.platform.SetWiki(st.SetWiki.Subreddit, st.SetWiki.Page, st.SetWiki.Content, st.SetWiki.Author)

	case st.Advance != "":
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return err
		}
		h.advance(ctx, d)

	case st.Poll:
	}
	return nil
}

// advance moves the clock in tick-sized slices so periodic hooks fire at
// the times they would in a live run.
func (h *Harness) advance(ctx context.Context, d time.Duration) {
	const slice = time.Second
	for d > slice {
		h.clock.Advance(slice)
		h.mgr.Tick(ctx, h.clock.Now())
		d -= slice
	}
	h.clock.Advance(d)
}
