package bot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform/fake"
	"github.com/gbionescu/reddit-moderator-bot/internal/store"
	"github.com/gbionescu/reddit-moderator-bot/internal/testutil"
	"github.com/gbionescu/reddit-moderator-bot/internal/wiki"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	ctx      context.Context
	clock    *testutil.ManualClock
	platform *fake.Platform
	docs     *docstore.Store
	registry *hook.Registry
	mgr      *Manager

	mu    sync.Mutex
	calls []observed
}

type observed struct {
	fn   *hook.Func
	call *hook.Call
	err  error
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		clock:    testutil.NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		platform: fake.New("modbot"),
		registry: hook.NewRegistry(),
	}
	f.platform.SetClock(f.clock.Now)
	f.platform.AddSubreddit("testsub", "mod1")

	log := zaptest.NewLogger(t).Sugar()
	docs, err := docstore.Open(t.TempDir(), log)
	require.NoError(t, err)
	f.docs = docs
	db, err := store.Open(filepath.Join(t.TempDir(), "bot.db"), store.WithClock(f.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]Option{
		WithLogger(log),
		WithClock(f.clock.Now),
		WithSpawn(func(fn func()) { fn() }),
		WithObserver(f.observe),
	}, opts...)
	mgr, err := New(Config{Owner: "owner", MasterSubreddit: "testsub"}, f.platform, docs, db, f.registry, opts...)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	f.mgr = mgr
	return f
}

func (f *fixture) observe(fn *hook.Func, call *hook.Call, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, observed{fn: fn, call: call, err: err})
}

func (f *fixture) callsTo(name string) []observed {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []observed
	for _, c := range f.calls {
		if c.fn.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func nop(context.Context, *hook.Call) error { return nil }

func TestManager_SubmissionRouting(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Submission("everywhere", nop)
	require.NoError(t, err)
	_, err = f.registry.Submission("elsewhere", nop, hook.WithSubreddits("other"))
	require.NoError(t, err)
	_, err = f.registry.Submission("here", nop, hook.WithSubreddits("TestSub"))
	require.NoError(t, err)

	sub := f.platform.AddSubmission("testsub", "alice", "hello", "")
	f.mgr.FeedSubmission(f.ctx, sub)

	assert.Len(t, f.callsTo("everywhere"), 1)
	assert.Len(t, f.callsTo("here"), 1)
	assert.Empty(t, f.callsTo("elsewhere"))

	got := f.callsTo("here")[0].call
	assert.Equal(t, "testsub", got.Subreddit)
	require.NotNil(t, got.Submission)
	assert.Equal(t, sub.ID, got.Submission.ID)
	assert.Equal(t, "owner", got.StringArg("bot_owner"))
}

func TestManager_CommandPermissions(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Command("ping", nop)
	require.NoError(t, err)
	_, err = f.registry.Command("modonly", nop, hook.WithPermission(hook.PermMod))
	require.NoError(t, err)
	_, err = f.registry.Command("secret", nop, hook.WithPermission(hook.PermOwner))
	require.NoError(t, err)

	tests := []struct {
		author string
		body   string
		want   string
		ran    bool
	}{
		{"random", "/ping", "ping", true},
		{"random", "/modonly", "modonly", false},
		{"Mod1", "/modonly", "modonly", true},
		{"owner", "/modonly", "modonly", true},
		{"mod1", "/secret", "secret", false},
		{"owner", "/secret", "secret", true},
		{"random", "ping", "ping", false},
	}
	for _, tt := range tests {
		before := len(f.callsTo(tt.want))
		f.mgr.FeedMessage(f.ctx, platform.InboxMessage{ID: "m", Author: tt.author, Body: tt.body})
		after := len(f.callsTo(tt.want))
		assert.Equal(t, tt.ran, after > before, "%s sending %q", tt.author, tt.body)
	}
}

func TestManager_CommandArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Command("flair", nop)
	require.NoError(t, err)

	f.mgr.FeedMessage(f.ctx, platform.InboxMessage{Author: "alice", Body: "  /flair   t3_abc  \n red "})

	calls := f.callsTo("flair")
	require.Len(t, calls, 1)
	assert.Equal(t, "flair", calls[0].call.Command)
	assert.Equal(t, []string{"t3_abc", "red"}, calls[0].call.Args)
	assert.False(t, calls[0].call.IsReport)
}

func TestManager_RawCommandsSeeEveryMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Command("forward", nop, hook.Raw())
	require.NoError(t, err)

	f.mgr.Deliver(platform.InboxMessage{Author: "alice", Body: "hello there"})
	f.mgr.Deliver(platform.InboxMessage{Author: "bob", Body: "/unknown"})
	assert.Equal(t, 2, f.mgr.DrainMessages(f.ctx))

	assert.Len(t, f.callsTo("forward"), 2)
}

func TestManager_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Comment("boom", func(context.Context, *hook.Call) error {
		panic("kaboom")
	})
	require.NoError(t, err)
	_, err = f.registry.Comment("after", nop)
	require.NoError(t, err)

	f.mgr.FeedComment(f.ctx, platform.Comment{ID: "c1", Subreddit: "testsub", Body: "hi"})

	boom := f.callsTo("boom")
	require.Len(t, boom, 1)
	assert.True(t, IsPanic(boom[0].err))
	var de *DispatchError
	require.ErrorAs(t, boom[0].err, &de)
	assert.Equal(t, "kaboom", de.Message)
	assert.NotEmpty(t, de.Stack)

	after := f.callsTo("after")
	require.Len(t, after, 1)
	assert.NoError(t, after[0].err)
}

func TestManager_HandlerErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	sentinel := errors.New("nope")
	fn, err := f.registry.Comment("fails", func(context.Context, *hook.Call) error { return sentinel })
	require.NoError(t, err)

	f.mgr.FeedComment(f.ctx, platform.Comment{ID: "c1", Subreddit: "testsub"})

	calls := f.callsTo("fails")
	require.Len(t, calls, 1)
	assert.ErrorIs(t, calls[0].err, sentinel)
	_, ran := f.mgr.LastExec(fn)
	assert.True(t, ran)
}

func TestManager_MissingArgumentSkipsCall(t *testing.T) {
	f := newFixture(t)
	ran := false
	fn, err := f.registry.Command("needs", func(context.Context, *hook.Call) error {
		ran = true
		return nil
	}, hook.Requires(hook.ArgSubmission))
	require.NoError(t, err)

	f.mgr.FeedMessage(f.ctx, platform.InboxMessage{Author: "alice", Body: "/needs"})

	assert.False(t, ran)
	calls := f.callsTo("needs")
	require.Len(t, calls, 1)
	assert.ErrorIs(t, calls[0].err, ErrMissingArg)
	_, stamped := f.mgr.LastExec(fn)
	assert.False(t, stamped)
}

func TestManager_ReportsAreDeduplicated(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Report("reports", nop)
	require.NoError(t, err)

	r := platform.Report{
		Fullname:    "t3_abc",
		Subreddit:   "testsub",
		Created:     f.clock.Now().Add(-time.Hour),
		UserReports: []platform.ReportLine{{Reason: "spam", Count: 2}},
	}
	f.mgr.FeedReport(f.ctx, r)
	f.mgr.FeedReport(f.ctx, r)
	assert.Len(t, f.callsTo("reports"), 1)

	r.ModReports = []platform.ReportLine{{Reason: "rule 2", Reporter: "mod1"}}
	f.mgr.FeedReport(f.ctx, r)
	calls := f.callsTo("reports")
	require.Len(t, calls, 2)
	assert.True(t, calls[1].call.IsReport)

	doc, err := f.docs.Document("mod", "cmds")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Len())
}

func TestManager_OldReportsAreIgnored(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Report("reports", nop)
	require.NoError(t, err)

	f.mgr.FeedReport(f.ctx, platform.Report{
		Fullname:    "t3_old",
		Subreddit:   "testsub",
		Created:     f.clock.Now().Add(-8 * 24 * time.Hour),
		UserReports: []platform.ReportLine{{Reason: "spam"}},
	})
	assert.Empty(t, f.callsTo("reports"))
}

func TestManager_ReportHistoryExpires(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Report("reports", nop)
	require.NoError(t, err)

	r := platform.Report{
		Fullname:    "t3_abc",
		Subreddit:   "testsub",
		UserReports: []platform.ReportLine{{Reason: "spam"}},
	}
	f.mgr.FeedReport(f.ctx, r)
	f.clock.Advance(8 * 24 * time.Hour)
	f.mgr.FeedReport(f.ctx, r)

	assert.Len(t, f.callsTo("reports"), 2)
}

func TestManager_ModReportRunsCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Command("lock", nop, hook.WithPermission(hook.PermMod))
	require.NoError(t, err)

	f.mgr.FeedReport(f.ctx, platform.Report{
		Fullname:    "t1_xyz",
		Subreddit:   "testsub",
		ModReports:  []platform.ReportLine{{Reason: "/lock now", Reporter: "mod1"}},
		UserReports: []platform.ReportLine{{Reason: "/lock"}},
	})

	calls := f.callsTo("lock")
	require.Len(t, calls, 1)
	got := calls[0].call
	assert.True(t, got.IsReport)
	assert.Equal(t, []string{"now"}, got.Args)
	assert.Equal(t, "testsub", got.Subreddit)
	require.NotNil(t, got.Report)
	assert.Equal(t, "t1_xyz", got.Report.Fullname)
	assert.Equal(t, "mod1", got.Message.Author)
}

func TestManager_ModlogIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Modlog("modlog", nop)
	require.NoError(t, err)

	f.platform.AddModlog(platform.ModlogEntry{Subreddit: "testsub", Moderator: "mod1", Action: "removelink"})
	f.platform.AddModlog(platform.ModlogEntry{Subreddit: "testsub", Moderator: "mod1", Action: "approvelink"})

	require.NoError(t, f.mgr.pollModlog(f.ctx))
	require.NoError(t, f.mgr.pollModlog(f.ctx))

	calls := f.callsTo("modlog")
	require.Len(t, calls, 2)
	assert.Equal(t, "removelink", calls[0].call.Modlog.Action)
	assert.Equal(t, "approvelink", calls[1].call.Modlog.Action)
}

func TestManager_ScheduledCallRunsOnce(t *testing.T) {
	f := newFixture(t)
	var got []string
	_, err := f.registry.Modlog("later", func(_ context.Context, call *hook.Call) error {
		got = append(got, call.StringArg("note")+"@"+call.Subreddit)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.mgr.ScheduleCall(f.ctx, "later", f.clock.Now().Add(time.Hour),
		map[string]any{"note": "hi", "subreddit": "testsub"}))

	f.mgr.Tick(f.ctx, f.clock.Now())
	assert.Empty(t, got)

	f.mgr.Tick(f.ctx, f.clock.Advance(2*time.Hour))
	f.mgr.Tick(f.ctx, f.clock.Advance(time.Second))
	assert.Equal(t, []string{"hi@testsub"}, got)
}

func TestManager_ScheduleCallWithoutDatabase(t *testing.T) {
	p := fake.New("modbot")
	docs, err := docstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	m, err := New(Config{}, p, docs, nil, hook.NewRegistry())
	require.NoError(t, err)
	defer m.Close()

	assert.ErrorIs(t, m.ScheduleCall(context.Background(), "x", time.Now(), nil), ErrNoDatabase)
}

func TestManager_PeriodicHooksFireOnTick(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Periodic("every_minute", nop, hook.Every(time.Minute))
	require.NoError(t, err)

	f.mgr.Tick(f.ctx, f.clock.Now())
	f.mgr.Tick(f.ctx, f.clock.Advance(30*time.Second))
	f.mgr.Tick(f.ctx, f.clock.Advance(31*time.Second))

	assert.Len(t, f.callsTo("every_minute"), 2)
}

func TestManager_InboxPollDeliversMessages(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Command("ping", nop)
	require.NoError(t, err)

	f.platform.DeliverMessage("alice", "hi", "/ping")
	f.mgr.Tick(f.ctx, f.clock.Now())
	assert.Equal(t, 1, f.mgr.DrainMessages(f.ctx))
	assert.Len(t, f.callsTo("ping"), 1)

	// The poll window has not expired yet.
	f.platform.DeliverMessage("alice", "hi", "/ping")
	f.mgr.Tick(f.ctx, f.clock.Advance(5*time.Second))
	assert.Equal(t, 0, f.mgr.DrainMessages(f.ctx))

	f.mgr.Tick(f.ctx, f.clock.Advance(5*time.Second))
	assert.Equal(t, 1, f.mgr.DrainMessages(f.ctx))
	assert.Equal(t, 2, f.platform.Calls("UnreadMessages"))
}

func TestManager_StartSetsUpControlPanel(t *testing.T) {
	f := newFixture(t)
	var changes []hook.WikiChange
	page, err := f.registry.RegisterWikiPage("flair_posts", "Reminds posters to flair",
		hook.EnabledByDefault(),
		hook.WithNotifier(func(_ context.Context, call *hook.Call) error {
			changes = append(changes, *call.Change)
			return nil
		}))
	require.NoError(t, err)
	_, err = f.registry.RegisterWikiPage("quiet", "Disabled unless asked")
	require.NoError(t, err)
	_, err = f.registry.Submission("flair_check", nop, hook.WithWiki(page))
	require.NoError(t, err)
	_, err = f.registry.OnStart("hello", nop)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Start(f.ctx))
	assert.ErrorIs(t, f.mgr.Start(f.ctx), ErrAlreadyStarted)

	panel, ok := f.platform.WikiContent("testsub", wiki.ControlPanelPage)
	require.True(t, ok)
	parsed, err := wiki.Parse(panel)
	require.NoError(t, err)
	assert.Equal(t, []string{"flair_posts"}, wiki.EnabledPlugins(parsed))
	assert.Contains(t, panel, "message=%2Fupdate_control_panel%20--subreddit%20testsub")

	_, ok = f.platform.WikiContent("testsub", "flair_posts")
	assert.True(t, ok, "enabled pages are created")
	_, ok = f.platform.WikiContent("testsub", "quiet")
	assert.False(t, ok, "disabled pages are left alone")

	require.Len(t, changes, 1)
	assert.Equal(t, "testsub", changes[0].Subreddit)
	assert.Len(t, f.callsTo("hello"), 1)

	f.mgr.FeedSubmission(f.ctx, f.platform.AddSubmission("testsub", "alice", "t", ""))
	assert.Len(t, f.callsTo("flair_check"), 1)
}

func TestManager_WikiChangesNotifyPlugins(t *testing.T) {
	f := newFixture(t)
	var changes []hook.WikiChange
	_, err := f.registry.RegisterWikiPage("flair_posts", "Reminds posters to flair",
		hook.EnabledByDefault(),
		hook.WithNotifier(func(_ context.Context, call *hook.Call) error {
			changes = append(changes, *call.Change)
			return nil
		}))
	require.NoError(t, err)
	require.NoError(t, f.mgr.Start(f.ctx))
	require.Len(t, changes, 1)

	f.clock.Advance(2 * time.Minute)
	f.platform.SetWiki("testsub", "flair_posts", "[Setup]\nmessage = flair it\n", "mod1")
	f.mgr.Tick(f.ctx, f.clock.Now())

	require.Len(t, changes, 2)
	assert.Contains(t, changes[1].Content, "flair it")
	assert.Equal(t, "mod1", changes[1].Author)
	assert.True(t, changes[1].RecentEdit)

	// Unchanged content does not notify again.
	f.mgr.Tick(f.ctx, f.clock.Advance(2*time.Minute))
	assert.Len(t, changes, 2)
}

func TestManager_ControlPanelTogglesPlugins(t *testing.T) {
	f := newFixture(t)
	page, err := f.registry.RegisterWikiPage("webhook_streamer", "Streams to chat")
	require.NoError(t, err)
	_, err = f.registry.Submission("stream", nop, hook.WithWiki(page))
	require.NoError(t, err)
	require.NoError(t, f.mgr.Start(f.ctx))

	post := func() {
		f.mgr.FeedSubmission(f.ctx, f.platform.AddSubmission("testsub", "alice", "t", ""))
	}
	post()
	assert.Empty(t, f.callsTo("stream"))

	f.platform.SetWiki("testsub", wiki.ControlPanelPage, wiki.Indent("[Enabled Plugins]\nwebhook_streamer\n"), "mod1")
	enabled, err := f.mgr.ControlPanel(f.ctx, "testsub")
	require.NoError(t, err)
	assert.Equal(t, []string{"webhook_streamer"}, enabled)
	post()
	assert.Len(t, f.callsTo("stream"), 1)

	f.platform.SetWiki("testsub", wiki.ControlPanelPage, wiki.Indent("[Enabled Plugins]\n"), "mod1")
	require.NoError(t, f.mgr.UpdateControlPanel(f.ctx, "testsub"))
	post()
	assert.Len(t, f.callsTo("stream"), 1)
}

func TestManager_SetWikiContentRespectsMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.RegisterWikiPage("rules", "Rules", hook.ReadOnly(), hook.EnabledByDefault())
	require.NoError(t, err)
	require.NoError(t, f.mgr.Start(f.ctx))

	err = f.mgr.SetWikiContent(f.ctx, "testsub", "rules", "new rules")
	assert.ErrorIs(t, err, ErrReadOnlyWiki)

	require.NoError(t, f.mgr.SetWikiContent(f.ctx, "testsub", "scratch", "notes"))
	got, err := f.mgr.WikiContent(f.ctx, "testsub", "scratch")
	require.NoError(t, err)
	assert.Equal(t, "notes", got)
}

func TestManager_NewSubredditIsPickedUp(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.OnStart("per_sub", nop, hook.WithSubreddits("newsub"))
	require.NoError(t, err)
	require.NoError(t, f.mgr.Start(f.ctx))
	assert.Empty(t, f.callsTo("per_sub"))

	f.platform.AddSubreddit("newsub", "mod2")
	f.mgr.Tick(f.ctx, f.clock.Advance(31*time.Minute))

	assert.ElementsMatch(t, []string{"testsub", "newsub"}, f.mgr.Subreddits())
	_, ok := f.platform.WikiContent("newsub", wiki.ControlPanelPage)
	assert.True(t, ok)
	calls := f.callsTo("per_sub")
	require.Len(t, calls, 1)
	assert.Equal(t, "newsub", calls[0].call.Subreddit)
}

func TestManager_FirehoseFeedsNewItems(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var titles []string
	_, err := f.registry.Submission("collect", func(_ context.Context, call *hook.Call) error {
		mu.Lock()
		defer mu.Unlock()
		titles = append(titles, call.Submission.Title)
		return nil
	})
	require.NoError(t, err)

	f.platform.AddSubmission("testsub", "alice", "before", "")
	f.mgr.Poll(f.ctx)

	f.platform.AddSubmission("testsub", "alice", "one", "")
	f.platform.AddSubmission("pics", "bob", "two", "")
	f.mgr.Poll(f.ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"one", "two"}, titles)
	subs, _ := f.mgr.Feeders()
	st := subs.Snapshot()
	assert.Equal(t, st.Seen, st.Fed)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	var ran bool
	f := newFixture(t, WithRunner(func(ctx context.Context) error {
		ran = true
		<-ctx.Done()
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.mgr.Run(ctx) }()

	require.Eventually(t, func() bool { return !f.mgr.Started().IsZero() }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, ran)
}
