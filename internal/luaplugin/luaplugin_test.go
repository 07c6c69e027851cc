package luaplugin

import (
	"context"
	"os"
	"path/filepath"
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
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testBot is the minimal hook.Bot scripts need.
type testBot struct {
	session *platform.Session
	docs    *docstore.Store
	wikis   map[string]string
}

func (b *testBot) Session() *platform.Session { return b.session }
func (b *testBot) Registry() *hook.Registry   { return nil }
func (b *testBot) Storage(scope, name string) (*docstore.Document, error) {
	return b.docs.Document(scope, name)
}
func (b *testBot) DB() *store.Store { return nil }
func (b *testBot) ScheduleCall(context.Context, string, time.Time, map[string]any) error {
	return nil
}
func (b *testBot) WikiContent(_ context.Context, sub, page string) (string, error) {
	return b.wikis[sub+"/"+page], nil
}
func (b *testBot) SetWikiContent(context.Context, string, string, string) error { return nil }
func (b *testBot) UpdateControlPanel(context.Context, string) error             { return nil }
func (b *testBot) ModeratedSubreddits(context.Context) ([]string, error)        { return nil, nil }
func (b *testBot) Owner() string                                                { return "owner" }
func (b *testBot) MasterSubreddit() string                                      { return "testsub" }
func (b *testBot) CommandPrefix() string                                        { return "/" }
func (b *testBot) Started() time.Time                                           { return time.Time{} }
func (b *testBot) Now() time.Time                                               { return time.Now() }

type fixture struct {
	dir      string
	registry *hook.Registry
	loader   *Loader
	platform *fake.Platform
	bot      *testBot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	docs, err := docstore.Open(t.TempDir(), log)
	require.NoError(t, err)
	p := fake.New("modbot")
	f := &fixture{
		dir:      t.TempDir(),
		registry: hook.NewRegistry(),
		platform: p,
		bot: &testBot{
			session: platform.NewSession(p),
			docs:    docs,
			wikis:   map[string]string{"testsub/greeter": "hello there"},
		},
	}
	f.loader = NewLoader(f.registry, log)
	t.Cleanup(f.loader.Close)
	return f
}

func (f *fixture) write(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func (f *fixture) lookup(t *testing.T, name string) *hook.Func {
	t.Helper()
	fn, ok := f.registry.Lookup(name)
	require.True(t, ok, "hook %s not registered", name)
	return fn
}

const greeter = `
hook.register_wiki_page("greeter", "Greets new posters", {
    default_enabled = true,
    refresh = 120,
    subreddits = {"$master"},
})

hook.submission("greet", function(call)
    local s = call.submission
    bot.send_pm(s.author, "Welcome", "Thanks for " .. s.title)
    bot.storage_set("lua", "greeter", "last", s.id)
end, {wiki = "greeter"})

hook.command("count", function(call)
    local n = bot.storage_get("lua", "greeter", "count") or 0
    bot.storage_set("lua", "greeter", "count", n + #call.args)
end, {permission = "mod", doc = "Counts its arguments"})

hook.periodic("sweep", function(call) end, {period = 60, first = 5})
hook.periodic("nightly", function(call) end, {cron = "0 3 * * *", subreddits = "testsub"})
`

func TestLoader_RegistersHooks(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "greeter.lua", greeter)
	require.NoError(t, f.loader.LoadFile(path))

	pages := f.registry.WikiPages()
	require.Len(t, pages, 1)
	page := pages[0]
	assert.Equal(t, "greeter", page.Name)
	assert.True(t, page.DefaultEnabled)
	assert.Equal(t, 2*time.Minute, page.RefreshInterval)
	assert.Equal(t, []string{hook.MasterSubreddit}, page.Subreddits)
	assert.True(t, page.Writable())

	greet := f.lookup(t, "greet")
	assert.Equal(t, hook.KindSubmission, greet.Kind)
	assert.Same(t, page, greet.Wiki)
	assert.Equal(t, path, greet.Source)

	count, ok := f.registry.CommandFunc("count")
	require.True(t, ok)
	assert.Equal(t, hook.PermMod, count.Permission)
	assert.Equal(t, "Counts its arguments", count.Doc)

	sweep := f.lookup(t, "sweep")
	assert.Equal(t, time.Minute, sweep.Period)
	assert.Equal(t, 5*time.Second, sweep.First)

	nightly := f.lookup(t, "nightly")
	assert.Equal(t, "0 3 * * *", nightly.Cron)
	assert.Equal(t, []string{"testsub"}, nightly.Subreddits)
}

func TestLoader_HandlersCallTheBot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.LoadFile(f.write(t, "greeter.lua", greeter)))
	ctx := context.Background()

	sub := platform.Submission{ID: "abc", Subreddit: "testsub", Author: "alice", Title: "my post"}
	err := f.lookup(t, "greet").Handler(ctx, &hook.Call{Bot: f.bot, Subreddit: "testsub", Submission: &sub})
	require.NoError(t, err)

	sent := f.platform.Sent("alice")
	require.Len(t, sent, 1)
	assert.Equal(t, "Welcome", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Thanks for my post")

	doc, err := f.bot.docs.Document("lua", "greeter")
	require.NoError(t, err)
	var last string
	found, err := doc.Decode("last", &last)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc", last)

	count, _ := f.registry.CommandFunc("count")
	for _, args := range [][]string{{"a", "b"}, {"c"}} {
		msg := platform.InboxMessage{Author: "mod1", Body: "/count"}
		require.NoError(t, count.Handler(ctx, &hook.Call{Bot: f.bot, Message: &msg, Command: "count", Args: args}))
	}
	var n int
	_, err = doc.Decode("count", &n)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLoader_HandlerErrors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.LoadFile(f.write(t, "errors.lua", `
hook.comment("raises", function(call) error("boom") end)
hook.comment("returns", function(call) return "bad comment " .. call.comment.id end)
hook.comment("fine", function(call) return nil end)
`)))
	ctx := context.Background()
	call := &hook.Call{Bot: f.bot, Comment: &platform.Comment{ID: "c1"}}

	err := f.lookup(t, "raises").Handler(ctx, call)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	err = f.lookup(t, "returns").Handler(ctx, call)
	assert.EqualError(t, err, "bad comment c1")

	assert.NoError(t, f.lookup(t, "fine").Handler(ctx, call))
}

func TestLoader_NotifierSeesChange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.LoadFile(f.write(t, "notify.lua", `
hook.register_wiki_page("greeter", "Greets", {notifier = function(call)
    local c = call.change
    bot.storage_set("lua", "seen", c.subreddit .. "/" .. c.page, c.content)
    bot.storage_set("lua", "seen", "wiki", bot.wiki_content(c.subreddit, c.page))
end})
`)))
	page := f.registry.WikiPages()[0]
	require.NotNil(t, page.Notifier)

	change := &hook.WikiChange{Subreddit: "testsub", Page: "greeter", Content: "[Setup]"}
	require.NoError(t, page.Notifier(context.Background(), &hook.Call{Bot: f.bot, Change: change}))

	doc, err := f.bot.docs.Document("lua", "seen")
	require.NoError(t, err)
	v, _ := doc.Get("testsub/greeter")
	assert.Equal(t, "[Setup]", v)
	v, _ = doc.Get("wiki")
	assert.Equal(t, "hello there", v)
}

func TestLoader_FailedLoadRegistersNothing(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", `hook.comment("x", function(call) end`},
		{"runtime error", `hook.comment("x", function(call) end) error("nope")`},
		{"unknown wiki", `hook.comment("x", function(call) end, {wiki = "missing"})`},
		{"bot outside hook", `hook.comment("x", function(call) end) local o = bot.owner()`},
		{"bad permission", `hook.command("x", function(call) end, {permission = "admin"})`},
		{"sandboxed os", `hook.comment("x", function(call) end) os.exit(1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.loader.LoadFile(f.write(t, "bad.lua", tt.src))
			require.Error(t, err)
			assert.Empty(t, f.registry.Funcs())
			assert.Empty(t, f.loader.Loaded())
		})
	}
}

func TestLoader_ReloadReplacesHooks(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "p.lua", `hook.comment("old", function(call) end)`)
	require.NoError(t, f.loader.LoadFile(path))
	old := f.lookup(t, "old")

	f.write(t, "p.lua", `hook.comment("new", function(call) end)`)
	require.NoError(t, f.loader.LoadFile(path))

	_, ok := f.registry.Lookup("old")
	assert.False(t, ok)
	f.lookup(t, "new")
	assert.ErrorIs(t, old.Handler(context.Background(), &hook.Call{Bot: f.bot}), ErrClosed)

	assert.True(t, f.loader.Unload(path))
	assert.Empty(t, f.registry.Funcs())
	assert.False(t, f.loader.Unload(path))
}

func TestLoader_DuplicateCommandIsIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.loader.LoadFile(f.write(t, "a.lua", `hook.command("ping", function(call) end)`)))
	require.NoError(t, f.loader.LoadFile(f.write(t, "b.lua", `
hook.command("ping", function(call) end)
hook.comment("still_loaded", function(call) end)
`)))
	ping, _ := f.registry.CommandFunc("ping")
	assert.Equal(t, filepath.Join(f.dir, "a.lua"), ping.Source)
	f.lookup(t, "still_loaded")
}

func TestLoader_LoadDir(t *testing.T) {
	f := newFixture(t)
	f.write(t, "b.lua", `hook.comment("b", function(call) end)`)
	f.write(t, "a.lua", `hook.comment("a", function(call) end)`)
	f.write(t, "broken.lua", `this is not lua`)
	f.write(t, "notes.txt", `hook.comment("txt", function(call) end)`)

	n, err := f.loader.LoadDir(f.dir)
	assert.Equal(t, 2, n)
	require.Error(t, err)

	var names []string
	for _, fn := range f.registry.Funcs() {
		names = append(names, fn.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Len(t, f.loader.Loaded(), 2)
}

func TestReloader_FollowsFileChanges(t *testing.T) {
	f := newFixture(t)
	r := NewReloader(f.loader, []string{f.dir}, zaptest.NewLogger(t).Sugar())
	r.debounce = 20 * time.Millisecond
	r.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register the folder.
	time.Sleep(50 * time.Millisecond)
	path := f.write(t, "live.lua", `hook.comment("live", function(call) end)`)
	require.Eventually(t, func() bool {
		_, ok := f.registry.Lookup("live")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := f.registry.Lookup("live")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
