package plugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gbionescu/reddit-moderator-bot/internal/bot"
	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform/fake"
	"github.com/gbionescu/reddit-moderator-bot/internal/store"
	"github.com/gbionescu/reddit-moderator-bot/internal/testutil"
)

type fixture struct {
	ctx      context.Context
	clock    *testutil.ManualClock
	platform *fake.Platform
	db       *store.Store
	registry *hook.Registry
	mgr      *bot.Manager
	hooks    *hookServer
}

// hookServer records webhook posts by path.
type hookServer struct {
	*httptest.Server
	mu    sync.Mutex
	posts map[string][]string
}

func newHookServer(t *testing.T) *hookServer {
	h := &hookServer{posts: make(map[string][]string)}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		h.mu.Lock()
		h.posts[r.URL.Path] = append(h.posts[r.URL.Path], body.Content)
		h.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(h.Close)
	return h
}

func (h *hookServer) Posts(path string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.posts[path]...)
}

// newFixture wires the built-ins into a manager over the fake platform.
// setup runs before the manager starts.
func newFixture(t *testing.T, setup func(f *fixture)) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		clock:    testutil.NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		platform: fake.New("modbot"),
		registry: hook.NewRegistry(),
	}
	f.hooks = newHookServer(t)
	f.platform.SetClock(f.clock.Now)
	f.platform.AddSubreddit("testsub", "mod1")
	f.platform.AddSubreddit("othersub", "mod2")

	log := zaptest.NewLogger(t).Sugar()
	docs, err := docstore.Open(t.TempDir(), log)
	require.NoError(t, err)
	f.db, err = store.Open(filepath.Join(t.TempDir(), "bot.db"), store.WithClock(f.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { f.db.Close() })

	require.NoError(t, Register(f.registry, Options{
		Log:        log,
		HTTPClient: f.hooks.Client(),
		Archive:    true,
		Forward:    true,
	}))

	f.mgr, err = bot.New(bot.Config{Owner: "owner", MasterSubreddit: "testsub"}, f.platform, docs, f.db, f.registry,
		bot.WithLogger(log),
		bot.WithClock(f.clock.Now),
		bot.WithSpawn(func(fn func()) { fn() }),
	)
	require.NoError(t, err)
	t.Cleanup(f.mgr.Close)

	if setup != nil {
		setup(f)
	}
	require.NoError(t, f.mgr.Start(f.ctx))
	return f
}

func (f *fixture) send(author, body string) {
	f.mgr.FeedMessage(f.ctx, platform.InboxMessage{ID: "m", Author: author, Subject: "cmd", Body: body})
}

func subjects(sent []fake.Sent) []string {
	out := make([]string, 0, len(sent))
	for _, s := range sent {
		out = append(out, s.Subject)
	}
	return out
}

func TestStartup_MarksMasterWiki(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.platform.SetWiki("testsub", "bot_startup", "Bot startup: earlier", "modbot")
	})

	content, ok := f.platform.WikiContent("testsub", "bot_startup")
	require.True(t, ok)
	lines := strings.Split(content, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Bot startup: 2024-01-01 12:00:00; Plugin startup: 2024-01-01 12:00:00", lines[0])
	assert.Equal(t, "Bot startup: earlier", lines[1])

	_, ok = f.platform.WikiContent("othersub", "bot_startup")
	assert.False(t, ok, "startup page lives on the master subreddit only")
}

func TestPrependLine_KeepsNewest(t *testing.T) {
	var old []string
	for i := 0; i < 5; i++ {
		old = append(old, "line")
	}
	got := prependLine(strings.Join(old, "\n")+"\n", "new", 3)
	assert.Equal(t, "new\nline\nline", got)
	assert.Equal(t, "first", prependLine("", "first", 3))
}

func TestPing_RepliesPong(t *testing.T) {
	f := newFixture(t, nil)
	f.send("alice", "/ping")

	sent := f.platform.Sent("alice")
	require.Len(t, sent, 1)
	assert.Equal(t, "pong", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Hey alice! Pong!")
}

func TestHelp_ListsPermittedCommands(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		user    string
		want    []string
		notWant []string
	}{
		{"alice", []string{"/help", "/ping"}, []string{"/update_control_panel", "/system_status", "fwd_inbox"}},
		{"mod1", []string{"/help", "/update_control_panel"}, []string{"/system_status"}},
		{"owner", []string{"/help", "/update_control_panel", "/system_status"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			f.send(tt.user, "/help")
			sent := f.platform.Sent(tt.user)
			require.NotEmpty(t, sent)
			last := sent[len(sent)-1]
			assert.Equal(t, "Help", last.Subject)
			for _, w := range tt.want {
				assert.Contains(t, last.Body, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, last.Body, w)
			}
		})
	}
}

func TestSystemStatus_OwnerOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.Advance(90 * time.Minute)

	f.send("mod1", "/system_status")
	assert.Empty(t, f.platform.Sent("mod1"))

	f.send("owner", "/system_status")
	var status []fake.Sent
	for _, s := range f.platform.Sent("owner") {
		if s.Subject == "System status" {
			status = append(status, s)
		}
	}
	require.Len(t, status, 1)
	assert.Contains(t, status[0].Body, "Uptime: 1h30m0s")
	assert.Contains(t, status[0].Body, "Goroutines:")
	assert.Contains(t, status[0].Body, "Memory Usage (MB):")
}

func TestUpdateControlPanel(t *testing.T) {
	f := newFixture(t, nil)
	_, ok := f.platform.WikiContent("testsub", "webhook_streamer")
	require.False(t, ok)

	f.platform.SetWiki("testsub", "control_panel", "[Enabled Plugins]\nbot_startup\nwebhook_streamer\n", "mod1")

	f.send("mod1", "/update_control_panel --subreddit othersub")
	assert.Equal(t, []string{"You're not a moderator for that sub"}, subjects(f.platform.Sent("mod1")))

	f.send("mod1", "/update_control_panel")
	assert.Equal(t, "Usage", f.platform.Sent("mod1")[1].Subject)

	f.send("alice", "/update_control_panel --subreddit testsub")
	assert.Empty(t, f.platform.Sent("alice"), "non moderators cannot run it")
	_, ok = f.platform.WikiContent("testsub", "webhook_streamer")
	assert.False(t, ok)

	f.send("mod1", "/update_control_panel --subreddit testsub")
	assert.Len(t, f.platform.Sent("mod1"), 2)
	_, ok = f.platform.WikiContent("testsub", "webhook_streamer")
	assert.True(t, ok, "enabling the plugin creates its page")

	panel, _ := f.platform.WikiContent("testsub", "control_panel")
	assert.Contains(t, panel, "webhook_streamer")
}

func TestWebhookStreamer_PostsConfiguredItems(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.platform.SetWiki("testsub", "control_panel", "[Enabled Plugins]\nwebhook_streamer\n", "mod1")
		f.platform.SetWiki("testsub", "webhook_streamer",
			"[Setup]\nsubmissions = "+f.hooks.URL+"/subs\nmodlog = "+f.hooks.URL+"/modlog\n", "mod1")
	})

	sub := f.platform.AddSubmission("testsub", "alice", "A question", "body")
	f.mgr.FeedSubmission(f.ctx, sub)
	other := f.platform.AddSubmission("othersub", "bob", "Elsewhere", "")
	f.mgr.FeedSubmission(f.ctx, other)

	posts := f.hooks.Posts("/subs")
	require.Len(t, posts, 1)
	assert.True(t, strings.HasPrefix(posts[0], "**"), posts[0])
	assert.Contains(t, posts[0], "A question by alice")

	f.mgr.FeedModlog(f.ctx, platform.ModlogEntry{
		ID:              "ModAction_1",
		Subreddit:       "testsub",
		Moderator:       "mod1",
		Action:          "removelink",
		TargetAuthor:    "alice",
		TargetPermalink: "/r/testsub/comments/abc/",
		Details:         "spam",
		Created:         f.clock.Now(),
	})
	assert.Equal(t,
		[]string{"`[mod1][removelink][alice] spam` <https://reddit.com/r/testsub/comments/abc/>"},
		f.hooks.Posts("/modlog"))
}

func TestWebhookStreamer_ConfigFollowsWikiEdits(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.platform.SetWiki("testsub", "control_panel", "[Enabled Plugins]\nwebhook_streamer\n", "mod1")
	})

	f.mgr.FeedSubmission(f.ctx, f.platform.AddSubmission("testsub", "alice", "before", ""))
	assert.Empty(t, f.hooks.Posts("/subs"))

	f.platform.SetWiki("testsub", "webhook_streamer", "[Setup]\nsubmissions = "+f.hooks.URL+"/subs\n", "mod1")
	f.clock.Advance(2 * time.Minute)
	f.mgr.Tick(f.ctx, f.clock.Now())

	f.mgr.FeedSubmission(f.ctx, f.platform.AddSubmission("testsub", "alice", "after", ""))
	posts := f.hooks.Posts("/subs")
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "after by alice")
}

func TestSubmissionLine(t *testing.T) {
	self := platform.Submission{Title: "t", Author: "a", IsSelf: true, Shortlink: "https://redd.it/x"}
	assert.Equal(t, "**Self post**: t by a <https://redd.it/x>", submissionLine(self))

	link := platform.Submission{Title: "t", Author: "a", Permalink: "/r/s/comments/x/"}
	assert.Equal(t, "**Link post**: t by a <https://reddit.com/r/s/comments/x/>", submissionLine(link))
}

func TestArchive_RecordsFedItems(t *testing.T) {
	f := newFixture(t, nil)

	sub := f.platform.AddSubmission("testsub", "alice", "archived", "")
	f.mgr.FeedSubmission(f.ctx, sub)
	f.mgr.FeedComment(f.ctx, f.platform.AddComment("testsub", "bob", sub.Fullname(), "reply"))

	recent, err := f.db.RecentSubmissions(f.ctx, "testsub", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "archived", recent[0].Title)

	n, err := f.db.CountComments(f.ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestForwardInbox(t *testing.T) {
	f := newFixture(t, nil)

	f.send("alice", "hello there")
	f.send("alice", "/ping")

	sent := f.platform.Sent("owner")
	require.Len(t, sent, 1)
	assert.Equal(t, "Message received from alice", sent[0].Subject)
	assert.True(t, strings.HasPrefix(sent[0].Body, "Content: hello there"))
}

func TestRegister_SourcesAreRemovable(t *testing.T) {
	r := hook.NewRegistry()
	require.NoError(t, Register(r, Options{}))
	_, ok := r.CommandFunc("ping")
	require.True(t, ok)
	_, ok = r.CommandFunc("fwd_inbox")
	assert.False(t, ok, "forwarding is opt in")

	assert.Positive(t, r.RemoveSource(SourcePrefix+"inbox_help"))
	_, ok = r.CommandFunc("ping")
	assert.False(t, ok)
}
