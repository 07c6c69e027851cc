package console

import (
	"context"
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

type stubBackend struct {
	mu       sync.Mutex
	messages []platform.InboxMessage
	closed   bool
	queue    map[string][]platform.Report
	err      error
}

func (b *stubBackend) Deliver(msg platform.InboxMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.messages = append(b.messages, msg)
	return true
}

func (b *stubBackend) Status() bot.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bot.Status{Subreddits: []string{"testsub"}, PendingMessages: len(b.messages)}
}

func (b *stubBackend) received() []platform.InboxMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]platform.InboxMessage(nil), b.messages...)
}

func (b *stubBackend) Modqueue(_ context.Context, subreddit string) ([]platform.Report, error) {
	if b.err != nil {
		return nil, b.err
	}
	items, ok := b.queue[subreddit]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return items, nil
}

func newTestServer(t *testing.T, b Backend, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	srv := httptest.NewServer(New("", b, opts...).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, srv.Client())
}

func TestConsole_SendQueuesMessage(t *testing.T) {
	b := &stubBackend{}
	clock := testutil.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := newTestServer(t, b, WithClock(clock.Now))

	id, err := c.Send(context.Background(), "/ping")
	require.NoError(t, err)
	assert.Equal(t, "console_1", id)

	id, err = c.Send(context.Background(), "/help")
	require.NoError(t, err)
	assert.Equal(t, "console_2", id)

	got := b.received()
	require.Len(t, got, 2)
	assert.Equal(t, platform.InboxMessage{
		ID:      "console_1",
		Author:  DefaultUser,
		Subject: "console",
		Body:    "/ping",
		Created: clock.Now(),
	}, got[0])
}

func TestConsole_CustomUser(t *testing.T) {
	b := &stubBackend{}
	c := newTestServer(t, b, WithUser("owner"))

	_, err := c.Send(context.Background(), "/system_status")
	require.NoError(t, err)
	got := b.received()
	require.Len(t, got, 1)
	assert.Equal(t, "owner", got[0].Author)
}

func TestConsole_Errors(t *testing.T) {
	b := &stubBackend{closed: true}
	srv := httptest.NewServer(New("", b).Handler())
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, srv.Client())

	_, err := c.Send(context.Background(), "/ping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	resp, err := srv.Client().Post(srv.URL+"/console", "application/json", strings.NewReader(`{"nope": 1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = c.Modqueue(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestConsole_StatusAndModqueue(t *testing.T) {
	b := &stubBackend{queue: map[string][]platform.Report{
		"testsub": {{
			Fullname:    "t3_abc",
			Subreddit:   "testsub",
			UserReports: []platform.ReportLine{{Reason: "spam", Count: 3}},
		}},
		"quiet": nil,
	}}
	c := newTestServer(t, b)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"testsub"}, st.Subreddits)

	items, err := c.Modqueue(context.Background(), "testsub")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "t3_abc", items[0].Fullname)
	assert.Equal(t, 3, items[0].UserReports[0].Count)

	items, err = c.Modqueue(context.Background(), "quiet")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNewClient_AcceptsHostPort(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5151", NewClient(DefaultAddr, nil).base)
	assert.Equal(t, "https://bot.example", NewClient("https://bot.example/", nil).base)
}

func TestConsole_DrivesManager(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	p := fake.New("modbot")
	p.SetClock(clock.Now)
	p.AddSubreddit("testsub", "mod1")

	log := zaptest.NewLogger(t).Sugar()
	docs, err := docstore.Open(t.TempDir(), log)
	require.NoError(t, err)
	db, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := hook.NewRegistry()
	_, err = registry.Command("echo", func(ctx context.Context, call *hook.Call) error {
		return call.Bot.Session().SendPM(ctx, call.Message.Author, "echo", strings.Join(call.Args, " "), true)
	})
	require.NoError(t, err)

	mgr, err := bot.New(bot.Config{Owner: "owner"}, p, docs, db, registry,
		bot.WithLogger(log), bot.WithClock(clock.Now), bot.WithSpawn(func(fn func()) { fn() }))
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	c := newTestServer(t, mgr)
	_, err = c.Send(ctx, "/echo hello console")
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.DrainMessages(ctx))

	sent := p.Sent(DefaultUser)
	require.Len(t, sent, 1)
	assert.Equal(t, "hello console", sent[0].Body)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.PendingMessages)
}
