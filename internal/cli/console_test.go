package cli

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbionescu/reddit-moderator-bot/internal/bot"
	"github.com/gbionescu/reddit-moderator-bot/internal/console"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

type recordingBackend struct {
	mu   sync.Mutex
	msgs []platform.InboxMessage
}

func (b *recordingBackend) Deliver(msg platform.InboxMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return true
}

func (b *recordingBackend) Status() bot.Status {
	return bot.Status{Subreddits: []string{"testsub"}, Hooks: 7}
}

func (b *recordingBackend) Modqueue(_ context.Context, subreddit string) ([]platform.Report, error) {
	return []platform.Report{{
		Fullname:   "t3_abc",
		Subreddit:  subreddit,
		Author:     "spammer",
		ModReports: []platform.ReportLine{{Reason: "spam", Reporter: "mod1"}},
	}}, nil
}

func (b *recordingBackend) bodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.msgs {
		out = append(out, m.Body)
	}
	return out
}

func startConsole(t *testing.T) (*recordingBackend, string) {
	t.Helper()
	b := &recordingBackend{}
	srv := httptest.NewServer(console.New("", b).Handler())
	t.Cleanup(srv.Close)
	return b, srv.URL
}

func TestConsole_Message(t *testing.T) {
	b, addr := startConsole(t)

	out, err := execute(t, "console", "--addr", addr, "--message", "/ping")
	require.NoError(t, err)
	assert.Contains(t, out, "queued console_")
	assert.Equal(t, []string{"/ping"}, b.bodies())
}

func TestConsole_Stdin(t *testing.T) {
	b, addr := startConsole(t)

	cmd := NewRootCommand()
	cmd.SetIn(strings.NewReader("/help\n\n  /ping  \n"))
	cmd.SetOut(&strings.Builder{})
	cmd.SetArgs([]string{"console", "--addr", addr})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, []string{"/help", "/ping"}, b.bodies())
}

func TestConsole_StatusAndModqueue(t *testing.T) {
	_, addr := startConsole(t)

	out, err := execute(t, "console", "--addr", addr, "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "subreddits: testsub")
	assert.Contains(t, out, "hooks: 7")

	out, err = execute(t, "--format", "json", "console", "--addr", addr, "--modqueue", "testsub")
	require.NoError(t, err)
	var resp struct {
		Data []platform.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "spammer", resp.Data[0].Author)
}

func TestConsole_Unreachable(t *testing.T) {
	out, err := execute(t, "console", "--addr", "127.0.0.1:1", "--message", "/ping")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
}

func TestConsole_FlagsExclusive(t *testing.T) {
	_, err := execute(t, "console", "--status", "--message", "x")
	require.Error(t, err)
}
