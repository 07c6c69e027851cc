package wiki

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

func testPages() []*hook.WikiPage {
	return []*hook.WikiPage{
		{Name: "webhook_streamer", Description: "Streams new submissions and modlog entries to chat webhooks", Mode: "rw"},
		{Name: "flair_posts", Description: "Reminds posters to flair their submissions", Mode: "rw"},
		{Name: "bot_startup", Description: "Logs every bot start", Mode: "rw", DefaultEnabled: true},
		{Name: "flair_posts", Description: "read-only duplicate", Mode: "r"},
	}
}

func TestRender_Golden(t *testing.T) {
	current, err := Parse(Indent("[Enabled Plugins]\nflair_posts\n"))
	require.NoError(t, err)

	content, enabled := Render(Panel{
		Subreddit: "testsub",
		BotName:   "modbot",
		Pages:     testPages(),
	}, current)

	assert.Equal(t, []string{"flair_posts", "bot_startup"}, enabled)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "control_panel", []byte(content))
}

func TestRender_RoundTrip(t *testing.T) {
	content, enabled := Render(Panel{Subreddit: "testsub", BotName: "modbot", Pages: testPages()}, nil)
	assert.Equal(t, []string{"bot_startup"}, enabled)

	parsed, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, []string{"bot_startup"}, EnabledPlugins(parsed))

	again, _ := Render(Panel{Subreddit: "testsub", BotName: "modbot", Pages: testPages()}, parsed)
	assert.Equal(t, content, again, "rendering is stable")
}

func TestRender_KeepsUnknownEnabledPlugins(t *testing.T) {
	current, err := Parse("[Enabled Plugins]\nretired_plugin\n")
	require.NoError(t, err)

	_, enabled := Render(Panel{Subreddit: "s", BotName: "b"}, current)
	assert.Equal(t, []string{"retired_plugin"}, enabled)
}

func TestParse_IndentedAndPlain(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"plain", "[Setup]\nsubmissions = https://example.com/hook\n"},
		{"indented", "    [Setup]\n    submissions = https://example.com/hook\n"},
		{"tabbed", "\t[Setup]\n\tsubmissions = https://example.com/hook\n"},
		{"crlf", "    [Setup]\r\n    submissions = https://example.com/hook\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.content)
			require.NoError(t, err)
			assert.Equal(t, "https://example.com/hook", f.Section("Setup").Key("submissions").String())
		})
	}
}

func TestParse_EmptyHasNoEnabledPlugins(t *testing.T) {
	f, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, EnabledPlugins(f))
	assert.Empty(t, EnabledPlugins(nil))
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "    a\n\n    b\n", Indent("a\n\nb\n\n"))
	assert.Equal(t, "a\n\nb\n", Unindent(Indent("a\n\nb")))
}
