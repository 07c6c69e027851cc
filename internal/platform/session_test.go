package platform_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform/fake"
	"github.com/gbionescu/reddit-moderator-bot/internal/testutil"
)

func newSession(t *testing.T, p *fake.Platform, clock *testutil.ManualClock) *platform.Session {
	t.Helper()
	docs, err := docstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	posted, err := docs.Document("all", "posted")
	require.NoError(t, err)
	return platform.NewSession(p,
		platform.WithSignature(platform.Signature("owner")),
		platform.WithPostedStore(posted),
		platform.WithClock(clock.Now),
	)
}

func TestSession_SendPMAppendsSignature(t *testing.T) {
	p := fake.New("modbot")
	s := newSession(t, p, testutil.NewManualClock(time.Now()))

	require.NoError(t, s.SendPM(context.Background(), "alice", "hi", "body", false))
	require.NoError(t, s.SendPM(context.Background(), "alice", "hi", "raw", true))

	sent := p.Sent("alice")
	require.Len(t, sent, 2)
	assert.Equal(t, "body"+platform.Signature("owner"), sent[0].Body)
	assert.Equal(t, "raw", sent[1].Body)
}

func TestSession_SendPMToSelfIsDropped(t *testing.T) {
	p := fake.New("modbot")
	s := newSession(t, p, testutil.NewManualClock(time.Now()))

	require.NoError(t, s.SendPM(context.Background(), "ModBot", "hi", "body", false))
	assert.Empty(t, p.AllSent())
}

func TestSession_SendModmail(t *testing.T) {
	p := fake.New("modbot")
	s := newSession(t, p, testutil.NewManualClock(time.Now()))

	require.NoError(t, s.SendModmail(context.Background(), "testsub", "subject", "text", false))
	sent := p.Sent("/r/testsub")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "^^sent ^^by ^^a ^^bot")
}

func TestSession_EditSkipsUnchangedBody(t *testing.T) {
	p := fake.New("modbot")
	p.AddSubreddit("testsub")
	s := newSession(t, p, testutil.NewManualClock(time.Now()))
	ctx := context.Background()

	sub, err := s.PostText(ctx, "testsub", "title", "body", false)
	require.NoError(t, err)

	require.NoError(t, s.Edit(ctx, sub.Fullname(), "body"))
	assert.Equal(t, 0, p.Calls("EditText"))

	require.NoError(t, s.Edit(ctx, sub.Fullname(), "new body"))
	require.NoError(t, s.Edit(ctx, sub.Fullname(), "new body"))
	assert.Equal(t, 1, p.Calls("EditText"))
}

func TestSession_PostTextFormatsApprovesAndStickies(t *testing.T) {
	p := fake.New("modbot")
	p.AddSubreddit("testsub")
	p.FilterPosts("testsub")
	clock := testutil.NewManualClock(time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC))
	s := newSession(t, p, clock)

	sub, err := s.PostText(context.Background(), "testsub", "thread ${DAY}.${MONTH}.${YEAR}", "body", true)
	require.NoError(t, err)

	assert.Equal(t, "thread 07.03.2024", sub.Title)
	assert.True(t, p.Approved(sub.Fullname()))
	assert.True(t, p.Stickied(sub.Fullname()))
}

func TestSession_PostTextDoesNotApproveVisiblePost(t *testing.T) {
	p := fake.New("modbot")
	p.AddSubreddit("testsub")
	s := newSession(t, p, testutil.NewManualClock(time.Now()))

	sub, err := s.PostText(context.Background(), "testsub", "t", "b", false)
	require.NoError(t, err)
	assert.False(t, p.Approved(sub.Fullname()))
	assert.False(t, p.Stickied(sub.Fullname()))
}

func TestSession_ModeratedSubredditsCached(t *testing.T) {
	p := fake.New("modbot")
	p.AddSubreddit("one")
	p.AddSubreddit("u_modbot")
	clock := testutil.NewManualClock(time.Now())
	s := newSession(t, p, clock)
	ctx := context.Background()

	subs, err := s.ModeratedSubreddits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, subs)

	p.AddSubreddit("two")
	subs, err = s.ModeratedSubreddits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, subs)

	clock.Advance(platform.ModeratedSubsExpiry + time.Second)
	subs, err = s.ModeratedSubreddits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, subs)
}

func TestSession_IsModerator(t *testing.T) {
	p := fake.New("modbot")
	p.AddSubreddit("testsub", "Alice")
	s := newSession(t, p, testutil.NewManualClock(time.Now()))

	ok, err := s.IsModerator(context.Background(), "testsub", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsModerator(context.Background(), "testsub", "mallory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_ErrorsAreWrapped(t *testing.T) {
	p := fake.New("modbot")
	s := newSession(t, p, testutil.NewManualClock(time.Now()))
	boom := errors.New("boom")
	p.Fail("ReportItem", boom)

	err := s.Report(context.Background(), "t3_abc", "spam")
	assert.ErrorIs(t, err, boom)
}

func TestFormatDate(t *testing.T) {
	at := time.Date(2021, 11, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "02/11/2021", platform.FormatDate("${DAY}/${MONTH}/${YEAR}", at))
	assert.Equal(t, "no placeholders", platform.FormatDate("no placeholders", at))
}
