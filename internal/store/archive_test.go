package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

func TestRecordSubmission_Idempotent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	sub := platform.Submission{
		ID:        "abc",
		Subreddit: "testsub",
		Author:    "alice",
		Title:     "hello",
		Created:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.RecordSubmission(ctx, sub))
	require.NoError(t, s.RecordSubmission(ctx, sub))

	got, err := s.RecentSubmissions(ctx, "TestSub", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Title)
	assert.Equal(t, sub.Created, got[0].Created)
}

func TestRecentSubmissions_NewestFirst(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordSubmission(ctx, platform.Submission{
			ID: id, Subreddit: "testsub", Author: "x", Title: id,
			Created: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.RecordSubmission(ctx, platform.Submission{
		ID: "z", Subreddit: "other", Author: "x", Title: "z", Created: base,
	}))

	got, err := s.RecentSubmissions(ctx, "testsub", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestRecordComment(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c2"} {
		require.NoError(t, s.RecordComment(ctx, platform.Comment{
			ID: id, Subreddit: "testsub", Author: "Bob", Body: "hi", LinkID: "t3_abc",
		}))
	}

	n, err := s.CountComments(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
