package store

import (
	"context"
	"fmt"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// RecordSubmission archives a delivered submission.
// Uses ON CONFLICT(id) DO NOTHING - a submission delivered twice is stored once.
func (s *Store) RecordSubmission(ctx context.Context, sub platform.Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions
		(id, subreddit, author, title, body, url, flair, created_at, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sub.ID,
		sub.Subreddit,
		sub.Author,
		sub.Title,
		sub.Body,
		sub.URL,
		sub.Flair,
		toMillis(sub.Created),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// RecordComment archives a delivered comment.
func (s *Store) RecordComment(ctx context.Context, c platform.Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments
		(id, subreddit, author, body, link_id, created_at, seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		c.ID,
		c.Subreddit,
		c.Author,
		c.Body,
		c.LinkID,
		toMillis(c.Created),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record comment: %w", err)
	}
	return nil
}

// RecentSubmissions returns the newest archived submissions of a subreddit.
// Results are ordered newest first, ties broken by id.
func (s *Store) RecentSubmissions(ctx context.Context, subreddit string, limit int) ([]platform.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subreddit, author, title, body, url, flair, created_at
		FROM submissions
		WHERE subreddit = ? COLLATE NOCASE
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, subreddit, limit)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []platform.Submission
	for rows.Next() {
		var sub platform.Submission
		var created int64
		if err := rows.Scan(&sub.ID, &sub.Subreddit, &sub.Author, &sub.Title, &sub.Body, &sub.URL, &sub.Flair, &created); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Created = fromMillis(created)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// CountComments returns the number of archived comments by author.
func (s *Store) CountComments(ctx context.Context, author string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE author = ? COLLATE NOCASE`, author,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}
