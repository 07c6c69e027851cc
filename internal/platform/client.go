package platform

import (
	"context"

	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
)

// Client is the platform API used by the bot. Implementations must be safe
// for concurrent use.
type Client interface {
	// Me returns the bot account name.
	Me(ctx context.Context) (string, error)
	// ModeratedSubreddits lists subreddits the bot moderates.
	ModeratedSubreddits(ctx context.Context) ([]string, error)
	// Moderators lists the moderators of a subreddit.
	Moderators(ctx context.Context, subreddit string) ([]string, error)

	// NewestID returns the fullname of the newest object of the given kind
	// across the whole site.
	NewestID(ctx context.Context, kind thingid.Kind) (string, error)
	// Info bulk-fetches objects by fullname. Missing or deleted objects are
	// omitted from the result.
	Info(ctx context.Context, fullnames []string) ([]Thing, error)

	Wiki(ctx context.Context, subreddit, page string) (WikiPage, error)
	EditWiki(ctx context.Context, subreddit, page, content, reason string) error

	Reports(ctx context.Context) ([]Report, error)
	Modlog(ctx context.Context) ([]ModlogEntry, error)
	Modqueue(ctx context.Context, subreddit string) ([]Report, error)

	UnreadMessages(ctx context.Context) ([]InboxMessage, error)
	MarkRead(ctx context.Context, ids []string) error
	// SendMessage composes a message. A recipient of the form "/r/<sub>"
	// goes to the subreddit's modmail.
	SendMessage(ctx context.Context, to, subject, body string) error

	ReportItem(ctx context.Context, fullname, reason string) error
	SelectFlair(ctx context.Context, subreddit, fullname, templateID string) error
	SubmitText(ctx context.Context, subreddit, title, body string) (Submission, error)
	EditText(ctx context.Context, fullname, body string) error
	Approve(ctx context.Context, fullname string) error
	Sticky(ctx context.Context, fullname string, bottom bool) error
}

// Resetter is implemented by clients that can re-create their underlying
// session after an API error.
type Resetter interface {
	Reset()
}
