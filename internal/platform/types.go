// Package platform defines the bot's view of the moderation platform: the
// value objects events carry, the Client contract every backend implements,
// and the Session used by plugins for mutating calls.
package platform

import (
	"errors"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
)

// ErrNotFound is returned by a Client when the requested object does not exist.
var ErrNotFound = errors.New("not found")

// Submission is a link or self post.
type Submission struct {
	ID              string    `json:"id"`
	Subreddit       string    `json:"subreddit"`
	Author          string    `json:"author"`
	Title           string    `json:"title"`
	Body            string    `json:"selftext"`
	URL             string    `json:"url"`
	Permalink       string    `json:"permalink"`
	Shortlink       string    `json:"shortlink"`
	Flair           string    `json:"link_flair_text"`
	IsSelf          bool      `json:"is_self"`
	IsCrosspostable bool      `json:"is_crosspostable"`
	Created         time.Time `json:"created"`
}

// Fullname returns the submission fullname, e.g. "t3_abc".
func (s Submission) Fullname() string {
	return thingid.Link.Prefix() + s.ID
}

// Comment is a reply to a submission or another comment.
type Comment struct {
	ID        string    `json:"id"`
	Subreddit string    `json:"subreddit"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	LinkID    string    `json:"link_id"`
	ParentID  string    `json:"parent_id"`
	Permalink string    `json:"permalink"`
	Created   time.Time `json:"created"`
}

// Fullname returns the comment fullname, e.g. "t1_abc".
func (c Comment) Fullname() string {
	return thingid.Comment.Prefix() + c.ID
}

// Thing is a bulk-fetched object: exactly one of Submission or Comment is set.
type Thing struct {
	Kind       thingid.Kind
	Ordinal    int64
	Submission *Submission
	Comment    *Comment
}

// Subreddit returns the subreddit the thing was posted in.
func (t Thing) Subreddit() string {
	switch {
	case t.Submission != nil:
		return t.Submission.Subreddit
	case t.Comment != nil:
		return t.Comment.Subreddit
	}
	return ""
}

// WikiPage is a snapshot of a subreddit wiki page.
type WikiPage struct {
	Subreddit    string    `json:"subreddit"`
	Name         string    `json:"name"`
	Content      string    `json:"content"`
	Author       string    `json:"author"`
	RevisionDate time.Time `json:"revision_date"`
}

// InboxMessage is a private message or comment reply delivered to the bot.
type InboxMessage struct {
	ID      string    `json:"id"`
	Author  string    `json:"author"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Created time.Time `json:"created"`
}

// Report is an item in the moderation queue with its reports.
type Report struct {
	Fullname    string       `json:"fullname"`
	Subreddit   string       `json:"subreddit"`
	Author      string       `json:"author"`
	Permalink   string       `json:"permalink"`
	Created     time.Time    `json:"created"`
	ModReports  []ReportLine `json:"mod_reports"`
	UserReports []ReportLine `json:"user_reports"`
}

// ReportLine is a single report reason. Reporter is empty for anonymous user
// reports; Count is the number of identical user reports.
type ReportLine struct {
	Reason   string `json:"reason"`
	Reporter string `json:"reporter,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// ModlogEntry is an action taken by a moderator.
type ModlogEntry struct {
	ID              string    `json:"id"`
	Subreddit       string    `json:"subreddit"`
	Moderator       string    `json:"mod"`
	Action          string    `json:"action"`
	TargetAuthor    string    `json:"target_author"`
	TargetFullname  string    `json:"target_fullname"`
	TargetPermalink string    `json:"target_permalink"`
	Details         string    `json:"details"`
	Description     string    `json:"description"`
	Created         time.Time `json:"created"`
}
