// Package fake is an in-memory platform used by tests, scenario runs and the
// "test" backend. Object IDs are assigned sequentially per kind, so the
// firehose and bulk-fetch behave like the real site.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
)

// firstOrdinal makes generated IDs three base-36 digits long.
const firstOrdinal = 36 * 36

// Sent is a message composed through the platform.
type Sent struct {
	To      string
	Subject string
	Body    string
}

// Platform implements platform.Client in memory.
type Platform struct {
	mu  sync.Mutex
	me  string
	now func() time.Time

	moderated []string
	mods      map[string][]string
	filtered  map[string]bool
	wikis     map[string]map[string]platform.WikiPage

	things  map[string]platform.Thing
	next    map[thingid.Kind]int64
	newest  map[thingid.Kind]string
	unread  []platform.InboxMessage
	reports []platform.Report
	modlog  []platform.ModlogEntry
	queue   map[string][]platform.Report

	sent     []Sent
	reported map[string][]string
	flairs   map[string]string
	approved map[string]bool
	stickied map[string]bool
	calls    map[string]int
	failures map[string]error
}

var _ platform.Client = (*Platform)(nil)

// New returns an empty platform where the bot account is me.
func New(me string) *Platform {
	return &Platform{
		me:       me,
		now:      time.Now,
		mods:     make(map[string][]string),
		filtered: make(map[string]bool),
		wikis:    make(map[string]map[string]platform.WikiPage),
		things:   make(map[string]platform.Thing),
		next: map[thingid.Kind]int64{
			thingid.Link:    firstOrdinal,
			thingid.Comment: firstOrdinal,
			thingid.Message: firstOrdinal,
		},
		newest:   make(map[thingid.Kind]string),
		queue:    make(map[string][]platform.Report),
		reported: make(map[string][]string),
		flairs:   make(map[string]string),
		approved: make(map[string]bool),
		stickied: make(map[string]bool),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// SetClock sets the time source for created and revision timestamps.
func (p *Platform) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// AddSubreddit registers a subreddit the bot moderates, with the given
// human moderators. The bot is always a moderator.
func (p *Platform) AddSubreddit(name string, mods ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moderated = append(p.moderated, name)
	p.mods[strings.ToLower(name)] = append([]string{p.me}, mods...)
	if p.wikis[strings.ToLower(name)] == nil {
		p.wikis[strings.ToLower(name)] = make(map[string]platform.WikiPage)
	}
}

// FilterPosts makes new posts in subreddit arrive removed, as the spam
// filter would.
func (p *Platform) FilterPosts(subreddit string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filtered[strings.ToLower(subreddit)] = true
}

// Fail makes the next call to method return err.
func (p *Platform) Fail(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[method] = err
}

// Calls returns how many times method was invoked.
func (p *Platform) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// enter records a call and returns an injected failure, if any. The caller
// holds p.mu.
func (p *Platform) enter(method string) error {
	p.calls[method]++
	if err, ok := p.failures[method]; ok {
		delete(p.failures, method)
		return err
	}
	return nil
}

func (p *Platform) nextID(kind thingid.Kind) (int64, string) {
	n := p.next[kind]
	p.next[kind] = n + 1
	name := thingid.Fullname(kind, n)
	p.newest[kind] = name
	return n, name
}

// Head returns the fullname just below the next ID of kind: the newest
// item, or the position before the first one when nothing was posted yet.
func (p *Platform) Head(kind thingid.Kind) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return thingid.Fullname(kind, p.next[kind]-1)
}

// AddSubmission posts a submission as author.
func (p *Platform) AddSubmission(subreddit, author, title, body string) platform.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addSubmissionLocked(subreddit, author, title, body)
}

func (p *Platform) addSubmissionLocked(subreddit, author, title, body string) platform.Submission {
	n, name := p.nextID(thingid.Link)
	id := thingid.Encode(n)
	s := platform.Submission{
		ID:              id,
		Subreddit:       subreddit,
		Author:          author,
		Title:           title,
		Body:            body,
		IsSelf:          true,
		IsCrosspostable: !p.filtered[strings.ToLower(subreddit)],
		Permalink:       fmt.Sprintf("/r/%s/comments/%s/", subreddit, id),
		Shortlink:       "https://redd.it/" + id,
		Created:         p.now().UTC(),
	}
	s.URL = "https://www.reddit.com" + s.Permalink
	p.things[name] = platform.Thing{Kind: thingid.Link, Ordinal: n, Submission: &s}
	return s
}

// AddComment posts a comment on a submission.
func (p *Platform) AddComment(subreddit, author, linkID, body string) platform.Comment {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, name := p.nextID(thingid.Comment)
	c := platform.Comment{
		ID:        thingid.Encode(n),
		Subreddit: subreddit,
		Author:    author,
		Body:      body,
		LinkID:    linkID,
		ParentID:  linkID,
		Permalink: fmt.Sprintf("/r/%s/comments/%s/_/%s/", subreddit, strings.TrimPrefix(linkID, "t3_"), thingid.Encode(n)),
		Created:   p.now().UTC(),
	}
	p.things[name] = platform.Thing{Kind: thingid.Comment, Ordinal: n, Comment: &c}
	return c
}

// Remove deletes a thing so bulk fetches skip it.
func (p *Platform) Remove(fullname string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.things, fullname)
}

// DeliverMessage puts an unread message from author in the bot's inbox.
func (p *Platform) DeliverMessage(author, subject, body string) platform.InboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, _ := p.nextID(thingid.Message)
	m := platform.InboxMessage{
		ID:      thingid.Encode(n),
		Author:  author,
		Subject: subject,
		Body:    body,
		Created: p.now().UTC(),
	}
	p.unread = append(p.unread, m)
	return m
}

// AddReport adds an item to the report listing. A zero Created time is set
// to now.
func (p *Platform) AddReport(r platform.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Created.IsZero() {
		r.Created = p.now().UTC()
	}
	for i := range p.reports {
		if p.reports[i].Fullname == r.Fullname {
			p.reports[i] = r
			return
		}
	}
	p.reports = append(p.reports, r)
	key := strings.ToLower(r.Subreddit)
	p.queue[key] = append(p.queue[key], r)
}

// AddModlog records a moderator action. A missing ID is generated.
func (p *Platform) AddModlog(e platform.ModlogEntry) platform.ModlogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.ID == "" {
		e.ID = fmt.Sprintf("ModAction_%d", len(p.modlog)+1)
	}
	if e.Created.IsZero() {
		e.Created = p.now().UTC()
	}
	p.modlog = append(p.modlog, e)
	return e
}

// SetWiki writes a wiki page as author.
func (p *Platform) SetWiki(subreddit, page, content, author string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setWikiLocked(subreddit, page, content, author)
}

func (p *Platform) setWikiLocked(subreddit, page, content, author string) {
	key := strings.ToLower(subreddit)
	if p.wikis[key] == nil {
		p.wikis[key] = make(map[string]platform.WikiPage)
	}
	p.wikis[key][page] = platform.WikiPage{
		Subreddit:    subreddit,
		Name:         page,
		Content:      content,
		Author:       author,
		RevisionDate: p.now().UTC(),
	}
}

// WikiContent returns the content of a wiki page.
func (p *Platform) WikiContent(subreddit, page string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.wikis[strings.ToLower(subreddit)][page]
	return w.Content, ok
}

// Sent returns every message composed to recipient. Use "/r/<sub>" for
// modmail.
func (p *Platform) Sent(to string) []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Sent
	for _, s := range p.sent {
		if strings.EqualFold(s.To, to) {
			out = append(out, s)
		}
	}
	return out
}

// AllSent returns every composed message in order.
func (p *Platform) AllSent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// Reported returns the reasons an item was reported with by the bot.
func (p *Platform) Reported(fullname string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.reported[fullname]...)
}

// Flair returns the flair template applied to an item.
func (p *Platform) Flair(fullname string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flairs[fullname]
}

// Approved reports whether the bot approved an item.
func (p *Platform) Approved(fullname string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.approved[fullname]
}

// Stickied reports whether the bot stickied an item.
func (p *Platform) Stickied(fullname string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stickied[fullname]
}

// Submission returns a stored submission.
func (p *Platform) Submission(fullname string) (platform.Submission, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.things[fullname]
	if !ok || t.Submission == nil {
		return platform.Submission{}, false
	}
	return *t.Submission, true
}

func (p *Platform) Me(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Me"); err != nil {
		return "", err
	}
	return p.me, nil
}

func (p *Platform) ModeratedSubreddits(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("ModeratedSubreddits"); err != nil {
		return nil, err
	}
	return append([]string(nil), p.moderated...), nil
}

func (p *Platform) Moderators(ctx context.Context, subreddit string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Moderators"); err != nil {
		return nil, err
	}
	mods, ok := p.mods[strings.ToLower(subreddit)]
	if !ok {
		return nil, fmt.Errorf("subreddit %s: %w", subreddit, platform.ErrNotFound)
	}
	return append([]string(nil), mods...), nil
}

func (p *Platform) NewestID(ctx context.Context, kind thingid.Kind) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("NewestID"); err != nil {
		return "", err
	}
	name, ok := p.newest[kind]
	if !ok {
		return "", fmt.Errorf("newest %s: %w", kind, platform.ErrNotFound)
	}
	return name, nil
}

func (p *Platform) Info(ctx context.Context, fullnames []string) ([]platform.Thing, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Info"); err != nil {
		return nil, err
	}
	out := make([]platform.Thing, 0, len(fullnames))
	for _, name := range fullnames {
		if t, ok := p.things[name]; ok {
			out = append(out, copyThing(t))
		}
	}
	return out, nil
}

func (p *Platform) Wiki(ctx context.Context, subreddit, page string) (platform.WikiPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Wiki"); err != nil {
		return platform.WikiPage{}, err
	}
	w, ok := p.wikis[strings.ToLower(subreddit)][page]
	if !ok {
		return platform.WikiPage{}, fmt.Errorf("wiki %s/%s: %w", subreddit, page, platform.ErrNotFound)
	}
	return w, nil
}

func (p *Platform) EditWiki(ctx context.Context, subreddit, page, content, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("EditWiki"); err != nil {
		return err
	}
	p.setWikiLocked(subreddit, page, content, p.me)
	return nil
}

func (p *Platform) Reports(ctx context.Context) ([]platform.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Reports"); err != nil {
		return nil, err
	}
	return append([]platform.Report(nil), p.reports...), nil
}

func (p *Platform) Modlog(ctx context.Context) ([]platform.ModlogEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Modlog"); err != nil {
		return nil, err
	}
	out := append([]platform.ModlogEntry(nil), p.modlog...)
	// Newest first, like the listing endpoint.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (p *Platform) Modqueue(ctx context.Context, subreddit string) ([]platform.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Modqueue"); err != nil {
		return nil, err
	}
	return append([]platform.Report(nil), p.queue[strings.ToLower(subreddit)]...), nil
}

func (p *Platform) UnreadMessages(ctx context.Context) ([]platform.InboxMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("UnreadMessages"); err != nil {
		return nil, err
	}
	return append([]platform.InboxMessage(nil), p.unread...), nil
}

func (p *Platform) MarkRead(ctx context.Context, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("MarkRead"); err != nil {
		return err
	}
	read := make(map[string]bool, len(ids))
	for _, id := range ids {
		read[id] = true
	}
	kept := p.unread[:0]
	for _, m := range p.unread {
		if !read[m.ID] {
			kept = append(kept, m)
		}
	}
	p.unread = kept
	return nil
}

func (p *Platform) SendMessage(ctx context.Context, to, subject, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SendMessage"); err != nil {
		return err
	}
	p.sent = append(p.sent, Sent{To: to, Subject: subject, Body: body})
	return nil
}

func (p *Platform) ReportItem(ctx context.Context, fullname, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("ReportItem"); err != nil {
		return err
	}
	p.reported[fullname] = append(p.reported[fullname], reason)
	return nil
}

func (p *Platform) SelectFlair(ctx context.Context, subreddit, fullname, templateID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SelectFlair"); err != nil {
		return err
	}
	p.flairs[fullname] = templateID
	return nil
}

func (p *Platform) SubmitText(ctx context.Context, subreddit, title, body string) (platform.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SubmitText"); err != nil {
		return platform.Submission{}, err
	}
	return p.addSubmissionLocked(subreddit, p.me, title, body), nil
}

func (p *Platform) EditText(ctx context.Context, fullname, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("EditText"); err != nil {
		return err
	}
	t, ok := p.things[fullname]
	if !ok {
		return fmt.Errorf("edit %s: %w", fullname, platform.ErrNotFound)
	}
	switch {
	case t.Submission != nil:
		t.Submission.Body = body
	case t.Comment != nil:
		t.Comment.Body = body
	}
	return nil
}

func (p *Platform) Approve(ctx context.Context, fullname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Approve"); err != nil {
		return err
	}
	p.approved[fullname] = true
	if t, ok := p.things[fullname]; ok && t.Submission != nil {
		t.Submission.IsCrosspostable = true
	}
	return nil
}

func (p *Platform) Sticky(ctx context.Context, fullname string, bottom bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("Sticky"); err != nil {
		return err
	}
	p.stickied[fullname] = true
	return nil
}

func copyThing(t platform.Thing) platform.Thing {
	if t.Submission != nil {
		s := *t.Submission
		t.Submission = &s
	}
	if t.Comment != nil {
		c := *t.Comment
		t.Comment = &c
	}
	return t
}
