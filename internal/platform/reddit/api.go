package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
)

// infoBatch is the most fullnames /api/info accepts per call.
const infoBatch = 100

// maxPages bounds listing pagination.
const maxPages = 10

func (c *Client) Me(ctx context.Context) (string, error) {
	c.mu.Lock()
	me := c.me
	c.mu.Unlock()
	if me != "" {
		return me, nil
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/api/v1/me", nil, &out); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.me = out.Name
	c.mu.Unlock()
	return out.Name, nil
}

// listAll follows "after" cursors of a listing until it ends.
func (c *Client) listAll(ctx context.Context, path string, query url.Values, each func(child) error) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", "100")
	for range maxPages {
		var l listing
		if err := c.get(ctx, path, query, &l); err != nil {
			return err
		}
		for _, ch := range l.Data.Children {
			if err := each(ch); err != nil {
				return err
			}
		}
		if l.Data.After == "" {
			return nil
		}
		query.Set("after", l.Data.After)
	}
	return nil
}

func (c *Client) ModeratedSubreddits(ctx context.Context) ([]string, error) {
	var out []string
	err := c.listAll(ctx, "/subreddits/mine/moderator", nil, func(ch child) error {
		var sr struct {
			DisplayName string `json:"display_name"`
		}
		if err := json.Unmarshal(ch.Data, &sr); err != nil {
			return fmt.Errorf("decode subreddit: %w", err)
		}
		out = append(out, sr.DisplayName)
		return nil
	})
	return out, err
}

func (c *Client) Moderators(ctx context.Context, subreddit string) ([]string, error) {
	var out struct {
		Data struct {
			Children []struct {
				Name string `json:"name"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/r/"+url.PathEscape(subreddit)+"/about/moderators", nil, &out); err != nil {
		return nil, err
	}
	mods := make([]string, 0, len(out.Data.Children))
	for _, m := range out.Data.Children {
		mods = append(mods, m.Name)
	}
	return mods, nil
}

func (c *Client) NewestID(ctx context.Context, kind thingid.Kind) (string, error) {
	var path string
	switch kind {
	case thingid.Link:
		path = "/r/all/new"
	case thingid.Comment:
		path = "/r/all/comments"
	default:
		return "", fmt.Errorf("newest %s: unsupported kind", kind)
	}
	var l listing
	if err := c.get(ctx, path, url.Values{"limit": {"1"}}, &l); err != nil {
		return "", err
	}
	if len(l.Data.Children) == 0 {
		return "", fmt.Errorf("newest %s: %w", kind, platform.ErrNotFound)
	}
	var item struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(l.Data.Children[0].Data, &item); err != nil {
		return "", fmt.Errorf("decode newest %s: %w", kind, err)
	}
	return item.Name, nil
}

func (c *Client) Info(ctx context.Context, fullnames []string) ([]platform.Thing, error) {
	var out []platform.Thing
	for start := 0; start < len(fullnames); start += infoBatch {
		end := min(start+infoBatch, len(fullnames))
		var l listing
		q := url.Values{"id": {strings.Join(fullnames[start:end], ",")}}
		if err := c.get(ctx, "/api/info", q, &l); err != nil {
			return nil, err
		}
		for _, ch := range l.Data.Children {
			t, ok, err := decodeThing(ch)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func wikiPath(subreddit, page string) string {
	return "/r/" + url.PathEscape(subreddit) + "/wiki/" + page
}

func (c *Client) Wiki(ctx context.Context, subreddit, page string) (platform.WikiPage, error) {
	var raw rawWiki
	if err := c.get(ctx, wikiPath(subreddit, page), nil, &raw); err != nil {
		return platform.WikiPage{}, err
	}
	wp := platform.WikiPage{
		Subreddit:    subreddit,
		Name:         page,
		Content:      raw.Data.ContentMD,
		RevisionDate: unixTime(raw.Data.RevisionDate),
	}
	if raw.Data.RevisionBy != nil {
		wp.Author = raw.Data.RevisionBy.Data.Name
	}
	return wp, nil
}

func (c *Client) EditWiki(ctx context.Context, subreddit, page, content, reason string) error {
	form := url.Values{
		"page":    {page},
		"content": {content},
		"reason":  {reason},
	}
	return c.post(ctx, "/r/"+url.PathEscape(subreddit)+"/api/wiki/edit", form, nil)
}

func (c *Client) reportListing(ctx context.Context, path string) ([]platform.Report, error) {
	var out []platform.Report
	err := c.listAll(ctx, path, nil, func(ch child) error {
		r, ok, err := decodeReport(ch)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (c *Client) Reports(ctx context.Context) ([]platform.Report, error) {
	return c.reportListing(ctx, "/r/mod/about/reports")
}

func (c *Client) Modqueue(ctx context.Context, subreddit string) ([]platform.Report, error) {
	return c.reportListing(ctx, "/r/"+url.PathEscape(subreddit)+"/about/modqueue")
}

// Modlog returns the latest page of the moderation log, newest first.
func (c *Client) Modlog(ctx context.Context) ([]platform.ModlogEntry, error) {
	var l listing
	if err := c.get(ctx, "/r/mod/about/log", url.Values{"limit": {"100"}}, &l); err != nil {
		return nil, err
	}
	out := make([]platform.ModlogEntry, 0, len(l.Data.Children))
	for _, ch := range l.Data.Children {
		var raw rawModAction
		if err := json.Unmarshal(ch.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode modlog: %w", err)
		}
		out = append(out, raw.entry())
	}
	return out, nil
}

// UnreadMessages returns unread inbox items. IDs are fullnames, as
// MarkRead expects.
func (c *Client) UnreadMessages(ctx context.Context) ([]platform.InboxMessage, error) {
	var out []platform.InboxMessage
	err := c.listAll(ctx, "/message/unread", nil, func(ch child) error {
		var raw rawMessage
		if err := json.Unmarshal(ch.Data, &raw); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		out = append(out, platform.InboxMessage{
			ID:      raw.Name,
			Author:  raw.Author,
			Subject: raw.Subject,
			Body:    raw.Body,
			Created: unixTime(raw.CreatedUTC),
		})
		return nil
	})
	return out, err
}

func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, "/api/read_message", url.Values{"id": {strings.Join(ids, ",")}}, nil)
}

func (c *Client) SendMessage(ctx context.Context, to, subject, body string) error {
	form := url.Values{
		"api_type": {"json"},
		"to":       {to},
		"subject":  {subject},
		"text":     {body},
	}
	var out jsonResult
	if err := c.post(ctx, "/api/compose", form, &out); err != nil {
		return err
	}
	return out.err("compose")
}

func (c *Client) ReportItem(ctx context.Context, fullname, reason string) error {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {fullname},
		"reason":   {reason},
	}
	return c.post(ctx, "/api/report", form, nil)
}

func (c *Client) SelectFlair(ctx context.Context, subreddit, fullname, templateID string) error {
	form := url.Values{
		"api_type":          {"json"},
		"link":              {fullname},
		"flair_template_id": {templateID},
	}
	return c.post(ctx, "/r/"+url.PathEscape(subreddit)+"/api/selectflair", form, nil)
}

// SubmitText posts a self post and reads it back.
func (c *Client) SubmitText(ctx context.Context, subreddit, title, body string) (platform.Submission, error) {
	form := url.Values{
		"api_type": {"json"},
		"sr":       {subreddit},
		"kind":     {"self"},
		"title":    {title},
		"text":     {body},
	}
	var out jsonResult
	if err := c.post(ctx, "/api/submit", form, &out); err != nil {
		return platform.Submission{}, err
	}
	if err := out.err("submit"); err != nil {
		return platform.Submission{}, err
	}
	name := out.JSON.Data.Name
	if name == "" {
		return platform.Submission{}, fmt.Errorf("submit: no id in response")
	}

	things, err := c.Info(ctx, []string{name})
	if err != nil {
		return platform.Submission{}, fmt.Errorf("read back %s: %w", name, err)
	}
	for _, t := range things {
		if t.Submission != nil {
			return *t.Submission, nil
		}
	}
	_, id := thingid.Split(name)
	return platform.Submission{
		ID:        id,
		Subreddit: subreddit,
		Title:     title,
		Body:      body,
		URL:       out.JSON.Data.URL,
		Shortlink: "https://redd.it/" + id,
		IsSelf:    true,
	}, nil
}

func (c *Client) EditText(ctx context.Context, fullname, body string) error {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {fullname},
		"text":     {body},
	}
	var out jsonResult
	if err := c.post(ctx, "/api/editusertext", form, &out); err != nil {
		return err
	}
	return out.err("edit")
}

func (c *Client) Approve(ctx context.Context, fullname string) error {
	return c.post(ctx, "/api/approve", url.Values{"id": {fullname}}, nil)
}

// Sticky pins a submission. bottom picks the second slot.
func (c *Client) Sticky(ctx context.Context, fullname string, bottom bool) error {
	num := "1"
	if bottom {
		num = "2"
	}
	form := url.Values{
		"api_type": {"json"},
		"id":       {fullname},
		"state":    {"true"},
		"num":      {num},
	}
	return c.post(ctx, "/api/set_subreddit_sticky", form, nil)
}

// jsonResult is the api_type=json envelope. Errors are
// [code, message, field] triples.
type jsonResult struct {
	JSON struct {
		Errors [][]any `json:"errors"`
		Data   struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"data"`
	} `json:"json"`
}

func (r jsonResult) err(op string) error {
	if len(r.JSON.Errors) == 0 {
		return nil
	}
	parts := make([]string, 0, len(r.JSON.Errors))
	for _, e := range r.JSON.Errors {
		var s []string
		for _, v := range e {
			if str, ok := v.(string); ok && str != "" {
				s = append(s, str)
			}
		}
		parts = append(parts, strings.Join(s, ": "))
	}
	return fmt.Errorf("%s: %s", op, strings.Join(parts, "; "))
}
