package reddit

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
)

// listing is the envelope of every paginated endpoint.
type listing struct {
	Data struct {
		After    string  `json:"after"`
		Children []child `json:"children"`
	} `json:"data"`
}

type child struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func unixTime(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

type rawLink struct {
	ID              string  `json:"id"`
	Subreddit       string  `json:"subreddit"`
	Author          string  `json:"author"`
	Title           string  `json:"title"`
	Selftext        string  `json:"selftext"`
	URL             string  `json:"url"`
	Permalink       string  `json:"permalink"`
	LinkFlairText   string  `json:"link_flair_text"`
	IsSelf          bool    `json:"is_self"`
	IsCrosspostable bool    `json:"is_crosspostable"`
	CreatedUTC      float64 `json:"created_utc"`
	rawReports
}

func (r rawLink) submission() platform.Submission {
	return platform.Submission{
		ID:              r.ID,
		Subreddit:       r.Subreddit,
		Author:          r.Author,
		Title:           r.Title,
		Body:            r.Selftext,
		URL:             r.URL,
		Permalink:       r.Permalink,
		Shortlink:       "https://redd.it/" + r.ID,
		Flair:           r.LinkFlairText,
		IsSelf:          r.IsSelf,
		IsCrosspostable: r.IsCrosspostable,
		Created:         unixTime(r.CreatedUTC),
	}
}

type rawComment struct {
	ID         string  `json:"id"`
	Subreddit  string  `json:"subreddit"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	LinkID     string  `json:"link_id"`
	ParentID   string  `json:"parent_id"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
	rawReports
}

func (r rawComment) comment() platform.Comment {
	return platform.Comment{
		ID:        r.ID,
		Subreddit: r.Subreddit,
		Author:    r.Author,
		Body:      r.Body,
		LinkID:    r.LinkID,
		ParentID:  r.ParentID,
		Permalink: r.Permalink,
		Created:   unixTime(r.CreatedUTC),
	}
}

// rawReports holds the report arrays of a queue item:
// mod_reports are [reason, moderator], user_reports are [reason, count, ...].
type rawReports struct {
	Name        string  `json:"name"`
	ModReports  [][]any `json:"mod_reports"`
	UserReports [][]any `json:"user_reports"`
}

func (r rawReports) lines() (mod, user []platform.ReportLine) {
	for _, row := range r.ModReports {
		if len(row) < 2 {
			continue
		}
		reason, _ := row[0].(string)
		by, _ := row[1].(string)
		mod = append(mod, platform.ReportLine{Reason: reason, Reporter: by})
	}
	for _, row := range r.UserReports {
		if len(row) < 2 {
			continue
		}
		reason, _ := row[0].(string)
		count, _ := row[1].(float64)
		user = append(user, platform.ReportLine{Reason: reason, Count: int(count)})
	}
	return mod, user
}

// decodeThing turns a t3 or t1 child into a Thing.
func decodeThing(c child) (platform.Thing, bool, error) {
	switch thingid.Kind(c.Kind) {
	case thingid.Link:
		var r rawLink
		if err := json.Unmarshal(c.Data, &r); err != nil {
			return platform.Thing{}, false, fmt.Errorf("decode link: %w", err)
		}
		s := r.submission()
		n, _ := thingid.Decode(s.ID)
		return platform.Thing{Kind: thingid.Link, Ordinal: n, Submission: &s}, true, nil
	case thingid.Comment:
		var r rawComment
		if err := json.Unmarshal(c.Data, &r); err != nil {
			return platform.Thing{}, false, fmt.Errorf("decode comment: %w", err)
		}
		cm := r.comment()
		n, _ := thingid.Decode(cm.ID)
		return platform.Thing{Kind: thingid.Comment, Ordinal: n, Comment: &cm}, true, nil
	}
	return platform.Thing{}, false, nil
}

// decodeReport turns a queue item into a Report.
func decodeReport(c child) (platform.Report, bool, error) {
	var r platform.Report
	switch thingid.Kind(c.Kind) {
	case thingid.Link:
		var raw rawLink
		if err := json.Unmarshal(c.Data, &raw); err != nil {
			return r, false, fmt.Errorf("decode report: %w", err)
		}
		r = platform.Report{
			Fullname:  thingid.Link.Prefix() + raw.ID,
			Subreddit: raw.Subreddit,
			Author:    raw.Author,
			Permalink: raw.Permalink,
			Created:   unixTime(raw.CreatedUTC),
		}
		r.ModReports, r.UserReports = raw.lines()
	case thingid.Comment:
		var raw rawComment
		if err := json.Unmarshal(c.Data, &raw); err != nil {
			return r, false, fmt.Errorf("decode report: %w", err)
		}
		r = platform.Report{
			Fullname:  thingid.Comment.Prefix() + raw.ID,
			Subreddit: raw.Subreddit,
			Author:    raw.Author,
			Permalink: raw.Permalink,
			Created:   unixTime(raw.CreatedUTC),
		}
		r.ModReports, r.UserReports = raw.lines()
	default:
		return r, false, nil
	}
	return r, true, nil
}

type rawModAction struct {
	ID              string  `json:"id"`
	Subreddit       string  `json:"subreddit"`
	Mod             string  `json:"mod"`
	Action          string  `json:"action"`
	TargetAuthor    string  `json:"target_author"`
	TargetFullname  string  `json:"target_fullname"`
	TargetPermalink string  `json:"target_permalink"`
	Details         string  `json:"details"`
	Description     string  `json:"description"`
	CreatedUTC      float64 `json:"created_utc"`
}

func (r rawModAction) entry() platform.ModlogEntry {
	return platform.ModlogEntry{
		ID:              r.ID,
		Subreddit:       r.Subreddit,
		Moderator:       r.Mod,
		Action:          r.Action,
		TargetAuthor:    r.TargetAuthor,
		TargetFullname:  r.TargetFullname,
		TargetPermalink: r.TargetPermalink,
		Details:         r.Details,
		Description:     r.Description,
		Created:         unixTime(r.CreatedUTC),
	}
}

type rawMessage struct {
	Name       string  `json:"name"`
	Author     string  `json:"author"`
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
}

type rawWiki struct {
	Data struct {
		ContentMD    string  `json:"content_md"`
		RevisionDate float64 `json:"revision_date"`
		RevisionBy   *struct {
			Data struct {
				Name string `json:"name"`
			} `json:"data"`
		} `json:"revision_by"`
	} `json:"data"`
}
