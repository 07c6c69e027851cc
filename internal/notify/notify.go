// Package notify mirrors bot events to outbound sinks: chat webhooks and a
// Redis channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event kinds.
const (
	KindSubmission = "submission"
	KindComment    = "comment"
	KindModlog     = "modlog"
	KindReport     = "report"
)

// Event is a summary of something the bot saw.
type Event struct {
	Kind      string    `json:"kind"`
	Subreddit string    `json:"subreddit"`
	Author    string    `json:"author"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body,omitempty"`
	URL       string    `json:"url,omitempty"`
	Action    string    `json:"action,omitempty"`
	Time      time.Time `json:"time"`
}

// Text renders the event as a single chat line.
func (e Event) Text() string {
	switch e.Kind {
	case KindSubmission:
		return fmt.Sprintf("New submission by /u/%s in /r/%s: %s %s", e.Author, e.Subreddit, e.Title, e.URL)
	case KindComment:
		return fmt.Sprintf("New comment by /u/%s in /r/%s: %s", e.Author, e.Subreddit, e.URL)
	case KindModlog:
		return fmt.Sprintf("/u/%s: %s %s %s", e.Author, e.Action, e.Body, e.URL)
	case KindReport:
		return fmt.Sprintf("Report in /r/%s: %s %s", e.Subreddit, e.Body, e.URL)
	}
	return fmt.Sprintf("%s in /r/%s by /u/%s", e.Kind, e.Subreddit, e.Author)
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter passes only the listed kinds to Sink.
type Filter struct {
	Sink  Sink
	Kinds []string
}

func (f Filter) Notify(ctx context.Context, ev Event) error {
	for _, k := range f.Kinds {
		if k == ev.Kind {
			return f.Sink.Notify(ctx, ev)
		}
	}
	return nil
}
