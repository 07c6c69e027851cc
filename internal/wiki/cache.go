// Package wiki watches the wiki pages plugins are configured through and
// maintains each subreddit's control panel.
package wiki

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// ColdLimit is how long a stored copy of a page is served instead of a live
// read.
const ColdLimit = 60 * time.Second

// cacheDoc is the per-subreddit document holding stored copies.
const cacheDoc = "wiki_cache"

type storedPage struct {
	StoreDate    int64  `json:"store_date"`
	Subreddit    string `json:"subreddit"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	Author       string `json:"author"`
	RevisionDate int64  `json:"revision_date"`
}

// Cache serves wiki reads from a stored copy while it is fresher than
// ColdLimit and from the platform otherwise. Every live read refreshes the
// stored copy.
type Cache struct {
	client platform.Client
	docs   *docstore.Store
	now    func() time.Time
	log    *zap.SugaredLogger
}

// NewCache returns a cache over client that stores copies in docs.
func NewCache(client platform.Client, docs *docstore.Store, now func() time.Time, log *zap.SugaredLogger) *Cache {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cache{client: client, docs: docs, now: now, log: log}
}

func (c *Cache) doc(subreddit string) (*docstore.Document, error) {
	return c.docs.Document(strings.ToLower(subreddit), cacheDoc)
}

// Page returns a wiki page. forceLive bypasses the stored copy.
func (c *Cache) Page(ctx context.Context, subreddit, name string, forceLive bool) (platform.WikiPage, error) {
	doc, err := c.doc(subreddit)
	if err != nil {
		return platform.WikiPage{}, fmt.Errorf("wiki cache %s: %w", subreddit, err)
	}

	if !forceLive {
		var st storedPage
		found, err := doc.Decode(name, &st)
		if err != nil {
			c.log.Warnw("discarding unreadable cached page", "subreddit", subreddit, "page", name, "error", err)
		}
		if found && err == nil && c.now().Sub(time.Unix(st.StoreDate, 0)) < ColdLimit {
			c.log.Debugw("serving stored page", "subreddit", subreddit, "page", name)
			return st.page(), nil
		}
	}

	c.log.Debugw("reading live page", "subreddit", subreddit, "page", name)
	page, err := c.client.Wiki(ctx, subreddit, name)
	if err != nil {
		return platform.WikiPage{}, err
	}
	c.remember(doc, page)
	return page, nil
}

// Edit writes a page and updates the stored copy.
func (c *Cache) Edit(ctx context.Context, subreddit, name, content, reason string) error {
	if err := c.client.EditWiki(ctx, subreddit, name, content, reason); err != nil {
		return err
	}
	doc, err := c.doc(subreddit)
	if err != nil {
		return fmt.Errorf("wiki cache %s: %w", subreddit, err)
	}
	// The new revision date is unknown until the next live read.
	if err := doc.Delete(name); err != nil {
		c.log.Warnw("could not drop cached page", "subreddit", subreddit, "page", name, "error", err)
	}
	return nil
}

func (c *Cache) remember(doc *docstore.Document, page platform.WikiPage) {
	st := storedPage{
		StoreDate: c.now().Unix(),
		Subreddit: page.Subreddit,
		Name:      page.Name,
		Content:   page.Content,
		Author:    page.Author,
	}
	if !page.RevisionDate.IsZero() {
		st.RevisionDate = page.RevisionDate.Unix()
	}
	if err := doc.Set(page.Name, st); err != nil {
		c.log.Warnw("could not store page copy", "subreddit", page.Subreddit, "page", page.Name, "error", err)
	}
}

func (s storedPage) page() platform.WikiPage {
	p := platform.WikiPage{
		Subreddit: s.Subreddit,
		Name:      s.Name,
		Content:   s.Content,
		Author:    s.Author,
	}
	if s.RevisionDate != 0 {
		p.RevisionDate = time.Unix(s.RevisionDate, 0).UTC()
	}
	return p
}
