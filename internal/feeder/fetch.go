package feeder

import (
	"context"
	"fmt"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
)

// Fetcher bulk-fetches the objects of kind with ordinals start..end
// inclusive. Missing objects are omitted.
type Fetcher interface {
	Fetch(ctx context.Context, kind thingid.Kind, start, end int64) ([]platform.Thing, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, kind thingid.Kind, start, end int64) ([]platform.Thing, error)

func (fn FetchFunc) Fetch(ctx context.Context, kind thingid.Kind, start, end int64) ([]platform.Thing, error) {
	return fn(ctx, kind, start, end)
}

// maxInfoBatch is the largest fullname list the info endpoint accepts.
const maxInfoBatch = 100

// InfoFetcher fetches ranges through the platform's bulk info call.
type InfoFetcher struct {
	Client platform.Client
}

func (f InfoFetcher) Fetch(ctx context.Context, kind thingid.Kind, start, end int64) ([]platform.Thing, error) {
	names := thingid.Range(kind, start, end)
	var out []platform.Thing
	for len(names) > 0 {
		batch := names[:min(len(names), maxInfoBatch)]
		names = names[len(batch):]

		things, err := f.Client.Info(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("fetch %s%s..%s: %w", kind.Prefix(), thingid.Encode(start), thingid.Encode(end), err)
		}
		for _, t := range things {
			if t.Ordinal == 0 {
				t.Ordinal = ordinalOf(t)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func ordinalOf(t platform.Thing) int64 {
	var id string
	switch {
	case t.Submission != nil:
		id = t.Submission.ID
	case t.Comment != nil:
		id = t.Comment.ID
	}
	n, _ := thingid.Decode(id)
	return n
}
