// Package feeder delivers every object of one kind, in order, without gaps.
//
// The firehose only reports the newest ID. Because IDs are sequential
// base-36 ordinals, everything between the last delivered ordinal and the
// newest one can be fetched in bulk. The feeder tracks three ordinals:
//
//   - pending: highest ordinal claimed by a worker
//   - seen:    highest ordinal observed on the firehose
//   - fed:     highest ordinal delivered, contiguous from the start
//
// Feed claims ranges [pending+1, min(seen, pending+ItemsPerWorker)] for up to
// MaxWorkers concurrent workers. A worker fetches its range, invokes the
// callback for each item in ordinal order and marks itself finished. Only
// the oldest worker may fold into fed, so fed never skips a range that is
// still in flight even when a younger worker finishes first.
package feeder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/docstore"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
	"github.com/gbionescu/reddit-moderator-bot/internal/thingid"
)

// Defaults for Config.
const (
	DefaultMaxWorkers     = 10
	DefaultItemsPerWorker = 99
	DefaultRetries        = 3
	DefaultRetryDelay     = 5 * time.Second
)

// Callback receives each delivered object.
type Callback func(ctx context.Context, thing platform.Thing)

// Worker is a claimed ordinal range.
type Worker struct {
	ID       string `json:"id"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Finished bool   `json:"finished"`
}

// State is the persisted progress of a feeder.
type State struct {
	Init    int64    `json:"init"`
	Pending int64    `json:"pending"`
	Seen    int64    `json:"seen"`
	Fed     int64    `json:"fed"`
	Drift   int64    `json:"drift"`
	Workers []Worker `json:"workers"`
}

// Config sizes a feeder.
type Config struct {
	Kind           thingid.Kind
	MaxWorkers     int
	ItemsPerWorker int64
	// Retries is how many times a failed range fetch is retried before the
	// range is skipped.
	Retries    int
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.ItemsPerWorker <= 0 {
		c.ItemsPerWorker = DefaultItemsPerWorker
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Feeder is the catch-up worker pool for one object kind.
type Feeder struct {
	cfg   Config
	fetch Fetcher
	cb    Callback
	doc   *docstore.Document
	log   *zap.SugaredLogger
	newID func() string

	mu    sync.Mutex
	state State

	feeding atomic.Bool
	wg      sync.WaitGroup
}

// Option configures a Feeder.
type Option func(*Feeder)

// WithStore persists state in doc under the kind prefix, e.g. "t3_".
func WithStore(doc *docstore.Document) Option {
	return func(f *Feeder) { f.doc = doc }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(f *Feeder) { f.log = log }
}

// WithIDGenerator sets the worker ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(f *Feeder) { f.newID = gen }
}

// New returns a feeder. Persisted state is restored from the store; ranges
// that were in flight when the process stopped are claimed again.
func New(cfg Config, fetch Fetcher, cb Callback, opts ...Option) *Feeder {
	cfg.applyDefaults()
	f := &Feeder{
		cfg:   cfg,
		fetch: fetch,
		cb:    cb,
		log:   zap.NewNop().Sugar(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With("kind", string(cfg.Kind))
	f.restore()
	return f
}

func (f *Feeder) key() string {
	return f.cfg.Kind.Prefix()
}

func (f *Feeder) restore() {
	if f.doc == nil {
		return
	}
	var st State
	found, err := f.doc.Decode(f.key(), &st)
	if err != nil {
		f.log.Errorw("could not restore feeder state", "error", err)
		return
	}
	if !found {
		return
	}
	if len(st.Workers) > 0 {
		f.log.Infow("reclaiming unfinished ranges", "fed", st.Fed, "pending", st.Pending, "workers", len(st.Workers))
	}
	st.Workers = nil
	st.Pending = st.Fed
	st.Drift = st.Seen - st.Fed
	f.state = st
}

// Kind returns the object kind the feeder delivers.
func (f *Feeder) Kind() thingid.Kind {
	return f.cfg.Kind
}

// Initialized reports whether a starting point is known.
func (f *Feeder) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Init != 0
}

// SetInitial sets the starting point: nothing at or below id is delivered.
func (f *Feeder) SetInitial(id string) error {
	n, err := thingid.Decode(id)
	if err != nil {
		return fmt.Errorf("set initial: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = State{Init: n, Pending: n, Seen: n, Fed: n}
	f.persistLocked()
	f.log.Infow("feeder initialised", "ordinal", n)
	return nil
}

// Observe records the newest ID seen on the firehose. Older IDs are
// ignored. An uninitialised feeder starts from id.
func (f *Feeder) Observe(id string) error {
	n, err := thingid.Decode(id)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Init == 0 {
		f.state = State{Init: n, Pending: n, Seen: n, Fed: n}
		f.persistLocked()
		return nil
	}
	if n <= f.state.Seen {
		return nil
	}
	f.state.Seen = n
	f.state.Drift = f.state.Seen - f.state.Fed
	f.persistLocked()
	return nil
}

// Feed folds finished workers and claims new ranges until the feeder has
// caught up with seen or MaxWorkers are in flight. A call made while another
// is running returns immediately. It returns the number of workers started.
func (f *Feeder) Feed(ctx context.Context) int {
	if !f.feeding.CompareAndSwap(false, true) {
		return 0
	}
	defer f.feeding.Store(false)

	f.mu.Lock()
	f.foldLocked()
	var claimed []Worker
	for f.state.Seen > f.state.Pending && len(f.state.Workers) < f.cfg.MaxWorkers {
		start := f.state.Pending + 1
		end := min(f.state.Seen, f.state.Pending+f.cfg.ItemsPerWorker)
		w := Worker{ID: f.newID(), Start: start, End: end}
		f.state.Workers = append(f.state.Workers, w)
		f.state.Pending = end
		claimed = append(claimed, w)
	}
	if len(claimed) > 0 {
		f.persistLocked()
	}
	f.wg.Add(len(claimed))
	f.mu.Unlock()

	for _, w := range claimed {
		f.log.Debugw("worker claimed range", "worker", w.ID, "start", w.Start, "end", w.End)
		go f.run(ctx, w)
	}
	return len(claimed)
}

// Wait blocks until every started worker has returned.
func (f *Feeder) Wait() {
	f.wg.Wait()
}

// Snapshot returns a copy of the current state.
func (f *Feeder) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.state
	st.Workers = append([]Worker(nil), f.state.Workers...)
	return st
}

func (f *Feeder) run(ctx context.Context, w Worker) {
	defer f.wg.Done()

	things, err := f.fetchWithRetry(ctx, w)
	if ctx.Err() != nil {
		// Left unfinished; the range is claimed again after a restart.
		return
	}
	if err != nil {
		f.log.Errorw("skipping range after fetch failures", "start", w.Start, "end", w.End, "error", err)
	}

	sort.Slice(things, func(i, j int) bool { return things[i].Ordinal < things[j].Ordinal })
	for _, t := range things {
		if ctx.Err() != nil {
			return
		}
		f.deliver(ctx, t)
	}
	f.finish(w.ID)
}

func (f *Feeder) fetchWithRetry(ctx context.Context, w Worker) ([]platform.Thing, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.cfg.RetryDelay):
			}
		}
		things, err := f.fetch.Fetch(ctx, f.cfg.Kind, w.Start, w.End)
		if err == nil {
			return things, nil
		}
		lastErr = err
		f.log.Warnw("range fetch failed", "start", w.Start, "end", w.End, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (f *Feeder) deliver(ctx context.Context, t platform.Thing) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Errorw("callback panicked", "ordinal", t.Ordinal, "panic", r)
		}
	}()
	f.cb(ctx, t)
}

func (f *Feeder) finish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.state.Workers {
		if f.state.Workers[i].ID == id {
			f.state.Workers[i].Finished = true
			break
		}
	}
	f.foldLocked()
	f.persistLocked()
}

// foldLocked advances fed over the finished prefix of the worker list.
func (f *Feeder) foldLocked() {
	for len(f.state.Workers) > 0 && f.state.Workers[0].Finished {
		f.state.Fed = f.state.Workers[0].End
		f.state.Workers = f.state.Workers[1:]
	}
	f.state.Drift = f.state.Seen - f.state.Fed
}

func (f *Feeder) persistLocked() {
	if f.doc == nil {
		return
	}
	if err := f.doc.Set(f.key(), f.state); err != nil {
		f.log.Errorw("could not persist feeder state", "error", err)
	}
}
