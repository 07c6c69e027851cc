package dispatch

import (
	"fmt"
	"time"

	"github.com/robfig/cron"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// trigger decides when a periodic Func fires.
//
// A first delay fires once when start+first has passed; afterwards the
// period or cron schedule governs, counted from that execution. A plain
// period fires on the first check and then whenever last+period has passed.
// A cron schedule fires when the next activation computed from the previous
// firing (or from start) is reached.
type trigger struct {
	period time.Duration
	first  time.Duration
	sched  cron.Schedule

	start     time.Time
	last      time.Time
	next      time.Time
	firstDone bool
}

func newTrigger(fn *hook.Func, start time.Time) (*trigger, error) {
	t := &trigger{
		period: fn.Period,
		first:  fn.First,
		start:  start,
	}
	if fn.Cron != "" {
		sched, err := cron.ParseStandard(fn.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q for %s: %w", fn.Cron, fn.Name, err)
		}
		t.sched = sched
		t.next = sched.Next(start)
	}
	return t, nil
}

func (t *trigger) due(now time.Time) bool {
	if t.first > 0 && !t.firstDone {
		return t.start.Add(t.first).Before(now)
	}
	if t.sched != nil {
		return !now.Before(t.next)
	}
	if t.period > 0 {
		return t.last.IsZero() || t.last.Add(t.period).Before(now)
	}
	return false
}

func (t *trigger) fired(now time.Time) {
	t.last = now
	if t.first > 0 && !t.firstDone {
		t.firstDone = true
	}
	if t.sched != nil {
		t.next = t.sched.Next(now)
	}
}

// Last returns the last firing time, zero if it never fired.
func (t *trigger) Last() time.Time {
	return t.last
}
